package main

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// parseAmount accepts base-unit integers with optional underscores, decimal
// points and scientific notation ("2.5e18") as long as the result is a whole
// positive number.
func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(value), "_", "")
	if trimmed == "" {
		return nil, fmt.Errorf("amount is required")
	}
	var exponent int
	base := trimmed
	if idx := strings.IndexAny(trimmed, "eE"); idx != -1 {
		base = trimmed[:idx]
		expValue, err := strconv.ParseInt(strings.TrimSpace(trimmed[idx+1:]), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid scientific notation")
		}
		exponent = int(expValue)
	}
	base = strings.TrimSpace(strings.TrimPrefix(base, "+"))
	if strings.HasPrefix(base, "-") {
		return nil, fmt.Errorf("amount must be positive")
	}
	parts := strings.Split(base, ".")
	if len(parts) > 2 {
		return nil, fmt.Errorf("invalid amount format")
	}
	fractional := ""
	if len(parts) == 2 {
		fractional = parts[1]
	}
	digits := parts[0] + fractional
	if digits == "" || !isDigits(digits) {
		return nil, fmt.Errorf("invalid amount format")
	}
	digits = strings.TrimLeft(digits, "0")
	fracLen := len(fractional)
	for fracLen > 0 && len(digits) > 0 && digits[len(digits)-1] == '0' {
		digits = digits[:len(digits)-1]
		fracLen--
	}
	shift := exponent - fracLen
	if digits == "" {
		return nil, fmt.Errorf("amount must be positive")
	}
	if shift < 0 {
		return nil, fmt.Errorf("amount must be an integer")
	}
	out, ok := new(big.Int).SetString(digits+strings.Repeat("0", shift), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount format")
	}
	return out, nil
}

func isDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// parseDeadline resolves unix seconds, an RFC3339 timestamp or a "+duration"
// offset from now. Durations accept a "d" suffix for days.
func parseDeadline(name, value string, now int64) (uint64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, fmt.Errorf("--%s is required", name)
	}
	if strings.HasPrefix(trimmed, "+") {
		dur, err := parseDuration(strings.TrimSpace(trimmed[1:]))
		if err != nil {
			return 0, fmt.Errorf("--%s: %v", name, err)
		}
		if dur < time.Second {
			return 0, fmt.Errorf("--%s: duration must be at least one second", name)
		}
		return uint64(now + int64(dur/time.Second)), nil
	}
	if isDigits(trimmed) {
		ts, err := strconv.ParseUint(trimmed, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("--%s: %v", name, err)
		}
		return ts, nil
	}
	ts, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return 0, fmt.Errorf("--%s: expected unix seconds, RFC3339 or +duration", name)
	}
	if ts.Unix() < 0 {
		return 0, fmt.Errorf("--%s: timestamp before 1970", name)
	}
	return uint64(ts.Unix()), nil
}

func parseDuration(value string) (time.Duration, error) {
	if value == "" {
		return 0, fmt.Errorf("invalid duration")
	}
	if strings.HasSuffix(value, "d") || strings.HasSuffix(value, "D") {
		days, err := strconv.ParseFloat(value[:len(value)-1], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration")
		}
		return time.Duration(days * 24 * float64(time.Hour)), nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration")
	}
	return dur, nil
}
