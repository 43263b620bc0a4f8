package config

import (
	"fmt"
	"math/big"
	"strings"

	nativecommon "custodychain/native/common"
)

// Runtime parses the configured quota into the limits enforced by the
// processor.
func (q Quota) Runtime() (nativecommon.Quota, error) {
	out := nativecommon.Quota{
		MaxCallsPerWindow: q.MaxCallsPerWindow,
		WindowSeconds:     q.WindowSeconds,
	}
	value, err := parseUintAmount(q.MaxValuePerWindow)
	if err != nil {
		return out, fmt.Errorf("invalid quota.MaxValuePerWindow: %w", err)
	}
	out.MaxValuePerWindow = value
	return out, nil
}

func parseUintAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}
