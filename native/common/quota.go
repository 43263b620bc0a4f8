package common

import (
	"errors"
	"math"
	"math/big"
)

var (
	ErrQuotaCallsExceeded    = errors.New("quota calls exceeded")
	ErrQuotaValueCapExceeded = errors.New("quota value cap exceeded")
	ErrQuotaCounterOverflow  = errors.New("quota counter overflow")
)

// QuotaNow captures the current quota usage counters for a caller.
type QuotaNow struct {
	Calls     uint32
	ValueUsed *big.Int
	WindowID  uint64
}

// Quota defines the admission limits enforced per caller and window. Zero
// values disable the corresponding limit.
type Quota struct {
	MaxCallsPerWindow uint32
	MaxValuePerWindow *big.Int
	WindowSeconds     uint32
}

// Enabled reports whether any limit is configured.
func (q Quota) Enabled() bool {
	return q.MaxCallsPerWindow > 0 || (q.MaxValuePerWindow != nil && q.MaxValuePerWindow.Sign() > 0)
}

// WindowAt returns the window identifier for the supplied unix timestamp.
// A zero WindowSeconds places every call in window 0.
func (q Quota) WindowAt(now int64) uint64 {
	if q.WindowSeconds == 0 || now <= 0 {
		return 0
	}
	return uint64(now) / uint64(q.WindowSeconds)
}

// CheckQuota verifies whether the additional calls and attached value fit
// within the configured quota. The returned QuotaNow reflects the updated
// counters when the quota is not exceeded; on denial prev is returned as-is.
func CheckQuota(q Quota, nowWindow uint64, prev QuotaNow, addCalls uint32, addValue *big.Int) (QuotaNow, error) {
	next := QuotaNow{Calls: prev.Calls, ValueUsed: big.NewInt(0), WindowID: prev.WindowID}
	if prev.ValueUsed != nil {
		next.ValueUsed.Set(prev.ValueUsed)
	}
	if prev.WindowID != nowWindow {
		next = QuotaNow{ValueUsed: big.NewInt(0), WindowID: nowWindow}
	}

	if addCalls > 0 {
		if next.Calls > math.MaxUint32-addCalls {
			return prev, ErrQuotaCounterOverflow
		}
		next.Calls += addCalls
	}
	if q.MaxCallsPerWindow > 0 && next.Calls > q.MaxCallsPerWindow {
		return prev, ErrQuotaCallsExceeded
	}

	if addValue != nil && addValue.Sign() > 0 {
		next.ValueUsed.Add(next.ValueUsed, addValue)
	}
	if q.MaxValuePerWindow != nil && q.MaxValuePerWindow.Sign() > 0 && next.ValueUsed.Cmp(q.MaxValuePerWindow) > 0 {
		return prev, ErrQuotaValueCapExceeded
	}

	return next, nil
}
