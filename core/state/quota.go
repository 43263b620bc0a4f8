package state

import (
	"math/big"

	nativecommon "custodychain/native/common"
)

type quotaRecord struct {
	Calls     uint32
	ValueUsed *big.Int
	WindowID  uint64
}

// QuotaGet returns the admission counters recorded for addr.
func (m *Manager) QuotaGet(addr [20]byte) (nativecommon.QuotaNow, error) {
	record := new(quotaRecord)
	ok, err := m.KVGet(quotaKey(addr), record)
	if err != nil {
		return nativecommon.QuotaNow{}, err
	}
	if !ok {
		return nativecommon.QuotaNow{ValueUsed: big.NewInt(0)}, nil
	}
	if record.ValueUsed == nil {
		record.ValueUsed = big.NewInt(0)
	}
	return nativecommon.QuotaNow{Calls: record.Calls, ValueUsed: record.ValueUsed, WindowID: record.WindowID}, nil
}

// QuotaPut persists the admission counters for addr.
func (m *Manager) QuotaPut(addr [20]byte, now nativecommon.QuotaNow) error {
	value := now.ValueUsed
	if value == nil {
		value = big.NewInt(0)
	}
	return m.KVPut(quotaKey(addr), &quotaRecord{Calls: now.Calls, ValueUsed: value, WindowID: now.WindowID})
}
