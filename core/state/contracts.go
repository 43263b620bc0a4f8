package state

import (
	"fmt"
)

// Contract kinds recorded in the registry.
const (
	ContractKindEscrow  = "escrow"
	ContractKindAuction = "auction"
)

// ContractInfo describes a deployed protocol instance.
type ContractInfo struct {
	Address   [20]byte
	Kind      string
	Deployer  [20]byte
	CreatedAt uint64
}

// ContractPut registers a deployed instance. Addresses are derived from the
// deployer and its nonce, so a collision indicates a bug and is reported.
func (m *Manager) ContractPut(info *ContractInfo) error {
	if info == nil {
		return fmt.Errorf("nil contract info")
	}
	if info.Kind != ContractKindEscrow && info.Kind != ContractKindAuction {
		return fmt.Errorf("contract: unknown kind %q", info.Kind)
	}
	if ok, err := m.KVGet(contractKey(info.Address), nil); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("contract: %x already registered", info.Address)
	}
	if err := m.KVPut(contractKey(info.Address), info); err != nil {
		return err
	}
	return m.KVAppend(contractIndexKey, info.Address[:])
}

// ContractGet returns the registry entry for addr.
func (m *Manager) ContractGet(addr [20]byte) (*ContractInfo, bool, error) {
	info := new(ContractInfo)
	ok, err := m.KVGet(contractKey(addr), info)
	if err != nil || !ok {
		return nil, ok, err
	}
	return info, true, nil
}

// ContractKind returns the kind of the instance at addr, or "" when addr is
// not a registered contract.
func (m *Manager) ContractKind(addr [20]byte) (string, error) {
	info, ok, err := m.ContractGet(addr)
	if err != nil || !ok {
		return "", err
	}
	return info.Kind, nil
}

// Contracts lists every registered instance address in deployment order.
func (m *Manager) Contracts() ([][20]byte, error) {
	var raw [][]byte
	if err := m.KVGetList(contractIndexKey, &raw); err != nil {
		return nil, err
	}
	out := make([][20]byte, 0, len(raw))
	for _, entry := range raw {
		var addr [20]byte
		copy(addr[:], entry)
		out = append(out, addr)
	}
	return out, nil
}
