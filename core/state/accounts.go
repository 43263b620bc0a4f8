package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"custodychain/core/types"
)

var (
	accountPrefix = []byte("account/")

	ErrInsufficientBalance = errors.New("state: insufficient balance")
	ErrNegativeAmount      = errors.New("state: negative amount")
	ErrBalanceOverflow     = errors.New("state: balance overflow")
)

func accountStateKey(addr []byte) []byte {
	return ethcrypto.Keccak256(prefixed(accountPrefix, addr))
}

// GetAccount loads the account stored under addr. Unknown addresses yield a
// zero-valued account.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	if len(addr) == 0 {
		return nil, fmt.Errorf("address must not be empty")
	}
	stateAcc, err := m.loadStateAccount(addr)
	if err != nil {
		return nil, err
	}
	account := &types.Account{Balance: big.NewInt(0)}
	if stateAcc != nil {
		account.Nonce = stateAcc.Nonce
		if stateAcc.Balance != nil {
			account.Balance = stateAcc.Balance.ToBig()
		}
	}
	return account, nil
}

// PutAccount persists the provided account state under the supplied address.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if len(addr) == 0 {
		return fmt.Errorf("address must not be empty")
	}
	if account == nil {
		return fmt.Errorf("nil account")
	}
	balance := account.Balance
	if balance == nil {
		balance = big.NewInt(0)
	}
	if balance.Sign() < 0 {
		return ErrNegativeAmount
	}
	value, overflow := uint256.FromBig(balance)
	if overflow {
		return ErrBalanceOverflow
	}
	stateAcc := &gethtypes.StateAccount{
		Nonce:    account.Nonce,
		Balance:  value,
		Root:     gethtypes.EmptyRootHash,
		CodeHash: gethtypes.EmptyCodeHash.Bytes(),
	}
	encoded, err := rlp.EncodeToBytes(stateAcc)
	if err != nil {
		return err
	}
	return m.trie.Update(accountStateKey(addr), encoded)
}

func (m *Manager) loadStateAccount(addr []byte) (*gethtypes.StateAccount, error) {
	data, err := m.trie.Get(accountStateKey(addr))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	stateAcc := new(gethtypes.StateAccount)
	if err := rlp.DecodeBytes(data, stateAcc); err != nil {
		return nil, err
	}
	if stateAcc.Root == (common.Hash{}) {
		stateAcc.Root = gethtypes.EmptyRootHash
	}
	return stateAcc, nil
}

// Balance returns the spendable balance of addr.
func (m *Manager) Balance(addr [20]byte) (*big.Int, error) {
	account, err := m.GetAccount(addr[:])
	if err != nil {
		return nil, err
	}
	return account.Balance, nil
}

// Nonce returns the next expected call nonce of addr.
func (m *Manager) Nonce(addr [20]byte) (uint64, error) {
	account, err := m.GetAccount(addr[:])
	if err != nil {
		return 0, err
	}
	return account.Nonce, nil
}

// SetNonce overwrites the nonce of addr while keeping its balance.
func (m *Manager) SetNonce(addr [20]byte, nonce uint64) error {
	account, err := m.GetAccount(addr[:])
	if err != nil {
		return err
	}
	account.Nonce = nonce
	return m.PutAccount(addr[:], account)
}

// Credit adds amount to the balance of addr. It is used for genesis
// allocations; value moves between accounts go through Transfer.
func (m *Manager) Credit(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	account, err := m.GetAccount(addr[:])
	if err != nil {
		return err
	}
	account.Balance = new(big.Int).Add(account.Balance, amount)
	return m.PutAccount(addr[:], account)
}

// Transfer atomically moves amount from one account to another. Either both
// balances change or, on error, neither does.
func (m *Manager) Transfer(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	if from == to {
		return nil
	}
	fromAcc, err := m.GetAccount(from[:])
	if err != nil {
		return err
	}
	if fromAcc.Balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, fromAcc.Balance, amount)
	}
	toAcc, err := m.GetAccount(to[:])
	if err != nil {
		return err
	}
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amount)
	if _, overflow := uint256.FromBig(toAcc.Balance); overflow {
		return ErrBalanceOverflow
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amount)
	if err := m.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return m.PutAccount(to[:], toAcc)
}
