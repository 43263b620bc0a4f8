package types

import "math/big"

// Account is the ledger view of an address: the admission nonce and the
// spendable balance. Protocol instances own accounts too; their balance is the
// value held in custody.
type Account struct {
	Nonce   uint64   `json:"nonce"`
	Balance *big.Int `json:"balance"`
}

// Copy returns a deep copy of the account.
func (a *Account) Copy() *Account {
	if a == nil {
		return &Account{Balance: big.NewInt(0)}
	}
	out := &Account{Nonce: a.Nonce, Balance: big.NewInt(0)}
	if a.Balance != nil {
		out.Balance.Set(a.Balance)
	}
	return out
}
