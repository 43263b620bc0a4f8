package events

import (
	"math/big"

	"custodychain/core/types"
	"custodychain/crypto"
)

const (
	// TypeTransfer is emitted for plain value transfers between accounts.
	TypeTransfer = "ledger.transfer"
)

type Transfer struct {
	From   [20]byte
	To     [20]byte
	Amount *big.Int
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	return &types.Event{
		Type: TypeTransfer,
		Attributes: map[string]string{
			"from":   crypto.FromArray(e.From).String(),
			"to":     crypto.FromArray(e.To).String(),
			"amount": FormatAmount(e.Amount),
		},
	}
}

// FormatAmount renders an amount in base units, treating nil as zero.
func FormatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
