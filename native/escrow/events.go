package escrow

import (
	"math/big"

	"custodychain/core/types"
	"custodychain/crypto"
)

const (
	EventTypeCreated    = "escrow.created"
	EventTypeSellerPaid = "escrow.seller_paid"
	EventTypeBuyerPaid  = "escrow.buyer_paid"
	EventTypeDealSealed = "escrow.deal_sealed"
	EventTypeDelivered  = "escrow.delivered"
	EventTypeWithdrawn  = "escrow.withdrawn"
)

// NewCreatedEvent returns the canonical event payload for a newly deployed
// agreement.
func NewCreatedEvent(a *Agreement) *types.Event { return newAgreementEvent(EventTypeCreated, a) }

// NewSellerPaidEvent is emitted when the seller's deposit reaches the price.
func NewSellerPaidEvent(a *Agreement) *types.Event {
	return newAgreementEvent(EventTypeSellerPaid, a)
}

// NewBuyerPaidEvent is emitted when the buyer's deposit reaches twice the
// price.
func NewBuyerPaidEvent(a *Agreement) *types.Event {
	return newAgreementEvent(EventTypeBuyerPaid, a)
}

func NewDealSealedEvent(a *Agreement) *types.Event { return newAgreementEvent(EventTypeDealSealed, a) }

func NewDeliveredEvent(a *Agreement) *types.Event { return newAgreementEvent(EventTypeDelivered, a) }

// NewWithdrawnEvent records a release of custody to one of the parties.
func NewWithdrawnEvent(a *Agreement, party [20]byte, role Role, amount *big.Int) *types.Event {
	evt := newAgreementEvent(EventTypeWithdrawn, a)
	evt.Attributes["party"] = crypto.FromArray(party).String()
	evt.Attributes["role"] = role.String()
	evt.Attributes["amount"] = cloneBigInt(amount).String()
	return evt
}

func newAgreementEvent(eventType string, a *Agreement) *types.Event {
	attrs := map[string]string{}
	if a != nil {
		attrs["contract"] = crypto.FromArray(a.Address).String()
		attrs["seller"] = crypto.FromArray(a.Seller).String()
		attrs["buyer"] = crypto.FromArray(a.Buyer).String()
		attrs["price"] = cloneBigInt(a.Price).String()
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
