package escrow_test

import (
	"bytes"
	"math/big"
	"reflect"
	"testing"

	"custodychain/crypto"
	escrowpkg "custodychain/native/escrow"
)

func TestEscrowEventsHaveDeterministicPayload(t *testing.T) {
	var contract, seller, buyer [20]byte
	copy(contract[:], bytes.Repeat([]byte{0xAA}, 20))
	copy(seller[:], bytes.Repeat([]byte{0xBB}, 20))
	copy(buyer[:], bytes.Repeat([]byte{0xCC}, 20))

	agreement := &escrowpkg.Agreement{
		Address: contract,
		Seller:  seller,
		Buyer:   buyer,
		Price:   big.NewInt(20),
	}
	expected := map[string]string{
		"contract": crypto.FromArray(contract).String(),
		"seller":   crypto.FromArray(seller).String(),
		"buyer":    crypto.FromArray(buyer).String(),
		"price":    "20",
	}

	cases := map[string]func(*escrowpkg.Agreement) string{
		escrowpkg.EventTypeCreated:    func(a *escrowpkg.Agreement) string { return escrowpkg.NewCreatedEvent(a).Type },
		escrowpkg.EventTypeSellerPaid: func(a *escrowpkg.Agreement) string { return escrowpkg.NewSellerPaidEvent(a).Type },
		escrowpkg.EventTypeBuyerPaid:  func(a *escrowpkg.Agreement) string { return escrowpkg.NewBuyerPaidEvent(a).Type },
		escrowpkg.EventTypeDealSealed: func(a *escrowpkg.Agreement) string { return escrowpkg.NewDealSealedEvent(a).Type },
		escrowpkg.EventTypeDelivered:  func(a *escrowpkg.Agreement) string { return escrowpkg.NewDeliveredEvent(a).Type },
	}
	for want, build := range cases {
		if got := build(agreement); got != want {
			t.Fatalf("unexpected event type: got %s want %s", got, want)
		}
	}

	evt := escrowpkg.NewDeliveredEvent(agreement)
	if !reflect.DeepEqual(evt.Attributes, expected) {
		t.Fatalf("unexpected attributes: %+v", evt.Attributes)
	}

	withdrawn := escrowpkg.NewWithdrawnEvent(agreement, seller, escrowpkg.RoleSeller, big.NewInt(40))
	if withdrawn.Attributes["amount"] != "40" || withdrawn.Attributes["role"] != "seller" {
		t.Fatalf("unexpected withdrawal attributes: %+v", withdrawn.Attributes)
	}
	if withdrawn.Attributes["party"] != expected["seller"] {
		t.Fatalf("unexpected withdrawal party: %s", withdrawn.Attributes["party"])
	}
}
