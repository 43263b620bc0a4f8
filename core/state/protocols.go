package state

import (
	"math/big"

	"custodychain/native/auction"
	"custodychain/native/escrow"
)

// ExchangeGet loads the escrow agreement deployed at addr.
func (m *Manager) ExchangeGet(addr [20]byte) (*escrow.Agreement, bool, error) {
	agreement := new(escrow.Agreement)
	ok, err := m.KVGet(escrowKey(addr), agreement)
	if err != nil || !ok {
		return nil, ok, err
	}
	normalizeAgreement(agreement)
	return agreement, true, nil
}

// ExchangePut persists an escrow agreement under its instance address.
func (m *Manager) ExchangePut(agreement *escrow.Agreement) error {
	record := agreement.Clone()
	normalizeAgreement(record)
	return m.KVPut(escrowKey(record.Address), record)
}

func normalizeAgreement(a *escrow.Agreement) {
	if a.Price == nil {
		a.Price = big.NewInt(0)
	}
	if a.SellerSlot == nil {
		a.SellerSlot = big.NewInt(0)
	}
	if a.BuyerSlot == nil {
		a.BuyerSlot = big.NewInt(0)
	}
}

// AuctionGet loads the auction deployed at addr.
func (m *Manager) AuctionGet(addr [20]byte) (*auction.Auction, bool, error) {
	record := new(auction.Auction)
	ok, err := m.KVGet(auctionKey(addr), record)
	if err != nil || !ok {
		return nil, ok, err
	}
	if record.HighestBid == nil {
		record.HighestBid = big.NewInt(0)
	}
	return record, true, nil
}

// AuctionPut persists an auction under its instance address.
func (m *Manager) AuctionPut(record *auction.Auction) error {
	clone := record.Clone()
	return m.KVPut(auctionKey(clone.Address), clone)
}

// AuctionCommitmentGet loads the sealed bid recorded by bidder.
func (m *Manager) AuctionCommitmentGet(addr, bidder [20]byte) (*auction.Commitment, bool, error) {
	commitment := new(auction.Commitment)
	ok, err := m.KVGet(commitmentKey(addr, bidder), commitment)
	if err != nil || !ok {
		return nil, ok, err
	}
	return commitment, true, nil
}

// AuctionCommitmentPut stores the bidder's commitment and indexes the bidder.
func (m *Manager) AuctionCommitmentPut(addr, bidder [20]byte, commitment *auction.Commitment) error {
	if err := m.KVPut(commitmentKey(addr, bidder), commitment); err != nil {
		return err
	}
	return m.KVAppend(biddersKey(addr), bidder[:])
}

// AuctionCustodyGet returns the value held for bidder's revealed bid.
func (m *Manager) AuctionCustodyGet(addr, bidder [20]byte) (*big.Int, error) {
	amount := new(big.Int)
	ok, err := m.KVGet(custodyKey(addr, bidder), amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

// AuctionCustodyPut records the value held for bidder. A zero amount clears
// the entry.
func (m *Manager) AuctionCustodyPut(addr, bidder [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return m.KVDelete(custodyKey(addr, bidder))
	}
	return m.KVPut(custodyKey(addr, bidder), amount)
}

// AuctionBidders lists every bidder that recorded a commitment, in order.
func (m *Manager) AuctionBidders(addr [20]byte) ([][20]byte, error) {
	var raw [][]byte
	if err := m.KVGetList(biddersKey(addr), &raw); err != nil {
		return nil, err
	}
	out := make([][20]byte, 0, len(raw))
	for _, entry := range raw {
		var bidder [20]byte
		copy(bidder[:], entry)
		out = append(out, bidder)
	}
	return out, nil
}
