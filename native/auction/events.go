package auction

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"custodychain/core/types"
	"custodychain/crypto"
)

const (
	EventTypeCreated      = "auction.created"
	EventTypeNewBidAdded  = "auction.new_bid_added"
	EventTypeNewHigherBid = "auction.new_higher_bid"
	EventTypeRefunded     = "auction.refunded"
	EventTypeEnded        = "auction.ended"
)

// NewCreatedEvent returns the canonical payload for a newly deployed auction.
func NewCreatedEvent(a *Auction) *types.Event {
	evt := newAuctionEvent(EventTypeCreated, a)
	evt.Attributes["beneficiary"] = crypto.FromArray(a.Beneficiary).String()
	evt.Attributes["bidDeadline"] = strconv.FormatUint(a.BidDeadline, 10)
	evt.Attributes["revealDeadline"] = strconv.FormatUint(a.RevealDeadline, 10)
	return evt
}

// NewBidAddedEvent is emitted when a sealed commitment is recorded. The
// commitment itself is public; the amount stays hidden until reveal.
func NewBidAddedEvent(a *Auction, bidder [20]byte, commitment [32]byte) *types.Event {
	evt := newAuctionEvent(EventTypeNewBidAdded, a)
	evt.Attributes["bidder"] = crypto.FromArray(bidder).String()
	evt.Attributes["commitment"] = hex.EncodeToString(commitment[:])
	return evt
}

func NewHigherBidEvent(a *Auction, bidder [20]byte, amount *big.Int) *types.Event {
	evt := newAuctionEvent(EventTypeNewHigherBid, a)
	evt.Attributes["bidder"] = crypto.FromArray(bidder).String()
	evt.Attributes["amount"] = cloneBigInt(amount).String()
	return evt
}

// NewRefundedEvent records the return of an outbid leader's custody.
func NewRefundedEvent(a *Auction, bidder [20]byte, amount *big.Int) *types.Event {
	evt := newAuctionEvent(EventTypeRefunded, a)
	evt.Attributes["bidder"] = crypto.FromArray(bidder).String()
	evt.Attributes["amount"] = cloneBigInt(amount).String()
	return evt
}

// NewEndedEvent reports the settled auction. Winner is empty when nobody
// revealed a bid.
func NewEndedEvent(a *Auction) *types.Event {
	evt := newAuctionEvent(EventTypeEnded, a)
	evt.Attributes["beneficiary"] = crypto.FromArray(a.Beneficiary).String()
	evt.Attributes["amount"] = cloneBigInt(a.HighestBid).String()
	if a.HasLeader {
		evt.Attributes["winner"] = crypto.FromArray(a.HighestBidder).String()
	} else {
		evt.Attributes["winner"] = ""
	}
	return evt
}

func newAuctionEvent(eventType string, a *Auction) *types.Event {
	attrs := map[string]string{}
	if a != nil {
		attrs["contract"] = crypto.FromArray(a.Address).String()
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
