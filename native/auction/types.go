package auction

import "math/big"

// Auction is the single record held by a deployed sealed-bid auction.
type Auction struct {
	Address        [20]byte
	Beneficiary    [20]byte
	BidDeadline    uint64
	RevealDeadline uint64
	Ended          bool
	HasLeader      bool
	HighestBidder  [20]byte
	HighestBid     *big.Int
	CreatedAt      uint64
	Commitments    uint64
}

// Clone returns a deep copy of the auction record.
func (a *Auction) Clone() *Auction {
	if a == nil {
		return nil
	}
	clone := *a
	clone.HighestBid = cloneBigInt(a.HighestBid)
	return &clone
}

// Phase names the window an auction is in at the supplied time.
type Phase string

const (
	PhaseBidding   Phase = "bidding"
	PhaseRevealing Phase = "revealing"
	PhaseClosed    Phase = "closed"
	PhaseEnded     Phase = "ended"
)

// PhaseAt reports the auction phase at now. The instant between the bid
// deadline and the start of the reveal window (now == BidDeadline) accepts
// neither bids nor reveals and is reported as revealing.
func (a *Auction) PhaseAt(now int64) Phase {
	switch {
	case a.Ended:
		return PhaseEnded
	case now < int64(a.BidDeadline):
		return PhaseBidding
	case now < int64(a.RevealDeadline):
		return PhaseRevealing
	default:
		return PhaseClosed
	}
}

// Commitment is the sealed bid a bidder records during the bidding window.
type Commitment struct {
	Hash        [32]byte
	CommittedAt uint64
	Revealed    bool
}

// BidderView combines a bidder's commitment with the value held in custody for
// their revealed bid.
type BidderView struct {
	Bidder     [20]byte
	Commitment *Commitment
	Custody    *big.Int
	Leading    bool
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
