package auction

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"custodychain/core/events"
	"custodychain/core/types"
	nativecommon "custodychain/native/common"
)

var (
	errNilState = errors.New("auction engine: state not configured")

	ErrAuctionNotFound    = fmt.Errorf("%w: auction: not found", nativecommon.ErrRejected)
	ErrAuctionExists      = fmt.Errorf("%w: auction: already exists", nativecommon.ErrRejected)
	ErrInvalidBeneficiary = fmt.Errorf("%w: auction: beneficiary must be non-zero and not the auction itself", nativecommon.ErrRejected)
	ErrInvalidDeadlines   = fmt.Errorf("%w: auction: deadlines must satisfy now < bid deadline < reveal deadline", nativecommon.ErrRejected)
	ErrBiddingClosed      = fmt.Errorf("%w: auction: bidding closed", nativecommon.ErrRejected)
	ErrDuplicateBid       = fmt.Errorf("%w: auction: commitment already recorded", nativecommon.ErrRejected)
	ErrEmptyCommitment    = fmt.Errorf("%w: auction: commitment must be non-zero", nativecommon.ErrRejected)
	ErrRevealNotOpen      = fmt.Errorf("%w: auction: reveal window not open", nativecommon.ErrRejected)
	ErrRevealClosed       = fmt.Errorf("%w: auction: reveal window closed", nativecommon.ErrRejected)
	ErrNoCommitment       = fmt.Errorf("%w: auction: no commitment for caller", nativecommon.ErrRejected)
	ErrAlreadyRevealed    = fmt.Errorf("%w: auction: bid already revealed", nativecommon.ErrRejected)
	ErrFalseReveal        = fmt.Errorf("%w: auction: reveal does not match commitment", nativecommon.ErrRejected)
	ErrValueMismatch      = fmt.Errorf("%w: auction: attached value does not match bid", nativecommon.ErrRejected)
	ErrBidNotHigher       = fmt.Errorf("%w: auction: bid does not exceed highest bid", nativecommon.ErrRejected)
	ErrTooEarly           = fmt.Errorf("%w: auction: reveal window still open", nativecommon.ErrRejected)
	ErrAlreadyEnded       = fmt.Errorf("%w: auction: already ended", nativecommon.ErrRejected)
)

const moduleName = nativecommon.ModuleAuction

type engineState interface {
	AuctionGet(addr [20]byte) (*Auction, bool, error)
	AuctionPut(*Auction) error
	AuctionCommitmentGet(addr, bidder [20]byte) (*Commitment, bool, error)
	AuctionCommitmentPut(addr, bidder [20]byte, commitment *Commitment) error
	AuctionCustodyGet(addr, bidder [20]byte) (*big.Int, error)
	AuctionCustodyPut(addr, bidder [20]byte, amount *big.Int) error
	Transfer(from, to [20]byte, amount *big.Int) error
}

type auctionEvent struct {
	evt *types.Event
}

func (e auctionEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e auctionEvent) Event() *types.Event { return e.evt }

// Engine enforces the commit-reveal auction rules. Each deployed auction owns
// a ledger account holding the current leader's revealed bid.
type Engine struct {
	state   engineState
	emitter events.Emitter
	pauses  nativecommon.PauseView
	nowFn   func() int64
}

// NewEngine creates an auction engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

func (e *Engine) SetState(state engineState) { e.state = state }

func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetNowFunc overrides the time source used by the engine.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(auctionEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) guard() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return nativecommon.Guard(e.pauses, moduleName)
}

func (e *Engine) load(contract [20]byte) (*Auction, error) {
	auction, ok, err := e.state.AuctionGet(contract)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAuctionNotFound
	}
	return auction, nil
}

// Get returns a snapshot of the auction deployed at contract.
func (e *Engine) Get(contract [20]byte) (*Auction, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	auction, err := e.load(contract)
	if err != nil {
		return nil, err
	}
	return auction.Clone(), nil
}

// Bidder returns the commitment and custody view for a single bidder.
func (e *Engine) Bidder(contract, bidder [20]byte) (*BidderView, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	auction, err := e.load(contract)
	if err != nil {
		return nil, err
	}
	view := &BidderView{Bidder: bidder}
	commitment, ok, err := e.state.AuctionCommitmentGet(contract, bidder)
	if err != nil {
		return nil, err
	}
	if ok {
		view.Commitment = commitment
	}
	custody, err := e.state.AuctionCustodyGet(contract, bidder)
	if err != nil {
		return nil, err
	}
	view.Custody = cloneBigInt(custody)
	view.Leading = auction.HasLeader && auction.HighestBidder == bidder
	return view, nil
}

// Create records a new auction at contract with fixed deadlines.
func (e *Engine) Create(contract, beneficiary [20]byte, bidDeadline, revealDeadline uint64) (*Auction, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if beneficiary == ([20]byte{}) || beneficiary == contract {
		return nil, ErrInvalidBeneficiary
	}
	now := e.now()
	if revealDeadline > math.MaxInt64 || bidDeadline >= revealDeadline || int64(bidDeadline) <= now {
		return nil, ErrInvalidDeadlines
	}
	if _, exists, err := e.state.AuctionGet(contract); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrAuctionExists
	}
	if now < 0 {
		now = 0
	}
	auction := &Auction{
		Address:        contract,
		Beneficiary:    beneficiary,
		BidDeadline:    bidDeadline,
		RevealDeadline: revealDeadline,
		HighestBid:     big.NewInt(0),
		CreatedAt:      uint64(now),
	}
	if err := e.state.AuctionPut(auction); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(auction))
	return auction.Clone(), nil
}

// Bid records the caller's sealed commitment. Commitments are accepted only
// strictly before the bid deadline and are immutable once recorded.
func (e *Engine) Bid(contract, caller [20]byte, commitment [32]byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	auction, err := e.load(contract)
	if err != nil {
		return err
	}
	now := e.now()
	if now >= int64(auction.BidDeadline) {
		return ErrBiddingClosed
	}
	if commitment == ([32]byte{}) {
		return ErrEmptyCommitment
	}
	if _, exists, err := e.state.AuctionCommitmentGet(contract, caller); err != nil {
		return err
	} else if exists {
		return ErrDuplicateBid
	}
	if err := e.state.AuctionCommitmentPut(contract, caller, &Commitment{
		Hash:        commitment,
		CommittedAt: uint64(now),
	}); err != nil {
		return err
	}
	auction.Commitments++
	if err := e.state.AuctionPut(auction); err != nil {
		return err
	}
	e.emit(NewBidAddedEvent(auction, caller, commitment))
	return nil
}

// Reveal discloses the caller's bid. The attached value, already moved into
// the auction's account by the host, must equal amount, and amount must beat
// the current highest bid. The outbid leader is refunded in full before the
// caller is installed, so at most one bid is ever in custody.
func (e *Engine) Reveal(contract, caller [20]byte, amount *big.Int, nonce [32]byte, value *big.Int) error {
	if err := e.guard(); err != nil {
		return err
	}
	auction, err := e.load(contract)
	if err != nil {
		return err
	}
	now := e.now()
	if now <= int64(auction.BidDeadline) {
		return ErrRevealNotOpen
	}
	if now >= int64(auction.RevealDeadline) {
		return ErrRevealClosed
	}
	commitment, ok, err := e.state.AuctionCommitmentGet(contract, caller)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoCommitment
	}
	if commitment.Revealed {
		return ErrAlreadyRevealed
	}
	expected, err := ComputeCommitment(amount, nonce)
	if err != nil || expected != commitment.Hash {
		return ErrFalseReveal
	}
	if cloneBigInt(value).Cmp(cloneBigInt(amount)) != 0 {
		return ErrValueMismatch
	}
	if cloneBigInt(amount).Cmp(cloneBigInt(auction.HighestBid)) <= 0 {
		return ErrBidNotHigher
	}

	if auction.HasLeader {
		previous := auction.HighestBidder
		refund, err := e.state.AuctionCustodyGet(contract, previous)
		if err != nil {
			return err
		}
		if err := e.state.AuctionCustodyPut(contract, previous, big.NewInt(0)); err != nil {
			return err
		}
		if refund != nil && refund.Sign() > 0 {
			if err := e.state.Transfer(contract, previous, refund); err != nil {
				return fmt.Errorf("auction: refund: %w", err)
			}
			e.emit(NewRefundedEvent(auction, previous, refund))
		}
	}

	if err := e.state.AuctionCustodyPut(contract, caller, amount); err != nil {
		return err
	}
	commitment.Revealed = true
	if err := e.state.AuctionCommitmentPut(contract, caller, commitment); err != nil {
		return err
	}
	auction.HasLeader = true
	auction.HighestBidder = caller
	auction.HighestBid = new(big.Int).Set(amount)
	if err := e.state.AuctionPut(auction); err != nil {
		return err
	}
	e.emit(NewHigherBidEvent(auction, caller, amount))
	return nil
}

// End settles the auction once the reveal window has closed, paying the
// leader's custodied bid to the beneficiary. Any caller may end the auction.
func (e *Engine) End(contract, caller [20]byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	auction, err := e.load(contract)
	if err != nil {
		return err
	}
	if e.now() < int64(auction.RevealDeadline) {
		return ErrTooEarly
	}
	if auction.Ended {
		return ErrAlreadyEnded
	}
	auction.Ended = true
	var payout *big.Int
	if auction.HasLeader {
		payout, err = e.state.AuctionCustodyGet(contract, auction.HighestBidder)
		if err != nil {
			return err
		}
		if err := e.state.AuctionCustodyPut(contract, auction.HighestBidder, big.NewInt(0)); err != nil {
			return err
		}
	}
	if err := e.state.AuctionPut(auction); err != nil {
		return err
	}
	if payout != nil && payout.Sign() > 0 {
		if err := e.state.Transfer(contract, auction.Beneficiary, payout); err != nil {
			return fmt.Errorf("auction: payout: %w", err)
		}
	}
	e.emit(NewEndedEvent(auction))
	return nil
}
