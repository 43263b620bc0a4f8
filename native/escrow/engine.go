package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/holiman/uint256"

	"custodychain/core/events"
	"custodychain/core/types"
	nativecommon "custodychain/native/common"
)

var (
	errNilState = errors.New("escrow engine: state not configured")

	ErrAgreementNotFound = fmt.Errorf("%w: escrow: agreement not found", nativecommon.ErrRejected)
	ErrAgreementExists   = fmt.Errorf("%w: escrow: agreement already exists", nativecommon.ErrRejected)
	ErrInvalidPrice      = fmt.Errorf("%w: escrow: price must be positive", nativecommon.ErrRejected)
	ErrInvalidBuyer      = fmt.Errorf("%w: escrow: buyer must be a distinct non-zero address", nativecommon.ErrRejected)
	ErrUnauthorized      = fmt.Errorf("%w: escrow: caller is not a party", nativecommon.ErrRejected)
	ErrSealed            = fmt.Errorf("%w: escrow: agreement sealed", nativecommon.ErrRejected)
	ErrAlreadyDeposited  = fmt.Errorf("%w: escrow: deposit already in custody", nativecommon.ErrRejected)
	ErrWrongAmount       = fmt.Errorf("%w: escrow: deposit does not match required amount", nativecommon.ErrRejected)
	ErrLocked            = fmt.Errorf("%w: escrow: funds locked until delivery", nativecommon.ErrRejected)
	ErrNothingToWithdraw = fmt.Errorf("%w: escrow: nothing to withdraw", nativecommon.ErrRejected)
	ErrNotFunded         = fmt.Errorf("%w: escrow: deposits incomplete", nativecommon.ErrRejected)
	ErrNotSealed         = fmt.Errorf("%w: escrow: agreement not sealed", nativecommon.ErrRejected)
	ErrAlreadyDelivered  = fmt.Errorf("%w: escrow: delivery already reported", nativecommon.ErrRejected)
)

const moduleName = nativecommon.ModuleEscrow

type engineState interface {
	ExchangeGet(addr [20]byte) (*Agreement, bool, error)
	ExchangePut(*Agreement) error
	Transfer(from, to [20]byte, amount *big.Int) error
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine enforces the escrow exchange rules. Every deployed agreement owns a
// ledger account that holds the custodied deposits; the host moves attached
// value into that account before invoking Deposit and rolls the whole call
// back when the engine returns an error.
type Engine struct {
	state   engineState
	emitter events.Emitter
	pauses  nativecommon.PauseView
	nowFn   func() int64
}

// NewEngine creates an escrow engine with a no-op emitter. Callers can override
// the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
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
	e.emitter.Emit(escrowEvent{evt: event})
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

func (e *Engine) load(contract [20]byte) (*Agreement, error) {
	agreement, ok, err := e.state.ExchangeGet(contract)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAgreementNotFound
	}
	return agreement, nil
}

// Get returns a snapshot of the agreement deployed at contract.
func (e *Engine) Get(contract [20]byte) (*Agreement, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	agreement, err := e.load(contract)
	if err != nil {
		return nil, err
	}
	return agreement.Clone(), nil
}

// Create records a new agreement at contract. The deployer becomes the seller;
// price and buyer are fixed for the lifetime of the agreement.
func (e *Engine) Create(contract, seller, buyer [20]byte, price *big.Int) (*Agreement, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if price == nil || price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	// The buyer stakes twice the price, which must still fit the balance range.
	if _, overflow := uint256.FromBig(new(big.Int).Lsh(price, 1)); overflow {
		return nil, ErrInvalidPrice
	}
	if buyer == ([20]byte{}) || buyer == seller || buyer == contract {
		return nil, ErrInvalidBuyer
	}
	if _, exists, err := e.state.ExchangeGet(contract); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrAgreementExists
	}
	now := e.now()
	if now < 0 {
		now = 0
	}
	agreement := &Agreement{
		Address:    contract,
		Seller:     seller,
		Buyer:      buyer,
		Price:      new(big.Int).Set(price),
		SellerSlot: big.NewInt(0),
		BuyerSlot:  big.NewInt(0),
		CreatedAt:  uint64(now),
	}
	if err := e.state.ExchangePut(agreement); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(agreement))
	return agreement.Clone(), nil
}

// Deposit records value already moved into the agreement's custody account by
// the caller. Only the seller (exactly the price) and the buyer (exactly twice
// the price) may deposit, each at most once while their slot is non-zero, and
// never after the agreement is sealed.
func (e *Engine) Deposit(contract, caller [20]byte, value *big.Int) error {
	if err := e.guard(); err != nil {
		return err
	}
	agreement, err := e.load(contract)
	if err != nil {
		return err
	}
	role := agreement.RoleOf(caller)
	if role == RoleNone {
		return ErrUnauthorized
	}
	if agreement.Sealed {
		return ErrSealed
	}
	if agreement.Slot(role).Sign() != 0 {
		return ErrAlreadyDeposited
	}
	if cloneBigInt(value).Cmp(agreement.RequiredDeposit(role)) != 0 {
		return ErrWrongAmount
	}
	agreement.setSlot(role, value)
	if err := e.state.ExchangePut(agreement); err != nil {
		return err
	}
	if role == RoleSeller {
		e.emit(NewSellerPaidEvent(agreement))
	} else {
		e.emit(NewBuyerPaidEvent(agreement))
	}
	return nil
}

// Withdraw releases the caller's slot. Before sealing the slot is the raw
// deposit; after delivery it is the settlement entitlement (twice the price
// for the seller, the price for the buyer). The slot is zeroed and persisted
// before the transfer so the bookkeeping never outlives a failed payout.
func (e *Engine) Withdraw(contract, caller [20]byte) (*big.Int, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	agreement, err := e.load(contract)
	if err != nil {
		return nil, err
	}
	role := agreement.RoleOf(caller)
	if role == RoleNone {
		return nil, ErrUnauthorized
	}
	if agreement.Sealed && !agreement.Delivered {
		return nil, ErrLocked
	}
	amount := agreement.Slot(role)
	if amount.Sign() == 0 {
		return nil, ErrNothingToWithdraw
	}
	agreement.setSlot(role, big.NewInt(0))
	if err := e.state.ExchangePut(agreement); err != nil {
		return nil, err
	}
	if err := e.state.Transfer(contract, caller, amount); err != nil {
		return nil, fmt.Errorf("escrow: payout: %w", err)
	}
	e.emit(NewWithdrawnEvent(agreement, caller, role, amount))
	return amount, nil
}

// Seal locks both deposits. Only the seller may seal and only once both slots
// hold their required amounts.
func (e *Engine) Seal(contract, caller [20]byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	agreement, err := e.load(contract)
	if err != nil {
		return err
	}
	if caller != agreement.Seller {
		return ErrUnauthorized
	}
	if agreement.Sealed {
		return ErrSealed
	}
	if !agreement.FullyFunded() {
		return ErrNotFunded
	}
	agreement.Sealed = true
	if err := e.state.ExchangePut(agreement); err != nil {
		return err
	}
	e.emit(NewDealSealedEvent(agreement))
	return nil
}

// ReportDelivery is called by the buyer once the goods arrived. It converts
// the locked deposits into the settlement split: the seller is owed their
// stake plus the price and the buyer is owed their collateral back.
func (e *Engine) ReportDelivery(contract, caller [20]byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	agreement, err := e.load(contract)
	if err != nil {
		return err
	}
	if caller != agreement.Buyer {
		return ErrUnauthorized
	}
	if !agreement.Sealed {
		return ErrNotSealed
	}
	if agreement.Delivered {
		return ErrAlreadyDelivered
	}
	agreement.Delivered = true
	agreement.SellerSlot = agreement.BuyerDeposit()
	agreement.BuyerSlot = agreement.SellerDeposit()
	if err := e.state.ExchangePut(agreement); err != nil {
		return err
	}
	e.emit(NewDeliveredEvent(agreement))
	return nil
}
