package escrow

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"custodychain/core/events"
	"custodychain/core/types"
	nativecommon "custodychain/native/common"
)

type mockState struct {
	agreements map[[20]byte]*Agreement
	balances   map[[20]byte]*big.Int
	failPayout bool
}

func newMockState() *mockState {
	return &mockState{
		agreements: make(map[[20]byte]*Agreement),
		balances:   make(map[[20]byte]*big.Int),
	}
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func (m *mockState) ExchangeGet(addr [20]byte) (*Agreement, bool, error) {
	a, ok := m.agreements[addr]
	if !ok {
		return nil, false, nil
	}
	return a.Clone(), true, nil
}

func (m *mockState) ExchangePut(a *Agreement) error {
	m.agreements[a.Address] = a.Clone()
	return nil
}

func (m *mockState) Transfer(from, to [20]byte, amount *big.Int) error {
	if m.failPayout {
		return errors.New("transfer unavailable")
	}
	if m.balance(from).Cmp(amount) < 0 {
		return fmt.Errorf("insufficient balance")
	}
	m.balances[from] = new(big.Int).Sub(m.balance(from), amount)
	m.balances[to] = new(big.Int).Add(m.balance(to), amount)
	return nil
}

func (m *mockState) balance(addr [20]byte) *big.Int {
	if bal, ok := m.balances[addr]; ok {
		return bal
	}
	return big.NewInt(0)
}

// attach mimics the host moving call value into the agreement's account.
func (m *mockState) attach(from, to [20]byte, amount int64) {
	if err := m.Transfer(from, to, big.NewInt(amount)); err != nil {
		panic(err)
	}
}

type captureEmitter struct {
	events []*types.Event
}

func (c *captureEmitter) Emit(evt events.Event) {
	if typed, ok := evt.(interface{ Event() *types.Event }); ok {
		c.events = append(c.events, typed.Event())
	}
}

func (c *captureEmitter) eventTypes() []string {
	out := make([]string, len(c.events))
	for i, evt := range c.events {
		out[i] = evt.Type
	}
	return out
}

type pauseStub map[string]bool

func (p pauseStub) IsPaused(module string) bool { return p[module] }

var (
	contractAddr = newTestAddress(0xC0)
	sellerAddr   = newTestAddress(0x01)
	buyerAddr    = newTestAddress(0x02)
	strangerAddr = newTestAddress(0x03)
)

func newTestEngine(t *testing.T) (*Engine, *mockState, *captureEmitter) {
	t.Helper()
	st := newMockState()
	st.balances[sellerAddr] = big.NewInt(1_000)
	st.balances[buyerAddr] = big.NewInt(1_000)
	st.balances[strangerAddr] = big.NewInt(1_000)
	emitter := &captureEmitter{}
	engine := NewEngine()
	engine.SetState(st)
	engine.SetEmitter(emitter)
	engine.SetNowFunc(func() int64 { return 1_700_000_000 })
	if _, err := engine.Create(contractAddr, sellerAddr, buyerAddr, big.NewInt(20)); err != nil {
		t.Fatalf("create: %v", err)
	}
	return engine, st, emitter
}

func deposit(t *testing.T, engine *Engine, st *mockState, caller [20]byte, amount int64) error {
	t.Helper()
	st.attach(caller, contractAddr, amount)
	err := engine.Deposit(contractAddr, caller, big.NewInt(amount))
	if err != nil {
		// The host discards the value move of a rejected call.
		st.attach(contractAddr, caller, amount)
	}
	return err
}

func requireRejected(t *testing.T, err error, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
	if !errors.Is(err, nativecommon.ErrRejected) {
		t.Fatalf("expected rejection classification, got %v", err)
	}
}

func TestEscrowHappyPath(t *testing.T) {
	engine, st, emitter := newTestEngine(t)

	if err := deposit(t, engine, st, sellerAddr, 20); err != nil {
		t.Fatalf("seller deposit: %v", err)
	}
	if err := deposit(t, engine, st, buyerAddr, 40); err != nil {
		t.Fatalf("buyer deposit: %v", err)
	}
	if err := engine.Seal(contractAddr, sellerAddr); err != nil {
		t.Fatalf("seal: %v", err)
	}
	if err := engine.ReportDelivery(contractAddr, buyerAddr); err != nil {
		t.Fatalf("report delivery: %v", err)
	}

	paid, err := engine.Withdraw(contractAddr, sellerAddr)
	if err != nil {
		t.Fatalf("seller withdraw: %v", err)
	}
	if paid.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("seller expected 40, got %s", paid)
	}
	paid, err = engine.Withdraw(contractAddr, buyerAddr)
	if err != nil {
		t.Fatalf("buyer withdraw: %v", err)
	}
	if paid.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("buyer expected 20, got %s", paid)
	}

	if got := st.balance(sellerAddr); got.Cmp(big.NewInt(1_020)) != 0 {
		t.Fatalf("seller balance: %s", got)
	}
	if got := st.balance(buyerAddr); got.Cmp(big.NewInt(980)) != 0 {
		t.Fatalf("buyer balance: %s", got)
	}
	if got := st.balance(contractAddr); got.Sign() != 0 {
		t.Fatalf("custody should be empty, got %s", got)
	}

	want := []string{
		EventTypeCreated, EventTypeSellerPaid, EventTypeBuyerPaid, EventTypeDealSealed,
		EventTypeDelivered, EventTypeWithdrawn, EventTypeWithdrawn,
	}
	got := emitter.eventTypes()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("unexpected events: %v", got)
	}

	_, err = engine.Withdraw(contractAddr, sellerAddr)
	requireRejected(t, err, ErrNothingToWithdraw)
	_, err = engine.Withdraw(contractAddr, buyerAddr)
	requireRejected(t, err, ErrNothingToWithdraw)
}

func TestEscrowEarlyExit(t *testing.T) {
	engine, st, _ := newTestEngine(t)

	if err := deposit(t, engine, st, sellerAddr, 20); err != nil {
		t.Fatalf("seller deposit: %v", err)
	}
	if err := deposit(t, engine, st, buyerAddr, 40); err != nil {
		t.Fatalf("buyer deposit: %v", err)
	}
	paid, err := engine.Withdraw(contractAddr, sellerAddr)
	if err != nil || paid.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("seller withdraw: %v %v", paid, err)
	}
	paid, err = engine.Withdraw(contractAddr, buyerAddr)
	if err != nil || paid.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("buyer withdraw: %v %v", paid, err)
	}
	_, err = engine.Withdraw(contractAddr, sellerAddr)
	requireRejected(t, err, ErrNothingToWithdraw)
	_, err = engine.Withdraw(contractAddr, buyerAddr)
	requireRejected(t, err, ErrNothingToWithdraw)

	if st.balance(sellerAddr).Cmp(big.NewInt(1_000)) != 0 || st.balance(buyerAddr).Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("parties should be made whole")
	}
}

func TestEscrowDepositRejections(t *testing.T) {
	engine, st, _ := newTestEngine(t)

	requireRejected(t, deposit(t, engine, st, strangerAddr, 20), ErrUnauthorized)
	requireRejected(t, deposit(t, engine, st, strangerAddr, 40), ErrUnauthorized)
	requireRejected(t, deposit(t, engine, st, sellerAddr, 19), ErrWrongAmount)
	requireRejected(t, deposit(t, engine, st, sellerAddr, 0), ErrWrongAmount)
	requireRejected(t, deposit(t, engine, st, buyerAddr, 20), ErrWrongAmount)

	if err := deposit(t, engine, st, sellerAddr, 20); err != nil {
		t.Fatalf("seller deposit: %v", err)
	}
	requireRejected(t, deposit(t, engine, st, sellerAddr, 20), ErrAlreadyDeposited)

	if err := deposit(t, engine, st, buyerAddr, 40); err != nil {
		t.Fatalf("buyer deposit: %v", err)
	}
	if err := engine.Seal(contractAddr, sellerAddr); err != nil {
		t.Fatalf("seal: %v", err)
	}
	requireRejected(t, deposit(t, engine, st, buyerAddr, 40), ErrSealed)

	if err := engine.ReportDelivery(contractAddr, buyerAddr); err != nil {
		t.Fatalf("report delivery: %v", err)
	}
	requireRejected(t, deposit(t, engine, st, sellerAddr, 20), ErrSealed)
	requireRejected(t, deposit(t, engine, st, buyerAddr, 40), ErrSealed)

	if st.balance(contractAddr).Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("custody should hold 60, got %s", st.balance(contractAddr))
	}
}

func TestEscrowSealAndDeliveryRules(t *testing.T) {
	engine, st, _ := newTestEngine(t)

	requireRejected(t, engine.Seal(contractAddr, sellerAddr), ErrNotFunded)
	if err := deposit(t, engine, st, sellerAddr, 20); err != nil {
		t.Fatalf("seller deposit: %v", err)
	}
	requireRejected(t, engine.Seal(contractAddr, sellerAddr), ErrNotFunded)
	requireRejected(t, engine.ReportDelivery(contractAddr, buyerAddr), ErrNotSealed)
	if err := deposit(t, engine, st, buyerAddr, 40); err != nil {
		t.Fatalf("buyer deposit: %v", err)
	}

	requireRejected(t, engine.Seal(contractAddr, buyerAddr), ErrUnauthorized)
	requireRejected(t, engine.Seal(contractAddr, strangerAddr), ErrUnauthorized)
	if err := engine.Seal(contractAddr, sellerAddr); err != nil {
		t.Fatalf("seal: %v", err)
	}
	requireRejected(t, engine.Seal(contractAddr, sellerAddr), ErrSealed)

	_, err := engine.Withdraw(contractAddr, sellerAddr)
	requireRejected(t, err, ErrLocked)
	_, err = engine.Withdraw(contractAddr, buyerAddr)
	requireRejected(t, err, ErrLocked)

	requireRejected(t, engine.ReportDelivery(contractAddr, sellerAddr), ErrUnauthorized)
	if err := engine.ReportDelivery(contractAddr, buyerAddr); err != nil {
		t.Fatalf("report delivery: %v", err)
	}
	requireRejected(t, engine.ReportDelivery(contractAddr, buyerAddr), ErrAlreadyDelivered)

	agreement, err := engine.Get(contractAddr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !agreement.Sealed || !agreement.Delivered {
		t.Fatalf("expected sealed and delivered agreement")
	}
	if agreement.SellerSlot.Cmp(big.NewInt(40)) != 0 || agreement.BuyerSlot.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("unexpected settlement split: seller=%s buyer=%s", agreement.SellerSlot, agreement.BuyerSlot)
	}
}

func TestEscrowWithdrawRejections(t *testing.T) {
	engine, st, _ := newTestEngine(t)

	_, err := engine.Withdraw(contractAddr, sellerAddr)
	requireRejected(t, err, ErrNothingToWithdraw)
	_, err = engine.Withdraw(contractAddr, strangerAddr)
	requireRejected(t, err, ErrUnauthorized)

	if err := deposit(t, engine, st, sellerAddr, 20); err != nil {
		t.Fatalf("seller deposit: %v", err)
	}
	st.failPayout = true
	if _, err := engine.Withdraw(contractAddr, sellerAddr); err == nil || errors.Is(err, nativecommon.ErrRejected) {
		t.Fatalf("expected infrastructure failure, got %v", err)
	}
}

func TestEscrowCreateValidation(t *testing.T) {
	engine := NewEngine()
	engine.SetState(newMockState())

	_, err := engine.Create(contractAddr, sellerAddr, buyerAddr, big.NewInt(0))
	requireRejected(t, err, ErrInvalidPrice)
	_, err = engine.Create(contractAddr, sellerAddr, buyerAddr, nil)
	requireRejected(t, err, ErrInvalidPrice)
	_, err = engine.Create(contractAddr, sellerAddr, [20]byte{}, big.NewInt(1))
	requireRejected(t, err, ErrInvalidBuyer)
	_, err = engine.Create(contractAddr, sellerAddr, sellerAddr, big.NewInt(1))
	requireRejected(t, err, ErrInvalidBuyer)
	_, err = engine.Create(contractAddr, sellerAddr, contractAddr, big.NewInt(1))
	requireRejected(t, err, ErrInvalidBuyer)

	huge := new(big.Int).Lsh(big.NewInt(1), 255)
	_, err = engine.Create(contractAddr, sellerAddr, buyerAddr, huge)
	requireRejected(t, err, ErrInvalidPrice)

	if _, err := engine.Create(contractAddr, sellerAddr, buyerAddr, big.NewInt(5)); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = engine.Create(contractAddr, sellerAddr, buyerAddr, big.NewInt(5))
	requireRejected(t, err, ErrAgreementExists)

	_, err = engine.Get(newTestAddress(0xEE))
	requireRejected(t, err, ErrAgreementNotFound)
}

func TestEscrowPausedModuleRejects(t *testing.T) {
	engine, st, _ := newTestEngine(t)
	engine.SetPauses(pauseStub{nativecommon.ModuleEscrow: true})

	requireRejected(t, deposit(t, engine, st, sellerAddr, 20), nativecommon.ErrModulePaused)
	if _, err := engine.Get(contractAddr); err != nil {
		t.Fatalf("queries must still work while paused: %v", err)
	}
}

func TestEscrowConservation(t *testing.T) {
	for _, price := range []int64{1, 7, 20, 333} {
		engine := NewEngine()
		st := newMockState()
		st.balances[sellerAddr] = big.NewInt(10_000)
		st.balances[buyerAddr] = big.NewInt(10_000)
		engine.SetState(st)
		if _, err := engine.Create(contractAddr, sellerAddr, buyerAddr, big.NewInt(price)); err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := deposit(t, engine, st, sellerAddr, price); err != nil {
			t.Fatalf("seller deposit: %v", err)
		}
		if err := deposit(t, engine, st, buyerAddr, 2*price); err != nil {
			t.Fatalf("buyer deposit: %v", err)
		}
		if err := engine.Seal(contractAddr, sellerAddr); err != nil {
			t.Fatalf("seal: %v", err)
		}
		if err := engine.ReportDelivery(contractAddr, buyerAddr); err != nil {
			t.Fatalf("deliver: %v", err)
		}
		out := big.NewInt(0)
		for _, party := range [][20]byte{buyerAddr, sellerAddr} {
			paid, err := engine.Withdraw(contractAddr, party)
			if err != nil {
				t.Fatalf("withdraw: %v", err)
			}
			out.Add(out, paid)
		}
		if out.Cmp(big.NewInt(3*price)) != 0 {
			t.Fatalf("price %d: value out %s != value in %d", price, out, 3*price)
		}
		if st.balance(contractAddr).Sign() != 0 {
			t.Fatalf("price %d: custody not drained", price)
		}
	}
}
