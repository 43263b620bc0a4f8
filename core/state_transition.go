package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	cerrors "custodychain/core/errors"
	"custodychain/core/events"
	"custodychain/core/genesis"
	"custodychain/core/state"
	"custodychain/core/types"
	"custodychain/crypto"
	"custodychain/native/auction"
	nativecommon "custodychain/native/common"
	"custodychain/native/escrow"
	"custodychain/observability"
	"custodychain/storage"
	"custodychain/storage/journal"
	"custodychain/storage/trie"
)

var (
	ErrClockNotManual = errors.New("processor: clock cannot be advanced")
	ErrUnknownModule  = errors.New("processor: unknown module")
	ErrAlreadyStarted = errors.New("processor: ledger already initialised")
)

// ProcessorOptions configures a Processor. Zero values select the system
// clock, a no-op publisher, the default logger and no quota.
type ProcessorOptions struct {
	Clock     Clock
	Publisher events.Emitter
	Logger    *slog.Logger
	Quota     nativecommon.Quota
}

// Processor admits signed calls one at a time and applies each atomically
// against the last committed state root. It supplies the engines with the
// caller identity, the attached value and a non-decreasing timestamp, and
// journals a receipt for every admitted call.
type Processor struct {
	mu sync.Mutex

	db      storage.Database
	journal *journal.Journal
	trie    *trie.Trie
	state   *state.Manager
	escrow  *escrow.Engine
	auction *auction.Engine
	buffer  *events.Buffer

	clock     Clock
	publisher events.Emitter
	logger    *slog.Logger
	tracer    trace.Tracer
	quota     nativecommon.Quota

	lastTs    int64
	currentTs int64
}

// NewProcessor opens the state trie at the journal head and wires both
// protocol engines to it.
func NewProcessor(db storage.Database, j *journal.Journal, opts ProcessorOptions) (*Processor, error) {
	if db == nil {
		return nil, fmt.Errorf("processor: database must not be nil")
	}
	if j == nil {
		return nil, fmt.Errorf("processor: journal must not be nil")
	}
	var root []byte
	head, ok := j.Head()
	if ok {
		root = head.Root[:]
	}
	stateTrie, err := trie.NewTrie(db, root)
	if err != nil {
		return nil, fmt.Errorf("open state at %x: %w", root, err)
	}
	manager := state.NewManager(stateTrie)
	if err := manager.EnsureSchemaVersion(); err != nil {
		return nil, err
	}

	p := &Processor{
		db:        db,
		journal:   j,
		trie:      stateTrie,
		state:     manager,
		escrow:    escrow.NewEngine(),
		auction:   auction.NewEngine(),
		buffer:    new(events.Buffer),
		clock:     opts.Clock,
		publisher: opts.Publisher,
		logger:    opts.Logger,
		tracer:    otel.Tracer("custodychain/core"),
		quota:     opts.Quota,
		lastTs:    head.Timestamp,
	}
	if p.clock == nil {
		p.clock = SystemClock{}
	}
	if p.publisher == nil {
		p.publisher = events.NoopEmitter{}
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	now := func() int64 { return p.currentTs }

	p.escrow.SetState(manager)
	p.escrow.SetPauses(manager)
	p.escrow.SetEmitter(p.buffer)
	p.escrow.SetNowFunc(now)

	p.auction.SetState(manager)
	p.auction.SetPauses(manager)
	p.auction.SetEmitter(p.buffer)
	p.auction.SetNowFunc(now)
	return p, nil
}

// InitGenesis applies the genesis allocations to an empty ledger. It fails
// once any call has been journaled.
func (p *Processor) InitGenesis(spec *genesis.Spec) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if head, ok := p.journal.Head(); ok && head.Sequence > 0 {
		return ErrAlreadyStarted
	}
	ts := p.lastTs
	if spec != nil && !spec.GenesisTimestamp().IsZero() && spec.GenesisTimestamp().Unix() > ts {
		ts = spec.GenesisTimestamp().Unix()
	}
	if err := p.mutateLocked(ts, func(m *state.Manager) error {
		return genesis.Apply(spec, m)
	}); err != nil {
		return fmt.Errorf("apply genesis: %w", err)
	}
	p.logger.Info("genesis applied",
		slog.Int("allocations", len(spec.Allocations())),
		slog.Int64("timestamp", ts))
	return nil
}

// SetModulePaused pauses or resumes a protocol module. Paused modules reject
// every mutating call; queries keep working.
func (p *Processor) SetModulePaused(module string, paused bool) error {
	if !nativecommon.KnownModule(module) {
		return fmt.Errorf("%w: %q", ErrUnknownModule, module)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.mutateLocked(p.lastTs, func(m *state.Manager) error {
		return m.SetPaused(module, paused)
	}); err != nil {
		return err
	}
	p.logger.Info("module pause updated", slog.String("module", module), slog.Bool("paused", paused))
	return nil
}

// AdvanceTime moves a manual clock forward and returns the new ledger time.
func (p *Processor) AdvanceTime(seconds int64) (int64, error) {
	manual, ok := p.clock.(*ManualClock)
	if !ok {
		return 0, ErrClockNotManual
	}
	if seconds < 0 {
		return 0, fmt.Errorf("processor: cannot move time backwards")
	}
	manual.Advance(seconds)
	return p.Time(), nil
}

// Time returns the timestamp the next call would observe.
func (p *Processor) Time() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nextTimestamp()
}

func (p *Processor) nextTimestamp() int64 {
	ts := p.clock.Now()
	if ts < p.lastTs {
		ts = p.lastTs
	}
	return ts
}

// mutateLocked runs an operator change against state, commits it and moves the
// journal head without recording a receipt.
func (p *Processor) mutateLocked(ts int64, fn func(*state.Manager) error) error {
	if err := fn(p.state); err != nil {
		if discardErr := p.trie.Discard(); discardErr != nil {
			return errors.Join(err, discardErr)
		}
		return err
	}
	root, err := p.trie.Commit()
	if err != nil {
		return fmt.Errorf("commit state: %w", err)
	}
	if err := p.journal.Advance(root, ts); err != nil {
		return err
	}
	if ts > p.lastTs {
		p.lastTs = ts
	}
	return nil
}

// Apply admits and executes a signed call. Admission failures (bad signature,
// unknown type, wrong nonce) return an error and leave the ledger untouched.
// Every admitted call yields a receipt: accepted calls commit their writes and
// publish their events, rejected calls only consume the caller's nonce.
func (p *Processor) Apply(ctx context.Context, call *types.Call) (*types.Receipt, error) {
	if call == nil {
		return nil, fmt.Errorf("processor: nil call")
	}
	started := time.Now()
	ctx, span := p.tracer.Start(ctx, "custody.apply",
		trace.WithAttributes(attribute.String("call.type", call.Type.String())))
	defer span.End()

	p.mu.Lock()
	defer p.mu.Unlock()

	sender, hash, err := p.admit(call)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "not admitted")
		p.logger.DebugContext(ctx, "call not admitted",
			slog.String("type", call.Type.String()),
			slog.Any("error", err))
		return nil, err
	}

	ts := p.nextTimestamp()
	p.currentTs = ts
	p.buffer.Reset()
	value := call.AttachedValue()

	acceptedUsage, rejectedUsage, recordUsage, execErr := p.chargeQuota(sender, value, ts)
	var contract [20]byte
	if execErr == nil {
		contract, execErr = p.execute(call, sender, value)
	}
	if execErr != nil && !cerrors.IsRejection(execErr) {
		p.buffer.Reset()
		if discardErr := p.trie.Discard(); discardErr != nil {
			execErr = errors.Join(execErr, discardErr)
		}
		span.RecordError(execErr)
		span.SetStatus(codes.Error, "fault")
		p.logger.ErrorContext(ctx, "call aborted",
			slog.String("type", call.Type.String()),
			slog.String("from", crypto.FromArray(sender).String()),
			slog.Any("error", execErr))
		return nil, fmt.Errorf("apply %s: %w", call.Type, execErr)
	}

	receipt := &types.Receipt{
		CallHash:  hash,
		Type:      call.Type,
		From:      sender,
		Contract:  contract,
		Status:    types.ReceiptAccepted,
		Timestamp: ts,
	}
	usage := acceptedUsage
	if execErr != nil {
		p.buffer.Reset()
		if err := p.trie.Discard(); err != nil {
			return nil, fmt.Errorf("discard rejected call: %w", err)
		}
		receipt.Status = types.ReceiptRejected
		receipt.Reason = execErr.Error()
		usage = rejectedUsage
	} else {
		receipt.Events = p.buffer.Drain()
	}

	if err := p.state.SetNonce(sender, call.Nonce+1); err != nil {
		return nil, p.abort(fmt.Errorf("bump nonce: %w", err))
	}
	if recordUsage {
		if err := p.state.QuotaPut(sender, usage); err != nil {
			return nil, p.abort(fmt.Errorf("record quota: %w", err))
		}
	}
	previousRoot := p.trie.Root()
	root, err := p.trie.Commit()
	if err != nil {
		return nil, p.abort(fmt.Errorf("commit state: %w", err))
	}
	receipt.StateRoot = root
	published, err := p.journal.Append(receipt, root)
	if err != nil {
		if resetErr := p.trie.Reset(previousRoot); resetErr != nil {
			err = errors.Join(err, resetErr)
		}
		return nil, err
	}
	p.lastTs = ts

	metrics := observability.Ledger()
	for _, record := range published {
		p.publisher.Emit(record)
		metrics.RecordEvent(record.Event.Type)
	}
	metrics.ObserveCall(call.Type.String(), receipt.Status.String(), receipt.Sequence, time.Since(started))

	span.SetAttributes(
		attribute.Int64("call.sequence", int64(receipt.Sequence)),
		attribute.String("call.status", receipt.Status.String()))
	attrs := []any{
		slog.Uint64("sequence", receipt.Sequence),
		slog.String("type", call.Type.String()),
		slog.String("from", crypto.FromArray(sender).String()),
		slog.Int64("timestamp", ts),
	}
	if receipt.Accepted() {
		p.logger.DebugContext(ctx, "call accepted", append(attrs, slog.Int("events", len(receipt.Events)))...)
	} else {
		span.SetStatus(codes.Error, "rejected")
		p.logger.InfoContext(ctx, "call rejected", append(attrs, slog.String("reason", receipt.Reason))...)
	}
	return receipt, nil
}

func (p *Processor) abort(err error) error {
	p.buffer.Reset()
	if discardErr := p.trie.Discard(); discardErr != nil {
		return errors.Join(err, discardErr)
	}
	return err
}

func (p *Processor) admit(call *types.Call) ([20]byte, [32]byte, error) {
	var (
		sender [20]byte
		hash   [32]byte
	)
	if !call.Type.Valid() {
		return sender, hash, fmt.Errorf("%w: 0x%02x", cerrors.ErrUnknownCall, byte(call.Type))
	}
	sender, err := call.Sender()
	if err != nil {
		return sender, hash, fmt.Errorf("%w: %v", cerrors.ErrBadSignature, err)
	}
	digest, err := call.Hash()
	if err != nil {
		return sender, hash, fmt.Errorf("%w: %v", cerrors.ErrBadSignature, err)
	}
	copy(hash[:], digest)
	expected, err := p.state.Nonce(sender)
	if err != nil {
		return sender, hash, err
	}
	if call.Nonce != expected {
		return sender, hash, fmt.Errorf("%w: expected %d, got %d", cerrors.ErrNonceMismatch, expected, call.Nonce)
	}
	return sender, hash, nil
}

// chargeQuota returns the counters to persist when the call is accepted and
// when it is rejected, and whether they should be persisted at all. Rejected
// calls count against the call limit only, including calls refused for
// exceeding the value cap. Nothing is recorded once the call limit is reached.
func (p *Processor) chargeQuota(sender [20]byte, value *big.Int, ts int64) (nativecommon.QuotaNow, nativecommon.QuotaNow, bool, error) {
	if !p.quota.Enabled() {
		return nativecommon.QuotaNow{}, nativecommon.QuotaNow{}, false, nil
	}
	prev, err := p.state.QuotaGet(sender)
	if err != nil {
		return prev, prev, false, err
	}
	window := p.quota.WindowAt(ts)
	rejected, err := nativecommon.CheckQuota(p.quota, window, prev, 1, nil)
	if err != nil {
		return prev, prev, false, fmt.Errorf("%w: %v", cerrors.ErrQuotaExceeded, err)
	}
	accepted, err := nativecommon.CheckQuota(p.quota, window, prev, 1, value)
	if err != nil {
		return rejected, rejected, true, fmt.Errorf("%w: %v", cerrors.ErrQuotaExceeded, err)
	}
	return accepted, rejected, true, nil
}

// execute dispatches the call to its handler and returns the protocol instance
// it touched, if any.
func (p *Processor) execute(call *types.Call, sender [20]byte, value *big.Int) ([20]byte, error) {
	var contract [20]byte
	if value.Sign() > 0 && !call.Type.Payable() {
		return contract, cerrors.ErrNotPayable
	}
	if call.Type.Deploys() {
		contract = ethcrypto.CreateAddress(common.Address(sender), call.Nonce)
	} else if call.Type != types.CallTypeTransfer {
		target, err := call.Target()
		if err != nil {
			return contract, fmt.Errorf("%w: %v", cerrors.ErrInvalidPayload, err)
		}
		contract = target
	}

	switch call.Type {
	case types.CallTypeTransfer:
		return contract, p.applyTransfer(call, sender, value)
	case types.CallTypeEscrowDeploy:
		return contract, p.applyEscrowDeploy(call, sender, contract)
	case types.CallTypeEscrowDeposit:
		return contract, p.applyEscrowDeposit(sender, contract, value)
	case types.CallTypeEscrowWithdraw:
		return contract, p.withInstance(contract, state.ContractKindEscrow, func() error {
			_, err := p.escrow.Withdraw(contract, sender)
			return err
		})
	case types.CallTypeEscrowSeal:
		return contract, p.withInstance(contract, state.ContractKindEscrow, func() error {
			return p.escrow.Seal(contract, sender)
		})
	case types.CallTypeEscrowReportDelivery:
		return contract, p.withInstance(contract, state.ContractKindEscrow, func() error {
			return p.escrow.ReportDelivery(contract, sender)
		})
	case types.CallTypeAuctionDeploy:
		return contract, p.applyAuctionDeploy(call, sender, contract)
	case types.CallTypeAuctionBid:
		return contract, p.applyAuctionBid(call, sender, contract)
	case types.CallTypeAuctionReveal:
		return contract, p.applyAuctionReveal(call, sender, contract, value)
	case types.CallTypeAuctionEnd:
		return contract, p.withInstance(contract, state.ContractKindAuction, func() error {
			return p.auction.End(contract, sender)
		})
	default:
		return contract, fmt.Errorf("%w: %s", cerrors.ErrUnknownCall, call.Type)
	}
}

func (p *Processor) withInstance(contract [20]byte, kind string, fn func() error) error {
	actual, err := p.state.ContractKind(contract)
	if err != nil {
		return err
	}
	if actual != kind {
		return cerrors.ErrUnknownContract
	}
	return fn()
}

// attach moves the call value from the caller into the instance's custody
// account before the engine runs.
func (p *Processor) attach(sender, contract [20]byte, value *big.Int) error {
	if err := p.state.Transfer(sender, contract, value); err != nil {
		if errors.Is(err, state.ErrInsufficientBalance) {
			return fmt.Errorf("%w: %v", cerrors.ErrInsufficientFunds, err)
		}
		return err
	}
	return nil
}

func (p *Processor) applyTransfer(call *types.Call, sender [20]byte, value *big.Int) error {
	to, err := call.Target()
	if err != nil {
		return fmt.Errorf("%w: %v", cerrors.ErrInvalidPayload, err)
	}
	kind, err := p.state.ContractKind(to)
	if err != nil {
		return err
	}
	if kind != "" {
		return cerrors.ErrTransferToContract
	}
	if err := p.attach(sender, to, value); err != nil {
		return err
	}
	p.buffer.Emit(events.Transfer{From: sender, To: to, Amount: value})
	return nil
}

func (p *Processor) register(contract, deployer [20]byte, kind string) error {
	if err := p.state.ContractPut(&state.ContractInfo{
		Address:   contract,
		Kind:      kind,
		Deployer:  deployer,
		CreatedAt: uint64(p.currentTs),
	}); err != nil {
		return err
	}
	observability.Ledger().RecordDeployment(kind)
	return nil
}

func (p *Processor) applyEscrowDeploy(call *types.Call, sender, contract [20]byte) error {
	var payload types.EscrowDeployPayload
	if err := types.DecodePayload(call.Data, &payload); err != nil {
		return fmt.Errorf("%w: %v", cerrors.ErrInvalidPayload, err)
	}
	if _, err := p.escrow.Create(contract, sender, payload.Buyer, payload.Price); err != nil {
		return err
	}
	return p.register(contract, sender, state.ContractKindEscrow)
}

func (p *Processor) applyEscrowDeposit(sender, contract [20]byte, value *big.Int) error {
	return p.withInstance(contract, state.ContractKindEscrow, func() error {
		if err := p.attach(sender, contract, value); err != nil {
			return err
		}
		return p.escrow.Deposit(contract, sender, value)
	})
}

func (p *Processor) applyAuctionDeploy(call *types.Call, sender, contract [20]byte) error {
	var payload types.AuctionDeployPayload
	if err := types.DecodePayload(call.Data, &payload); err != nil {
		return fmt.Errorf("%w: %v", cerrors.ErrInvalidPayload, err)
	}
	if _, err := p.auction.Create(contract, payload.Beneficiary, payload.BidDeadline, payload.RevealDeadline); err != nil {
		return err
	}
	return p.register(contract, sender, state.ContractKindAuction)
}

func (p *Processor) applyAuctionBid(call *types.Call, sender, contract [20]byte) error {
	return p.withInstance(contract, state.ContractKindAuction, func() error {
		var payload types.AuctionBidPayload
		if err := types.DecodePayload(call.Data, &payload); err != nil {
			return fmt.Errorf("%w: %v", cerrors.ErrInvalidPayload, err)
		}
		return p.auction.Bid(contract, sender, payload.Commitment)
	})
}

func (p *Processor) applyAuctionReveal(call *types.Call, sender, contract [20]byte, value *big.Int) error {
	return p.withInstance(contract, state.ContractKindAuction, func() error {
		var payload types.AuctionRevealPayload
		if err := types.DecodePayload(call.Data, &payload); err != nil {
			return fmt.Errorf("%w: %v", cerrors.ErrInvalidPayload, err)
		}
		if err := p.attach(sender, contract, value); err != nil {
			return err
		}
		return p.auction.Reveal(contract, sender, payload.Amount, payload.Nonce, value)
	})
}
