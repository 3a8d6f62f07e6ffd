package core

import (
	"ExchangeLedger/internal/custody"
	"ExchangeLedger/internal/event"
	"ExchangeLedger/internal/ledger"
	"ExchangeLedger/internal/observability"
	"ExchangeLedger/internal/signing"
	"ExchangeLedger/internal/state"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// conservationCheckInterval is how often (in events) the full ledger is
// checked for conservation after a commit.
const conservationCheckInterval = 1000

// Exchange is the custody ledger. Mutating operations are serialized by a
// writer lock and applied to a write transaction that only becomes visible
// once custody has settled; readers always observe committed state.
type Exchange struct {
	writeMu sync.Mutex   // one mutating operation at a time
	stateMu sync.RWMutex // guards state, sequence and hasher for readers

	state    *state.ExchangeState
	sequence int64
	hasher   *StateHasher

	domain      signing.Domain
	separator   common.Hash
	registry    *state.Registry
	custodian   custody.Custodian
	idempotency *IdempotencyChecker
	metrics     *observability.Metrics
	logger      zerolog.Logger
	clock       func() time.Time

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is one committed event with the journals it produced.
type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Batch      *ledger.Batch
	StateDelta []byte
}

// Options configures an Exchange. Domain and Custodian are required.
type Options struct {
	Domain    signing.Domain
	Custodian custody.Custodian
	// Registry holds upgrade targets; nil means state.DefaultRegistry().
	Registry            *state.Registry
	DBChecker           DBIdempotencyChecker
	IdempotencyCapacity int
	Metrics             *observability.Metrics
	Logger              zerolog.Logger
	Clock               func() time.Time
}

// NewExchange creates an uninitialized ledger. Committed outputs are sent
// to persistChan (blocking) and projectionChan (dropped when full); either
// may be nil.
func NewExchange(opts Options, persistChan, projectionChan chan<- CoreOutput) (*Exchange, error) {
	if opts.Custodian == nil {
		return nil, errors.New("custodian is required")
	}
	if err := opts.Domain.Validate(); err != nil {
		return nil, err
	}
	separator, err := opts.Domain.Separator()
	if err != nil {
		return nil, err
	}
	if opts.Registry == nil {
		opts.Registry = state.DefaultRegistry()
	}
	if opts.IdempotencyCapacity <= 0 {
		opts.IdempotencyCapacity = 100_000
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Exchange{
		state:          state.New(),
		hasher:         NewStateHasher(),
		domain:         opts.Domain,
		separator:      separator,
		registry:       opts.Registry,
		custodian:      opts.Custodian,
		idempotency:    NewIdempotencyChecker(opts.IdempotencyCapacity, opts.DBChecker, opts.Metrics, opts.Logger),
		metrics:        opts.Metrics,
		logger:         opts.Logger,
		clock:          opts.Clock,
		persistChan:    persistChan,
		projectionChan: projectionChan,
	}, nil
}

// operation collects the effects of one mutating call until commit.
type operation struct {
	name      string
	ref       string
	ts        time.Time
	txn       *state.Txn
	gen       *ledger.JournalGenerator
	pending   []pendingEvent
	transfers []custody.Transfer
	onCommit  []func()
}

type pendingEvent struct {
	evt    event.Event
	key    string
	batch  *ledger.Batch
	digest []byte
}

// record queues evt. The digest is taken from the transaction as it stands
// now, so replaying the events one by one reproduces the same hash chain.
func (op *operation) record(evt event.Event, batch *ledger.Batch, key string) {
	if key == "" {
		key = fmt.Sprintf("%s:%d", op.ref, len(op.pending))
	}
	op.pending = append(op.pending, pendingEvent{
		evt:    evt,
		key:    key,
		batch:  batch,
		digest: stateDigest(op.txn, evt, batch),
	})
}

// execute runs fn inside a write transaction. The transaction commits only
// if fn succeeds and custody settles every transfer fn queued.
func (e *Exchange) execute(ctx context.Context, name string, fn func(op *operation) error) error {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	e.stateMu.RLock()
	txn := e.state.Begin()
	e.stateMu.RUnlock()

	op := &operation{
		name: name,
		ref:  uuid.New().String(),
		ts:   e.clock().UTC(),
		txn:  txn,
		gen:  ledger.NewJournalGenerator(txn.Balances),
	}

	if err := fn(op); err != nil {
		e.observe(name, start, err)
		return err
	}

	if len(op.transfers) > 0 {
		if err := e.custodian.Settle(ctx, op.transfers); err != nil {
			if !errors.Is(err, ledger.ErrExternalTransferFailed) {
				err = fmt.Errorf("%w: %v", ledger.ErrExternalTransferFailed, err)
			}
			if e.metrics != nil {
				e.metrics.CustodyFailures.Inc()
			}
			e.logger.Error().Err(err).Str("operation", name).Msg("custody settlement failed, operation rolled back")
			e.observe(name, start, err)
			return err
		}
	}

	outputs := e.commit(op)
	e.emit(outputs)
	for _, f := range op.onCommit {
		f()
	}

	e.observe(name, start, nil)
	return nil
}

// commit seals op's events into the hash chain and publishes its state.
func (e *Exchange) commit(op *operation) []CoreOutput {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	outputs := make([]CoreOutput, 0, len(op.pending))
	for _, p := range op.pending {
		out, err := e.seal(p, op.ts)
		if err != nil {
			// Event payloads are plain data; failing to encode one is a bug.
			panic(fmt.Sprintf("FATAL: %v", err))
		}
		outputs = append(outputs, out)
	}
	op.txn.Commit()

	if e.sequence/conservationCheckInterval != (e.sequence-int64(len(outputs)))/conservationCheckInterval {
		if err := ledger.NewInvariantValidator(e.state.Balances).ValidateConservation(); err != nil {
			panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
		}
	}
	return outputs
}

// seal assigns the next sequence to p and advances the hash chain.
// Caller holds stateMu.
func (e *Exchange) seal(p pendingEvent, ts time.Time) (CoreOutput, error) {
	payload, err := event.Encode(p.evt)
	if err != nil {
		return CoreOutput{}, err
	}

	prev := e.hasher.GetPrevHash()
	hash := e.hasher.Next(e.sequence, p.digest)
	e.hasher.Advance(hash)

	if p.batch != nil {
		p.batch.Stamp(e.sequence)
	}

	env := &event.EventEnvelope{
		EventID:        uuid.New(),
		Sequence:       e.sequence,
		IdempotencyKey: p.key,
		EventType:      p.evt.EventType(),
		Account:        p.evt.Subject(),
		Timestamp:      ts,
		Payload:        payload,
		Event:          p.evt,
		StateHash:      hash,
		PrevHash:       prev,
	}
	e.sequence++

	return CoreOutput{Envelope: env, Batch: p.batch, StateDelta: p.digest}, nil
}

// emit hands committed outputs to the workers. Persistence applies
// backpressure; projections are best-effort and rebuild from the log.
func (e *Exchange) emit(outputs []CoreOutput) {
	for _, out := range outputs {
		if e.persistChan != nil {
			e.persistChan <- out
		}
		if e.projectionChan != nil {
			select {
			case e.projectionChan <- out:
			default:
				if e.metrics != nil {
					e.metrics.ProjectionDrops.Inc()
				}
			}
		}
		if e.metrics != nil {
			e.metrics.EventsEmitted.WithLabelValues(out.Envelope.EventType.String()).Inc()
		}
	}
}

func (e *Exchange) observe(name string, start time.Time, err error) {
	reason := ledger.Reason(err)
	if err != nil {
		ev := e.logger.Debug()
		if !ledger.IsRejection(err) {
			ev = e.logger.Warn()
		}
		ev.Err(err).Str("operation", name).Str("reason", reason).Msg("operation rejected")
	}
	if e.metrics == nil {
		return
	}
	e.metrics.OperationsTotal.WithLabelValues(name, reason).Inc()
	e.metrics.OperationDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err == nil {
		e.stateMu.RLock()
		e.metrics.CoreSequence.Set(float64(e.sequence))
		e.metrics.ProcessedCount.Set(float64(e.state.ProcessedCount))
		e.stateMu.RUnlock()
	}
}

// stateDigest returns the canonical bytes hashed into the chain for evt:
// the post-event balances of every account evt moved, the next nonce for
// signed withdrawals, and the payload itself for events without journals.
func stateDigest(txn *state.Txn, evt event.Event, batch *ledger.Batch) []byte {
	var digest []byte
	if batch != nil {
		digest = state.BalanceDigest(txn.Balances, batch.AffectedAccounts())
	}
	switch e := evt.(type) {
	case *event.Withdrawal:
		if e.Signed() {
			digest = append(digest, e.Account.Bytes()...)
			digest = appendUint64LE(digest, txn.Nonces.Next(e.Account))
		}
	case *event.Deposit:
	default:
		payload, err := event.Encode(evt)
		if err != nil {
			panic(fmt.Sprintf("FATAL: %v", err))
		}
		digest = append(digest, payload...)
	}
	return digest
}

func appendUint64LE(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// --- Queries ---

// Info describes the ledger's administrative state.
type Info struct {
	Initialized     bool
	Owner           common.Address
	Submitter       common.Address
	ProcessedCount  uint64
	Version         uint64
	Implementation  string
	DomainSeparator common.Hash
	Sequence        int64
	StateHash       common.Hash
}

// BalanceOf returns the account's ledger balance of asset.
func (e *Exchange) BalanceOf(account, asset common.Address) *uint256.Int {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state.Balances.UserBalance(account, asset)
}

// NonceOf returns the nonce the account's next signed authorization must carry.
func (e *Exchange) NonceOf(account common.Address) uint64 {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state.Nonces.Next(account)
}

// ProcessedCount returns the number of batch items applied since genesis.
func (e *Exchange) ProcessedCount() uint64 {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state.ProcessedCount
}

func (e *Exchange) Owner() common.Address {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state.Owner
}

func (e *Exchange) Submitter() common.Address {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state.Submitter
}

// Version returns the active implementation version (0 before Initialize).
func (e *Exchange) Version() uint64 {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state.Version
}

func (e *Exchange) Info() Info {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return Info{
		Initialized:     e.state.Initialized,
		Owner:           e.state.Owner,
		Submitter:       e.state.Submitter,
		ProcessedCount:  e.state.ProcessedCount,
		Version:         e.state.Version,
		Implementation:  e.state.Implementation,
		DomainSeparator: e.separator,
		Sequence:        e.sequence,
		StateHash:       e.hasher.GetPrevHash(),
	}
}

// Domain returns the signing domain withdrawals are verified against.
func (e *Exchange) Domain() signing.Domain {
	return e.domain
}

func (e *Exchange) DomainSeparator() common.Hash {
	return e.separator
}

// GetSequence returns the next sequence to assign.
func (e *Exchange) GetSequence() int64 {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.sequence
}

// GetStateHash returns the current chain tip.
func (e *Exchange) GetStateHash() [32]byte {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.hasher.GetPrevHash()
}

// CheckInvariants verifies conservation and that custody holds exactly
// what the ledger owes for every asset.
func (e *Exchange) CheckInvariants(ctx context.Context) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	holdings, err := e.custodian.Holdings(ctx)
	if err != nil {
		return err
	}
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	v := ledger.NewInvariantValidator(e.state.Balances)
	if err := v.ValidateConservation(); err != nil {
		return err
	}
	return v.ValidateHoldings(holdings)
}

// Liabilities returns, per asset, the total the ledger owes its users.
func (e *Exchange) Liabilities() map[common.Address]*uint256.Int {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state.Balances.ComputeAssetTotals()
}
