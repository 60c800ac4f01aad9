package market

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"nftmarket/core/events"
	"nftmarket/core/types"
	nativecommon "nftmarket/native/common"
)

const moduleName = "market"

type engineState interface {
	MarketListingGet(assetID string) (*Listing, bool, error)
	MarketListingPut(*Listing) error
	MarketListingIDs() ([]string, error)
	MarketParamsGet() (*Params, bool, error)
	MarketParamsPut(*Params) error
	Snapshot() int
	RevertToSnapshot(id int)
	Commit() error
}

// Ledger moves value between accounts and purses and relays custody transfers
// to the asset contract. Every call either fully succeeds or returns an error
// without side effects.
type Ledger interface {
	CreatePurse(owner [20]byte) ([32]byte, error)
	PurseOwner(id [32]byte) ([20]byte, error)
	PurseBalance(id [32]byte) (*uint256.Int, error)
	AccountToPurse(from [20]byte, to [32]byte, amount *uint256.Int) error
	PurseToPurse(from, to [32]byte, amount *uint256.Int) error
	PurseToAccount(from [32]byte, to [20]byte, amount *uint256.Int) error
	TransferAsset(contract, operator, from, to [20]byte, assetIDs []string) error
}

// Metrics receives per-operation observations. Implementations must be safe to
// call with the engine lock held.
type Metrics interface {
	ObserveOperation(op, kind string, duration time.Duration)
	ObserveTrade(price *uint256.Int)
}

// Engine implements the listing lifecycle, the bid book and trade settlement.
// Operations are serialised and each one is applied atomically: on any error
// every state change made by the operation is reverted and no event is
// emitted.
type Engine struct {
	mu      sync.Mutex
	state   engineState
	ledger  Ledger
	emitter events.Emitter
	pauses  nativecommon.PauseView
	metrics Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
	nowFn   func() time.Time
}

// NewEngine creates a market engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		tracer:  otel.Tracer("nftmarket/market"),
		nowFn:   time.Now,
	}
}

// SetState configures the state backend.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger configures the value and custody transfer backend.
func (e *Engine) SetLedger(ledger Ledger) { e.ledger = ledger }

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

func (e *Engine) SetMetrics(m Metrics) { e.metrics = m }

// SetLogger overrides the logger. Passing nil restores slog.Default().
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetTracer overrides the tracer used for per-operation spans. Passing nil
// restores the global provider's tracer.
func (e *Engine) SetTracer(tracer trace.Tracer) {
	if tracer == nil {
		tracer = otel.Tracer("nftmarket/market")
	}
	e.tracer = tracer
}

// SetNowFunc overrides the time source used for durations, primarily in tests.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	e.nowFn = now
}

// operation collects the effects of one atomic unit that are only published
// after commit.
type operation struct {
	name    string
	assetID string
	events  []*types.Event
	trades  []*uint256.Int
}

func (o *operation) emit(evt *types.Event) {
	if evt != nil {
		o.events = append(o.events, evt)
	}
}

func (e *Engine) execute(name, assetID string, guarded bool, fn func(op *operation) error) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.ledger == nil {
		return errNilLedger
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	op := &operation{name: name, assetID: strings.TrimSpace(assetID)}
	_, span := e.tracer.Start(context.Background(), "market."+name, trace.WithAttributes(
		attribute.String("market.op", name),
		attribute.String("market.asset_id", op.assetID),
	))
	defer span.End()

	if guarded {
		if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
			e.finish(span, name, op.assetID, err, 0)
			return err
		}
	}
	start := e.nowFn()
	snapshot := e.state.Snapshot()
	err := fn(op)
	if err == nil {
		err = e.state.Commit()
	}
	elapsed := e.nowFn().Sub(start)
	if err != nil {
		e.state.RevertToSnapshot(snapshot)
		e.finish(span, name, op.assetID, err, elapsed)
		return err
	}
	for _, evt := range op.events {
		e.emitter.Emit(marketEvent{evt: evt})
	}
	if e.metrics != nil {
		for _, price := range op.trades {
			e.metrics.ObserveTrade(price)
		}
	}
	e.finish(span, name, op.assetID, nil, elapsed)
	return nil
}

// Run applies fn as one atomic unit serialised with market operations. It is
// used for custody and funding setup that writes the same state the engine
// snapshots. Run is not subject to the market pause.
func (e *Engine) Run(name string, fn func() error) error {
	if fn == nil {
		return nil
	}
	return e.execute(name, "", false, func(*operation) error { return fn() })
}

func (e *Engine) finish(span trace.Span, name, assetID string, err error, elapsed time.Duration) {
	kind := ErrorKind(err)
	if err != nil {
		span.SetAttributes(attribute.String("market.error_kind", kind))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if e.metrics != nil {
		e.metrics.ObserveOperation(name, kind, elapsed)
	}
	if e.logger == nil {
		return
	}
	if err != nil {
		e.logger.Warn("market operation rejected", "op", name, "assetId", assetID, "kind", kind, "error", err)
		return
	}
	e.logger.Info("market operation applied", "op", name, "assetId", assetID, "duration", elapsed)
}

func (e *Engine) loadParams() (*Params, error) {
	params, ok, err := e.state.MarketParamsGet()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	return params, nil
}

func (e *Engine) loadListing(assetID string) (*Listing, error) {
	listing, ok, err := e.state.MarketListingGet(assetID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrListingNotFound
	}
	return listing, nil
}

// loadOrNew returns the stored listing or synthesises an empty one.
func (e *Engine) loadOrNew(contract [20]byte, assetID string) (*Listing, error) {
	listing, ok, err := e.state.MarketListingGet(assetID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return NewListing(contract, assetID), nil
	}
	return listing, nil
}

func (e *Engine) storeListing(l *Listing) error {
	if err := l.Validate(); err != nil {
		return err
	}
	return e.state.MarketListingPut(l)
}

// pull moves funds from a caller funding source into the market escrow.
func (e *Engine) pull(params *Params, source [32]byte, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	return transferError("escrow deposit", e.ledger.PurseToPurse(source, params.EscrowPurse, amount))
}

// payout moves funds from the market escrow to an account.
func (e *Engine) payout(params *Params, to [20]byte, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	return transferError("escrow payout", e.ledger.PurseToAccount(params.EscrowPurse, to, amount))
}

func (e *Engine) moveAsset(params *Params, l *Listing, from, to [20]byte) error {
	err := e.ledger.TransferAsset(l.Contract, params.MarketAddress, from, to, []string{l.AssetID})
	return transferError("asset custody", err)
}

func (e *Engine) authorizeSource(caller [20]byte, source [32]byte) error {
	owner, err := e.ledger.PurseOwner(source)
	if err != nil {
		return transferError("funding source", err)
	}
	if owner != caller {
		return ErrNotPurseOwner
	}
	return nil
}

func normalizeAssetID(assetID string) (string, error) {
	trimmed := strings.TrimSpace(assetID)
	if trimmed == "" {
		return "", ErrMissingAssetID
	}
	return trimmed, nil
}

func checkSupported(params *Params, contract [20]byte) error {
	if !params.Supports(contract) {
		return ErrUnsupportedContract
	}
	return nil
}

func checkAsset(l *Listing, contract [20]byte, assetID string) error {
	if l.Contract != contract || l.AssetID != assetID {
		return ErrAssetMismatch
	}
	return nil
}
