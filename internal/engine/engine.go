package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/packsale/internal/canonical"
	"github.com/roach88/packsale/internal/capacity"
	"github.com/roach88/packsale/internal/chest"
	"github.com/roach88/packsale/internal/collectible"
	"github.com/roach88/packsale/internal/core"
	"github.com/roach88/packsale/internal/escrow"
	"github.com/roach88/packsale/internal/migration"
	"github.com/roach88/packsale/internal/oracle"
	"github.com/roach88/packsale/internal/pack"
	"github.com/roach88/packsale/internal/payment"
	"github.com/roach88/packsale/internal/raffle"
	"github.com/roach88/packsale/internal/sale"
	"github.com/roach88/packsale/internal/signing"
	"github.com/roach88/packsale/internal/store"
)

// Engine is the single-writer command processor.
//
// Public command methods (Purchase, Mint, Open, ...) enqueue a command and
// block until Run has executed it. Each command runs in exactly one store
// transaction: a failing command rolls back every write, emits no events and
// returns the clock to where it was.
//
// Thread-safety model:
//   - command methods and queries: safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//   - Bootstrap(): call before Run
type Engine struct {
	store   *store.Store
	clock   *Clock
	queue   *commandQueue
	flowGen FlowTokenGenerator
	now     func() time.Time
	ledger  collectible.Ledger
	logger  *slog.Logger

	maxEvents int

	catalog   Catalog
	oracle    oracle.Oracle
	auth      *payment.Authorizer
	escrow    *escrow.Escrow
	caps      *capacity.Registry
	raffle    *raffle.Engine
	packs     map[string]*pack.Pack
	chests    map[string]*chest.Chest
	sale      *sale.Sale
	migration *migration.Migration
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithMaxEvents sets the maximum number of events per command.
// Default: DefaultMaxEvents.
func WithMaxEvents(n int) EngineOption {
	return func(e *Engine) {
		e.maxEvents = n
	}
}

// WithFlowGenerator replaces the UUIDv7 flow token generator.
func WithFlowGenerator(g FlowTokenGenerator) EngineOption {
	return func(e *Engine) {
		e.flowGen = g
	}
}

// WithNow sets the wall clock used for escrow release and signer windows.
func WithNow(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLedger sets the collectible ledger outbox entries are delivered to.
// Default: an in-memory ledger.
func WithLedger(l collectible.Ledger) EngineOption {
	return func(e *Engine) {
		e.ledger = l
	}
}

// WithLogger sets the logger for the engine and every component.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an Engine over s serving the products in cat.
//
// Prices are converted with o and signed orders are checked with v. The
// catalog is validated here; grants it declares are written by Bootstrap.
func New(s *store.Store, cat Catalog, o oracle.Oracle, v signing.Verifier, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		store:     s,
		clock:     NewClock(),
		queue:     newCommandQueue(),
		flowGen:   UUIDv7Generator{},
		now:       time.Now,
		maxEvents: DefaultMaxEvents,
		oracle:    o,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.ledger == nil {
		e.ledger = collectible.NewMemory()
	}

	cat, err := cat.normalize()
	if err != nil {
		return nil, err
	}
	e.catalog = cat

	e.escrow = escrow.New(cat.Split, e.logger)
	e.auth = payment.New(o, v, e.escrow,
		payment.WithWindow(cat.SignerWindow),
		payment.WithSplit(cat.Split),
		payment.WithLogger(e.logger),
	)
	e.caps = capacity.New(e.logger)
	e.raffle = raffle.New(e.logger)
	e.sale = sale.New(o, e.logger)
	e.packs = make(map[string]*pack.Pack, len(cat.Packs))
	e.chests = make(map[string]*chest.Chest, len(cat.Chests))

	for _, p := range cat.Packs {
		pk := pack.New(p, e.auth, e.caps, e.raffle, e.logger)
		e.packs[p.SKU] = pk
		e.sale.Register(p.SKU, sale.PackVendor{Pack: pk})
	}
	for _, c := range cat.Chests {
		ch := chest.New(c.Product, e.packs[c.PackSKU], e.auth, e.caps, e.logger)
		e.chests[c.SKU] = ch
		e.sale.Register(c.SKU, sale.ChestVendor{Chest: ch})
	}
	if cat.Migration != nil {
		e.migration = migration.New(cat.Migration.Name, cat.Migration.Cutoff, e.logger)
	}

	return e, nil
}

// Bootstrap creates caps and writes the catalog's grants: seller approvals,
// cap updaters, raffle minters, custodians and signer limits.
//
// Idempotent. Existing caps keep their issued count. Run after every start
// so the database reflects the configured catalog.
func (e *Engine) Bootstrap(ctx context.Context) error {
	cat := e.catalog
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		for _, family := range sortedKeys(cat.Caps) {
			if err := tx.EnsureCap(ctx, family, cat.Caps[family]); err != nil {
				return err
			}
		}

		updaters := make([]core.Identity, 0, len(cat.Packs)+len(cat.Chests))
		for _, p := range cat.Packs {
			if err := e.auth.SetSellerApproval(ctx, tx, p.Vendor, []string{p.SKU}, true); err != nil {
				return err
			}
			if p.Raffle {
				if err := e.raffle.SetMinterApproval(ctx, tx, p.Vendor, true); err != nil {
					return err
				}
			}
			updaters = append(updaters, p.Vendor)
		}
		for _, c := range cat.Chests {
			if err := e.auth.SetSellerApproval(ctx, tx, c.Vendor, []string{c.SKU}, true); err != nil {
				return err
			}
			updaters = append(updaters, c.Vendor)
		}
		if err := e.caps.SetCanUpdate(ctx, tx, updaters, true); err != nil {
			return err
		}

		for _, id := range cat.Custodians {
			if err := e.escrow.SetCustodian(ctx, tx, id, true); err != nil {
				return err
			}
		}
		for _, signer := range sortedKeys(cat.SignerLimits) {
			if err := e.auth.SetSignerLimit(ctx, tx, signer, cat.SignerLimits[signer]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	e.logger.Info("engine bootstrapped",
		"packs", len(cat.Packs),
		"chests", len(cat.Chests),
		"caps", len(cat.Caps),
		"signers", len(cat.SignerLimits),
	)
	return nil
}

// Run starts the single-writer command loop.
// Blocks until ctx is cancelled or Stop() is called.
//
// On start the logical clock resumes from the highest stored seq and any
// outbox entries left by a previous process are delivered.
func (e *Engine) Run(ctx context.Context) error {
	var maxSeq int64
	if err := e.store.View(ctx, func(tx *store.Tx) error {
		var err error
		maxSeq, err = tx.MaxSeq(ctx)
		return err
	}); err != nil {
		e.queue.Close()
		e.rejectPending()
		return fmt.Errorf("resume clock: %w", err)
	}
	e.clock.seq.Store(maxSeq)

	e.logger.Info("engine starting", "seq", maxSeq)

	if _, err := e.deliver(ctx, ""); err != nil {
		e.logger.Warn("outbox delivery deferred", "error", err)
	}

	for {
		cmd, ok := e.queue.TryDequeue()
		if ok {
			value, err := e.execute(ctx, cmd)
			cmd.reply <- reply{value: value, err: err}
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.queue.Close()
			e.rejectPending()
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel is closed once the queue is closed.
			if e.stopped() {
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop gracefully shuts down the engine. Commands already queued are
// executed; later submissions fail with ENGINE_STOPPED.
func (e *Engine) Stop() {
	e.queue.Close()
}

func (e *Engine) stopped() bool {
	e.queue.mu.Lock()
	defer e.queue.mu.Unlock()
	return e.queue.closed && len(e.queue.commands) == 0
}

func (e *Engine) rejectPending() {
	for _, cmd := range e.queue.Drain() {
		cmd.reply <- reply{err: newStoppedError(cmd.name)}
	}
}

// submit enqueues a command and waits for its result.
func submit[T any](ctx context.Context, e *Engine, name string, fn func(ctx context.Context, tx *store.Tx, rec *recorder) (T, error)) (T, error) {
	cmd := newCommand(name, func(ctx context.Context, tx *store.Tx, rec *recorder) (any, error) {
		return fn(ctx, tx, rec)
	})
	return await[T](ctx, e, cmd)
}

func await[T any](ctx context.Context, e *Engine, cmd *command) (T, error) {
	var zero T
	if !e.queue.Enqueue(cmd) {
		return zero, newStoppedError(cmd.name)
	}
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case r := <-cmd.reply:
		if r.err != nil {
			return zero, r.err
		}
		v, _ := r.value.(T)
		return v, nil
	}
}

// execute runs one command. Called only from the Run goroutine.
func (e *Engine) execute(ctx context.Context, cmd *command) (any, error) {
	if cmd.direct != nil {
		return cmd.direct(ctx)
	}

	flow := e.flowGen.Generate()
	start := e.clock.Current()
	rec := &recorder{flow: flow, quota: NewQuotaEnforcer(e.maxEvents)}

	var value any
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		v, err := cmd.fn(ctx, tx, rec)
		if err != nil {
			return err
		}
		for _, ev := range rec.events {
			seq := e.clock.Next()
			if _, err := tx.AppendEvent(ctx, EventID(flow, seq), seq, flow, ev.kind, ev.payload); err != nil {
				return err
			}
		}
		value = v
		return nil
	})
	if err != nil {
		e.clock.Rewind(start)
		e.logger.Info("command rejected",
			"command", cmd.name,
			"flow", flow,
			"kind", core.KindOf(err),
			"error", err,
		)
		return nil, err
	}

	e.logger.Info("command committed",
		"command", cmd.name,
		"flow", flow,
		"events", len(rec.events),
		"seq", e.clock.Current(),
	)

	if _, err := e.deliver(ctx, flow); err != nil {
		// The command itself committed; delivery is retried after the next one.
		e.logger.Warn("outbox delivery deferred", "flow", flow, "error", err)
	}
	return value, nil
}

type pendingEvent struct {
	kind    string
	payload canonical.Object
}

// recorder buffers the events a command emits until its writes succeed.
type recorder struct {
	flow   string
	events []pendingEvent
	quota  *QuotaEnforcer
}

// Emit queues an event. Fails once the command's event quota is spent.
func (r *recorder) Emit(kind string, payload canonical.Object) error {
	if err := r.quota.Check(r.flow); err != nil {
		return &RuntimeError{
			Code:      ErrCodeQuotaExceeded,
			Message:   err.Error(),
			FlowToken: r.flow,
			Command:   kind,
		}
	}
	r.events = append(r.events, pendingEvent{kind: kind, payload: payload})
	return nil
}

// Flow returns the command's flow token.
func (r *recorder) Flow() string {
	return r.flow
}

// outboxOrder is the outbox payload written by pack.Mint (owner, product,
// quantity) and by escrow release (from, to).
type outboxOrder struct {
	Owner    string `json:"owner"`
	Product  string `json:"product"`
	Quantity int64  `json:"quantity"`
	From     string `json:"from"`
	To       string `json:"to"`
	Ref      string `json:"ref"`
}

// deliver hands pending outbox entries to the collectible ledger in
// insertion order and returns how many were delivered.
//
// A collectible.Transactional ledger applies each entry in the transaction
// that marks it delivered, so delivery is exactly-once. Any other ledger is
// at-least-once: an entry is marked delivered only after the ledger accepted
// it, so a crash in between applies it again on restart.
// Called only from the Run goroutine.
func (e *Engine) deliver(ctx context.Context, flow string) (int, error) {
	var pending []store.OutboxEntry
	if err := e.store.View(ctx, func(tx *store.Tx) error {
		var err error
		pending, err = tx.PendingOutbox(ctx)
		return err
	}); err != nil {
		return 0, fmt.Errorf("deliver: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}
	if flow == "" {
		flow = e.flowGen.Generate()
	}

	txLedger, inTx := e.ledger.(collectible.Transactional)

	delivered := 0
	for _, entry := range pending {
		var o outboxOrder
		if err := json.Unmarshal([]byte(entry.Payload), &o); err != nil {
			return delivered, newDeliveryError(flow, entry.ID, "", fmt.Errorf("decode payload: %w", err))
		}

		var apply func(ctx context.Context, tx *store.Tx) (string, canonical.Object, error)
		switch entry.Kind {
		case pack.OutboxMint:
			apply = func(ctx context.Context, tx *store.Tx) (string, canonical.Object, error) {
				var (
					units []collectible.UnitID
					err   error
				)
				if tx != nil {
					units, err = txLedger.MintTx(ctx, tx, core.Identity(o.Owner), o.Product, o.Quantity)
				} else {
					units, err = e.ledger.Mint(ctx, core.Identity(o.Owner), o.Product, o.Quantity)
				}
				if err != nil {
					return "", nil, err
				}
				payload := canonical.Object{
					"outbox":   entry.ID,
					"owner":    o.Owner,
					"product":  o.Product,
					"quantity": o.Quantity,
					"ref":      o.Ref,
				}
				if len(units) > 0 {
					payload["first_unit"] = int64(units[0])
					payload["last_unit"] = int64(units[len(units)-1])
				}
				return "collectible.delivered", payload, nil
			}
		case escrow.OutboxTransfer:
			apply = func(ctx context.Context, tx *store.Tx) (string, canonical.Object, error) {
				var (
					moved int64
					err   error
				)
				if tx != nil {
					moved, err = txLedger.TransferTx(ctx, tx, core.Identity(o.From), core.Identity(o.To))
				} else {
					moved, err = e.ledger.Transfer(ctx, core.Identity(o.From), core.Identity(o.To))
				}
				if err != nil {
					return "", nil, err
				}
				return "collectible.transferred", canonical.Object{
					"outbox":   entry.ID,
					"from":     o.From,
					"to":       o.To,
					"quantity": moved,
					"ref":      o.Ref,
				}, nil
			}
		default:
			return delivered, newDeliveryError(flow, entry.ID, "", fmt.Errorf("unknown outbox kind %q", entry.Kind))
		}

		var (
			kind    string
			payload canonical.Object
		)
		if !inTx {
			var err error
			if kind, payload, err = apply(ctx, nil); err != nil {
				return delivered, newDeliveryError(flow, entry.ID, o.Ref, err)
			}
		}

		start := e.clock.Current()
		var applyErr error
		err := e.store.WithTx(ctx, func(tx *store.Tx) error {
			if inTx {
				if kind, payload, applyErr = apply(ctx, tx); applyErr != nil {
					return applyErr
				}
			}
			if err := tx.MarkDelivered(ctx, entry.ID); err != nil {
				return err
			}
			seq := e.clock.Next()
			_, err := tx.AppendEvent(ctx, EventID(flow, seq), seq, flow, kind, payload)
			return err
		})
		if err != nil {
			e.clock.Rewind(start)
			if applyErr != nil {
				return delivered, newDeliveryError(flow, entry.ID, o.Ref, applyErr)
			}
			return delivered, fmt.Errorf("deliver outbox %d: %w", entry.ID, err)
		}

		e.logger.Debug("outbox delivered", "outbox", entry.ID, "kind", entry.Kind, "ref", o.Ref)
		delivered++
	}
	return delivered, nil
}

// Deliver retries outbox delivery through the command loop and returns the
// number of entries delivered.
func (e *Engine) Deliver(ctx context.Context) (int, error) {
	cmd := &command{
		name: "outbox.deliver",
		direct: func(ctx context.Context) (any, error) {
			return e.deliver(ctx, "")
		},
		reply: make(chan reply, 1),
	}
	return await[int](ctx, e, cmd)
}

// Clock returns the engine's logical clock.
func (e *Engine) Clock() *Clock {
	return e.clock
}

// QueueLen returns the current number of pending commands.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// MaxEvents returns the configured per-command event limit.
func (e *Engine) MaxEvents() int {
	return e.maxEvents
}

// Ledger returns the collectible ledger outbox entries are delivered to.
func (e *Engine) Ledger() collectible.Ledger {
	return e.ledger
}

// Catalog returns the normalized catalog.
func (e *Engine) Catalog() Catalog {
	return e.catalog
}

// Now returns the engine's wall clock reading.
func (e *Engine) Now() time.Time {
	return e.now()
}
