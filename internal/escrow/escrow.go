// Package escrow holds signed-order settlement funds until a release time.
//
// Entries move Open -> Released (funds to seller, referral split applied) or
// Open -> Cancelled (refund to payer). Both transitions are terminal.
//
// Assets bought with escrowed funds are held by core.EscrowHolder(id) until
// release, when balances move to the beneficiary and a collectible transfer
// is queued in the outbox. A cancelled entry keeps its custody.
package escrow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/roach88/packsale/internal/canonical"
	"github.com/roach88/packsale/internal/core"
	"github.com/roach88/packsale/internal/referral"
	"github.com/roach88/packsale/internal/store"
)

// OutboxTransfer is the outbox kind moving collectible units out of custody.
const OutboxTransfer = "collectible.transfer"

// Escrow manages escrow entries in the store.
type Escrow struct {
	split  referral.Split
	logger *slog.Logger
}

// New returns an Escrow that applies split on release. A nil logger uses slog.Default().
func New(split referral.Split, logger *slog.Logger) *Escrow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Escrow{split: split, logger: logger}
}

// Open records a new entry in the open state and returns its id.
func (e *Escrow) Open(ctx context.Context, tx *store.Tx, entry core.EscrowEntry) (int64, error) {
	entry.State = core.EscrowOpen
	id, err := tx.InsertEscrow(ctx, entry)
	if err != nil {
		return 0, fmt.Errorf("escrow.open: %w", err)
	}
	e.logger.Debug("escrow opened", "id", id, "amount", entry.Amount, "release_at", entry.ReleaseAt)
	return id, nil
}

// Release pays an open entry out to its seller once now >= ReleaseAt.
func (e *Escrow) Release(ctx context.Context, tx *store.Tx, id int64, now time.Time) (core.EscrowEntry, error) {
	const op = "escrow.release"

	entry, err := e.load(ctx, tx, op, id)
	if err != nil {
		return core.EscrowEntry{}, err
	}
	if entry.State != core.EscrowOpen {
		return core.EscrowEntry{}, core.Errorf(core.KindInvalidEscrowState, op, subject(id), "entry is %s", entry.State)
	}
	if now.Before(entry.ReleaseAt) {
		return core.EscrowEntry{}, core.Errorf(core.KindInvalidEscrowState, op, subject(id),
			"not releasable until %s", entry.ReleaseAt.UTC().Format(time.RFC3339))
	}

	if err := e.transition(ctx, tx, op, id, core.EscrowReleased); err != nil {
		return core.EscrowEntry{}, err
	}
	if err := e.split.Distribute(ctx, tx, referral.Payout{
		Seller:   entry.Seller,
		Referrer: entry.Referrer,
		Buyer:    entry.Payer,
		Currency: entry.Currency,
		Amount:   entry.Amount,
		Ref:      subject(id),
	}); err != nil {
		return core.EscrowEntry{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := e.releaseCustody(ctx, tx, entry); err != nil {
		return core.EscrowEntry{}, fmt.Errorf("%s: %w", op, err)
	}

	entry.State = core.EscrowReleased
	e.logger.Info("escrow released", "id", id, "seller", entry.Seller, "amount", entry.Amount)
	return entry, nil
}

// Cancel refunds an open entry to its payer. actor must be an escrow custodian.
func (e *Escrow) Cancel(ctx context.Context, tx *store.Tx, id int64, actor core.Identity) (core.EscrowEntry, error) {
	const op = "escrow.cancel"

	custodian, err := tx.IsCustodian(ctx, actor)
	if err != nil {
		return core.EscrowEntry{}, fmt.Errorf("%s: %w", op, err)
	}
	if !custodian {
		return core.EscrowEntry{}, core.Errorf(core.KindUnauthorized, op, string(actor), "not an escrow custodian")
	}

	entry, err := e.load(ctx, tx, op, id)
	if err != nil {
		return core.EscrowEntry{}, err
	}
	if entry.State != core.EscrowOpen {
		return core.EscrowEntry{}, core.Errorf(core.KindInvalidEscrowState, op, subject(id), "entry is %s", entry.State)
	}

	if err := e.transition(ctx, tx, op, id, core.EscrowCancelled); err != nil {
		return core.EscrowEntry{}, err
	}
	if err := tx.RecordFunds(ctx, store.FundMovement{
		Holder:   entry.Payer,
		Currency: entry.Currency,
		Amount:   entry.Amount,
		Reason:   store.ReasonRefund,
		Ref:      subject(id),
	}); err != nil {
		return core.EscrowEntry{}, fmt.Errorf("%s: %w", op, err)
	}

	entry.State = core.EscrowCancelled
	e.logger.Info("escrow cancelled", "id", id, "payer", entry.Payer, "amount", entry.Amount, "actor", actor)
	return entry, nil
}

// releaseCustody hands everything held for entry to its beneficiary.
func (e *Escrow) releaseCustody(ctx context.Context, tx *store.Tx, entry core.EscrowEntry) error {
	holder := core.EscrowHolder(entry.ID)
	to := entry.Beneficiary
	if to.IsZero() {
		to = entry.Payer
	}

	holdings, err := tx.Holdings(ctx, holder)
	if err != nil {
		return err
	}
	for _, h := range holdings {
		ok, err := tx.Debit(ctx, h.Token, holder, h.Amount)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("custody %s: %s balance changed", holder, h.Token)
		}
		if err := tx.Credit(ctx, h.Token, to, h.Amount); err != nil {
			return err
		}
	}

	backed, err := tx.EscrowBacksCommitments(ctx, entry.ID)
	if err != nil {
		return err
	}
	if backed {
		if _, err := tx.EnqueueOutbox(ctx, OutboxTransfer, canonical.Object{
			"from": string(holder),
			"to":   string(to),
			"ref":  subject(entry.ID),
		}); err != nil {
			return err
		}
	}

	e.logger.Debug("escrow custody released", "id", entry.ID, "to", to, "balances", len(holdings), "collectibles", backed)
	return nil
}

// SetCustodian grants or revokes cancellation rights.
func (e *Escrow) SetCustodian(ctx context.Context, tx *store.Tx, address core.Identity, custodian bool) error {
	if err := tx.SetCustodian(ctx, address, custodian); err != nil {
		return fmt.Errorf("escrow.set_custodian: %w", err)
	}
	return nil
}

// Get returns an entry, failing with InvalidEscrowState if it does not exist.
func (e *Escrow) Get(ctx context.Context, tx *store.Tx, id int64) (core.EscrowEntry, error) {
	return e.load(ctx, tx, "escrow.get", id)
}

func (e *Escrow) load(ctx context.Context, tx *store.Tx, op string, id int64) (core.EscrowEntry, error) {
	entry, err := tx.Escrow(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.EscrowEntry{}, core.Errorf(core.KindInvalidEscrowState, op, subject(id), "no such entry")
	}
	if err != nil {
		return core.EscrowEntry{}, fmt.Errorf("%s: %w", op, err)
	}
	return entry, nil
}

func (e *Escrow) transition(ctx context.Context, tx *store.Tx, op string, id int64, to core.EscrowState) error {
	ok, err := tx.TransitionEscrow(ctx, id, core.EscrowOpen, to)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return core.Errorf(core.KindInvalidEscrowState, op, subject(id), "entry is no longer open")
	}
	return nil
}

func subject(id int64) string {
	return "escrow=" + strconv.FormatInt(id, 10)
}
