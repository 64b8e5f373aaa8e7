package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/packsale/internal/core"
	"github.com/roach88/packsale/internal/payment"
	"github.com/roach88/packsale/internal/signing"
	"github.com/roach88/packsale/internal/store"
)

// Queries read committed state directly, bypassing the command loop.

// Commitment returns commitment id of sku.
// Fails with UnknownCommitment if it does not exist.
func (e *Engine) Commitment(ctx context.Context, sku string, id int64) (core.Commitment, error) {
	p, err := e.pack("engine.commitment", sku)
	if err != nil {
		return core.Commitment{}, err
	}
	var c core.Commitment
	err = e.store.View(ctx, func(tx *store.Tx) error {
		c, err = p.Commitment(ctx, tx, id)
		return err
	})
	return c, err
}

// Commitments lists commitments of sku, optionally only those owned by owner.
func (e *Engine) Commitments(ctx context.Context, sku string, owner core.Identity) ([]core.Commitment, error) {
	if _, err := e.pack("engine.commitments", sku); err != nil {
		return nil, err
	}
	var out []core.Commitment
	err := e.store.View(ctx, func(tx *store.Tx) error {
		var err error
		out, err = tx.Commitments(ctx, sku, owner)
		return err
	})
	return out, err
}

// Cap returns the cap state of family.
func (e *Engine) Cap(ctx context.Context, family string) (core.CapState, error) {
	var c core.CapState
	err := e.store.View(ctx, func(tx *store.Tx) error {
		var err error
		c, err = tx.Cap(ctx, family)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return core.CapState{}, core.Errorf(core.KindUnknownProduct, "engine.cap", family, "no such family")
	}
	return c, err
}

// Balance returns holder's balance of a fungible token such as "raffle" or
// a chest token.
func (e *Engine) Balance(ctx context.Context, token string, holder core.Identity) (int64, error) {
	var n int64
	err := e.store.View(ctx, func(tx *store.Tx) error {
		var err error
		n, err = tx.Balance(ctx, token, holder)
		return err
	})
	return n, err
}

// Funds returns the settled funds holder has received in currency.
func (e *Engine) Funds(ctx context.Context, holder core.Identity, currency core.Currency) (int64, error) {
	var n int64
	err := e.store.View(ctx, func(tx *store.Tx) error {
		var err error
		n, err = tx.Funds(ctx, holder, currency)
		return err
	})
	return n, err
}

// FundMovements lists holder's fund movements in order.
func (e *Engine) FundMovements(ctx context.Context, holder core.Identity) ([]store.FundMovement, error) {
	var out []store.FundMovement
	err := e.store.View(ctx, func(tx *store.Tx) error {
		var err error
		out, err = tx.FundMovements(ctx, holder)
		return err
	})
	return out, err
}

// Escrow returns escrow entry id.
func (e *Engine) Escrow(ctx context.Context, id int64) (core.EscrowEntry, error) {
	var entry core.EscrowEntry
	err := e.store.View(ctx, func(tx *store.Tx) error {
		var err error
		entry, err = e.escrow.Get(ctx, tx, id)
		return err
	})
	return entry, err
}

// Events lists the event log, optionally for one flow.
func (e *Engine) Events(ctx context.Context, flowToken string) ([]store.Event, error) {
	var out []store.Event
	err := e.store.View(ctx, func(tx *store.Tx) error {
		var err error
		out, err = tx.Events(ctx, flowToken)
		return err
	})
	return out, err
}

// Quote prices quantity units of sku for buyer. For a Native payment the
// second result is the exact attached value required.
func (e *Engine) Quote(sku string, quantity int64, buyer core.Identity) (core.Order, int64, error) {
	return e.QuoteFor(sku, quantity, buyer, buyer)
}

// QuoteFor is Quote with assets delivered to recipient. The returned order is
// the one a signer must sign for a StableCents payment.
func (e *Engine) QuoteFor(sku string, quantity int64, buyer, recipient core.Identity) (core.Order, int64, error) {
	var (
		order core.Order
		err   error
	)
	switch {
	case e.packs[sku] != nil:
		order, err = e.packs[sku].Quote(quantity, buyer, recipient)
	case e.chests[sku] != nil:
		order, err = e.chests[sku].Quote(quantity, buyer, recipient)
	default:
		return core.Order{}, 0, core.Errorf(core.KindUnknownProduct, "engine.quote", sku, "no such product")
	}
	if err != nil {
		return core.Order{}, 0, err
	}
	native, err := e.oracle.Convert(order.Currency, core.Native, order.Due())
	if err != nil {
		return core.Order{}, 0, fmt.Errorf("engine.quote: %w", err)
	}
	return order, native, nil
}

// AuditReport summarizes a scan of the event log.
type AuditReport struct {
	Events   int      `json:"events"`
	Flows    int      `json:"flows"`
	LastSeq  int64    `json:"last_seq"`
	Problems []string `json:"problems,omitempty"`
}

// OK reports whether the scan found nothing wrong.
func (r AuditReport) OK() bool {
	return len(r.Problems) == 0
}

// Audit rescans the whole event log. Seqs must run gap-free from 1, every
// digest must match its payload and every id must derive from flow and seq.
func (e *Engine) Audit(ctx context.Context) (AuditReport, error) {
	events, err := e.Events(ctx, "")
	if err != nil {
		return AuditReport{}, err
	}

	report := AuditReport{Events: len(events)}
	flows := make(map[string]struct{})
	for i, ev := range events {
		flows[ev.FlowToken] = struct{}{}
		if want := int64(i + 1); ev.Seq != want {
			report.Problems = append(report.Problems, fmt.Sprintf("seq %d: expected %d", ev.Seq, want))
		}
		if err := ev.Verify(); err != nil {
			report.Problems = append(report.Problems, err.Error())
		}
		if want := EventID(ev.FlowToken, ev.Seq); ev.ID != want {
			report.Problems = append(report.Problems, fmt.Sprintf("seq %d: id %s does not derive from flow %s", ev.Seq, ev.ID, ev.FlowToken))
		}
		report.LastSeq = ev.Seq
	}
	report.Flows = len(flows)
	return report, nil
}

// SignPayment quotes sku for buyer and recipient and returns a StableCents
// payment for that order signed by signer. A zero params.Value signs the
// amount due.
func (e *Engine) SignPayment(signer signing.Signer, sku string, quantity int64, buyer, recipient core.Identity, params payment.Params) (core.Payment, error) {
	order, _, err := e.QuoteFor(sku, quantity, buyer, recipient)
	if err != nil {
		return core.Payment{}, err
	}
	vendor, _ := e.catalog.Vendor(sku)
	if params.Value == 0 {
		params.Value = order.Due()
	}
	return payment.SignPayment(signer, vendor, order, params)
}
