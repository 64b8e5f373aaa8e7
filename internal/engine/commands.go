package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/packsale/internal/canonical"
	"github.com/roach88/packsale/internal/chest"
	"github.com/roach88/packsale/internal/core"
	"github.com/roach88/packsale/internal/pack"
	"github.com/roach88/packsale/internal/payment"
	"github.com/roach88/packsale/internal/sale"
	"github.com/roach88/packsale/internal/store"
)

// Purchase buys packs of sku and records a commitment.
// A zero req.Now is replaced by the engine's wall clock.
func (e *Engine) Purchase(ctx context.Context, sku string, req payment.Purchase) (pack.Receipt, error) {
	p, err := e.pack("engine.purchase", sku)
	if err != nil {
		return pack.Receipt{}, err
	}
	return submit(ctx, e, "pack.purchase", func(ctx context.Context, tx *store.Tx, rec *recorder) (pack.Receipt, error) {
		req.Now = e.stamp(req.Now)
		rc, err := p.Purchase(ctx, tx, req)
		if err != nil {
			return pack.Receipt{}, err
		}
		return rc, rec.Emit("pack.purchase", canonical.Object{
			"sku":      sku,
			"id":       rc.Commitment.ID,
			"buyer":    string(req.Buyer),
			"owner":    string(rc.Commitment.Owner),
			"quantity": rc.Commitment.ProductQuantity,
			"tickets":  rc.Commitment.TicketQuantity,
			"payment":  paymentObject(rc.Payment),
		})
	})
}

// Mint fulfills the next batch of commitment id of sku.
func (e *Engine) Mint(ctx context.Context, sku string, id int64) (pack.MintResult, error) {
	p, err := e.pack("engine.mint", sku)
	if err != nil {
		return pack.MintResult{}, err
	}
	return submit(ctx, e, "pack.mint", func(ctx context.Context, tx *store.Tx, rec *recorder) (pack.MintResult, error) {
		res, err := p.Mint(ctx, tx, id)
		if err != nil {
			return pack.MintResult{}, err
		}
		c := res.Commitment
		minted := canonical.Object{
			"sku":       sku,
			"id":        id,
			"owner":     string(c.Owner),
			"units":     res.Units,
			"fulfilled": c.FulfilledCount,
			"remaining": c.Remaining(),
		}
		if res.Holder != c.Owner {
			minted["holder"] = string(res.Holder)
		}
		if err := rec.Emit("pack.mint", minted); err != nil {
			return pack.MintResult{}, err
		}
		if res.TicketsAllotted > 0 {
			issued := canonical.Object{
				"ref":      fmt.Sprintf("%s/%d", sku, id),
				"owner":    string(c.Owner),
				"allotted": res.TicketsAllotted,
				"issued":   res.TicketsIssued,
			}
			if res.Holder != c.Owner {
				issued["holder"] = string(res.Holder)
			}
			if err := rec.Emit("raffle.issue", issued); err != nil {
				return pack.MintResult{}, err
			}
		}
		return res, nil
	})
}

// PurchaseChest buys chests of sku, crediting chest balance immediately.
func (e *Engine) PurchaseChest(ctx context.Context, sku string, req payment.Purchase) (chest.Receipt, error) {
	c, err := e.chest("engine.purchase_chest", sku)
	if err != nil {
		return chest.Receipt{}, err
	}
	return submit(ctx, e, "chest.purchase", func(ctx context.Context, tx *store.Tx, rec *recorder) (chest.Receipt, error) {
		req.Now = e.stamp(req.Now)
		rc, err := c.Purchase(ctx, tx, req)
		if err != nil {
			return chest.Receipt{}, err
		}
		return rc, rec.Emit("chest.purchase", canonical.Object{
			"sku":       sku,
			"buyer":     string(req.Buyer),
			"recipient": string(rc.Recipient),
			"quantity":  rc.Quantity,
			"balance":   rc.Balance,
			"payment":   paymentObject(rc.Payment),
		})
	})
}

// Open burns quantity chests of sku held by owner and records the
// resulting pack commitment.
func (e *Engine) Open(ctx context.Context, sku string, owner core.Identity, quantity int64) (core.Commitment, error) {
	c, err := e.chest("engine.open", sku)
	if err != nil {
		return core.Commitment{}, err
	}
	return submit(ctx, e, "chest.open", func(ctx context.Context, tx *store.Tx, rec *recorder) (core.Commitment, error) {
		cm, err := c.Open(ctx, tx, owner, quantity, e.now())
		if err != nil {
			return core.Commitment{}, err
		}
		return cm, rec.Emit("chest.open", canonical.Object{
			"sku":      sku,
			"owner":    string(owner),
			"opened":   quantity,
			"pack":     cm.SKU,
			"id":       cm.ID,
			"quantity": cm.ProductQuantity,
			"tickets":  cm.TicketQuantity,
		})
	})
}

// PurchaseFor settles a multi-product sale atomically.
func (e *Engine) PurchaseFor(ctx context.Context, req sale.Request) (sale.Result, error) {
	return submit(ctx, e, "sale.purchase_for", func(ctx context.Context, tx *store.Tx, rec *recorder) (sale.Result, error) {
		req.Now = e.stamp(req.Now)
		res, err := e.sale.PurchaseFor(ctx, tx, req)
		if err != nil {
			return sale.Result{}, err
		}
		for i, line := range res.Lines {
			if err := rec.Emit("sale.line", canonical.Object{
				"line":     int64(i),
				"sku":      line.SKU,
				"quantity": line.Quantity,
				"ref":      line.Ref,
				"payment":  paymentObject(line.Payment),
			}); err != nil {
				return sale.Result{}, err
			}
		}
		return res, rec.Emit("sale.purchase_for", canonical.Object{
			"buyer":           string(req.Buyer),
			"beneficiary":     string(req.Beneficiary),
			"lines":           int64(len(res.Lines)),
			"native_required": res.NativeRequired,
			"refund":          res.Refund,
		})
	})
}

// ReleaseEscrow pays escrow entry id out to its seller. Anyone may call it
// once the release time has passed.
func (e *Engine) ReleaseEscrow(ctx context.Context, id int64) (core.EscrowEntry, error) {
	return submit(ctx, e, "escrow.release", func(ctx context.Context, tx *store.Tx, rec *recorder) (core.EscrowEntry, error) {
		entry, err := e.escrow.Release(ctx, tx, id, e.now())
		if err != nil {
			return core.EscrowEntry{}, err
		}
		return entry, rec.Emit("escrow.release", escrowObject(entry))
	})
}

// CancelEscrow refunds escrow entry id to its payer. actor must be a custodian.
func (e *Engine) CancelEscrow(ctx context.Context, actor core.Identity, id int64) (core.EscrowEntry, error) {
	return submit(ctx, e, "escrow.cancel", func(ctx context.Context, tx *store.Tx, rec *recorder) (core.EscrowEntry, error) {
		entry, err := e.escrow.Cancel(ctx, tx, id, actor)
		if err != nil {
			return core.EscrowEntry{}, err
		}
		obj := escrowObject(entry)
		obj["actor"] = string(actor)
		return entry, rec.Emit("escrow.cancel", obj)
	})
}

// Migrate consumes legacy key on behalf of holder.
func (e *Engine) Migrate(ctx context.Context, holder core.Identity, key int64) error {
	if e.migration == nil {
		return core.Errorf(core.KindUnknownProduct, "engine.migrate", "", "no migration configured")
	}
	_, err := submit(ctx, e, "migration.consume", func(ctx context.Context, tx *store.Tx, rec *recorder) (struct{}, error) {
		if err := e.migration.Consume(ctx, tx, key); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, rec.Emit("migration.consume", canonical.Object{
			"migration": e.migration.Name,
			"holder":    string(holder),
			"key":       key,
		})
	})
	return err
}

func (e *Engine) pack(op, sku string) (*pack.Pack, error) {
	p, ok := e.packs[sku]
	if !ok {
		return nil, core.Errorf(core.KindUnknownProduct, op, sku, "no such pack")
	}
	return p, nil
}

func (e *Engine) chest(op, sku string) (*chest.Chest, error) {
	c, ok := e.chests[sku]
	if !ok {
		return nil, core.Errorf(core.KindUnknownProduct, op, sku, "no such chest")
	}
	return c, nil
}

func (e *Engine) stamp(t time.Time) time.Time {
	if t.IsZero() {
		return e.now()
	}
	return t
}

func paymentObject(a payment.Authorized) canonical.Object {
	obj := canonical.Object{
		"currency": a.Currency.String(),
		"amount":   a.Amount,
	}
	if !a.Signer.IsZero() {
		obj["signer"] = string(a.Signer)
	}
	if a.Escrowed() {
		obj["escrow"] = a.EscrowID
	}
	return obj
}

func escrowObject(entry core.EscrowEntry) canonical.Object {
	obj := canonical.Object{
		"id":       entry.ID,
		"state":    string(entry.State),
		"payer":    string(entry.Payer),
		"seller":   string(entry.Seller),
		"currency": entry.Currency.String(),
		"amount":   entry.Amount,
	}
	if !entry.Referrer.IsZero() {
		obj["referrer"] = string(entry.Referrer)
	}
	if !entry.Beneficiary.IsZero() {
		obj["beneficiary"] = string(entry.Beneficiary)
	}
	return obj
}
