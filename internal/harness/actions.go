package harness

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/packsale/internal/core"
	"github.com/roach88/packsale/internal/payment"
	"github.com/roach88/packsale/internal/sale"
	"github.com/roach88/packsale/internal/testutil"
)

// DefaultSigner names the testutil key used for signed payments when a step
// does not name one.
const DefaultSigner = "processor"

// actionFunc runs one named command against the harness engine.
type actionFunc func(ctx context.Context, h *Harness, a args) (map[string]any, error)

var actions = map[string]actionFunc{
	"purchase":            purchaseAction,
	"purchase_chest":      purchaseChestAction,
	"mint":                mintAction,
	"open":                openAction,
	"purchase_for":        purchaseForAction,
	"release_escrow":      releaseEscrowAction,
	"cancel_escrow":       cancelEscrowAction,
	"migrate":             migrateAction,
	"deliver":             deliverAction,
	"advance":             advanceAction,
	"pause":               pauseAction,
	"set_seller_approval": sellerApprovalAction,
	"set_signer_limit":    signerLimitAction,
	"set_minter_approval": minterApprovalAction,
	"set_custodian":       custodianAction,
}

func purchaseAction(ctx context.Context, h *Harness, a args) (map[string]any, error) {
	sku, req, err := h.purchaseRequest(a)
	if err != nil {
		return nil, err
	}
	rc, err := h.engine.Purchase(ctx, sku, req)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"sku":      rc.Commitment.SKU,
		"id":       rc.Commitment.ID,
		"owner":    string(rc.Commitment.Owner),
		"quantity": rc.Commitment.ProductQuantity,
		"tickets":  rc.Commitment.TicketQuantity,
		"currency": rc.Payment.Currency.String(),
		"amount":   rc.Payment.Amount,
		"escrow":   rc.Payment.EscrowID,
	}, nil
}

func purchaseChestAction(ctx context.Context, h *Harness, a args) (map[string]any, error) {
	sku, req, err := h.purchaseRequest(a)
	if err != nil {
		return nil, err
	}
	rc, err := h.engine.PurchaseChest(ctx, sku, req)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"recipient": string(rc.Recipient),
		"quantity":  rc.Quantity,
		"balance":   rc.Balance,
		"currency":  rc.Payment.Currency.String(),
		"amount":    rc.Payment.Amount,
		"escrow":    rc.Payment.EscrowID,
	}, nil
}

func mintAction(ctx context.Context, h *Harness, a args) (map[string]any, error) {
	sku, err := a.str("sku")
	if err != nil {
		return nil, err
	}
	id, err := a.integer("id")
	if err != nil {
		return nil, err
	}
	res, err := h.engine.Mint(ctx, sku, id)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"units":            res.Units,
		"fulfilled":        res.Commitment.FulfilledCount,
		"remaining":        res.Commitment.Remaining(),
		"tickets_allotted": res.TicketsAllotted,
		"tickets_issued":   res.TicketsIssued,
	}, nil
}

func openAction(ctx context.Context, h *Harness, a args) (map[string]any, error) {
	sku, err := a.str("sku")
	if err != nil {
		return nil, err
	}
	owner, err := a.str("owner")
	if err != nil {
		return nil, err
	}
	qty, err := a.integer("quantity")
	if err != nil {
		return nil, err
	}
	c, err := h.engine.Open(ctx, sku, core.Identity(owner), qty)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"sku":      c.SKU,
		"id":       c.ID,
		"owner":    string(c.Owner),
		"quantity": c.ProductQuantity,
		"tickets":  c.TicketQuantity,
	}, nil
}

func purchaseForAction(ctx context.Context, h *Harness, a args) (map[string]any, error) {
	buyer, err := a.str("buyer")
	if err != nil {
		return nil, err
	}
	req := sale.Request{
		Buyer:       core.Identity(buyer),
		Beneficiary: core.Identity(a.optStr("beneficiary")),
		Referrer:    core.Identity(a.optStr("referrer")),
		Now:         h.clock.Now(),
	}
	recipient := req.Beneficiary
	if recipient.IsZero() {
		recipient = req.Buyer
	}

	lines, err := a.list("lines")
	if err != nil {
		return nil, err
	}
	var native int64
	for i, la := range lines {
		sku, err := la.str("sku")
		if err != nil {
			return nil, fmt.Errorf("lines[%d]: %w", i, err)
		}
		qty, err := la.integer("quantity")
		if err != nil {
			return nil, fmt.Errorf("lines[%d]: %w", i, err)
		}
		p, due, err := h.payment(la, sku, qty, req.Buyer, recipient)
		if err != nil {
			return nil, fmt.Errorf("lines[%d]: %w", i, err)
		}
		native += due
		req.Lines = append(req.Lines, sale.Line{SKU: sku, Quantity: qty, Payment: p})
	}

	req.AttachedValue, err = a.optInt("attached", native)
	if err != nil {
		return nil, err
	}

	res, err := h.engine.PurchaseFor(ctx, req)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"lines":           int64(len(res.Lines)),
		"native_required": res.NativeRequired,
		"refund":          res.Refund,
	}, nil
}

func releaseEscrowAction(ctx context.Context, h *Harness, a args) (map[string]any, error) {
	id, err := a.integer("id")
	if err != nil {
		return nil, err
	}
	entry, err := h.engine.ReleaseEscrow(ctx, id)
	if err != nil {
		return nil, err
	}
	return escrowResult(entry), nil
}

func cancelEscrowAction(ctx context.Context, h *Harness, a args) (map[string]any, error) {
	actor, err := a.str("actor")
	if err != nil {
		return nil, err
	}
	id, err := a.integer("id")
	if err != nil {
		return nil, err
	}
	entry, err := h.engine.CancelEscrow(ctx, core.Identity(actor), id)
	if err != nil {
		return nil, err
	}
	return escrowResult(entry), nil
}

func escrowResult(e core.EscrowEntry) map[string]any {
	return map[string]any{
		"id":       e.ID,
		"state":    string(e.State),
		"amount":   e.Amount,
		"currency": e.Currency.String(),
		"payer":    string(e.Payer),
	}
}

func migrateAction(ctx context.Context, h *Harness, a args) (map[string]any, error) {
	holder, err := a.str("holder")
	if err != nil {
		return nil, err
	}
	key, err := a.integer("key")
	if err != nil {
		return nil, err
	}
	if err := h.engine.Migrate(ctx, core.Identity(holder), key); err != nil {
		return nil, err
	}
	return map[string]any{"key": key}, nil
}

func deliverAction(ctx context.Context, h *Harness, _ args) (map[string]any, error) {
	n, err := h.engine.Deliver(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"delivered": int64(n)}, nil
}

func advanceAction(_ context.Context, h *Harness, a args) (map[string]any, error) {
	d, err := a.duration("by")
	if err != nil {
		return nil, err
	}
	now := h.clock.Advance(d)
	return map[string]any{"now": now.Format(time.RFC3339)}, nil
}

func pauseAction(ctx context.Context, h *Harness, a args) (map[string]any, error) {
	actor, err := a.str("actor")
	if err != nil {
		return nil, err
	}
	target, err := a.str("target")
	if err != nil {
		return nil, err
	}
	paused := a.optBool("paused", true)
	if err := h.engine.SetPaused(ctx, core.Identity(actor), target, paused); err != nil {
		return nil, err
	}
	return map[string]any{"target": target, "paused": paused}, nil
}

func sellerApprovalAction(ctx context.Context, h *Harness, a args) (map[string]any, error) {
	actor, err := a.str("actor")
	if err != nil {
		return nil, err
	}
	vendor, err := a.str("vendor")
	if err != nil {
		return nil, err
	}
	skus, err := a.strings("skus")
	if err != nil {
		return nil, err
	}
	approved := a.optBool("approved", true)
	if err := h.engine.SetSellerApproval(ctx, core.Identity(actor), core.Identity(vendor), skus, approved); err != nil {
		return nil, err
	}
	return map[string]any{"vendor": vendor, "approved": approved}, nil
}

func signerLimitAction(ctx context.Context, h *Harness, a args) (map[string]any, error) {
	actor, err := a.str("actor")
	if err != nil {
		return nil, err
	}
	limit, err := a.integer("limit")
	if err != nil {
		return nil, err
	}
	signer := testutil.MustKey(a.optStr("signer", DefaultSigner)).Identity()
	if err := h.engine.SetSignerLimit(ctx, core.Identity(actor), signer, limit); err != nil {
		return nil, err
	}
	return map[string]any{"signer": string(signer), "limit": limit}, nil
}

func minterApprovalAction(ctx context.Context, h *Harness, a args) (map[string]any, error) {
	actor, err := a.str("actor")
	if err != nil {
		return nil, err
	}
	minter, err := a.str("minter")
	if err != nil {
		return nil, err
	}
	approved := a.optBool("approved", true)
	if err := h.engine.SetMinterApproval(ctx, core.Identity(actor), core.Identity(minter), approved); err != nil {
		return nil, err
	}
	return map[string]any{"minter": minter, "approved": approved}, nil
}

func custodianAction(ctx context.Context, h *Harness, a args) (map[string]any, error) {
	actor, err := a.str("actor")
	if err != nil {
		return nil, err
	}
	address, err := a.str("address")
	if err != nil {
		return nil, err
	}
	custodian := a.optBool("custodian", true)
	if err := h.engine.SetCustodian(ctx, core.Identity(actor), core.Identity(address), custodian); err != nil {
		return nil, err
	}
	return map[string]any{"address": address, "custodian": custodian}, nil
}

// purchaseRequest reads the common purchase arguments: sku, buyer,
// quantity, recipient, referrer plus the payment fields read by payment.
func (h *Harness) purchaseRequest(a args) (string, payment.Purchase, error) {
	sku, err := a.str("sku")
	if err != nil {
		return "", payment.Purchase{}, err
	}
	buyer, err := a.str("buyer")
	if err != nil {
		return "", payment.Purchase{}, err
	}
	qty, err := a.integer("quantity")
	if err != nil {
		return "", payment.Purchase{}, err
	}
	req := payment.Purchase{
		Buyer:     core.Identity(buyer),
		Recipient: core.Identity(a.optStr("recipient")),
		Quantity:  qty,
		Referrer:  core.Identity(a.optStr("referrer")),
		Now:       h.clock.Now(),
	}
	recipient := req.Recipient
	if recipient.IsZero() {
		recipient = req.Buyer
	}

	p, due, err := h.payment(a, sku, qty, req.Buyer, recipient)
	if err != nil {
		return "", payment.Purchase{}, err
	}
	req.Payment = p
	req.AttachedValue, err = a.optInt("attached", due)
	if err != nil {
		return "", payment.Purchase{}, err
	}
	return sku, req, nil
}

// payment builds the payment for one order. "currency" defaults to native;
// a native payment returns the exact attached value due. A usd_cents
// payment is signed by the testutil key named "signer" with optional
// "value", "nonce" and "escrow_for".
func (h *Harness) payment(a args, sku string, qty int64, buyer, recipient core.Identity) (core.Payment, int64, error) {
	currency, err := core.ParseCurrency(a.optStr("currency", "native"))
	if err != nil {
		return core.Payment{}, 0, err
	}

	if currency == core.Native {
		_, native, err := h.engine.QuoteFor(sku, qty, buyer, recipient)
		if err != nil {
			// Unknown products surface from the command itself.
			return core.NativePayment(), 0, nil
		}
		return core.NativePayment(), native, nil
	}

	value, err := a.optInt("value", 0)
	if err != nil {
		return core.Payment{}, 0, err
	}
	nonce, err := a.optInt("nonce", 0)
	if err != nil {
		return core.Payment{}, 0, err
	}
	var escrowFor time.Duration
	if _, ok := a["escrow_for"]; ok {
		if escrowFor, err = a.duration("escrow_for"); err != nil {
			return core.Payment{}, 0, err
		}
	}
	signer := testutil.MustKey(a.optStr("signer", DefaultSigner))
	p, err := h.engine.SignPayment(signer, sku, qty, buyer, recipient, payment.Params{
		Value: value, Nonce: nonce, EscrowFor: escrowFor,
	})
	if err != nil {
		return core.Payment{}, 0, err
	}
	return p, 0, nil
}
