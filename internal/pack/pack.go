// Package pack sells pack products through deferred fulfillment.
//
// Purchase records a commitment; Mint later drains it in batches of at most
// MaxMintBatch units, reserving cap, queueing collectible mints and issuing
// raffle tickets proportionally. A commitment survives any number of Mint
// calls and pause/unpause cycles until it is fully fulfilled.
package pack

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/bits"
	"time"

	"github.com/roach88/packsale/internal/canonical"
	"github.com/roach88/packsale/internal/capacity"
	"github.com/roach88/packsale/internal/core"
	"github.com/roach88/packsale/internal/payment"
	"github.com/roach88/packsale/internal/raffle"
	"github.com/roach88/packsale/internal/store"
)

// OutboxMint is the outbox kind for collectible mints.
const OutboxMint = "collectible.mint"

// Product is a pack's catalog entry.
type Product struct {
	SKU string

	// Family is the cap family units are reserved against.
	Family string

	// Vendor is the pack's own identity: approved seller, cap updater and raffle minter.
	Vendor core.Identity

	// Seller receives settled funds.
	Seller core.Identity

	PriceCents   int64
	MaxMintBatch int64

	// Raffle marks the pack as raffle-eligible; each unit carries TicketsPerItem tickets.
	Raffle         bool
	TicketsPerItem int64

	// Chest is the identity allowed to call PurchaseFromChest.
	Chest core.Identity

	// Tag is the product tag passed to the collectible ledger.
	Tag string
}

// PauseComponent returns the pause-flag name for a pack SKU.
func PauseComponent(sku string) string {
	return "pack:" + sku
}

// Pack implements purchase and mint for one Product.
type Pack struct {
	product Product
	auth    *payment.Authorizer
	caps    *capacity.Registry
	raffle  *raffle.Engine
	logger  *slog.Logger
}

// New returns a Pack. A nil logger uses slog.Default().
func New(p Product, auth *payment.Authorizer, caps *capacity.Registry, r *raffle.Engine, logger *slog.Logger) *Pack {
	if logger == nil {
		logger = slog.Default()
	}
	if p.Tag == "" {
		p.Tag = p.SKU
	}
	return &Pack{product: p, auth: auth, caps: caps, raffle: r, logger: logger.With("sku", p.SKU)}
}

// Product returns the pack's catalog entry.
func (p *Pack) Product() Product {
	return p.product
}

// Receipt is the result of a pack purchase.
type Receipt struct {
	Commitment core.Commitment
	Payment    payment.Authorized
}

// Quote returns the order for quantity packs bought by buyer for recipient.
// Fails with InvalidQuantity when quantity is not positive or its price or
// ticket count does not fit in an int64.
func (p *Pack) Quote(quantity int64, buyer, recipient core.Identity) (core.Order, error) {
	const op = "pack.quote"
	if quantity < 1 {
		return core.Order{}, core.Errorf(core.KindInvalidQuantity, op, p.product.SKU, "quantity %d", quantity)
	}
	total, ok := core.MulAmount(quantity, p.product.PriceCents)
	if !ok {
		return core.Order{}, core.Errorf(core.KindInvalidQuantity, op, p.product.SKU, "quantity %d overflows price", quantity)
	}
	if _, err := p.tickets(quantity); err != nil {
		return core.Order{}, err
	}
	if recipient.IsZero() {
		recipient = buyer
	}
	return core.Order{
		SKU:             p.product.SKU,
		Quantity:        quantity,
		Currency:        core.StableCents,
		TotalPrice:      total,
		AssetRecipient:  recipient,
		ChangeRecipient: buyer,
	}, nil
}

// tickets returns the raffle tickets carried by quantity units.
func (p *Pack) tickets(quantity int64) (int64, error) {
	if !p.product.Raffle {
		return 0, nil
	}
	n, ok := core.MulAmount(quantity, p.product.TicketsPerItem)
	if !ok {
		return 0, core.Errorf(core.KindInvalidQuantity, "pack.tickets", p.product.SKU, "quantity %d overflows tickets", quantity)
	}
	return n, nil
}

// Purchase authorizes payment and records a commitment. Requires the pack
// to be unpaused.
func (p *Pack) Purchase(ctx context.Context, tx *store.Tx, req payment.Purchase) (Receipt, error) {
	const op = "pack.purchase"

	if req.Quantity < 1 {
		return Receipt{}, core.Errorf(core.KindInvalidQuantity, op, p.product.SKU, "quantity %d", req.Quantity)
	}
	if err := p.requireUnpaused(ctx, tx, op); err != nil {
		return Receipt{}, err
	}

	order, err := p.Quote(req.Quantity, req.Buyer, req.Recipient)
	if err != nil {
		return Receipt{}, err
	}
	auth, err := p.auth.Authorize(ctx, tx, payment.Request{
		Vendor:        p.product.Vendor,
		Seller:        p.product.Seller,
		Buyer:         req.Buyer,
		Order:         order,
		Payment:       req.Payment,
		AttachedValue: req.AttachedValue,
		Referrer:      req.Referrer,
		Now:           req.Now,
	})
	if err != nil {
		return Receipt{}, err
	}

	var escrowID *int64
	if auth.Escrowed() {
		escrowID = &auth.EscrowID
	}
	c, err := p.record(ctx, tx, order.AssetRecipient, req.Quantity, escrowID, req.Now)
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{Commitment: c, Payment: auth}, nil
}

// PurchaseFromChest records a fully prepaid commitment on behalf of a chest
// opening. caller must be the pack's configured chest. Allowed while paused.
func (p *Pack) PurchaseFromChest(ctx context.Context, tx *store.Tx, caller, owner core.Identity, quantity int64, now time.Time) (core.Commitment, error) {
	const op = "pack.purchase_from_chest"

	if p.product.Chest.IsZero() || caller != p.product.Chest {
		return core.Commitment{}, core.Errorf(core.KindUnauthorized, op, string(caller), "caller is not the chest for %s", p.product.SKU)
	}
	order, err := p.Quote(quantity, owner, owner)
	if err != nil {
		return core.Commitment{}, err
	}
	order.AlreadyPaid = order.TotalPrice
	if _, err := p.auth.Authorize(ctx, tx, payment.Request{
		Vendor:  p.product.Vendor,
		Seller:  p.product.Seller,
		Buyer:   owner,
		Order:   order,
		Payment: core.NativePayment(),
		Now:     now,
	}); err != nil {
		return core.Commitment{}, err
	}

	return p.record(ctx, tx, owner, quantity, nil, now)
}

func (p *Pack) record(ctx context.Context, tx *store.Tx, owner core.Identity, quantity int64, escrowID *int64, now time.Time) (core.Commitment, error) {
	tickets, err := p.tickets(quantity)
	if err != nil {
		return core.Commitment{}, err
	}
	id, err := tx.NextCommitmentID(ctx, p.product.SKU)
	if err != nil {
		return core.Commitment{}, fmt.Errorf("pack.record: %w", err)
	}

	c := core.Commitment{
		SKU:             p.product.SKU,
		ID:              id,
		Owner:           owner,
		ProductQuantity: quantity,
		TicketQuantity:  tickets,
		EscrowID:        escrowID,
		CreatedAt:       now,
	}
	if err := tx.InsertCommitment(ctx, c); err != nil {
		return core.Commitment{}, fmt.Errorf("pack.record: %w", err)
	}

	p.logger.Info("commitment recorded", "id", id, "owner", owner, "quantity", quantity, "tickets", tickets)
	return c, nil
}

// MintResult describes one fulfillment batch.
type MintResult struct {
	Commitment core.Commitment

	// Units minted by this call.
	Units int64

	// Holder received the units and tickets: the owner, or the escrow
	// custody holder while the purchase's escrow is not released.
	Holder core.Identity

	// TicketsAllotted is this batch's share of the commitment's tickets.
	TicketsAllotted int64

	// TicketsIssued is what the raffle actually credited; 0 while paused.
	TicketsIssued int64
}

// Mint fulfills up to MaxMintBatch units of commitment id.
//
// Fails with UnknownCommitment for an id never issued and AlreadyFulfilled
// once every unit has been minted. The final batch receives whatever tickets
// earlier batches did not, so a commitment's tickets always sum to its
// TicketQuantity. Tickets skipped while paused are not issued later.
func (p *Pack) Mint(ctx context.Context, tx *store.Tx, id int64) (MintResult, error) {
	const op = "pack.mint"
	subject := fmt.Sprintf("%s/%d", p.product.SKU, id)

	c, err := tx.Commitment(ctx, p.product.SKU, id)
	if errors.Is(err, sql.ErrNoRows) {
		return MintResult{}, core.Errorf(core.KindUnknownCommitment, op, subject, "no such commitment")
	}
	if err != nil {
		return MintResult{}, fmt.Errorf("%s: %w", op, err)
	}
	if c.Fulfilled() {
		return MintResult{}, core.Errorf(core.KindAlreadyFulfilled, op, subject, "all %d units minted", c.ProductQuantity)
	}

	batch := min(p.product.MaxMintBatch, c.Remaining())

	holder, err := Holder(ctx, tx, c)
	if err != nil {
		return MintResult{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := p.caps.Reserve(ctx, tx, p.product.Vendor, p.product.Family, batch); err != nil {
		return MintResult{}, err
	}

	if _, err := tx.EnqueueOutbox(ctx, OutboxMint, canonical.Object{
		"owner":    string(holder),
		"product":  p.product.Tag,
		"quantity": batch,
		"ref":      subject,
	}); err != nil {
		return MintResult{}, fmt.Errorf("%s: %w", op, err)
	}

	c.FulfilledCount += batch
	tickets := TicketsForBatch(c, batch)
	c.TicketsAllotted += tickets

	var issued int64
	if tickets > 0 {
		paused, err := tx.Paused(ctx, PauseComponent(p.product.SKU))
		if err != nil {
			return MintResult{}, fmt.Errorf("%s: %w", op, err)
		}
		if paused {
			p.logger.Info("pack paused, tickets skipped", "id", id, "tickets", tickets)
		} else {
			issued, err = p.raffle.Issue(ctx, tx, p.product.Vendor, holder, tickets)
			if err != nil {
				return MintResult{}, err
			}
		}
	}

	if err := tx.UpdateCommitmentProgress(ctx, c.SKU, c.ID, c.FulfilledCount, c.TicketsAllotted); err != nil {
		return MintResult{}, fmt.Errorf("%s: %w", op, err)
	}

	p.logger.Info("commitment minted", "id", id, "holder", holder, "units", batch, "fulfilled", c.FulfilledCount, "tickets", issued)
	return MintResult{Commitment: c, Units: batch, Holder: holder, TicketsAllotted: tickets, TicketsIssued: issued}, nil
}

// Holder returns who receives c's minted assets: the escrow custody holder
// while the escrow c was paid into is open or cancelled, otherwise c.Owner.
func Holder(ctx context.Context, tx *store.Tx, c core.Commitment) (core.Identity, error) {
	if c.EscrowID == nil {
		return c.Owner, nil
	}
	entry, err := tx.Escrow(ctx, *c.EscrowID)
	if err != nil {
		return core.Zero, fmt.Errorf("escrow %d of %s/%d: %w", *c.EscrowID, c.SKU, c.ID, err)
	}
	if entry.State == core.EscrowReleased {
		return c.Owner, nil
	}
	return core.EscrowHolder(entry.ID), nil
}

// TicketsForBatch returns the ticket share of a batch, given c already
// advanced by batch units. Non-final batches get floor(batch*tickets/units);
// the final batch gets the remainder.
func TicketsForBatch(c core.Commitment, batch int64) int64 {
	if c.TicketQuantity == 0 {
		return 0
	}
	if c.Fulfilled() {
		return c.TicketQuantity - c.TicketsAllotted
	}
	// batch <= FulfilledCount < ProductQuantity, so the high word is below
	// the divisor and Div64 cannot panic.
	hi, lo := bits.Mul64(uint64(batch), uint64(c.TicketQuantity))
	q, _ := bits.Div64(hi, lo, uint64(c.ProductQuantity))
	return int64(q)
}

// SetPaused sets the pack's pause flag. Paused packs reject Purchase and
// skip raffle issuance in Mint.
func (p *Pack) SetPaused(ctx context.Context, tx *store.Tx, paused bool) error {
	if err := tx.SetPaused(ctx, PauseComponent(p.product.SKU), paused); err != nil {
		return fmt.Errorf("pack.set_paused: %w", err)
	}
	return nil
}

// Commitment returns commitment id, failing with UnknownCommitment if absent.
func (p *Pack) Commitment(ctx context.Context, tx *store.Tx, id int64) (core.Commitment, error) {
	c, err := tx.Commitment(ctx, p.product.SKU, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Commitment{}, core.Errorf(core.KindUnknownCommitment, "pack.commitment", fmt.Sprintf("%s/%d", p.product.SKU, id), "no such commitment")
	}
	if err != nil {
		return core.Commitment{}, fmt.Errorf("pack.commitment: %w", err)
	}
	return c, nil
}

func (p *Pack) requireUnpaused(ctx context.Context, tx *store.Tx, op string) error {
	paused, err := tx.Paused(ctx, PauseComponent(p.product.SKU))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if paused {
		return core.Errorf(core.KindPaused, op, p.product.SKU, "pack is paused")
	}
	return nil
}
