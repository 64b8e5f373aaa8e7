// Package chest sells bundle tokens that open into pack commitments.
//
// A chest purchase mints chest balance immediately against the chest's own
// cap. Opening burns chest units and records one prepaid pack commitment of
// quantity*PacksPerChest units.
package chest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/packsale/internal/capacity"
	"github.com/roach88/packsale/internal/core"
	"github.com/roach88/packsale/internal/pack"
	"github.com/roach88/packsale/internal/payment"
	"github.com/roach88/packsale/internal/store"
)

// DefaultPacksPerChest is the pack multiplier used when none is configured.
const DefaultPacksPerChest = 6

// Product is a chest's catalog entry.
type Product struct {
	SKU    string
	Family string

	// Vendor is the chest's own identity; the pack's configured chest caller.
	Vendor core.Identity
	Seller core.Identity

	PriceCents    int64
	PacksPerChest int64
	MaxOpenPerTx  int64
}

// PauseComponent returns the pause-flag name for a chest SKU.
func PauseComponent(sku string) string {
	return "chest:" + sku
}

// Chest implements purchase and open for one Product.
type Chest struct {
	product Product
	pack    *pack.Pack
	auth    *payment.Authorizer
	caps    *capacity.Registry
	logger  *slog.Logger
}

// New returns a Chest that opens into p. A nil logger uses slog.Default().
func New(product Product, p *pack.Pack, auth *payment.Authorizer, caps *capacity.Registry, logger *slog.Logger) *Chest {
	if logger == nil {
		logger = slog.Default()
	}
	if product.PacksPerChest == 0 {
		product.PacksPerChest = DefaultPacksPerChest
	}
	return &Chest{product: product, pack: p, auth: auth, caps: caps, logger: logger.With("sku", product.SKU)}
}

// Product returns the chest's catalog entry.
func (c *Chest) Product() Product {
	return c.product
}

// Pack returns the pack this chest opens into.
func (c *Chest) Pack() *pack.Pack {
	return c.pack
}

// Token returns the balance token name of this chest.
func (c *Chest) Token() string {
	return core.ChestToken(c.product.SKU)
}

// Quote returns the order for quantity chests. Fails with InvalidQuantity
// when quantity is not positive or its price overflows.
func (c *Chest) Quote(quantity int64, buyer, recipient core.Identity) (core.Order, error) {
	const op = "chest.quote"
	if quantity < 1 {
		return core.Order{}, core.Errorf(core.KindInvalidQuantity, op, c.product.SKU, "quantity %d", quantity)
	}
	total, ok := core.MulAmount(quantity, c.product.PriceCents)
	if !ok {
		return core.Order{}, core.Errorf(core.KindInvalidQuantity, op, c.product.SKU, "quantity %d overflows price", quantity)
	}
	if recipient.IsZero() {
		recipient = buyer
	}
	return core.Order{
		SKU:             c.product.SKU,
		Quantity:        quantity,
		Currency:        core.StableCents,
		TotalPrice:      total,
		AssetRecipient:  recipient,
		ChangeRecipient: buyer,
	}, nil
}

// Receipt is the result of a chest purchase.
type Receipt struct {
	Recipient core.Identity

	// Holder was credited: Recipient, or the escrow custody holder when the
	// payment went into escrow.
	Holder   core.Identity
	Quantity int64
	Balance  int64
	Payment  payment.Authorized
}

// Purchase authorizes payment, reserves chest cap and credits chest balance.
func (c *Chest) Purchase(ctx context.Context, tx *store.Tx, req payment.Purchase) (Receipt, error) {
	const op = "chest.purchase"

	if req.Quantity < 1 {
		return Receipt{}, core.Errorf(core.KindInvalidQuantity, op, c.product.SKU, "quantity %d", req.Quantity)
	}
	paused, err := tx.Paused(ctx, PauseComponent(c.product.SKU))
	if err != nil {
		return Receipt{}, fmt.Errorf("%s: %w", op, err)
	}
	if paused {
		return Receipt{}, core.Errorf(core.KindPaused, op, c.product.SKU, "chest is paused")
	}

	order, err := c.Quote(req.Quantity, req.Buyer, req.Recipient)
	if err != nil {
		return Receipt{}, err
	}
	auth, err := c.auth.Authorize(ctx, tx, payment.Request{
		Vendor:        c.product.Vendor,
		Seller:        c.product.Seller,
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

	if err := c.caps.Reserve(ctx, tx, c.product.Vendor, c.product.Family, req.Quantity); err != nil {
		return Receipt{}, err
	}
	holder := order.AssetRecipient
	if auth.Escrowed() {
		holder = core.EscrowHolder(auth.EscrowID)
	}
	if err := tx.Credit(ctx, c.Token(), holder, req.Quantity); err != nil {
		return Receipt{}, fmt.Errorf("%s: %w", op, err)
	}
	balance, err := tx.Balance(ctx, c.Token(), holder)
	if err != nil {
		return Receipt{}, fmt.Errorf("%s: %w", op, err)
	}

	c.logger.Info("chests purchased", "recipient", order.AssetRecipient, "holder", holder, "quantity", req.Quantity)
	return Receipt{Recipient: order.AssetRecipient, Holder: holder, Quantity: req.Quantity, Balance: balance, Payment: auth}, nil
}

// Open burns quantity chests held by owner and records a prepaid pack
// commitment of quantity*PacksPerChest units.
func (c *Chest) Open(ctx context.Context, tx *store.Tx, owner core.Identity, quantity int64, now time.Time) (core.Commitment, error) {
	const op = "chest.open"

	if quantity < 1 || (c.product.MaxOpenPerTx > 0 && quantity > c.product.MaxOpenPerTx) {
		return core.Commitment{}, core.Errorf(core.KindInvalidQuantity, op, c.product.SKU,
			"open %d, allowed 1..%d", quantity, c.product.MaxOpenPerTx)
	}

	packs, ok := core.MulAmount(quantity, c.product.PacksPerChest)
	if !ok {
		return core.Commitment{}, core.Errorf(core.KindInvalidQuantity, op, c.product.SKU, "open %d overflows pack count", quantity)
	}

	ok, err := tx.Debit(ctx, c.Token(), owner, quantity)
	if err != nil {
		return core.Commitment{}, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		held, err := tx.Balance(ctx, c.Token(), owner)
		if err != nil {
			return core.Commitment{}, fmt.Errorf("%s: %w", op, err)
		}
		return core.Commitment{}, core.Errorf(core.KindInsufficientBalance, op, string(owner),
			"holds %d %s, opening %d", held, c.product.SKU, quantity)
	}

	commitment, err := c.pack.PurchaseFromChest(ctx, tx, c.product.Vendor, owner, packs, now)
	if err != nil {
		return core.Commitment{}, err
	}

	c.logger.Info("chests opened", "owner", owner, "quantity", quantity, "commitment", commitment.ID)
	return commitment, nil
}

// SetPaused sets the chest's pause flag. Paused chests reject Purchase;
// opening is unaffected.
func (c *Chest) SetPaused(ctx context.Context, tx *store.Tx, paused bool) error {
	if err := tx.SetPaused(ctx, PauseComponent(c.product.SKU), paused); err != nil {
		return fmt.Errorf("chest.set_paused: %w", err)
	}
	return nil
}

// Balance returns owner's chest balance.
func (c *Chest) Balance(ctx context.Context, tx *store.Tx, owner core.Identity) (int64, error) {
	return tx.Balance(ctx, c.Token(), owner)
}
