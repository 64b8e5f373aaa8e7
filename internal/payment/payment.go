// Package payment authorizes purchase payments.
//
// A Native payment is validated by the exact converted value attached to the
// call. A StableCents payment carries a signature from a signer with a
// configured limit; the authorizer recovers the signer, consumes the nonce and
// charges the signer's usage window. Successful payments either settle
// immediately to the seller (with referral split) or open an escrow entry.
//
// Authorize writes only through the caller's transaction, so a failure at any
// step leaves no nonce consumed, no escrow opened and no funds moved once the
// caller rolls back.
package payment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/packsale/internal/core"
	"github.com/roach88/packsale/internal/escrow"
	"github.com/roach88/packsale/internal/oracle"
	"github.com/roach88/packsale/internal/referral"
	"github.com/roach88/packsale/internal/signing"
	"github.com/roach88/packsale/internal/store"
)

// DefaultWindow is the signer limit window.
const DefaultWindow = 24 * time.Hour

// Purchase is a buyer's request to a product vendor.
type Purchase struct {
	Buyer core.Identity

	// Recipient receives the purchased assets; zero means Buyer.
	Recipient core.Identity

	Quantity      int64
	Payment       core.Payment
	AttachedValue int64
	Referrer      core.Identity
	Now           time.Time
}

// Request is one payment to authorize.
type Request struct {
	// Vendor is the selling product's identity; it must be approved for Order.SKU.
	Vendor core.Identity

	// Seller receives settled funds.
	Seller core.Identity

	// Buyer is the paying identity.
	Buyer core.Identity

	Order         core.Order
	Payment       core.Payment
	AttachedValue int64
	Referrer      core.Identity
	Now           time.Time
}

// Authorized describes an accepted payment.
type Authorized struct {
	Currency core.Currency
	Amount   int64

	// Signer is set for StableCents payments.
	Signer core.Identity

	// EscrowID is the opened escrow entry, or -1 for immediate settlement.
	EscrowID int64
}

// Escrowed reports whether the payment opened an escrow entry.
func (a Authorized) Escrowed() bool {
	return a.EscrowID >= 0
}

// Authorizer validates payments and settles them.
type Authorizer struct {
	oracle   oracle.Oracle
	verifier signing.Verifier
	escrow   *escrow.Escrow
	split    referral.Split
	window   time.Duration
	logger   *slog.Logger
}

// Option configures an Authorizer.
type Option func(*Authorizer)

// WithWindow sets the signer limit window. Windows align to the unix epoch.
func WithWindow(d time.Duration) Option {
	return func(a *Authorizer) {
		if d > 0 {
			a.window = d
		}
	}
}

// WithSplit sets the referral split used for immediate settlement.
func WithSplit(s referral.Split) Option {
	return func(a *Authorizer) {
		a.split = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Authorizer) {
		a.logger = l
	}
}

// New returns an Authorizer.
func New(o oracle.Oracle, v signing.Verifier, esc *escrow.Escrow, opts ...Option) *Authorizer {
	a := &Authorizer{
		oracle:   o,
		verifier: v,
		escrow:   esc,
		split:    referral.Default(),
		window:   DefaultWindow,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Oracle returns the currency oracle used for Native conversions.
func (a *Authorizer) Oracle() oracle.Oracle {
	return a.oracle
}

// Authorize validates req and settles it.
func (a *Authorizer) Authorize(ctx context.Context, tx *store.Tx, req Request) (Authorized, error) {
	const op = "payment.authorize"

	approved, err := tx.SellerApproved(ctx, req.Vendor, req.Order.SKU)
	if err != nil {
		return Authorized{}, fmt.Errorf("%s: %w", op, err)
	}
	if !approved {
		return Authorized{}, core.Errorf(core.KindUnauthorized, op, string(req.Vendor), "vendor not approved for %s", req.Order.SKU)
	}

	due := req.Order.Due()
	if due < 0 {
		return Authorized{}, core.Errorf(core.KindInsufficientPayment, op, req.Order.SKU, "already paid %d exceeds total %d", req.Order.AlreadyPaid, req.Order.TotalPrice)
	}
	if due == 0 && req.AttachedValue == 0 {
		return Authorized{Currency: req.Payment.Currency, EscrowID: -1}, nil
	}

	switch req.Payment.Currency {
	case core.Native:
		return a.authorizeNative(ctx, tx, req, due)
	case core.StableCents:
		return a.authorizeSigned(ctx, tx, req, due)
	default:
		return Authorized{}, core.Errorf(core.KindInsufficientPayment, op, req.Payment.Currency.String(), "unsupported payment currency")
	}
}

func (a *Authorizer) authorizeNative(ctx context.Context, tx *store.Tx, req Request, due int64) (Authorized, error) {
	const op = "payment.authorize_native"

	required, err := a.oracle.Convert(req.Order.Currency, core.Native, due)
	if err != nil {
		return Authorized{}, fmt.Errorf("%s: %w", op, err)
	}
	if req.AttachedValue != required {
		return Authorized{}, core.Errorf(core.KindInsufficientPayment, op, req.Order.SKU,
			"attached %d, required exactly %d", req.AttachedValue, required)
	}

	if err := a.split.Distribute(ctx, tx, referral.Payout{
		Seller:   req.Seller,
		Referrer: req.Referrer,
		Buyer:    req.Buyer,
		Currency: core.Native,
		Amount:   required,
		Ref:      req.Order.SKU,
	}); err != nil {
		return Authorized{}, fmt.Errorf("%s: %w", op, err)
	}

	a.logger.Debug("native payment settled", "sku", req.Order.SKU, "buyer", req.Buyer, "amount", required)
	return Authorized{Currency: core.Native, Amount: required, EscrowID: -1}, nil
}

func (a *Authorizer) authorizeSigned(ctx context.Context, tx *store.Tx, req Request, due int64) (Authorized, error) {
	const op = "payment.authorize_signed"
	p := req.Payment

	if p.Value != due {
		return Authorized{}, core.Errorf(core.KindInsufficientPayment, op, req.Order.SKU,
			"signed value %d, due %d", p.Value, due)
	}
	if p.EscrowFor < 0 {
		return Authorized{}, core.Errorf(core.KindInvalidSignature, op, fmt.Sprintf("nonce=%d", p.Nonce), "negative escrow duration")
	}

	digest, err := Digest(req.Vendor, req.Order, p)
	if err != nil {
		return Authorized{}, fmt.Errorf("%s: %w", op, err)
	}
	signer, err := a.verifier.Recover(digest, p.Signature)
	if err != nil {
		return Authorized{}, core.Errorf(core.KindInvalidSignature, op, fmt.Sprintf("nonce=%d", p.Nonce), "%v", err)
	}

	limit, ok, err := tx.SignerLimit(ctx, signer)
	if err != nil {
		return Authorized{}, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return Authorized{}, core.Errorf(core.KindInvalidSignature, op, string(signer), "signer has no signing authority")
	}

	fresh, err := tx.ConsumeNonce(ctx, signer, p.Nonce)
	if err != nil {
		return Authorized{}, fmt.Errorf("%s: %w", op, err)
	}
	if !fresh {
		return Authorized{}, core.Errorf(core.KindNonceReused, op, fmt.Sprintf("nonce=%d", p.Nonce), "nonce already consumed by %s", signer)
	}

	window := a.windowStart(req.Now)
	used, err := tx.SignerUsage(ctx, signer, window)
	if err != nil {
		return Authorized{}, fmt.Errorf("%s: %w", op, err)
	}
	if used+p.Value > limit {
		return Authorized{}, core.Errorf(core.KindSignerLimitExceeded, op, string(signer),
			"used %d + %d exceeds limit %d", used, p.Value, limit)
	}
	if err := tx.AddSignerUsage(ctx, signer, window, p.Value); err != nil {
		return Authorized{}, fmt.Errorf("%s: %w", op, err)
	}

	auth := Authorized{Currency: core.StableCents, Amount: p.Value, Signer: signer, EscrowID: -1}

	if p.EscrowFor > 0 {
		id, err := a.escrow.Open(ctx, tx, core.EscrowEntry{
			Payer:       req.Buyer,
			Seller:      req.Seller,
			Referrer:    referrerFor(req),
			Beneficiary: req.Order.AssetRecipient,
			Currency:    core.StableCents,
			Amount:      p.Value,
			ReleaseAt:   req.Now.Add(p.EscrowFor),
		})
		if err != nil {
			return Authorized{}, fmt.Errorf("%s: %w", op, err)
		}
		auth.EscrowID = id
		a.logger.Debug("signed payment escrowed", "sku", req.Order.SKU, "signer", signer, "escrow", id)
		return auth, nil
	}

	if err := a.split.Distribute(ctx, tx, referral.Payout{
		Seller:   req.Seller,
		Referrer: req.Referrer,
		Buyer:    req.Buyer,
		Currency: core.StableCents,
		Amount:   p.Value,
		Ref:      req.Order.SKU,
	}); err != nil {
		return Authorized{}, fmt.Errorf("%s: %w", op, err)
	}

	a.logger.Debug("signed payment settled", "sku", req.Order.SKU, "signer", signer, "amount", p.Value)
	return auth, nil
}

// windowStart returns the unix start of the limit window containing now.
func (a *Authorizer) windowStart(now time.Time) int64 {
	w := int64(a.window / time.Second)
	if w < 1 {
		w = 1
	}
	sec := now.Unix()
	return sec - ((sec%w)+w)%w
}

// SetSignerLimit configures signer's per-window limit. A negative limit
// revokes signing authority.
func (a *Authorizer) SetSignerLimit(ctx context.Context, tx *store.Tx, signer core.Identity, limit int64) error {
	if err := tx.SetSignerLimit(ctx, signer, limit); err != nil {
		return fmt.Errorf("payment.set_signer_limit: %w", err)
	}
	return nil
}

// SetSellerApproval approves or revokes vendor for skus.
func (a *Authorizer) SetSellerApproval(ctx context.Context, tx *store.Tx, vendor core.Identity, skus []string, approved bool) error {
	if err := tx.SetSellerApproval(ctx, vendor, skus, approved); err != nil {
		return fmt.Errorf("payment.set_seller_approval: %w", err)
	}
	return nil
}

func referrerFor(req Request) core.Identity {
	if req.Referrer == req.Buyer {
		return core.Zero
	}
	return req.Referrer
}
