// Package sale settles several product purchases in one transaction.
//
// Native lines share one attached value: each line draws exactly its
// converted price, the aggregate must cover the sum, and any surplus is
// refunded to the buyer as a recorded fund movement.
package sale

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/roach88/packsale/internal/chest"
	"github.com/roach88/packsale/internal/core"
	"github.com/roach88/packsale/internal/oracle"
	"github.com/roach88/packsale/internal/pack"
	"github.com/roach88/packsale/internal/payment"
	"github.com/roach88/packsale/internal/store"
)

// Line is one product purchase within a sale.
type Line struct {
	SKU      string
	Quantity int64
	Payment  core.Payment
}

// LineResult records a settled line.
type LineResult struct {
	SKU      string
	Quantity int64

	// Ref identifies what the line produced, e.g. "rare/3" for a commitment or
	// "chest:rare-chest" for a chest balance.
	Ref string

	Payment payment.Authorized
}

// Vendor is a product the sale can route a line to.
type Vendor interface {
	Quote(quantity int64, buyer, recipient core.Identity) (core.Order, error)
	Sell(ctx context.Context, tx *store.Tx, req payment.Purchase) (LineResult, error)
}

// PackVendor sells a pack through a sale.
type PackVendor struct {
	*pack.Pack
}

// Sell records a commitment for the line.
func (v PackVendor) Sell(ctx context.Context, tx *store.Tx, req payment.Purchase) (LineResult, error) {
	rc, err := v.Purchase(ctx, tx, req)
	if err != nil {
		return LineResult{}, err
	}
	return LineResult{
		SKU:      rc.Commitment.SKU,
		Quantity: req.Quantity,
		Ref:      fmt.Sprintf("%s/%d", rc.Commitment.SKU, rc.Commitment.ID),
		Payment:  rc.Payment,
	}, nil
}

// ChestVendor sells a chest through a sale.
type ChestVendor struct {
	*chest.Chest
}

// Sell credits chest balance for the line.
func (v ChestVendor) Sell(ctx context.Context, tx *store.Tx, req payment.Purchase) (LineResult, error) {
	rc, err := v.Purchase(ctx, tx, req)
	if err != nil {
		return LineResult{}, err
	}
	return LineResult{
		SKU:      v.Product().SKU,
		Quantity: rc.Quantity,
		Ref:      v.Token(),
		Payment:  rc.Payment,
	}, nil
}

// Request is a multi-product purchase on behalf of Beneficiary.
type Request struct {
	Buyer         core.Identity
	Beneficiary   core.Identity
	Referrer      core.Identity
	Lines         []Line
	AttachedValue int64
	Now           time.Time
}

// Result describes a settled sale.
type Result struct {
	Lines []LineResult

	// NativeRequired is the sum of every native line's converted price.
	NativeRequired int64

	// Refund is the surplus attached value returned to the buyer.
	Refund int64
}

// Sale routes lines to registered vendors.
type Sale struct {
	oracle  oracle.Oracle
	vendors map[string]Vendor
	logger  *slog.Logger
}

// New returns an empty Sale. A nil logger uses slog.Default().
func New(o oracle.Oracle, logger *slog.Logger) *Sale {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sale{oracle: o, vendors: make(map[string]Vendor), logger: logger}
}

// Register routes sku to v.
func (s *Sale) Register(sku string, v Vendor) {
	s.vendors[sku] = v
}

// PurchaseFor settles every line or none of them. A failing line's error is
// returned wrapped with its index and keeps its kind.
func (s *Sale) PurchaseFor(ctx context.Context, tx *store.Tx, req Request) (Result, error) {
	const op = "sale.purchase_for"

	if len(req.Lines) == 0 {
		return Result{}, core.Errorf(core.KindInvalidQuantity, op, string(req.Beneficiary), "no line items")
	}
	if req.AttachedValue < 0 {
		return Result{}, core.Errorf(core.KindInsufficientPayment, op, string(req.Buyer), "negative attached value")
	}
	recipient := req.Beneficiary
	if recipient.IsZero() {
		recipient = req.Buyer
	}

	vendors := make([]Vendor, len(req.Lines))
	draws := make([]int64, len(req.Lines))
	var required int64
	for i, line := range req.Lines {
		v, ok := s.vendors[line.SKU]
		if !ok {
			return Result{}, core.Errorf(core.KindUnknownProduct, op, line.SKU, "line %d", i)
		}
		vendors[i] = v
		if line.Payment.Currency != core.Native {
			continue
		}
		order, err := v.Quote(line.Quantity, req.Buyer, recipient)
		if err != nil {
			return Result{}, fmt.Errorf("%s: line %d: %w", op, i, err)
		}
		draw, err := s.oracle.Convert(order.Currency, core.Native, order.Due())
		if err != nil {
			return Result{}, fmt.Errorf("%s: line %d: %w", op, i, err)
		}
		if draw > math.MaxInt64-required {
			return Result{}, core.Errorf(core.KindInvalidQuantity, op, line.SKU, "line %d overflows the native total", i)
		}
		draws[i] = draw
		required += draw
	}

	if req.AttachedValue < required {
		return Result{}, core.Errorf(core.KindInsufficientPayment, op, string(req.Buyer),
			"attached %d, lines require %d", req.AttachedValue, required)
	}

	res := Result{NativeRequired: required, Refund: req.AttachedValue - required}
	for i, line := range req.Lines {
		lr, err := vendors[i].Sell(ctx, tx, payment.Purchase{
			Buyer:         req.Buyer,
			Recipient:     recipient,
			Quantity:      line.Quantity,
			Payment:       line.Payment,
			AttachedValue: draws[i],
			Referrer:      req.Referrer,
			Now:           req.Now,
		})
		if err != nil {
			return Result{}, fmt.Errorf("%s: line %d: %w", op, i, err)
		}
		res.Lines = append(res.Lines, lr)
	}

	if res.Refund > 0 {
		if err := tx.RecordFunds(ctx, store.FundMovement{
			Holder:   req.Buyer,
			Currency: core.Native,
			Amount:   res.Refund,
			Reason:   store.ReasonRefund,
			Ref:      "sale",
		}); err != nil {
			return Result{}, fmt.Errorf("%s: %w", op, err)
		}
	}

	s.logger.Info("sale settled", "beneficiary", recipient, "lines", len(res.Lines), "native", required, "refund", res.Refund)
	return res, nil
}
