// Package referral splits settled revenue between a seller and a referrer.
package referral

import (
	"context"
	"fmt"

	"github.com/roach88/packsale/internal/core"
	"github.com/roach88/packsale/internal/store"
)

// TotalBps is the basis-point denominator of a Split.
const TotalBps = 10000

// Split is a seller/referrer revenue share in basis points.
type Split struct {
	SellerBps   int64
	ReferrerBps int64
}

// Default is the 90/10 seller/referrer split.
func Default() Split {
	return Split{SellerBps: 9000, ReferrerBps: 1000}
}

// New returns a split; the shares must be non-negative and sum to TotalBps.
func New(sellerBps, referrerBps int64) (Split, error) {
	s := Split{SellerBps: sellerBps, ReferrerBps: referrerBps}
	if err := s.Validate(); err != nil {
		return Split{}, err
	}
	return s, nil
}

// Validate checks the split shares.
func (s Split) Validate() error {
	if s.SellerBps < 0 || s.ReferrerBps < 0 || s.SellerBps+s.ReferrerBps != TotalBps {
		return fmt.Errorf("referral split %d/%d must be non-negative and sum to %d", s.SellerBps, s.ReferrerBps, TotalBps)
	}
	return nil
}

// Apply divides amount. The referrer share rounds down and the seller
// receives the remainder, so the parts always sum to amount.
func (s Split) Apply(amount int64) (seller, referrer int64) {
	referrer = amount * s.ReferrerBps / TotalBps
	return amount - referrer, referrer
}

// Payout describes settled funds for one sale.
type Payout struct {
	Seller   core.Identity
	Referrer core.Identity
	Buyer    core.Identity
	Currency core.Currency
	Amount   int64
	Ref      string
}

// Distribute credits the seller and, when the referrer is set and is not the
// buyer, the referrer's share.
func (s Split) Distribute(ctx context.Context, tx *store.Tx, p Payout) error {
	if p.Amount == 0 {
		return nil
	}

	sellerAmt, referrerAmt := p.Amount, int64(0)
	if !p.Referrer.IsZero() && p.Referrer != p.Buyer {
		sellerAmt, referrerAmt = s.Apply(p.Amount)
	}

	if err := tx.RecordFunds(ctx, store.FundMovement{
		Holder:   p.Seller,
		Currency: p.Currency,
		Amount:   sellerAmt,
		Reason:   store.ReasonSale,
		Ref:      p.Ref,
	}); err != nil {
		return fmt.Errorf("distribute: %w", err)
	}

	if referrerAmt > 0 {
		if err := tx.RecordFunds(ctx, store.FundMovement{
			Holder:   p.Referrer,
			Currency: p.Currency,
			Amount:   referrerAmt,
			Reason:   store.ReasonReferral,
			Ref:      p.Ref,
		}); err != nil {
			return fmt.Errorf("distribute: %w", err)
		}
	}
	return nil
}
