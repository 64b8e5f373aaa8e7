package pack

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/packsale/internal/capacity"
	"github.com/roach88/packsale/internal/core"
	"github.com/roach88/packsale/internal/escrow"
	"github.com/roach88/packsale/internal/oracle"
	"github.com/roach88/packsale/internal/payment"
	"github.com/roach88/packsale/internal/raffle"
	"github.com/roach88/packsale/internal/referral"
	"github.com/roach88/packsale/internal/signing"
	"github.com/roach88/packsale/internal/store"
	"github.com/roach88/packsale/internal/testutil"
)

const buyer = core.Identity("0xbuyer")

type fixture struct {
	st     *store.Store
	pack   *Pack
	auth   *payment.Authorizer
	escrow *escrow.Escrow
	raffle *raffle.Engine
	ctx    context.Context
}

func rareProduct() Product {
	return Product{
		SKU:            "rare",
		Family:         "s1",
		Vendor:         "0xrarepack",
		Seller:         "0xseller",
		PriceCents:     100,
		MaxMintBatch:   5,
		Raffle:         true,
		TicketsPerItem: 1,
		Chest:          "0xchest",
	}
}

func setup(t *testing.T, product Product, capacityUnits int64) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rate, err := oracle.ParseFixedRate("2")
	require.NoError(t, err)

	esc := escrow.New(referral.Default(), logger)
	auth := payment.New(rate, signing.Recoverer{}, esc, payment.WithLogger(logger))
	caps := capacity.New(logger)
	r := raffle.New(logger)
	p := New(product, auth, caps, r, logger)

	ctx := context.Background()
	require.NoError(t, st.WithTx(ctx, func(tx *store.Tx) error {
		require.NoError(t, tx.EnsureCap(ctx, product.Family, capacityUnits))
		require.NoError(t, caps.SetCanUpdate(ctx, tx, []core.Identity{product.Vendor}, true))
		require.NoError(t, auth.SetSellerApproval(ctx, tx, product.Vendor, []string{product.SKU}, true))
		return r.SetMinterApproval(ctx, tx, product.Vendor, true)
	}))

	return &fixture{st: st, pack: p, auth: auth, escrow: esc, raffle: r, ctx: ctx}
}

func (f *fixture) purchase(t *testing.T, quantity int64) (Receipt, error) {
	t.Helper()
	var rc Receipt
	err := f.st.WithTx(f.ctx, func(tx *store.Tx) error {
		var err error
		rc, err = f.pack.Purchase(f.ctx, tx, payment.Purchase{
			Buyer:         buyer,
			Quantity:      quantity,
			Payment:       core.NativePayment(),
			AttachedValue: quantity * f.pack.Product().PriceCents * 2,
			Now:           testutil.Epoch,
		})
		return err
	})
	return rc, err
}

func (f *fixture) mint(t *testing.T, id int64) (MintResult, error) {
	t.Helper()
	var res MintResult
	err := f.st.WithTx(f.ctx, func(tx *store.Tx) error {
		var err error
		res, err = f.pack.Mint(f.ctx, tx, id)
		return err
	})
	return res, err
}

func (f *fixture) tx(t *testing.T, fn func(tx *store.Tx) error) {
	t.Helper()
	require.NoError(t, f.st.WithTx(f.ctx, fn))
}

func (f *fixture) tickets(t *testing.T) int64 {
	t.Helper()
	return f.ticketsOf(t, buyer)
}

func (f *fixture) ticketsOf(t *testing.T, holder core.Identity) int64 {
	t.Helper()
	var n int64
	f.tx(t, func(tx *store.Tx) error {
		var err error
		n, err = f.raffle.Balance(f.ctx, tx, holder)
		return err
	})
	return n
}

func TestPurchase_RecordsDenseCommitments(t *testing.T) {
	f := setup(t, rareProduct(), 1000)

	for want := int64(0); want < 3; want++ {
		rc, err := f.purchase(t, 6)
		require.NoError(t, err)
		assert.Equal(t, want, rc.Commitment.ID)
		assert.Equal(t, int64(6), rc.Commitment.ProductQuantity)
		assert.Equal(t, int64(6), rc.Commitment.TicketQuantity)
		assert.Equal(t, int64(1200), rc.Payment.Amount)
	}
}

func TestPurchase_InsufficientValueRecordsNothing(t *testing.T) {
	f := setup(t, rareProduct(), 1000)

	err := f.st.WithTx(f.ctx, func(tx *store.Tx) error {
		_, err := f.pack.Purchase(f.ctx, tx, payment.Purchase{
			Buyer: buyer, Quantity: 1, Payment: core.NativePayment(), AttachedValue: 199, Now: testutil.Epoch,
		})
		return err
	})
	assert.ErrorIs(t, err, core.ErrInsufficientPayment)

	rc, err := f.purchase(t, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rc.Commitment.ID)
}

func TestPurchase_InvalidQuantity(t *testing.T) {
	f := setup(t, rareProduct(), 1000)

	_, err := f.purchase(t, 0)
	assert.ErrorIs(t, err, core.ErrInvalidQuantity)
}

func TestPurchase_RequiresUnpaused(t *testing.T) {
	f := setup(t, rareProduct(), 1000)
	f.tx(t, func(tx *store.Tx) error { return f.pack.SetPaused(f.ctx, tx, true) })

	_, err := f.purchase(t, 1)
	assert.ErrorIs(t, err, core.ErrPaused)

	f.tx(t, func(tx *store.Tx) error { return f.pack.SetPaused(f.ctx, tx, false) })
	_, err = f.purchase(t, 1)
	assert.NoError(t, err)
}

func TestMint_DrainsInBatchesThenAlreadyFulfilled(t *testing.T) {
	product := rareProduct()
	f := setup(t, product, 1000)

	quantity := product.MaxMintBatch + 1
	rc, err := f.purchase(t, quantity)
	require.NoError(t, err)

	calls := (quantity + product.MaxMintBatch - 1) / product.MaxMintBatch
	var units []int64
	for i := int64(0); i < calls; i++ {
		res, err := f.mint(t, rc.Commitment.ID)
		require.NoError(t, err)
		units = append(units, res.Units)
	}
	assert.Equal(t, []int64{5, 1}, units)

	_, err = f.mint(t, rc.Commitment.ID)
	assert.ErrorIs(t, err, core.ErrAlreadyFulfilled)
	assert.Contains(t, err.Error(), "rare/0")
}

func TestMint_UnknownCommitment(t *testing.T) {
	f := setup(t, rareProduct(), 1000)

	_, err := f.mint(t, 0)
	assert.ErrorIs(t, err, core.ErrUnknownCommitment)
}

func TestMint_TicketsSumToTicketQuantity(t *testing.T) {
	product := rareProduct()
	product.TicketsPerItem = 3
	product.MaxMintBatch = 4

	for _, quantity := range []int64{1, 4, 5, 7, 13, 36} {
		t.Run(fmt.Sprintf("quantity=%d", quantity), func(t *testing.T) {
			f := setup(t, product, 1000)
			rc, err := f.purchase(t, quantity)
			require.NoError(t, err)

			var sum, minted int64
			for {
				res, err := f.mint(t, rc.Commitment.ID)
				if core.IsKind(err, core.KindAlreadyFulfilled) {
					break
				}
				require.NoError(t, err)
				sum += res.TicketsIssued
				minted += res.Units
			}
			assert.Equal(t, quantity, minted)
			assert.Equal(t, rc.Commitment.TicketQuantity, sum)
			assert.Equal(t, quantity*3, f.tickets(t))
		})
	}
}

func TestMint_RafflePausedStillMintsNoRetroactiveTickets(t *testing.T) {
	f := setup(t, rareProduct(), 1000)
	rc, err := f.purchase(t, 6)
	require.NoError(t, err)

	f.tx(t, func(tx *store.Tx) error { return f.raffle.SetPaused(f.ctx, tx, true) })
	res, err := f.mint(t, rc.Commitment.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Units)
	assert.Equal(t, int64(5), res.TicketsAllotted)
	assert.Equal(t, int64(0), res.TicketsIssued)

	f.tx(t, func(tx *store.Tx) error { return f.raffle.SetPaused(f.ctx, tx, false) })
	res, err = f.mint(t, rc.Commitment.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.TicketsIssued)

	assert.Equal(t, int64(1), f.tickets(t))
}

func TestMint_PackPausedSkipsTickets(t *testing.T) {
	f := setup(t, rareProduct(), 1000)
	rc, err := f.purchase(t, 6)
	require.NoError(t, err)

	f.tx(t, func(tx *store.Tx) error { return f.pack.SetPaused(f.ctx, tx, true) })
	for i := 0; i < 2; i++ {
		_, err := f.mint(t, rc.Commitment.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(0), f.tickets(t))

	f.tx(t, func(tx *store.Tx) error {
		c, err := f.pack.Commitment(f.ctx, tx, rc.Commitment.ID)
		require.NoError(t, err)
		assert.True(t, c.Fulfilled())
		assert.Equal(t, c.TicketQuantity, c.TicketsAllotted)
		return nil
	})
}

func TestMint_CapExceededRollsBack(t *testing.T) {
	f := setup(t, rareProduct(), 7)

	first, err := f.purchase(t, 5)
	require.NoError(t, err)
	second, err := f.purchase(t, 5)
	require.NoError(t, err)

	_, err = f.mint(t, first.Commitment.ID)
	require.NoError(t, err)

	_, err = f.mint(t, second.Commitment.ID)
	assert.ErrorIs(t, err, core.ErrCapExceeded)

	f.tx(t, func(tx *store.Tx) error {
		c, err := f.pack.Commitment(f.ctx, tx, second.Commitment.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), c.FulfilledCount)

		pending, err := tx.PendingOutbox(f.ctx)
		require.NoError(t, err)
		assert.Len(t, pending, 1)
		return nil
	})
}

func TestMint_QueuesCollectibleMint(t *testing.T) {
	f := setup(t, rareProduct(), 1000)
	rc, err := f.purchase(t, 2)
	require.NoError(t, err)

	_, err = f.mint(t, rc.Commitment.ID)
	require.NoError(t, err)

	f.tx(t, func(tx *store.Tx) error {
		pending, err := tx.PendingOutbox(f.ctx)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, OutboxMint, pending[0].Kind)
		assert.Equal(t, `{"owner":"0xbuyer","product":"rare","quantity":2,"ref":"rare/0"}`, pending[0].Payload)
		return nil
	})
}

func TestPurchaseFromChest(t *testing.T) {
	f := setup(t, rareProduct(), 1000)
	f.tx(t, func(tx *store.Tx) error { return f.pack.SetPaused(f.ctx, tx, true) })

	err := f.st.WithTx(f.ctx, func(tx *store.Tx) error {
		_, err := f.pack.PurchaseFromChest(f.ctx, tx, "0xnotchest", buyer, 6, testutil.Epoch)
		return err
	})
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	f.tx(t, func(tx *store.Tx) error {
		c, err := f.pack.PurchaseFromChest(f.ctx, tx, "0xchest", buyer, 36, testutil.Epoch)
		require.NoError(t, err)
		assert.Equal(t, int64(36), c.ProductQuantity)
		assert.Equal(t, int64(36), c.TicketQuantity)
		return nil
	})
}

func TestTicketsForBatch(t *testing.T) {
	tests := []struct {
		name  string
		c     core.Commitment
		batch int64
		want  int64
	}{
		{"no raffle", core.Commitment{ProductQuantity: 6, FulfilledCount: 5}, 5, 0},
		{"proportional", core.Commitment{ProductQuantity: 6, TicketQuantity: 6, FulfilledCount: 5}, 5, 5},
		{"floors", core.Commitment{ProductQuantity: 7, TicketQuantity: 3, FulfilledCount: 5}, 5, 2},
		{"final gets remainder", core.Commitment{ProductQuantity: 7, TicketQuantity: 3, TicketsAllotted: 2, FulfilledCount: 7}, 2, 1},
		{"wide product", core.Commitment{ProductQuantity: 1 << 61, TicketQuantity: 1 << 62, FulfilledCount: 5}, 5, 10},
		{"wide floors", core.Commitment{ProductQuantity: math.MaxInt64, TicketQuantity: math.MaxInt64 - 1, FulfilledCount: 5}, 5, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TicketsForBatch(tt.c, tt.batch))
		})
	}
}

func TestPurchase_PriceOverflowRejected(t *testing.T) {
	product := rareProduct()
	product.Raffle = false
	f := setup(t, product, 1000)

	err := f.st.WithTx(f.ctx, func(tx *store.Tx) error {
		_, err := f.pack.Purchase(f.ctx, tx, payment.Purchase{
			Buyer: buyer, Quantity: 1 << 62, Payment: core.NativePayment(), AttachedValue: 0, Now: testutil.Epoch,
		})
		return err
	})
	assert.ErrorIs(t, err, core.ErrInvalidQuantity)

	_, err = f.mint(t, 0)
	assert.ErrorIs(t, err, core.ErrUnknownCommitment)
}

func TestPurchase_TicketOverflowRejected(t *testing.T) {
	product := rareProduct()
	product.PriceCents = 1
	product.TicketsPerItem = 1 << 40
	f := setup(t, product, 1000)

	_, err := f.pack.Quote(1<<30, buyer, buyer)
	assert.ErrorIs(t, err, core.ErrInvalidQuantity)

	_, err = f.purchase(t, 1<<30)
	assert.ErrorIs(t, err, core.ErrInvalidQuantity)
}

func TestQuote(t *testing.T) {
	f := setup(t, rareProduct(), 1000)

	order, err := f.pack.Quote(6, buyer, core.Zero)
	require.NoError(t, err)
	assert.Equal(t, int64(600), order.TotalPrice)
	assert.Equal(t, buyer, order.AssetRecipient)

	_, err = f.pack.Quote(0, buyer, buyer)
	assert.ErrorIs(t, err, core.ErrInvalidQuantity)
}

func TestMint_EscrowedPurchaseHeldUntilRelease(t *testing.T) {
	f := setup(t, rareProduct(), 1000)
	signer := testutil.Key(t, "signer")
	f.tx(t, func(tx *store.Tx) error { return f.auth.SetSignerLimit(f.ctx, tx, signer.Identity(), 100000) })

	order, err := f.pack.Quote(6, buyer, buyer)
	require.NoError(t, err)
	signed, err := payment.SignPayment(signer, f.pack.Product().Vendor, order, payment.Params{Value: order.Due(), Nonce: 1, EscrowFor: time.Hour})
	require.NoError(t, err)

	var rc Receipt
	f.tx(t, func(tx *store.Tx) error {
		var err error
		rc, err = f.pack.Purchase(f.ctx, tx, payment.Purchase{Buyer: buyer, Quantity: 6, Payment: signed, Now: testutil.Epoch})
		return err
	})
	require.NotNil(t, rc.Commitment.EscrowID)
	assert.Equal(t, rc.Payment.EscrowID, *rc.Commitment.EscrowID)
	custody := core.EscrowHolder(rc.Payment.EscrowID)

	res, err := f.mint(t, rc.Commitment.ID)
	require.NoError(t, err)
	assert.Equal(t, custody, res.Holder)
	assert.Equal(t, int64(5), f.ticketsOf(t, custody))
	assert.Equal(t, int64(0), f.tickets(t))

	f.tx(t, func(tx *store.Tx) error {
		pending, err := tx.PendingOutbox(f.ctx)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Contains(t, pending[0].Payload, `"owner":"escrow:0"`)

		_, err = f.escrow.Release(f.ctx, tx, rc.Payment.EscrowID, testutil.Epoch.Add(2*time.Hour))
		return err
	})
	assert.Equal(t, int64(0), f.ticketsOf(t, custody))
	assert.Equal(t, int64(5), f.tickets(t))

	res, err = f.mint(t, rc.Commitment.ID)
	require.NoError(t, err)
	assert.Equal(t, buyer, res.Holder)
	assert.Equal(t, int64(6), f.tickets(t))
}
