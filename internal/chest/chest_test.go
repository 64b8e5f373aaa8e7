package chest

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/packsale/internal/capacity"
	"github.com/roach88/packsale/internal/core"
	"github.com/roach88/packsale/internal/escrow"
	"github.com/roach88/packsale/internal/oracle"
	"github.com/roach88/packsale/internal/pack"
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
	chest  *Chest
	signer *signing.KeySigner
	ctx    context.Context
}

func setup(t *testing.T, chestCap int64) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rate, err := oracle.ParseFixedRate("5")
	require.NoError(t, err)

	auth := payment.New(rate, signing.Recoverer{}, escrow.New(referral.Default(), logger), payment.WithLogger(logger))
	caps := capacity.New(logger)
	r := raffle.New(logger)

	p := pack.New(pack.Product{
		SKU: "rare", Family: "s1", Vendor: "0xrarepack", Seller: "0xseller",
		PriceCents: 100, MaxMintBatch: 5, Raffle: true, TicketsPerItem: 1, Chest: "0xrarechest",
	}, auth, caps, r, logger)
	c := New(Product{
		SKU: "rare-chest", Family: "rare-chest", Vendor: "0xrarechest", Seller: "0xseller",
		PriceCents: 550, PacksPerChest: 6, MaxOpenPerTx: 10,
	}, p, auth, caps, logger)

	signer := testutil.Key(t, "processor")
	ctx := context.Background()
	require.NoError(t, st.WithTx(ctx, func(tx *store.Tx) error {
		require.NoError(t, tx.EnsureCap(ctx, "s1", 10000))
		require.NoError(t, tx.EnsureCap(ctx, "rare-chest", chestCap))
		require.NoError(t, caps.SetCanUpdate(ctx, tx, []core.Identity{"0xrarepack", "0xrarechest"}, true))
		require.NoError(t, auth.SetSellerApproval(ctx, tx, "0xrarepack", []string{"rare"}, true))
		require.NoError(t, auth.SetSellerApproval(ctx, tx, "0xrarechest", []string{"rare-chest"}, true))
		require.NoError(t, auth.SetSignerLimit(ctx, tx, signer.Identity(), 1_000_000))
		return r.SetMinterApproval(ctx, tx, "0xrarepack", true)
	}))

	return &fixture{st: st, chest: c, signer: signer, ctx: ctx}
}

func (f *fixture) buyNative(quantity, attached int64) (Receipt, error) {
	var rc Receipt
	err := f.st.WithTx(f.ctx, func(tx *store.Tx) error {
		var err error
		rc, err = f.chest.Purchase(f.ctx, tx, payment.Purchase{
			Buyer: buyer, Quantity: quantity, Payment: core.NativePayment(), AttachedValue: attached, Now: testutil.Epoch,
		})
		return err
	})
	return rc, err
}

func (f *fixture) open(quantity int64) (core.Commitment, error) {
	var c core.Commitment
	err := f.st.WithTx(f.ctx, func(tx *store.Tx) error {
		var err error
		c, err = f.chest.Open(f.ctx, tx, buyer, quantity, testutil.Epoch)
		return err
	})
	return c, err
}

func (f *fixture) balance(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.st.View(f.ctx, func(tx *store.Tx) error {
		var err error
		n, err = f.chest.Balance(f.ctx, tx, buyer)
		return err
	}))
	return n
}

func TestPurchase_ExactNativeValue(t *testing.T) {
	for quantity := int64(1); quantity <= 5; quantity++ {
		f := setup(t, 100)
		exact := quantity * 550 * 5

		_, err := f.buyNative(quantity, exact-1)
		assert.ErrorIs(t, err, core.ErrInsufficientPayment, "quantity %d", quantity)
		assert.Equal(t, int64(0), f.balance(t))

		rc, err := f.buyNative(quantity, exact)
		require.NoError(t, err)
		assert.Equal(t, quantity, rc.Quantity)
		assert.Equal(t, quantity, f.balance(t))
	}
}

func TestPurchase_Signed(t *testing.T) {
	f := setup(t, 100)
	order, err := f.chest.Quote(2, buyer, buyer)
	require.NoError(t, err)
	p, err := payment.SignPayment(f.signer, "0xrarechest", order, payment.Params{Value: 1100, Nonce: 1})
	require.NoError(t, err)

	require.NoError(t, f.st.WithTx(f.ctx, func(tx *store.Tx) error {
		rc, err := f.chest.Purchase(f.ctx, tx, payment.Purchase{Buyer: buyer, Quantity: 2, Payment: p, Now: testutil.Epoch})
		require.NoError(t, err)
		assert.Equal(t, f.signer.Identity(), rc.Payment.Signer)
		return nil
	}))
	assert.Equal(t, int64(2), f.balance(t))
}

func TestPurchase_ChestCap(t *testing.T) {
	f := setup(t, 3)

	_, err := f.buyNative(4, 4*550*5)
	assert.ErrorIs(t, err, core.ErrCapExceeded)
	assert.Equal(t, int64(0), f.balance(t))
}

func TestOpen_SixChestsYieldThirtySixPacks(t *testing.T) {
	f := setup(t, 100)
	_, err := f.buyNative(6, 6*550*5)
	require.NoError(t, err)

	c, err := f.open(6)
	require.NoError(t, err)
	assert.Equal(t, int64(36), c.ProductQuantity)
	assert.Equal(t, "rare", c.SKU)
	assert.Equal(t, buyer, c.Owner)
	assert.Equal(t, int64(0), f.balance(t))
}

func TestOpen_InsufficientBalance(t *testing.T) {
	f := setup(t, 100)
	_, err := f.buyNative(1, 550*5)
	require.NoError(t, err)

	_, err = f.open(2)
	assert.ErrorIs(t, err, core.ErrInsufficientBalance)
	assert.Equal(t, int64(1), f.balance(t))
}

func TestOpen_InvalidQuantity(t *testing.T) {
	f := setup(t, 100)

	_, err := f.open(0)
	assert.ErrorIs(t, err, core.ErrInvalidQuantity)

	_, err = f.open(11)
	assert.ErrorIs(t, err, core.ErrInvalidQuantity)
}

func TestOpen_WorksWhilePackPaused(t *testing.T) {
	f := setup(t, 100)
	_, err := f.buyNative(1, 550*5)
	require.NoError(t, err)

	require.NoError(t, f.st.WithTx(f.ctx, func(tx *store.Tx) error {
		return f.chest.Pack().SetPaused(f.ctx, tx, true)
	}))

	c, err := f.open(1)
	require.NoError(t, err)
	assert.Equal(t, int64(6), c.ProductQuantity)
}

func TestPurchase_Paused(t *testing.T) {
	f := setup(t, 100)
	require.NoError(t, f.st.WithTx(f.ctx, func(tx *store.Tx) error {
		return f.chest.SetPaused(f.ctx, tx, true)
	}))

	_, err := f.buyNative(1, 550*5)
	assert.ErrorIs(t, err, core.ErrPaused)
}

func TestPurchase_PriceOverflowRejected(t *testing.T) {
	f := setup(t, 100)

	_, err := f.chest.Quote(1<<60, buyer, buyer)
	assert.ErrorIs(t, err, core.ErrInvalidQuantity)

	_, err = f.buyNative(1<<60, 0)
	assert.ErrorIs(t, err, core.ErrInvalidQuantity)
	assert.Equal(t, int64(0), f.balance(t))
}

func TestOpen_PackCountOverflowRejected(t *testing.T) {
	f := setup(t, 100)
	wide := New(Product{
		SKU: "wide-chest", Family: "rare-chest", Vendor: "0xrarechest", Seller: "0xseller",
		PriceCents: 1, PacksPerChest: 1 << 40,
	}, f.chest.Pack(), f.chest.auth, f.chest.caps, nil)

	require.NoError(t, f.st.WithTx(f.ctx, func(tx *store.Tx) error {
		return tx.Credit(f.ctx, wide.Token(), buyer, 1<<30)
	}))

	err := f.st.WithTx(f.ctx, func(tx *store.Tx) error {
		_, err := wide.Open(f.ctx, tx, buyer, 1<<30, testutil.Epoch)
		return err
	})
	assert.ErrorIs(t, err, core.ErrInvalidQuantity)

	require.NoError(t, f.st.View(f.ctx, func(tx *store.Tx) error {
		n, err := wide.Balance(f.ctx, tx, buyer)
		require.NoError(t, err)
		assert.Equal(t, int64(1<<30), n)
		return nil
	}))
}

func TestPurchase_EscrowedChestsHeldInCustody(t *testing.T) {
	f := setup(t, 100)
	order, err := f.chest.Quote(2, buyer, buyer)
	require.NoError(t, err)
	p, err := payment.SignPayment(f.signer, "0xrarechest", order, payment.Params{Value: 1100, Nonce: 1, EscrowFor: time.Hour})
	require.NoError(t, err)

	var rc Receipt
	require.NoError(t, f.st.WithTx(f.ctx, func(tx *store.Tx) error {
		var err error
		rc, err = f.chest.Purchase(f.ctx, tx, payment.Purchase{Buyer: buyer, Quantity: 2, Payment: p, Now: testutil.Epoch})
		return err
	}))
	require.True(t, rc.Payment.Escrowed())
	assert.Equal(t, core.EscrowHolder(rc.Payment.EscrowID), rc.Holder)
	assert.Equal(t, buyer, rc.Recipient)
	assert.Equal(t, int64(0), f.balance(t))

	_, err = f.open(1)
	assert.ErrorIs(t, err, core.ErrInsufficientBalance)
}
