package engine

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/packsale/internal/chest"
	"github.com/roach88/packsale/internal/collectible"
	"github.com/roach88/packsale/internal/core"
	"github.com/roach88/packsale/internal/oracle"
	"github.com/roach88/packsale/internal/pack"
	"github.com/roach88/packsale/internal/payment"
	"github.com/roach88/packsale/internal/signing"
	"github.com/roach88/packsale/internal/store"
	"github.com/roach88/packsale/internal/testutil"
)

const (
	owner     = core.Identity("0xowner")
	buyer     = core.Identity("0xbuyer")
	seller    = core.Identity("0xseller")
	custodian = core.Identity("0xcustodian")
	rareVend  = core.Identity("0xrarepack")
	chestVend = core.Identity("0xrarechest")
)

// Rate 5 native per cent: a 100-cent pack costs 500 native.
const rate = "5"

func testCatalog(t *testing.T) Catalog {
	return Catalog{
		Owner: owner,
		Packs: []pack.Product{
			{SKU: "rare", Family: "s1", Vendor: rareVend, Seller: seller, PriceCents: 100, MaxMintBatch: 5, Raffle: true, TicketsPerItem: 1},
			{SKU: "common", Family: "s1", Vendor: "0xcommonpack", Seller: seller, PriceCents: 50, MaxMintBatch: 10},
		},
		Chests: []ChestProduct{
			{PackSKU: "rare", Product: chest.Product{
				SKU: "rare-chest", Family: "rare-chest", Vendor: chestVend, Seller: seller,
				PriceCents: 550, PacksPerChest: 6, MaxOpenPerTx: 10,
			}},
		},
		Caps:         map[string]int64{"s1": 1000, "rare-chest": 100},
		SignerLimits: map[core.Identity]int64{testutil.Key(t, "processor").Identity(): 1_000_000},
		Custodians:   []core.Identity{custodian},
		Migration:    &MigrationSpec{Name: "legacy", Cutoff: 100},
	}
}

type harness struct {
	e      *Engine
	st     *store.Store
	clock  *testutil.ManualClock
	ledger *collectible.Memory
	signer *signing.KeySigner
	ctx    context.Context
}

// start opens a store, bootstraps an engine over cat and runs it until the
// test ends.
func start(t *testing.T, cat Catalog, opts ...EngineOption) *harness {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return startOn(t, st, cat, opts...)
}

func startOn(t *testing.T, st *store.Store, cat Catalog, opts ...EngineOption) *harness {
	t.Helper()
	o, err := oracle.ParseFixedRate(rate)
	require.NoError(t, err)

	clock := testutil.NewManualClock(testutil.Epoch)
	ledger := collectible.NewMemory()
	base := []EngineOption{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithNow(clock.Now),
		WithLedger(ledger),
		WithFlowGenerator(testutil.NewSequentialFlowGenerator("t")),
	}
	e, err := New(st, cat, o, signing.Recoverer{}, append(base, opts...)...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, e.Bootstrap(ctx))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("engine did not stop")
		}
	})

	return &harness{e: e, st: st, clock: clock, ledger: ledger, signer: testutil.Key(t, "processor"), ctx: context.Background()}
}

func (h *harness) buyNative(t *testing.T, sku string, quantity int64) pack.Receipt {
	t.Helper()
	_, native, err := h.e.Quote(sku, quantity, buyer)
	require.NoError(t, err)
	rc, err := h.e.Purchase(h.ctx, sku, payment.Purchase{
		Buyer: buyer, Quantity: quantity, Payment: core.NativePayment(), AttachedValue: native,
	})
	require.NoError(t, err)
	return rc
}

func (h *harness) signed(t *testing.T, sku string, quantity int64, params payment.Params) core.Payment {
	t.Helper()
	p, err := h.e.SignPayment(h.signer, sku, quantity, buyer, buyer, params)
	require.NoError(t, err)
	return p
}

func (h *harness) kinds(t *testing.T) []string {
	t.Helper()
	events, err := h.e.Events(h.ctx, "")
	require.NoError(t, err)
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}
