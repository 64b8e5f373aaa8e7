package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/packsale/internal/collectible"
	"github.com/roach88/packsale/internal/core"
	"github.com/roach88/packsale/internal/payment"
	"github.com/roach88/packsale/internal/sale"
	"github.com/roach88/packsale/internal/store"
)

func TestEngine_PurchaseAndMintDrainsInBatches(t *testing.T) {
	h := start(t, testCatalog(t))

	rc := h.buyNative(t, "rare", 6)
	assert.Equal(t, int64(0), rc.Commitment.ID)
	assert.Equal(t, int64(6), rc.Commitment.TicketQuantity)
	assert.Equal(t, int64(3000), rc.Payment.Amount)

	first, err := h.e.Mint(h.ctx, "rare", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5), first.Units)
	assert.Equal(t, int64(5), first.TicketsIssued)

	second, err := h.e.Mint(h.ctx, "rare", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), second.Units)
	assert.Equal(t, int64(1), second.TicketsIssued)
	assert.True(t, second.Commitment.Fulfilled())

	_, err = h.e.Mint(h.ctx, "rare", 0)
	assert.ErrorIs(t, err, core.ErrAlreadyFulfilled)

	_, err = h.e.Mint(h.ctx, "rare", 9)
	assert.ErrorIs(t, err, core.ErrUnknownCommitment)

	assert.Equal(t, int64(6), h.ledger.CountByProduct(buyer, "rare"))

	tickets, err := h.e.Balance(h.ctx, core.TokenRaffle, buyer)
	require.NoError(t, err)
	assert.Equal(t, int64(6), tickets)

	funds, err := h.e.Funds(h.ctx, seller, core.Native)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), funds)

	capState, err := h.e.Cap(h.ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(6), capState.Issued)

	assert.Equal(t, []string{
		"pack.purchase",
		"pack.mint", "raffle.issue", "collectible.delivered",
		"pack.mint", "raffle.issue", "collectible.delivered",
	}, h.kinds(t))
}

func TestEngine_EventsAreGapFreeAndFlowScoped(t *testing.T) {
	h := start(t, testCatalog(t))

	_, err := h.e.Purchase(h.ctx, "rare", payment.Purchase{
		Buyer: buyer, Quantity: 1, Payment: core.NativePayment(), AttachedValue: 499,
	})
	require.ErrorIs(t, err, core.ErrInsufficientPayment)
	assert.Empty(t, h.kinds(t), "rejected command must not emit events")
	assert.Equal(t, int64(0), h.e.Clock().Current())

	h.buyNative(t, "rare", 1)
	_, err = h.e.Mint(h.ctx, "rare", 0)
	require.NoError(t, err)

	events, err := h.e.Events(h.ctx, "")
	require.NoError(t, err)
	require.Len(t, events, 4)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Seq)
		assert.Equal(t, EventID(ev.FlowToken, ev.Seq), ev.ID)
		assert.Len(t, ev.Digest, 64)
	}
	// t-0001 was drawn by the rejected purchase.
	assert.Equal(t, "t-0002", events[0].FlowToken)
	assert.Equal(t, "t-0003", events[1].FlowToken)
	assert.Equal(t, "t-0003", events[3].FlowToken)

	mintFlow, err := h.e.Events(h.ctx, "t-0003")
	require.NoError(t, err)
	assert.Len(t, mintFlow, 3)
	assert.JSONEq(t, `{"fulfilled":1,"id":0,"owner":"0xbuyer","remaining":0,"sku":"rare","units":1}`, mintFlow[0].Payload)
}

func TestEngine_ChestOpensIntoThirtySixPacks(t *testing.T) {
	h := start(t, testCatalog(t))

	_, native, err := h.e.Quote("rare-chest", 6, buyer)
	require.NoError(t, err)
	assert.Equal(t, int64(16500), native)

	rc, err := h.e.PurchaseChest(h.ctx, "rare-chest", payment.Purchase{
		Buyer: buyer, Quantity: 6, Payment: core.NativePayment(), AttachedValue: native,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(6), rc.Balance)

	c, err := h.e.Open(h.ctx, "rare-chest", buyer, 6)
	require.NoError(t, err)
	assert.Equal(t, "rare", c.SKU)
	assert.Equal(t, int64(36), c.ProductQuantity)
	assert.Equal(t, int64(36), c.TicketQuantity)

	held, err := h.e.Balance(h.ctx, core.ChestToken("rare-chest"), buyer)
	require.NoError(t, err)
	assert.Equal(t, int64(0), held)

	calls := 0
	for {
		_, err := h.e.Mint(h.ctx, "rare", c.ID)
		if errors.Is(err, core.ErrAlreadyFulfilled) {
			break
		}
		require.NoError(t, err)
		calls++
	}
	assert.Equal(t, 8, calls, "36 units in batches of 5")
	assert.Equal(t, int64(36), h.ledger.CountByProduct(buyer, "rare"))

	tickets, err := h.e.Balance(h.ctx, core.TokenRaffle, buyer)
	require.NoError(t, err)
	assert.Equal(t, int64(36), tickets)

	_, err = h.e.Open(h.ctx, "rare-chest", buyer, 1)
	assert.ErrorIs(t, err, core.ErrInsufficientBalance)
}

func TestEngine_SignedNonceReplayRejected(t *testing.T) {
	h := start(t, testCatalog(t))

	p := h.signed(t, "rare", 1, payment.Params{Nonce: 7})
	rc, err := h.e.Purchase(h.ctx, "rare", payment.Purchase{Buyer: buyer, Quantity: 1, Payment: p})
	require.NoError(t, err)
	assert.Equal(t, h.signer.Identity(), rc.Payment.Signer)

	_, err = h.e.Purchase(h.ctx, "rare", payment.Purchase{Buyer: buyer, Quantity: 1, Payment: p})
	assert.ErrorIs(t, err, core.ErrNonceReused)

	list, err := h.e.Commitments(h.ctx, "rare", buyer)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	funds, err := h.e.Funds(h.ctx, seller, core.StableCents)
	require.NoError(t, err)
	assert.Equal(t, int64(100), funds)
}

func TestEngine_RevokedSignerLosesAuthority(t *testing.T) {
	h := start(t, testCatalog(t))

	require.NoError(t, h.e.SetSignerLimit(h.ctx, owner, h.signer.Identity(), -1))

	p := h.signed(t, "rare", 1, payment.Params{Nonce: 1})
	_, err := h.e.Purchase(h.ctx, "rare", payment.Purchase{Buyer: buyer, Quantity: 1, Payment: p})
	assert.ErrorIs(t, err, core.ErrInvalidSignature)
}

func TestEngine_EscrowReleaseAndCancel(t *testing.T) {
	h := start(t, testCatalog(t))

	p := h.signed(t, "rare", 1, payment.Params{Nonce: 1, EscrowFor: time.Hour})
	rc, err := h.e.Purchase(h.ctx, "rare", payment.Purchase{Buyer: buyer, Quantity: 1, Payment: p})
	require.NoError(t, err)
	require.True(t, rc.Payment.Escrowed())
	assert.Equal(t, int64(0), rc.Payment.EscrowID)

	_, err = h.e.ReleaseEscrow(h.ctx, 0)
	assert.ErrorIs(t, err, core.ErrInvalidEscrowState, "release before releaseAt")

	h.clock.Advance(time.Hour)
	entry, err := h.e.ReleaseEscrow(h.ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, core.EscrowReleased, entry.State)

	_, err = h.e.ReleaseEscrow(h.ctx, 0)
	assert.ErrorIs(t, err, core.ErrInvalidEscrowState, "released is terminal")

	funds, err := h.e.Funds(h.ctx, seller, core.StableCents)
	require.NoError(t, err)
	assert.Equal(t, int64(100), funds)

	p2 := h.signed(t, "rare", 1, payment.Params{Nonce: 2, EscrowFor: time.Hour})
	rc2, err := h.e.Purchase(h.ctx, "rare", payment.Purchase{Buyer: buyer, Quantity: 1, Payment: p2})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rc2.Payment.EscrowID)

	_, err = h.e.CancelEscrow(h.ctx, buyer, 1)
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	cancelled, err := h.e.CancelEscrow(h.ctx, custodian, 1)
	require.NoError(t, err)
	assert.Equal(t, core.EscrowCancelled, cancelled.State)

	refund, err := h.e.Funds(h.ctx, buyer, core.StableCents)
	require.NoError(t, err)
	assert.Equal(t, int64(100), refund)

	got, err := h.e.Escrow(h.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, core.EscrowCancelled, got.State)
}

func TestEngine_PausedRaffleSkipsTickets(t *testing.T) {
	h := start(t, testCatalog(t))

	require.NoError(t, h.e.SetPaused(h.ctx, owner, "raffle", true))
	h.buyNative(t, "rare", 6)

	res, err := h.e.Mint(h.ctx, "rare", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.TicketsAllotted)
	assert.Equal(t, int64(0), res.TicketsIssued)

	require.NoError(t, h.e.SetPaused(h.ctx, owner, "raffle", false))
	res, err = h.e.Mint(h.ctx, "rare", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.TicketsIssued)

	tickets, err := h.e.Balance(h.ctx, core.TokenRaffle, buyer)
	require.NoError(t, err)
	assert.Equal(t, int64(1), tickets, "skipped tickets are never issued later")

	c, err := h.e.Commitment(h.ctx, "rare", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(6), c.TicketsAllotted)
	assert.Equal(t, int64(6), h.ledger.CountByProduct(buyer, "rare"))
}

func TestEngine_PausedPackStillOpensChests(t *testing.T) {
	h := start(t, testCatalog(t))

	_, err := h.e.PurchaseChest(h.ctx, "rare-chest", payment.Purchase{
		Buyer: buyer, Quantity: 1, Payment: core.NativePayment(), AttachedValue: 2750,
	})
	require.NoError(t, err)

	require.NoError(t, h.e.SetPaused(h.ctx, owner, "rare", true))

	_, err = h.e.Purchase(h.ctx, "rare", payment.Purchase{
		Buyer: buyer, Quantity: 1, Payment: core.NativePayment(), AttachedValue: 500,
	})
	assert.ErrorIs(t, err, core.ErrPaused)

	c, err := h.e.Open(h.ctx, "rare-chest", buyer, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(6), c.ProductQuantity)
}

func TestEngine_AdminRequiresOwner(t *testing.T) {
	h := start(t, testCatalog(t))

	err := h.e.SetPaused(h.ctx, buyer, "raffle", true)
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	err = h.e.SetPaused(h.ctx, owner, "no-such-sku", true)
	assert.ErrorIs(t, err, core.ErrUnknownProduct)

	assert.ErrorIs(t, h.e.SetMinterApproval(h.ctx, buyer, buyer, true), core.ErrUnauthorized)
	assert.ErrorIs(t, h.e.SetCustodian(h.ctx, buyer, buyer, true), core.ErrUnauthorized)
	assert.ErrorIs(t, h.e.SetCanUpdate(h.ctx, buyer, []core.Identity{buyer}, true), core.ErrUnauthorized)
	assert.ErrorIs(t, h.e.SetSellerApproval(h.ctx, buyer, buyer, []string{"rare"}, true), core.ErrUnauthorized)

	assert.Equal(t, []string{"raffle", "rare", "common", "rare-chest"}, h.e.PauseTargets())
	assert.Empty(t, h.kinds(t))
}

func TestEngine_RevokedSellerCannotSell(t *testing.T) {
	h := start(t, testCatalog(t))

	require.NoError(t, h.e.SetSellerApproval(h.ctx, owner, rareVend, []string{"rare"}, false))

	_, err := h.e.Purchase(h.ctx, "rare", payment.Purchase{
		Buyer: buyer, Quantity: 1, Payment: core.NativePayment(), AttachedValue: 500,
	})
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	events, err := h.e.Events(h.ctx, "")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "admin.seller_approval", events[0].Kind)
	assert.JSONEq(t, `{"actor":"0xowner","approved":false,"skus":["rare"],"vendor":"0xrarepack"}`, events[0].Payload)
}

func TestEngine_MigrationConsumesOnce(t *testing.T) {
	h := start(t, testCatalog(t))

	assert.ErrorIs(t, h.e.Migrate(h.ctx, buyer, 99), core.ErrBelowCutoff)
	require.NoError(t, h.e.Migrate(h.ctx, buyer, 100))
	assert.ErrorIs(t, h.e.Migrate(h.ctx, buyer, 100), core.ErrAlreadyConsumed)
	require.NoError(t, h.e.Migrate(h.ctx, buyer, 101))

	assert.Equal(t, []string{"migration.consume", "migration.consume"}, h.kinds(t))
}

func TestEngine_MigrationNotConfigured(t *testing.T) {
	cat := testCatalog(t)
	cat.Migration = nil
	h := start(t, cat)

	assert.ErrorIs(t, h.e.Migrate(h.ctx, buyer, 100), core.ErrUnknownProduct)
}

func TestEngine_ConcurrentMintsNeverExceedCap(t *testing.T) {
	cat := testCatalog(t)
	cat.Caps["s1"] = 20
	cat.Packs[0].MaxMintBatch = 3
	h := start(t, cat)

	const commitments = 8
	for i := 0; i < commitments; i++ {
		h.buyNative(t, "rare", 3)
	}

	var ok, capped atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < commitments; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := h.e.Mint(context.Background(), "rare", id)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, core.ErrCapExceeded):
				capped.Add(1)
			default:
				t.Errorf("mint %d: %v", id, err)
			}
		}(int64(i))
	}
	wg.Wait()

	assert.Equal(t, int64(6), ok.Load())
	assert.Equal(t, int64(2), capped.Load())

	capState, err := h.e.Cap(h.ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(18), capState.Issued)
	assert.Equal(t, int64(18), h.ledger.CountByProduct(buyer, "rare"))
}

func TestEngine_PurchaseForRefundsSurplus(t *testing.T) {
	h := start(t, testCatalog(t))

	res, err := h.e.PurchaseFor(h.ctx, sale.Request{
		Buyer: buyer,
		Lines: []sale.Line{
			{SKU: "rare", Quantity: 2, Payment: core.NativePayment()},
			{SKU: "rare-chest", Quantity: 1, Payment: core.NativePayment()},
		},
		AttachedValue: 5000,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3750), res.NativeRequired)
	assert.Equal(t, int64(1250), res.Refund)
	require.Len(t, res.Lines, 2)
	assert.Equal(t, "rare/0", res.Lines[0].Ref)
	assert.Equal(t, core.ChestToken("rare-chest"), res.Lines[1].Ref)

	moves, err := h.e.FundMovements(h.ctx, buyer)
	require.NoError(t, err)
	require.Len(t, moves, 1)
	assert.Equal(t, store.ReasonRefund, moves[0].Reason)
	assert.Equal(t, int64(1250), moves[0].Amount)

	assert.Equal(t, []string{"sale.line", "sale.line", "sale.purchase_for"}, h.kinds(t))
}

func TestEngine_PurchaseForIsAllOrNothing(t *testing.T) {
	h := start(t, testCatalog(t))

	_, err := h.e.PurchaseFor(h.ctx, sale.Request{
		Buyer: buyer,
		Lines: []sale.Line{
			{SKU: "rare", Quantity: 1, Payment: core.NativePayment()},
			{SKU: "rare", Quantity: 0, Payment: core.NativePayment()},
		},
		AttachedValue: 500,
	})
	assert.ErrorIs(t, err, core.ErrInvalidQuantity)

	list, err := h.e.Commitments(h.ctx, "rare", "")
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, h.kinds(t))
}

func TestEngine_EventQuotaRollsBackCommand(t *testing.T) {
	h := start(t, testCatalog(t), WithMaxEvents(1))

	h.buyNative(t, "rare", 1)

	_, err := h.e.Mint(h.ctx, "rare", 0)
	require.Error(t, err)
	assert.True(t, IsQuotaError(err))

	c, err := h.e.Commitment(h.ctx, "rare", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), c.FulfilledCount)

	capState, err := h.e.Cap(h.ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), capState.Issued)
	assert.Equal(t, int64(0), h.ledger.CountByProduct(buyer, "rare"))
	assert.Equal(t, 1, h.e.MaxEvents())
}

type flakyLedger struct {
	*collectible.Memory
	fail atomic.Bool
}

func (l *flakyLedger) Mint(ctx context.Context, owner core.Identity, product string, quantity int64) ([]collectible.UnitID, error) {
	if l.fail.Load() {
		return nil, errors.New("ledger offline")
	}
	return l.Memory.Mint(ctx, owner, product, quantity)
}

func TestEngine_DeliveryRetriedAfterLedgerFailure(t *testing.T) {
	ledger := &flakyLedger{Memory: collectible.NewMemory()}
	ledger.fail.Store(true)
	h := start(t, testCatalog(t), WithLedger(ledger))

	h.buyNative(t, "rare", 5)
	res, err := h.e.Mint(h.ctx, "rare", 0)
	require.NoError(t, err, "the mint commits even when delivery fails")
	assert.Equal(t, int64(5), res.Units)

	var pending []store.OutboxEntry
	require.NoError(t, h.st.View(h.ctx, func(tx *store.Tx) error {
		var err error
		pending, err = tx.PendingOutbox(h.ctx)
		return err
	}))
	assert.Len(t, pending, 1)

	_, err = h.e.Deliver(h.ctx)
	assert.True(t, IsDeliveryError(err))

	ledger.fail.Store(false)
	n, err := h.e.Deliver(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(5), ledger.CountByProduct(buyer, "rare"))

	n, err = h.e.Deliver(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestEngine_StopRejectsNewCommands(t *testing.T) {
	h := start(t, testCatalog(t))
	h.buyNative(t, "rare", 1)

	h.e.Stop()

	_, err := h.e.Mint(h.ctx, "rare", 0)
	require.Error(t, err)
	assert.True(t, IsStoppedError(err))
}

func TestEngine_ResumesClockAfterRestart(t *testing.T) {
	h := start(t, testCatalog(t))
	h.buyNative(t, "rare", 1)
	h.e.Stop()

	h2 := startOn(t, h.st, testCatalog(t))
	h2.buyNative(t, "rare", 1)

	events, err := h2.e.Events(h2.ctx, "")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(2), events[1].Seq)

	c, err := h2.e.Commitment(h2.ctx, "rare", 1)
	require.NoError(t, err)
	assert.Equal(t, buyer, c.Owner)
}

func TestEngine_UnknownProduct(t *testing.T) {
	h := start(t, testCatalog(t))

	_, err := h.e.Purchase(h.ctx, "nope", payment.Purchase{Buyer: buyer, Quantity: 1})
	assert.ErrorIs(t, err, core.ErrUnknownProduct)

	_, err = h.e.Mint(h.ctx, "rare-chest", 0)
	assert.ErrorIs(t, err, core.ErrUnknownProduct, "chests have no commitments")

	_, _, err = h.e.Quote("nope", 1, buyer)
	assert.ErrorIs(t, err, core.ErrUnknownProduct)

	_, err = h.e.Cap(h.ctx, "nope")
	assert.ErrorIs(t, err, core.ErrUnknownProduct)
}

func TestEngine_AuditCleanLog(t *testing.T) {
	h := start(t, testCatalog(t))

	h.buyNative(t, "rare", 6)
	_, err := h.e.Mint(h.ctx, "rare", 0)
	require.NoError(t, err)

	report, err := h.e.Audit(h.ctx)
	require.NoError(t, err)
	assert.True(t, report.OK(), "problems: %v", report.Problems)
	assert.Equal(t, 4, report.Events)
	assert.Equal(t, 2, report.Flows)
	assert.Equal(t, int64(4), report.LastSeq)
}

func TestEngine_AuditFlagsTamperedEvent(t *testing.T) {
	h := start(t, testCatalog(t))
	h.buyNative(t, "rare", 1)

	_, err := h.st.DB().Exec(`UPDATE events SET payload = '{"quantity":99}' WHERE seq = 1`)
	require.NoError(t, err)

	report, err := h.e.Audit(h.ctx)
	require.NoError(t, err)
	assert.False(t, report.OK())
	require.Len(t, report.Problems, 1)
	assert.Contains(t, report.Problems[0], "digest mismatch")
}
