package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/roach88/packsale/internal/config"
	"github.com/roach88/packsale/internal/core"
	"github.com/roach88/packsale/internal/engine"
	"github.com/roach88/packsale/internal/payment"
	"github.com/roach88/packsale/internal/signing"
	"github.com/roach88/packsale/internal/store"
	"github.com/roach88/packsale/internal/testutil"
)

const catalogYAML = `
owner: "0xowner"
oracle:
  native_per_cent: "5"
caps:
  s1: 10
packs:
  - sku: rare
    family: s1
    vendor: "0xrarepack"
    seller: "0xseller"
    price_cents: 100
    max_mint_batch: 5
`

const buyer = core.Identity("0xbuyer")

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	cfg, err := config.Parse("catalog.yaml", []byte(catalogYAML))
	require.NoError(t, err)
	cat, err := cfg.Catalog()
	require.NoError(t, err)
	o, err := cfg.NewOracle()
	require.NoError(t, err)

	st, err := store.Open(filepath.Join(t.TempDir(), "worker.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	clock := testutil.NewManualClock(testutil.Epoch)
	e, err := engine.New(st, cat, o, signing.Recoverer{},
		engine.WithNow(clock.Now),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
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
	return e
}

func buy(t *testing.T, e *engine.Engine, quantity int64) core.Commitment {
	t.Helper()
	_, native, err := e.Quote("rare", quantity, buyer)
	require.NoError(t, err)
	rc, err := e.Purchase(context.Background(), "rare", payment.Purchase{
		Buyer: buyer, Quantity: quantity, Payment: core.NativePayment(), AttachedValue: native,
	})
	require.NoError(t, err)
	return rc.Commitment
}

type FulfillSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite

	env *testsuite.TestWorkflowEnvironment
}

func TestFulfillSuite(t *testing.T) {
	suite.Run(t, new(FulfillSuite))
}

func (s *FulfillSuite) SetupTest() {
	s.env = s.NewTestWorkflowEnvironment()
	s.env.RegisterWorkflow(FulfillCommitment)
}

func (s *FulfillSuite) AfterTest(_, _ string) {
	s.env.AssertExpectations(s.T())
}

func (s *FulfillSuite) withEngine() *engine.Engine {
	e := newEngine(s.T())
	s.env.RegisterActivity(&Activities{Engine: e})
	return e
}

func (s *FulfillSuite) TestFulfillsInBatches() {
	e := s.withEngine()
	c := buy(s.T(), e, 12)

	s.env.ExecuteWorkflow(FulfillCommitment, FulfillRequest{SKU: "rare", ID: c.ID})

	s.Require().True(s.env.IsWorkflowCompleted())
	s.Require().NoError(s.env.GetWorkflowError())
	var res FulfillResult
	s.Require().NoError(s.env.GetWorkflowResult(&res))
	s.Equal(3, res.Batches)
	s.Equal(int64(12), res.Units)
	s.Equal(int64(12), res.Fulfilled)
	s.Equal(int64(0), res.Remaining)

	got, err := e.Commitment(context.Background(), "rare", c.ID)
	s.Require().NoError(err)
	s.True(got.Fulfilled())
}

func (s *FulfillSuite) TestProgressQuery() {
	e := s.withEngine()
	c := buy(s.T(), e, 7)

	s.env.ExecuteWorkflow(FulfillCommitment, FulfillRequest{SKU: "rare", ID: c.ID})
	s.Require().NoError(s.env.GetWorkflowError())

	v, err := s.env.QueryWorkflow(QueryProgress)
	s.Require().NoError(err)
	var p FulfillResult
	s.Require().NoError(v.Get(&p))
	s.Equal(2, p.Batches)
	s.Equal(int64(7), p.Fulfilled)
}

func (s *FulfillSuite) TestAlreadyFulfilledCompletesWithoutMinting() {
	e := s.withEngine()
	c := buy(s.T(), e, 3)
	_, err := e.Mint(context.Background(), "rare", c.ID)
	s.Require().NoError(err)

	s.env.ExecuteWorkflow(FulfillCommitment, FulfillRequest{SKU: "rare", ID: c.ID})

	s.Require().NoError(s.env.GetWorkflowError())
	var res FulfillResult
	s.Require().NoError(s.env.GetWorkflowResult(&res))
	s.Equal(0, res.Batches)
	s.Equal(int64(3), res.Fulfilled)
}

func (s *FulfillSuite) TestCapExceededFails() {
	e := s.withEngine()
	c := buy(s.T(), e, 12)

	s.env.ExecuteWorkflow(FulfillCommitment, FulfillRequest{SKU: "rare", ID: c.ID})

	err := s.env.GetWorkflowError()
	s.Require().Error(err)
	s.True(IsKind(err, core.KindCapExceeded), "got %v", err)

	got, err := e.Commitment(context.Background(), "rare", c.ID)
	s.Require().NoError(err)
	s.Equal(int64(10), got.FulfilledCount)
}

func (s *FulfillSuite) TestUnknownCommitmentFails() {
	s.withEngine()

	s.env.ExecuteWorkflow(FulfillCommitment, FulfillRequest{SKU: "rare", ID: 9})

	err := s.env.GetWorkflowError()
	s.Require().Error(err)
	s.True(IsKind(err, core.KindUnknownCommitment), "got %v", err)
}

func (s *FulfillSuite) TestRetriesTransientFailure() {
	s.env.RegisterActivity(&Activities{})
	s.env.OnActivity(ActivityLookupCommitment, mock.Anything, mock.Anything).
		Return(core.Commitment{SKU: "rare", ProductQuantity: 5}, nil).Once()
	s.env.OnActivity(ActivityMintBatch, mock.Anything, mock.Anything).
		Return(BatchResult{}, errors.New("database is locked")).Once()
	s.env.OnActivity(ActivityMintBatch, mock.Anything, mock.Anything).
		Return(BatchResult{Units: 5, Fulfilled: 5, Remaining: 0}, nil).Once()

	s.env.ExecuteWorkflow(FulfillCommitment, FulfillRequest{SKU: "rare", ID: 0})

	s.Require().NoError(s.env.GetWorkflowError())
	var res FulfillResult
	s.Require().NoError(s.env.GetWorkflowResult(&res))
	s.Equal(1, res.Batches)
	s.Equal(int64(5), res.Units)
}

func (s *FulfillSuite) TestConcurrentMintTreatedAsDone() {
	s.env.RegisterActivity(&Activities{})
	s.env.OnActivity(ActivityLookupCommitment, mock.Anything, mock.Anything).
		Return(core.Commitment{SKU: "rare", ProductQuantity: 5}, nil).Once()
	s.env.OnActivity(ActivityMintBatch, mock.Anything, mock.Anything).
		Return(BatchResult{}, temporal.NewNonRetryableApplicationError("done", string(core.KindAlreadyFulfilled), nil)).Once()

	s.env.ExecuteWorkflow(FulfillCommitment, FulfillRequest{SKU: "rare", ID: 0})

	s.Require().NoError(s.env.GetWorkflowError())
	var res FulfillResult
	s.Require().NoError(s.env.GetWorkflowResult(&res))
	s.Equal(0, res.Batches)
	s.Equal(int64(0), res.Remaining)
}
