package worker

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/roach88/packsale/internal/core"
)

// QueryProgress returns the workflow's FulfillResult so far.
const QueryProgress = "progress"

// FulfillRequest names the commitment to drain.
type FulfillRequest = MintRequest

// FulfillResult summarizes a fulfillment run.
type FulfillResult struct {
	SKU       string `json:"sku"`
	ID        int64  `json:"id"`
	Batches   int    `json:"batches"`
	Units     int64  `json:"units"`
	Fulfilled int64  `json:"fulfilled"`
	Remaining int64  `json:"remaining"`
}

// FulfillCommitment mints a commitment batch by batch until nothing remains.
// A commitment already fulfilled completes with zero batches. Domain errors
// such as CAP_EXCEEDED fail the workflow without retry.
func FulfillCommitment(ctx workflow.Context, req FulfillRequest) (FulfillResult, error) {
	logger := workflow.GetLogger(ctx)

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    5,
		},
	})

	result := FulfillResult{SKU: req.SKU, ID: req.ID}
	err := workflow.SetQueryHandler(ctx, QueryProgress, func() (FulfillResult, error) {
		return result, nil
	})
	if err != nil {
		return result, err
	}

	var c core.Commitment
	if err := workflow.ExecuteActivity(ctx, ActivityLookupCommitment, req).Get(ctx, &c); err != nil {
		return result, err
	}
	result.Fulfilled = c.FulfilledCount
	result.Remaining = c.Remaining()

	for result.Remaining > 0 {
		var batch BatchResult
		err := workflow.ExecuteActivity(ctx, ActivityMintBatch, req).Get(ctx, &batch)
		if IsKind(err, core.KindAlreadyFulfilled) {
			// Minted elsewhere since the lookup.
			result.Remaining = 0
			break
		}
		if err != nil {
			logger.Error("Fulfillment stopped", "sku", req.SKU, "id", req.ID, "error", err)
			return result, err
		}
		result.Batches++
		result.Units += batch.Units
		result.Fulfilled = batch.Fulfilled
		result.Remaining = batch.Remaining
	}

	logger.Info("Commitment fulfilled", "sku", req.SKU, "id", req.ID, "batches", result.Batches)
	return result, nil
}
