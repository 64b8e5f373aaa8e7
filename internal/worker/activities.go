package worker

import (
	"context"
	"errors"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/roach88/packsale/internal/core"
	"github.com/roach88/packsale/internal/engine"
)

// Activity names as registered from Activities.
const (
	ActivityLookupCommitment = "LookupCommitment"
	ActivityMintBatch        = "MintBatch"
)

// MintRequest names one commitment.
type MintRequest struct {
	SKU string `json:"sku"`
	ID  int64  `json:"id"`
}

// BatchResult is one fulfilled batch.
type BatchResult struct {
	Units         int64 `json:"units"`
	Fulfilled     int64 `json:"fulfilled"`
	Remaining     int64 `json:"remaining"`
	TicketsIssued int64 `json:"tickets_issued"`
}

// Activities run engine commands for the fulfillment workflow.
type Activities struct {
	Engine *engine.Engine
}

// LookupCommitment returns the commitment's current state.
func (a *Activities) LookupCommitment(ctx context.Context, req MintRequest) (core.Commitment, error) {
	c, err := a.Engine.Commitment(ctx, req.SKU, req.ID)
	if err != nil {
		return core.Commitment{}, classify(err)
	}
	return c, nil
}

// MintBatch mints the next batch of the commitment.
func (a *Activities) MintBatch(ctx context.Context, req MintRequest) (BatchResult, error) {
	logger := activity.GetLogger(ctx)

	res, err := a.Engine.Mint(ctx, req.SKU, req.ID)
	if err != nil {
		logger.Warn("Mint failed", "sku", req.SKU, "id", req.ID, "error", err)
		return BatchResult{}, classify(err)
	}

	logger.Info("Batch minted", "sku", req.SKU, "id", req.ID, "units", res.Units, "remaining", res.Commitment.Remaining())
	return BatchResult{
		Units:         res.Units,
		Fulfilled:     res.Commitment.FulfilledCount,
		Remaining:     res.Commitment.Remaining(),
		TicketsIssued: res.TicketsIssued,
	}, nil
}

// classify marks domain errors non-retryable with the error kind as type.
// Anything else, such as a stopped engine, is left to the retry policy.
func classify(err error) error {
	if kind := core.KindOf(err); kind != "" {
		return temporal.NewNonRetryableApplicationError(err.Error(), string(kind), err)
	}
	return err
}

// IsKind reports whether err is an activity failure of the given kind.
func IsKind(err error, kind core.Kind) bool {
	var appErr *temporal.ApplicationError
	return errors.As(err, &appErr) && appErr.Type() == string(kind)
}
