// Package worker drains commitments through Temporal.
//
// FulfillCommitment calls Mint until the commitment is fulfilled, one
// activity per batch, so fulfillment survives process restarts and retries
// transient failures. The workflow id is derived from the commitment, so a
// commitment has at most one fulfillment running.
package worker

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/client"
	sdkworker "go.temporal.io/sdk/worker"

	"github.com/roach88/packsale/internal/engine"
)

// DefaultTaskQueue is the task queue used when none is configured.
const DefaultTaskQueue = "packsale-fulfillment"

// New returns a worker on taskQueue that runs FulfillCommitment against e.
func New(c client.Client, taskQueue string, e *engine.Engine, identity string) sdkworker.Worker {
	w := sdkworker.New(c, taskQueue, sdkworker.Options{
		Identity: identity,
	})
	w.RegisterWorkflow(FulfillCommitment)
	w.RegisterActivity(&Activities{Engine: e})
	return w
}

// WorkflowID returns the workflow id for a commitment.
func WorkflowID(req FulfillRequest) string {
	return fmt.Sprintf("fulfill-%s-%d", req.SKU, req.ID)
}

// Start starts FulfillCommitment for req on taskQueue.
func Start(ctx context.Context, c client.Client, taskQueue string, req FulfillRequest) (client.WorkflowRun, error) {
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        WorkflowID(req),
		TaskQueue: taskQueue,
	}, FulfillCommitment, req)
	if err != nil {
		return nil, fmt.Errorf("start fulfillment %s: %w", WorkflowID(req), err)
	}
	return run, nil
}
