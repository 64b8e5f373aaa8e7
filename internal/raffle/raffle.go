// Package raffle issues raffle-ticket entitlements.
//
// Issuance degrades gracefully when paused: Issue returns zero tickets and no
// error, so fulfillment that triggers it still completes.
package raffle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/packsale/internal/core"
	"github.com/roach88/packsale/internal/store"
)

// Component is the pause-flag name for raffle issuance.
const Component = "raffle"

// Engine credits raffle tickets to the raffle balance token.
type Engine struct {
	logger *slog.Logger
}

// New returns an Engine. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

// Issue credits count tickets to owner and returns the number issued.
//
// The minter must be approved, otherwise Unauthorized. While the raffle is
// paused the call is a no-op returning 0.
func (e *Engine) Issue(ctx context.Context, tx *store.Tx, minter, owner core.Identity, count int64) (int64, error) {
	const op = "raffle.issue"

	approved, err := tx.MinterApproved(ctx, minter)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if !approved {
		return 0, core.Errorf(core.KindUnauthorized, op, string(minter), "minter not approved")
	}
	if count < 0 {
		return 0, core.Errorf(core.KindInvalidQuantity, op, string(owner), "negative ticket count %d", count)
	}

	paused, err := tx.Paused(ctx, Component)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if paused {
		e.logger.Info("raffle paused, tickets skipped", "owner", owner, "count", count)
		return 0, nil
	}
	if count == 0 {
		return 0, nil
	}

	if err := tx.Credit(ctx, core.TokenRaffle, owner, count); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	e.logger.Debug("tickets issued", "owner", owner, "count", count)
	return count, nil
}

// SetPaused toggles raffle issuance for every subsequent Issue call.
func (e *Engine) SetPaused(ctx context.Context, tx *store.Tx, paused bool) error {
	if err := tx.SetPaused(ctx, Component, paused); err != nil {
		return fmt.Errorf("raffle.set_paused: %w", err)
	}
	return nil
}

// SetMinterApproval approves or revokes a minter.
func (e *Engine) SetMinterApproval(ctx context.Context, tx *store.Tx, minter core.Identity, approved bool) error {
	if err := tx.SetMinterApproval(ctx, minter, approved); err != nil {
		return fmt.Errorf("raffle.set_minter_approval: %w", err)
	}
	return nil
}

// Balance returns owner's ticket balance.
func (e *Engine) Balance(ctx context.Context, tx *store.Tx, owner core.Identity) (int64, error) {
	return tx.Balance(ctx, core.TokenRaffle, owner)
}
