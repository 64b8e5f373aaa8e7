// Package capacity enforces per-family issuance caps.
package capacity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/packsale/internal/core"
	"github.com/roach88/packsale/internal/store"
)

// Registry reserves units against product family caps.
//
// Reserve is a single conditional update inside the caller's transaction, so
// two fulfillments serialized by the store can never together push issued
// above capacity.
type Registry struct {
	logger *slog.Logger
}

// New returns a Registry. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Reserve increments family's issued count by n on behalf of updater.
//
// Fails with Unauthorized if updater has not been granted cap-update rights,
// UnknownProduct if the family has no cap, and CapExceeded if issued+n would
// exceed capacity.
func (r *Registry) Reserve(ctx context.Context, tx *store.Tx, updater core.Identity, family string, n int64) error {
	const op = "capacity.reserve"

	if n <= 0 {
		return core.Errorf(core.KindInvalidQuantity, op, family, "reservation of %d units", n)
	}

	allowed, err := tx.CanUpdate(ctx, updater)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !allowed {
		return core.Errorf(core.KindUnauthorized, op, string(updater), "not allowed to update cap %s", family)
	}

	ok, err := tx.IncrementIssued(ctx, family, n)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if ok {
		r.logger.Debug("cap reserved", "family", family, "units", n)
		return nil
	}

	state, err := tx.Cap(ctx, family)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Errorf(core.KindUnknownProduct, op, family, "no cap configured")
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return core.Errorf(core.KindCapExceeded, op, family, "issued %d + %d exceeds capacity %d", state.Issued, n, state.Capacity)
}

// SetCanUpdate grants or revokes cap-update rights for each address.
func (r *Registry) SetCanUpdate(ctx context.Context, tx *store.Tx, addresses []core.Identity, allowed bool) error {
	for _, a := range addresses {
		if err := tx.SetCanUpdate(ctx, a, allowed); err != nil {
			return fmt.Errorf("capacity.set_can_update: %w", err)
		}
	}
	return nil
}

// State returns the cap for family, failing with UnknownProduct if none exists.
func (r *Registry) State(ctx context.Context, tx *store.Tx, family string) (core.CapState, error) {
	state, err := tx.Cap(ctx, family)
	if errors.Is(err, sql.ErrNoRows) {
		return core.CapState{}, core.Errorf(core.KindUnknownProduct, "capacity.state", family, "no cap configured")
	}
	if err != nil {
		return core.CapState{}, fmt.Errorf("capacity.state: %w", err)
	}
	return state, nil
}
