// Package migration implements one-time consumption of legacy entitlements.
//
// A legacy entity is identified by an integer key. Keys below the cutoff are
// not eligible; keys at or above it may be consumed exactly once.
package migration

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/packsale/internal/core"
	"github.com/roach88/packsale/internal/store"
)

// Migration is a named one-time consumption rule.
type Migration struct {
	Name   string
	Cutoff int64

	logger *slog.Logger
}

// New returns a Migration. A nil logger uses slog.Default().
func New(name string, cutoff int64, logger *slog.Logger) *Migration {
	if logger == nil {
		logger = slog.Default()
	}
	return &Migration{Name: name, Cutoff: cutoff, logger: logger}
}

// Consume marks key as migrated.
// Fails with BelowCutoff if key < Cutoff and AlreadyConsumed on repeat.
func (m *Migration) Consume(ctx context.Context, tx *store.Tx, key int64) error {
	const op = "migration.consume"
	subject := fmt.Sprintf("%s/%d", m.Name, key)

	if key < m.Cutoff {
		return core.Errorf(core.KindBelowCutoff, op, subject, "key below cutoff %d", m.Cutoff)
	}

	ok, err := tx.ConsumeMigrationKey(ctx, m.Name, key)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return core.Errorf(core.KindAlreadyConsumed, op, subject, "key already migrated")
	}

	m.logger.Info("migrated", "migration", m.Name, "key", key)
	return nil
}
