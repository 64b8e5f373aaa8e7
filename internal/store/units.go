package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/packsale/internal/core"
)

// MintUnits appends quantity units owned by owner and returns the first id.
// Ids continue densely from the current highest id.
func (t *Tx) MintUnits(ctx context.Context, owner core.Identity, product string, quantity int64) (int64, error) {
	var next int64
	if err := t.tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id) + 1, 0) FROM units`).Scan(&next); err != nil {
		return 0, fmt.Errorf("next unit id: %w", err)
	}

	stmt, err := t.tx.PrepareContext(ctx, `INSERT INTO units (id, owner, product) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare unit insert: %w", err)
	}
	defer stmt.Close()

	for i := int64(0); i < quantity; i++ {
		if _, err := stmt.ExecContext(ctx, next+i, string(owner), product); err != nil {
			return 0, fmt.Errorf("insert unit %d: %w", next+i, err)
		}
	}
	return next, nil
}

// UnitCount returns how many units owner holds. An empty product counts all.
func (t *Tx) UnitCount(ctx context.Context, owner core.Identity, product string) (int64, error) {
	var n int64
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM units
		WHERE owner = ? AND (? = '' OR product = ?)
	`, string(owner), product, product).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count units of %s: %w", owner, err)
	}
	return n, nil
}

// UnitOwner returns the owner of unit id.
// Returns sql.ErrNoRows if not found.
func (t *Tx) UnitOwner(ctx context.Context, id int64) (core.Identity, error) {
	var owner string
	err := t.tx.QueryRowContext(ctx, `SELECT owner FROM units WHERE id = ?`, id).Scan(&owner)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.Zero, err
		}
		return core.Zero, fmt.Errorf("read unit %d: %w", id, err)
	}
	return core.Identity(owner), nil
}

// TransferUnits moves every unit owned by from to to and returns how many moved.
func (t *Tx) TransferUnits(ctx context.Context, from, to core.Identity) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `UPDATE units SET owner = ? WHERE owner = ?`, string(to), string(from))
	if err != nil {
		return 0, fmt.Errorf("transfer units %s -> %s: %w", from, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("transfer units %s -> %s: rows affected: %w", from, to, err)
	}
	return n, nil
}
