package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/packsale/internal/core"
)

// NextCommitmentID returns the id the next commitment for sku will receive.
// Ids are dense and start at 0.
func (t *Tx) NextCommitmentID(ctx context.Context, sku string) (int64, error) {
	var next int64
	err := t.tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(id) + 1, 0) FROM commitments WHERE sku = ?
	`, sku).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next commitment id: %w", err)
	}
	return next, nil
}

// InsertCommitment appends a commitment. The (sku, id) pair must be unused.
func (t *Tx) InsertCommitment(ctx context.Context, c core.Commitment) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO commitments
		(sku, id, owner, product_quantity, ticket_quantity, tickets_allotted, fulfilled_count, escrow_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.SKU,
		c.ID,
		string(c.Owner),
		c.ProductQuantity,
		c.TicketQuantity,
		c.TicketsAllotted,
		c.FulfilledCount,
		c.EscrowID,
		unixTime(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert commitment %s/%d: %w", c.SKU, c.ID, err)
	}
	return nil
}

// Commitment retrieves a single commitment.
// Returns sql.ErrNoRows if not found.
func (t *Tx) Commitment(ctx context.Context, sku string, id int64) (core.Commitment, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT sku, id, owner, product_quantity, ticket_quantity, tickets_allotted, fulfilled_count, escrow_id, created_at
		FROM commitments
		WHERE sku = ? AND id = ?
	`, sku, id)
	return scanCommitment(row)
}

// EscrowBacksCommitments reports whether any commitment was paid into escrow id.
func (t *Tx) EscrowBacksCommitments(ctx context.Context, escrowID int64) (bool, error) {
	var n int64
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM commitments WHERE escrow_id = ?
	`, escrowID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("commitments of escrow %d: %w", escrowID, err)
	}
	return n > 0, nil
}

// UpdateCommitmentProgress records fulfillment progress.
// The schema CHECK constraints reject progress beyond the commitment's totals.
func (t *Tx) UpdateCommitmentProgress(ctx context.Context, sku string, id, fulfilled, allotted int64) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE commitments
		SET fulfilled_count = ?, tickets_allotted = ?
		WHERE sku = ? AND id = ?
	`, fulfilled, allotted, sku, id)
	if err != nil {
		return fmt.Errorf("update commitment %s/%d: %w", sku, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update commitment %s/%d: rows affected: %w", sku, id, err)
	}
	if n == 0 {
		return fmt.Errorf("update commitment %s/%d: %w", sku, id, sql.ErrNoRows)
	}
	return nil
}

// Commitments lists commitments for sku ordered by id.
// When owner is non-zero only that owner's commitments are returned.
// Returns an empty slice (not nil) if none exist.
func (t *Tx) Commitments(ctx context.Context, sku string, owner core.Identity) ([]core.Commitment, error) {
	query := `
		SELECT sku, id, owner, product_quantity, ticket_quantity, tickets_allotted, fulfilled_count, escrow_id, created_at
		FROM commitments
		WHERE sku = ?`
	args := []any{sku}
	if !owner.IsZero() {
		query += ` AND owner = ?`
		args = append(args, string(owner))
	}
	query += ` ORDER BY id ASC`

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query commitments: %w", err)
	}
	defer rows.Close()

	commitments := []core.Commitment{}
	for rows.Next() {
		c, err := scanCommitment(rows)
		if err != nil {
			return nil, err
		}
		commitments = append(commitments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commitments: %w", err)
	}
	return commitments, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCommitment(s scanner) (core.Commitment, error) {
	var (
		c         core.Commitment
		owner     string
		escrowID  sql.NullInt64
		createdAt int64
	)
	err := s.Scan(
		&c.SKU,
		&c.ID,
		&owner,
		&c.ProductQuantity,
		&c.TicketQuantity,
		&c.TicketsAllotted,
		&c.FulfilledCount,
		&escrowID,
		&createdAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.Commitment{}, err
		}
		return core.Commitment{}, fmt.Errorf("scan commitment: %w", err)
	}
	c.Owner = core.Identity(owner)
	if escrowID.Valid {
		c.EscrowID = &escrowID.Int64
	}
	c.CreatedAt = fromUnix(createdAt)
	return c, nil
}
