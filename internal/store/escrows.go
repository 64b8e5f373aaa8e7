package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/packsale/internal/core"
)

// InsertEscrow appends an escrow entry and returns its id.
// Ids are dense and start at 0; e.ID is ignored.
func (t *Tx) InsertEscrow(ctx context.Context, e core.EscrowEntry) (int64, error) {
	var id int64
	if err := t.tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id) + 1, 0) FROM escrows`).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert escrow: next id: %w", err)
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO escrows (id, payer, seller, referrer, beneficiary, currency, amount, release_at, state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		id,
		string(e.Payer),
		string(e.Seller),
		string(e.Referrer),
		string(e.Beneficiary),
		e.Currency.String(),
		e.Amount,
		unixTime(e.ReleaseAt),
		string(e.State),
	)
	if err != nil {
		return 0, fmt.Errorf("insert escrow: %w", err)
	}
	return id, nil
}

// Escrow retrieves an escrow entry.
// Returns sql.ErrNoRows if not found.
func (t *Tx) Escrow(ctx context.Context, id int64) (core.EscrowEntry, error) {
	var (
		e                                         core.EscrowEntry
		payer, seller, referrer, beneficiary, cur string
		state                                     string
		releaseAt                                 int64
	)
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, payer, seller, referrer, beneficiary, currency, amount, release_at, state
		FROM escrows WHERE id = ?
	`, id).Scan(&e.ID, &payer, &seller, &referrer, &beneficiary, &cur, &e.Amount, &releaseAt, &state)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.EscrowEntry{}, err
		}
		return core.EscrowEntry{}, fmt.Errorf("read escrow %d: %w", id, err)
	}

	e.Payer = core.Identity(payer)
	e.Seller = core.Identity(seller)
	e.Referrer = core.Identity(referrer)
	e.Beneficiary = core.Identity(beneficiary)
	e.ReleaseAt = fromUnix(releaseAt)
	e.State = core.EscrowState(state)
	if e.Currency, err = core.ParseCurrency(cur); err != nil {
		return core.EscrowEntry{}, fmt.Errorf("read escrow %d: %w", id, err)
	}
	return e, nil
}

// TransitionEscrow moves an entry from one state to another.
// Returns false if the entry is not currently in state from.
func (t *Tx) TransitionEscrow(ctx context.Context, id int64, from, to core.EscrowState) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE escrows SET state = ? WHERE id = ? AND state = ?
	`, string(to), id, string(from))
	if err != nil {
		return false, fmt.Errorf("transition escrow %d: %w", id, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition escrow %d: rows affected: %w", id, err)
	}
	return rows > 0, nil
}
