package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/packsale/internal/core"
)

// EnsureCap creates a cap for family if none exists.
// An existing cap keeps its issued count and capacity.
func (t *Tx) EnsureCap(ctx context.Context, family string, capacity int64) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO caps (family, issued, capacity)
		VALUES (?, 0, ?)
		ON CONFLICT(family) DO NOTHING
	`, family, capacity)
	if err != nil {
		return fmt.Errorf("ensure cap %s: %w", family, err)
	}
	return nil
}

// Cap retrieves the cap state for family.
// Returns sql.ErrNoRows if not found.
func (t *Tx) Cap(ctx context.Context, family string) (core.CapState, error) {
	c := core.CapState{Family: family}
	err := t.tx.QueryRowContext(ctx, `
		SELECT issued, capacity FROM caps WHERE family = ?
	`, family).Scan(&c.Issued, &c.Capacity)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.CapState{}, err
		}
		return core.CapState{}, fmt.Errorf("read cap %s: %w", family, err)
	}
	return c, nil
}

// IncrementIssued adds n to the family's issued count if it stays within
// capacity. Check and increment happen in one statement.
// Returns false if the cap would be exceeded or the family is unknown.
func (t *Tx) IncrementIssued(ctx context.Context, family string, n int64) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE caps
		SET issued = issued + ?
		WHERE family = ? AND issued + ? <= capacity
	`, n, family, n)
	if err != nil {
		return false, fmt.Errorf("increment cap %s: %w", family, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("increment cap %s: rows affected: %w", family, err)
	}
	return rows > 0, nil
}

// SetCanUpdate grants or revokes cap-mutation rights.
func (t *Tx) SetCanUpdate(ctx context.Context, address core.Identity, allowed bool) error {
	return t.setMember(ctx, "cap_updaters", "address", string(address), allowed)
}

// CanUpdate reports whether address may mutate caps.
func (t *Tx) CanUpdate(ctx context.Context, address core.Identity) (bool, error) {
	return t.isMember(ctx, "cap_updaters", "address", string(address))
}

// Balance returns holder's balance of a fungible token. Unknown pairs are 0.
func (t *Tx) Balance(ctx context.Context, token string, holder core.Identity) (int64, error) {
	var amount int64
	err := t.tx.QueryRowContext(ctx, `
		SELECT amount FROM balances WHERE token = ? AND holder = ?
	`, token, string(holder)).Scan(&amount)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read balance %s/%s: %w", token, holder, err)
	}
	return amount, nil
}

// Credit adds n units of token to holder.
func (t *Tx) Credit(ctx context.Context, token string, holder core.Identity, n int64) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO balances (token, holder, amount)
		VALUES (?, ?, ?)
		ON CONFLICT(token, holder) DO UPDATE SET amount = amount + excluded.amount
	`, token, string(holder), n)
	if err != nil {
		return fmt.Errorf("credit %s/%s: %w", token, holder, err)
	}
	return nil
}

// Debit removes n units of token from holder.
// Returns false, leaving the balance untouched, if holder has fewer than n.
func (t *Tx) Debit(ctx context.Context, token string, holder core.Identity, n int64) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE balances
		SET amount = amount - ?
		WHERE token = ? AND holder = ? AND amount >= ?
	`, n, token, string(holder), n)
	if err != nil {
		return false, fmt.Errorf("debit %s/%s: %w", token, holder, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("debit %s/%s: rows affected: %w", token, holder, err)
	}
	return rows > 0, nil
}

// Holding is a non-zero token balance.
type Holding struct {
	Token  string
	Amount int64
}

// Holdings lists holder's non-zero balances ordered by token.
func (t *Tx) Holdings(ctx context.Context, holder core.Identity) ([]Holding, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT token, amount FROM balances
		WHERE holder = ? AND amount > 0
		ORDER BY token ASC
	`, string(holder))
	if err != nil {
		return nil, fmt.Errorf("query holdings of %s: %w", holder, err)
	}
	defer rows.Close()

	var out []Holding
	for rows.Next() {
		var h Holding
		if err := rows.Scan(&h.Token, &h.Amount); err != nil {
			return nil, fmt.Errorf("scan holding: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate holdings: %w", err)
	}
	return out, nil
}

// FundMovement is one recorded transfer of settled funds.
type FundMovement struct {
	ID       int64
	Holder   core.Identity
	Currency core.Currency
	Amount   int64
	Reason   string
	Ref      string
}

// Fund movement reasons.
const (
	ReasonSale     = "sale"
	ReasonReferral = "referral"
	ReasonEscrow   = "escrow"
	ReasonRefund   = "refund"
)

// RecordFunds appends a fund movement and adds it to the holder's total.
func (t *Tx) RecordFunds(ctx context.Context, m FundMovement) error {
	currency := m.Currency.String()
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO fund_movements (holder, currency, amount, reason, ref)
		VALUES (?, ?, ?, ?, ?)
	`, string(m.Holder), currency, m.Amount, m.Reason, m.Ref)
	if err != nil {
		return fmt.Errorf("record funds %s: %w", m.Holder, err)
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO funds (holder, currency, amount)
		VALUES (?, ?, ?)
		ON CONFLICT(holder, currency) DO UPDATE SET amount = amount + excluded.amount
	`, string(m.Holder), currency, m.Amount)
	if err != nil {
		return fmt.Errorf("record funds %s: %w", m.Holder, err)
	}
	return nil
}

// Funds returns the settled total held by holder in currency.
func (t *Tx) Funds(ctx context.Context, holder core.Identity, currency core.Currency) (int64, error) {
	var amount int64
	err := t.tx.QueryRowContext(ctx, `
		SELECT amount FROM funds WHERE holder = ? AND currency = ?
	`, string(holder), currency.String()).Scan(&amount)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read funds %s: %w", holder, err)
	}
	return amount, nil
}

// FundMovements lists movements for holder in insertion order.
// Returns an empty slice (not nil) if none exist.
func (t *Tx) FundMovements(ctx context.Context, holder core.Identity) ([]FundMovement, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, holder, currency, amount, reason, ref
		FROM fund_movements
		WHERE holder = ?
		ORDER BY id ASC
	`, string(holder))
	if err != nil {
		return nil, fmt.Errorf("query fund movements: %w", err)
	}
	defer rows.Close()

	movements := []FundMovement{}
	for rows.Next() {
		var (
			m      FundMovement
			h, cur string
		)
		if err := rows.Scan(&m.ID, &h, &cur, &m.Amount, &m.Reason, &m.Ref); err != nil {
			return nil, fmt.Errorf("scan fund movement: %w", err)
		}
		m.Holder = core.Identity(h)
		if m.Currency, err = core.ParseCurrency(cur); err != nil {
			return nil, fmt.Errorf("scan fund movement %d: %w", m.ID, err)
		}
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fund movements: %w", err)
	}
	return movements, nil
}

// setMember inserts or deletes key from a single-column membership table.
// table and column are package constants, never user input.
func (t *Tx) setMember(ctx context.Context, table, column, key string, member bool) error {
	var query string
	if member {
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (?) ON CONFLICT DO NOTHING", table, column)
	} else {
		query = fmt.Sprintf("DELETE FROM %s WHERE %s = ?", table, column)
	}
	if _, err := t.tx.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("update %s %s: %w", table, key, err)
	}
	return nil
}

func (t *Tx) isMember(ctx context.Context, table, column, key string) (bool, error) {
	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?", table, column)
	if err := t.tx.QueryRowContext(ctx, query, key).Scan(&n); err != nil {
		return false, fmt.Errorf("read %s %s: %w", table, key, err)
	}
	return n > 0, nil
}
