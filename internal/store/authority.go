package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/packsale/internal/core"
)

// ConsumeNonce marks nonce as used by signer.
// Returns false if the nonce was already consumed.
func (t *Tx) ConsumeNonce(ctx context.Context, signer core.Identity, nonce int64) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO nonces (signer, nonce) VALUES (?, ?)
		ON CONFLICT(signer, nonce) DO NOTHING
	`, string(signer), nonce)
	if err != nil {
		return false, fmt.Errorf("consume nonce %s/%d: %w", signer, nonce, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consume nonce %s/%d: rows affected: %w", signer, nonce, err)
	}
	return rows > 0, nil
}

// NonceUsed reports whether signer already consumed nonce.
func (t *Tx) NonceUsed(ctx context.Context, signer core.Identity, nonce int64) (bool, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM nonces WHERE signer = ? AND nonce = ?
	`, string(signer), nonce).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("read nonce %s/%d: %w", signer, nonce, err)
	}
	return n > 0, nil
}

// SetSignerLimit sets the per-window authorization limit for signer.
// A negative limit removes the signer's authority.
func (t *Tx) SetSignerLimit(ctx context.Context, signer core.Identity, limit int64) error {
	var err error
	if limit < 0 {
		_, err = t.tx.ExecContext(ctx, `DELETE FROM signer_limits WHERE signer = ?`, string(signer))
	} else {
		_, err = t.tx.ExecContext(ctx, `
			INSERT INTO signer_limits (signer, limit_value) VALUES (?, ?)
			ON CONFLICT(signer) DO UPDATE SET limit_value = excluded.limit_value
		`, string(signer), limit)
	}
	if err != nil {
		return fmt.Errorf("set signer limit %s: %w", signer, err)
	}
	return nil
}

// SignerLimit returns signer's limit and whether one is configured.
func (t *Tx) SignerLimit(ctx context.Context, signer core.Identity) (int64, bool, error) {
	var limit int64
	err := t.tx.QueryRowContext(ctx, `
		SELECT limit_value FROM signer_limits WHERE signer = ?
	`, string(signer)).Scan(&limit)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read signer limit %s: %w", signer, err)
	}
	return limit, true, nil
}

// SignerUsage returns the value signer authorized in the window starting at windowStart.
func (t *Tx) SignerUsage(ctx context.Context, signer core.Identity, windowStart int64) (int64, error) {
	var used int64
	err := t.tx.QueryRowContext(ctx, `
		SELECT used FROM signer_usage WHERE signer = ? AND window_start = ?
	`, string(signer), windowStart).Scan(&used)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read signer usage %s: %w", signer, err)
	}
	return used, nil
}

// AddSignerUsage adds amount to signer's usage for the window.
func (t *Tx) AddSignerUsage(ctx context.Context, signer core.Identity, windowStart, amount int64) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO signer_usage (signer, window_start, used) VALUES (?, ?, ?)
		ON CONFLICT(signer, window_start) DO UPDATE SET used = used + excluded.used
	`, string(signer), windowStart, amount)
	if err != nil {
		return fmt.Errorf("add signer usage %s: %w", signer, err)
	}
	return nil
}

// SetSellerApproval approves or revokes vendor for each sku.
func (t *Tx) SetSellerApproval(ctx context.Context, vendor core.Identity, skus []string, approved bool) error {
	for _, sku := range skus {
		var err error
		if approved {
			_, err = t.tx.ExecContext(ctx, `
				INSERT INTO seller_approvals (vendor, sku) VALUES (?, ?)
				ON CONFLICT DO NOTHING
			`, string(vendor), sku)
		} else {
			_, err = t.tx.ExecContext(ctx, `
				DELETE FROM seller_approvals WHERE vendor = ? AND sku = ?
			`, string(vendor), sku)
		}
		if err != nil {
			return fmt.Errorf("set seller approval %s/%s: %w", vendor, sku, err)
		}
	}
	return nil
}

// SellerApproved reports whether vendor may sell sku.
func (t *Tx) SellerApproved(ctx context.Context, vendor core.Identity, sku string) (bool, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM seller_approvals WHERE vendor = ? AND sku = ?
	`, string(vendor), sku).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("read seller approval %s/%s: %w", vendor, sku, err)
	}
	return n > 0, nil
}

// SetMinterApproval approves or revokes a raffle minter.
func (t *Tx) SetMinterApproval(ctx context.Context, minter core.Identity, approved bool) error {
	return t.setMember(ctx, "minter_approvals", "minter", string(minter), approved)
}

// MinterApproved reports whether minter may issue raffle tickets.
func (t *Tx) MinterApproved(ctx context.Context, minter core.Identity) (bool, error) {
	return t.isMember(ctx, "minter_approvals", "minter", string(minter))
}

// SetPaused sets the pause flag for a component, e.g. "raffle" or "pack:rare".
func (t *Tx) SetPaused(ctx context.Context, component string, paused bool) error {
	return t.setMember(ctx, "pauses", "component", component, paused)
}

// Paused reports whether component's pause flag is set.
func (t *Tx) Paused(ctx context.Context, component string) (bool, error) {
	return t.isMember(ctx, "pauses", "component", component)
}

// SetCustodian grants or revokes escrow custodian rights.
func (t *Tx) SetCustodian(ctx context.Context, address core.Identity, custodian bool) error {
	return t.setMember(ctx, "escrow_custodians", "address", string(address), custodian)
}

// IsCustodian reports whether address may cancel escrow entries.
func (t *Tx) IsCustodian(ctx context.Context, address core.Identity) (bool, error) {
	return t.isMember(ctx, "escrow_custodians", "address", string(address))
}

// ConsumeMigrationKey marks key as consumed for migration.
// Returns false if it was consumed before.
func (t *Tx) ConsumeMigrationKey(ctx context.Context, migration string, key int64) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO migrations_consumed (migration, key) VALUES (?, ?)
		ON CONFLICT DO NOTHING
	`, migration, key)
	if err != nil {
		return false, fmt.Errorf("consume migration key %s/%d: %w", migration, key, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consume migration key %s/%d: rows affected: %w", migration, key, err)
	}
	return rows > 0, nil
}
