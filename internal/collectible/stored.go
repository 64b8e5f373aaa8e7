package collectible

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/packsale/internal/core"
	"github.com/roach88/packsale/internal/store"
)

// Transactional is a Ledger that shares the engine's store. The engine
// applies its outbox entries inside the transaction that marks them
// delivered, so each entry takes effect exactly once.
type Transactional interface {
	Ledger
	MintTx(ctx context.Context, tx *store.Tx, owner core.Identity, productTag string, quantity int64) ([]UnitID, error)
	TransferTx(ctx context.Context, tx *store.Tx, from, to core.Identity) (int64, error)
}

// Stored is a Ledger persisted in the engine's SQLite store.
// Mint and Transfer commit in their own transaction; the Tx variants join
// the caller's.
type Stored struct {
	store *store.Store
}

var _ Transactional = (*Stored)(nil)

// NewStored returns a ledger backed by s.
func NewStored(s *store.Store) *Stored {
	return &Stored{store: s}
}

// Mint creates quantity units of productTag owned by owner.
func (l *Stored) Mint(ctx context.Context, owner core.Identity, productTag string, quantity int64) ([]UnitID, error) {
	var ids []UnitID
	err := l.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		ids, err = l.MintTx(ctx, tx, owner, productTag, quantity)
		return err
	})
	return ids, err
}

// MintTx is Mint inside tx.
func (l *Stored) MintTx(ctx context.Context, tx *store.Tx, owner core.Identity, productTag string, quantity int64) ([]UnitID, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("mint %s: invalid quantity %d", productTag, quantity)
	}
	if owner.IsZero() {
		return nil, fmt.Errorf("mint %s: zero owner", productTag)
	}

	first, err := tx.MintUnits(ctx, owner, productTag, quantity)
	if err != nil {
		return nil, fmt.Errorf("mint %s: %w", productTag, err)
	}

	ids := make([]UnitID, quantity)
	for i := range ids {
		ids[i] = UnitID(first + int64(i))
	}
	return ids, nil
}

// Transfer moves every unit held by from to to.
func (l *Stored) Transfer(ctx context.Context, from, to core.Identity) (int64, error) {
	var n int64
	err := l.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		n, err = l.TransferTx(ctx, tx, from, to)
		return err
	})
	return n, err
}

// TransferTx is Transfer inside tx.
func (l *Stored) TransferTx(ctx context.Context, tx *store.Tx, from, to core.Identity) (int64, error) {
	if to.IsZero() {
		return 0, fmt.Errorf("transfer from %s: zero recipient", from)
	}
	return tx.TransferUnits(ctx, from, to)
}

// BalanceOf returns the number of units owner holds.
func (l *Stored) BalanceOf(ctx context.Context, owner core.Identity) (int64, error) {
	var n int64
	err := l.store.View(ctx, func(tx *store.Tx) error {
		var err error
		n, err = tx.UnitCount(ctx, owner, "")
		return err
	})
	return n, err
}

// OwnerOf returns the owner of id.
func (l *Stored) OwnerOf(ctx context.Context, id UnitID) (core.Identity, error) {
	var owner core.Identity
	err := l.store.View(ctx, func(tx *store.Tx) error {
		var err error
		owner, err = tx.UnitOwner(ctx, int64(id))
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return core.Zero, fmt.Errorf("owner of %d: unknown unit", id)
	}
	return owner, err
}

// CountByProduct returns how many units of productTag owner holds.
func (l *Stored) CountByProduct(ctx context.Context, owner core.Identity, productTag string) (int64, error) {
	var n int64
	err := l.store.View(ctx, func(tx *store.Tx) error {
		var err error
		n, err = tx.UnitCount(ctx, owner, productTag)
		return err
	})
	return n, err
}
