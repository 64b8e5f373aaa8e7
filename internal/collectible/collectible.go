// Package collectible defines the external ledger that represents ownership of
// minted units, plus an in-memory implementation.
package collectible

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/packsale/internal/core"
)

// UnitID identifies one minted unit.
type UnitID int64

// Ledger mints and tracks collectible units. The engine never inspects unit
// internals; it only mints, moves escrow custody and queries ownership.
type Ledger interface {
	Mint(ctx context.Context, owner core.Identity, productTag string, quantity int64) ([]UnitID, error)
	Transfer(ctx context.Context, from, to core.Identity) (int64, error)
	BalanceOf(ctx context.Context, owner core.Identity) (int64, error)
	OwnerOf(ctx context.Context, id UnitID) (core.Identity, error)
}

// Unit is a minted unit held by a Memory ledger.
type Unit struct {
	ID      UnitID
	Owner   core.Identity
	Product string
}

// Memory is a thread-safe in-memory Ledger. Unit ids are dense from 0.
type Memory struct {
	mu       sync.Mutex
	units    []Unit
	balances map[core.Identity]int64
}

// NewMemory returns an empty ledger.
func NewMemory() *Memory {
	return &Memory{balances: make(map[core.Identity]int64)}
}

// Mint creates quantity units of productTag owned by owner.
func (m *Memory) Mint(_ context.Context, owner core.Identity, productTag string, quantity int64) ([]UnitID, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("mint %s: invalid quantity %d", productTag, quantity)
	}
	if owner.IsZero() {
		return nil, fmt.Errorf("mint %s: zero owner", productTag)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]UnitID, 0, quantity)
	for i := int64(0); i < quantity; i++ {
		id := UnitID(len(m.units))
		m.units = append(m.units, Unit{ID: id, Owner: owner, Product: productTag})
		ids = append(ids, id)
	}
	m.balances[owner] += quantity
	return ids, nil
}

// Transfer moves every unit held by from to to.
func (m *Memory) Transfer(_ context.Context, from, to core.Identity) (int64, error) {
	if to.IsZero() {
		return 0, fmt.Errorf("transfer from %s: zero recipient", from)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for i := range m.units {
		if m.units[i].Owner == from {
			m.units[i].Owner = to
			n++
		}
	}
	m.balances[from] -= n
	m.balances[to] += n
	return n, nil
}

// BalanceOf returns the number of units owner holds.
func (m *Memory) BalanceOf(_ context.Context, owner core.Identity) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[owner], nil
}

// OwnerOf returns the owner of id.
func (m *Memory) OwnerOf(_ context.Context, id UnitID) (core.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id < 0 || int(id) >= len(m.units) {
		return core.Zero, fmt.Errorf("owner of %d: unknown unit", id)
	}
	return m.units[id].Owner, nil
}

// Units returns a copy of every minted unit in mint order.
func (m *Memory) Units() []Unit {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Unit, len(m.units))
	copy(out, m.units)
	return out
}

// CountByProduct returns how many units of productTag owner holds.
func (m *Memory) CountByProduct(owner core.Identity, productTag string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, u := range m.units {
		if u.Owner == owner && u.Product == productTag {
			n++
		}
	}
	return n
}
