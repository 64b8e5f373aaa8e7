package engine

import (
	"context"
	"slices"

	"github.com/roach88/packsale/internal/canonical"
	"github.com/roach88/packsale/internal/core"
	"github.com/roach88/packsale/internal/raffle"
	"github.com/roach88/packsale/internal/store"
)

// admin runs an owner-only command. Every admin change is logged as an
// "admin.<name>" event carrying the actor.
func (e *Engine) admin(ctx context.Context, actor core.Identity, name string, payload canonical.Object, fn func(ctx context.Context, tx *store.Tx) error) error {
	op := "admin." + name
	if e.catalog.Owner.IsZero() || actor != e.catalog.Owner {
		return core.Errorf(core.KindUnauthorized, op, string(actor), "not the owner")
	}
	_, err := submit(ctx, e, op, func(ctx context.Context, tx *store.Tx, rec *recorder) (struct{}, error) {
		if err := fn(ctx, tx); err != nil {
			return struct{}{}, err
		}
		payload["actor"] = string(actor)
		return struct{}{}, rec.Emit(op, payload)
	})
	return err
}

// SetSellerApproval approves or revokes vendor as a seller of skus.
func (e *Engine) SetSellerApproval(ctx context.Context, actor, vendor core.Identity, skus []string, approved bool) error {
	list := make([]any, len(skus))
	for i, s := range skus {
		list[i] = s
	}
	return e.admin(ctx, actor, "seller_approval", canonical.Object{
		"vendor":   string(vendor),
		"skus":     list,
		"approved": approved,
	}, func(ctx context.Context, tx *store.Tx) error {
		return e.auth.SetSellerApproval(ctx, tx, vendor, skus, approved)
	})
}

// SetSignerLimit sets signer's StableCents limit per window. A negative
// limit removes the signer's authority.
func (e *Engine) SetSignerLimit(ctx context.Context, actor, signer core.Identity, limit int64) error {
	return e.admin(ctx, actor, "signer_limit", canonical.Object{
		"signer": string(signer),
		"limit":  limit,
	}, func(ctx context.Context, tx *store.Tx) error {
		return e.auth.SetSignerLimit(ctx, tx, signer, limit)
	})
}

// SetMinterApproval approves or revokes minter for raffle issuance.
func (e *Engine) SetMinterApproval(ctx context.Context, actor, minter core.Identity, approved bool) error {
	return e.admin(ctx, actor, "minter_approval", canonical.Object{
		"minter":   string(minter),
		"approved": approved,
	}, func(ctx context.Context, tx *store.Tx) error {
		return e.raffle.SetMinterApproval(ctx, tx, minter, approved)
	})
}

// SetCanUpdate grants or revokes cap mutation rights.
func (e *Engine) SetCanUpdate(ctx context.Context, actor core.Identity, addresses []core.Identity, allowed bool) error {
	list := make([]any, len(addresses))
	for i, a := range addresses {
		list[i] = string(a)
	}
	return e.admin(ctx, actor, "can_update", canonical.Object{
		"addresses": list,
		"allowed":   allowed,
	}, func(ctx context.Context, tx *store.Tx) error {
		return e.caps.SetCanUpdate(ctx, tx, addresses, allowed)
	})
}

// SetCustodian grants or revokes escrow cancellation rights.
func (e *Engine) SetCustodian(ctx context.Context, actor, address core.Identity, custodian bool) error {
	return e.admin(ctx, actor, "custodian", canonical.Object{
		"address":   string(address),
		"custodian": custodian,
	}, func(ctx context.Context, tx *store.Tx) error {
		return e.escrow.SetCustodian(ctx, tx, address, custodian)
	})
}

// SetPaused pauses or unpauses target: "raffle", a pack SKU or a chest SKU.
func (e *Engine) SetPaused(ctx context.Context, actor core.Identity, target string, paused bool) error {
	var fn func(ctx context.Context, tx *store.Tx) error
	switch {
	case target == raffle.Component:
		fn = func(ctx context.Context, tx *store.Tx) error { return e.raffle.SetPaused(ctx, tx, paused) }
	case e.packs[target] != nil:
		p := e.packs[target]
		fn = func(ctx context.Context, tx *store.Tx) error { return p.SetPaused(ctx, tx, paused) }
	case e.chests[target] != nil:
		c := e.chests[target]
		fn = func(ctx context.Context, tx *store.Tx) error { return c.SetPaused(ctx, tx, paused) }
	default:
		return core.Errorf(core.KindUnknownProduct, "admin.pause", target, "nothing to pause")
	}
	return e.admin(ctx, actor, "pause", canonical.Object{
		"target": target,
		"paused": paused,
	}, fn)
}

// PauseTargets lists every valid SetPaused target.
func (e *Engine) PauseTargets() []string {
	return slices.Concat([]string{raffle.Component}, e.catalog.SKUs())
}
