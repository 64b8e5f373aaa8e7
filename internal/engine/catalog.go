package engine

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/roach88/packsale/internal/chest"
	"github.com/roach88/packsale/internal/core"
	"github.com/roach88/packsale/internal/pack"
	"github.com/roach88/packsale/internal/payment"
	"github.com/roach88/packsale/internal/referral"
)

// Catalog is everything the engine sells and who may administer it.
type Catalog struct {
	// Owner is the only identity allowed to run admin commands.
	Owner core.Identity

	Packs  []pack.Product
	Chests []ChestProduct

	// Caps maps a product family to its issuance capacity.
	Caps map[string]int64

	// Split is the seller/referrer share. Zero means referral.Default().
	Split referral.Split

	// SignerWindow is the signer limit window. Zero means payment.DefaultWindow.
	SignerWindow time.Duration

	SignerLimits map[core.Identity]int64
	Custodians   []core.Identity

	Migration *MigrationSpec
}

// ChestProduct is a chest plus the pack SKU it opens into.
type ChestProduct struct {
	chest.Product
	PackSKU string
}

// MigrationSpec configures the one-time legacy migration.
type MigrationSpec struct {
	Name   string
	Cutoff int64
}

// normalize applies defaults and checks cross references.
func (c Catalog) normalize() (Catalog, error) {
	if c.Split == (referral.Split{}) {
		c.Split = referral.Default()
	}
	if err := c.Split.Validate(); err != nil {
		return Catalog{}, fmt.Errorf("catalog: %w", err)
	}
	if c.SignerWindow == 0 {
		c.SignerWindow = payment.DefaultWindow
	}
	if c.SignerWindow < 0 {
		return Catalog{}, fmt.Errorf("catalog: negative signer window %s", c.SignerWindow)
	}

	seen := make(map[string]bool)
	requireFamily := func(sku, family string) error {
		if _, ok := c.Caps[family]; !ok {
			return fmt.Errorf("catalog: %s: family %q has no cap", sku, family)
		}
		return nil
	}

	packs := slices.Clone(c.Packs)
	packIndex := make(map[string]int, len(packs))
	for i, p := range packs {
		if p.SKU == "" {
			return Catalog{}, fmt.Errorf("catalog: pack %d has no sku", i)
		}
		if seen[p.SKU] {
			return Catalog{}, fmt.Errorf("catalog: duplicate sku %q", p.SKU)
		}
		seen[p.SKU] = true
		if p.Vendor.IsZero() {
			return Catalog{}, fmt.Errorf("catalog: %s: no vendor identity", p.SKU)
		}
		if p.MaxMintBatch < 1 {
			return Catalog{}, fmt.Errorf("catalog: %s: max mint batch must be positive", p.SKU)
		}
		if p.PriceCents < 0 || p.TicketsPerItem < 0 {
			return Catalog{}, fmt.Errorf("catalog: %s: negative price or tickets", p.SKU)
		}
		if err := requireFamily(p.SKU, p.Family); err != nil {
			return Catalog{}, err
		}
		packIndex[p.SKU] = i
	}

	chests := slices.Clone(c.Chests)
	for _, ch := range chests {
		if ch.SKU == "" {
			return Catalog{}, fmt.Errorf("catalog: chest has no sku")
		}
		if seen[ch.SKU] {
			return Catalog{}, fmt.Errorf("catalog: duplicate sku %q", ch.SKU)
		}
		seen[ch.SKU] = true
		if ch.Vendor.IsZero() {
			return Catalog{}, fmt.Errorf("catalog: %s: no vendor identity", ch.SKU)
		}
		if err := requireFamily(ch.SKU, ch.Family); err != nil {
			return Catalog{}, err
		}
		i, ok := packIndex[ch.PackSKU]
		if !ok {
			return Catalog{}, fmt.Errorf("catalog: %s: opens into unknown pack %q", ch.SKU, ch.PackSKU)
		}
		switch packs[i].Chest {
		case core.Zero:
			packs[i].Chest = ch.Vendor
		case ch.Vendor:
		default:
			return Catalog{}, fmt.Errorf("catalog: pack %s already opened by %s", ch.PackSKU, packs[i].Chest)
		}
	}

	for family, capacity := range c.Caps {
		if capacity < 0 {
			return Catalog{}, fmt.Errorf("catalog: family %q: negative capacity", family)
		}
	}
	for signer, limit := range c.SignerLimits {
		if limit < 0 {
			return Catalog{}, fmt.Errorf("catalog: signer %s: negative limit", signer)
		}
	}

	c.Packs = packs
	c.Chests = chests
	return c, nil
}

// Validate reports the first problem normalize would reject the catalog for.
func (c Catalog) Validate() error {
	_, err := c.normalize()
	return err
}

// Vendor returns the vendor identity selling sku.
func (c Catalog) Vendor(sku string) (core.Identity, bool) {
	for _, p := range c.Packs {
		if p.SKU == sku {
			return p.Vendor, true
		}
	}
	for _, ch := range c.Chests {
		if ch.SKU == sku {
			return ch.Vendor, true
		}
	}
	return core.Zero, false
}

// SKUs lists every pack and chest SKU in catalog order.
func (c Catalog) SKUs() []string {
	out := make([]string, 0, len(c.Packs)+len(c.Chests))
	for _, p := range c.Packs {
		out = append(out, p.SKU)
	}
	for _, ch := range c.Chests {
		out = append(out, ch.SKU)
	}
	return out
}

func sortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	return slices.Sorted(maps.Keys(m))
}
