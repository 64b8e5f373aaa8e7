// Package config loads packsale catalog files.
//
// A catalog file is YAML. Loading runs three passes: the document is checked
// against an embedded CUE schema, decoded strictly into Go structs, and
// finally converted into an engine.Catalog whose cross references are
// validated. Every pass reports ValidationErrors with the offending field.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/packsale/internal/chest"
	"github.com/roach88/packsale/internal/core"
	"github.com/roach88/packsale/internal/engine"
	"github.com/roach88/packsale/internal/oracle"
	"github.com/roach88/packsale/internal/pack"
	"github.com/roach88/packsale/internal/referral"
)

// DefaultDatabase is used when a file does not name one.
const DefaultDatabase = "packsale.db"

// Config is a decoded catalog file.
type Config struct {
	Owner        string           `yaml:"owner"`
	Database     string           `yaml:"database,omitempty"`
	Oracle       OracleConfig     `yaml:"oracle"`
	Referral     *ReferralConfig  `yaml:"referral,omitempty"`
	SignerWindow string           `yaml:"signer_window,omitempty"`
	Signers      []SignerConfig   `yaml:"signers,omitempty"`
	Custodians   []string         `yaml:"custodians,omitempty"`
	Migration    *MigrationConfig `yaml:"migration,omitempty"`
	Caps         map[string]int64 `yaml:"caps"`
	Packs        []PackConfig     `yaml:"packs"`
	Chests       []ChestConfig    `yaml:"chests,omitempty"`
}

type OracleConfig struct {
	NativePerCent string `yaml:"native_per_cent"`
}

type ReferralConfig struct {
	SellerBps   int64 `yaml:"seller_bps"`
	ReferrerBps int64 `yaml:"referrer_bps"`
}

type SignerConfig struct {
	Identity   string `yaml:"identity"`
	LimitCents int64  `yaml:"limit_cents"`
}

type MigrationConfig struct {
	Name   string `yaml:"name"`
	Cutoff int64  `yaml:"cutoff"`
}

type PackConfig struct {
	SKU            string `yaml:"sku"`
	Family         string `yaml:"family"`
	Vendor         string `yaml:"vendor"`
	Seller         string `yaml:"seller"`
	PriceCents     int64  `yaml:"price_cents"`
	MaxMintBatch   int64  `yaml:"max_mint_batch"`
	Raffle         bool   `yaml:"raffle,omitempty"`
	TicketsPerItem int64  `yaml:"tickets_per_item,omitempty"`
	Tag            string `yaml:"tag,omitempty"`
}

type ChestConfig struct {
	SKU           string `yaml:"sku"`
	Family        string `yaml:"family"`
	Vendor        string `yaml:"vendor"`
	Seller        string `yaml:"seller"`
	PriceCents    int64  `yaml:"price_cents"`
	Pack          string `yaml:"pack"`
	PacksPerChest int64  `yaml:"packs_per_chest,omitempty"`
	MaxOpenPerTx  int64  `yaml:"max_open_per_tx,omitempty"`
}

// Load reads and validates the catalog file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(path, data)
}

// Parse validates data and decodes it. filename is used in error positions.
func Parse(filename string, data []byte) (*Config, error) {
	if errs := validateSchema(filename, data); len(errs) > 0 {
		return nil, errs
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, ValidationErrors{{Field: "config", Message: err.Error(), Code: ErrCodeDecode}}
	}

	if _, err := cfg.Catalog(); err != nil {
		return nil, err
	}
	if _, err := cfg.NewOracle(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DatabasePath returns the configured database, or DefaultDatabase.
func (c *Config) DatabasePath() string {
	if c.Database == "" {
		return DefaultDatabase
	}
	return c.Database
}

// NewOracle builds the fixed-rate oracle described by the file.
func (c *Config) NewOracle() (*oracle.FixedRate, error) {
	o, err := oracle.ParseFixedRate(c.Oracle.NativePerCent)
	if err != nil {
		return nil, ValidationErrors{{Field: "oracle.native_per_cent", Message: err.Error(), Code: ErrCodeCatalog}}
	}
	return o, nil
}

// Catalog converts the file into an engine.Catalog and validates it.
func (c *Config) Catalog() (engine.Catalog, error) {
	cat := engine.Catalog{
		Owner: core.Identity(c.Owner),
		Caps:  make(map[string]int64, len(c.Caps)),
	}
	for family, capacity := range c.Caps {
		cat.Caps[family] = capacity
	}

	if c.Referral != nil {
		split, err := referral.New(c.Referral.SellerBps, c.Referral.ReferrerBps)
		if err != nil {
			return engine.Catalog{}, catalogError("referral", err)
		}
		cat.Split = split
	}

	if c.SignerWindow != "" {
		window, err := time.ParseDuration(c.SignerWindow)
		if err != nil {
			return engine.Catalog{}, catalogError("signer_window", err)
		}
		cat.SignerWindow = window
	}

	if len(c.Signers) > 0 {
		cat.SignerLimits = make(map[core.Identity]int64, len(c.Signers))
		for i, s := range c.Signers {
			id := core.Identity(s.Identity)
			if _, dup := cat.SignerLimits[id]; dup {
				return engine.Catalog{}, catalogError(fmt.Sprintf("signers[%d]", i), fmt.Errorf("duplicate signer %s", id))
			}
			cat.SignerLimits[id] = s.LimitCents
		}
	}

	for _, id := range c.Custodians {
		cat.Custodians = append(cat.Custodians, core.Identity(id))
	}

	if c.Migration != nil {
		cat.Migration = &engine.MigrationSpec{Name: c.Migration.Name, Cutoff: c.Migration.Cutoff}
	}

	for _, p := range c.Packs {
		cat.Packs = append(cat.Packs, pack.Product{
			SKU:            p.SKU,
			Family:         p.Family,
			Vendor:         core.Identity(p.Vendor),
			Seller:         core.Identity(p.Seller),
			PriceCents:     p.PriceCents,
			MaxMintBatch:   p.MaxMintBatch,
			Raffle:         p.Raffle,
			TicketsPerItem: p.TicketsPerItem,
			Tag:            p.Tag,
		})
	}

	for _, ch := range c.Chests {
		packs := ch.PacksPerChest
		if packs == 0 {
			packs = chest.DefaultPacksPerChest
		}
		cat.Chests = append(cat.Chests, engine.ChestProduct{
			Product: chest.Product{
				SKU:           ch.SKU,
				Family:        ch.Family,
				Vendor:        core.Identity(ch.Vendor),
				Seller:        core.Identity(ch.Seller),
				PriceCents:    ch.PriceCents,
				PacksPerChest: packs,
				MaxOpenPerTx:  ch.MaxOpenPerTx,
			},
			PackSKU: ch.Pack,
		})
	}

	if err := cat.Validate(); err != nil {
		return engine.Catalog{}, catalogError("catalog", err)
	}
	return cat, nil
}

func catalogError(field string, err error) ValidationErrors {
	return ValidationErrors{{Field: field, Message: err.Error(), Code: ErrCodeCatalog}}
}

// AsValidationErrors extracts ValidationErrors from err, if any.
func AsValidationErrors(err error) (ValidationErrors, bool) {
	var errs ValidationErrors
	if errors.As(err, &errs) {
		return errs, true
	}
	return nil, false
}
