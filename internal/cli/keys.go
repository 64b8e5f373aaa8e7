package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/packsale/internal/api"
	"github.com/roach88/packsale/internal/core"
	"github.com/roach88/packsale/internal/payment"
	"github.com/roach88/packsale/internal/signing"
)

// KeyView is a generated signing key.
type KeyView struct {
	Identity core.Identity `json:"identity"`
	Key      string        `json:"key"`
}

// NewKeygenCommand creates the keygen command.
func NewKeygenCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a payment signing key",
		Long: `Generate a secp256k1 key for signing stable-cent payments. Add the
identity to the config's signers, or approve it with 'admin signer-limit'.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			key, err := signing.GenerateKey()
			if err != nil {
				return f.Fail(err)
			}
			return f.Success(KeyView{Identity: key.Identity(), Key: key.Hex()})
		},
	}
}

// NewSignCommand creates the sign command.
func NewSignCommand(rootOpts *RootOptions) *cobra.Command {
	var key, buyer, recipient string
	var quantity, value, nonce int64
	var escrowFor time.Duration

	cmd := &cobra.Command{
		Use:   "sign <sku>",
		Short: "Sign a stable-cent payment for an order",
		Long: `Sign a stable-cent payment for an order and print it in the form the
HTTP API accepts as "payment".

Example:
  packsale sign rare --key $SIGNER_KEY --buyer 0xabc -n 2 --nonce 7`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := signing.ParseKey(key)
			if err != nil {
				return rootOpts.formatter(cmd).Fail(commandError(ErrCodeUsage, "invalid --key", err))
			}
			return oneShot(rootOpts, cmd, func(ctx context.Context, s *session) (any, error) {
				r := core.Identity(recipient)
				if r == "" {
					r = core.Identity(buyer)
				}
				p, err := s.engine.SignPayment(signer, args[0], quantity, core.Identity(buyer), r, payment.Params{
					Value: value, Nonce: nonce, EscrowFor: escrowFor,
				})
				if err != nil {
					return nil, err
				}
				return api.NewPaymentBody(p), nil
			})
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "hex private key (required)")
	cmd.Flags().StringVar(&buyer, "buyer", "", "buyer identity (required)")
	cmd.Flags().StringVar(&recipient, "recipient", "", "recipient identity (default buyer)")
	cmd.Flags().Int64VarP(&quantity, "quantity", "n", 1, "quantity")
	cmd.Flags().Int64Var(&value, "value", 0, "signed value in cents (default the order total)")
	cmd.Flags().Int64Var(&nonce, "nonce", 0, "payment nonce")
	cmd.Flags().DurationVar(&escrowFor, "escrow-for", 0, "escrow duration")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("buyer")

	return cmd
}

// sampleConfig is written by init.
const sampleConfig = `# packsale catalog
owner: "%s"
database: packsale.db

oracle:
  native_per_cent: "5"

referral:
  seller_bps: 0
  referrer_bps: 500

signer_window: 24h

caps:
  genesis: 1000
  genesis-chest: 100

packs:
  - sku: genesis
    family: genesis
    vendor: "0xgenesispack"
    seller: "%s"
    price_cents: 100
    max_mint_batch: 5
    raffle: true
    tickets_per_item: 1

chests:
  - sku: genesis-chest
    family: genesis-chest
    vendor: "0xgenesischest"
    seller: "%s"
    price_cents: 500
    pack: genesis
    max_open_per_tx: 10
`

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	var owner string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config and create its database",
		Long: `Write a starter catalog to the --config path and bootstrap its database.
An existing config is left alone unless --force is given.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			if _, err := os.Stat(rootOpts.Config); err == nil && !force {
				return f.Fail(commandError(ErrCodeUsage, fmt.Sprintf("%s exists (use --force to overwrite)", rootOpts.Config), nil))
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return f.Fail(commandError(ErrCodeNotFound, "stat config", err))
			}

			data := fmt.Sprintf(sampleConfig, owner, owner, owner)
			if err := os.WriteFile(rootOpts.Config, []byte(data), 0o644); err != nil {
				return f.Fail(commandError(ErrCodeGeneric, "write config", err))
			}
			f.VerboseLog("Wrote %s", rootOpts.Config)

			return oneShot(rootOpts, cmd, func(ctx context.Context, s *session) (any, error) {
				return fmt.Sprintf("✓ Initialized %s (%d packs, %d chests)", rootOpts.Config, len(s.cfg.Packs), len(s.cfg.Chests)), nil
			})
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "0xowner", "owner identity")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")

	return cmd
}
