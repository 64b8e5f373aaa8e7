package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/packsale/internal/core"
)

// NewAdminCommand creates the admin command group. Every subcommand is
// authorized against --actor, which must be the configured owner.
func NewAdminCommand(rootOpts *RootOptions) *cobra.Command {
	var actor string

	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Owner-only configuration changes",
		Long: `Change approvals, limits and pause switches. Each change is recorded in
the event log and survives restarts.`,
	}
	cmd.PersistentFlags().StringVar(&actor, "actor", "", "acting identity")

	admin := func(use, short string, args cobra.PositionalArgs, fn func(ctx context.Context, s *session, actor core.Identity, args []string) error) *cobra.Command {
		return &cobra.Command{
			Use:           use,
			Short:         short,
			Args:          args,
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return oneShot(rootOpts, cmd, func(ctx context.Context, s *session) (any, error) {
					if err := fn(ctx, s, core.Identity(actor), args); err != nil {
						return nil, err
					}
					return fmt.Sprintf("✓ %s", cmd.CommandPath()), nil
				})
			},
		}
	}

	var resume bool
	pause := admin("pause <target>", "Pause a component (see 'admin targets')", cobra.ExactArgs(1),
		func(ctx context.Context, s *session, actor core.Identity, args []string) error {
			return s.engine.SetPaused(ctx, actor, args[0], !resume)
		})
	pause.Flags().BoolVar(&resume, "resume", false, "unpause instead")

	targets := &cobra.Command{
		Use:           "targets",
		Short:         "List pausable components",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return oneShot(rootOpts, cmd, func(ctx context.Context, s *session) (any, error) {
				return s.engine.PauseTargets(), nil
			})
		},
	}

	var skus []string
	var revokeSeller bool
	seller := admin("seller <vendor>", "Approve a vendor to sell SKUs", cobra.ExactArgs(1),
		func(ctx context.Context, s *session, actor core.Identity, args []string) error {
			return s.engine.SetSellerApproval(ctx, actor, core.Identity(args[0]), skus, !revokeSeller)
		})
	seller.Flags().StringSliceVar(&skus, "sku", nil, "SKUs to approve (repeatable)")
	seller.Flags().BoolVar(&revokeSeller, "revoke", false, "revoke instead")
	_ = seller.MarkFlagRequired("sku")

	signerLimit := admin("signer-limit <signer> <limit-cents>", "Set a signer's rolling spend limit", cobra.ExactArgs(2),
		func(ctx context.Context, s *session, actor core.Identity, args []string) error {
			limit, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return commandError(ErrCodeUsage, fmt.Sprintf("invalid limit %q", args[1]), err)
			}
			return s.engine.SetSignerLimit(ctx, actor, core.Identity(args[0]), limit)
		})

	var revokeMinter bool
	minter := admin("minter <identity>", "Approve an identity to mint", cobra.ExactArgs(1),
		func(ctx context.Context, s *session, actor core.Identity, args []string) error {
			return s.engine.SetMinterApproval(ctx, actor, core.Identity(args[0]), !revokeMinter)
		})
	minter.Flags().BoolVar(&revokeMinter, "revoke", false, "revoke instead")

	var revokeCustodian bool
	custodian := admin("custodian <identity>", "Grant escrow cancellation rights", cobra.ExactArgs(1),
		func(ctx context.Context, s *session, actor core.Identity, args []string) error {
			return s.engine.SetCustodian(ctx, actor, core.Identity(args[0]), !revokeCustodian)
		})
	custodian.Flags().BoolVar(&revokeCustodian, "revoke", false, "revoke instead")

	var revokeUpdater bool
	capUpdater := admin("cap-updater <identity>...", "Allow identities to update caps", cobra.MinimumNArgs(1),
		func(ctx context.Context, s *session, actor core.Identity, args []string) error {
			ids := make([]core.Identity, len(args))
			for i, a := range args {
				ids[i] = core.Identity(a)
			}
			return s.engine.SetCanUpdate(ctx, actor, ids, !revokeUpdater)
		})
	capUpdater.Flags().BoolVar(&revokeUpdater, "revoke", false, "revoke instead")

	cmd.AddCommand(pause, targets, seller, signerLimit, minter, custodian, capUpdater)
	return cmd
}
