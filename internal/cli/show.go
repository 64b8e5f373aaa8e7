package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/packsale/internal/api"
	"github.com/roach88/packsale/internal/collectible"
	"github.com/roach88/packsale/internal/core"
)

// UnitsView is a holder's minted collectibles.
type UnitsView struct {
	Holder  core.Identity `json:"holder"`
	Product string        `json:"product,omitempty"`
	Count   int64         `json:"count"`
}

// NewShowCommand creates the show command group.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Query commitments, caps, balances and funds",
	}

	query := func(use, short string, args cobra.PositionalArgs, fn func(ctx context.Context, s *session, args []string) (any, error)) *cobra.Command {
		return &cobra.Command{
			Use:           use,
			Short:         short,
			Args:          args,
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return oneShot(rootOpts, cmd, func(ctx context.Context, s *session) (any, error) {
					return fn(ctx, s, args)
				})
			},
		}
	}

	commitment := query("commitment <sku> <id>", "Show one commitment", cobra.ExactArgs(2),
		func(ctx context.Context, s *session, args []string) (any, error) {
			id, err := parseID(args[1])
			if err != nil {
				return nil, err
			}
			return s.engine.Commitment(ctx, args[0], id)
		})

	var owner string
	commitments := query("commitments <sku>", "List a pack's commitments", cobra.ExactArgs(1),
		func(ctx context.Context, s *session, args []string) (any, error) {
			return s.engine.Commitments(ctx, args[0], core.Identity(owner))
		})
	commitments.Flags().StringVar(&owner, "owner", "", "only this owner's commitments")

	capCmd := query("cap <family>", "Show a family's supply cap", cobra.ExactArgs(1),
		func(ctx context.Context, s *session, args []string) (any, error) {
			return s.engine.Cap(ctx, args[0])
		})

	balance := query("balance <token> <holder>", "Show a fungible balance (chest:<sku>, raffle)", cobra.ExactArgs(2),
		func(ctx context.Context, s *session, args []string) (any, error) {
			n, err := s.engine.Balance(ctx, args[0], core.Identity(args[1]))
			if err != nil {
				return nil, err
			}
			return api.BalanceView{Token: args[0], Holder: core.Identity(args[1]), Amount: n}, nil
		})

	funds := query("funds <holder>", "Show credited funds and their movements", cobra.ExactArgs(1),
		func(ctx context.Context, s *session, args []string) (any, error) {
			holder := core.Identity(args[0])
			native, err := s.engine.Funds(ctx, holder, core.Native)
			if err != nil {
				return nil, err
			}
			cents, err := s.engine.Funds(ctx, holder, core.StableCents)
			if err != nil {
				return nil, err
			}
			moves, err := s.engine.FundMovements(ctx, holder)
			if err != nil {
				return nil, err
			}
			return api.NewFundsView(holder, native, cents, moves), nil
		})

	var product string
	units := query("units <holder>", "Count a holder's minted collectibles", cobra.ExactArgs(1),
		func(ctx context.Context, s *session, args []string) (any, error) {
			holder := core.Identity(args[0])
			ledger := collectible.NewStored(s.store)
			view := UnitsView{Holder: holder, Product: product}
			var err error
			if product != "" {
				view.Count, err = ledger.CountByProduct(ctx, holder, product)
			} else {
				view.Count, err = ledger.BalanceOf(ctx, holder)
			}
			if err != nil {
				return nil, err
			}
			return view, nil
		})
	units.Flags().StringVar(&product, "product", "", "only units of this product tag")

	cmd.AddCommand(commitment, commitments, capCmd, balance, funds, units)
	return cmd
}
