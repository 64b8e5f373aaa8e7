package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/packsale/internal/api"
	"github.com/roach88/packsale/internal/core"
	"github.com/roach88/packsale/internal/engine"
	"github.com/roach88/packsale/internal/payment"
	"github.com/roach88/packsale/internal/sale"
	"github.com/roach88/packsale/internal/signing"
)

// paymentFlags are the buyer and payment flags shared by purchase commands.
//
// Without --key the purchase settles in native value; --attached defaults
// to the quoted amount. With --key the payment is signed in stable cents by
// that key, which must be an approved signer.
type paymentFlags struct {
	Buyer     string
	Recipient string
	Referrer  string
	Quantity  int64
	Attached  int64
	Key       string
	Value     int64
	Nonce     int64
	EscrowFor time.Duration
}

func (p *paymentFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.Buyer, "buyer", "", "buyer identity (required)")
	cmd.Flags().StringVar(&p.Recipient, "recipient", "", "recipient identity (default buyer)")
	cmd.Flags().StringVar(&p.Referrer, "referrer", "", "referrer identity")
	cmd.Flags().Int64VarP(&p.Quantity, "quantity", "n", 1, "quantity to buy")
	cmd.Flags().Int64Var(&p.Attached, "attached", 0, "native value attached (default the quote)")
	cmd.Flags().StringVar(&p.Key, "key", "", "hex private key of a signer; pays in usd_cents")
	cmd.Flags().Int64Var(&p.Value, "value", 0, "signed value in cents (default the order total)")
	cmd.Flags().Int64Var(&p.Nonce, "nonce", 0, "signed payment nonce")
	cmd.Flags().DurationVar(&p.EscrowFor, "escrow-for", 0, "hold signed funds in escrow for this long")
	_ = cmd.MarkFlagRequired("buyer")
}

// purchase builds the purchase of sku, signing or quoting the payment.
func (p *paymentFlags) purchase(cmd *cobra.Command, e *engine.Engine, sku string) (payment.Purchase, error) {
	req := payment.Purchase{
		Buyer:         core.Identity(p.Buyer),
		Recipient:     core.Identity(p.Recipient),
		Referrer:      core.Identity(p.Referrer),
		Quantity:      p.Quantity,
		AttachedValue: p.Attached,
	}
	recipient := req.Recipient
	if recipient == "" {
		recipient = req.Buyer
	}

	if p.Key != "" {
		signer, err := signing.ParseKey(p.Key)
		if err != nil {
			return payment.Purchase{}, commandError(ErrCodeUsage, "invalid --key", err)
		}
		pay, err := e.SignPayment(signer, sku, p.Quantity, req.Buyer, recipient, payment.Params{
			Value: p.Value, Nonce: p.Nonce, EscrowFor: p.EscrowFor,
		})
		if err != nil {
			return payment.Purchase{}, err
		}
		req.Payment = pay
		return req, nil
	}

	req.Payment = core.NativePayment()
	if !cmd.Flags().Changed("attached") {
		_, native, err := e.QuoteFor(sku, p.Quantity, req.Buyer, recipient)
		if err != nil {
			return payment.Purchase{}, err
		}
		req.AttachedValue = native
	}
	return req, nil
}

// NewQuoteCommand creates the quote command.
func NewQuoteCommand(rootOpts *RootOptions) *cobra.Command {
	var quantity int64
	var buyer, recipient string

	cmd := &cobra.Command{
		Use:   "quote <sku>",
		Short: "Price an order of a pack or chest",
		Long: `Price an order, applying the buyer's discount, and convert the total
to native value at the configured rate.

Example:
  packsale quote rare -n 6 --buyer 0xabc`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return oneShot(rootOpts, cmd, func(ctx context.Context, s *session) (any, error) {
				r := core.Identity(recipient)
				if r == "" {
					r = core.Identity(buyer)
				}
				order, native, err := s.engine.QuoteFor(args[0], quantity, core.Identity(buyer), r)
				if err != nil {
					return nil, err
				}
				return api.QuoteView{Order: order, Native: native}, nil
			})
		},
	}

	cmd.Flags().Int64VarP(&quantity, "quantity", "n", 1, "quantity")
	cmd.Flags().StringVar(&buyer, "buyer", "", "buyer identity")
	cmd.Flags().StringVar(&recipient, "recipient", "", "recipient identity (default buyer)")

	return cmd
}

// NewPurchaseCommand creates the purchase command.
func NewPurchaseCommand(rootOpts *RootOptions) *cobra.Command {
	p := &paymentFlags{}

	cmd := &cobra.Command{
		Use:   "purchase <sku>",
		Short: "Buy packs, recording a commitment",
		Long: `Buy packs. Payment is settled immediately and a commitment to mint
the packs is recorded; run mint (or fulfill) to deliver them.

Examples:
  packsale purchase rare --buyer 0xabc -n 6
  packsale purchase rare --buyer 0xabc -n 2 --key $SIGNER_KEY --nonce 7 --escrow-for 72h`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return oneShot(rootOpts, cmd, func(ctx context.Context, s *session) (any, error) {
				req, err := p.purchase(cmd, s.engine, args[0])
				if err != nil {
					return nil, err
				}
				rc, err := s.engine.Purchase(ctx, args[0], req)
				if err != nil {
					return nil, err
				}
				return api.NewPurchaseView(rc), nil
			})
		},
	}
	p.register(cmd)

	return cmd
}

// NewMintCommand creates the mint command.
func NewMintCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mint <sku> <commitment-id>",
		Short: "Mint the next batch of a commitment",
		Long: `Mint the next batch of a commitment, at most the pack's max_mint_batch
units. Raffle tickets are issued for the batch when the pack has a raffle.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[1])
			if err != nil {
				return rootOpts.formatter(cmd).Fail(err)
			}
			return oneShot(rootOpts, cmd, func(ctx context.Context, s *session) (any, error) {
				res, err := s.engine.Mint(ctx, args[0], id)
				if err != nil {
					return nil, err
				}
				return api.NewMintView(res), nil
			})
		},
	}

	return cmd
}

// NewChestCommand creates the chest command group.
func NewChestCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chest",
		Short: "Buy and open chests",
	}

	p := &paymentFlags{}
	buy := &cobra.Command{
		Use:           "purchase <sku>",
		Short:         "Buy chests, credited as a fungible balance",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return oneShot(rootOpts, cmd, func(ctx context.Context, s *session) (any, error) {
				req, err := p.purchase(cmd, s.engine, args[0])
				if err != nil {
					return nil, err
				}
				rc, err := s.engine.PurchaseChest(ctx, args[0], req)
				if err != nil {
					return nil, err
				}
				return api.NewChestPurchaseView(rc), nil
			})
		},
	}
	p.register(buy)

	var owner string
	var quantity int64
	open := &cobra.Command{
		Use:   "open <sku>",
		Short: "Open chests into a pack commitment",
		Long: `Burn chests from the owner's balance and record a commitment for the
chest's packs. The commitment is minted like any pack purchase.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return oneShot(rootOpts, cmd, func(ctx context.Context, s *session) (any, error) {
				return s.engine.Open(ctx, args[0], core.Identity(owner), quantity)
			})
		},
	}
	open.Flags().StringVar(&owner, "owner", "", "chest owner (required)")
	open.Flags().Int64VarP(&quantity, "quantity", "n", 1, "chests to open")
	_ = open.MarkFlagRequired("owner")

	cmd.AddCommand(buy, open)
	return cmd
}

// NewSaleCommand creates the sale command.
func NewSaleCommand(rootOpts *RootOptions) *cobra.Command {
	var buyer, beneficiary, referrer string
	var lines []string
	var attached int64

	cmd := &cobra.Command{
		Use:   "sale",
		Short: "Buy several products in one order",
		Long: `Buy several products for a beneficiary in one order. Every line pays in
native value from the attached total; the surplus is refunded to the buyer.

Example:
  packsale sale --buyer 0xabc --beneficiary 0xdef --line rare=2 --line rare-chest=1`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseLines(lines)
			if err != nil {
				return rootOpts.formatter(cmd).Fail(err)
			}
			return oneShot(rootOpts, cmd, func(ctx context.Context, s *session) (any, error) {
				req := sale.Request{
					Buyer:         core.Identity(buyer),
					Beneficiary:   core.Identity(beneficiary),
					Referrer:      core.Identity(referrer),
					Lines:         parsed,
					AttachedValue: attached,
				}
				if !cmd.Flags().Changed("attached") {
					total, err := quoteLines(s.engine, req)
					if err != nil {
						return nil, err
					}
					req.AttachedValue = total
				}
				res, err := s.engine.PurchaseFor(ctx, req)
				if err != nil {
					return nil, err
				}
				return api.NewSaleView(res), nil
			})
		},
	}

	cmd.Flags().StringVar(&buyer, "buyer", "", "paying identity (required)")
	cmd.Flags().StringVar(&beneficiary, "beneficiary", "", "receiving identity (default buyer)")
	cmd.Flags().StringVar(&referrer, "referrer", "", "referrer identity")
	cmd.Flags().StringArrayVar(&lines, "line", nil, "order line as sku=quantity (repeatable)")
	cmd.Flags().Int64Var(&attached, "attached", 0, "native value attached (default the quoted total)")
	_ = cmd.MarkFlagRequired("buyer")
	_ = cmd.MarkFlagRequired("line")

	return cmd
}

// parseLines parses sku=quantity pairs into native-paid sale lines.
func parseLines(raw []string) ([]sale.Line, error) {
	lines := make([]sale.Line, 0, len(raw))
	for _, s := range raw {
		sku, qty, ok := strings.Cut(s, "=")
		if !ok || sku == "" {
			return nil, commandError(ErrCodeUsage, fmt.Sprintf("invalid --line %q: want sku=quantity", s), nil)
		}
		n, err := strconv.ParseInt(qty, 10, 64)
		if err != nil {
			return nil, commandError(ErrCodeUsage, fmt.Sprintf("invalid --line %q", s), err)
		}
		lines = append(lines, sale.Line{SKU: sku, Quantity: n, Payment: core.NativePayment()})
	}
	return lines, nil
}

// quoteLines sums the native quotes of every line.
func quoteLines(e *engine.Engine, req sale.Request) (int64, error) {
	recipient := req.Beneficiary
	if recipient == "" {
		recipient = req.Buyer
	}
	var total int64
	for _, l := range req.Lines {
		_, native, err := e.QuoteFor(l.SKU, l.Quantity, req.Buyer, recipient)
		if err != nil {
			return 0, err
		}
		total += native
	}
	return total, nil
}

// NewEscrowCommand creates the escrow command group.
func NewEscrowCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "escrow",
		Short: "Inspect, release or cancel escrowed payments",
	}

	byID := func(use, short string, fn func(ctx context.Context, s *session, id int64) (any, error)) *cobra.Command {
		return &cobra.Command{
			Use:           use + " <escrow-id>",
			Short:         short,
			Args:          cobra.ExactArgs(1),
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return rootOpts.formatter(cmd).Fail(err)
				}
				return oneShot(rootOpts, cmd, func(ctx context.Context, s *session) (any, error) {
					return fn(ctx, s, id)
				})
			},
		}
	}

	show := byID("show", "Show an escrow entry", func(ctx context.Context, s *session, id int64) (any, error) {
		return s.engine.Escrow(ctx, id)
	})
	release := byID("release", "Pay a matured escrow to its vendor", func(ctx context.Context, s *session, id int64) (any, error) {
		return s.engine.ReleaseEscrow(ctx, id)
	})

	var actor string
	cancel := byID("cancel", "Refund an escrow before it matures (custodians only)", func(ctx context.Context, s *session, id int64) (any, error) {
		return s.engine.CancelEscrow(ctx, core.Identity(actor), id)
	})
	cancel.Flags().StringVar(&actor, "actor", "", "custodian identity (required)")
	_ = cancel.MarkFlagRequired("actor")

	cmd.AddCommand(show, release, cancel)
	return cmd
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	var holder string
	var key int64

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Consume a legacy key and mint its replacement",
		Long: `Consume a key from the configured legacy collection. Keys below the
migration cutoff are rejected, and every key can be consumed once.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return oneShot(rootOpts, cmd, func(ctx context.Context, s *session) (any, error) {
				if err := s.engine.Migrate(ctx, core.Identity(holder), key); err != nil {
					return nil, err
				}
				return fmt.Sprintf("✓ Key %d migrated to %s", key, holder), nil
			})
		},
	}

	cmd.Flags().StringVar(&holder, "holder", "", "key holder (required)")
	cmd.Flags().Int64Var(&key, "key", 0, "legacy key id (required)")
	_ = cmd.MarkFlagRequired("holder")
	_ = cmd.MarkFlagRequired("key")

	return cmd
}

// NewDeliverCommand creates the deliver command.
func NewDeliverCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "deliver",
		Short: "Deliver pending outbox entries",
		Long: `Deliver outbox entries whose commands committed but whose effects were
not yet applied, e.g. after a crash. serve does this on start.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return oneShot(rootOpts, cmd, func(ctx context.Context, s *session) (any, error) {
				n, err := s.engine.Deliver(ctx)
				if err != nil {
					return nil, err
				}
				return map[string]int{"delivered": n}, nil
			})
		},
	}
}

// parseID parses a non-negative commitment or escrow id.
func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 0 {
		return 0, commandError(ErrCodeUsage, fmt.Sprintf("invalid id %q", s), err)
	}
	return id, nil
}
