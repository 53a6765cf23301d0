package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexsia228/M55-soul/pkg/purchase"
)

// NewGrantCommand registers a purchase into the local entitlement cache.
func NewGrantCommand(opts *RootOptions) *cobra.Command {
	var meta purchase.Meta

	cmd := &cobra.Command{
		Use:   "grant <product-id>",
		Short: "Register a purchase in the local cache",
		Long: `Registers a purchase record: core, synastry_<partnerHash>,
weekly (requires --week-key and --expires-at) or daily (requires
--date-key and --expires-at). The local cache mirrors the server-side
grant; it is never the source of truth.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(opts, func(ctx context.Context, rt *Runtime) (any, error) {
				h, err := rt.Identity(ctx, opts)
				if err != nil {
					return nil, err
				}
				if err := rt.Purchases.Register(ctx, args[0], h, meta); err != nil {
					return nil, err
				}
				return map[string]any{"granted": args[0]}, nil
			})
		},
	}

	cmd.Flags().StringVar(&meta.WeekKey, "week-key", "", "ISO week identifier (weekly)")
	cmd.Flags().StringVar(&meta.DateKey, "date-key", "", "calendar day identifier (daily)")
	cmd.Flags().Int64Var(&meta.ExpiresAt, "expires-at", 0, "absolute expiry, unix milliseconds")
	return cmd
}

// NewCheckCommand reports ownership of one entitlement.
func NewCheckCommand(opts *RootOptions) *cobra.Command {
	var args purchase.Args

	cmd := &cobra.Command{
		Use:       "check <core|synastry|week|day>",
		Short:     "Check ownership of an entitlement",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"core", "synastry", "week", "day"},
		RunE: func(cmd *cobra.Command, cliArgs []string) error {
			kind := purchase.Kind(cliArgs[0])
			switch kind {
			case purchase.KindCore, purchase.KindSynastry, purchase.KindWeek, purchase.KindDay:
			default:
				return fmt.Errorf("unknown entitlement kind %q", cliArgs[0])
			}
			return withRuntime(opts, func(ctx context.Context, rt *Runtime) (any, error) {
				h, err := rt.Identity(ctx, opts)
				if err != nil {
					return nil, err
				}
				owned, err := rt.Purchases.HasRight(ctx, kind, args, h, time.Now().UnixMilli())
				if err != nil {
					return nil, err
				}
				return map[string]any{"kind": kind, "owned": owned}, nil
			})
		},
	}

	cmd.Flags().StringVar(&args.PartnerHash, "partner", "", "partner hash (synastry)")
	cmd.Flags().StringVar(&args.WeekKey, "week-key", "", "ISO week identifier (week)")
	cmd.Flags().StringVar(&args.DateKey, "date-key", "", "calendar day identifier (day)")
	return cmd
}

// NewPartnersCommand lists the purchased synastry partners.
func NewPartnersCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "partners",
		Short: "List purchased synastry partner hashes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(opts, func(ctx context.Context, rt *Runtime) (any, error) {
				h, err := rt.Identity(ctx, opts)
				if err != nil {
					return nil, err
				}
				partners, err := rt.Purchases.SynastryPartners(ctx, h)
				if err != nil {
					return nil, err
				}
				return map[string]any{"partners": partners}, nil
			})
		},
	}
}
