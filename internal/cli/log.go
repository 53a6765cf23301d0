package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexsia228/M55-soul/pkg/logvault"
)

func NewLogCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Usage log operations",
	}
	cmd.AddCommand(newLogPushCommand(opts), newLogMeterCommand(opts))
	return cmd
}

func newLogPushCommand(opts *RootOptions) *cobra.Command {
	var entry logvault.Entry

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Append a usage log entry",
		Long: `Appends one entry with an expiry derived from the plan tier's
retention window. A zero-retention tier does not persist the entry.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(opts, func(ctx context.Context, rt *Runtime) (any, error) {
				tier, err := rt.PlanTier(ctx, opts)
				if err != nil {
					return nil, err
				}
				logs, err := rt.Vault.Push(ctx, entry, tier, time.Now().UnixMilli())
				if err != nil {
					return nil, err
				}
				return map[string]any{"tier": tier, "stored": len(logs)}, nil
			})
		},
	}

	cmd.Flags().StringVar(&entry.Type, "type", "", "entry type (defaults to generic)")
	cmd.Flags().StringVar(&entry.Body, "body", "", "entry body")
	cmd.Flags().StringSliceVar(&entry.Tags, "tag", nil, "entry tag (repeatable)")
	cmd.Flags().StringVar(&entry.DayKey, "day-key", "", "local day key override")
	return cmd
}

func newLogMeterCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "meter",
		Short: "Compute the 90-day engagement meter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(opts, func(ctx context.Context, rt *Runtime) (any, error) {
				logs, err := rt.Vault.All(ctx)
				if err != nil {
					return nil, err
				}
				return logvault.ComputeMeterState(logs, time.Now().UnixMilli(), nil), nil
			})
		},
	}
}
