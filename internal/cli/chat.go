package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

func NewChatCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Daily chat quota operations",
	}
	cmd.AddCommand(newChatCheckCommand(opts), newChatSendCommand(opts))
	return cmd
}

func newChatCheckCommand(opts *RootOptions) *cobra.Command {
	var chatContext string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check the remaining daily allowance without consuming",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(opts, func(ctx context.Context, rt *Runtime) (any, error) {
				h, err := rt.Identity(ctx, opts)
				if err != nil {
					return nil, err
				}
				tier, err := rt.PlanTier(ctx, opts)
				if err != nil {
					return nil, err
				}
				return rt.Limiter.Check(ctx, h, chatContext, tier, time.Now().UnixMilli())
			})
		},
	}

	cmd.Flags().StringVar(&chatContext, "context", "", "chat context key (CTX_ prefix marks purchased contexts)")
	return cmd
}

func newChatSendCommand(opts *RootOptions) *cobra.Command {
	var chatContext string

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Consume one send from the daily allowance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(opts, func(ctx context.Context, rt *Runtime) (any, error) {
				h, err := rt.Identity(ctx, opts)
				if err != nil {
					return nil, err
				}
				tier, err := rt.PlanTier(ctx, opts)
				if err != nil {
					return nil, err
				}
				return rt.Limiter.Allow(ctx, h, chatContext, tier, time.Now().UnixMilli())
			})
		},
	}

	cmd.Flags().StringVar(&chatContext, "context", "", "chat context key (CTX_ prefix marks purchased contexts)")
	return cmd
}
