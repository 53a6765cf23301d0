package cli

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"

	"github.com/spf13/cobra"

	"github.com/lexsia228/M55-soul/pkg/bridge"
	"github.com/lexsia228/M55-soul/pkg/halt"
	"github.com/lexsia228/M55-soul/pkg/identity"
)

// NewSyncCommand consumes one identity sync message, as delivered by
// the hosting shell, and seeds the local identity and plan.
func NewSyncCommand(opts *RootOptions) *cobra.Command {
	var origin, from string

	cmd := &cobra.Command{
		Use:   "sync <message.json>",
		Short: "Apply a host identity sync message",
		Long: `Reads a SOUL_SYNC message and, when its origin matches this
context's origin exactly, seeds the identity hash and plan tier into
the local vault. Messages from any other origin are discarded without
effect. Entitlement truth never travels over this channel.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if from == "" {
				from = origin
			}
			return withRuntime(opts, func(ctx context.Context, rt *Runtime) (any, error) {
				raw, err := os.ReadFile(args[0])
				if err != nil {
					return nil, halt.New(halt.CodeRuntimeError, "unable to read sync message", err.Error())
				}

				sink := &seedSink{ctx: ctx, rt: rt}
				recv := bridge.NewReceiver(origin, sink)
				accepted, err := recv.Handle(from, raw)
				if err != nil {
					return nil, err
				}
				if !accepted {
					return map[string]any{"accepted": false}, nil
				}
				return map[string]any{
					"accepted":  true,
					"user_hash": sink.hash,
					"plan":      sink.plan,
				}, nil
			})
		},
	}

	cmd.Flags().StringVar(&origin, "origin", "", "this context's origin (required)")
	cmd.Flags().StringVar(&from, "from", "", "sender origin (defaults to --origin)")
	_ = cmd.MarkFlagRequired("origin")
	return cmd
}

// seedSink persists accepted identity updates. The stored hash is a
// stable digest of the opaque user identifier; the raw identifier never
// lands on disk.
type seedSink struct {
	ctx context.Context
	rt  *Runtime

	hash identity.Hash
	plan identity.Plan
}

func (s *seedSink) SyncIdentity(id bridge.Identity) error {
	sum := sha256.Sum256([]byte(id.UserName))
	h := identity.Hash(hex.EncodeToString(sum[:]))

	if err := identity.Seed(s.ctx, h, s.rt.Backend); err != nil {
		return err
	}
	if err := s.rt.Backend.Set(s.ctx, planSeedKey, []byte(id.Plan)); err != nil {
		return halt.New(halt.CodeStorageWriteFailed, "unable to persist plan seed", err.Error())
	}
	s.hash = h
	s.plan = id.Plan
	return nil
}
