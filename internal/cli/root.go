// Package cli implements the soulctl command tree. Each invocation is
// one composition of the entitlement stack over a local SQLite vault.
package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions holds the global flags shared by every command.
type RootOptions struct {
	DB        string
	PolicyURL string
	Hash      string
	Plan      string
	Verbose   bool
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "soulctl",
		Short: "Entitlement and trusted-storage toolkit",
		Long: `soulctl operates the local entitlement state: signed trusted
storage, purchase records, the usage log and the daily chat quota.

The vault is a SQLite file; policy documents are fetched from the
entitlements service. Any fatal condition (missing identity, tamper,
policy failure) halts the invocation fail-closed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.DB, "db", "soul.db", "path to the local vault database")
	cmd.PersistentFlags().StringVar(&opts.PolicyURL, "policy-url", "http://localhost:8086", "base URL of the entitlements service")
	cmd.PersistentFlags().StringVar(&opts.Hash, "hash", "", "identity hash (defaults to the seeded identity)")
	cmd.PersistentFlags().StringVar(&opts.Plan, "plan", "", "plan tier override (free|standard|premium)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose logging")

	cmd.AddCommand(
		NewSyncCommand(opts),
		NewGrantCommand(opts),
		NewCheckCommand(opts),
		NewPartnersCommand(opts),
		NewLogCommand(opts),
		NewChatCommand(opts),
	)
	return cmd
}
