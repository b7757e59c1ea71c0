package main

import (
	"github.com/guildhook/guildhook/internal/domain/capabilities"
	"github.com/guildhook/guildhook/internal/infrastructure/container"
	"github.com/spf13/cobra"
)

// urlDecision is the printed outcome of a policy check.
type urlDecision struct {
	URL     string `json:"url" yaml:"url"`
	Tier    string `json:"tier" yaml:"tier"`
	Allowed bool   `json:"allowed" yaml:"allowed"`
	Code    string `json:"code,omitempty" yaml:"code,omitempty"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
}

func newCheckURLCmd() *cobra.Command {
	opts := DefaultCommonOptions()
	var (
		tier     string
		approved bool
	)

	prepare := func(_ *cobra.Command, copts *container.Options) error {
		copts.InMemory = true
		return opts.ValidateFlags()
	}

	cmd := &cobra.Command{
		Use:   "check-url <url>",
		Short: "Evaluate a URL against the outbound network policy",
		Long: `Evaluate a URL the way the sandbox would before an extension fetches it.
The allowlist comes from the system config and GUILDHOOK_EXTENSION_HTTP_ALLOWED_HOSTS.
No request is made and no rate limit is charged.`,
		Args: cobra.ExactArgs(1),
		RunE: withContainer(prepare, func(cc *CommandContext, cmd *cobra.Command, args []string) error {
			t, err := capabilities.ParseNetworkTier(tier)
			if err != nil {
				return err
			}
			ctx, cancel := opts.ApplyToContext(cc.Context)
			defer cancel()

			d, err := cc.Container.Gate().Check(ctx, args[0], t, approved)
			if err != nil {
				return err
			}
			if err := opts.Write(cmd.OutOrStdout(), urlDecision{
				URL:     args[0],
				Tier:    t.String(),
				Allowed: d.OK,
				Code:    d.Code,
				Message: d.Message,
			}); err != nil {
				return err
			}
			return d.Err()
		}),
	}

	opts.RegisterFlags(cmd)
	cmd.Flags().StringVar(&tier, "tier", string(capabilities.TierAllowlistOnly), "Network tier: none, allowlist-only, network, network-advanced")
	cmd.Flags().BoolVar(&approved, "approved", false, "Treat the installation as network-approved")
	return cmd
}

func init() {
	rootCmd.AddCommand(newCheckURLCmd())
}
