package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-yaml"
	apperrors "github.com/guildhook/guildhook/internal/application/errors"
	"github.com/guildhook/guildhook/internal/application/services"
	"github.com/guildhook/guildhook/internal/domain/capabilities"
	"github.com/guildhook/guildhook/internal/domain/extension"
	infracaps "github.com/guildhook/guildhook/internal/infrastructure/capabilities"
	"github.com/guildhook/guildhook/internal/infrastructure/config"
	"github.com/guildhook/guildhook/internal/infrastructure/container"
	"github.com/spf13/cobra"
)

// installOptions holds the flags of the install command.
type installOptions struct {
	CommonOptions
	DatabasePath   string
	TenantID       string
	Version        string
	Grant          []string
	GrantAll       bool
	ApproveNetwork bool
	Set            []string
	SecurityLevel  string
	Disabled       bool
}

// installationView is the printed summary of an installation.
type installationView struct {
	Extension       string         `json:"extension" yaml:"extension"`
	Tenant          string         `json:"tenant" yaml:"tenant"`
	Version         string         `json:"version" yaml:"version"`
	Scopes          []string       `json:"scopes" yaml:"scopes"`
	NetworkApproved bool           `json:"network_approved" yaml:"network_approved"`
	Enabled         bool           `json:"enabled" yaml:"enabled"`
	Config          map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

func viewOf(inst *extension.Installation) installationView {
	return installationView{
		Extension:       inst.ExtensionID,
		Tenant:          inst.TenantID,
		Version:         inst.Version,
		Scopes:          inst.GrantedScopes.Strings(),
		NetworkApproved: inst.NetworkApproved,
		Enabled:         inst.Enabled,
		Config:          inst.Config,
	}
}

func newInstallCmd() *cobra.Command {
	opts := &installOptions{CommonOptions: DefaultCommonOptions()}

	prepare := func(_ *cobra.Command, copts *container.Options) error {
		if err := opts.ValidateFlags(); err != nil {
			return err
		}
		if opts.TenantID == "" {
			return fmt.Errorf("--tenant is required")
		}
		copts.DatabasePath = opts.DatabasePath
		copts.SecurityLevel = opts.SecurityLevel
		copts.Prompter = infracaps.NewTerminalPrompter()
		return nil
	}

	cmd := &cobra.Command{
		Use:   "install <extension.yaml>",
		Short: "Publish an extension and install it for a tenant",
		Long: `Publish an extension version and install it for one tenant.

Scopes are granted interactively unless --grant or --grant-all is given.
Extensions on the network tiers also need --approve-network (or an
interactive confirmation) before they may reach arbitrary hosts.

Config values given with --set are parsed as YAML scalars:
  --set threshold=10 --set channel=123456 --set enabled=true`,
		Args: cobra.ExactArgs(1),
		RunE: withContainer(prepare, func(cc *CommandContext, cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.ApplyToContext(cc.Context)
			defer cancel()

			loaded, err := config.NewManifestLoader().LoadManifest(args[0])
			if err != nil {
				return err
			}
			values, err := parseSetFlags(opts.Set)
			if err != nil {
				return err
			}

			req := services.InstallRequest{
				Manifest: loaded.Manifest,
				Code:     loaded.Code,
				TenantID: opts.TenantID,
				Version:  opts.Version,
				Config:   values,
				Grant: services.GrantOptions{
					GrantAll:       opts.GrantAll,
					ApproveNetwork: opts.ApproveNetwork,
				},
				Disabled: opts.Disabled,
			}
			for _, raw := range opts.Grant {
				req.Grant.Preset = append(req.Grant.Preset, capabilities.ParseScope(raw))
			}

			inst, err := cc.Container.Installer().Install(ctx, req)
			if err != nil {
				var scopeErr *apperrors.ScopeError
				interactive := req.Grant.Preset == nil && !req.Grant.GrantAll
				if interactive && errors.As(err, &scopeErr) && len(scopeErr.Required) > 0 {
					return infracaps.FormatNonInteractiveError(loaded.Manifest, scopeErr.Required)
				}
				return err
			}
			return opts.Write(cmd.OutOrStdout(), viewOf(inst))
		}),
	}

	opts.RegisterFlags(cmd)
	cmd.Flags().StringVar(&opts.DatabasePath, "db", "", "Path to the sqlite store (overrides the system config)")
	cmd.Flags().StringVarP(&opts.TenantID, "tenant", "t", "", "Tenant (guild) id to install for")
	cmd.Flags().StringVar(&opts.Version, "version", "", "Version constraint (default: the manifest's version)")
	cmd.Flags().StringSliceVar(&opts.Grant, "grant", nil, "Grant exactly these scopes (comma-separated)")
	cmd.Flags().BoolVar(&opts.GrantAll, "grant-all", false, "Grant every declared scope (use with caution)")
	cmd.Flags().BoolVar(&opts.ApproveNetwork, "approve-network", false, "Approve a network-tier extension")
	cmd.Flags().StringArrayVar(&opts.Set, "set", nil, "Config value as key=value (repeatable)")
	cmd.Flags().StringVar(&opts.SecurityLevel, "security-level", "", "Security level: strict, standard, permissive")
	cmd.Flags().BoolVar(&opts.Disabled, "disabled", false, "Install without enabling")
	return cmd
}

// parseSetFlags turns key=value pairs into a config map. Values are decoded as
// YAML so numbers and booleans keep their type.
func parseSetFlags(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q: expected key=value", pair)
		}
		var value any
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil || value == nil {
			value = raw
		}
		out[key] = value
	}
	return out, nil
}

// tenantOptions holds the flags shared by commands acting on one installation.
type tenantOptions struct {
	DatabasePath string
	TenantID     string
}

func (o *tenantOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.DatabasePath, "db", "", "Path to the sqlite store (overrides the system config)")
	cmd.Flags().StringVarP(&o.TenantID, "tenant", "t", "", "Tenant (guild) id")
}

func (o *tenantOptions) prepare(_ *cobra.Command, copts *container.Options) error {
	if o.TenantID == "" {
		return fmt.Errorf("--tenant is required")
	}
	copts.DatabasePath = o.DatabasePath
	return nil
}

func newSetEnabledCmd(use, short string, enabled bool) *cobra.Command {
	opts := &tenantOptions{}
	cmd := &cobra.Command{
		Use:   use + " <extension-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: withContainer(opts.prepare, func(cc *CommandContext, cmd *cobra.Command, args []string) error {
			if err := cc.Container.Installer().SetEnabled(cc.Context, opts.TenantID, args[0], enabled); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %sd for %s\n", args[0], use, opts.TenantID)
			return nil
		}),
	}
	opts.register(cmd)
	return cmd
}

func newUninstallCmd() *cobra.Command {
	opts := &tenantOptions{}
	cmd := &cobra.Command{
		Use:   "uninstall <extension-id>",
		Short: "Remove an installation",
		Args:  cobra.ExactArgs(1),
		RunE: withContainer(opts.prepare, func(cc *CommandContext, cmd *cobra.Command, args []string) error {
			if err := cc.Container.Installer().Uninstall(cc.Context, opts.TenantID, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s uninstalled from %s\n", args[0], opts.TenantID)
			return nil
		}),
	}
	opts.register(cmd)
	return cmd
}

func init() {
	rootCmd.AddCommand(newInstallCmd())
	rootCmd.AddCommand(newSetEnabledCmd("enable", "Enable an installation", true))
	rootCmd.AddCommand(newSetEnabledCmd("disable", "Disable an installation without removing it", false))
	rootCmd.AddCommand(newUninstallCmd())
}
