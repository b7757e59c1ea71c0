package main

import (
	"fmt"

	"github.com/guildhook/guildhook/internal/domain/execution"
	"github.com/guildhook/guildhook/internal/infrastructure/adapters"
	"github.com/guildhook/guildhook/internal/infrastructure/config"
	"github.com/guildhook/guildhook/internal/infrastructure/container"
	"github.com/guildhook/guildhook/internal/infrastructure/persistence/memory"
	"github.com/spf13/cobra"
)

// runOptions holds the flags of the run command.
type runOptions struct {
	CommonOptions
	Fixture string
}

// runOutput is what a local run prints.
type runOutput struct {
	Status   execution.Status     `json:"status" yaml:"status"`
	Result   *execution.RunResult `json:"result" yaml:"result"`
	Effects  []adapters.Effect    `json:"effects" yaml:"effects"`
	Commands []string             `json:"game_commands,omitempty" yaml:"game_commands,omitempty"`
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{CommonOptions: DefaultCommonOptions()}

	var (
		fx       *config.Fixture
		loaded   *config.LoadedManifest
		platform *adapters.DryRunPlatform
		games    *adapters.DryRunGameServers
	)

	prepare := func(_ *cobra.Command, copts *container.Options) error {
		if err := opts.ValidateFlags(); err != nil {
			return err
		}
		if opts.Fixture == "" {
			return fmt.Errorf("--fixture is required")
		}
		var err error
		if fx, err = config.LoadFixture(opts.Fixture); err != nil {
			return err
		}
		platform = adapters.NewDryRunPlatform(copts.Logger, fx.Guild())
		games = adapters.NewDryRunGameServers(nil)
		copts.InMemory = true
		copts.Platform = platform
		copts.GameServers = games
		return nil
	}

	cmd := &cobra.Command{
		Use:   "run <extension.yaml>",
		Short: "Run an extension once against a fixture",
		Long: `Run an extension against a fixture describing a guild, an installation
and one occurrence. Nothing reaches the chat platform: every effect the
extension would have had is recorded and printed with the run result.`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(_ *cobra.Command, args []string) error {
			var err error
			loaded, err = config.NewManifestLoader().LoadManifest(args[0])
			return err
		},
		RunE: withContainer(prepare, func(cc *CommandContext, cmd *cobra.Command, _ []string) error {
			ctx, cancel := opts.ApplyToContext(cc.Context)
			defer cancel()

			m := loaded.Manifest
			if err := cc.Container.Installer().Publish(ctx, m, loaded.Code); err != nil {
				return err
			}
			if err := seedStore(cc, cc.Container.MemoryStore(), fx, m.ID); err != nil {
				return err
			}

			inst := fx.Installation(m.ID)
			if inst.Version == "" {
				inst.Version = m.Version
			}
			if err := cc.Container.Store().SaveInstallation(ctx, inst); err != nil {
				return err
			}

			guild := fx.Guild()
			result, status, runErr := cc.Container.Manager().Execute(ctx, m, inst, fx.Occurrence(guild))

			out := runOutput{
				Status:   status,
				Result:   result,
				Effects:  platform.Effects(),
				Commands: games.Commands(),
			}
			if err := opts.Write(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			if runErr != nil {
				return runErr
			}
			if result != nil && !result.Success {
				return fmt.Errorf("run failed: %s", status.Description)
			}
			return nil
		}),
	}

	opts.RegisterFlags(cmd)
	cmd.Flags().StringVarP(&opts.Fixture, "fixture", "f", "", "Fixture file describing the guild and occurrence")
	return cmd
}

// seedStore loads the fixture's settings, store entries and balances before the run.
func seedStore(cc *CommandContext, store *memory.Store, fx *config.Fixture, extensionID string) error {
	ctx := cc.Context
	if fx.Tenant.Settings != nil {
		if err := store.PutTenant(ctx, fx.Tenant.ID, fx.Tenant.Settings); err != nil {
			return fmt.Errorf("failed to seed tenant settings: %w", err)
		}
	}

	var seed []execution.Mutation
	for key, value := range fx.Store {
		seed = append(seed, execution.Mutation{Kind: execution.MutationStorageSet, Key: key, Value: value})
	}
	for userID, delta := range fx.Points {
		seed = append(seed, execution.Mutation{Kind: execution.MutationPointsAdd, UserID: userID, Delta: delta, Reason: "seed"})
	}
	if len(seed) == 0 {
		return nil
	}
	if err := store.ApplyMutations(ctx, fx.Tenant.ID, extensionID, "seed", seed); err != nil {
		return fmt.Errorf("failed to seed store: %w", err)
	}
	cc.Logger.Debug("seeded store", "tenant", fx.Tenant.ID, "entries", len(seed))
	return nil
}

func init() {
	rootCmd.AddCommand(newRunCmd())
}
