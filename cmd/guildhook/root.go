package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/guildhook/guildhook/internal/infrastructure/redaction"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd is the application entry point.
var rootCmd = &cobra.Command{
	Use:   "guildhook",
	Short: "Sandboxed extension runtime for chat communities",
	Long: `guildhook runs community-written bot extensions as WebAssembly guests.
Each run gets its own sandbox, only the scopes a tenant granted, and a
network policy that blocks private addresses and unapproved hosts.
State changes are staged and committed only when a run succeeds.`,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		setupLogging(cmd.ErrOrStderr())
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "system config file (default is $HOME/.guildhook/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

// initConfig resolves the system config path from the flag, the environment
// (GUILDHOOK_CONFIG) or the default location.
func initConfig() {
	viper.SetEnvPrefix("guildhook")
	viper.AutomaticEnv()

	if cfgFile == "" {
		cfgFile = viper.GetString("config")
	}
	if cfgFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			slog.Error("failed to find home directory", "error", err)
			os.Exit(1)
		}
		cfgFile = filepath.Join(home, ".guildhook", "config.yaml")
	}
}

// setupLogging installs a text handler whose output passes through the
// built-in secret patterns before reaching the terminal.
func setupLogging(out io.Writer) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	if redactor, err := redaction.New(redaction.Config{DisableGitleaks: true}); err == nil {
		out = redaction.NewWriter(out, redactor)
	}

	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
}
