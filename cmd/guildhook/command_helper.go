package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/guildhook/guildhook/internal/infrastructure/container"
	"github.com/spf13/cobra"
)

// CommandContext provides common command dependencies.
type CommandContext struct {
	Container *container.Container
	Logger    *slog.Logger
	Context   context.Context
}

// CommandHandler is a function that executes with initialized dependencies.
type CommandHandler func(*CommandContext, *cobra.Command, []string) error

// withContainer wraps a command handler with container initialization. build
// may adjust the options from the command's flags before the container is made.
func withContainer(build func(*cobra.Command, *container.Options) error, handler CommandHandler) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		logger := slog.Default()
		opts := container.Options{
			SystemConfigPath: cfgFile,
			Logger:           logger,
		}
		if build != nil {
			if err := build(cmd, &opts); err != nil {
				return err
			}
		}

		c, err := container.New(cmd.Context(), opts)
		if err != nil {
			return fmt.Errorf("failed to initialize application: %w", err)
		}
		defer func() {
			if err := c.Close(context.WithoutCancel(cmd.Context())); err != nil {
				logger.Warn("failed to release resources", "error", err)
			}
		}()

		return handler(&CommandContext{
			Container: c,
			Logger:    logger,
			Context:   cmd.Context(),
		}, cmd, args)
	}
}
