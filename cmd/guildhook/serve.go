package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/guildhook/guildhook/internal/domain/extension"
	"github.com/guildhook/guildhook/internal/infrastructure/adapters"
	"github.com/guildhook/guildhook/internal/infrastructure/config"
	"github.com/guildhook/guildhook/internal/infrastructure/container"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// serveOptions holds the flags of the serve command.
type serveOptions struct {
	DatabasePath string
	NoScheduler  bool
}

func newServeCmd() *cobra.Command {
	opts := &serveOptions{}
	var platform *adapters.DryRunPlatform

	prepare := func(_ *cobra.Command, copts *container.Options) error {
		platform = adapters.NewDryRunPlatform(copts.Logger)
		copts.DatabasePath = opts.DatabasePath
		copts.Platform = platform
		copts.GameServers = adapters.NewDryRunGameServers(nil)
		return nil
	}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Dispatch occurrences read from stdin to installed extensions",
		Long: `Read occurrences as newline-delimited JSON from stdin and dispatch each one
to every enabled installation whose trigger matches. Interval triggers are
fired by the scheduler until the process is interrupted.

Each line has the shape of a fixture without the installation:
  {"tenant": {"id": "g1"}, "occurrence": {"kind": "event", "name": "message_create", ...}}`,
		Args: cobra.NoArgs,
		RunE: withContainer(prepare, func(cc *CommandContext, cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cc.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			occurrences := make(chan *extension.Occurrence)
			go func() {
				defer close(occurrences)
				if err := readOccurrences(ctx, cmd.InOrStdin(), platform, cc.Logger, occurrences); err != nil {
					cc.Logger.Error("failed to read occurrences", "error", err)
				}
			}()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return cc.Container.Handler().Serve(gctx, occurrences)
			})
			if !opts.NoScheduler {
				g.Go(func() error {
					return cc.Container.Scheduler().Run(gctx)
				})
			}

			cc.Logger.Info("serving", "store", cc.Container.Runtime().StoragePath, "scheduler", !opts.NoScheduler)
			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		}),
	}

	cmd.Flags().StringVar(&opts.DatabasePath, "db", "", "Path to the sqlite store (overrides the system config)")
	cmd.Flags().BoolVar(&opts.NoScheduler, "no-scheduler", false, "Do not fire interval triggers; exit when stdin closes")
	return cmd
}

// readOccurrences decodes one occurrence per line until r is exhausted.
// Malformed lines are logged and skipped.
func readOccurrences(ctx context.Context, r io.Reader, platform *adapters.DryRunPlatform, logger *slog.Logger, out chan<- *extension.Occurrence) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		occ, err := decodeOccurrence(text, platform)
		if err != nil {
			logger.Warn("skipping malformed occurrence", "line", line, "error", err)
			continue
		}
		select {
		case out <- occ:
		case <-ctx.Done():
			return nil
		}
	}
	return scanner.Err()
}

// decodeOccurrence builds an occurrence from one input line and makes its
// guild known to the dry-run platform.
func decodeOccurrence(text string, platform *adapters.DryRunPlatform) (*extension.Occurrence, error) {
	fx, err := config.LoadFixtureFromReader(strings.NewReader(text))
	if err != nil {
		return nil, err
	}
	guild := fx.Guild()
	if platform != nil {
		platform.AddGuild(guild)
	}
	return fx.Occurrence(guild), nil
}

func init() {
	rootCmd.AddCommand(newServeCmd())
}
