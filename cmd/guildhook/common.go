package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
)

// CommonOptions contains flags shared across commands that print results.
type CommonOptions struct {
	Format  string
	Timeout time.Duration
}

// DefaultCommonOptions returns sensible defaults.
func DefaultCommonOptions() CommonOptions {
	return CommonOptions{
		Format:  "yaml",
		Timeout: 2 * time.Minute,
	}
}

// RegisterFlags adds common flags to a cobra command.
func (opts *CommonOptions) RegisterFlags(cmd *cobra.Command) {
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", opts.Timeout,
		"Global timeout for the command (0 to disable)")
	cmd.Flags().StringVar(&opts.Format, "format", opts.Format,
		"Output format: yaml, json")
}

// ApplyToContext applies the timeout to ctx.
func (opts *CommonOptions) ApplyToContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if opts.Timeout > 0 {
		return context.WithTimeout(ctx, opts.Timeout)
	}
	return ctx, func() {}
}

// ValidateFlags validates common options.
func (opts *CommonOptions) ValidateFlags() error {
	switch opts.Format {
	case "yaml", "json":
		return nil
	default:
		return fmt.Errorf("invalid format: %s (valid: yaml, json)", opts.Format)
	}
}

// Write encodes v to w in the selected format.
func (opts *CommonOptions) Write(w io.Writer, v any) error {
	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = w.Write(data)
	return err
}
