package main

import (
	"fmt"

	"github.com/guildhook/guildhook/internal/version"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version number of guildhook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.Get()
			if format == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "guildhook version %s\n", info.Full())
				return nil
			}
			opts := CommonOptions{Format: format}
			if err := opts.ValidateFlags(); err != nil {
				return err
			}
			return opts.Write(cmd.OutOrStdout(), info)
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "Output format: yaml, json (default: one line)")
	return cmd
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
}
