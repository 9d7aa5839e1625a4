// File: internal/cli/root.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package cli implements the wsd command line.
package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/momentics/wsreactor/internal/config"
)

// NewRootCommand builds the wsd command tree. Running wsd without a
// subcommand is the same as wsd serve.
func NewRootCommand() *cobra.Command {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:   "wsd",
		Short: "Single-threaded RFC 6455 WebSocket server",
		Long: `wsd accepts WebSocket connections on one reactor goroutine and
re-broadcasts every message a client sends to all clients connected on the
same request URI.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, v)
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	config.Flags(rootCmd.PersistentFlags())
	// Binding only fails for a nil flag; every flag above exists.
	_ = config.BindFlags(v, rootCmd.PersistentFlags())

	rootCmd.AddCommand(newServeCmd(v), newSendCmd(), newVersionCmd())
	return rootCmd
}

func newServeCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the WebSocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, v)
		},
	}
}
