/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/prepbolt/apiserver/internal/server"
	"github.com/spf13/cobra"
)

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Starts the prepbolt backend server",
	Long: `Starts the prepbolt backend server together with the challenge
sweeper. Usage:

	prepbolt server
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger := setup()

		srv, err := server.New(cmd.Context(), cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return srv.Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
