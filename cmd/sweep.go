/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/prepbolt/apiserver/internal/server"
	"github.com/prepbolt/apiserver/internal/sweeper"
	"github.com/spf13/cobra"
)

var sweepAutoStart bool

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Complete expired challenges once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger := setup()
		ctx := cmd.Context()

		deps, err := server.OpenDeps(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() { _ = deps.Close() }()

		autoStart := cfg.Challenge.SweepAutoStart
		if cmd.Flags().Changed("auto-start") {
			autoStart = sweepAutoStart
		}
		svcs := deps.Services(cfg, nil, logger)
		res, err := sweeper.New(svcs.Challenges, cfg.Challenge.SweepInterval, autoStart, logger).RunOnce(ctx)
		fmt.Fprintf(cmd.OutOrStdout(), "completed %d, started %d\n", res.Completed, res.Started)
		return err
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
	sweepCmd.Flags().BoolVar(&sweepAutoStart, "auto-start", false, "also start open challenges whose start date has passed")
}
