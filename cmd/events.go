/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/prepbolt/apiserver/internal/mq"
	"github.com/prepbolt/apiserver/types"
	"github.com/spf13/cobra"
)

var eventsChallengeID int

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect challenge events",
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print challenge events from the broker as JSON lines",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger := setup()
		ctx := cmd.Context()

		broker, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			return err
		}
		if broker == nil {
			return errors.New("no message broker configured, set MQ_BACKEND")
		}
		defer func() { _ = broker.Close() }()

		out := json.NewEncoder(cmd.OutOrStdout())
		logger.Info("tailing challenge events", "channel", cfg.MQ.EventsChannel)
		err = mq.SubscribeEvents(ctx, broker, cfg.MQ.EventsChannel, func(_ context.Context, event types.ChallengeEvent) error {
			if eventsChallengeID > 0 && event.ChallengeID != eventsChallengeID {
				return nil
			}
			if err := out.Encode(event); err != nil {
				return fmt.Errorf("write event: %w", err)
			}
			return nil
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsTailCmd.Flags().IntVar(&eventsChallengeID, "challenge", 0, "only print events of this challenge")
	eventsCmd.AddCommand(eventsTailCmd)
}
