package notifycmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"regci/internal/config"
	"regci/internal/queue"
)

var Command = &cobra.Command{
	Use:   "notify",
	Short: "Inspect the notification broker",
}

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Logs every notification published by the relay",
	Run: func(cmd *cobra.Command, args []string) {
		conf := config.FromCobraCmd(cmd)

		client, sink, err := queue.FromConfig(conf)
		if err != nil {
			log.Fatal().Err(err).Msg("Could not connect to notification broker")
		}
		defer func() {
			if err := client.Close(); err != nil {
				log.Error().Err(err).Msg("Could not close broker cleanly")
			}
		}()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info().Str("sink", sink).Msg("Tailing notifications")
		err = client.Subscribe(ctx, func(msg queue.NotificationMessage) error {
			log.Info().
				Int64("message_id", msg.MessageID).
				Int64("run_id", msg.RunID).
				Time("created_at", msg.CreatedAt).
				Msg(msg.Text)
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Subscription ended")
		}
	},
}

func init() {
	Command.AddCommand(tailCmd)
}
