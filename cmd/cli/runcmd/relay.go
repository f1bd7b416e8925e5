package runcmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"regci/internal/config"
	"regci/internal/relay"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Runs the process that publishes outbox notifications to the broker",
	Run: func(cmd *cobra.Command, args []string) {
		log.Info().Msg("Running relay process")
		conf := config.FromCobraCmd(cmd)

		db := mustDatabase(conf)
		client, sink := mustQueue(conf)

		rly := relay.New(newService(db, conf), client, relay.Options{
			Sink:         sink,
			PollInterval: conf.RelayPollInterval(),
			BatchSize:    conf.Relay.BatchSize,
			MaxRetries:   conf.Relay.MaxRetries,
			Backoff:      time.Second,
		})

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		errCh := make(chan error, 1)
		go func() {
			errCh <- rly.Start()
		}()

		defer func() {
			rly.Stop()
			closeDatabase(db)
			if err := client.Close(); err != nil {
				log.Error().Err(err).Msg("Could not close broker cleanly on shutdown")
			}
		}()

		select {
		case err := <-errCh:
			if err != nil {
				log.Error().Err(err).Str("relay_id", rly.ID).Msg("Ran into problems")
			}
		case sig := <-sigCh:
			log.Info().Msgf("Received signal %v, shutting down...", sig)
		}
	},
}
