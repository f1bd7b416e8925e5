package runcmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"regci/internal/config"
	"regci/internal/scheduler"
)

var reaperCmd = &cobra.Command{
	Use:   "reaper",
	Short: "Starts the process that removes runs queued for longer than reaper.max_age_minutes",
	Run: func(cmd *cobra.Command, args []string) {
		log.Info().Msg("Running reaper process")
		conf := config.FromCobraCmd(cmd)
		if conf.Reaper.MaxAgeMinutes <= 0 {
			log.Warn().Msg("reaper.max_age_minutes is not set, nothing to do")
			return
		}

		db := mustDatabase(conf)

		reaper, err := scheduler.NewReaper(
			newService(db, conf),
			conf.Reaper.Schedule,
			time.Duration(conf.Reaper.MaxAgeMinutes)*time.Minute,
			conf.Reaper.MessageTemplate,
		)
		if err != nil {
			closeDatabase(db)
			log.Fatal().Err(err).Msg("Invalid reaper configuration")
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer func() {
			cancel()
			reaper.Stop()
			closeDatabase(db)
		}()

		if err := reaper.Start(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to start reaper")
			return
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

		log.Info().Msgf("Received signal %v, shutting down...", <-sigCh)
	},
}
