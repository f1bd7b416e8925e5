package runcmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"regci/internal/api"
	"regci/internal/config"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Starts the HTTP server for triggers, workers and operators",
	Run: func(cmd *cobra.Command, args []string) {
		log.Info().Msg("Running server process")
		conf := config.FromCobraCmd(cmd)
		if conf.Admin.Token == "" {
			log.Warn().Msg("admin.token is empty, operator routes are disabled")
		}

		db := mustDatabase(conf)
		defer closeDatabase(db)
		mustMigrate(db)

		server := api.New(newService(db, conf), api.Config{AdminToken: conf.Admin.Token})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := server.ListenAndServe(ctx, conf.ServerAddress()); err != nil {
			log.Error().Err(err).Msg("Server stopped with an error")
		}
	},
}
