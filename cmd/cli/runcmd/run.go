package runcmd

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"regci/internal/ci"
	"regci/internal/config"
	"regci/internal/database"
	"regci/internal/queue"
)

var Command = &cobra.Command{
	Use:   "run",
	Short: "Run service",
	Long:  "Run service from a selected list of services",
}

func init() {
	Command.AddCommand(serverCmd)
	Command.AddCommand(relayCmd)
	Command.AddCommand(reaperCmd)
}

func mustDatabase(conf *config.RCConfig) *sqlx.DB {
	db, err := database.New(conf)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not connect to database")
	}

	return db
}

func mustQueue(conf *config.RCConfig) (queue.Client, string) {
	client, sink, err := queue.FromConfig(conf)
	if err != nil {
		log.Fatal().Err(err).Str("sink", sink).Msg("Could not connect to notification broker")
	}
	return client, sink
}

func newService(db *sqlx.DB, conf *config.RCConfig) *ci.Service {
	return ci.New(db, ci.WithTrustedAuthors(conf.Trigger.RequireTrustedAuthor))
}

// mustMigrate brings the schema up to date before a service starts
func mustMigrate(db *sqlx.DB) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := database.Migrate(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("Could not migrate database")
	}
}

func closeDatabase(db *sqlx.DB) {
	if err := db.Close(); err != nil {
		log.Error().Err(err).Msg("Could not close db cleanly on shutdown")
	}
}
