package main

import (
	"context"
	"flag"
	"os"

	transactionapp "github.com/nileshrathi99/transaction-app"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// seeder initializes the postgres schema and inserts the development
// users from config, skipping if users already exist.
func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	var cfg transactionapp.Config
	cfp := flag.String("config", "config.yml", "path to configuration file")
	flag.Parse()
	cfgfl, err := os.Open(*cfp)
	if err != nil {
		logger.Fatal().Err(err).Msg("error opening config file")
	}
	if err = yaml.NewDecoder(cfgfl).Decode(&cfg); err != nil {
		logger.Fatal().Err(err).Msg("error decoding config file")
	}

	pgendpt, err := transactionapp.NewPostgresEndpoint(cfg.Storage.ConnectionString, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("error starting database")
	}
	defer pgendpt.Close()

	ctx := context.Background()
	if err = pgendpt.InitSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("error initializing schema")
	}

	seeded, err := pgendpt.Seed(ctx, cfg.SeedUsers)
	if err != nil {
		logger.Fatal().Err(err).Msg("error seeding users")
	}
	if len(seeded) == 0 {
		logger.Info().Msg("users already present, nothing to seed")
		return
	}
	for _, u := range seeded {
		logger.Info().
			Str("user_id", u.ID.String()).
			Str("currency", u.Currency).
			Str("balance", u.Balance.String()).
			Msg("seeded user")
	}
}
