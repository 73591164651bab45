package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"time"

	transactionapp "github.com/nileshrathi99/transaction-app"
	"gopkg.in/yaml.v3"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

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

	var (
		accounts transactionapp.AccountStore
		ledger   transactionapp.AuthorizationLedger
	)
	switch cfg.Storage.Backend {
	case "postgres":
		pgendpt, err := transactionapp.NewPostgresEndpoint(cfg.Storage.ConnectionString, &logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("error starting database")
		}
		accounts, ledger = pgendpt, pgendpt
	default:
		mem := transactionapp.NewMemoryEndpoint()
		seeded, err := mem.Seed(context.Background(), cfg.SeedUsers)
		if err != nil {
			logger.Fatal().Err(err).Msg("error seeding users")
		}
		for _, u := range seeded {
			logger.Info().
				Str("user_id", u.ID.String()).
				Str("currency", u.Currency).
				Str("balance", u.Balance.String()).
				Msg("seeded user")
		}
		accounts, ledger = mem, mem
	}

	var events transactionapp.EventPublisher = transactionapp.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		topic := cfg.Kafka.Topic
		if topic == "" {
			topic = "transaction_result"
		}
		events = transactionapp.NewKafkaPublisher(cfg.Kafka.Brokers, topic)
	}

	var svc transactionapp.Service = transactionapp.NewService(accounts, ledger, events, &logger)
	svc = transactionapp.NewValidationMiddleware(accounts, ledger)(svc)
	if cfg.Limits.Authorize > 0 || cfg.Limits.Load > 0 {
		limits := &transactionapp.ServiceLimits{}
		if cfg.Limits.Authorize > 0 {
			limits.Authorize = semaphore.NewWeighted(cfg.Limits.Authorize)
		}
		if cfg.Limits.Load > 0 {
			limits.Load = semaphore.NewWeighted(cfg.Limits.Load)
		}
		timeout := cfg.Limits.AcquireTimeout
		if timeout <= 0 {
			timeout = time.Second
		}
		svc = transactionapp.NewLimitMiddleware(limits, timeout)(svc)
		svc = transactionapp.NewCircuitBreakMiddleware(transactionapp.NewServiceBreaker())(svc)
	}

	hndlr := transactionapp.NewHTTPHandler(svc, accounts, ledger, &logger)

	addr := cfg.Server.Addr
	if addr == "" {
		addr = ":3000"
	}
	logger.Info().Str("addr", addr).Msg("listening")
	if err = http.ListenAndServe(addr, hndlr); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
}
