package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"dataloom/internal/chat"
	"dataloom/internal/config"
	"dataloom/internal/llm"
	"dataloom/internal/metrics"
	"dataloom/internal/secrets"
	"dataloom/internal/server"
	"dataloom/internal/session"
	"dataloom/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogger(cfg.Log.Level)
	log.Info().
		Str("listen_addr", cfg.HTTP.ListenAddr).
		Str("db_driver", cfg.DB.Driver).
		Str("model", cfg.Gemini.Model).
		Msg("starting dataloom")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.Open(ctx, cfg.DB.Driver, cfg.DB.DSN, cfg.DB.AutoMigrate, "migrations")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer store.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer rdb.Close()

	keeper, err := secrets.NewKeeper(cfg.Crypto.CurrentKeyID, cfg.Crypto.Keys)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize secrets keeper")
	}

	gateway := llm.New(llm.Config{
		APIKey:     cfg.Gemini.APIKey,
		BaseURL:    cfg.Gemini.BaseURL,
		Model:      cfg.Gemini.Model,
		MaxTokens:  cfg.Gemini.MaxTokens,
		HTTPClient: &http.Client{Timeout: cfg.Gemini.Timeout},
	})

	resolver := server.NewStoreResolver(store, keeper, nil)
	views := session.NewViewStore(rdb, cfg.Redis.ViewTTL)
	machine, err := chat.NewMachine(chat.Options{
		Logger:   log.Logger,
		DB:       store,
		Gateway:  gateway,
		Resolver: resolver,
		Pending:  session.NewPendingStore(rdb, cfg.Redis.PendingTTL),
		Gate:     session.NewInFlightGate(rdb, cfg.Redis.InFlightTTL),
		Limiter:  session.NewRateLimiter(rdb, cfg.Rate.PerHour),
		Views:    views,
		Metrics:  metrics.Global(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize chat machine")
	}

	srv := server.New(server.Options{
		Logger:   log.Logger,
		HTTP:     cfg.HTTP,
		DB:       store,
		Machine:  machine,
		Schemas:  gateway,
		Resolver: resolver,
		Dedupe:   session.NewMessageDeduplicator(rdb, cfg.Redis.DedupeTTL),
		Views:    views,
		Keeper:   keeper,
	})

	log.Info().Str("addr", cfg.HTTP.ListenAddr).Msg("http server started")
	if err := srv.Run(ctx); err != nil {
		log.Error().Err(err).Msg("http server stopped with error")
	}

	log.Info().Msg("stopped")
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
