// Package main is the entry point for the dice game web server and Telegram bot.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"dice-game-bot/internal/bot"
	"dice-game-bot/internal/config"
	"dice-game-bot/internal/game/dice"
	"dice-game-bot/internal/handler"
	"dice-game-bot/internal/metrics"
	"dice-game-bot/internal/pkg/db"
	"dice-game-bot/internal/pkg/lock"
	"dice-game-bot/internal/repository"
	"dice-game-bot/internal/service"
)

const shutdownTimeout = 10 * time.Second

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().
		Str("limit_policy", cfg.Game.LimitPolicy).
		Int("max_plays", cfg.Game.MaxPlays).
		Msg("Configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("Service stopped with error")
	}
	log.Info().Msg("Shutdown complete")
}

func run(ctx context.Context, cfg *config.Config) error {
	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	defer dbPool.Close()

	if err := db.Migrate(ctx, dbPool); err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	accountRepo := repository.NewAccountRepository(dbPool.Pool)
	historyRepo := repository.NewHistoryRepository(dbPool.Pool)
	roundStore := repository.NewRoundStore(dbPool.Pool, accountRepo, historyRepo)

	identity := service.NewIdentityResolver(accountRepo, lock.NewUserLock(), m)
	accounts := service.NewAccountService(accountRepo)
	history := service.NewHistoryService(historyRepo)
	engine := service.NewRoundEngine(
		roundStore,
		dice.RandomRoller{},
		service.RoundConfigFrom(&cfg.Game),
		lock.NewUserLock(),
		m,
	)

	var telegramBot *bot.Bot
	if cfg.Bot.Token != "" {
		telegramBot, err = bot.New(&bot.Dependencies{
			Config:   cfg,
			Identity: identity,
			Accounts: accounts,
			Rounds:   engine,
		})
		if err != nil {
			return err
		}
		if cfg.Bot.NotifyRounds {
			engine.SetNotifier(telegramBot.Notifier())
		}
	} else {
		log.Warn().Msg("BOT_TOKEN not set, running the web game only")
	}

	web := handler.NewWebHandler(handler.WebDeps{
		Rounds:       engine,
		Identity:     identity,
		History:      history,
		Accounts:     accounts,
		Health:       dbPool,
		Gatherer:     registry,
		Metrics:      m,
		RateLimit:    cfg.HTTP.RateLimit,
		RateBurst:    cfg.HTTP.RateBurst,
		ExposeErrors: cfg.HTTP.ExposeErrors,
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           web.Routes(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info().Msg("Shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	})

	if telegramBot != nil {
		g.Go(func() error {
			return telegramBot.Run(ctx)
		})
	}

	return g.Wait()
}
