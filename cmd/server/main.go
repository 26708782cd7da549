package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/rps-coordinator/internal/auth"
	"github.com/DoyleJ11/rps-coordinator/internal/config"
	"github.com/DoyleJ11/rps-coordinator/internal/httpapi"
	"github.com/DoyleJ11/rps-coordinator/internal/hub"
	"github.com/DoyleJ11/rps-coordinator/internal/profile"
	"github.com/DoyleJ11/rps-coordinator/internal/room"
	"github.com/DoyleJ11/rps-coordinator/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := cfg.Logger()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	if !cfg.EnvFileLoaded {
		logger.Info("no .env file found, using environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := httpapi.Deps{Log: logger}
	var sinks []profile.Sink

	if cfg.DatabaseURL != "" {
		store, err := profile.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer store.Close()
		sinks = append(sinks, store)
		deps.Leaderboard = store
		deps.History = store
		logger.Info("postgres profile store enabled")
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		defer client.Close()
		lb := profile.NewRedisLeaderboard(client)
		sinks = append(sinks, lb)
		deps.Leaderboard = lb // preferred over postgres for reads
		logger.Info("redis leaderboard enabled", zap.String("addr", cfg.RedisAddr))
	}

	if len(sinks) == 0 {
		sinks = append(sinks, profile.LogSink{Log: logger.Named("matches")})
		logger.Warn("no profile store configured, matches are only logged")
	}
	notifier := profile.NewNotifier(cfg.Persist, logger, sinks...)

	g, gctx := errgroup.WithContext(ctx)

	h := hub.NewHub(gctx, room.Options{Timing: cfg.Timing, Publisher: notifier}, logger)
	deps.Hub = h

	wsOpts := ws.Options{OriginPatterns: cfg.AllowedOrigins, Log: logger}
	if cfg.JWTSecret != "" {
		wsOpts.Verifier = auth.NewVerifier(cfg.JWTSecret)
		logger.Info("token identity required on /ws")
	}
	deps.WS = ws.Handler(gctx, h, wsOpts)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: httpapi.SetupRoutes(deps),
	}

	// The notifier outlives ctx so it can flush matches resolved during
	// shutdown.
	notifyCtx, stopNotifier := context.WithCancel(context.Background())
	defer stopNotifier()

	g.Go(func() error {
		logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return notifier.Run(notifyCtx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)

		// Rooms derive from gctx; wait for them before the final flush.
		select {
		case <-h.Done():
		case <-sctx.Done():
		}
		stopNotifier()
		return err
	})
	return g.Wait()
}
