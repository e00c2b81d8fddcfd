package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/netdesk/internal/config"
	"github.com/ashureev/netdesk/internal/middleware"
	"github.com/ashureev/netdesk/internal/realtime"
	"github.com/ashureev/netdesk/internal/relay"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newRelayCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Run the expert relay that pushes replies to chat sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			return runRelay(cmd.Context(), cfg, logger)
		},
	}
}

func runRelay(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	slog.Info("Starting expert relay", "port", cfg.Relay.Port, "webhook_secret", cfg.Relay.WebhookSecret != "")

	// With the redis backend the chat servers subscribe to redis, so every
	// reply is also published there.
	var publisher relay.Publisher
	if cfg.Realtime.Backend == config.RealtimeBackendRedis {
		client := redis.NewClient(&redis.Options{Addr: cfg.Realtime.RedisAddr})
		defer func() {
			if err := client.Close(); err != nil {
				slog.Warn("Failed to close redis client", "error", err)
			}
		}()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.Realtime.RedisAddr, err)
		}
		publisher = realtime.NewPublisher(client, cfg.Realtime.ChannelPrefix)
		slog.Info("Publishing expert replies to redis", "addr", cfg.Realtime.RedisAddr)
	}

	hub := relay.NewHub(logger)
	handler := relay.NewHandler(hub, publisher, cfg.Relay.WebhookSecret, logger)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(middleware.Origins(cfg.FrontendURL)))
	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:        ":" + cfg.Relay.Port,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runServer(gctx, srv) })
	g.Go(func() error {
		// Hijacked websocket connections are not tracked by Shutdown.
		<-gctx.Done()
		hub.CloseAll()
		return nil
	})
	return g.Wait()
}
