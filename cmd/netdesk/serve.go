package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/netdesk/internal/agent"
	"github.com/ashureev/netdesk/internal/api"
	"github.com/ashureev/netdesk/internal/config"
	"github.com/ashureev/netdesk/internal/identity"
	"github.com/ashureev/netdesk/internal/middleware"
	"github.com/ashureev/netdesk/internal/notify"
	"github.com/ashureev/netdesk/internal/orchestrator"
	"github.com/ashureev/netdesk/internal/realtime"
	"github.com/ashureev/netdesk/internal/store"
	"github.com/ashureev/netdesk/internal/ticket"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the chat API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

//nolint:gocyclo // Startup wiring is sequential to keep dependency setup explicit.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(),
		"ai_backend", cfg.AI.Backend, "ticket_backend", cfg.Ticketing.Backend, "realtime_backend", cfg.Realtime.Backend)

	// Ticketing.
	var (
		tickets ticket.Gateway
		desk    store.IncidentRepository
	)
	switch cfg.Ticketing.Backend {
	case config.TicketBackendServiceNow:
		tickets = ticket.NewServiceNow(ticket.ServiceNowConfig{
			BaseURL:  cfg.Ticketing.ServiceNowURL,
			Username: cfg.Ticketing.ServiceNowUser,
			Password: cfg.Ticketing.ServiceNowPassword,
		}, logger)
		slog.Info("Using ServiceNow ticketing", "url", cfg.Ticketing.ServiceNowURL)
	default:
		repo, err := store.NewSQLite(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("initialize database: %w", err)
		}
		defer func() {
			if closeErr := repo.Close(); closeErr != nil {
				slog.Error("Failed to close repository", "error", closeErr)
			}
		}()
		if err := repo.Ping(ctx); err != nil {
			return fmt.Errorf("database health check: %w", err)
		}
		slog.Info("Database connected", "path", cfg.DBPath)
		tickets = ticket.NewDesk(repo)
		desk = repo
	}

	// AI responder.
	responder, closeResponder, err := agent.New(agent.Config{
		Backend:        cfg.AI.Backend,
		GrpcAddr:       cfg.AI.GrpcAddr,
		HTTPURL:        cfg.AI.HTTPURL,
		ReplyDelay:     cfg.AI.ReplyDelay,
		RequestTimeout: cfg.AI.RequestTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize AI responder: %w", err)
	}
	defer closeResponder()

	// Expert notifications.
	var notifier notify.Gateway = notify.Noop{Logger: logger}
	if cfg.Telegram.Enabled() {
		notifier = notify.NewTelegram(notify.TelegramConfig{
			APIURL:       cfg.Telegram.APIURL,
			BotToken:     cfg.Telegram.BotToken,
			ExpertChatID: cfg.Telegram.ExpertChatID,
		}, logger)
		slog.Info("Telegram expert notifications enabled")
	} else {
		slog.Info("Expert notifications disabled (TELEGRAM_BOT_TOKEN not set)")
	}

	// Inbound expert messages.
	channel, closeChannel, err := newRealtimeChannel(ctx, cfg.Realtime, logger)
	if err != nil {
		return err
	}
	defer closeChannel()

	broker := api.NewBroker(cfg.SSE)
	defer broker.Close()

	registry := orchestrator.NewRegistry(func(userID string) (*orchestrator.Orchestrator, error) {
		return orchestrator.New(orchestrator.Deps{
			UserID:             userID,
			Responder:          responder,
			Tickets:            tickets,
			Notifier:           notifier,
			Realtime:           channel,
			Observer:           broker.Observer(userID),
			Logger:             logger,
			PollInterval:       cfg.Expert.StatusPollInterval,
			AckDelay:           cfg.Expert.AckDelay,
			RealtimeRetryDelay: cfg.Realtime.RetryDelay,
		})
	}, logger)
	defer registry.Close()

	handler := api.NewHandler(registry, desk, broker, cfg)
	defer handler.Close()

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(middleware.Origins(cfg.FrontendURL)))
	r.Use(identity.Middleware(cfg.IsDevelopment()))
	handler.RegisterRoutes(r)

	// SSE connections require long-lived responses, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	orchestrator.StartTTLWorker(gctx, registry, cfg.WorkspaceTTL, broker.Forget)
	g.Go(func() error { return runServer(gctx, srv) })
	return g.Wait()
}

// newRealtimeChannel builds the inbound channel selected by cfg. The returned
// function releases its resources.
func newRealtimeChannel(ctx context.Context, cfg config.RealtimeConfig, logger *slog.Logger) (realtime.Channel, func(), error) {
	switch cfg.Backend {
	case config.RealtimeBackendWebSocket:
		ch, err := realtime.NewWebSocketChannel(cfg.URL, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("initialize websocket channel: %w", err)
		}
		slog.Info("Receiving expert messages over websocket", "url", cfg.URL)
		return ch, func() {}, nil
	case config.RealtimeBackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		slog.Info("Receiving expert messages over redis", "addr", cfg.RedisAddr, "prefix", cfg.ChannelPrefix)
		return realtime.NewRedisChannel(client, cfg.ChannelPrefix, logger), func() {
			if err := client.Close(); err != nil {
				slog.Warn("Failed to close redis client", "error", err)
			}
		}, nil
	default:
		slog.Info("Realtime expert messages disabled")
		return realtime.None{}, func() {}, nil
	}
}
