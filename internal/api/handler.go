// Package api provides HTTP handlers for the netdesk chat API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/netdesk/internal/config"
	"github.com/ashureev/netdesk/internal/disclaimer"
	"github.com/ashureev/netdesk/internal/domain"
	"github.com/ashureev/netdesk/internal/identity"
	"github.com/ashureev/netdesk/internal/orchestrator"
	"github.com/ashureev/netdesk/internal/store"
	"github.com/go-chi/chi/v5"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// Handler serves the chat API for all user workspaces.
type Handler struct {
	registry    *orchestrator.Registry
	desk        store.IncidentRepository
	broker      *Broker
	rateLimiter *RateLimiter
	cfg         *config.Config
}

// NewHandler creates the API handler. desk may be nil when tickets live in
// an external system.
func NewHandler(registry *orchestrator.Registry, desk store.IncidentRepository, broker *Broker, cfg *config.Config) *Handler {
	return &Handler{
		registry:    registry,
		desk:        desk,
		broker:      broker,
		rateLimiter: NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration),
		cfg:         cfg,
	}
}

// RegisterRoutes registers all API routes. The identity middleware must run first.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/config", h.GetConfig)
		r.Get("/health", h.Health)
		r.Post("/logout", h.Logout)
		r.Get("/stream", h.broker.HandleStream)

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", h.ListSessions)
			r.Post("/", h.CreateSession)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", h.GetSession)
				r.Delete("/", h.DeleteSession)
				r.Post("/select", h.SelectSession)
				r.Post("/messages", h.SendMessage)
				r.Put("/expert", h.SetExpert)
				r.Post("/expert/toggle", h.ToggleExpert)
				r.Post("/disclaimer", h.ChooseDisclaimer)
			})
		})

		if h.desk != nil {
			r.Route("/desk/incidents/{incidentID}", func(r chi.Router) {
				r.Get("/", h.GetIncident)
				r.Patch("/", h.UpdateIncident)
			})
		}
	})
}

// Close releases handler resources.
func (h *Handler) Close() {
	h.rateLimiter.Stop()
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// writeDomainError maps package sentinels to status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		Error(w, http.StatusNotFound, "session not found")
	case errors.Is(err, store.ErrIncidentNotFound):
		Error(w, http.StatusNotFound, "incident not found")
	case errors.Is(err, disclaimer.ErrNotShown):
		Error(w, http.StatusConflict, "disclaimer is not awaiting a choice")
	default:
		slog.Error("API request failed", "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	maxBodySize := int64(defaultMaxRequestBodySize)
	if h.cfg.SSE.MaxRequestBodySize > 0 {
		maxBodySize = h.cfg.SSE.MaxRequestBodySize
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// workspace resolves the orchestrator of the calling user.
func (h *Handler) workspace(w http.ResponseWriter, r *http.Request) (*orchestrator.Orchestrator, bool) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	o, err := h.registry.Get(userID)
	if err != nil {
		slog.Error("Failed to open workspace", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to open workspace")
		return nil, false
	}
	return o, true
}

// GetConfig returns the server configuration for the frontend.
func (h *Handler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"ai_backend":        h.cfg.AI.Backend,
		"ticket_backend":    h.cfg.Ticketing.Backend,
		"realtime_backend":  h.cfg.Realtime.Backend,
		"expert_notify":     h.cfg.Telegram.Enabled(),
		"rate_limit":        h.cfg.RateLimit.RequestsPerWindow,
		"rate_limit_window": h.cfg.RateLimit.WindowDuration.String(),
	})
}

// Health reports whether the local incident desk is reachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.desk != nil {
		if err := h.desk.Ping(r.Context()); err != nil {
			slog.Error("Health check failed", "error", err)
			Error(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Logout tears down the caller's workspace and forgets their identity.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID != "" {
		h.registry.Remove(userID)
		h.broker.Forget(userID)
		slog.Info("User logged out", "user_id", userID)
	}
	identity.ClearCookie(w, h.cfg.IsDevelopment())
	w.WriteHeader(http.StatusNoContent)
}
