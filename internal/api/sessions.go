package api

import (
	"log/slog"
	"net/http"

	"github.com/ashureev/netdesk/internal/disclaimer"
	"github.com/ashureev/netdesk/internal/domain"
	"github.com/ashureev/netdesk/internal/identity"
	"github.com/ashureev/netdesk/internal/orchestrator"
	"github.com/go-chi/chi/v5"
)

type sessionView struct {
	domain.Session
	Active bool `json:"active"`
}

type sessionListResponse struct {
	Sessions []sessionView `json:"sessions"`
	ActiveID string        `json:"active_id,omitempty"`
}

type sendRequest struct {
	Text string `json:"text"`
}

type expertRequest struct {
	Enabled *bool `json:"enabled"`
}

type disclaimerRequest struct {
	Choice string `json:"choice"`
}

func view(o *orchestrator.Orchestrator, s domain.Session) sessionView {
	active, _ := o.Active()
	return sessionView{Session: s, Active: s.ID == active}
}

// respondSession writes the current snapshot of a session.
func respondSession(w http.ResponseWriter, o *orchestrator.Orchestrator, id string, status int) {
	s, err := o.Get(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	JSON(w, status, view(o, s))
}

// ListSessions returns all sessions of the caller, newest first.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	o, ok := h.workspace(w, r)
	if !ok {
		return
	}
	active, _ := o.Active()
	list := o.List()
	resp := sessionListResponse{Sessions: make([]sessionView, 0, len(list)), ActiveID: active}
	for _, s := range list {
		resp.Sessions = append(resp.Sessions, sessionView{Session: s, Active: s.ID == active})
	}
	JSON(w, http.StatusOK, resp)
}

// CreateSession starts a new session and makes it active.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	o, ok := h.workspace(w, r)
	if !ok {
		return
	}
	id := o.Create()
	respondSession(w, o, id, http.StatusCreated)
}

// GetSession returns one session.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	o, ok := h.workspace(w, r)
	if !ok {
		return
	}
	respondSession(w, o, chi.URLParam(r, "sessionID"), http.StatusOK)
}

// SelectSession makes a session active.
func (h *Handler) SelectSession(w http.ResponseWriter, r *http.Request) {
	o, ok := h.workspace(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "sessionID")
	if err := o.Select(id); err != nil {
		writeDomainError(w, err)
		return
	}
	respondSession(w, o, id, http.StatusOK)
}

// DeleteSession removes a session.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	o, ok := h.workspace(w, r)
	if !ok {
		return
	}
	if err := o.Delete(chi.URLParam(r, "sessionID")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SendMessage posts a user message. Replies arrive later through the stream.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	// Rate-limit by userID only so clients cannot bypass throttling by
	// rotating session IDs.
	if !h.rateLimiter.Allow(userID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	o, ok := h.workspace(w, r)
	if !ok {
		return
	}
	var req sendRequest
	if !h.decode(w, r, &req) {
		return
	}

	id := chi.URLParam(r, "sessionID")
	if err := o.Send(r.Context(), id, req.Text); err != nil {
		writeDomainError(w, err)
		return
	}
	slog.Debug("Message accepted", "user_id", userID, "session_id", id, "message_len", len(req.Text))
	respondSession(w, o, id, http.StatusAccepted)
}

// SetExpert enables or disables expert mode explicitly.
func (h *Handler) SetExpert(w http.ResponseWriter, r *http.Request) {
	o, ok := h.workspace(w, r)
	if !ok {
		return
	}
	var req expertRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		Error(w, http.StatusBadRequest, "enabled is required")
		return
	}

	id := chi.URLParam(r, "sessionID")
	var err error
	if *req.Enabled {
		err = o.EnableExpert(r.Context(), id)
	} else {
		err = o.DisableExpert(id)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	respondSession(w, o, id, http.StatusOK)
}

// ToggleExpert is the expert switch of the UI. It is a no-op once an expert
// is assigned; PUT .../expert {enabled:false} returns to AI mode.
func (h *Handler) ToggleExpert(w http.ResponseWriter, r *http.Request) {
	o, ok := h.workspace(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "sessionID")
	if err := o.ToggleExpert(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	respondSession(w, o, id, http.StatusOK)
}

// ChooseDisclaimer answers the consent prompt.
func (h *Handler) ChooseDisclaimer(w http.ResponseWriter, r *http.Request) {
	o, ok := h.workspace(w, r)
	if !ok {
		return
	}
	var req disclaimerRequest
	if !h.decode(w, r, &req) {
		return
	}
	choice, err := disclaimer.ParseChoice(req.Choice)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	id := chi.URLParam(r, "sessionID")
	if err := o.ChooseDisclaimer(id, choice); err != nil {
		writeDomainError(w, err)
		return
	}
	respondSession(w, o, id, http.StatusOK)
}
