package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/netdesk/internal/domain"
	"github.com/go-chi/chi/v5"
)

type incidentResponse struct {
	ID          string          `json:"id"`
	Number      string          `json:"number"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Status      string          `json:"status"`
	AssignedTo  string          `json:"assigned_to,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	WorkNotes   []workNoteEntry `json:"work_notes"`
}

type workNoteEntry struct {
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
}

type incidentUpdateRequest struct {
	Status     string `json:"status"`
	AssignedTo string `json:"assigned_to"`
}

// GetIncident returns a local desk incident with its work notes.
func (h *Handler) GetIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "incidentID")
	inc, err := h.desk.GetIncident(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	notes, err := h.desk.ListWorkNotes(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := incidentResponse{
		ID:          inc.ID,
		Number:      inc.Number,
		Title:       inc.Title,
		Description: inc.Description,
		Status:      string(inc.Status),
		AssignedTo:  inc.AssignedTo,
		CreatedAt:   inc.CreatedAt,
		UpdatedAt:   inc.UpdatedAt,
		WorkNotes:   make([]workNoteEntry, 0, len(notes)),
	}
	for _, n := range notes {
		resp.WorkNotes = append(resp.WorkNotes, workNoteEntry{Note: n.Note, CreatedAt: n.CreatedAt})
	}
	JSON(w, http.StatusOK, resp)
}

// UpdateIncident moves a local desk incident to a new status and assignee.
// Status pollers pick the change up on their next tick.
func (h *Handler) UpdateIncident(w http.ResponseWriter, r *http.Request) {
	var req incidentUpdateRequest
	if !h.decode(w, r, &req) {
		return
	}
	status := domain.IncidentStatus(req.Status)
	if !status.Valid() {
		Error(w, http.StatusBadRequest, "invalid status")
		return
	}

	id := chi.URLParam(r, "incidentID")
	if err := h.desk.UpdateIncidentStatus(r.Context(), id, status, req.AssignedTo); err != nil {
		writeDomainError(w, err)
		return
	}
	slog.Info("Incident updated", "incident_id", id, "status", status, "assigned_to", req.AssignedTo)
	h.GetIncident(w, r)
}
