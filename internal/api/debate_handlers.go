package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/onnwee/debatecast/internal/audit"
	"github.com/onnwee/debatecast/internal/coordinator"
	"github.com/onnwee/debatecast/internal/middleware"
)

const (
	// maxFeedbackBody bounds the feedback request body.
	maxFeedbackBody = 8 << 10
	// maxAuditLimit caps the limit query parameter of the audit export.
	maxAuditLimit = 1000
)

// DebateHandlers serves the request/response endpoints of a debate session.
type DebateHandlers struct {
	manager *coordinator.Manager
}

// NewDebateHandlers creates a new DebateHandlers instance.
func NewDebateHandlers(manager *coordinator.Manager) *DebateHandlers {
	return &DebateHandlers{manager: manager}
}

// SessionStatus handles GET /debates/{id}/session.
func (h *DebateHandlers) SessionStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.manager.Status(r.PathValue("id")))
}

// FeedbackRequest is the body of POST /debates/{id}/feedback.
type FeedbackRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// SubmitFeedback handles POST /debates/{id}/feedback.
func (h *DebateHandlers) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req FeedbackRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFeedbackBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid request body")
		return
	}

	identity := middleware.GetIdentity(ctx)
	if err := h.manager.SubmitFeedback(ctx, r.PathValue("id"), identity, req.Rating, req.Comment); err != nil {
		writeCoordinatorError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AuditTrail handles GET /debates/{id}/audit?format=json|csv&limit=N.
// Only the debate's moderator may export it.
func (h *DebateHandlers) AuditTrail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	format, err := audit.ParseExportFormat(q.Get("format"))
	if err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "format must be json or csv")
		return
	}
	limit := maxAuditLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxAuditLimit {
			ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	records, err := h.manager.AuditTrail(ctx, r.PathValue("id"), middleware.GetIdentity(ctx), limit)
	if err != nil {
		writeCoordinatorError(w, r, err)
		return
	}
	data, err := audit.Export(records, format)
	if err != nil {
		writeCoordinatorError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.ErrorContext(ctx, "failed to write audit export", "error", err)
	}
}
