package sentiment

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/aiox-platform/inferguard/internal/api"
)

// MessageAnalyzer produces a Record for a message, or nil when none is available.
type MessageAnalyzer interface {
	Analyze(ctx context.Context, message, sourceLanguage string) *Record
}

// Handler handles session sentiment HTTP endpoints.
type Handler struct {
	analyzer MessageAnalyzer
	store    Store
	validate *validator.Validate
}

// NewHandler creates a new sentiment handler.
func NewHandler(analyzer MessageAnalyzer, store Store) *Handler {
	return &Handler{
		analyzer: analyzer,
		store:    store,
		validate: validator.New(),
	}
}

// ListSentiments returns the session's records together with its journey analysis.
func (h *Handler) ListSentiments(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	records, err := h.store.List(r.Context(), sessionID)
	if err != nil {
		slog.Error("listing session sentiments", "session_id", sessionID, "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONDocument(w, http.StatusOK, SessionSentiments{
		Sentiments: records,
		Journey:    AnalyzeJourney(records),
	})
}

// AnalyzeMessage tags a message and appends the result to the session.
// It answers 204 when no sentiment could be produced.
func (h *Handler) AnalyzeMessage(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	var req AnalyzeMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err))
		return
	}

	rec := h.analyzer.Analyze(r.Context(), req.Message, req.SourceLanguage)
	if rec == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := h.store.Append(r.Context(), sessionID, *rec); err != nil {
		slog.Warn("storing session sentiment", "session_id", sessionID, "error", err)
	}

	api.JSON(w, http.StatusCreated, rec)
}

// ClearSentiments drops every record of the session.
func (h *Handler) ClearSentiments(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	if err := h.store.Clear(r.Context(), sessionID); err != nil {
		slog.Error("clearing session sentiments", "session_id", sessionID, "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONMessage(w, http.StatusOK, "session sentiments cleared")
}

func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "sessionID")
	if err := h.validate.Var(id, "required,max=128,printascii"); err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid session ID"))
		return "", false
	}
	return id, true
}
