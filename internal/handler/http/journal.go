package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/windfall/voicecoach_service/internal/errors"
	"github.com/windfall/voicecoach_service/internal/history"
	"github.com/windfall/voicecoach_service/internal/repository"
	"github.com/windfall/voicecoach_service/pkg/response"
)

// Journal is the durable summary log as seen by the handler.
type Journal interface {
	List(ctx context.Context, category history.Category, limit, offset int) ([]*repository.JournalRecord, int, error)
	Get(ctx context.Context, id string) (*repository.JournalRecord, error)
}

// JournalHandler serves persisted analysis summaries.
type JournalHandler struct {
	log     zerolog.Logger
	journal Journal // nil when no database is configured
}

// NewJournalHandler creates a new Journal handler.
func NewJournalHandler(log zerolog.Logger, journal Journal) *JournalHandler {
	return &JournalHandler{log: log, journal: journal}
}

// List handles GET /api/v1/journal
//
// Query params: category, limit, offset
func (h *JournalHandler) List(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}

	q := r.URL.Query()
	var category history.Category
	if raw := q.Get("category"); raw != "" {
		c, err := history.ParseCategory(raw)
		if err != nil {
			handleError(w, h.log, err)
			return
		}
		category = c
	}

	limit, err := queryInt(q.Get("limit"), "limit")
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	offset, err := queryInt(q.Get("offset"), "offset")
	if err != nil {
		handleError(w, h.log, err)
		return
	}

	records, total, err := h.journal.List(r.Context(), category, limit, offset)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	response.JSONWithMeta(w, http.StatusOK, records, &response.Meta{Total: total, Category: string(category)})
}

// Get handles GET /api/v1/journal/{id}
func (h *JournalHandler) Get(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}

	rec, err := h.journal.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	response.JSON(w, http.StatusOK, rec)
}

func (h *JournalHandler) available(w http.ResponseWriter) bool {
	if h.journal == nil {
		handleError(w, h.log, errors.New(errors.ErrUnavailable, "journal is not configured"))
		return false
	}
	return true
}

func queryInt(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Validation(name + " must be an integer")
	}
	return v, nil
}
