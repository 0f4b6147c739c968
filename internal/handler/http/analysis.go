package http

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/windfall/voicecoach_service/internal/audio"
	"github.com/windfall/voicecoach_service/internal/errors"
	"github.com/windfall/voicecoach_service/internal/history"
	"github.com/windfall/voicecoach_service/internal/service"
	"github.com/windfall/voicecoach_service/pkg/response"
)

// multipart overhead allowed on top of the audio size limit
const formOverhead = 1 << 20

// AnalysisHandler handles the upload and correlation endpoints.
type AnalysisHandler struct {
	log             zerolog.Logger
	analysisService *service.AnalysisService
	maxUploadBytes  int64
	maxWait         time.Duration
}

// NewAnalysisHandler creates a new Analysis handler.
func NewAnalysisHandler(log zerolog.Logger, analysisService *service.AnalysisService, maxUploadBytes int64, maxWait time.Duration) *AnalysisHandler {
	return &AnalysisHandler{
		log:             log,
		analysisService: analysisService,
		maxUploadBytes:  maxUploadBytes,
		maxWait:         maxWait,
	}
}

// Submit handles POST /api/v1/analyses
// Uploads the recording and returns the pending correlation.
//
// Request: multipart/form-data with "file" and optional "category" fields
// Response: 202 with { "tracking_id": "...", "state": "pending", ... }
func (h *AnalysisHandler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+formOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			handleError(w, h.log, errors.New(errors.ErrTooLarge, fmt.Sprintf("audio exceeds %d bytes", h.maxUploadBytes)))
			return
		}
		handleError(w, h.log, errors.Validation("failed to parse multipart form"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		handleError(w, h.log, errors.Validation("file is required"))
		return
	}
	defer file.Close()

	category, err := history.ParseCategory(r.FormValue("category"))
	if err != nil {
		handleError(w, h.log, err)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		handleError(w, h.log, errors.Validation("failed to read audio file"))
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = audio.DefaultMIMEType
	}

	pending, err := h.analysisService.Submit(ctx, audio.NewBlob(header.Filename, mimeType, data), category)
	if err != nil {
		handleError(w, h.log, err)
		return
	}

	w.Header().Set("Location", "/api/v1/analyses/"+pending.TrackingID)
	response.Accepted(w, pending)
}

// List handles GET /api/v1/analyses
// Returns uploads still awaiting a report and recently failed ones.
func (h *AnalysisHandler) List(w http.ResponseWriter, r *http.Request) {
	pending := h.analysisService.Pending()
	response.JSONWithMeta(w, http.StatusOK, pending, &response.Meta{Total: len(pending)})
}

// Get handles GET /api/v1/analyses/{id}
func (h *AnalysisHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.analysisService.Status(chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	response.JSON(w, http.StatusOK, rec)
}

// Wait handles GET /api/v1/analyses/{id}/wait
// Long-polls until the correlation is terminal.
//
// Query param: timeout (Go duration or seconds, capped by the server)
// Response (timeout): 504 Gateway Timeout
func (h *AnalysisHandler) Wait(w http.ResponseWriter, r *http.Request) {
	timeout, err := parseWaitTimeout(r.URL.Query().Get("timeout"), h.maxWait)
	if err != nil {
		handleError(w, h.log, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	id := chi.URLParam(r, "id")
	h.log.Debug().Str("tracking_id", id).Dur("timeout", timeout).Msg("Waiting for analysis")

	rec, err := h.analysisService.Wait(ctx, id)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	response.JSON(w, http.StatusOK, rec)
}

func parseWaitTimeout(raw string, max time.Duration) (time.Duration, error) {
	if raw == "" {
		return max, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		secs, convErr := strconv.ParseFloat(raw, 64)
		if convErr != nil {
			return 0, errors.Validation(fmt.Sprintf("invalid timeout %q", raw))
		}
		d = time.Duration(secs * float64(time.Second))
	}
	if d <= 0 {
		return 0, errors.Validation("timeout must be positive")
	}
	if d > max {
		d = max
	}
	return d, nil
}
