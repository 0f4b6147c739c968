package http

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/windfall/voicecoach_service/internal/errors"
	"github.com/windfall/voicecoach_service/internal/service"
	"github.com/windfall/voicecoach_service/pkg/response"
)

const maxRephraseBytes = 64 << 10

// RephraseHandler handles the text rephrasing endpoint.
type RephraseHandler struct {
	log             zerolog.Logger
	rephraseService *service.RephraseService
}

// NewRephraseHandler creates a new Rephrase handler.
func NewRephraseHandler(log zerolog.Logger, rephraseService *service.RephraseService) *RephraseHandler {
	return &RephraseHandler{log: log, rephraseService: rephraseService}
}

// RephraseRequest represents the JSON request body.
type RephraseRequest struct {
	Text string `json:"text"`
}

// Rephrase handles POST /api/v1/rephrase
// Accepts {"text": "..."} as JSON or the raw text as any other content type.
func (h *RephraseHandler) Rephrase(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRephraseBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			handleError(w, h.log, errors.New(errors.ErrTooLarge, fmt.Sprintf("text exceeds %d bytes", maxRephraseBytes)))
			return
		}
		handleError(w, h.log, errors.Validation("failed to read request body"))
		return
	}

	text := string(body)
	if mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mediaType == "application/json" {
		var req RephraseRequest
		if err := json.Unmarshal(body, &req); err != nil {
			handleError(w, h.log, errors.Validation("invalid request body"))
			return
		}
		text = req.Text
	}

	variants, err := h.rephraseService.Rephrase(r.Context(), text)
	if err != nil {
		handleError(w, h.log, err)
		return
	}

	response.JSON(w, http.StatusOK, map[string]interface{}{
		"variants": variants,
	})
}
