package http

import (
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/windfall/voicecoach_service/internal/analysis"
	"github.com/windfall/voicecoach_service/internal/audio"
	"github.com/windfall/voicecoach_service/internal/errors"
	"github.com/windfall/voicecoach_service/internal/history"
	"github.com/windfall/voicecoach_service/internal/playback"
	"github.com/windfall/voicecoach_service/internal/service"
	"github.com/windfall/voicecoach_service/pkg/response"
)

// HistoryHandler serves the audio history.
type HistoryHandler struct {
	log     zerolog.Logger
	store   *history.Store
	archive *service.ArchiveService // nil when archiving is disabled
}

// NewHistoryHandler creates a new History handler.
func NewHistoryHandler(log zerolog.Logger, store *history.Store, archive *service.ArchiveService) *HistoryHandler {
	return &HistoryHandler{log: log, store: store, archive: archive}
}

// EntryView is the wire form of a history entry.
type EntryView struct {
	ID            string                   `json:"id"`
	Category      history.Category         `json:"category"`
	DateTimestamp int64                    `json:"date_timestamp"`
	Duration      *float64                 `json:"duration,omitempty"`
	MIMEType      string                   `json:"mime_type"`
	Size          int                      `json:"size"`
	AudioURL      string                   `json:"audio_url"`
	Summary       analysis.Summary         `json:"summary"`
	Analysis      *analysis.SpeechAnalysis `json:"analysis,omitempty"`
	Archive       *service.Archived        `json:"archive,omitempty"`
}

// NewEntryView builds the listing view of e.
func NewEntryView(e history.Entry) EntryView {
	v := EntryView{
		ID:            e.ID,
		Category:      e.Category,
		DateTimestamp: e.DateTimestamp,
		MIMEType:      e.Audio.MIMEType(),
		Size:          e.Audio.Len(),
		AudioURL:      "/api/v1/history/" + url.PathEscape(e.ID) + "/audio",
	}
	if e.DurationKnown {
		d := e.Duration
		v.Duration = &d
	}
	if e.Analysis != nil {
		v.Summary = e.Analysis.Summary()
	}
	return v
}

// List handles GET /api/v1/history
//
// Query param: category (optional, one of the known categories)
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	var category history.Category
	if raw := r.URL.Query().Get("category"); raw != "" {
		c, err := history.ParseCategory(raw)
		if err != nil {
			handleError(w, h.log, err)
			return
		}
		category = c
	}

	entries := history.Filter(h.store.List(), category)
	views := make([]EntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, NewEntryView(e))
	}
	response.JSONWithMeta(w, http.StatusOK, views, &response.Meta{Total: len(views), Category: string(category)})
}

// Get handles GET /api/v1/history/{id}
func (h *HistoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.lookup(w, r)
	if !ok {
		return
	}

	view := NewEntryView(entry)
	view.Analysis = entry.Analysis
	if h.archive != nil {
		if a, ok := h.archive.Lookup(entry.ID); ok {
			view.Archive = &a
		}
	}
	response.JSON(w, http.StatusOK, view)
}

// Audio handles GET /api/v1/history/{id}/audio
// Serves the whole recording, or a bounded window of a WAV recording.
//
// Query params: start, end (seconds) or segment=fastest|slowest
func (h *HistoryHandler) Audio(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.lookup(w, r)
	if !ok {
		return
	}

	window, bounded, err := windowFromQuery(r, entry)
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	if !bounded {
		response.Binary(w, entry.Audio.MIMEType(), entry.Audio.Bytes())
		return
	}

	if !entry.Audio.IsWAV() {
		handleError(w, h.log, errors.New(errors.ErrUnsupported,
			fmt.Sprintf("segments can only be cut from WAV audio, not %s", entry.Audio.MIMEType())))
		return
	}

	duration := math.Inf(1)
	if entry.DurationKnown {
		duration = entry.Duration
	}
	start, end := window.Clamp(duration)
	if math.IsInf(end, 1) {
		end = -1
	}

	segment, err := audio.SliceWAV(entry.Audio.Bytes(), start, end)
	if err != nil {
		handleError(w, h.log, errors.Wrap(errors.ErrUnsupported, "failed to cut audio segment", err))
		return
	}

	w.Header().Set("X-Segment-Start", strconv.FormatFloat(start, 'f', -1, 64))
	if end >= 0 {
		w.Header().Set("X-Segment-End", strconv.FormatFloat(end, 'f', -1, 64))
	}
	response.Binary(w, "audio/wav", segment)
}

// Chart handles GET /api/v1/history/{id}/charts/{chart}
func (h *HistoryHandler) Chart(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if entry.Analysis == nil {
		handleError(w, h.log, errors.NotFound("analysis"))
		return
	}

	img, err := entry.Analysis.Chart(chi.URLParam(r, "chart"))
	if err != nil {
		handleError(w, h.log, err)
		return
	}
	response.Binary(w, "image/png", img)
}

func (h *HistoryHandler) lookup(w http.ResponseWriter, r *http.Request) (history.Entry, bool) {
	id := chi.URLParam(r, "id")
	// chi matches on the raw path when it carries escapes such as %2F.
	if unescaped, err := url.PathUnescape(id); err == nil {
		id = unescaped
	}
	entry, ok := h.store.Get(id)
	if !ok {
		handleError(w, h.log, errors.NotFound("history entry"))
		return history.Entry{}, false
	}
	return entry, true
}

func windowFromQuery(r *http.Request, entry history.Entry) (playback.Window, bool, error) {
	q := r.URL.Query()

	if name := q.Get("segment"); name != "" {
		if entry.Analysis == nil {
			return playback.Window{}, false, errors.NotFound("analysis")
		}
		seg, err := entry.Analysis.Segment(name)
		if err != nil {
			return playback.Window{}, false, err
		}
		return playback.ForSegment(seg), true, nil
	}

	rawStart, rawEnd := q.Get("start"), q.Get("end")
	if rawStart == "" && rawEnd == "" {
		return playback.Full(), false, nil
	}

	var w playback.Window
	if rawStart != "" {
		start, err := parseSeconds("start", rawStart)
		if err != nil {
			return playback.Window{}, false, err
		}
		w.Start = start
	}
	if rawEnd != "" {
		end, err := parseSeconds("end", rawEnd)
		if err != nil {
			return playback.Window{}, false, err
		}
		w.End = &end
	}
	return w, true, nil
}

func parseSeconds(name, raw string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, errors.Validation(fmt.Sprintf("%s must be a non-negative number of seconds", name))
	}
	return v, nil
}
