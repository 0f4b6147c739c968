package ws

import (
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/windfall/voicecoach_service/internal/history"
	httphandler "github.com/windfall/voicecoach_service/internal/handler/http"
)

// MessageType constants
const (
	TypePing     = "ping"
	TypePong     = "pong"
	TypeError    = "error"
	TypeHistory  = "history.list"
	TypeRecorded = string(history.EventRecorded)
)

// Handler handles history WebSocket messages.
type Handler struct {
	store *history.Store
	log   zerolog.Logger
}

// NewHandler creates a new WebSocket handler.
func NewHandler(store *history.Store, log zerolog.Logger) *Handler {
	return &Handler{store: store, log: log}
}

// Response represents a WebSocket response.
type Response struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// HistoryRequest is the payload of a history.list message.
type HistoryRequest struct {
	Category string `json:"category"`
}

// Handle processes incoming WebSocket messages.
func (h *Handler) Handle(clientID string, msgType string, payload json.RawMessage) ([]byte, error) {
	h.log.Debug().
		Str("client_id", clientID).
		Str("type", msgType).
		Msg("Handling WebSocket message")

	switch msgType {
	case TypePing:
		return h.handlePing()

	case TypeHistory:
		return h.handleHistory(payload)

	default:
		return h.errorResponse("unknown message type: " + msgType)
	}
}

func (h *Handler) handlePing() ([]byte, error) {
	return h.response(TypePong, map[string]string{
		"message": "pong",
	})
}

func (h *Handler) handleHistory(payload json.RawMessage) ([]byte, error) {
	var req HistoryRequest
	if len(payload) > 0 && string(payload) != "null" {
		if err := json.Unmarshal(payload, &req); err != nil {
			return h.errorResponse("invalid history payload")
		}
	}

	var category history.Category
	if req.Category != "" {
		c, err := history.ParseCategory(req.Category)
		if err != nil {
			return h.errorResponse(err.Error())
		}
		category = c
	}

	entries := history.Filter(h.store.List(), category)
	views := make([]httphandler.EntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, httphandler.NewEntryView(e))
	}
	return h.response(TypeHistory, views)
}

// Notification encodes a store event for broadcast.
func (h *Handler) Notification(ev history.Event) ([]byte, error) {
	return h.response(string(ev.Type), httphandler.NewEntryView(ev.Entry))
}

func (h *Handler) response(msgType string, payload interface{}) ([]byte, error) {
	resp := Response{
		Type:    msgType,
		Payload: payload,
	}
	return json.Marshal(resp)
}

func (h *Handler) errorResponse(message string) ([]byte, error) {
	return h.response(TypeError, map[string]string{
		"error": message,
	})
}
