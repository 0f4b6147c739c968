package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/windfall/voicecoach_service/internal/analysis"
	"github.com/windfall/voicecoach_service/internal/errors"
	"github.com/windfall/voicecoach_service/internal/history"
	"github.com/windfall/voicecoach_service/internal/metrics"
)

const eventPublishTimeout = 10 * time.Second

// Publisher sends one message to the event topic.
type Publisher interface {
	Publish(ctx context.Context, data interface{}, attrs map[string]string) error
}

// HistoryEventMessage is the body of a published history event.
type HistoryEventMessage struct {
	Type            string            `json:"type"`
	TrackingID      string            `json:"tracking_id"`
	Category        history.Category  `json:"category"`
	DateTimestamp   int64             `json:"date_timestamp"`
	DurationSeconds *float64          `json:"duration_seconds,omitempty"`
	MIMEType        string            `json:"mime_type"`
	Size            int               `json:"size"`
	Summary         *analysis.Summary `json:"summary,omitempty"`
}

// EventService forwards history notifications to an external topic so
// other systems can react to finished analyses.
type EventService struct {
	publisher Publisher
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

// NewEventService creates a new Event service.
func NewEventService(publisher Publisher, m *metrics.Metrics, log zerolog.Logger) *EventService {
	return &EventService{publisher: publisher, metrics: m, log: log}
}

// Run publishes events until ctx ends or events is closed.
func (s *EventService) Run(ctx context.Context, events <-chan history.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			pubCtx, cancel := context.WithTimeout(ctx, eventPublishTimeout)
			if err := s.Publish(pubCtx, ev); err != nil {
				s.log.Error().Err(err).Str("tracking_id", ev.Entry.ID).Msg("Failed to publish history event")
			}
			cancel()
		}
	}
}

// Publish sends ev and waits for the broker to accept it.
func (s *EventService) Publish(ctx context.Context, ev history.Event) error {
	msg := NewHistoryEventMessage(ev)
	attrs := map[string]string{
		"event_type":  msg.Type,
		"tracking_id": msg.TrackingID,
		"category":    string(msg.Category),
	}

	err := s.publisher.Publish(ctx, msg, attrs)
	s.metrics.RecordEventPublished(err == nil)
	if err != nil {
		return errors.Wrap(errors.ErrUnavailable, "failed to publish history event", err)
	}

	s.log.Debug().Str("tracking_id", msg.TrackingID).Str("type", msg.Type).Msg("History event published")
	return nil
}

// NewHistoryEventMessage builds the published form of ev.
func NewHistoryEventMessage(ev history.Event) HistoryEventMessage {
	e := ev.Entry
	msg := HistoryEventMessage{
		Type:          string(ev.Type),
		TrackingID:    e.ID,
		Category:      e.Category,
		DateTimestamp: e.DateTimestamp,
		MIMEType:      e.Audio.MIMEType(),
		Size:          e.Audio.Len(),
	}
	if e.DurationKnown {
		d := e.Duration
		msg.DurationSeconds = &d
	}
	if e.Analysis != nil {
		summary := e.Analysis.Summary()
		msg.Summary = &summary
	}
	return msg
}
