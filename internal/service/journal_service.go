package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/windfall/voicecoach_service/internal/errors"
	"github.com/windfall/voicecoach_service/internal/history"
	"github.com/windfall/voicecoach_service/internal/metrics"
	"github.com/windfall/voicecoach_service/internal/repository"
)

const (
	defaultJournalLimit = 20
	maxJournalLimit     = 100
	journalWriteTimeout = 5 * time.Second
)

// JournalService keeps a durable summary of every history entry so past
// results survive a restart. It never feeds back into the in-memory history.
type JournalService struct {
	repo    repository.JournalRepository
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewJournalService creates a new Journal service.
func NewJournalService(repo repository.JournalRepository, m *metrics.Metrics, log zerolog.Logger) *JournalService {
	return &JournalService{repo: repo, metrics: m, log: log}
}

// Run journals entries from events until ctx ends or events is closed.
func (s *JournalService) Run(ctx context.Context, events <-chan history.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type != history.EventRecorded {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, journalWriteTimeout)
			if err := s.Record(writeCtx, ev.Entry); err != nil {
				s.log.Error().Err(err).Str("tracking_id", ev.Entry.ID).Msg("Failed to journal history entry")
			}
			cancel()
		}
	}
}

// Record writes the summary of entry. Writing an id twice is a no-op.
func (s *JournalService) Record(ctx context.Context, entry history.Entry) error {
	rec, err := NewJournalRecord(entry)
	if err != nil {
		return err
	}

	inserted, err := s.repo.Insert(ctx, rec)
	s.metrics.RecordJournalWrite(err == nil)
	if err != nil {
		return errors.Wrap(errors.ErrStorageService, "failed to write journal record", err)
	}
	if !inserted {
		s.log.Debug().Str("tracking_id", entry.ID).Msg("Journal record already present")
	}
	return nil
}

// List returns journal records most recent first with the total count.
func (s *JournalService) List(ctx context.Context, category history.Category, limit, offset int) ([]*repository.JournalRecord, int, error) {
	if limit <= 0 {
		limit = defaultJournalLimit
	}
	if limit > maxJournalLimit {
		limit = maxJournalLimit
	}
	if offset < 0 {
		return nil, 0, errors.Validation("offset must not be negative")
	}

	records, total, err := s.repo.List(ctx, string(category), limit, offset)
	if err != nil {
		return nil, 0, errors.Wrap(errors.ErrStorageService, "failed to list journal", err)
	}
	return records, total, nil
}

// Get returns the journal record for id.
func (s *JournalService) Get(ctx context.Context, id string) (*repository.JournalRecord, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if stderrors.Is(err, repository.ErrNotFound) {
		return nil, errors.NotFound("journal record")
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorageService, "failed to read journal", err)
	}
	return rec, nil
}

// NewJournalRecord builds the persisted form of entry.
func NewJournalRecord(entry history.Entry) (*repository.JournalRecord, error) {
	rec := &repository.JournalRecord{
		ID:         entry.ID,
		Category:   string(entry.Category),
		RecordedAt: time.UnixMilli(entry.DateTimestamp).UTC(),
		MIMEType:   entry.Audio.MIMEType(),
		SizeBytes:  entry.Audio.Len(),
		Summary:    json.RawMessage("{}"),
	}
	if entry.DurationKnown {
		d := entry.Duration
		rec.DurationSeconds = &d
	}
	if entry.Analysis != nil {
		summary := entry.Analysis.Summary()
		raw, err := json.Marshal(summary)
		if err != nil {
			return nil, errors.InternalWrap("failed to marshal summary", err)
		}
		rec.Summary = raw
		rec.ConversationScore = summary.ConversationScore
	}
	return rec, nil
}
