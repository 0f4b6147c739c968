package service

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/windfall/voicecoach_service/internal/audio"
	"github.com/windfall/voicecoach_service/internal/errors"
	"github.com/windfall/voicecoach_service/internal/history"
	"github.com/windfall/voicecoach_service/internal/metrics"
)

// ObjectStore persists archived objects and returns their URL.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) (string, error)
}

// Archived holds the object URLs written for one history entry.
type Archived struct {
	AudioURL  string `json:"audio_url"`
	ReportURL string `json:"report_url"`
}

// ArchiveService copies every new history entry to object storage. Archiving
// is best effort: failures are logged and never affect the history.
type ArchiveService struct {
	objects ObjectStore
	metrics *metrics.Metrics
	log     zerolog.Logger

	mu       sync.RWMutex
	archived map[string]Archived
}

// NewArchiveService creates a new Archive service.
func NewArchiveService(objects ObjectStore, m *metrics.Metrics, log zerolog.Logger) *ArchiveService {
	return &ArchiveService{
		objects:  objects,
		metrics:  m,
		log:      log,
		archived: make(map[string]Archived),
	}
}

// Run archives entries from events until ctx ends or events is closed.
func (s *ArchiveService) Run(ctx context.Context, events <-chan history.Event) {
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
			if _, err := s.Archive(ctx, ev.Entry); err != nil {
				s.log.Error().Err(err).Str("tracking_id", ev.Entry.ID).Msg("Failed to archive history entry")
			}
		}
	}
}

// Archive uploads the entry's audio and analysis report.
func (s *ArchiveService) Archive(ctx context.Context, entry history.Entry) (Archived, error) {
	meta := map[string]string{
		"tracking-id": entry.ID,
		"category":    string(entry.Category),
		"recorded-at": strconv.FormatInt(entry.DateTimestamp, 10),
	}
	if entry.DurationKnown {
		meta["duration"] = strconv.FormatFloat(entry.Duration, 'f', 3, 64)
	}

	audioKey := fmt.Sprintf("recordings/%s/%s%s", entry.Category, entry.ID, audioExtension(entry.Audio.Filename(), entry.Audio.MIMEType()))
	audioURL, err := s.objects.PutObject(ctx, audioKey, entry.Audio.Bytes(), entry.Audio.MIMEType(), meta)
	s.metrics.RecordArchiveUpload("audio", err == nil)
	if err != nil {
		return Archived{}, errors.Wrap(errors.ErrStorageService, "failed to archive audio", err)
	}

	report, err := json.Marshal(entry.Analysis)
	if err != nil {
		return Archived{}, errors.InternalWrap("failed to marshal analysis", err)
	}
	reportKey := fmt.Sprintf("reports/%s/%s.json", entry.Category, entry.ID)
	reportURL, err := s.objects.PutObject(ctx, reportKey, report, "application/json", meta)
	s.metrics.RecordArchiveUpload("report", err == nil)
	if err != nil {
		return Archived{}, errors.Wrap(errors.ErrStorageService, "failed to archive report", err)
	}

	out := Archived{AudioURL: audioURL, ReportURL: reportURL}
	s.mu.Lock()
	s.archived[entry.ID] = out
	s.mu.Unlock()

	s.log.Info().
		Str("tracking_id", entry.ID).
		Str("audio_url", audioURL).
		Msg("History entry archived")
	return out, nil
}

// Lookup returns the archive URLs for id.
func (s *ArchiveService) Lookup(id string) (Archived, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.archived[id]
	return a, ok
}

func audioExtension(filename, mimeType string) string {
	if ext := path.Ext(filename); ext != "" {
		return strings.ToLower(ext)
	}
	return audio.Extension(mimeType)
}
