package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/windfall/voicecoach_service/internal/analysis"
	"github.com/windfall/voicecoach_service/internal/audio"
	"github.com/windfall/voicecoach_service/internal/client"
	"github.com/windfall/voicecoach_service/internal/errors"
	"github.com/windfall/voicecoach_service/internal/history"
	"github.com/windfall/voicecoach_service/internal/metrics"
)

const (
	// Default wait for a relayed outcome when the caller sets no deadline
	defaultRelayWait = 10 * time.Second
	// Budget for publishing an outcome after the correlation ends
	relayPublishTimeout = 5 * time.Second
)

// Backend is the analysis backend as seen by the correlation flow.
type Backend interface {
	Upload(ctx context.Context, blob audio.Blob) (string, error)
	AwaitReport(ctx context.Context, id string) ([]byte, error)
}

// OutcomeRelay shares terminal outcomes with other service instances.
type OutcomeRelay interface {
	PublishOutcome(ctx context.Context, id string, value interface{}, ttl time.Duration) error
	AwaitOutcome(ctx context.Context, id string, timeout time.Duration) ([]byte, error)
}

// State is the lifecycle state of a submitted upload.
type State string

const (
	StatePending  State = "pending"
	StateResolved State = "resolved"
	StateFailed   State = "failed"
)

// PendingUpload tracks one upload from acceptance to its terminal state.
type PendingUpload struct {
	TrackingID  string           `json:"tracking_id"`
	Category    history.Category `json:"category"`
	State       State            `json:"state"`
	Error       *errors.AppError `json:"error,omitempty"`
	SubmittedAt time.Time        `json:"submitted_at"`
	ResolvedAt  *time.Time       `json:"resolved_at,omitempty"`

	Audio audio.Blob `json:"-"`
}

// Terminal reports whether the upload has left the pending state.
func (p PendingUpload) Terminal() bool {
	return p.State != StatePending
}

// AnalysisConfig bounds the correlation flow.
type AnalysisConfig struct {
	ResultTimeout   time.Duration
	FailedRetention time.Duration
	MaxUploadBytes  int64
	OutcomeTTL      time.Duration
}

type tracked struct {
	rec  PendingUpload
	done chan struct{}
}

// AnalysisService uploads recordings, correlates each with its asynchronously
// delivered report and records completed pairs in the history store.
type AnalysisService struct {
	backend Backend
	store   *history.Store
	relay   OutcomeRelay
	metrics *metrics.Metrics
	cfg     AnalysisConfig
	log     zerolog.Logger
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending map[string]*tracked
	closed  bool
}

// NewAnalysisService creates a new Analysis service. relay may be nil.
func NewAnalysisService(
	backend Backend,
	store *history.Store,
	relay OutcomeRelay,
	m *metrics.Metrics,
	cfg AnalysisConfig,
	log zerolog.Logger,
) *AnalysisService {
	ctx, cancel := context.WithCancel(context.Background())
	return &AnalysisService{
		backend: backend,
		store:   store,
		relay:   relay,
		metrics: m,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]*tracked),
	}
}

// Submit uploads blob and, once the backend has returned a tracking id,
// starts waiting for its report. The returned record is pending. An upload
// failure creates no record.
func (s *AnalysisService) Submit(ctx context.Context, blob audio.Blob, category history.Category) (PendingUpload, error) {
	if blob.IsEmpty() {
		return PendingUpload{}, errors.Validation("audio is empty")
	}
	if s.cfg.MaxUploadBytes > 0 && int64(blob.Len()) > s.cfg.MaxUploadBytes {
		return PendingUpload{}, errors.New(errors.ErrTooLarge,
			fmt.Sprintf("audio exceeds %d bytes", s.cfg.MaxUploadBytes))
	}
	if category == "" {
		category = history.DefaultCategory
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return PendingUpload{}, errors.New(errors.ErrUnavailable, "analysis service is shutting down")
	}

	id, err := s.backend.Upload(ctx, blob)
	s.metrics.RecordUpload(err == nil)
	if err != nil {
		s.log.Error().Err(err).
			Str("filename", blob.Filename()).
			Int("size", blob.Len()).
			Msg("Audio upload failed")
		if _, ok := errors.As(err); ok {
			return PendingUpload{}, err
		}
		return PendingUpload{}, errors.UploadFailed("failed to upload audio", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return PendingUpload{}, errors.New(errors.ErrUnavailable, "analysis service is shutting down")
	}
	if _, exists := s.pending[id]; exists {
		s.log.Warn().Str("tracking_id", id).Msg("Backend reused a pending tracking id")
		return PendingUpload{}, errors.New(errors.ErrConflict, fmt.Sprintf("tracking id %q is already pending", id))
	}
	if _, exists := s.store.Get(id); exists {
		s.log.Warn().Str("tracking_id", id).Msg("Backend reused a recorded tracking id")
		return PendingUpload{}, errors.New(errors.ErrConflict, fmt.Sprintf("tracking id %q is already recorded", id))
	}

	t := &tracked{
		rec: PendingUpload{
			TrackingID:  id,
			Category:    category,
			State:       StatePending,
			SubmittedAt: s.now(),
			Audio:       blob,
		},
		done: make(chan struct{}),
	}
	s.pending[id] = t
	s.metrics.SetPending(s.countPendingLocked())

	s.log.Info().
		Str("tracking_id", id).
		Str("category", string(category)).
		Int("size", blob.Len()).
		Msg("Audio uploaded, awaiting analysis report")

	s.wg.Add(1)
	go s.correlate(t, id, blob, category)

	return t.rec, nil
}

// correlate owns exactly one (id, blob) pair for its whole lifetime.
func (s *AnalysisService) correlate(t *tracked, id string, blob audio.Blob, category history.Category) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.ResultTimeout)
	defer cancel()

	raw, err := s.backend.AwaitReport(ctx, id)
	if err != nil {
		s.fail(t, s.classifyChannelError(ctx, err))
		return
	}

	report, err := analysis.Parse(raw)
	if err != nil {
		appErr, ok := errors.As(err)
		if !ok {
			appErr = errors.ParseFailed("failed to parse analysis report", err)
		}
		s.fail(t, appErr)
		return
	}

	entry, inserted := s.store.Record(id, blob, category, report)
	if inserted {
		s.metrics.RecordHistoryEntry(s.store.Len(), entry.Duration, entry.DurationKnown)
	} else {
		s.metrics.RecordDuplicateReport()
	}
	s.resolve(t)
}

func (s *AnalysisService) classifyChannelError(ctx context.Context, err error) *errors.AppError {
	switch {
	case s.ctx.Err() != nil:
		return errors.ChannelError("correlation abandoned: service shutting down", err)
	case stderrors.Is(ctx.Err(), context.DeadlineExceeded):
		return errors.Timeout(fmt.Sprintf("no analysis report within %s", s.cfg.ResultTimeout))
	}
	if appErr, ok := errors.As(err); ok {
		return appErr
	}
	return errors.ChannelError("report channel failed", err)
}

func (s *AnalysisService) resolve(t *tracked) {
	s.mu.Lock()
	now := s.now()
	t.rec.State = StateResolved
	t.rec.ResolvedAt = &now
	rec := t.rec
	delete(s.pending, rec.TrackingID)
	s.metrics.SetPending(s.countPendingLocked())
	close(t.done)
	s.mu.Unlock()

	s.metrics.RecordOutcome(string(StateResolved), "", now.Sub(rec.SubmittedAt).Seconds())
	s.log.Info().
		Str("tracking_id", rec.TrackingID).
		Dur("elapsed", now.Sub(rec.SubmittedAt)).
		Msg("Analysis report correlated")

	s.publish(rec)
}

func (s *AnalysisService) fail(t *tracked, appErr *errors.AppError) {
	s.mu.Lock()
	now := s.now()
	t.rec.State = StateFailed
	t.rec.Error = appErr
	t.rec.ResolvedAt = &now
	rec := t.rec
	s.metrics.SetPending(s.countPendingLocked())
	close(t.done)
	s.mu.Unlock()

	s.metrics.RecordOutcome(string(StateFailed), string(appErr.Code), now.Sub(rec.SubmittedAt).Seconds())
	s.log.Error().Err(appErr).
		Str("tracking_id", rec.TrackingID).
		Str("code", string(appErr.Code)).
		Msg("Analysis correlation failed")

	s.publish(rec)
}

func (s *AnalysisService) publish(rec PendingUpload) {
	if s.relay == nil {
		return
	}
	ttl := s.cfg.OutcomeTTL
	if ttl <= 0 {
		ttl = time.Minute
	}

	ctx, cancel := context.WithTimeout(context.Background(), relayPublishTimeout)
	defer cancel()

	if err := s.relay.PublishOutcome(ctx, rec.TrackingID, rec, ttl); err != nil {
		s.metrics.RecordRelayError()
		s.log.Error().Err(err).Str("tracking_id", rec.TrackingID).Msg("Failed to relay analysis outcome")
	}
}

// Status returns the current state of id.
func (s *AnalysisService) Status(id string) (PendingUpload, error) {
	s.mu.Lock()
	s.pruneLocked()
	t, ok := s.pending[id]
	var rec PendingUpload
	if ok {
		rec = t.rec
	}
	s.mu.Unlock()

	if ok {
		return rec, nil
	}
	if rec, ok := s.resolvedFromStore(id); ok {
		return rec, nil
	}
	return PendingUpload{}, errors.NotFound("analysis")
}

// Wait blocks until id reaches a terminal state or ctx ends. On ctx expiry
// it returns the still-pending record with a TIMEOUT error. Ids this
// instance never saw are awaited through the outcome relay when one is set.
func (s *AnalysisService) Wait(ctx context.Context, id string) (PendingUpload, error) {
	s.mu.Lock()
	s.pruneLocked()
	t, ok := s.pending[id]
	s.mu.Unlock()

	if ok {
		select {
		case <-t.done:
		case <-ctx.Done():
		}
		s.mu.Lock()
		rec := t.rec
		s.mu.Unlock()
		if !rec.Terminal() {
			return rec, errors.Timeout("analysis is still pending")
		}
		return rec, nil
	}

	if rec, ok := s.resolvedFromStore(id); ok {
		return rec, nil
	}
	if s.relay == nil {
		return PendingUpload{}, errors.NotFound("analysis")
	}
	return s.awaitRelayed(ctx, id)
}

func (s *AnalysisService) awaitRelayed(ctx context.Context, id string) (PendingUpload, error) {
	timeout := defaultRelayWait
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if timeout <= 0 {
		return PendingUpload{}, errors.Timeout("analysis outcome not available")
	}

	s.log.Debug().Str("tracking_id", id).Dur("timeout", timeout).Msg("Waiting for relayed outcome via BLPOP")

	data, err := s.relay.AwaitOutcome(ctx, id, timeout)
	if err != nil {
		if stderrors.Is(err, client.ErrNoOutcome) || ctx.Err() != nil {
			return PendingUpload{}, errors.Timeout("analysis outcome not available")
		}
		s.metrics.RecordRelayError()
		return PendingUpload{}, errors.Wrap(errors.ErrRelay, "failed to read relayed outcome", err)
	}

	var rec PendingUpload
	if err := json.Unmarshal(data, &rec); err != nil {
		return PendingUpload{}, errors.Wrap(errors.ErrRelay, "failed to decode relayed outcome", err)
	}
	return rec, nil
}

func (s *AnalysisService) resolvedFromStore(id string) (PendingUpload, bool) {
	entry, ok := s.store.Get(id)
	if !ok {
		return PendingUpload{}, false
	}
	at := time.UnixMilli(entry.DateTimestamp)
	return PendingUpload{
		TrackingID: entry.ID,
		Category:   entry.Category,
		State:      StateResolved,
		ResolvedAt: &at,
		Audio:      entry.Audio,
	}, true
}

// Pending lists uploads that are still pending or recently failed, oldest first.
func (s *AnalysisService) Pending() []PendingUpload {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()

	out := make([]PendingUpload, 0, len(s.pending))
	for _, t := range s.pending {
		out = append(out, t.rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

// pruneLocked drops failed records older than the retention window.
func (s *AnalysisService) pruneLocked() {
	if s.cfg.FailedRetention <= 0 {
		return
	}
	cutoff := s.now().Add(-s.cfg.FailedRetention)
	for id, t := range s.pending {
		if t.rec.State == StateFailed && t.rec.ResolvedAt.Before(cutoff) {
			delete(s.pending, id)
		}
	}
}

func (s *AnalysisService) countPendingLocked() int {
	n := 0
	for _, t := range s.pending {
		if t.rec.State == StatePending {
			n++
		}
	}
	return n
}

// Close abandons every pending correlation and waits for them to finish.
func (s *AnalysisService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.log.Info().Msg("Analysis service stopped")
}
