// Package history is the process-wide record of completed analyses.
//
// The store is append-only: an entry is inserted once, when both its audio and
// its analysis are available, and is never edited or removed for the lifetime
// of the process. Consumers receive copies most-recent-first and may subscribe
// to change notifications.
package history

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/windfall/voicecoach_service/internal/analysis"
	"github.com/windfall/voicecoach_service/internal/audio"
)

// Entry is one completed analysis.
type Entry struct {
	ID            string
	Audio         audio.Blob
	Analysis      *analysis.SpeechAnalysis
	DateTimestamp int64 // epoch milliseconds at insertion
	Category      Category
	Duration      float64 // seconds, valid when DurationKnown
	DurationKnown bool
}

// EventType identifies a store notification.
type EventType string

const EventRecorded EventType = "history.recorded"

// Event is delivered to subscribers after every successful insertion.
type Event struct {
	Type  EventType
	Entry Entry
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the insertion clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithDurationResolver overrides how entry durations are resolved.
func WithDurationResolver(fn func(audio.Blob) (float64, error)) Option {
	return func(s *Store) { s.resolveDuration = fn }
}

// Store holds the ordered history. The zero value is not usable; call NewStore.
type Store struct {
	mu      sync.RWMutex
	entries []Entry // insertion order; read reversed
	byID    map[string]int

	subs   map[int]chan Event
	nextID int

	now             func() time.Time
	resolveDuration func(audio.Blob) (float64, error)
	log             zerolog.Logger
}

// NewStore creates an empty store.
func NewStore(log zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		byID:            make(map[string]int),
		subs:            make(map[int]chan Event),
		now:             time.Now,
		resolveDuration: audio.Duration,
		log:             log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record inserts a new entry and notifies subscribers. The timestamp is taken
// here, not when the upload began. Recording an id that already exists leaves
// the store untouched and returns the existing entry with false.
func (s *Store) Record(id string, blob audio.Blob, category Category, a *analysis.SpeechAnalysis) (Entry, bool) {
	// Resolve outside the lock; the blob is immutable.
	duration, durErr := s.resolveDuration(blob)

	s.mu.Lock()
	defer s.mu.Unlock()

	if i, ok := s.byID[id]; ok {
		s.log.Warn().Str("tracking_id", id).Msg("Duplicate analysis for recorded entry ignored")
		return s.entries[i], false
	}

	entry := Entry{
		ID:            id,
		Audio:         blob,
		Analysis:      a,
		DateTimestamp: s.now().UnixMilli(),
		Category:      category,
		Duration:      duration,
		DurationKnown: durErr == nil,
	}
	if durErr != nil {
		s.log.Warn().Err(durErr).
			Str("tracking_id", id).
			Str("mime_type", blob.MIMEType()).
			Msg("Could not resolve audio duration")
	}

	s.byID[id] = len(s.entries)
	s.entries = append(s.entries, entry)

	s.log.Info().
		Str("tracking_id", id).
		Str("category", string(category)).
		Int("entries", len(s.entries)).
		Msg("History entry recorded")

	s.notify(Event{Type: EventRecorded, Entry: entry})
	return entry, true
}

// notify must be called with s.mu held.
func (s *Store) notify(ev Event) {
	for id, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.log.Warn().Int("subscriber", id).Str("tracking_id", ev.Entry.ID).Msg("Subscriber full, notification dropped")
		}
	}
}

// List returns every entry, most recent first.
func (s *Store) List() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, len(s.entries))
	for i, e := range s.entries {
		out[len(s.entries)-1-i] = e
	}
	return out
}

// Latest returns the most recent entry.
func (s *Store) Latest() (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.entries) == 0 {
		return Entry{}, false
	}
	return s.entries[len(s.entries)-1], true
}

// Get looks an entry up by its tracking identifier.
func (s *Store) Get(id string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.byID[id]
	if !ok {
		return Entry{}, false
	}
	return s.entries[i], true
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Subscribe registers for notifications. The returned cancel function
// unregisters and closes the channel; it is safe to call more than once.
func (s *Store) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Filter returns the entries belonging to category, preserving order.
// An empty category matches everything.
func Filter(entries []Entry, category Category) []Entry {
	if category == "" {
		return entries
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Category == category {
			out = append(out, e)
		}
	}
	return out
}
