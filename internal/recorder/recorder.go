// Package recorder captures one microphone session at a time into an
// immutable audio blob.
//
// A session moves idle → recording → stopped | cancelled. Stopping, either
// explicitly, when the capture stream ends, or when MaxDuration elapses,
// finalizes the captured bytes and hands them to the completion callback
// exactly once. Cancelling discards them, as does passing MaxBytes.
package recorder

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/windfall/voicecoach_service/internal/audio"
	"github.com/windfall/voicecoach_service/internal/errors"
)

// DefaultMaxDuration bounds a session when no limit is configured.
const DefaultMaxDuration = 60 * time.Second

// ErrPermissionDenied is returned by a Microphone that refuses access.
var ErrPermissionDenied = stderrors.New("microphone permission denied")

// State is the recorder lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StateStopped   State = "stopped"
	StateCancelled State = "cancelled"
)

// Microphone opens the platform capture stream.
type Microphone interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// PCMFormat describes raw little-endian 16-bit PCM input. When set, the
// finalized bytes are wrapped in a WAV container.
type PCMFormat struct {
	SampleRate int
	Channels   int
}

// Options configures a Recorder.
type Options struct {
	MaxDuration time.Duration
	// MaxBytes caps the captured payload. Zero means unbounded.
	MaxBytes int64
	MIMEType string
	PCM      *PCMFormat
}

// Recorder runs capture sessions against a Microphone.
type Recorder struct {
	mic        Microphone
	opts       Options
	onComplete func(audio.Blob)
	log        zerolog.Logger

	mu      sync.Mutex
	state   State
	session *session
}

type session struct {
	stream   io.ReadCloser
	timer    *time.Timer
	captured chan struct{}
	buf      bytes.Buffer
	readErr  error
	overflow bool

	once  sync.Once
	final State
	blob  audio.Blob
	err   error
}

// New creates a recorder. onComplete may be nil.
func New(mic Microphone, onComplete func(audio.Blob), opts Options, log zerolog.Logger) *Recorder {
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = DefaultMaxDuration
	}
	if opts.MIMEType == "" {
		opts.MIMEType = audio.DefaultMIMEType
		if opts.PCM != nil {
			opts.MIMEType = "audio/wav"
		}
	}
	return &Recorder{
		mic:        mic,
		opts:       opts,
		onComplete: onComplete,
		log:        log,
		state:      StateIdle,
	}
}

// State returns the current state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start acquires the microphone and begins capturing. A session that is
// already recording is refused with CONFLICT.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateRecording {
		return errors.New(errors.ErrConflict, "a recording is already in progress")
	}

	stream, err := r.mic.Open(ctx)
	if err != nil {
		if stderrors.Is(err, ErrPermissionDenied) {
			r.log.Warn().Err(err).Msg("Microphone access denied")
			return errors.Wrap(errors.ErrMicrophoneDenied, "microphone access denied", err)
		}
		return errors.Wrap(errors.ErrUnavailable, "failed to open microphone", err)
	}

	s := &session{
		stream:   stream,
		timer:    time.NewTimer(r.opts.MaxDuration),
		captured: make(chan struct{}),
	}

	r.session = s
	r.state = StateRecording
	go r.capture(s)
	go r.watch(s)

	r.log.Debug().Str("mime_type", r.opts.MIMEType).Msg("Recording started")
	return nil
}

func (r *Recorder) capture(s *session) {
	var src io.Reader = s.stream
	if r.opts.MaxBytes > 0 {
		src = io.LimitReader(s.stream, r.opts.MaxBytes+1)
	}
	_, err := io.Copy(&s.buf, src)
	s.readErr = err
	s.overflow = r.opts.MaxBytes > 0 && int64(s.buf.Len()) > r.opts.MaxBytes
	close(s.captured)

	// End of stream finalizes like Stop. A no-op if Stop or Cancel got there first.
	final := StateStopped
	if s.overflow {
		r.log.Warn().Int64("max_bytes", r.opts.MaxBytes).Msg("Recording exceeded the size limit")
		final = StateCancelled
	}
	r.end(s, final)
}

// watch stops s when MaxDuration elapses first.
func (r *Recorder) watch(s *session) {
	select {
	case <-s.timer.C:
		r.log.Info().Dur("max_duration", r.opts.MaxDuration).Msg("Maximum recording duration reached")
		r.end(s, StateStopped)
	case <-s.captured:
	}
}

// Stop finalizes the current session and returns the blob it produced.
func (r *Recorder) Stop() (audio.Blob, error) {
	s, err := r.active()
	if err != nil {
		return audio.Blob{}, err
	}
	r.end(s, StateStopped)
	if s.final != StateStopped {
		if s.err != nil {
			return audio.Blob{}, s.err
		}
		return audio.Blob{}, errors.New(errors.ErrConflict, "recording was cancelled")
	}
	return s.blob, s.err
}

// Cancel discards the current session. The completion callback is not invoked.
func (r *Recorder) Cancel() error {
	s, err := r.active()
	if err != nil {
		return err
	}
	r.end(s, StateCancelled)
	return nil
}

func (r *Recorder) active() (*session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRecording || r.session == nil {
		return nil, errors.New(errors.ErrConflict, fmt.Sprintf("not recording (state %s)", r.state))
	}
	return r.session, nil
}

// end moves s to its terminal state once; later calls wait for nothing and
// leave the first outcome in place.
func (r *Recorder) end(s *session, final State) {
	first := false
	s.once.Do(func() {
		first = true
		s.timer.Stop()
		if err := s.stream.Close(); err != nil {
			r.log.Debug().Err(err).Msg("Closing capture stream")
		}
		<-s.captured

		if s.overflow {
			final = StateCancelled
			s.err = errors.New(errors.ErrTooLarge,
				fmt.Sprintf("recording exceeds the %d byte limit", r.opts.MaxBytes))
		}
		s.final = final
		if final == StateStopped {
			s.blob, s.err = r.finalize(s)
		}
		s.buf.Reset()

		r.mu.Lock()
		if r.session == s {
			r.session = nil
			r.state = final
		}
		r.mu.Unlock()
	})
	if !first {
		return
	}

	switch {
	case final == StateCancelled:
		r.log.Info().Bool("too_large", s.overflow).Msg("Recording cancelled")
	case s.err != nil:
		r.log.Error().Err(s.err).Msg("Failed to finalize recording")
	default:
		r.log.Info().Int("size", s.blob.Len()).Msg("Recording stopped")
		if r.onComplete != nil {
			r.onComplete(s.blob)
		}
	}
}

func (r *Recorder) finalize(s *session) (audio.Blob, error) {
	if s.readErr != nil && !isClosedErr(s.readErr) {
		r.log.Warn().Err(s.readErr).Msg("Capture stream ended with an error")
	}

	data := s.buf.Bytes()
	if r.opts.PCM != nil {
		wav, err := audio.EncodePCM16(data, r.opts.PCM.SampleRate, r.opts.PCM.Channels)
		if err != nil {
			return audio.Blob{}, errors.InternalWrap("failed to encode recording", err)
		}
		data = wav
	}

	name := "recording-" + uuid.New().String() + audio.Extension(r.opts.MIMEType)
	return audio.NewBlob(name, r.opts.MIMEType, data), nil
}

func isClosedErr(err error) bool {
	return stderrors.Is(err, io.ErrClosedPipe) || stderrors.Is(err, io.EOF)
}
