package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/windfall/voicecoach_service/internal/audio"
	"github.com/windfall/voicecoach_service/internal/errors"
	"github.com/windfall/voicecoach_service/internal/history"
	"github.com/windfall/voicecoach_service/internal/metrics"
	"github.com/windfall/voicecoach_service/internal/recorder"
	"github.com/windfall/voicecoach_service/internal/service"
)

// Recording session message types
const (
	TypeStart     = "start"
	TypeStop      = "stop"
	TypeCancel    = "cancel"
	TypeRecording = "recording"
	TypeStopped   = "stopped"
	TypeCancelled = "cancelled"
	TypeSubmitted = "submitted"
	TypeAnalysis  = "analysis"
)

const (
	writeWait = 10 * time.Second
	// maxFrameSize bounds one inbound frame, audio or control.
	maxFrameSize = 1 << 20
	controlSlack = 4 << 10
)

// Submitter hands finished recordings to the correlation flow.
type Submitter interface {
	Submit(ctx context.Context, blob audio.Blob, category history.Category) (service.PendingUpload, error)
	Wait(ctx context.Context, id string) (service.PendingUpload, error)
}

// Message is a client control message.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// StartPayload opens a recording. SampleRate marks the binary frames as raw
// 16-bit PCM to be wrapped as WAV. Denied reports that the browser refused
// microphone access.
type StartPayload struct {
	MIMEType   string `json:"mime_type"`
	Category   string `json:"category"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Denied     bool   `json:"denied"`
}

// ErrorPayload is sent with TypeError.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RecordHandler runs /ws/record sessions: binary frames carry microphone
// audio, text frames drive the recorder.
type RecordHandler struct {
	submitter   Submitter
	metrics     *metrics.Metrics
	maxDuration time.Duration
	maxBytes    int64
	resultWait  time.Duration
	log         zerolog.Logger
}

// NewRecordHandler creates a new recording handler. maxBytes caps the audio
// of one recording; zero leaves it unbounded.
func NewRecordHandler(submitter Submitter, m *metrics.Metrics, maxDuration time.Duration, maxBytes int64, resultWait time.Duration, log zerolog.Logger) *RecordHandler {
	return &RecordHandler{
		submitter:   submitter,
		metrics:     m,
		maxDuration: maxDuration,
		maxBytes:    maxBytes,
		resultWait:  resultWait,
		log:         log,
	}
}

// frameLimit is the read limit for one inbound frame.
func (h *RecordHandler) frameLimit() int64 {
	if h.maxBytes > 0 && h.maxBytes+controlSlack < maxFrameSize {
		return h.maxBytes + controlSlack
	}
	return maxFrameSize
}

type recordSession struct {
	h        *RecordHandler
	conn     *websocket.Conn
	clientID string
	log      zerolog.Logger
	ctx      context.Context

	writeMu sync.Mutex

	trackMu sync.Mutex
	closing bool
	pending sync.WaitGroup

	rec      *recorder.Recorder
	pipe     *io.PipeWriter
	captured int64
}

// Serve runs one session until the client disconnects.
func (h *RecordHandler) Serve(ctx context.Context, conn *websocket.Conn, clientID string) {
	ctx, cancel := context.WithCancel(ctx)
	s := &recordSession{
		h:        h,
		conn:     conn,
		clientID: clientID,
		log:      h.log.With().Str("client_id", clientID).Logger(),
		ctx:      ctx,
	}
	defer func() {
		s.abort()
		cancel()
		s.trackMu.Lock()
		s.closing = true
		s.trackMu.Unlock()
		s.pending.Wait()
		conn.Close()
	}()

	conn.SetReadLimit(h.frameLimit())
	conn.SetReadDeadline(time.Time{})
	s.log.Info().Msg("Recording session opened")

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Error().Err(err).Msg("WebSocket read error")
			}
			return
		}

		switch mt {
		case websocket.BinaryMessage:
			s.audio(data)
		case websocket.TextMessage:
			var msg Message
			if err := json.Unmarshal(data, &msg); err != nil {
				s.sendError(errors.Validation("invalid message"))
				continue
			}
			s.control(msg)
		}
	}
}

func (s *recordSession) audio(chunk []byte) {
	if s.pipe == nil || s.rec == nil || s.rec.State() != recorder.StateRecording {
		s.sendError(errors.New(errors.ErrConflict, "not recording"))
		return
	}
	if limit := s.h.maxBytes; limit > 0 && s.captured+int64(len(chunk)) > limit {
		s.tooLarge()
		return
	}
	s.captured += int64(len(chunk))
	if _, err := s.pipe.Write(chunk); err != nil {
		// The recorder stopped on its own, usually at the duration limit.
		s.log.Debug().Err(err).Msg("Dropping audio after recording ended")
	}
}

// tooLarge discards a recording that would pass the upload cap.
func (s *recordSession) tooLarge() {
	if err := s.rec.Cancel(); err != nil {
		s.log.Debug().Err(err).Msg("Recording ended before the size limit")
		return
	}
	s.log.Warn().Int64("max_bytes", s.h.maxBytes).Msg("Recording exceeded the upload limit")
	s.h.metrics.RecordRecording(string(recorder.StateCancelled), 0)
	s.sendError(errors.New(errors.ErrTooLarge,
		fmt.Sprintf("recording exceeds the %d byte limit", s.h.maxBytes)))
}

func (s *recordSession) control(msg Message) {
	switch msg.Type {
	case TypePing:
		s.send(TypePong, map[string]string{"message": "pong"})

	case TypeStart:
		var p StartPayload
		if len(msg.Payload) > 0 && string(msg.Payload) != "null" {
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				s.sendError(errors.Validation("invalid start payload"))
				return
			}
		}
		s.start(p)

	case TypeStop:
		if s.rec == nil {
			s.sendError(errors.New(errors.ErrConflict, "not recording"))
			return
		}
		if _, err := s.rec.Stop(); err != nil {
			s.sendError(err)
		}

	case TypeCancel:
		if s.rec == nil {
			s.sendError(errors.New(errors.ErrConflict, "not recording"))
			return
		}
		if err := s.rec.Cancel(); err != nil {
			s.sendError(err)
			return
		}
		s.h.metrics.RecordRecording(string(recorder.StateCancelled), 0)
		s.send(TypeCancelled, nil)

	default:
		s.sendError(errors.Validation("unknown message type: " + msg.Type))
	}
}

func (s *recordSession) start(p StartPayload) {
	if s.rec != nil && s.rec.State() == recorder.StateRecording {
		s.sendError(errors.New(errors.ErrConflict, "a recording is already in progress"))
		return
	}

	category, err := history.ParseCategory(p.Category)
	if err != nil {
		s.sendError(err)
		return
	}

	opts := recorder.Options{MaxDuration: s.h.maxDuration, MaxBytes: s.h.maxBytes, MIMEType: p.MIMEType}
	if p.SampleRate > 0 {
		channels := p.Channels
		if channels <= 0 {
			channels = 1
		}
		opts.PCM = &recorder.PCMFormat{SampleRate: p.SampleRate, Channels: channels}
		opts.MIMEType = "audio/wav"
	}

	var mic recorder.Microphone = recorder.DeniedMicrophone{}
	var pw *io.PipeWriter
	if !p.Denied {
		var pr *io.PipeReader
		pr, pw = io.Pipe()
		mic = recorder.NewStreamMicrophone(pr)
	}

	rec := recorder.New(mic, func(b audio.Blob) { s.completed(b, category) }, opts, s.log)
	if err := rec.Start(s.ctx); err != nil {
		if pw != nil {
			pw.Close()
		}
		s.sendError(err)
		return
	}

	if s.pipe != nil {
		s.pipe.Close()
	}
	s.rec = rec
	s.pipe = pw
	s.captured = 0
	s.send(TypeRecording, map[string]interface{}{
		"category":     category,
		"max_duration": s.h.maxDuration.Seconds(),
	})
}

// completed runs once per stopped recording, possibly from the recorder's
// timer goroutine.
func (s *recordSession) completed(blob audio.Blob, category history.Category) {
	s.h.metrics.RecordRecording(string(recorder.StateStopped), blob.Len())
	s.send(TypeStopped, map[string]interface{}{
		"size":      blob.Len(),
		"mime_type": blob.MIMEType(),
		"filename":  blob.Filename(),
	})

	s.track(func() {
		rec, err := s.h.submitter.Submit(s.ctx, blob, category)
		if err != nil {
			s.sendError(err)
			return
		}
		s.send(TypeSubmitted, rec)

		ctx, cancel := context.WithTimeout(s.ctx, s.h.resultWait)
		defer cancel()
		done, err := s.h.submitter.Wait(ctx, rec.TrackingID)
		if err != nil {
			s.sendError(err)
			return
		}
		s.send(TypeAnalysis, done)
	})
}

// track runs fn in a goroutine the session waits for on close. Work arriving
// after close has begun is dropped.
func (s *recordSession) track(fn func()) {
	s.trackMu.Lock()
	defer s.trackMu.Unlock()
	if s.closing {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		fn()
	}()
}

// abort discards an unfinished recording when the client goes away.
func (s *recordSession) abort() {
	if s.rec != nil && s.rec.State() == recorder.StateRecording {
		if err := s.rec.Cancel(); err == nil {
			s.h.metrics.RecordRecording(string(recorder.StateCancelled), 0)
		}
	}
	if s.pipe != nil {
		s.pipe.Close()
	}
}

func (s *recordSession) send(msgType string, payload interface{}) {
	data, err := json.Marshal(Response{Type: msgType, Payload: payload})
	if err != nil {
		s.log.Error().Err(err).Str("type", msgType).Msg("Failed to encode message")
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.log.Debug().Err(err).Str("type", msgType).Msg("Failed to write message")
	}
}

func (s *recordSession) sendError(err error) {
	appErr, ok := errors.As(err)
	if !ok {
		appErr = errors.InternalWrap("internal error", err)
	}
	s.send(TypeError, ErrorPayload{Code: string(appErr.Code), Message: appErr.Message})
}
