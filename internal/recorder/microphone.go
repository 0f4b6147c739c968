package recorder

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// StreamMicrophone serves a single pre-opened stream, such as the audio
// frames of a WebSocket session.
type StreamMicrophone struct {
	mu     sync.Mutex
	stream io.ReadCloser
}

// NewStreamMicrophone wraps stream. It can be opened once.
func NewStreamMicrophone(stream io.ReadCloser) *StreamMicrophone {
	return &StreamMicrophone{stream: stream}
}

// Open implements Microphone.
func (m *StreamMicrophone) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return nil, fmt.Errorf("capture stream already in use")
	}
	s := m.stream
	m.stream = nil
	return s, nil
}

// DeniedMicrophone refuses every request, as a platform does when the user
// blocks microphone access.
type DeniedMicrophone struct{}

// Open implements Microphone.
func (DeniedMicrophone) Open(context.Context) (io.ReadCloser, error) {
	return nil, ErrPermissionDenied
}
