// Package playback plays bounded windows of recorded audio.
//
// An Engine loads a blob into a Source, the playable rendition the platform
// provides. Sources report their position through native progress events;
// the Player watches those events and pauses once a window's end is reached.
package playback

import (
	"context"
	stderrors "errors"

	"github.com/windfall/voicecoach_service/internal/audio"
)

// ErrReleased is returned by a Source used after Release.
var ErrReleased = stderrors.New("playback source released")

// Progress is one native position report.
type Progress struct {
	Position float64 // seconds
	Ended    bool    // the media reached its natural end
}

// Source is a blob loaded for playback.
type Source interface {
	// Duration reports the media length once metadata is available.
	Duration() (float64, error)
	// Seek moves the play head. Seeking past the end is clamped by the source.
	Seek(position float64) error
	Play() error
	Pause() error
	Position() float64
	// Progress delivers position reports while playing.
	Progress() <-chan Progress
	// Release frees the playable resource. Further calls fail with ErrReleased.
	Release() error
}

// Engine turns blobs into playable sources.
type Engine interface {
	Load(ctx context.Context, blob audio.Blob) (Source, error)
}
