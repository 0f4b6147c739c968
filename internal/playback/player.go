package playback

import (
	"bytes"
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/windfall/voicecoach_service/internal/audio"
)

// Player plays one window at a time. Starting a new window stops the
// previous one; loading a different blob releases the previous source.
type Player struct {
	engine Engine
	log    zerolog.Logger

	mu      sync.Mutex
	blob    audio.Blob
	source  Source
	window  Window
	playing bool
	session *session
}

type session struct {
	stop chan struct{}
	done chan struct{}
}

// NewPlayer creates a player backed by engine.
func NewPlayer(engine Engine, log zerolog.Logger) *Player {
	return &Player{engine: engine, log: log}
}

// Play loads blob, seeks to the window start and plays until the window end
// or the natural end of the media. It returns once playback has started;
// use Done to wait for it to stop.
func (p *Player) Play(ctx context.Context, blob audio.Blob, w Window) error {
	p.stopSession()

	p.mu.Lock()
	defer p.mu.Unlock()

	src, err := p.sourceFor(ctx, blob)
	if err != nil {
		return err
	}

	if d, err := src.Duration(); err != nil {
		p.log.Debug().Err(err).Msg("Playing without a known duration")
	} else if w.Start > d {
		p.log.Debug().Float64("start", w.Start).Float64("duration", d).Msg("Seek past end of media")
	}
	if err := src.Seek(w.Start); err != nil {
		p.log.Warn().Err(err).Float64("start", w.Start).Msg("Seek failed")
	}

	s := &session{stop: make(chan struct{}), done: make(chan struct{})}
	p.session = s
	p.window = w

	if w.Reached(src.Position()) {
		p.playing = false
		close(s.done)
		return nil
	}

	if err := src.Play(); err != nil {
		p.playing = false
		close(s.done)
		return err
	}
	p.playing = true

	go p.monitor(ctx, src, w, s)
	return nil
}

// sourceFor must be called with p.mu held.
func (p *Player) sourceFor(ctx context.Context, blob audio.Blob) (Source, error) {
	if p.source != nil && sameBlob(p.blob, blob) {
		return p.source, nil
	}
	if p.source != nil {
		p.releaseLocked()
	}

	src, err := p.engine.Load(ctx, blob)
	if err != nil {
		return nil, err
	}
	p.source = src
	p.blob = blob
	return src, nil
}

func (p *Player) monitor(ctx context.Context, src Source, w Window, s *session) {
	defer close(s.done)

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			p.halt(src, s)
			return
		case pr := <-src.Progress():
			if w.Reached(pr.Position) {
				p.halt(src, s)
				return
			}
			if pr.Ended {
				p.mu.Lock()
				if p.session == s {
					p.playing = false
				}
				p.mu.Unlock()
				return
			}
		}
	}
}

func (p *Player) halt(src Source, s *session) {
	if err := src.Pause(); err != nil {
		p.log.Debug().Err(err).Msg("Pause failed")
	}
	p.mu.Lock()
	if p.session == s {
		p.playing = false
	}
	p.mu.Unlock()
}

// stopSession ends the current monitor and waits for it.
func (p *Player) stopSession() {
	p.mu.Lock()
	s := p.session
	src := p.source
	p.session = nil
	p.mu.Unlock()

	if s == nil {
		return
	}
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
	if src != nil {
		_ = src.Pause()
	}
	p.mu.Lock()
	p.playing = false
	p.mu.Unlock()
}

// Pause stops playback at the current position.
func (p *Player) Pause() {
	p.stopSession()
}

// Playing reports whether audio is currently playing.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Position returns the play head of the loaded source.
func (p *Player) Position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.source == nil {
		return 0
	}
	return p.source.Position()
}

// Done is closed when the current playback stops for any reason.
func (p *Player) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return p.session.done
}

// Close stops playback and releases the loaded source.
func (p *Player) Close() error {
	p.stopSession()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.releaseLocked()
	return nil
}

func (p *Player) releaseLocked() {
	if p.source == nil {
		return
	}
	if err := p.source.Release(); err != nil {
		p.log.Debug().Err(err).Msg("Release failed")
	}
	p.source = nil
	p.blob = audio.Blob{}
}

func sameBlob(a, b audio.Blob) bool {
	return a.Filename() == b.Filename() &&
		a.MIMEType() == b.MIMEType() &&
		a.Len() == b.Len() &&
		bytes.Equal(a.Bytes(), b.Bytes())
}
