package playback

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/windfall/voicecoach_service/internal/audio"
)

// DefaultTick matches the cadence of browser timeupdate events.
const DefaultTick = 250 * time.Millisecond

// ClockEngine simulates playback against the wall clock. It produces no
// sound; position advances Rate seconds of media per second of real time
// and is reported every Tick.
type ClockEngine struct {
	Tick time.Duration
	Rate float64
	// ResolveDuration reads the media length. Defaults to audio.Duration.
	ResolveDuration func(audio.Blob) (float64, error)
}

// NewClockEngine creates an engine with the default tick and real-time rate.
func NewClockEngine() *ClockEngine {
	return &ClockEngine{Tick: DefaultTick, Rate: 1}
}

// Load implements Engine. Blobs whose duration cannot be resolved still load;
// they play until paused since no natural end is known.
func (e *ClockEngine) Load(ctx context.Context, blob audio.Blob) (Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resolve := e.ResolveDuration
	if resolve == nil {
		resolve = audio.Duration
	}
	duration, err := resolve(blob)
	if err != nil {
		duration = math.Inf(1)
	}

	tick := e.Tick
	if tick <= 0 {
		tick = DefaultTick
	}
	rate := e.Rate
	if rate <= 0 {
		rate = 1
	}

	return &clockSource{
		duration:    duration,
		durationErr: err,
		tick:        tick,
		step:        tick.Seconds() * rate,
		progress:    make(chan Progress, 1),
	}, nil
}

type clockSource struct {
	duration    float64
	durationErr error
	tick        time.Duration
	step        float64
	progress    chan Progress

	mu       sync.Mutex
	position float64
	playing  bool
	released bool
	stop     chan struct{}
	ticking  sync.WaitGroup
}

func (s *clockSource) Duration() (float64, error) {
	return s.duration, s.durationErr
}

func (s *clockSource) Seek(position float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return ErrReleased
	}
	s.position = math.Min(math.Max(0, position), s.duration)
	return nil
}

func (s *clockSource) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return ErrReleased
	}
	if s.playing {
		return nil
	}
	// Drop a report left over from before the last pause or seek.
	select {
	case <-s.progress:
	default:
	}
	s.playing = true
	s.stop = make(chan struct{})
	s.ticking.Add(1)
	go s.run(s.stop)
	return nil
}

func (s *clockSource) run(stop <-chan struct{}) {
	defer s.ticking.Done()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		s.position = math.Min(s.position+s.step, s.duration)
		p := Progress{Position: s.position, Ended: s.position >= s.duration}
		if p.Ended {
			s.playing = false
		}
		s.mu.Unlock()

		select {
		case s.progress <- p:
		case <-stop:
			return
		}
		if p.Ended {
			return
		}
	}
}

func (s *clockSource) Pause() error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return ErrReleased
	}
	s.haltLocked()
	s.mu.Unlock()

	s.ticking.Wait()
	return nil
}

// haltLocked signals the ticker goroutine to stop; callers wait on s.ticking
// after unlocking.
func (s *clockSource) haltLocked() {
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	s.playing = false
}

func (s *clockSource) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

func (s *clockSource) Progress() <-chan Progress {
	return s.progress
}

func (s *clockSource) Release() error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return ErrReleased
	}
	s.released = true
	s.haltLocked()
	s.mu.Unlock()

	s.ticking.Wait()
	return nil
}
