package playback

import (
	"math"

	"github.com/windfall/voicecoach_service/internal/analysis"
)

// Window is the [Start, End) interval to play. A nil End plays to the end of
// the media.
type Window struct {
	Start float64
	End   *float64
}

// Full plays the whole blob.
func Full() Window {
	return Window{}
}

// From plays from start to the natural end.
func From(start float64) Window {
	return Window{Start: start}
}

// Between plays from start until end.
func Between(start, end float64) Window {
	return Window{Start: start, End: &end}
}

// ForSegment plays a speech-rate segment.
func ForSegment(seg analysis.Segment) Window {
	return Between(seg.Start, seg.End)
}

// Bounded reports whether the window has an explicit end.
func (w Window) Bounded() bool {
	return w.End != nil
}

// Degenerate reports whether the window cannot contain any audio.
func (w Window) Degenerate() bool {
	return w.End != nil && *w.End <= w.Start
}

// Reached reports whether position has hit the window's end.
func (w Window) Reached(position float64) bool {
	return w.End != nil && position >= *w.End
}

// Clamp fits the window into [0, duration]. The returned end is never
// before start. A non-positive or infinite duration leaves the bounds as is,
// except that negative values are raised to zero.
func (w Window) Clamp(duration float64) (start, end float64) {
	start = math.Max(0, w.Start)
	end = math.Inf(1)
	if w.End != nil {
		end = *w.End
	}
	if duration > 0 && !math.IsInf(duration, 1) {
		start = math.Min(start, duration)
		end = math.Min(end, duration)
	}
	if end < start {
		end = start
	}
	return start, end
}
