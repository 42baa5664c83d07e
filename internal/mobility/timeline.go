package mobility

import (
	"iter"
	"sort"
	"time"

	"codeberg.org/mutker/roamctl/internal/errors"
)

// Waypoint pins a station to a position at a simulated time offset.
type Waypoint struct {
	At       time.Duration
	Position Position
}

// Timeline yields a station's position as a function of simulated time by
// piecewise-linear interpolation between waypoints. Before the first
// waypoint the station sits at the first position, after the last it stays
// at the last one.
type Timeline struct {
	waypoints []Waypoint
}

// NewTimeline validates and copies the waypoints. Times must be
// non-negative and strictly increasing.
func NewTimeline(waypoints []Waypoint) (*Timeline, error) {
	errFactory := errors.New()

	if len(waypoints) == 0 {
		return nil, errFactory.WithData(errors.ErrInvalidConfig, struct {
			Field  string
			Reason string
		}{
			Field:  "waypoints",
			Reason: "at least one waypoint is required",
		})
	}

	for i, wp := range waypoints {
		if wp.At < 0 {
			return nil, errFactory.WithData(errors.ErrInvalidConfig, struct {
				Field string
				Index int
				At    time.Duration
			}{
				Field: "waypoints.at",
				Index: i,
				At:    wp.At,
			})
		}
		if i > 0 && wp.At <= waypoints[i-1].At {
			return nil, errFactory.WithData(errors.ErrInvalidConfig, struct {
				Field  string
				Index  int
				At     time.Duration
				Reason string
			}{
				Field:  "waypoints.at",
				Index:  i,
				At:     wp.At,
				Reason: "waypoint times must be strictly increasing",
			})
		}
	}

	wps := make([]Waypoint, len(waypoints))
	copy(wps, waypoints)

	return &Timeline{waypoints: wps}, nil
}

// Linear is a convenience constructor for a straight run from one point to
// another over the given duration.
func Linear(from, to Position, over time.Duration) (*Timeline, error) {
	return NewTimeline([]Waypoint{
		{At: 0, Position: from},
		{At: over, Position: to},
	})
}

// PositionAt returns the interpolated position at t.
func (tl *Timeline) PositionAt(t time.Duration) Position {
	wps := tl.waypoints
	if t <= wps[0].At {
		return wps[0].Position
	}
	last := wps[len(wps)-1]
	if t >= last.At {
		return last.Position
	}

	// First waypoint strictly after t; i >= 1 given the checks above.
	i := sort.Search(len(wps), func(i int) bool { return wps[i].At > t })
	prev, next := wps[i-1], wps[i]
	f := float64(t-prev.At) / float64(next.At-prev.At)

	return prev.Position.Lerp(next.Position, f)
}

// Ticks returns a lazy sequence of (t, position) pairs for t = 0, tick,
// 2·tick, ... up to and including duration. Each call to the returned
// sequence starts again from zero.
func (tl *Timeline) Ticks(duration, tick time.Duration) iter.Seq2[time.Duration, Position] {
	return func(yield func(time.Duration, Position) bool) {
		if tick <= 0 || duration < 0 {
			return
		}
		for n := int64(0); ; n++ {
			t := time.Duration(n) * tick
			if t > duration {
				return
			}
			if !yield(t, tl.PositionAt(t)) {
				return
			}
		}
	}
}

// Waypoints returns a copy of the configured waypoints.
func (tl *Timeline) Waypoints() []Waypoint {
	out := make([]Waypoint, len(tl.waypoints))
	copy(out, tl.waypoints)
	return out
}
