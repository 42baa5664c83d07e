package mobility

import (
	"testing"
	"time"

	"codeberg.org/mutker/roamctl/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPositionAtInterpolatesLinearly(t *testing.T) {
	tl, err := Linear(Position{X: 0}, Position{X: 150}, 30*time.Second)
	require.NoError(t, err)

	assert.InDelta(t, 0, tl.PositionAt(0).X, 1e-9)
	assert.InDelta(t, 75, tl.PositionAt(15*time.Second).X, 1e-9)
	assert.InDelta(t, 50, tl.PositionAt(10*time.Second).X, 1e-9)
	assert.InDelta(t, 150, tl.PositionAt(30*time.Second).X, 1e-9)
}

func TestPositionAtClampsOutsideWaypoints(t *testing.T) {
	tl, err := NewTimeline([]Waypoint{
		{At: 5 * time.Second, Position: Position{X: 10, Y: 1}},
		{At: 10 * time.Second, Position: Position{X: 20, Y: 2}},
	})
	require.NoError(t, err)

	assert.Equal(t, Position{X: 10, Y: 1}, tl.PositionAt(0))
	assert.Equal(t, Position{X: 20, Y: 2}, tl.PositionAt(time.Minute))
}

func TestPositionAtMultiSegment(t *testing.T) {
	tl, err := NewTimeline([]Waypoint{
		{At: 0, Position: Position{X: 0}},
		{At: 10 * time.Second, Position: Position{X: 100}},
		{At: 20 * time.Second, Position: Position{X: 100, Y: 50}},
	})
	require.NoError(t, err)

	assert.Equal(t, Position{X: 100}, tl.PositionAt(10*time.Second))
	p := tl.PositionAt(15 * time.Second)
	assert.InDelta(t, 100, p.X, 1e-9)
	assert.InDelta(t, 25, p.Y, 1e-9)
}

func TestNewTimelineRejectsBadWaypoints(t *testing.T) {
	_, err := NewTimeline(nil)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidConfig))

	_, err = NewTimeline([]Waypoint{{At: time.Second}, {At: time.Second}})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidConfig))

	_, err = NewTimeline([]Waypoint{{At: -time.Second}})
	require.Error(t, err)
}

func TestTicksIsRestartableAndBounded(t *testing.T) {
	tl, err := Linear(Position{}, Position{X: 10}, 10*time.Second)
	require.NoError(t, err)

	collect := func() []time.Duration {
		var ts []time.Duration
		for at := range tl.Ticks(10*time.Second, 2*time.Second) {
			ts = append(ts, at)
		}
		return ts
	}

	first := collect()
	assert.Equal(t, []time.Duration{0, 2 * time.Second, 4 * time.Second, 6 * time.Second, 8 * time.Second, 10 * time.Second}, first)
	assert.Equal(t, first, collect())
}

func TestTicksStopsEarly(t *testing.T) {
	tl, err := Linear(Position{}, Position{X: 10}, 10*time.Second)
	require.NoError(t, err)

	n := 0
	for range tl.Ticks(10*time.Second, time.Second) {
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
}

func TestDistanceTo(t *testing.T) {
	assert.InDelta(t, 5, Position{X: 3, Y: 4}.DistanceTo(Position{}), 1e-9)
	p, err := FromSlice([]float64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, Position{X: 1, Y: 2, Z: 3}, p)
	p, err = FromSlice([]float64{7})
	require.NoError(t, err)
	assert.Equal(t, Position{X: 7}, p)

	_, err = FromSlice(nil)
	assert.Error(t, err)
	_, err = FromSlice([]float64{1, 2, 3, 4})
	assert.Error(t, err)
}
