package scenario

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/roamctl/internal/errors"
	"codeberg.org/mutker/roamctl/internal/handover"
	"codeberg.org/mutker/roamctl/internal/metrics"
	"codeberg.org/mutker/roamctl/internal/mobility"
	"codeberg.org/mutker/roamctl/internal/observability"
	"codeberg.org/mutker/roamctl/internal/probe"
	"codeberg.org/mutker/roamctl/internal/signal"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Observer = (*observability.Collector)(nil)

type recordingAssociator struct {
	mu       sync.Mutex
	requests map[string][]string
}

func (a *recordingAssociator) Associate(_ context.Context, stationID, apID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.requests == nil {
		a.requests = make(map[string][]string)
	}
	a.requests[stationID] = append(a.requests[stationID], apID)
	return nil
}

type failingAssociator struct{}

func (failingAssociator) Associate(context.Context, string, string) error {
	return fmt.Errorf("iw: device busy")
}

type brokenModel struct{}

func (brokenModel) Quality(mobility.Position, signal.AccessPoint) float64 { return 1.5 }
func (brokenModel) Bounds() (float64, float64) { return 0, 1 }

// cancelAfter cancels the run once a poll reaches the given time.
type cancelAfter struct {
	at     time.Duration
	cancel context.CancelFunc
}

func (c cancelAfter) Poll(_ context.Context, req probe.Request) ([]probe.Measurement, error) {
	if req.From >= c.at {
		c.cancel()
	}
	return nil, nil
}

func corridorSpec(t *testing.T, stations ...StationSpec) Spec {
	t.Helper()

	if len(stations) == 0 {
		tl, err := mobility.Linear(mobility.Position{X: 0}, mobility.Position{X: 150}, 30*time.Second)
		require.NoError(t, err)
		stations = []StationSpec{{ID: "sta1", Timeline: tl, Baseline: 95}}
	}

	return Spec{
		Name:     "corridor",
		Duration: 30 * time.Second,
		Tick:     time.Second,
		Model:    signal.NewLinearDecay(),
		AccessPoints: []signal.AccessPoint{
			{ID: "ap1", Position: mobility.Position{X: 20}, CoverageRadius: 47.5},
			{ID: "ap2", Position: mobility.Position{X: 70}, CoverageRadius: 47.5},
			{ID: "ap3", Position: mobility.Position{X: 120}, CoverageRadius: 47.5},
		},
		Stations: stations,
		Handover: handover.Config{
			ConnectThreshold:    0.3,
			DisconnectThreshold: 0.1,
			HysteresisMargin:    0.15,
			MinDwell:            0,
		},
	}
}

func synthetic(t *testing.T) probe.Source {
	t.Helper()
	src, err := probe.NewSynthetic(probe.SyntheticConfig{
		Interval:       100 * time.Millisecond,
		BaseRTT:        time.Millisecond,
		RTTPerQuality:  100 * time.Millisecond,
		CapacityMbps:   100,
		HandoverOutage: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	return src
}

func TestRunCorridor(t *testing.T) {
	assoc := &recordingAssociator{}
	r, err := NewRunner(corridorSpec(t), WithSource(synthetic(t)), WithAssociator(assoc))
	require.NoError(t, err)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Cancelled)

	history := res.History("sta1")
	require.Len(t, history, 3)
	assert.Equal(t, handover.ReasonInitial, history[0].Reason)
	assert.InDelta(t, 51, history[1].Position.X, 5)
	assert.InDelta(t, 103, history[2].Position.X, 5)
	assert.Equal(t, []string{"ap1", "ap2", "ap3"}, assoc.requests["sta1"])

	require.Len(t, res.Windows, 1)
	w := res.Windows[0]
	assert.True(t, w.Closed())
	assert.Equal(t, history, w.Events())
	assert.Equal(t, "ap3", w.Serving())

	rep := res.Report
	assert.Equal(t, 2, rep.HandoverCount)
	require.Len(t, rep.HandoverDelays, 2)
	for _, d := range rep.HandoverDelays {
		assert.Equal(t, 200*time.Millisecond, d.Delay)
	}
	assert.Equal(t, 200*time.Millisecond, rep.MeanHandoverDelay)
	assert.Zero(t, rep.UnresolvedHandovers)
	assert.Zero(t, rep.DroppedSamples)
	assert.Equal(t, 1.0, rep.FairnessIndex)
	assert.Greater(t, rep.Efficiency, 0.0)
	assert.Less(t, rep.Efficiency, 1.0)
	assert.Greater(t, rep.MinDelay, 1.0)
}

func TestRunIsDeterministic(t *testing.T) {
	run := func() []byte {
		r, err := NewRunner(corridorSpec(t), WithSource(synthetic(t)))
		require.NoError(t, err)
		res, err := r.Run(context.Background())
		require.NoError(t, err)

		b, err := json.Marshal(struct {
			History []handover.Event
			Entries []metrics.Entry
			Report  any
		}{res.History("sta1"), res.Windows[0].Entries(), res.Report})
		require.NoError(t, err)
		return b
	}

	assert.Equal(t, run(), run())
}

func TestRunStationsIndependently(t *testing.T) {
	forward, err := mobility.Linear(mobility.Position{X: 0}, mobility.Position{X: 150}, 30*time.Second)
	require.NoError(t, err)
	backward, err := mobility.Linear(mobility.Position{X: 150}, mobility.Position{X: 0}, 30*time.Second)
	require.NoError(t, err)
	parked, err := mobility.NewTimeline([]mobility.Waypoint{{At: 0, Position: mobility.Position{X: 70}}})
	require.NoError(t, err)

	spec := corridorSpec(t,
		StationSpec{ID: "sta3", Timeline: parked, Baseline: 95},
		StationSpec{ID: "sta1", Timeline: forward, Baseline: 95},
		StationSpec{ID: "sta2", Timeline: backward, Baseline: 95},
	)
	r, err := NewRunner(spec, WithSource(synthetic(t)))
	require.NoError(t, err)

	res, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Stations, 3)
	assert.Equal(t, "sta1", res.Stations[0].ID)
	assert.Len(t, res.History("sta1"), 3)
	assert.Len(t, res.History("sta2"), 3)
	assert.Equal(t, "ap1", res.History("sta2")[2].ToAP)
	require.Len(t, res.History("sta3"), 1)
	assert.Equal(t, "ap2", res.Stations[2].Association())

	assert.Equal(t, 3, res.Report.Stations)
	assert.Equal(t, 4, res.Report.HandoverCount)
	assert.Greater(t, res.Report.FairnessIndex, 1.0/3)
	assert.LessOrEqual(t, res.Report.FairnessIndex, 1.0)
}

func TestRunCancelledBeforeStart(t *testing.T) {
	r, err := NewRunner(corridorSpec(t), WithSource(synthetic(t)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := r.Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrRunCancelled))
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.True(t, res.Cancelled)
	assert.Empty(t, res.History("sta1"))
	assert.True(t, res.Windows[0].Closed())
}

func TestRunCancelledMidway(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r, err := NewRunner(corridorSpec(t), WithSource(cancelAfter{at: 5 * time.Second, cancel: cancel}))
	require.NoError(t, err)

	res, err := r.Run(ctx)
	assert.True(t, errors.HasCode(err, errors.ErrRunCancelled))
	assert.True(t, res.Cancelled)

	w := res.Windows[0]
	assert.True(t, w.Closed())
	entries := w.Entries()
	require.NotEmpty(t, entries)
	assert.Equal(t, 5*time.Second, entries[len(entries)-1].At)
	assert.Len(t, res.History("sta1"), 1)
	assert.Equal(t, 1, res.Report.Stations)
}

func TestRunAssociationFailure(t *testing.T) {
	r, err := NewRunner(corridorSpec(t), WithAssociator(failingAssociator{}))
	require.NoError(t, err)

	res, err := r.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrAssociationFailed))
	assert.False(t, res.Cancelled)

	require.Len(t, res.Stations, 1)
	require.Len(t, res.Windows, 1)
	assert.Empty(t, res.History("sta1"))
	assert.Empty(t, res.Windows[0].Events())
	assert.Equal(t, res.History("sta1"), res.Windows[0].Events())
	assert.Equal(t, "", res.Stations[0].Association())
}

func TestRunModelOutOfBoundsIsFatal(t *testing.T) {
	spec := corridorSpec(t)
	spec.Model = brokenModel{}
	r, err := NewRunner(spec)
	require.NoError(t, err)

	_, err = r.Run(context.Background())
	assert.True(t, errors.HasCode(err, errors.ErrModelOutOfBounds))
}

func TestRunDropsOutOfOrderSamples(t *testing.T) {
	src := probe.NewReplay([]probe.Measurement{
		{At: 500 * time.Millisecond, StationID: "sta1", Metric: metrics.MetricRTT, Value: 10},
		{At: 1500 * time.Millisecond, StationID: "sta1", Metric: metrics.MetricRTT, Value: 12},
		{At: 1200 * time.Millisecond, StationID: "sta1", Metric: metrics.MetricRTT, Value: 900},
		{At: 2500 * time.Millisecond, StationID: "sta1", Metric: metrics.MetricRTT, Value: 14},
	})

	reg := prometheus.NewRegistry()
	obs, err := observability.NewCollector(reg)
	require.NoError(t, err)

	r, err := NewRunner(corridorSpec(t), WithSource(src), WithObserver(obs))
	require.NoError(t, err)

	res, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Report.DroppedSamples)
	assert.Equal(t, 3, res.Report.DelaySamples)
	assert.Equal(t, 14.0, res.Report.MaxDelay)
	assert.Equal(t, 12.0, res.Report.AvgDelay)
	assert.Equal(t, 1.0, testutil.ToFloat64(obs.SamplesDropped.WithLabelValues("sta1", string(errors.ErrOutOfOrderSample))))
	assert.Equal(t, 3.0, testutil.ToFloat64(obs.SamplesRecord.WithLabelValues("sta1", metrics.MetricRTT, "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(obs.Handovers.WithLabelValues("sta1", string(handover.ReasonBetterCandidate))))
}

func TestSpecValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Spec)
		code   errors.ErrorCode
	}{
		{"zero duration", func(s *Spec) { s.Duration = 0 }, errors.ErrInvalidConfig},
		{"negative tick", func(s *Spec) { s.Tick = -time.Second }, errors.ErrInvalidConfig},
		{"tick exceeds duration", func(s *Spec) { s.Tick = time.Minute }, errors.ErrInvalidConfig},
		{"no model", func(s *Spec) { s.Model = nil }, errors.ErrMissingConfig},
		{"no access points", func(s *Spec) { s.AccessPoints = nil }, errors.ErrMissingConfig},
		{"no stations", func(s *Spec) { s.Stations = nil }, errors.ErrMissingConfig},
		{"duplicate ap", func(s *Spec) { s.AccessPoints[1].ID = "ap1" }, errors.ErrInvalidConfig},
		{"duplicate station", func(s *Spec) { s.Stations = append(s.Stations, s.Stations[0]) }, errors.ErrInvalidConfig},
		{"station without timeline", func(s *Spec) { s.Stations[0].Timeline = nil }, errors.ErrInvalidConfig},
		{"thresholds inverted", func(s *Spec) { s.Handover.DisconnectThreshold = 0.5 }, errors.ErrInvalidConfig},
		{"negative margin", func(s *Spec) { s.Handover.HysteresisMargin = -0.1 }, errors.ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := corridorSpec(t)
			tt.mutate(&spec)

			_, err := NewRunner(spec)
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, tt.code), "got %v", err)
		})
	}
}
