package handover

import (
	"testing"
	"time"

	"codeberg.org/mutker/roamctl/internal/errors"
	"codeberg.org/mutker/roamctl/internal/mobility"
	"codeberg.org/mutker/roamctl/internal/signal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(dwell time.Duration) Config {
	return Config{
		ConnectThreshold:    0.3,
		DisconnectThreshold: 0.1,
		HysteresisMargin:    0.15,
		MinDwell:            dwell,
	}
}

func newTestMachine(t *testing.T, dwell time.Duration) *Machine {
	t.Helper()
	m, err := NewMachine(NewStation("sta1"), testConfig(dwell), 0, 1)
	require.NoError(t, err)
	return m
}

func samplesAt(at time.Duration, q map[string]float64) []signal.Sample {
	out := make([]signal.Sample, 0, len(q))
	for id, v := range q {
		out = append(out, signal.Sample{At: at, StationID: "sta1", APID: id, Quality: v})
	}
	return out
}

func step(t *testing.T, m *Machine, at time.Duration, q map[string]float64) *Event {
	t.Helper()
	ev, err := m.Step(at, mobility.Position{}, samplesAt(at, q))
	require.NoError(t, err)
	return ev
}

func TestInitialAssociationPicksBestAP(t *testing.T) {
	m := newTestMachine(t, 0)

	ev := step(t, m, 0, map[string]float64{"ap1": 0.5, "ap2": 0.7, "ap3": 0.2})
	require.NotNil(t, ev)
	assert.Equal(t, "", ev.FromAP)
	assert.Equal(t, "ap2", ev.ToAP)
	assert.Equal(t, ReasonInitial, ev.Reason)
	assert.Equal(t, State{Kind: Associated, AP: "ap2"}, m.State())
	assert.Equal(t, "ap2", m.Station().Association())
}

func TestInitialAssociationTieBreaksOnLowestID(t *testing.T) {
	m := newTestMachine(t, 0)

	ev := step(t, m, 0, map[string]float64{"ap-c": 0.7, "ap-a": 0.7, "ap-b": 0.7})
	require.NotNil(t, ev)
	assert.Equal(t, "ap-a", ev.ToAP)
}

func TestConnectThresholdMustBeExceeded(t *testing.T) {
	m := newTestMachine(t, 0)

	assert.Nil(t, step(t, m, 0, map[string]float64{"ap1": 0.3}))
	assert.Equal(t, Disconnected, m.State().Kind)
	assert.NotNil(t, step(t, m, time.Second, map[string]float64{"ap1": 0.31}))
}

func TestHysteresisMarginGatesHandover(t *testing.T) {
	m := newTestMachine(t, 0)
	step(t, m, 0, map[string]float64{"ap1": 0.6, "ap2": 0.2})

	assert.Nil(t, step(t, m, time.Second, map[string]float64{"ap1": 0.5, "ap2": 0.6}))
	assert.Nil(t, step(t, m, 2*time.Second, map[string]float64{"ap1": 0.5, "ap2": 0.64}))

	ev := step(t, m, 3*time.Second, map[string]float64{"ap1": 0.5, "ap2": 0.7})
	require.NotNil(t, ev)
	assert.Equal(t, "ap1", ev.FromAP)
	assert.Equal(t, "ap2", ev.ToAP)
	assert.Equal(t, ReasonBetterCandidate, ev.Reason)
	assert.InDelta(t, 0.5, ev.FromQuality, 1e-9)
	assert.InDelta(t, 0.7, ev.ToQuality, 1e-9)
}

func TestAdvantageMustBeSustainedForDwell(t *testing.T) {
	m := newTestMachine(t, 3*time.Second)
	step(t, m, 0, map[string]float64{"ap1": 0.6, "ap2": 0.2})

	better := map[string]float64{"ap1": 0.6, "ap2": 0.8}
	for s := 10; s < 13; s++ {
		assert.Nil(t, step(t, m, time.Duration(s)*time.Second, better), "t=%ds", s)
	}

	ev := step(t, m, 13*time.Second, better)
	require.NotNil(t, ev)
	assert.Equal(t, 13*time.Second, ev.At)
}

func TestAdvantageInterruptedResetsDwell(t *testing.T) {
	m := newTestMachine(t, 2*time.Second)
	step(t, m, 0, map[string]float64{"ap1": 0.6, "ap2": 0.2})

	better := map[string]float64{"ap1": 0.6, "ap2": 0.8}
	level := map[string]float64{"ap1": 0.6, "ap2": 0.6}

	assert.Nil(t, step(t, m, 10*time.Second, better))
	assert.Nil(t, step(t, m, 11*time.Second, better))
	assert.Nil(t, step(t, m, 12*time.Second, level))
	assert.Nil(t, step(t, m, 13*time.Second, better))
	assert.Nil(t, step(t, m, 14*time.Second, better))
	assert.NotNil(t, step(t, m, 15*time.Second, better))
}

func TestLinkLossWaitsForDwellSinceLastChange(t *testing.T) {
	m := newTestMachine(t, 5*time.Second)
	step(t, m, 0, map[string]float64{"ap1": 0.6, "ap2": 0.2})

	dying := map[string]float64{"ap1": 0.05, "ap2": 0.31}
	for s := 1; s < 5; s++ {
		assert.Nil(t, step(t, m, time.Duration(s)*time.Second, dying), "t=%ds", s)
		assert.Equal(t, "ap1", m.Station().Association())
	}
	ev := step(t, m, 5*time.Second, dying)
	require.NotNil(t, ev)
	assert.Equal(t, ReasonLinkLoss, ev.Reason)
	assert.Equal(t, "ap2", ev.ToAP)
}

func TestDisconnectWhenNoAlternative(t *testing.T) {
	m := newTestMachine(t, 0)
	step(t, m, 0, map[string]float64{"ap1": 0.6, "ap2": 0.0})

	ev := step(t, m, time.Second, map[string]float64{"ap1": 0.05, "ap2": 0.2})
	require.NotNil(t, ev)
	assert.Equal(t, "ap1", ev.FromAP)
	assert.Equal(t, "", ev.ToAP)
	assert.Equal(t, ReasonSignalLost, ev.Reason)
	assert.Equal(t, Disconnected, m.State().Kind)
	assert.Equal(t, "", m.Station().Association())

	ev = step(t, m, 2*time.Second, map[string]float64{"ap1": 0.05, "ap2": 0.4})
	require.NotNil(t, ev)
	assert.Equal(t, ReasonReconnect, ev.Reason)
	assert.Equal(t, "ap2", ev.ToAP)
}

func TestLinkLossHandsOverToViableAP(t *testing.T) {
	cfg := testConfig(2 * time.Second)
	cfg.HysteresisMargin = 0.5
	m, err := NewMachine(NewStation("sta1"), cfg, 0, 1)
	require.NoError(t, err)

	step(t, m, 0, map[string]float64{"ap1": 0.6, "ap2": 0.0})
	assert.Nil(t, step(t, m, 4*time.Second, map[string]float64{"ap1": 0.6, "ap2": 0.0}))

	// ap2 leads by 0.26, under the margin, and appears for the first time:
	// the lost link is replaced at once.
	ev := step(t, m, 5*time.Second, map[string]float64{"ap1": 0.05, "ap2": 0.31})
	require.NotNil(t, ev)
	assert.Equal(t, ReasonLinkLoss, ev.Reason)
	assert.Equal(t, "ap1", ev.FromAP)
	assert.Equal(t, "ap2", ev.ToAP)
}

func TestOutOfBoundsQualityFailsFast(t *testing.T) {
	m := newTestMachine(t, 0)

	_, err := m.Step(0, mobility.Position{}, samplesAt(0, map[string]float64{"ap1": 1.5}))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrModelOutOfBounds))
	assert.Contains(t, err.Error(), "ap1")
	assert.Empty(t, m.Station().History())
}

func TestStepRejectsTimeGoingBackwards(t *testing.T) {
	m := newTestMachine(t, 0)
	step(t, m, 5*time.Second, map[string]float64{"ap1": 0.6})

	_, err := m.Step(4*time.Second, mobility.Position{}, samplesAt(4*time.Second, map[string]float64{"ap1": 0.6}))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidArgument))
}

func TestConfigValidation(t *testing.T) {
	cases := map[string]Config{
		"disconnect above connect": {ConnectThreshold: 0.2, DisconnectThreshold: 0.3, HysteresisMargin: 0.1},
		"disconnect equal connect": {ConnectThreshold: 0.3, DisconnectThreshold: 0.3, HysteresisMargin: 0.1},
		"connect above bound":      {ConnectThreshold: 1.2, DisconnectThreshold: 0.3, HysteresisMargin: 0.1},
		"negative margin":          {ConnectThreshold: 0.3, DisconnectThreshold: 0.1, HysteresisMargin: -0.1},
		"negative dwell":           {ConnectThreshold: 0.3, DisconnectThreshold: 0.1, MinDwell: -time.Second},
	}

	for name, cfg := range cases {
		_, err := NewMachine(NewStation("sta1"), cfg, 0, 1)
		require.Error(t, err, name)
		assert.True(t, errors.HasCode(err, errors.ErrInvalidConfig), name)
	}

	_, err := NewMachine(NewStation(""), testConfig(0), 0, 1)
	require.Error(t, err)
}

func TestHistoryChainsAssociations(t *testing.T) {
	m := newTestMachine(t, 0)
	seq := []map[string]float64{
		{"ap1": 0.6, "ap2": 0.1, "ap3": 0.0},
		{"ap1": 0.3, "ap2": 0.6, "ap3": 0.0},
		{"ap1": 0.0, "ap2": 0.3, "ap3": 0.6},
		{"ap1": 0.0, "ap2": 0.0, "ap3": 0.05},
		{"ap1": 0.7, "ap2": 0.0, "ap3": 0.0},
	}
	for i, q := range seq {
		step(t, m, time.Duration(i)*time.Second, q)
	}

	history := m.Station().History()
	require.Len(t, history, 5)
	prev := ""
	for _, ev := range history {
		assert.Equal(t, prev, ev.FromAP)
		prev = ev.ToAP
	}
	assert.Equal(t, prev, m.Station().Association())
}

func TestRollbackRestoresPreviousAssociation(t *testing.T) {
	m := newTestMachine(t, 0)

	require.NotNil(t, step(t, m, 0, map[string]float64{"ap1": 0.6, "ap2": 0.1}))
	ev := step(t, m, time.Second, map[string]float64{"ap1": 0.3, "ap2": 0.6})
	require.NotNil(t, ev)
	require.Equal(t, "ap2", m.Station().Association())

	require.NoError(t, m.Rollback())
	assert.Equal(t, State{Kind: Associated, AP: "ap1"}, m.State())
	assert.Equal(t, "ap1", m.Station().Association())
	require.Len(t, m.Station().History(), 1)
	assert.Equal(t, "ap1", m.Station().History()[0].ToAP)

	// Only the latest change can be undone.
	err := m.Rollback()
	assert.True(t, errors.HasCode(err, errors.ErrInvalidArgument))

	// The candidate is proposed again on the next step.
	ev = step(t, m, 2*time.Second, map[string]float64{"ap1": 0.3, "ap2": 0.6})
	require.NotNil(t, ev)
	assert.Equal(t, "ap1", ev.FromAP)
	assert.Equal(t, "ap2", ev.ToAP)
}

func TestRollbackOfInitialAssociation(t *testing.T) {
	m := newTestMachine(t, 0)

	require.NotNil(t, step(t, m, 0, map[string]float64{"ap1": 0.6}))
	require.NoError(t, m.Rollback())

	assert.Equal(t, State{Kind: Disconnected}, m.State())
	assert.Empty(t, m.Station().History())

	ev := step(t, m, time.Second, map[string]float64{"ap1": 0.6})
	require.NotNil(t, ev)
	assert.Equal(t, ReasonInitial, ev.Reason)
}

func TestRollbackWithoutChange(t *testing.T) {
	m := newTestMachine(t, 0)

	require.NotNil(t, step(t, m, 0, map[string]float64{"ap1": 0.6}))
	require.Nil(t, step(t, m, time.Second, map[string]float64{"ap1": 0.6}))

	err := m.Rollback()
	assert.True(t, errors.HasCode(err, errors.ErrInvalidArgument))
	assert.Equal(t, "ap1", m.Station().Association())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Disconnected", State{}.String())
	assert.Equal(t, "Associated(ap1)", State{Kind: Associated, AP: "ap1"}.String())
	assert.Equal(t, "HandingOver(ap1, ap2)", State{Kind: HandingOver, From: "ap1", To: "ap2"}.String())
}
