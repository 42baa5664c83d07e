// Package scenario drives stations through a simulated run: one task per
// station advances its timeline tick by tick, feeds the handover machine
// and records measurements.
package scenario

import (
	"sort"
	"time"

	"codeberg.org/mutker/roamctl/internal/errors"
	"codeberg.org/mutker/roamctl/internal/handover"
	"codeberg.org/mutker/roamctl/internal/mobility"
	"codeberg.org/mutker/roamctl/internal/signal"
)

// StationSpec describes one mobile station.
type StationSpec struct {
	ID       string
	Timeline *mobility.Timeline
	// Baseline is the throughput the station achieves alone; 0 if unknown.
	Baseline float64
}

// Spec is a fully resolved scenario.
type Spec struct {
	Name         string
	Duration     time.Duration
	Tick         time.Duration
	Model        signal.Model
	AccessPoints []signal.AccessPoint
	Stations     []StationSpec
	Handover     handover.Config
}

// Validate rejects inconsistent scenarios. Nothing is clamped.
func (s Spec) Validate() error {
	errFactory := errors.New()

	invalid := func(field string, value any, reason string) error {
		return errFactory.WithData(errors.ErrInvalidConfig, struct {
			Field  string
			Value  any
			Reason string
		}{
			Field:  field,
			Value:  value,
			Reason: reason,
		})
	}

	switch {
	case s.Duration <= 0:
		return invalid("duration", s.Duration, "must be positive")
	case s.Tick <= 0:
		return invalid("tick", s.Tick, "must be positive")
	case s.Tick > s.Duration:
		return invalid("tick", s.Tick, "must not exceed duration")
	case s.Model == nil:
		return errFactory.WithMessage(errors.ErrMissingConfig, "signal model is required")
	case len(s.AccessPoints) == 0:
		return errFactory.WithMessage(errors.ErrMissingConfig, "at least one access point is required")
	case len(s.Stations) == 0:
		return errFactory.WithMessage(errors.ErrMissingConfig, "at least one station is required")
	}

	aps := make(map[string]struct{}, len(s.AccessPoints))
	for _, ap := range s.AccessPoints {
		if ap.ID == "" {
			return invalid("access_points.id", ap.ID, "must not be empty")
		}
		if _, ok := aps[ap.ID]; ok {
			return invalid("access_points.id", ap.ID, "duplicate")
		}
		aps[ap.ID] = struct{}{}
	}

	stations := make(map[string]struct{}, len(s.Stations))
	for _, st := range s.Stations {
		if st.ID == "" {
			return invalid("stations.id", st.ID, "must not be empty")
		}
		if _, ok := stations[st.ID]; ok {
			return invalid("stations.id", st.ID, "duplicate")
		}
		if st.Timeline == nil {
			return invalid("stations.waypoints", st.ID, "station has no timeline")
		}
		if st.Baseline < 0 {
			return invalid("stations.baseline_throughput", st.Baseline, "must not be negative")
		}
		stations[st.ID] = struct{}{}
	}

	lo, hi := s.Model.Bounds()
	return s.Handover.Validate(lo, hi)
}

// Baselines returns the known baseline throughput per station.
func (s Spec) Baselines() map[string]float64 {
	out := make(map[string]float64)
	for _, st := range s.Stations {
		if st.Baseline > 0 {
			out[st.ID] = st.Baseline
		}
	}
	return out
}

func (s Spec) sortedStations() []StationSpec {
	out := make([]StationSpec, len(s.Stations))
	copy(out, s.Stations)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
