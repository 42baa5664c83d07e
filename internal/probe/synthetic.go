package probe

import (
	"context"
	"time"

	"codeberg.org/mutker/roamctl/internal/errors"
	"codeberg.org/mutker/roamctl/internal/metrics"
)

const (
	DefaultInterval       = 100 * time.Millisecond
	DefaultBaseRTT        = time.Millisecond
	DefaultRTTPerQuality  = 100 * time.Millisecond
	DefaultCapacityMbps   = 100.0
	DefaultHandoverOutage = 50 * time.Millisecond
)

// SyntheticConfig parameterizes a Synthetic source.
type SyntheticConfig struct {
	Interval       time.Duration
	BaseRTT        time.Duration
	RTTPerQuality  time.Duration
	CapacityMbps   float64
	HandoverOutage time.Duration
}

// DefaultSyntheticConfig returns the default probe parameters.
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Interval:       DefaultInterval,
		BaseRTT:        DefaultBaseRTT,
		RTTPerQuality:  DefaultRTTPerQuality,
		CapacityMbps:   DefaultCapacityMbps,
		HandoverOutage: DefaultHandoverOutage,
	}
}

// Validate checks the probe parameters.
func (c SyntheticConfig) Validate() error {
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
	case c.Interval <= 0:
		return invalid("probe.interval", c.Interval, "must be positive")
	case c.BaseRTT < 0:
		return invalid("probe.base_rtt", c.BaseRTT, "must not be negative")
	case c.RTTPerQuality < 0:
		return invalid("probe.rtt_per_quality", c.RTTPerQuality, "must not be negative")
	case c.CapacityMbps < 0:
		return invalid("probe.capacity_mbps", c.CapacityMbps, "must not be negative")
	case c.HandoverOutage < 0:
		return invalid("probe.handover_outage", c.HandoverOutage, "must not be negative")
	}

	return nil
}

// Synthetic derives ping-like RTT and throughput from link quality. A probe
// fires at every multiple of Interval. Probes are lost while disconnected
// and for HandoverOutage after an association change.
//
// Synthetic is stateless and safe for concurrent use.
type Synthetic struct {
	cfg SyntheticConfig
}

// NewSynthetic returns a synthetic source.
func NewSynthetic(cfg SyntheticConfig) (*Synthetic, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Synthetic{cfg: cfg}, nil
}

func (s *Synthetic) Poll(ctx context.Context, req Request) ([]Measurement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []Measurement
	for at := s.first(req.From); at < req.To; at += s.cfg.Interval {
		if req.Link.AP == "" || at < req.Link.Since+s.cfg.HandoverOutage {
			out = append(out,
				Measurement{At: at, StationID: req.StationID, Metric: metrics.MetricRTT, Lost: true},
				Measurement{At: at, StationID: req.StationID, Metric: metrics.MetricThroughput, Lost: true},
			)
			continue
		}

		q := req.Link.Quality
		rtt := s.cfg.BaseRTT + time.Duration((1-q)*float64(s.cfg.RTTPerQuality))
		out = append(out,
			Measurement{At: at, StationID: req.StationID, Metric: metrics.MetricRTT, Value: durationMs(rtt)},
			Measurement{At: at, StationID: req.StationID, Metric: metrics.MetricThroughput, Value: s.cfg.CapacityMbps * q},
		)
	}

	return out, nil
}

// first returns the earliest probe instant not before from.
func (s *Synthetic) first(from time.Duration) time.Duration {
	if from <= 0 {
		return 0
	}
	n := (from + s.cfg.Interval - 1) / s.cfg.Interval
	return n * s.cfg.Interval
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
