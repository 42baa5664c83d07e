package handover

import (
	"math"
	"time"

	"codeberg.org/mutker/roamctl/internal/errors"
)

// Config holds the decision parameters. HysteresisMargin and MinDwell have
// no defaults; callers must set them explicitly.
type Config struct {
	// ConnectThreshold is the quality an AP must exceed for a
	// disconnected station to associate.
	ConnectThreshold float64
	// DisconnectThreshold is the quality below which the serving AP is
	// considered lost.
	DisconnectThreshold float64
	// HysteresisMargin is the advantage a candidate must hold over the
	// serving AP before a handover is considered. It does not apply once
	// the serving AP is lost.
	HysteresisMargin float64
	// MinDwell is both how long the advantage must be sustained and how
	// long a station stays on an AP before it may hand over again. On link
	// loss only the latter applies.
	MinDwell time.Duration
}

// Validate checks the configuration against the quality bounds of the
// signal model in use.
func (c Config) Validate(lo, hi float64) error {
	type invalid struct {
		Field  string
		Value  any
		Reason string
	}
	errFactory := errors.New()

	thresholds := []struct {
		name  string
		value float64
	}{
		{"connect_threshold", c.ConnectThreshold},
		{"disconnect_threshold", c.DisconnectThreshold},
	}
	for _, th := range thresholds {
		if math.IsNaN(th.value) || th.value < lo || th.value > hi {
			return errFactory.WithData(errors.ErrInvalidConfig, invalid{
				Field:  th.name,
				Value:  th.value,
				Reason: "outside model quality bounds",
			})
		}
	}

	if c.DisconnectThreshold >= c.ConnectThreshold {
		return errFactory.WithData(errors.ErrInvalidConfig, invalid{
			Field:  "disconnect_threshold",
			Value:  c.DisconnectThreshold,
			Reason: "must be below connect_threshold",
		})
	}

	if math.IsNaN(c.HysteresisMargin) || c.HysteresisMargin < 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, invalid{
			Field:  "hysteresis_margin",
			Value:  c.HysteresisMargin,
			Reason: "must be non-negative",
		})
	}

	if c.MinDwell < 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, invalid{
			Field:  "min_dwell",
			Value:  c.MinDwell,
			Reason: "must be non-negative",
		})
	}

	return nil
}
