package metrics

import (
	"time"

	"codeberg.org/mutker/roamctl/internal/handover"
)

// Well-known metric names. External measurement sources may use others.
const (
	MetricRTT        = "rtt_ms"
	MetricThroughput = "throughput_mbps"
	MetricQuality    = "quality"
)

// Recorder is what a station task writes measurements into.
type Recorder interface {
	Record(at time.Duration, metric string, value float64) error
	RecordLoss(at time.Duration, metric string) error
	RecordEvent(ev handover.Event) error
}

// Entry is one timestamped measurement. AP is the station's association at
// the time it was recorded; Lost marks a probe that got no answer.
type Entry struct {
	At        time.Duration `json:"at"`
	StationID string        `json:"station_id"`
	Metric    string        `json:"metric"`
	Value     float64       `json:"value"`
	AP        string        `json:"ap"`
	Lost      bool          `json:"lost"`
}

// OK reports whether the entry is a successful measurement.
func (e Entry) OK() bool {
	return !e.Lost
}
