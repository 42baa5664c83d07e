// Package probe supplies RTT and throughput measurements for stations. It
// stands in for the traffic generator that runs against real or emulated
// links.
package probe

import (
	"context"
	"time"
)

// Link describes a station's association during a poll.
type Link struct {
	AP      string
	Quality float64
	// Since is when the current association (or disconnection) began.
	Since time.Duration
}

// Request asks for the measurements a station takes in [From, To).
type Request struct {
	StationID string
	From      time.Duration
	To        time.Duration
	Link      Link
}

// Measurement is one probe result. Lost marks a probe that got no answer.
type Measurement struct {
	At        time.Duration `json:"at"`
	StationID string        `json:"station_id"`
	Metric    string        `json:"metric"`
	Value     float64       `json:"value"`
	Lost      bool          `json:"lost"`
}

// Source produces measurements. Implementations must be safe for
// concurrent use by multiple station tasks.
type Source interface {
	Poll(ctx context.Context, req Request) ([]Measurement, error)
}

// Nop is a Source that never measures anything.
type Nop struct{}

func (Nop) Poll(context.Context, Request) ([]Measurement, error) {
	return nil, nil
}
