package probe

import (
	"context"
	"sort"
	"time"
)

// Replay feeds previously captured measurements, such as the output of an
// external traffic generator. Measurements are returned in the order they
// were captured, including any that are out of order.
type Replay struct {
	byStation map[string][]Measurement
}

// NewReplay indexes measurements by station.
func NewReplay(ms []Measurement) *Replay {
	r := &Replay{byStation: make(map[string][]Measurement)}
	for _, m := range ms {
		r.byStation[m.StationID] = append(r.byStation[m.StationID], m)
	}
	return r
}

// Stations returns the station ids present in the capture, sorted.
func (r *Replay) Stations() []string {
	out := make([]string, 0, len(r.byStation))
	for id := range r.byStation {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Poll returns the captured measurements of the station whose position in
// the capture falls in the polled range. A measurement belongs to the poll
// during which the capture reached it, so a late-arriving older timestamp is
// delivered with its neighbours rather than skipped.
func (r *Replay) Poll(ctx context.Context, req Request) ([]Measurement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		out  []Measurement
		high time.Duration
	)
	for i, m := range r.byStation[req.StationID] {
		if i == 0 || m.At > high {
			high = m.At
		}
		if high >= req.From && high < req.To {
			out = append(out, m)
		}
	}
	return out, nil
}
