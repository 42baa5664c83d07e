package stats

import (
	"math"
	"time"

	"codeberg.org/mutker/roamctl/internal/handover"
	"codeberg.org/mutker/roamctl/internal/metrics"
)

// HandoverDelay is the service gap of one handover: from the last successful
// sample under the old AP to the first successful sample under the new one.
type HandoverDelay struct {
	StationID string        `json:"station_id"`
	At        time.Duration `json:"at"`
	From      string        `json:"from"`
	To        string        `json:"to"`
	Reason    string        `json:"reason"`
	Delay     time.Duration `json:"delay"`

	// Boundaries of the transition. Samples strictly between them are in
	// transition and belong to neither AP.
	LastOld  time.Duration `json:"last_old"`
	FirstNew time.Duration `json:"first_new"`
}

// InTransition reports whether t lies strictly inside the transition.
func (d HandoverDelay) InTransition(t time.Duration) bool {
	return t > d.LastOld && t < d.FirstNew
}

// HandoverDelays correlates the AP-to-AP events of one station with its
// successful samples of metric. The old side is searched only back to the
// previous event and the new side only up to the next one, so a sample from
// another stint on the same AP is never used. Events without a successful
// sample on either side are counted as unresolved. Entries and events must
// be in recording order, as a Window returns them.
func HandoverDelays(entries []metrics.Entry, events []handover.Event, metric string) ([]HandoverDelay, int) {
	var (
		out        []HandoverDelay
		unresolved int
	)

	for i, ev := range events {
		if !ev.IsHandover() {
			continue
		}

		since := time.Duration(math.MinInt64)
		if i > 0 {
			since = events[i-1].At
		}
		until := time.Duration(math.MaxInt64)
		if i+1 < len(events) {
			until = events[i+1].At
		}

		prev, okPrev := lastBefore(entries, metric, ev.FromAP, since, ev.At)
		next, okNext := firstAfter(entries, metric, ev.ToAP, ev.At, until)
		if !okPrev || !okNext {
			unresolved++
			continue
		}

		out = append(out, HandoverDelay{
			StationID: ev.StationID,
			At:        ev.At,
			From:      ev.FromAP,
			To:        ev.ToAP,
			Reason:    string(ev.Reason),
			Delay:     next - prev,
			LastOld:   prev,
			FirstNew:  next,
		})
	}

	return out, unresolved
}

// lastBefore returns the latest successful sample of metric served by ap in
// [since, at].
func lastBefore(entries []metrics.Entry, metric, ap string, since, at time.Duration) (time.Duration, bool) {
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.At < since {
			break
		}
		if e.At > at || e.Metric != metric || !e.OK() {
			continue
		}
		if e.AP == ap {
			return e.At, true
		}
	}
	return 0, false
}

// firstAfter returns the earliest successful sample of metric served by ap
// in [at, until].
func firstAfter(entries []metrics.Entry, metric, ap string, at, until time.Duration) (time.Duration, bool) {
	for _, e := range entries {
		if e.At > until {
			break
		}
		if e.At < at || e.Metric != metric || !e.OK() {
			continue
		}
		if e.AP == ap {
			return e.At, true
		}
	}
	return 0, false
}
