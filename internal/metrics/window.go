package metrics

import (
	"math"
	"sort"
	"time"

	"codeberg.org/mutker/roamctl/internal/errors"
	"codeberg.org/mutker/roamctl/internal/handover"
)

// Window is the append-only measurement record of one station for one run.
// Timestamps are non-decreasing: an entry older than the last accepted one
// is rejected with ErrOutOfOrderSample and counted, never reordered.
//
// A Window is owned by a single station task and is not safe for concurrent
// use.
type Window struct {
	StationID string
	Start     time.Duration
	End       time.Duration

	entries []Entry
	events  []handover.Event
	serving string
	last    time.Duration
	dropped map[errors.ErrorCode]int
	closed  bool
}

// NewWindow opens a window covering [start, end].
func NewWindow(stationID string, start, end time.Duration) *Window {
	return &Window{
		StationID: stationID,
		Start:     start,
		End:       end,
		last:      start,
		dropped:   make(map[errors.ErrorCode]int),
	}
}

// Record appends a successful measurement tagged with the current
// association.
func (w *Window) Record(at time.Duration, metric string, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return w.drop(errors.ErrInvalidArgument, at, metric, value)
	}
	return w.append(Entry{At: at, StationID: w.StationID, Metric: metric, Value: value, AP: w.serving})
}

// RecordLoss appends a failed measurement.
func (w *Window) RecordLoss(at time.Duration, metric string) error {
	return w.append(Entry{At: at, StationID: w.StationID, Metric: metric, AP: w.serving, Lost: true})
}

// RecordEvent appends an association change and moves subsequent entries
// to the event's target AP.
func (w *Window) RecordEvent(ev handover.Event) error {
	if err := w.admit(ev.At, "handover", 0); err != nil {
		return err
	}
	w.events = append(w.events, ev)
	w.serving = ev.ToAP
	w.last = ev.At

	return nil
}

func (w *Window) append(e Entry) error {
	if err := w.admit(e.At, e.Metric, e.Value); err != nil {
		return err
	}
	w.entries = append(w.entries, e)
	w.last = e.At

	return nil
}

func (w *Window) admit(at time.Duration, metric string, value float64) error {
	if w.closed {
		return errors.New().WithData(errors.ErrWindowClosed, struct {
			StationID string
			At        time.Duration
		}{
			StationID: w.StationID,
			At:        at,
		})
	}
	if at < w.Start || at > w.End {
		return w.drop(errors.ErrSampleOutOfRange, at, metric, value)
	}
	if at < w.last {
		return w.drop(errors.ErrOutOfOrderSample, at, metric, value)
	}

	return nil
}

func (w *Window) drop(code errors.ErrorCode, at time.Duration, metric string, value float64) error {
	w.dropped[code]++

	return errors.New().WithData(code, struct {
		StationID string
		At        time.Duration
		Last      time.Duration
		Metric    string
		Value     float64
	}{
		StationID: w.StationID,
		At:        at,
		Last:      w.last,
		Metric:    metric,
		Value:     value,
	})
}

// Close ends the window. Further records fail with ErrWindowClosed.
func (w *Window) Close() {
	w.closed = true
}

// Closed reports whether Close has been called.
func (w *Window) Closed() bool {
	return w.closed
}

// Serving returns the AP entries are currently tagged with.
func (w *Window) Serving() string {
	return w.serving
}

// Entries returns a copy of the recorded measurements in order.
func (w *Window) Entries() []Entry {
	out := make([]Entry, len(w.entries))
	copy(out, w.entries)
	return out
}

// Events returns a copy of the recorded association changes in order.
func (w *Window) Events() []handover.Event {
	out := make([]handover.Event, len(w.events))
	copy(out, w.events)
	return out
}

// Len returns the number of measurements.
func (w *Window) Len() int {
	return len(w.entries)
}

// Dropped returns the total number of rejected samples.
func (w *Window) Dropped() int {
	n := 0
	for _, c := range w.dropped {
		n += c
	}
	return n
}

// DroppedByCode returns rejected sample counts keyed by error code.
func (w *Window) DroppedByCode() map[errors.ErrorCode]int {
	out := make(map[errors.ErrorCode]int, len(w.dropped))
	for k, v := range w.dropped {
		out[k] = v
	}
	return out
}

// Metrics returns the distinct metric names recorded, sorted.
func (w *Window) Metrics() []string {
	seen := make(map[string]struct{})
	for _, e := range w.entries {
		seen[e.Metric] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
