package metrics

import (
	"sort"
	"sync"
	"time"

	"codeberg.org/mutker/roamctl/internal/errors"
	"codeberg.org/mutker/roamctl/internal/handover"
)

// Collector owns one Window per station. Windows are opened under a lock
// before station tasks start; after that each task appends only to its own
// window and the collector is not involved.
type Collector struct {
	mu      sync.Mutex
	start   time.Duration
	end     time.Duration
	windows map[string]*Window
}

// NewCollector returns a collector whose windows cover [start, end].
func NewCollector(start, end time.Duration) *Collector {
	return &Collector{
		start:   start,
		end:     end,
		windows: make(map[string]*Window),
	}
}

// Open creates the window for a station. Opening the same station twice is
// an error.
func (c *Collector) Open(stationID string) (*Window, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if stationID == "" {
		return nil, errors.New().WithMessage(errors.ErrInvalidArgument, "station id must not be empty")
	}
	if _, ok := c.windows[stationID]; ok {
		return nil, errors.New().WithData(errors.ErrInvalidArgument, struct {
			StationID string
			Reason    string
		}{
			StationID: stationID,
			Reason:    "window already open",
		})
	}

	w := NewWindow(stationID, c.start, c.end)
	c.windows[stationID] = w

	return w, nil
}

// Window returns the window of a station.
func (c *Collector) Window(stationID string) (*Window, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.windows[stationID]
	if !ok {
		return nil, errors.New().WithData(errors.ErrUnknownStation, stationID)
	}
	return w, nil
}

// Windows returns every window ordered by station id.
func (c *Collector) Windows() []*Window {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*Window, 0, len(c.windows))
	for _, w := range c.windows {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StationID < out[j].StationID })

	return out
}

// Close closes every window. Call only after all station tasks returned.
func (c *Collector) Close() {
	for _, w := range c.Windows() {
		w.Close()
	}
}

// Dropped returns the total number of rejected samples across windows.
func (c *Collector) Dropped() int {
	n := 0
	for _, w := range c.Windows() {
		n += w.Dropped()
	}
	return n
}

// Merge combines the collector's windows. See Merge.
func (c *Collector) Merge() Merged {
	return Merge(c.Windows()...)
}

// Merged is the combined, read-only view of several windows.
type Merged struct {
	Windows []*Window
	Entries []Entry
	Events  []handover.Event
	Dropped int
}

// Merge combines windows into one view ordered by time, ties broken by
// station id and then by recording order. The result does not depend on
// the argument order.
func Merge(windows ...*Window) Merged {
	ws := make([]*Window, len(windows))
	copy(ws, windows)
	sort.SliceStable(ws, func(i, j int) bool { return ws[i].StationID < ws[j].StationID })

	var m Merged
	m.Windows = ws
	for _, w := range ws {
		m.Entries = append(m.Entries, w.entries...)
		m.Events = append(m.Events, w.events...)
		m.Dropped += w.Dropped()
	}

	// Each window is already non-decreasing in time and windows were laid
	// out in station order, so a stable sort by time is enough.
	sort.SliceStable(m.Entries, func(i, j int) bool { return m.Entries[i].At < m.Entries[j].At })
	sort.SliceStable(m.Events, func(i, j int) bool { return m.Events[i].At < m.Events[j].At })

	return m
}
