package handover

import (
	"math"
	"time"

	"codeberg.org/mutker/roamctl/internal/errors"
	"codeberg.org/mutker/roamctl/internal/mobility"
	"codeberg.org/mutker/roamctl/internal/signal"
)

// Machine decides association changes for one station. It is not safe for
// concurrent use; each station gets its own Machine.
type Machine struct {
	station *Station
	cfg     Config
	lo, hi  float64

	state          State
	everAssociated bool
	lastChange     time.Duration
	lastStep       time.Duration
	stepped        bool

	pendingAP    string
	pendingSince time.Duration

	// undo holds the state before the transition of the latest Step.
	undo *snapshot
}

type snapshot struct {
	state          State
	association    string
	everAssociated bool
	lastChange     time.Duration
	pendingAP      string
	pendingSince   time.Duration
}

// NewMachine validates cfg against the quality bounds [lo, hi] of the
// signal model and returns a machine for a disconnected station.
func NewMachine(st *Station, cfg Config, lo, hi float64) (*Machine, error) {
	if st == nil || st.ID == "" {
		return nil, errors.New().WithData(errors.ErrInvalidArgument, "station id is required")
	}
	if err := cfg.Validate(lo, hi); err != nil {
		return nil, err
	}

	return &Machine{
		station: st,
		cfg:     cfg,
		lo:      lo,
		hi:      hi,
		state:   State{Kind: Disconnected},
	}, nil
}

// State returns the current state. HandingOver is never observed here.
func (m *Machine) State() State {
	return m.state
}

// Station returns the station driven by this machine.
func (m *Machine) Station() *Station {
	return m.station
}

// Step feeds one tick of quality samples and returns the resulting event,
// or nil if the association did not change. An out-of-bounds quality is a
// model defect and aborts with ErrModelOutOfBounds.
func (m *Machine) Step(at time.Duration, pos mobility.Position, samples []signal.Sample) (*Event, error) {
	errFactory := errors.New()
	m.undo = nil

	if m.stepped && at < m.lastStep {
		return nil, errFactory.WithData(errors.ErrInvalidArgument, struct {
			StationID string
			At        time.Duration
			LastStep  time.Duration
		}{
			StationID: m.station.ID,
			At:        at,
			LastStep:  m.lastStep,
		})
	}

	quality := make(map[string]float64, len(samples))
	for _, s := range samples {
		if math.IsNaN(s.Quality) || s.Quality < m.lo || s.Quality > m.hi {
			return nil, errFactory.WithData(errors.ErrModelOutOfBounds, struct {
				StationID string
				APID      string
				At        time.Duration
				Quality   float64
				Min, Max  float64
			}{
				StationID: m.station.ID,
				APID:      s.APID,
				At:        at,
				Quality:   s.Quality,
				Min:       m.lo,
				Max:       m.hi,
			})
		}
		quality[s.APID] = s.Quality
	}

	m.lastStep = at
	m.stepped = true
	m.station.Position = pos

	if m.state.Kind == Disconnected {
		return m.stepDisconnected(at, pos, samples, quality), nil
	}

	return m.stepAssociated(at, pos, samples, quality), nil
}

func (m *Machine) stepDisconnected(at time.Duration, pos mobility.Position, samples []signal.Sample, quality map[string]float64) *Event {
	best, q, ok := bestCandidate(samples, "")
	if !ok || q <= m.cfg.ConnectThreshold {
		return nil
	}

	reason := ReasonInitial
	if m.everAssociated {
		reason = ReasonReconnect
	}

	return m.transition(Event{
		At:        at,
		StationID: m.station.ID,
		ToAP:      best,
		Reason:    reason,
		Position:  pos,
		ToQuality: quality[best],
	})
}

// stepAssociated handles a serving link. When the serving quality is below
// the disconnect threshold the link is lost: the station moves to the best
// AP above the connect threshold without the hysteresis margin or the
// sustained-advantage wait. Only the dwell since the last change applies.
// If no AP qualifies, the station disconnects. Otherwise a candidate must beat
// the serving AP by more than the margin for MinDwell.
func (m *Machine) stepAssociated(at time.Duration, pos mobility.Position, samples []signal.Sample, quality map[string]float64) *Event {
	current := m.state.AP
	qa, seen := quality[current]
	if !seen {
		qa = m.lo
	}
	dwelled := at-m.lastChange >= m.cfg.MinDwell

	candidate, qb, ok := bestCandidate(samples, current)

	if qa < m.cfg.DisconnectThreshold {
		// Link loss: margin and sustained advantage do not apply.
		if ok && qb > m.cfg.ConnectThreshold {
			if !dwelled {
				return nil
			}
			return m.transition(Event{
				At:          at,
				StationID:   m.station.ID,
				FromAP:      current,
				ToAP:        candidate,
				Reason:      ReasonLinkLoss,
				Position:    pos,
				FromQuality: qa,
				ToQuality:   qb,
			})
		}

		return m.transition(Event{
			At:          at,
			StationID:   m.station.ID,
			FromAP:      current,
			Reason:      ReasonSignalLost,
			Position:    pos,
			FromQuality: qa,
		})
	}

	if !ok || qb-qa <= m.cfg.HysteresisMargin {
		m.clearPending()
		return nil
	}

	if m.pendingAP != candidate {
		m.pendingAP = candidate
		m.pendingSince = at
	}
	if at-m.pendingSince < m.cfg.MinDwell || !dwelled {
		return nil
	}

	return m.transition(Event{
		At:          at,
		StationID:   m.station.ID,
		FromAP:      current,
		ToAP:        candidate,
		Reason:      ReasonBetterCandidate,
		Position:    pos,
		FromQuality: qa,
		ToQuality:   qb,
	})
}

// transition passes through HandingOver and settles in the target state in
// the same call, recording the event on the station as it does so.
func (m *Machine) transition(ev Event) *Event {
	m.undo = &snapshot{
		state:          m.state,
		association:    m.station.Association(),
		everAssociated: m.everAssociated,
		lastChange:     m.lastChange,
		pendingAP:      m.pendingAP,
		pendingSince:   m.pendingSince,
	}

	ev.FromAP = m.station.Association()
	m.state = State{Kind: HandingOver, From: ev.FromAP, To: ev.ToAP}

	m.station.record(ev)
	m.lastChange = ev.At
	m.clearPending()

	if ev.ToAP == "" {
		m.state = State{Kind: Disconnected}
	} else {
		m.state = State{Kind: Associated, AP: ev.ToAP}
		m.everAssociated = true
	}

	return &ev
}

// Rollback undoes the association change returned by the latest Step, so a
// change the network refused leaves no trace in the station history. It
// fails with ErrInvalidArgument when that Step changed nothing.
func (m *Machine) Rollback() error {
	u := m.undo
	if u == nil {
		return errors.New().WithData(errors.ErrInvalidArgument, struct {
			StationID string
			Reason    string
		}{
			StationID: m.station.ID,
			Reason:    "no association change to roll back",
		})
	}
	m.undo = nil

	m.station.unrecord(u.association)
	m.state = u.state
	m.everAssociated = u.everAssociated
	m.lastChange = u.lastChange
	m.pendingAP = u.pendingAP
	m.pendingSince = u.pendingSince

	return nil
}

func (m *Machine) clearPending() {
	m.pendingAP = ""
	m.pendingSince = 0
}

// bestCandidate returns the AP with the strictly highest quality, breaking
// ties on the lowest id, skipping exclude.
func bestCandidate(samples []signal.Sample, exclude string) (string, float64, bool) {
	var (
		bestID string
		bestQ  float64
		found  bool
	)
	for _, s := range samples {
		if s.APID == exclude {
			continue
		}
		if !found || s.Quality > bestQ || (s.Quality == bestQ && s.APID < bestID) {
			bestID, bestQ, found = s.APID, s.Quality, true
		}
	}

	return bestID, bestQ, found
}
