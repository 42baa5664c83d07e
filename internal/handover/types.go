package handover

import (
	"fmt"
	"time"

	"codeberg.org/mutker/roamctl/internal/mobility"
)

// Reason explains why an association changed.
type Reason string

const (
	ReasonInitial         Reason = "initial-association"
	ReasonReconnect       Reason = "reconnect"
	ReasonBetterCandidate Reason = "better-candidate"
	ReasonLinkLoss        Reason = "link-loss"
	ReasonSignalLost      Reason = "signal-lost"
)

// Event records a single association change. An empty FromAP means the
// station was disconnected; an empty ToAP means it became disconnected.
type Event struct {
	At          time.Duration     `json:"at"`
	StationID   string            `json:"station_id"`
	FromAP      string            `json:"from_ap"`
	ToAP        string            `json:"to_ap"`
	Reason      Reason            `json:"reason"`
	Position    mobility.Position `json:"position"`
	FromQuality float64           `json:"from_quality"`
	ToQuality   float64           `json:"to_quality"`
}

// IsHandover reports whether the event moved the station between two APs.
func (e Event) IsHandover() bool {
	return e.FromAP != "" && e.ToAP != ""
}

// Kind enumerates the state machine states.
type Kind int

const (
	Disconnected Kind = iota
	Associated
	// HandingOver is transient: it is entered and left within one Step.
	HandingOver
)

// State is the machine's current state. AP is set for Associated, From and
// To for HandingOver.
type State struct {
	Kind Kind
	AP   string
	From string
	To   string
}

func (s State) String() string {
	switch s.Kind {
	case Associated:
		return fmt.Sprintf("Associated(%s)", s.AP)
	case HandingOver:
		return fmt.Sprintf("HandingOver(%s, %s)", s.From, s.To)
	default:
		return "Disconnected"
	}
}

// Station is a mobile client. Its association is only changed by the
// Machine that owns it.
type Station struct {
	ID       string
	Position mobility.Position

	association string
	history     []Event
}

// NewStation returns a disconnected station with an empty history.
func NewStation(id string) *Station {
	return &Station{ID: id}
}

// Association returns the serving AP id, or "" when disconnected.
func (s *Station) Association() string {
	return s.association
}

// History returns a copy of the recorded association changes in order.
func (s *Station) History() []Event {
	out := make([]Event, len(s.history))
	copy(out, s.history)
	return out
}

// record appends the event and applies its target association together.
func (s *Station) record(ev Event) {
	s.history = append(s.history, ev)
	s.association = ev.ToAP
}

// unrecord drops the latest event and restores the association before it.
func (s *Station) unrecord(association string) {
	if len(s.history) > 0 {
		s.history = s.history[:len(s.history)-1]
	}
	s.association = association
}
