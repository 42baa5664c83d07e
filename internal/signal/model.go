package signal

import (
	"math"
	"sort"
	"time"

	"codeberg.org/mutker/roamctl/internal/mobility"
)

const (
	// QualityMin and QualityMax bound every built-in model.
	QualityMin = 0.0
	QualityMax = 1.0

	DefaultFloorDBm   = -90.0
	DefaultCeilingDBm = -30.0
	DefaultPeak       = 0.95
	minDistance       = 0.01
)

// AccessPoint is fixed for the lifetime of a scenario. Zero RF fields fall
// back to model defaults.
type AccessPoint struct {
	ID       string
	Position mobility.Position

	// TxPowerDBm and PathLossExponent/ReferenceLossDB feed the log-distance
	// model.
	TxPowerDBm       float64
	PathLossExponent float64
	ReferenceLossDB  float64

	// CoverageRadius is the distance at which the linear model reaches zero.
	CoverageRadius float64
}

// Sample is a single quality estimate for one station/AP pair at one tick.
type Sample struct {
	At        time.Duration
	StationID string
	APID      string
	Quality   float64
}

// Model maps station/AP geometry to a bounded quality. Implementations must
// be pure and monotonically non-increasing in distance.
type Model interface {
	Quality(pos mobility.Position, ap AccessPoint) float64
	Bounds() (lo, hi float64)
}

// Evaluate asks the model for the quality of every AP at pos. The result is
// sorted by AP id.
func Evaluate(m Model, stationID string, at time.Duration, pos mobility.Position, aps []AccessPoint) []Sample {
	out := make([]Sample, 0, len(aps))
	for _, ap := range aps {
		out = append(out, Sample{
			At:        at,
			StationID: stationID,
			APID:      ap.ID,
			Quality:   m.Quality(pos, ap),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].APID < out[j].APID })

	return out
}

// LogDistance converts a log-distance path-loss RSSI into a quality by
// linear normalisation between FloorDBm (quality 0) and CeilingDBm
// (quality 1).
type LogDistance struct {
	FloorDBm   float64
	CeilingDBm float64
}

// NewLogDistance returns a model with the default -90..-30 dBm range.
func NewLogDistance() *LogDistance {
	return &LogDistance{FloorDBm: DefaultFloorDBm, CeilingDBm: DefaultCeilingDBm}
}

// RSSI returns the received power in dBm at pos. Distances under a
// centimetre are treated as zero path loss.
func (m *LogDistance) RSSI(pos mobility.Position, ap AccessPoint) float64 {
	exponent := ap.PathLossExponent
	if exponent <= 0 {
		exponent = 3.0
	}
	refLoss := ap.ReferenceLossDB
	if refLoss <= 0 {
		refLoss = 40.0
	}
	tx := ap.TxPowerDBm
	if tx == 0 {
		tx = 20.0
	}

	d := pos.DistanceTo(ap.Position)
	pathLoss := 0.0
	if d >= minDistance {
		pathLoss = math.Max(0, refLoss+10*exponent*math.Log10(d))
	}

	return tx - pathLoss
}

func (m *LogDistance) Quality(pos mobility.Position, ap AccessPoint) float64 {
	span := m.CeilingDBm - m.FloorDBm
	if span <= 0 {
		return QualityMin
	}

	return clamp((m.RSSI(pos, ap)-m.FloorDBm)/span, QualityMin, QualityMax)
}

func (m *LogDistance) Bounds() (float64, float64) {
	return QualityMin, QualityMax
}

// LinearDecay drops quality linearly from Peak at the AP to zero at the
// AP's coverage radius.
type LinearDecay struct {
	Peak float64
}

// NewLinearDecay returns a model peaking at 0.95.
func NewLinearDecay() *LinearDecay {
	return &LinearDecay{Peak: DefaultPeak}
}

func (m *LinearDecay) Quality(pos mobility.Position, ap AccessPoint) float64 {
	if ap.CoverageRadius <= 0 {
		return QualityMin
	}
	d := pos.DistanceTo(ap.Position)

	return clamp(m.Peak*(1-d/ap.CoverageRadius), QualityMin, QualityMax)
}

func (m *LinearDecay) Bounds() (float64, float64) {
	return QualityMin, QualityMax
}

func clamp(value, minValue, maxValue float64) float64 {
	if value < minValue {
		return minValue
	}

	if value > maxValue {
		return maxValue
	}

	return value
}
