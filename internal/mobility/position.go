package mobility

import (
	"math"

	"codeberg.org/mutker/roamctl/internal/errors"
)

// Position is a point in scenario space. Units are whatever the scenario
// uses for access point placement; one-dimensional scenarios leave Y and Z
// at zero.
type Position struct {
	X, Y, Z float64
}

// DistanceTo returns the straight-line distance between two points.
func (p Position) DistanceTo(other Position) float64 {
	dx := p.X - other.X
	dy := p.Y - other.Y
	dz := p.Z - other.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Lerp returns the point a fraction f of the way from p to other.
func (p Position) Lerp(other Position, f float64) Position {
	return Position{
		X: p.X + (other.X-p.X)*f,
		Y: p.Y + (other.Y-p.Y)*f,
		Z: p.Z + (other.Z-p.Z)*f,
	}
}

// FromSlice builds a Position from one to three coordinates.
func FromSlice(coords []float64) (Position, error) {
	var p Position
	if len(coords) == 0 || len(coords) > 3 {
		return p, errors.New().WithData(errors.ErrInvalidArgument, struct {
			Coordinates []float64
			Reason      string
		}{
			Coordinates: coords,
			Reason:      "position needs one to three coordinates",
		})
	}
	if len(coords) > 0 {
		p.X = coords[0]
	}
	if len(coords) > 1 {
		p.Y = coords[1]
	}
	if len(coords) > 2 {
		p.Z = coords[2]
	}
	return p, nil
}
