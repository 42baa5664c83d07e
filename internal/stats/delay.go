package stats

import "math"

// Delay summarizes RTT-like samples. All fields are zero when Count is 0.
type Delay struct {
	Count     int     `json:"count"`
	Avg       float64 `json:"avg"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	Variation float64 `json:"variation"` // population standard deviation
}

// DelayStats computes average, min, max and variation of values.
func DelayStats(values []float64) Delay {
	if len(values) == 0 {
		return Delay{}
	}

	d := Delay{Count: len(values), Min: values[0], Max: values[0]}
	var sum float64
	for _, v := range values {
		sum += v
		if v < d.Min {
			d.Min = v
		}
		if v > d.Max {
			d.Max = v
		}
	}
	d.Avg = sum / float64(len(values))

	var sq float64
	for _, v := range values {
		diff := v - d.Avg
		sq += diff * diff
	}
	d.Variation = math.Sqrt(sq / float64(len(values)))

	return d
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
