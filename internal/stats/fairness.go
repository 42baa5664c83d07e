package stats

// JainFairness returns Jain's fairness index (Σx)² / (n·Σx²) of xs.
// It is 1 for identical nonzero values and 1/n when one value is nonzero.
// An empty set or all-zero values yield 0.
func JainFairness(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}

	var sum, sumSq float64
	for _, x := range xs {
		sum += x
		sumSq += x * x
	}
	if sumSq == 0 {
		return 0
	}

	return (sum * sum) / (float64(len(xs)) * sumSq)
}

// Efficiency returns the ratio of aggregate concurrent throughput to the sum
// of baseline throughputs, or 0 when no baseline is known.
func Efficiency(concurrent, baseline []float64) float64 {
	var c, b float64
	for _, v := range concurrent {
		c += v
	}
	for _, v := range baseline {
		b += v
	}
	if b == 0 {
		return 0
	}
	return c / b
}

// StationDegradation returns (baseline - concurrent) / baseline, or 0 when
// the baseline is not positive.
func StationDegradation(concurrent, baseline float64) float64 {
	if baseline <= 0 {
		return 0
	}
	return (baseline - concurrent) / baseline
}
