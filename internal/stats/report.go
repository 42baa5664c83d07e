package stats

import (
	"fmt"
	"sort"
	"time"

	"codeberg.org/mutker/roamctl/internal/errors"
	"codeberg.org/mutker/roamctl/internal/metrics"
)

// Metrics the aggregator reads.
const (
	DelayMetric      = metrics.MetricRTT
	ThroughputMetric = metrics.MetricThroughput
)

// StationSummary is the per-station part of a Report.
type StationSummary struct {
	StationID   string             `json:"station_id"`
	Samples     int                `json:"samples"`
	Lost        int                `json:"lost"`
	Dropped     int                `json:"dropped"`
	Handovers   int                `json:"handovers"`
	Throughput  float64            `json:"throughput"`
	Baseline    float64            `json:"baseline"`
	Degradation float64            `json:"degradation"`
	PerAP       map[string]float64 `json:"per_ap"`
	AvgDelay    float64            `json:"avg_delay"`
}

// Report is the aggregate of a set of closed windows. It is built once and
// never modified.
type Report struct {
	Stations int `json:"stations"`

	FairnessIndex  float64 `json:"fairness_index"`
	Efficiency     float64 `json:"efficiency"`
	Degradation    float64 `json:"degradation"`
	AvgDegradation float64 `json:"avg_degradation"`

	AvgDelay       float64 `json:"avg_delay"`
	MinDelay       float64 `json:"min_delay"`
	MaxDelay       float64 `json:"max_delay"`
	DelayVariation float64 `json:"delay_variation"`
	DelaySamples   int     `json:"delay_samples"`

	HandoverCount       int             `json:"handover_count"`
	HandoverDelays      []HandoverDelay `json:"handover_delays"`
	MeanHandoverDelay   time.Duration   `json:"mean_handover_delay"`
	UnresolvedHandovers int             `json:"unresolved_handovers"`

	DroppedSamples int              `json:"dropped_samples"`
	PerStation     []StationSummary `json:"per_station"`
	Warnings       []string         `json:"warnings"`
}

// Build aggregates windows. baselines maps station id to the throughput the
// station achieved alone; stations without a baseline are left out of
// efficiency. Build is a pure function of its inputs.
func Build(windows []*metrics.Window, baselines map[string]float64) Report {
	merged := metrics.Merge(windows...)

	r := Report{
		Stations:       len(merged.Windows),
		HandoverDelays: []HandoverDelay{},
		PerStation:     make([]StationSummary, 0, len(merged.Windows)),
		Warnings:       []string{},
		DroppedSamples: merged.Dropped,
	}

	if len(merged.Windows) == 0 {
		r.Warnings = append(r.Warnings, string(errors.ErrEmptyWindow))
		return r
	}

	var (
		delays      []float64
		throughputs []float64
		concurrent  []float64
		baseline    []float64
		degradation []float64
	)

	for _, w := range merged.Windows {
		entries := w.Entries()
		events := w.Events()

		if len(entries) == 0 {
			r.Warnings = append(r.Warnings, fmt.Sprintf("%s: %s", errors.ErrEmptyWindow, w.StationID))
		}

		hd, unresolved := HandoverDelays(entries, events, DelayMetric)
		r.HandoverDelays = append(r.HandoverDelays, hd...)
		r.UnresolvedHandovers += unresolved

		s := summarize(w.StationID, entries, hd)
		s.Dropped = w.Dropped()
		for _, ev := range events {
			if ev.IsHandover() {
				s.Handovers++
			}
		}
		r.HandoverCount += s.Handovers

		throughputs = append(throughputs, s.Throughput)
		if b, ok := baselines[w.StationID]; ok && b > 0 {
			s.Baseline = b
			s.Degradation = StationDegradation(s.Throughput, b)
			concurrent = append(concurrent, s.Throughput)
			baseline = append(baseline, b)
			degradation = append(degradation, s.Degradation)
		}

		r.PerStation = append(r.PerStation, s)
	}

	// Delay statistics follow the merged order so the float sums do not
	// depend on how the windows were passed in.
	for _, e := range merged.Entries {
		if e.Metric == DelayMetric && e.OK() {
			delays = append(delays, e.Value)
		}
	}
	d := DelayStats(delays)
	r.AvgDelay = d.Avg
	r.MinDelay = d.Min
	r.MaxDelay = d.Max
	r.DelayVariation = d.Variation
	r.DelaySamples = d.Count

	r.FairnessIndex = JainFairness(throughputs)

	if len(baseline) > 0 {
		r.Efficiency = Efficiency(concurrent, baseline)
		r.Degradation = 1 - r.Efficiency
		r.AvgDegradation = mean(degradation)
	} else {
		r.Warnings = append(r.Warnings, "no_baseline")
	}

	sort.SliceStable(r.HandoverDelays, func(i, j int) bool {
		return r.HandoverDelays[i].At < r.HandoverDelays[j].At
	})
	if len(r.HandoverDelays) > 0 {
		var total time.Duration
		for _, h := range r.HandoverDelays {
			total += h.Delay
		}
		r.MeanHandoverDelay = total / time.Duration(len(r.HandoverDelays))
	}

	return r
}

func summarize(stationID string, entries []metrics.Entry, transitions []HandoverDelay) StationSummary {
	s := StationSummary{StationID: stationID, PerAP: map[string]float64{}}

	var (
		all   []float64
		rtt   []float64
		perAP = map[string][]float64{}
	)
	for _, e := range entries {
		if !e.OK() {
			s.Lost++
			continue
		}
		s.Samples++

		switch e.Metric {
		case DelayMetric:
			rtt = append(rtt, e.Value)
		case ThroughputMetric:
			if inTransition(transitions, e.At) {
				continue
			}
			all = append(all, e.Value)
			perAP[e.AP] = append(perAP[e.AP], e.Value)
		}
	}

	s.Throughput = mean(all)
	s.AvgDelay = mean(rtt)
	for ap, vs := range perAP {
		s.PerAP[ap] = mean(vs)
	}

	return s
}

func inTransition(transitions []HandoverDelay, at time.Duration) bool {
	for _, t := range transitions {
		if t.InTransition(at) {
			return true
		}
	}
	return false
}
