// Package observability exposes scenario progress as Prometheus metrics.
package observability

import (
	"net/http"

	"codeberg.org/mutker/roamctl/internal/errors"
	"codeberg.org/mutker/roamctl/internal/handover"
	"codeberg.org/mutker/roamctl/internal/stats"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "roamctl"

// Collector bundles the scenario metrics. A nil *Collector is a valid no-op
// observer.
type Collector struct {
	gatherer prometheus.Gatherer

	Handovers      *prometheus.CounterVec
	SamplesRecord  *prometheus.CounterVec
	SamplesDropped *prometheus.CounterVec
	HandoverDelay  *prometheus.HistogramVec

	FairnessIndex prometheus.Gauge
	Efficiency    prometheus.Gauge
	AvgDelay      prometheus.Gauge
}

// NewCollector registers the metrics against reg, defaulting to the global
// registry when nil. Registering twice against the same registry reuses
// the existing collectors.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	handovers, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "handovers_total",
		Help:      "Association changes, labeled by station and trigger reason.",
	}, []string{"station", "reason"}), "handovers_total")
	if err != nil {
		return nil, err
	}

	recorded, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "samples_recorded_total",
		Help:      "Measurements accepted into a window, labeled by station, metric and outcome.",
	}, []string{"station", "metric", "outcome"}), "samples_recorded_total")
	if err != nil {
		return nil, err
	}

	dropped, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "samples_dropped_total",
		Help:      "Measurements rejected by a window, labeled by station and error code.",
	}, []string{"station", "reason"}), "samples_dropped_total")
	if err != nil {
		return nil, err
	}

	delay, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "handover_delay_seconds",
		Help:      "Service gap between the last sample on the old AP and the first on the new AP.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"station"}), "handover_delay_seconds")
	if err != nil {
		return nil, err
	}

	fairness, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "fairness_index",
		Help:      "Jain's fairness index of per-station throughput of the last run.",
	}), "fairness_index")
	if err != nil {
		return nil, err
	}
	efficiency, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "efficiency",
		Help:      "Concurrent over baseline throughput of the last run.",
	}), "efficiency")
	if err != nil {
		return nil, err
	}
	avgDelay, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "avg_delay_milliseconds",
		Help:      "Average RTT of the last run.",
	}), "avg_delay_milliseconds")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:       gatherer,
		Handovers:      handovers,
		SamplesRecord:  recorded,
		SamplesDropped: dropped,
		HandoverDelay:  delay,
		FairnessIndex:  fairness,
		Efficiency:     efficiency,
		AvgDelay:       avgDelay,
	}, nil
}

// OnHandover counts an association change.
func (c *Collector) OnHandover(ev handover.Event) {
	if c == nil {
		return
	}
	c.Handovers.WithLabelValues(ev.StationID, string(ev.Reason)).Inc()
}

// OnSample counts an accepted measurement.
func (c *Collector) OnSample(stationID, metric string, ok bool) {
	if c == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "lost"
	}
	c.SamplesRecord.WithLabelValues(stationID, metric, outcome).Inc()
}

// OnDropped counts a rejected measurement.
func (c *Collector) OnDropped(stationID string, code errors.ErrorCode) {
	if c == nil {
		return
	}
	c.SamplesDropped.WithLabelValues(stationID, string(code)).Inc()
}

// ObserveReport publishes the aggregate of a finished run.
func (c *Collector) ObserveReport(r stats.Report) {
	if c == nil {
		return
	}
	for _, d := range r.HandoverDelays {
		c.HandoverDelay.WithLabelValues(d.StationID).Observe(d.Delay.Seconds())
	}
	c.FairnessIndex.Set(r.FairnessIndex)
	c.Efficiency.Set(r.Efficiency)
	c.AvgDelay.Set(r.AvgDelay)
}

// Handler exposes a /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, incompatible(name)
		}
		return nil, errors.New().Wrap(errors.ErrInitMetrics, err)
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, incompatible(name)
		}
		return nil, errors.New().Wrap(errors.ErrInitMetrics, err)
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, incompatible(name)
		}
		return nil, errors.New().Wrap(errors.ErrInitMetrics, err)
	}
	return gauge, nil
}

func incompatible(name string) error {
	return errors.New().WithData(errors.ErrInitMetrics, struct {
		Collector string
		Reason    string
	}{
		Collector: name,
		Reason:    "already registered with incompatible type",
	})
}
