package scenario

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/roamctl/internal/errors"
	"codeberg.org/mutker/roamctl/internal/handover"
	"codeberg.org/mutker/roamctl/internal/logger"
	"codeberg.org/mutker/roamctl/internal/metrics"
	"codeberg.org/mutker/roamctl/internal/probe"
	"codeberg.org/mutker/roamctl/internal/signal"
	"codeberg.org/mutker/roamctl/internal/stats"
)

// Result is the outcome of a run. On cancellation or failure it holds
// whatever was recorded up to that point; every window is closed.
type Result struct {
	Name      string
	Duration  time.Duration
	Tick      time.Duration
	Cancelled bool
	Stations  []*handover.Station
	Windows   []*metrics.Window
	Report    stats.Report
}

// History returns the association changes of a station.
func (r *Result) History(stationID string) []handover.Event {
	for _, st := range r.Stations {
		if st.ID == stationID {
			return st.History()
		}
	}
	return nil
}

// Option configures a Runner.
type Option func(*Runner)

func WithLogger(log logger.Logger) Option {
	return func(r *Runner) { r.log = log }
}

// WithSource sets the measurement source. Without one no RTT or throughput
// is measured.
func WithSource(src probe.Source) Option {
	return func(r *Runner) { r.source = src }
}

func WithAssociator(a Associator) Option {
	return func(r *Runner) { r.associator = a }
}

func WithObserver(o Observer) Option {
	return func(r *Runner) { r.observer = o }
}

// Runner executes a Spec.
type Runner struct {
	spec       Spec
	log        logger.Logger
	source     probe.Source
	associator Associator
	observer   Observer
}

// NewRunner validates spec and returns a runner for it.
func NewRunner(spec Spec, opts ...Option) (*Runner, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	r := &Runner{
		spec:   spec,
		log:    logger.Nop(),
		source: probe.Nop{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.associator == nil {
		r.associator = LogAssociator{Logger: r.log}
	}
	if r.observer == nil {
		r.observer = nopObserver{}
	}

	return r, nil
}

// Run advances every station from 0 to the scenario duration in parallel.
// The first failing station cancels the others; run errors are reported in
// station order. When ctx is cancelled the partial result is returned with
// an ErrRunCancelled error.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	stations := r.spec.sortedStations()
	collector := metrics.NewCollector(0, r.spec.Duration)

	tasks := make([]*task, len(stations))
	for i, st := range stations {
		w, err := collector.Open(st.ID)
		if err != nil {
			return nil, err
		}
		station := handover.NewStation(st.ID)
		lo, hi := r.spec.Model.Bounds()
		m, err := handover.NewMachine(station, r.spec.Handover, lo, hi)
		if err != nil {
			return nil, err
		}
		tasks[i] = &task{
			runner:  r,
			spec:    st,
			machine: m,
			window:  w,
			log:     r.log.With("station", st.ID),
		}
	}

	r.log.Info().
		Str("scenario", r.spec.Name).
		Int("stations", len(stations)).
		Int("access_points", len(r.spec.AccessPoints)).
		Dur("duration", r.spec.Duration).
		Dur("tick", r.spec.Tick).
		Msg("Scenario started")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make([]error, len(tasks))
	var wg sync.WaitGroup
	for i, t := range tasks {
		wg.Add(1)
		go func(i int, t *task) {
			defer wg.Done()
			if err := t.run(runCtx); err != nil {
				errs[i] = err
				cancel()
			}
		}(i, t)
	}
	wg.Wait()
	collector.Close()

	res := &Result{
		Name:     r.spec.Name,
		Duration: r.spec.Duration,
		Tick:     r.spec.Tick,
		Windows:  collector.Windows(),
		Report:   stats.Build(collector.Windows(), r.spec.Baselines()),
	}
	for _, t := range tasks {
		res.Stations = append(res.Stations, t.machine.Station())
	}

	for _, err := range errs {
		if err != nil && !isContextErr(err) {
			r.log.Error().Err(err).Msg("Scenario failed")
			return res, err
		}
	}

	if err := ctx.Err(); err != nil {
		res.Cancelled = true
		r.log.Warn().Err(err).Msg("Scenario cancelled")
		return res, errors.New().Wrap(errors.ErrRunCancelled, err)
	}

	r.log.Info().
		Str("scenario", r.spec.Name).
		Int("handovers", res.Report.HandoverCount).
		Int("dropped", res.Report.DroppedSamples).
		Msg("Scenario finished")

	return res, nil
}

// task is the pipeline of a single station. It owns its machine and window.
type task struct {
	runner   *Runner
	spec     StationSpec
	machine  *handover.Machine
	window   *metrics.Window
	log      logger.Logger
	linkFrom time.Duration
}

func (t *task) run(ctx context.Context) error {
	r := t.runner

	for at, pos := range t.spec.Timeline.Ticks(r.spec.Duration, r.spec.Tick) {
		if err := ctx.Err(); err != nil {
			return err
		}

		samples := signal.Evaluate(r.spec.Model, t.spec.ID, at, pos, r.spec.AccessPoints)
		ev, err := t.machine.Step(at, pos, samples)
		if err != nil {
			var e errors.Error
			if errors.As(err, &e) {
				t.log.ErrorWithCode(e).Dur("at", at).Msg("Handover decision failed")
			}
			return err
		}

		if ev != nil {
			if err := t.apply(ctx, *ev); err != nil {
				return err
			}
		}

		serving := t.machine.State().AP
		quality := qualityOf(samples, serving)
		if serving != "" {
			if err := t.record(probe.Measurement{At: at, StationID: t.spec.ID, Metric: metrics.MetricQuality, Value: quality}); err != nil {
				return err
			}
		}

		until := min(at+r.spec.Tick, r.spec.Duration)
		ms, err := r.source.Poll(ctx, probe.Request{
			StationID: t.spec.ID,
			From:      at,
			To:        until,
			Link:      probe.Link{AP: serving, Quality: quality, Since: t.linkFrom},
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.log.Warn().Err(err).Dur("at", at).Msg("Measurement source failed")
			continue
		}
		for _, m := range ms {
			if err := t.record(m); err != nil {
				return err
			}
		}
	}

	return nil
}

// apply requests an association change and records it. A refused request
// is rolled back on the machine so station and window stay in step.
func (t *task) apply(ctx context.Context, ev handover.Event) error {
	r := t.runner

	if err := r.associator.Associate(ctx, ev.StationID, ev.ToAP); err != nil {
		if rbErr := t.machine.Rollback(); rbErr != nil {
			t.log.Error().Err(rbErr).Dur("at", ev.At).Msg("Association rollback failed")
		}
		return errors.New().Wrap(errors.ErrAssociationFailed, err).WithData(struct {
			StationID string
			At        time.Duration
			FromAP    string
			ToAP      string
			Error     string
		}{
			StationID: ev.StationID,
			At:        ev.At,
			FromAP:    ev.FromAP,
			ToAP:      ev.ToAP,
			Error:     err.Error(),
		})
	}
	if err := t.window.RecordEvent(ev); err != nil {
		return err
	}
	t.linkFrom = ev.At

	t.log.Info().
		Str("from", ev.FromAP).
		Str("to", ev.ToAP).
		Str("reason", string(ev.Reason)).
		Dur("at", ev.At).
		Float64("x", ev.Position.X).
		Float64("y", ev.Position.Y).
		Float64("from_quality", ev.FromQuality).
		Float64("to_quality", ev.ToQuality).
		Msg("Association changed")
	r.observer.OnHandover(ev)

	return nil
}

// record writes a measurement into the window. Rejected samples are counted
// and logged; only a closed window is an error.
func (t *task) record(m probe.Measurement) error {
	var err error
	if m.Lost {
		err = t.window.RecordLoss(m.At, m.Metric)
	} else {
		err = t.window.Record(m.At, m.Metric, m.Value)
	}

	switch {
	case err == nil:
		t.runner.observer.OnSample(t.spec.ID, m.Metric, !m.Lost)
		return nil
	case errors.HasCode(err, errors.ErrWindowClosed):
		return err
	default:
		code := errors.CodeOf(err)
		t.log.Warn().
			Str("error_code", string(code)).
			Dur("at", m.At).
			Str("metric", m.Metric).
			Float64("value", m.Value).
			Msg("Sample dropped")
		t.runner.observer.OnDropped(t.spec.ID, code)
		return nil
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func qualityOf(samples []signal.Sample, apID string) float64 {
	for _, s := range samples {
		if s.APID == apID {
			return s.Quality
		}
	}
	return 0
}
