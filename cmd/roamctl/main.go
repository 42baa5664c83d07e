package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/roamctl/internal/config"
	"codeberg.org/mutker/roamctl/internal/errors"
	"codeberg.org/mutker/roamctl/internal/logger"
	"codeberg.org/mutker/roamctl/internal/observability"
	"codeberg.org/mutker/roamctl/internal/probe"
	"codeberg.org/mutker/roamctl/internal/scenario"
	"codeberg.org/mutker/roamctl/internal/stats"
	"codeberg.org/mutker/roamctl/internal/store"
)

const metricsShutdownTimeout = 5 * time.Second

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load(os.Args[1:])
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Printf("failed to parse log level: %v\n", err)
		os.Exit(1)
	}
	logger.Init(level, cfg.Service || logger.IsService())
	logger.Debug().Str("config_file", cfg.ConfigFile).Msg("Config loaded")
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	if err := run(ctx); err != nil {
		var e errors.Error
		if errors.As(err, &e) {
			logger.ErrorWithCode(e).Msg("Scenario run failed")
		} else {
			logger.Error().Err(err).Msg("Scenario run failed")
		}
		os.Exit(1)
	}
	logger.Info().Msg("Exiting...")
}

func run(ctx context.Context) error {
	log := logger.Default()

	spec, err := cfg.Scenario()
	if err != nil {
		return err
	}

	collector, err := observability.NewCollector(nil)
	if err != nil {
		return err
	}
	if cfg.Metrics.Listen != "" {
		srv := serveMetrics(cfg.Metrics.Listen, collector)
		defer shutdownMetrics(srv)
	}

	var source probe.Source = probe.Nop{}
	if cfg.Probe.Enabled {
		source, err = probe.NewSynthetic(cfg.Probe.Synthetic())
		if err != nil {
			return err
		}
	}

	runner, err := scenario.NewRunner(spec,
		scenario.WithLogger(log),
		scenario.WithSource(source),
		scenario.WithObserver(collector),
	)
	if err != nil {
		return err
	}

	res, runErr := runner.Run(ctx)
	if res == nil {
		return runErr
	}

	collector.ObserveReport(res.Report)
	logReport(res.Report)

	if cfg.Store.Enabled {
		if err := saveRun(res); err != nil {
			return err
		}
	}

	// A cancelled run still produced a valid partial report.
	if runErr != nil && !errors.HasCode(runErr, errors.ErrRunCancelled) {
		return runErr
	}
	return nil
}

func saveRun(res *scenario.Result) error {
	log := logger.Default()

	s, err := store.Open(cfg.StoreConfig(), log)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close run store")
		}
	}()

	// The run context may already be cancelled; saving is not part of it.
	id, err := s.SaveRun(context.Background(), store.Run{
		Name:      res.Name,
		Duration:  res.Duration,
		Tick:      res.Tick,
		Cancelled: res.Cancelled,
		Windows:   res.Windows,
		Report:    res.Report,
	})
	if err != nil {
		return err
	}

	logger.Info().Int64("run_id", id).Str("path", cfg.Store.Path).Msg("Run saved")
	return nil
}

func serveMetrics(addr string, collector *observability.Collector) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	return srv
}

func shutdownMetrics(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to stop metrics server")
	}
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

func logReport(r stats.Report) {
	logger.Info().
		Int("stations", r.Stations).
		Float64("fairness_index", r.FairnessIndex).
		Float64("efficiency", r.Efficiency).
		Float64("degradation", r.Degradation).
		Float64("avg_delay_ms", r.AvgDelay).
		Float64("min_delay_ms", r.MinDelay).
		Float64("max_delay_ms", r.MaxDelay).
		Float64("delay_variation_ms", r.DelayVariation).
		Int("handovers", r.HandoverCount).
		Dur("mean_handover_delay", r.MeanHandoverDelay).
		Int("unresolved_handovers", r.UnresolvedHandovers).
		Int("dropped_samples", r.DroppedSamples).
		Strs("warnings", r.Warnings).
		Msg("Performance report")

	for _, d := range r.HandoverDelays {
		logger.Info().
			Str("station", d.StationID).
			Str("from", d.From).
			Str("to", d.To).
			Dur("at", d.At).
			Dur("delay", d.Delay).
			Msg("Handover delay")
	}

	for _, s := range r.PerStation {
		logger.Debug().
			Str("station", s.StationID).
			Float64("throughput", s.Throughput).
			Float64("baseline", s.Baseline).
			Float64("degradation", s.Degradation).
			Float64("avg_delay_ms", s.AvgDelay).
			Int("handovers", s.Handovers).
			Int("lost", s.Lost).
			Int("dropped", s.Dropped).
			Interface("per_ap", s.PerAP).
			Msg("Station summary")
	}
}
