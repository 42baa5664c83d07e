package config

import (
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/roamctl/internal/errors"
	"codeberg.org/mutker/roamctl/internal/handover"
	"codeberg.org/mutker/roamctl/internal/mobility"
	"codeberg.org/mutker/roamctl/internal/probe"
	"codeberg.org/mutker/roamctl/internal/scenario"
	"codeberg.org/mutker/roamctl/internal/signal"
	"codeberg.org/mutker/roamctl/internal/store"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel  = string(LogLevelInfo)
	DefaultEnvPrefix = "ROAMCTL"
	DefaultName      = "scenario"
	DefaultDuration  = 30 * time.Second
	DefaultTick      = time.Second

	defaultConfigName = "roamctl"
	defaultConfigDir  = "/etc/roamctl"
)

type Config struct {
	LogLevel     string              `mapstructure:"log_level"`
	Service      bool                `mapstructure:"service"`
	Name         string              `mapstructure:"name"`
	Duration     time.Duration       `mapstructure:"duration"`
	Tick         time.Duration       `mapstructure:"tick"`
	Model        ModelConfig         `mapstructure:"model"`
	Handover     HandoverConfig      `mapstructure:"handover"`
	AccessPoints []AccessPointConfig `mapstructure:"access_points"`
	Stations     []StationConfig     `mapstructure:"stations"`
	Probe        ProbeConfig         `mapstructure:"probe"`
	Store        StoreConfig         `mapstructure:"store"`
	Metrics      MetricsConfig       `mapstructure:"metrics"`

	// ConfigFile is the file the configuration was read from, if any.
	ConfigFile string `mapstructure:"-"`
}

type ModelConfig struct {
	Kind       string  `mapstructure:"kind"`
	FloorDBm   float64 `mapstructure:"floor_dbm"`
	CeilingDBm float64 `mapstructure:"ceiling_dbm"`
	Peak       float64 `mapstructure:"peak"`
}

type HandoverConfig struct {
	ConnectThreshold    float64       `mapstructure:"connect_threshold"`
	DisconnectThreshold float64       `mapstructure:"disconnect_threshold"`
	HysteresisMargin    float64       `mapstructure:"hysteresis_margin"`
	MinDwell            time.Duration `mapstructure:"min_dwell"`
}

type AccessPointConfig struct {
	ID               string    `mapstructure:"id"`
	Position         []float64 `mapstructure:"position"`
	TxPowerDBm       float64   `mapstructure:"tx_power_dbm"`
	PathLossExponent float64   `mapstructure:"path_loss_exponent"`
	ReferenceLossDB  float64   `mapstructure:"reference_loss_db"`
	CoverageRadius   float64   `mapstructure:"coverage_radius"`
}

type WaypointConfig struct {
	At       time.Duration `mapstructure:"at"`
	Position []float64     `mapstructure:"position"`
}

type StationConfig struct {
	ID                 string           `mapstructure:"id"`
	BaselineThroughput float64          `mapstructure:"baseline_throughput"`
	Waypoints          []WaypointConfig `mapstructure:"waypoints"`
}

type ProbeConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Interval       time.Duration `mapstructure:"interval"`
	BaseRTT        time.Duration `mapstructure:"base_rtt"`
	RTTPerQuality  time.Duration `mapstructure:"rtt_per_quality"`
	CapacityMbps   float64       `mapstructure:"capacity_mbps"`
	HandoverOutage time.Duration `mapstructure:"handover_outage"`
}

type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

// mandatory keys have no default and must be set by file, env or flag.
var mandatory = []string{
	"handover.hysteresis_margin",
	"handover.min_dwell",
}

// Load reads the configuration from defaults, the TOML file, environment
// variables and command-line args, in increasing precedence, and validates
// it.
func Load(args []string, opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := &options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}
	if err := bindFlags(v, fs); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range mandatory {
		if err := v.BindEnv(key); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	configPath := o.configPath
	if configPath == "" {
		configPath, _ = fs.GetString("config")
	}
	if configPath == "" {
		configPath = os.Getenv(o.envPrefix + "_CONFIG")
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	} else {
		v.SetConfigName(defaultConfigName)
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath(defaultConfigDir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, errFactory.Wrap(errors.ErrReadConfig, err)
			}
		}
	}

	for _, key := range mandatory {
		if !v.IsSet(key) {
			return nil, errFactory.WithData(errors.ErrMissingConfig, struct {
				Field  string
				Reason string
			}{
				Field:  key,
				Reason: "must be set explicitly",
			})
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}
	cfg.ConfigFile = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("service", false)
	v.SetDefault("name", DefaultName)
	v.SetDefault("duration", DefaultDuration)
	v.SetDefault("tick", DefaultTick)

	v.SetDefault("model.kind", string(ModelLogDistance))
	v.SetDefault("model.floor_dbm", signal.DefaultFloorDBm)
	v.SetDefault("model.ceiling_dbm", signal.DefaultCeilingDBm)
	v.SetDefault("model.peak", signal.DefaultPeak)

	v.SetDefault("handover.connect_threshold", 0.3)
	v.SetDefault("handover.disconnect_threshold", 0.1)

	v.SetDefault("probe.enabled", true)
	v.SetDefault("probe.interval", probe.DefaultInterval)
	v.SetDefault("probe.base_rtt", probe.DefaultBaseRTT)
	v.SetDefault("probe.rtt_per_quality", probe.DefaultRTTPerQuality)
	v.SetDefault("probe.capacity_mbps", probe.DefaultCapacityMbps)
	v.SetDefault("probe.handover_outage", probe.DefaultHandoverOutage)

	v.SetDefault("store.enabled", store.DefaultConfig().Enabled)
	v.SetDefault("store.path", store.DefaultConfig().Path)
	v.SetDefault("metrics.listen", "")
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("roamctl", pflag.ContinueOnError)
	fs.String("config", "", "Path to the scenario file (TOML)")
	fs.String("log-level", DefaultLogLevel, "Log level: debug, info, warning, error")
	fs.Bool("service", false, "Run as a service (no timestamps in log output)")
	fs.String("name", DefaultName, "Scenario name")
	fs.Duration("duration", DefaultDuration, "Simulated scenario duration")
	fs.Duration("tick", DefaultTick, "Simulated time step")
	fs.String("model", string(ModelLogDistance), "Signal model: log-distance or linear")
	fs.Float64("hysteresis-margin", 0, "Quality advantage required to hand over")
	fs.Duration("min-dwell", 0, "Minimum time between association changes")
	fs.Bool("probe", true, "Generate synthetic RTT and throughput measurements")
	fs.Bool("store", false, "Persist the run to SQLite")
	fs.String("store-path", store.DefaultConfig().Path, "SQLite database path")
	fs.String("metrics-listen", "", "Serve Prometheus metrics on this address")
	return fs
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	bindings := []struct {
		key  string
		flag string
	}{
		{"log_level", "log-level"},
		{"service", "service"},
		{"name", "name"},
		{"duration", "duration"},
		{"tick", "tick"},
		{"model.kind", "model"},
		{"handover.hysteresis_margin", "hysteresis-margin"},
		{"handover.min_dwell", "min-dwell"},
		{"probe.enabled", "probe"},
		{"store.enabled", "store"},
		{"store.path", "store-path"},
		{"metrics.listen", "metrics-listen"},
	}
	for _, b := range bindings {
		if err := v.BindPFlag(b.key, fs.Lookup(b.flag)); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the settings that do not depend on building the scenario.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, struct {
			Field string
			Value string
		}{
			Field: "log_level",
			Value: c.LogLevel,
		})
	}
	if !ModelKind(c.Model.Kind).IsValid() {
		return errFactory.WithData(errors.ErrInvalidConfig, struct {
			Field  string
			Value  string
			Reason string
		}{
			Field:  "model.kind",
			Value:  c.Model.Kind,
			Reason: "must be log-distance or linear",
		})
	}
	if c.Model.Kind == string(ModelLogDistance) && c.Model.FloorDBm >= c.Model.CeilingDBm {
		return errFactory.WithData(errors.ErrInvalidConfig, struct {
			Field  string
			Value  float64
			Reason string
		}{
			Field:  "model.floor_dbm",
			Value:  c.Model.FloorDBm,
			Reason: "must be below model.ceiling_dbm",
		})
	}
	if c.Model.Kind == string(ModelLinear) && (c.Model.Peak <= 0 || c.Model.Peak > signal.QualityMax) {
		return errFactory.WithData(errors.ErrInvalidConfig, struct {
			Field  string
			Value  float64
			Reason string
		}{
			Field:  "model.peak",
			Value:  c.Model.Peak,
			Reason: "must be in (0, 1]",
		})
	}
	if c.Probe.Enabled {
		if err := c.Probe.Synthetic().Validate(); err != nil {
			return err
		}
	}
	if err := c.StoreConfig().Validate(); err != nil {
		return err
	}

	_, err := c.Scenario()
	return err
}

// Scenario builds the scenario described by the configuration.
func (c *Config) Scenario() (scenario.Spec, error) {
	errFactory := errors.New()

	spec := scenario.Spec{
		Name:     c.Name,
		Duration: c.Duration,
		Tick:     c.Tick,
		Model:    c.SignalModel(),
		Handover: handover.Config{
			ConnectThreshold:    c.Handover.ConnectThreshold,
			DisconnectThreshold: c.Handover.DisconnectThreshold,
			HysteresisMargin:    c.Handover.HysteresisMargin,
			MinDwell:            c.Handover.MinDwell,
		},
	}

	for _, ap := range c.AccessPoints {
		pos, err := mobility.FromSlice(ap.Position)
		if err != nil {
			return scenario.Spec{}, errFactory.Wrap(errors.ErrInvalidConfig, err).WithData(struct {
				Field string
				ID    string
			}{
				Field: "access_points.position",
				ID:    ap.ID,
			})
		}
		spec.AccessPoints = append(spec.AccessPoints, signal.AccessPoint{
			ID:               ap.ID,
			Position:         pos,
			TxPowerDBm:       ap.TxPowerDBm,
			PathLossExponent: ap.PathLossExponent,
			ReferenceLossDB:  ap.ReferenceLossDB,
			CoverageRadius:   ap.CoverageRadius,
		})
	}

	for _, st := range c.Stations {
		if len(st.Waypoints) == 0 {
			return scenario.Spec{}, errFactory.WithData(errors.ErrInvalidConfig, struct {
				Field  string
				ID     string
				Reason string
			}{
				Field:  "stations.waypoints",
				ID:     st.ID,
				Reason: "station needs at least one waypoint",
			})
		}

		wps := make([]mobility.Waypoint, 0, len(st.Waypoints))
		for _, wp := range st.Waypoints {
			pos, err := mobility.FromSlice(wp.Position)
			if err != nil {
				return scenario.Spec{}, errFactory.Wrap(errors.ErrInvalidConfig, err).WithData(struct {
					Field string
					ID    string
				}{
					Field: "stations.waypoints.position",
					ID:    st.ID,
				})
			}
			wps = append(wps, mobility.Waypoint{At: wp.At, Position: pos})
		}
		tl, err := mobility.NewTimeline(wps)
		if err != nil {
			return scenario.Spec{}, err
		}

		spec.Stations = append(spec.Stations, scenario.StationSpec{
			ID:       st.ID,
			Timeline: tl,
			Baseline: st.BaselineThroughput,
		})
	}

	if err := spec.Validate(); err != nil {
		return scenario.Spec{}, err
	}

	return spec, nil
}

// SignalModel returns the configured signal model.
func (c *Config) SignalModel() signal.Model {
	if c.Model.Kind == string(ModelLinear) {
		m := signal.NewLinearDecay()
		m.Peak = c.Model.Peak
		return m
	}
	m := signal.NewLogDistance()
	m.FloorDBm = c.Model.FloorDBm
	m.CeilingDBm = c.Model.CeilingDBm
	return m
}

// Synthetic returns the synthetic probe parameters.
func (p ProbeConfig) Synthetic() probe.SyntheticConfig {
	return probe.SyntheticConfig{
		Interval:       p.Interval,
		BaseRTT:        p.BaseRTT,
		RTTPerQuality:  p.RTTPerQuality,
		CapacityMbps:   p.CapacityMbps,
		HandoverOutage: p.HandoverOutage,
	}
}

// StoreConfig returns the SQLite sink configuration.
func (c *Config) StoreConfig() store.Config {
	return store.Config{
		Enabled: c.Store.Enabled,
		Path:    c.Store.Path,
	}
}
