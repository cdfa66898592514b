// Package config loads the settings shared by the linkwatch binaries from
// defaults, an optional linkwatch.yaml, a .env file and LINKWATCH_*
// environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/signalsfoundry/linkwatch/internal/dashboard"
	"github.com/signalsfoundry/linkwatch/internal/grpcapi"
	"github.com/signalsfoundry/linkwatch/internal/logging"
	"github.com/signalsfoundry/linkwatch/internal/monitor"
	"github.com/signalsfoundry/linkwatch/internal/observability"
	"github.com/signalsfoundry/linkwatch/internal/relay"
	"github.com/signalsfoundry/linkwatch/internal/rules"
	"github.com/signalsfoundry/linkwatch/internal/station"
	"github.com/signalsfoundry/linkwatch/internal/storage"
	"github.com/signalsfoundry/linkwatch/internal/uplink"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

const envPrefix = "LINKWATCH"

// MonitorConfig tunes the prediction engine and its retained state.
type MonitorConfig struct {
	SessionID       string        `mapstructure:"session_id"`
	ModelPath       string        `mapstructure:"model_path"`
	HistorySize     int           `mapstructure:"history_size"`
	WarningFeedSize int           `mapstructure:"warning_feed_size"`
	AlarmInterval   time.Duration `mapstructure:"alarm_interval"`
}

// MetricsConfig controls the standalone /metrics listener used by the
// relay and the station.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// RandomWalkConfig parameterises the simulated signal source.
type RandomWalkConfig struct {
	Seed     uint64  `mapstructure:"seed"`
	Start    float64 `mapstructure:"start"`
	Min      float64 `mapstructure:"min"`
	Max      float64 `mapstructure:"max"`
	Step     float64 `mapstructure:"step"`
	DropRate float64 `mapstructure:"drop_rate"`
}

// Config is the full configuration tree.
type Config struct {
	Log        logging.Config              `mapstructure:"log"`
	Relay      relay.Config                `mapstructure:"relay"`
	Station    station.Config              `mapstructure:"station"`
	RandomWalk RandomWalkConfig            `mapstructure:"random_walk"`
	Uplink     uplink.Config               `mapstructure:"uplink"`
	Monitor    MonitorConfig               `mapstructure:"monitor"`
	Thresholds rules.Thresholds            `mapstructure:"thresholds"`
	Dashboard  dashboard.Config            `mapstructure:"dashboard"`
	GRPC       grpcapi.Config              `mapstructure:"grpc"`
	Storage    storage.Config              `mapstructure:"storage"`
	Metrics    MetricsConfig               `mapstructure:"metrics"`
	Tracing    observability.TracingConfig `mapstructure:"tracing"`
}

// Load reads configuration. path names an explicit config file; when empty
// linkwatch.yaml is searched in ., ./config and /etc/linkwatch/ and its
// absence is not an error.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("linkwatch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/linkwatch/")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadDotEnv() error {
	if _, err := os.Stat(".env"); err == nil {
		return godotenv.Load(".env")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	r := relay.DefaultConfig()
	s := station.DefaultConfig()
	u := uplink.DefaultConfig()
	t := rules.DefaultThresholds()

	defaults := map[string]any{
		"log.level":  "info",
		"log.format": "text",

		"relay.station_addr":     r.StationAddr,
		"relay.monitor_addr":     r.MonitorAddr,
		"relay.liveness_timeout": r.LivenessTimeout,
		"relay.poll_interval":    r.PollInterval,
		"relay.read_timeout":     r.ReadTimeout,
		"relay.write_timeout":    r.WriteTimeout,

		"station.relay_addr":   s.RelayAddr,
		"station.interval":     s.Interval,
		"station.dial_timeout": s.DialTimeout,
		"station.source":       s.Source,
		"station.interface":    s.Interface,

		"random_walk.seed":      1,
		"random_walk.start":     -55.0,
		"random_walk.min":       -95.0,
		"random_walk.max":       -35.0,
		"random_walk.step":      3.0,
		"random_walk.drop_rate": 0.0,

		"uplink.relay_addr":       u.RelayAddr,
		"uplink.dial_timeout":     u.DialTimeout,
		"uplink.initial_backoff":  u.InitialBackoff,
		"uplink.max_backoff":      u.MaxBackoff,
		"uplink.liveness_timeout": u.LivenessTimeout,
		"uplink.poll_interval":    u.PollInterval,

		"monitor.session_id":        "",
		"monitor.model_path":        "",
		"monitor.history_size":      monitor.DefaultHistorySize,
		"monitor.warning_feed_size": monitor.DefaultWarningFeedSize,
		"monitor.alarm_interval":    monitor.DefaultAlarmInterval,

		"thresholds.signal_warning":        t.SignalWarning,
		"thresholds.signal_critical":       t.SignalCritical,
		"thresholds.signal_danger":         t.SignalDanger,
		"thresholds.signal_trend_info":     t.SignalTrendInfo,
		"thresholds.signal_trend_warning":  t.SignalTrendWarning,
		"thresholds.signal_trend_critical": t.SignalTrendCritical,
		"thresholds.signal_std_warning":    t.SignalStdWarning,
		"thresholds.rtt_warning":           t.RTTWarning,
		"thresholds.rtt_critical":          t.RTTCritical,
		"thresholds.rtt_trend_warning":     t.RTTTrendWarning,
		"thresholds.latency_warning":       t.LatencyWarning,
		"thresholds.latency_critical":      t.LatencyCritical,
		"thresholds.quality_drop_warning":  t.QualityDropWarning,
		"thresholds.quality_drop_critical": t.QualityDropCritical,
		"thresholds.window_size":           t.WindowSize,

		"dashboard.addr": ":5000",

		"grpc.addr":       ":50051",
		"grpc.reflection": false,

		"storage.csv_path":    "",
		"storage.sqlite_path": "",

		"metrics.addr": ":9090",

		"tracing.enabled":      false,
		"tracing.service_name": "linkwatch",
		"tracing.exporter":     "stdout",
		"tracing.endpoint":     "localhost:4317",
		"tracing.sample_ratio": 1.0,
	}
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	durations := []struct {
		key string
		d   time.Duration
	}{
		{"relay.liveness_timeout", c.Relay.LivenessTimeout},
		{"relay.poll_interval", c.Relay.PollInterval},
		{"station.interval", c.Station.Interval},
		{"uplink.initial_backoff", c.Uplink.InitialBackoff},
		{"uplink.max_backoff", c.Uplink.MaxBackoff},
		{"uplink.liveness_timeout", c.Uplink.LivenessTimeout},
		{"uplink.poll_interval", c.Uplink.PollInterval},
		{"monitor.alarm_interval", c.Monitor.AlarmInterval},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, d.key)
		}
	}

	switch {
	case c.Uplink.MaxBackoff < c.Uplink.InitialBackoff:
		return fmt.Errorf("%w: uplink.max_backoff is below uplink.initial_backoff", ErrInvalidConfig)
	case c.Relay.PollInterval >= c.Relay.LivenessTimeout:
		return fmt.Errorf("%w: relay.poll_interval must be shorter than relay.liveness_timeout", ErrInvalidConfig)
	case c.Uplink.PollInterval >= c.Uplink.LivenessTimeout:
		return fmt.Errorf("%w: uplink.poll_interval must be shorter than uplink.liveness_timeout", ErrInvalidConfig)
	case c.Monitor.HistorySize <= 0:
		return fmt.Errorf("%w: monitor.history_size must be positive", ErrInvalidConfig)
	case c.Monitor.WarningFeedSize <= 0:
		return fmt.Errorf("%w: monitor.warning_feed_size must be positive", ErrInvalidConfig)
	case c.Station.Source != "iw" && c.Station.Source != "random":
		return fmt.Errorf("%w: station.source %q is not iw or random", ErrInvalidConfig, c.Station.Source)
	case c.Station.Source == "iw" && c.Station.Interface == "":
		return fmt.Errorf("%w: station.interface is required for the iw source", ErrInvalidConfig)
	case c.RandomWalk.Min >= c.RandomWalk.Max:
		return fmt.Errorf("%w: random_walk.min must be below random_walk.max", ErrInvalidConfig)
	case c.RandomWalk.DropRate < 0 || c.RandomWalk.DropRate > 1:
		return fmt.Errorf("%w: random_walk.drop_rate must be in [0,1]", ErrInvalidConfig)
	case c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1:
		return fmt.Errorf("%w: tracing.sample_ratio must be in [0,1]", ErrInvalidConfig)
	}
	if err := c.Thresholds.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
