package rules

import (
	"errors"
	"fmt"
)

// ErrInvalidThresholds is returned by Thresholds.Validate.
var ErrInvalidThresholds = errors.New("invalid rule thresholds")

// Thresholds configures the evaluator. Signal values are dBm, times are
// milliseconds, quality drops are score steps over the trend window.
type Thresholds struct {
	SignalWarning  float64 `mapstructure:"signal_warning" json:"signal_warning"`
	SignalCritical float64 `mapstructure:"signal_critical" json:"signal_critical"`
	SignalDanger   float64 `mapstructure:"signal_danger" json:"signal_danger"`

	SignalTrendInfo     float64 `mapstructure:"signal_trend_info" json:"signal_trend_info"`
	SignalTrendWarning  float64 `mapstructure:"signal_trend_warning" json:"signal_trend_warning"`
	SignalTrendCritical float64 `mapstructure:"signal_trend_critical" json:"signal_trend_critical"`
	SignalStdWarning    float64 `mapstructure:"signal_std_warning" json:"signal_std_warning"`

	RTTWarning      float64 `mapstructure:"rtt_warning" json:"rtt_warning"`
	RTTCritical     float64 `mapstructure:"rtt_critical" json:"rtt_critical"`
	RTTTrendWarning float64 `mapstructure:"rtt_trend_warning" json:"rtt_trend_warning"`

	LatencyWarning  float64 `mapstructure:"latency_warning" json:"latency_warning"`
	LatencyCritical float64 `mapstructure:"latency_critical" json:"latency_critical"`

	QualityDropWarning  int `mapstructure:"quality_drop_warning" json:"quality_drop_warning"`
	QualityDropCritical int `mapstructure:"quality_drop_critical" json:"quality_drop_critical"`

	// WindowSize is the number of most recent samples trend and
	// volatility checks look at.
	WindowSize int `mapstructure:"window_size" json:"window_size"`
}

// DefaultThresholds returns the stock configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SignalWarning:       -60,
		SignalCritical:      -75,
		SignalDanger:        -85,
		SignalTrendInfo:     -1,
		SignalTrendWarning:  -3,
		SignalTrendCritical: -5,
		SignalStdWarning:    5,
		RTTWarning:          100,
		RTTCritical:         200,
		RTTTrendWarning:     20,
		LatencyWarning:      50,
		LatencyCritical:     100,
		QualityDropWarning:  1,
		QualityDropCritical: 2,
		WindowSize:          5,
	}
}

// Validate checks that every graded pair escalates in the right
// direction.
func (t Thresholds) Validate() error {
	switch {
	case !(t.SignalDanger < t.SignalCritical && t.SignalCritical < t.SignalWarning):
		return fmt.Errorf("%w: need signal_danger < signal_critical < signal_warning", ErrInvalidThresholds)
	case !(t.SignalTrendCritical < t.SignalTrendWarning && t.SignalTrendWarning < t.SignalTrendInfo):
		return fmt.Errorf("%w: need signal_trend_critical < signal_trend_warning < signal_trend_info", ErrInvalidThresholds)
	case t.SignalStdWarning <= 0:
		return fmt.Errorf("%w: signal_std_warning must be positive", ErrInvalidThresholds)
	case !(0 < t.RTTWarning && t.RTTWarning < t.RTTCritical):
		return fmt.Errorf("%w: need 0 < rtt_warning < rtt_critical", ErrInvalidThresholds)
	case t.RTTTrendWarning <= 0:
		return fmt.Errorf("%w: rtt_trend_warning must be positive", ErrInvalidThresholds)
	case !(0 < t.LatencyWarning && t.LatencyWarning < t.LatencyCritical):
		return fmt.Errorf("%w: need 0 < latency_warning < latency_critical", ErrInvalidThresholds)
	case !(0 < t.QualityDropWarning && t.QualityDropWarning < t.QualityDropCritical):
		return fmt.Errorf("%w: need 0 < quality_drop_warning < quality_drop_critical", ErrInvalidThresholds)
	case t.WindowSize < 2 || t.WindowSize > HistoryCapacity:
		return fmt.Errorf("%w: window_size must be in [2, %d]", ErrInvalidThresholds, HistoryCapacity)
	}
	return nil
}
