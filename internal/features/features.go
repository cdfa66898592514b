// Package features condenses a sliding window of measurements into the
// fixed 13-element vector consumed by the failure model.
package features

import (
	"math"

	"github.com/signalsfoundry/linkwatch/model"
)

// DefaultWindowSize is the number of samples the model was trained on.
const DefaultWindowSize = 10

// Size is the length of a feature vector.
const Size = 13

// Vector is a feature vector. Element order is part of the model
// contract and must match Names.
type Vector [Size]float64

// Indices into a Vector.
const (
	RSSIMean = iota
	RSSIStd
	RSSIMin
	RSSIMax
	RSSITrend
	RSSIDelta
	RTTMean
	RTTStd
	RTTMin
	RTTMax
	RTTTrend
	QualityMean
	QualityStd
)

// Names is the feature schema in vector order.
var Names = [Size]string{
	"rssi_mean", "rssi_std", "rssi_min", "rssi_max", "rssi_trend", "rssi_delta",
	"rtt_mean", "rtt_std", "rtt_min", "rtt_max", "rtt_trend",
	"quality_mean", "quality_std",
}

// Extract computes the feature vector for samples, oldest first.
func Extract(samples []model.Measurement) Vector {
	rssi := make([]float64, 0, len(samples))
	rtt := make([]float64, 0, len(samples))
	quality := make([]float64, 0, len(samples))
	for _, m := range samples {
		rssi = append(rssi, float64(m.SignalDBm))
		if m.ValidRTT() {
			rtt = append(rtt, float64(m.RTTMs))
		}
		if m.HasQuality {
			quality = append(quality, float64(m.Quality))
		}
	}

	var v Vector
	s := summarize(rssi)
	v[RSSIMean], v[RSSIStd], v[RSSIMin], v[RSSIMax], v[RSSITrend] = s.mean, s.std, s.min, s.max, s.trend
	if len(rssi) >= 2 {
		v[RSSIDelta] = rssi[len(rssi)-1] - rssi[0]
	}

	s = summarize(rtt)
	v[RTTMean], v[RTTStd], v[RTTMin], v[RTTMax], v[RTTTrend] = s.mean, s.std, s.min, s.max, s.trend

	s = summarize(quality)
	v[QualityMean], v[QualityStd] = s.mean, s.std
	return v
}

type summary struct {
	mean, std, min, max, trend float64
}

// summarize returns zeros for an empty series and the single value (with
// zero spread and trend) for a one-element series.
func summarize(xs []float64) summary {
	switch len(xs) {
	case 0:
		return summary{}
	case 1:
		return summary{mean: xs[0], min: xs[0], max: xs[0]}
	}
	s := summary{mean: Mean(xs), std: PopulationStd(xs), min: xs[0], max: xs[0], trend: Slope(xs)}
	for _, x := range xs[1:] {
		s.min = math.Min(s.min, x)
		s.max = math.Max(s.max, x)
	}
	return s
}

// Mean is the arithmetic mean, 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// PopulationStd is the standard deviation with divisor n.
func PopulationStd(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mean := Mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)))
}

// Slope is the least-squares slope of xs against their index.
func Slope(xs []float64) float64 {
	n := len(xs)
	if n < 2 {
		return 0
	}
	xMean := float64(n-1) / 2
	yMean := Mean(xs)
	var num, den float64
	for i, y := range xs {
		dx := float64(i) - xMean
		num += dx * (y - yMean)
		den += dx * dx
	}
	return num / den
}
