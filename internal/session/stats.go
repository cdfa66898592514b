package session

import (
	"math"
	"sort"
)

// Stats summarises a numeric series.
type Stats struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Median float64 `json:"median"`
}

// Summarize computes Stats with population standard deviation. The median
// of an even-length series is the mean of the two middle values. An
// empty series yields all zeros.
func Summarize(values []float64) Stats {
	n := len(values)
	if n == 0 {
		return Stats{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(n)

	var ss float64
	for _, v := range values {
		d := v - mean
		ss += d * d
	}

	median := sorted[n/2]
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}

	return Stats{
		Count:  n,
		Min:    sorted[0],
		Max:    sorted[n-1],
		Mean:   mean,
		Std:    math.Sqrt(ss / float64(n)),
		Median: median,
	}
}

// SignalRange is one bucket of the signal distribution.
type SignalRange struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// SignalRanges buckets signal samples into the five display ranges.
func SignalRanges(values []float64) []SignalRange {
	out := []SignalRange{
		{Label: "< -80"},
		{Label: "-80 to -70"},
		{Label: "-70 to -60"},
		{Label: "-60 to -50"},
		{Label: ">= -50"},
	}
	for _, v := range values {
		switch {
		case v < -80:
			out[0].Count++
		case v < -70:
			out[1].Count++
		case v < -60:
			out[2].Count++
		case v < -50:
			out[3].Count++
		default:
			out[4].Count++
		}
	}
	return out
}
