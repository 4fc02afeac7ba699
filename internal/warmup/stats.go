// Package warmup measures how steadily frames arrive at the consumer.
package warmup

import (
	"math"
	"time"
)

const (
	// fpsStabilityThreshold is the maximum FPS standard deviation as a
	// fraction of the mean. 30 FPS mean → stable if stddev < 4.5 FPS.
	fpsStabilityThreshold = 0.15

	// jitterStabilityThreshold is the maximum mean jitter as a fraction of
	// the expected interval. 30 FPS (33ms) → stable if jitter < 6.6ms.
	jitterStabilityThreshold = 0.20
)

// Stats contains the rate statistics of one warm-up window.
type Stats struct {
	FramesReceived int           // Frames grabbed during the window
	Duration       time.Duration // Window length
	FPSMean        float64       // frames / window
	FPSStdDev      float64       // Stddev of instantaneous FPS around the mean
	FPSMin         float64       // Slowest instantaneous FPS
	FPSMax         float64       // Fastest instantaneous FPS
	IsStable       bool          // FPS and jitter both under threshold
	JitterMean     float64       // Mean |interval - expected| (seconds)
	JitterStdDev   float64       // Stddev of jitter (seconds)
	JitterMax      float64       // Worst jitter (seconds)
}

// CalculateFPSStats derives rate and jitter statistics from the arrival
// times of the frames grabbed in a window of totalDuration.
//
// Stability: stddev < 15% of mean FPS AND mean jitter < 20% of the expected
// interval. Fewer than two timestamps (or only zero-length intervals) is
// never stable.
func CalculateFPSStats(frameTimes []time.Time, totalDuration time.Duration) *Stats {
	n := len(frameTimes)
	stats := &Stats{FramesReceived: n, Duration: totalDuration}
	if n == 0 || totalDuration <= 0 {
		return stats
	}

	stats.FPSMean = float64(n) / totalDuration.Seconds()

	intervals := intervalsOf(frameTimes)

	rates := make([]float64, 0, len(intervals))
	for _, iv := range intervals {
		if iv > 0 {
			rates = append(rates, 1.0/iv)
		}
	}
	if len(rates) == 0 {
		return stats
	}

	stats.FPSMin, stats.FPSMax = minMax(rates)
	stats.FPSStdDev = stddevAround(rates, stats.FPSMean)

	expected := 1.0 / stats.FPSMean
	jitters := make([]float64, len(intervals))
	for i, iv := range intervals {
		jitters[i] = math.Abs(iv - expected)
	}

	stats.JitterMean = mean(jitters)
	_, stats.JitterMax = minMax(jitters)
	stats.JitterStdDev = stddevAround(jitters, stats.JitterMean)

	fpsStable := stats.FPSStdDev < stats.FPSMean*fpsStabilityThreshold
	jitterStable := stats.JitterMean < expected*jitterStabilityThreshold
	stats.IsStable = fpsStable && jitterStable

	return stats
}

// intervalsOf returns the seconds between consecutive timestamps.
func intervalsOf(times []time.Time) []float64 {
	if len(times) < 2 {
		return nil
	}
	out := make([]float64, 0, len(times)-1)
	for i := 1; i < len(times); i++ {
		out = append(out, times[i].Sub(times[i-1]).Seconds())
	}
	return out
}

func minMax(values []float64) (lo, hi float64) {
	lo, hi = values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stddevAround(values []float64, center float64) float64 {
	var sumSquares float64
	for _, v := range values {
		d := v - center
		sumSquares += d * d
	}
	return math.Sqrt(sumSquares / float64(len(values)))
}
