// Package util
//
// This file provides the summaries used to report on stores: plain descriptive
// statistics over a sample of values and a bucketed distribution of encoded
// document sizes.
package util

import (
	"math"
	"sort"
	"sync"
)

// ----------------------------------------------------------------------------
// Descriptive statistics
// ----------------------------------------------------------------------------

type Stats struct {
	StdDeviation float64 `json:"std_deviation"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	MinMaxRatio  float64 `json:"min_max_ratio"`
}

// NewStats computes the mean, standard deviation, minimum and maximum of values.
func NewStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	min := values[0]
	max := values[0]
	var sum float64
	for _, v := range values {
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	mean := sum / float64(len(values))

	var sumSquaredDiffs float64
	for _, v := range values {
		diff := v - mean
		sumSquaredDiffs += diff * diff
	}

	// population formula
	stdDev := math.Sqrt(sumSquaredDiffs / float64(len(values)))

	minMaxRatio := 1.0
	if max > 0 {
		minMaxRatio = min / max
	}

	return Stats{
		StdDeviation: stdDev,
		Min:          min,
		Max:          max,
		Mean:         mean,
		MinMaxRatio:  minMaxRatio,
	}
}

// ----------------------------------------------------------------------------
// Document sizes
// ----------------------------------------------------------------------------

// sizeBounds are the upper bounds of the size buckets, 16B to 4GB in powers
// of four. Larger samples land in an overflow bucket.
var sizeBounds = func() []int64 {
	bounds := make([]int64, 0, 15)
	for b := int64(16); b <= 4<<30; b *= 4 {
		bounds = append(bounds, b)
	}
	return bounds
}()

// SizeSummary describes the encoded sizes a store has committed.
type SizeSummary struct {
	Samples int64 `json:"samples"`
	Mean    int64 `json:"mean"`
	P50     int64 `json:"p50"`
	P99     int64 `json:"p99"`
	Max     int64 `json:"max"`
}

// SizeDistribution counts encoded document sizes in exponential buckets.
// It is safe for concurrent use.
type SizeDistribution struct {
	mu      sync.Mutex
	counts  [16]int64
	samples int64
	total   int64
	max     int64
}

// NewSizeDistribution returns an empty distribution.
func NewSizeDistribution() *SizeDistribution {
	return &SizeDistribution{}
}

// Observe records one encoded size.
func (d *SizeDistribution) Observe(size int) {
	n := int64(size)
	idx := sort.Search(len(sizeBounds), func(i int) bool { return n <= sizeBounds[i] })

	d.mu.Lock()
	defer d.mu.Unlock()
	d.counts[idx]++
	d.samples++
	d.total += n
	if n > d.max {
		d.max = n
	}
}

// Summary returns the mean and the estimated median and 99th percentile.
// A quantile is reported as the upper bound of its bucket, capped at the
// largest size seen.
func (d *SizeDistribution) Summary() SizeSummary {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.samples == 0 {
		return SizeSummary{}
	}
	return SizeSummary{
		Samples: d.samples,
		Mean:    d.total / d.samples,
		P50:     d.quantile(0.5),
		P99:     d.quantile(0.99),
		Max:     d.max,
	}
}

func (d *SizeDistribution) quantile(q float64) int64 {
	rank := int64(math.Ceil(float64(d.samples) * q))
	var seen int64
	for i, c := range d.counts {
		seen += c
		if seen < rank {
			continue
		}
		if i < len(sizeBounds) && sizeBounds[i] < d.max {
			return sizeBounds[i]
		}
		return d.max
	}
	return d.max
}
