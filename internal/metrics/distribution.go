package metrics

import (
	"math"
	"slices"
	"time"
)

// Distribution summarises a set of duration samples.
type Distribution struct {
	Count int           `json:"count"`
	Min   time.Duration `json:"-"`
	Max   time.Duration `json:"-"`
	Mean  time.Duration `json:"-"`
	P50   time.Duration `json:"-"`
	P95   time.Duration `json:"-"`
	P99   time.Duration `json:"-"`

	// Label qualifies how the samples were obtained, e.g. "estimated".
	Label string `json:"label,omitempty"`

	MinMs  float64 `json:"min_ms"`
	MaxMs  float64 `json:"max_ms"`
	MeanMs float64 `json:"mean_ms"`
	P50Ms  float64 `json:"p50_ms"`
	P95Ms  float64 `json:"p95_ms"`
	P99Ms  float64 `json:"p99_ms"`
}

// Summarize sorts samples in place and computes nearest-rank statistics.
// An empty slice yields a zero Distribution.
func Summarize(samples []time.Duration) Distribution {
	if len(samples) == 0 {
		return Distribution{}
	}
	slices.Sort(samples)

	var sum time.Duration
	for _, s := range samples {
		sum += s
	}
	d := Distribution{
		Count: len(samples),
		Min:   samples[0],
		Max:   samples[len(samples)-1],
		Mean:  sum / time.Duration(len(samples)),
		P50:   Percentile(samples, 50),
		P95:   Percentile(samples, 95),
		P99:   Percentile(samples, 99),
	}
	d.MinMs = ms(d.Min)
	d.MaxMs = ms(d.Max)
	d.MeanMs = ms(d.Mean)
	d.P50Ms = ms(d.P50)
	d.P95Ms = ms(d.P95)
	d.P99Ms = ms(d.P99)
	return d
}

// Percentile returns the nearest-rank p-th percentile of sorted samples.
func Percentile(sorted []time.Duration, p float64) time.Duration {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(n)))
	if rank < 1 {
		rank = 1
	}
	if rank > n {
		rank = n
	}
	return sorted[rank-1]
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
