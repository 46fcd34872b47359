// Package metrics aggregates load-test measurements across all sessions.
//
// # Aggregator
//
// The central [Aggregator] receives every event produced by every session:
//
//	agg := metrics.NewAggregator(metrics.DefaultOptions())
//	agg.Start() // mark the run start for rate calculation
//
//	agg.RecordSent("player_input", 68)
//	agg.RecordLatency(12 * time.Millisecond)
//	agg.RecordError(metrics.ErrorReceive)
//
//	snap := agg.Snapshot()
//
// Counters are exact and monotonic. Latency, round-trip and tick-lag samples
// live in fixed-capacity [Ring] buffers and only feed the distribution
// estimates; totals never come from the rings.
//
// # Snapshots
//
// [Aggregator.Snapshot] copies counters and ring contents under the lock and
// computes percentiles on the copies afterwards, so the lock is held only for
// the copy. Rates are derived from counters and wall-clock elapsed time at
// snapshot time. A [Snapshot] is a value and is never mutated afterwards.
//
// # Thread Safety
//
// All Aggregator methods are safe for concurrent use. The Aggregator is the
// only state shared between sessions.
package metrics
