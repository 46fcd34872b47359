// Package runner orchestrates a load run: it admits sessions, bounds how
// many are live, enforces the run deadline and collects one report per
// session.
//
// # Basic Usage
//
//	r := runner.New(runner.Options{
//		Sessions:       200,
//		MaxConcurrency: 200,
//		Duration:       5 * time.Minute,
//		Launcher:       launcher,
//	})
//	res := r.Run(ctx)
//	sum := runner.Summarize(res, runner.SummaryInput{...})
//
// # Admission
//
// Sessions are admitted through an arrival model:
//   - [ArrivalModelUniform]: BatchSize sessions every BatchDelay, paced by a
//     token bucket whose burst is the batch size
//   - [ArrivalModelPoisson]: one session at a time with exponential gaps at
//     the same mean rate
//
// With no explicit batch size, runs of up to 50 sessions start at once and
// larger runs start a tenth at a time, at most 20 per batch.
//
// # Deadline and Hung Sessions
//
// When Duration elapses the sessions drain. The runner then waits up to
// JoinTimeout for the remaining reports; sessions that have not reported by
// then are closed and counted as hung.
//
// # Scoring
//
// [Summarize] derives the connection success rate, handshake failures and a
// composite score from the reports and the final metrics snapshot. A run in
// which no session reached the active state is marked inconclusive.
package runner
