package runner

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/torosent/gamestorm/internal/metrics"
	"github.com/torosent/gamestorm/internal/session"
)

// Result captures what the orchestrator observed.
type Result struct {
	Reports  []session.Report // ordered by SessionID
	Admitted int
	Hung     int
	Duration time.Duration
	// Err is set when admission stopped because a session could not be built.
	Err error
}

// Runner admits sessions, bounds how many are live and collects their
// reports.
type Runner struct {
	opt     Options
	arrival arrivalController

	mu       sync.Mutex
	live     map[int]*session.Session
	reports  []session.Report
	admitted int
}

func New(opt Options) *Runner {
	opt.normalize()
	return &Runner{
		opt:     opt,
		arrival: newArrivalController(opt),
		live:    make(map[int]*session.Session),
	}
}

// Run blocks until every admitted session reported or the join grace after
// the deadline elapsed. Sessions still running then are closed and counted
// as hung.
func (r *Runner) Run(ctx context.Context) Result {
	start := time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if r.opt.Duration > 0 {
		deadlineCtx, deadlineCancel := context.WithTimeout(runCtx, r.opt.Duration)
		defer deadlineCancel()
		runCtx = deadlineCtx
	}

	var g errgroup.Group
	sem := semaphore.NewWeighted(int64(r.opt.MaxConcurrency))
	admitErr := r.admit(runCtx, &g, sem)

	allDone := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(allDone)
	}()

	select {
	case <-allDone:
	case <-runCtx.Done():
		timer := time.NewTimer(r.opt.JoinTimeout)
		select {
		case <-allDone:
		case <-timer.C:
			r.opt.Logger.Warn().Dur("join_timeout", r.opt.JoinTimeout).Msg("sessions still running after join timeout")
		}
		timer.Stop()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.live {
		s.Close()
	}
	reports := slices.Clone(r.reports)
	slices.SortFunc(reports, func(a, b session.Report) int { return a.SessionID - b.SessionID })

	return Result{
		Reports:  reports,
		Admitted: r.admitted,
		Hung:     r.admitted - len(reports),
		Duration: time.Since(start),
		Err:      admitErr,
	}
}

// admit starts sessions until all are admitted or ctx ends.
func (r *Runner) admit(ctx context.Context, g *errgroup.Group, sem *semaphore.Weighted) error {
	log := r.opt.Logger
	index := 0
	for index < r.opt.Sessions {
		n, err := r.arrival.next(ctx)
		if err != nil {
			log.Debug().Int("admitted", index).Msg("admission stopped by deadline")
			return nil
		}
		n = min(n, r.opt.Sessions-index)
		log.Debug().Int("first", index).Int("count", n).Msg("admitting batch")

		for i := 0; i < n; i++ {
			if err := sem.Acquire(ctx, 1); err != nil {
				return nil
			}
			if ctx.Err() != nil {
				sem.Release(1)
				return nil
			}
			s, err := r.opt.Launcher.Session(index)
			if err != nil {
				sem.Release(1)
				log.Error().Err(err).Int("session", index).Msg("cannot build session")
				return fmt.Errorf("session %d: %w", index, err)
			}
			r.track(index, s)
			id := index
			g.Go(func() error {
				defer sem.Release(1)
				r.complete(id, r.runSession(ctx, id, s))
				return nil
			})
			if r.opt.OnAdmit != nil {
				r.opt.OnAdmit(ctx, id)
			}
			index++
		}
	}
	return nil
}

func (r *Runner) track(index int, s *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[index] = s
	r.admitted++
}

func (r *Runner) complete(index int, rep session.Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.live, index)
	r.reports = append(r.reports, rep)
}

// runSession recovers a panic that escapes the session and turns it into a
// Failed report.
func (r *Runner) runSession(ctx context.Context, index int, s *session.Session) (rep session.Report) {
	defer func() {
		if v := recover(); v != nil {
			s.Close()
			perr := &session.PanicError{Value: v}
			r.opt.Logger.Error().Int("session", index).Interface("panic", v).Msg("session panicked")
			if r.opt.Sink != nil {
				r.opt.Sink.Record(metrics.Event{Kind: metrics.EventError, Label: metrics.ErrorPanic})
			}
			now := time.Now()
			rep = session.Report{
				SessionID:  index,
				FinalState: session.Failed,
				ErrorKind:  metrics.ErrorPanic,
				Error:      perr.Error(),
				Err:        perr,
				CreatedAt:  now,
				ClosedAt:   now,
			}
		}
	}()
	return s.Run(ctx)
}
