package runner_test

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/torosent/gamestorm/internal/credentials"
	"github.com/torosent/gamestorm/internal/metrics"
	"github.com/torosent/gamestorm/internal/runner"
	"github.com/torosent/gamestorm/internal/session"
	"github.com/torosent/gamestorm/internal/stubserver"
)

func sessionConfig(target string) session.Config {
	return session.Config{
		Target:       target,
		ZoneID:       1,
		PollTimeout:  20 * time.Millisecond,
		DrainTimeout: 50 * time.Millisecond,
		SendInterval: 20 * time.Millisecond,
	}
}

func launcher(cfg session.Config, sink session.Sink, opts ...session.Option) runner.LauncherFunc {
	accounts := credentials.NewStaticProvider("", 0)
	return func(index int) (*session.Session, error) {
		acct, err := accounts.For(index)
		if err != nil {
			return nil, err
		}
		return session.New(index, cfg, acct, sink, opts...), nil
	}
}

func TestRunnerHundredSessionsAgainstStub(t *testing.T) {
	srv, err := stubserver.Listen("127.0.0.1:0", stubserver.Options{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { srv.Close() })

	agg := metrics.NewAggregator(metrics.DefaultOptions())
	agg.Start()

	const sessions = 100
	r := runner.New(runner.Options{
		Sessions:    sessions,
		BatchSize:   25,
		BatchDelay:  20 * time.Millisecond,
		Duration:    time.Second,
		JoinTimeout: 5 * time.Second,
		Launcher:    launcher(sessionConfig(srv.Addr()), agg),
		Sink:        agg,
	})
	res := r.Run(context.Background())

	if len(res.Reports) != sessions || res.Admitted != sessions || res.Hung != 0 {
		t.Fatalf("reports = %d admitted = %d hung = %d", len(res.Reports), res.Admitted, res.Hung)
	}
	for i, rep := range res.Reports {
		if rep.SessionID != i {
			t.Fatalf("report %d has session id %d", i, rep.SessionID)
		}
		if rep.FinalState != session.Closed {
			t.Fatalf("session %d final state = %s err = %v", i, rep.FinalState, rep.Err)
		}
	}

	sum := runner.Summarize(res, runner.SummaryInput{
		Target:         srv.Addr(),
		TargetSessions: sessions,
		SendInterval:   20 * time.Millisecond,
		Snapshot:       agg.Snapshot(),
	})
	if sum.ConnectionSuccessRate != 100 {
		t.Fatalf("connection success = %v", sum.ConnectionSuccessRate)
	}
	if sum.ReachedActive != sessions || sum.Inconclusive {
		t.Fatalf("reached active = %d inconclusive = %v", sum.ReachedActive, sum.Inconclusive)
	}
	if sum.FinalStates["closed"] != sessions {
		t.Fatalf("final states = %v", sum.FinalStates)
	}
	if srv.Stats().Logins != sessions {
		t.Fatalf("stub saw %d logins", srv.Stats().Logins)
	}
}

func TestRunnerBoundsConcurrency(t *testing.T) {
	srv, err := stubserver.Listen("127.0.0.1:0", stubserver.Options{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { srv.Close() })

	// Sessions stay active until the deadline, so only the first three
	// ever hold a slot.
	cfg := sessionConfig(srv.Addr())
	cfg.FramesLimit = 1
	var admitted atomic.Int64
	r := runner.New(runner.Options{
		Sessions:       12,
		MaxConcurrency: 3,
		BatchSize:      12,
		Duration:       300 * time.Millisecond,
		JoinTimeout:    2 * time.Second,
		Launcher:       launcher(cfg, metrics.NewAggregator(metrics.DefaultOptions())),
		OnAdmit:        func(context.Context, int) { admitted.Add(1) },
	})
	res := r.Run(context.Background())

	if res.Admitted != 3 || admitted.Load() != 3 {
		t.Fatalf("admitted = %d (hook %d), want 3", res.Admitted, admitted.Load())
	}
	if len(res.Reports) != 3 || res.Hung != 0 {
		t.Fatalf("reports = %d hung = %d", len(res.Reports), res.Hung)
	}
	if srv.Stats().Accepted != 3 {
		t.Fatalf("stub accepted %d connections", srv.Stats().Accepted)
	}
}

// blockingDialer ignores its context so the session it serves hangs.
type blockingDialer struct{ release chan struct{} }

func (d blockingDialer) DialContext(context.Context, string, string) (net.Conn, error) {
	<-d.release
	return nil, errors.New("released")
}

func TestRunnerCountsHungSessions(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	r := runner.New(runner.Options{
		Sessions:    2,
		Duration:    50 * time.Millisecond,
		JoinTimeout: 50 * time.Millisecond,
		Launcher:    launcher(sessionConfig("127.0.0.1:1"), metrics.NewAggregator(metrics.DefaultOptions()), session.WithDialer(blockingDialer{release})),
	})
	start := time.Now()
	res := r.Run(context.Background())

	if res.Hung != 2 || len(res.Reports) != 0 {
		t.Fatalf("hung = %d reports = %d", res.Hung, len(res.Reports))
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("runner waited %s for hung sessions", elapsed)
	}
}

type panicDialer struct{}

func (panicDialer) DialContext(context.Context, string, string) (net.Conn, error) {
	panic("dialer exploded")
}

func TestRunnerReportsPanickingSessionAsFailed(t *testing.T) {
	agg := metrics.NewAggregator(metrics.DefaultOptions())
	agg.Start()
	r := runner.New(runner.Options{
		Sessions:    3,
		Duration:    time.Second,
		JoinTimeout: time.Second,
		Launcher:    launcher(sessionConfig("127.0.0.1:1"), agg, session.WithDialer(panicDialer{})),
		Sink:        agg,
	})
	res := r.Run(context.Background())

	if len(res.Reports) != 3 {
		t.Fatalf("reports = %d", len(res.Reports))
	}
	for _, rep := range res.Reports {
		if rep.FinalState != session.Failed || rep.ErrorKind != metrics.ErrorPanic {
			t.Fatalf("report = state %s kind %s", rep.FinalState, rep.ErrorKind)
		}
	}
	if got := agg.Snapshot().Errors[metrics.ErrorPanic]; got != 3 {
		t.Fatalf("panic errors = %d", got)
	}
	sum := runner.Summarize(res, runner.SummaryInput{TargetSessions: 3, SendInterval: time.Millisecond, Snapshot: agg.Snapshot()})
	if !sum.Inconclusive {
		t.Fatal("run with no active session should be inconclusive")
	}
}

func TestRunnerStopsAdmissionOnLauncherError(t *testing.T) {
	boom := errors.New("no more accounts")
	r := runner.New(runner.Options{
		Sessions: 5,
		Duration: time.Second,
		Launcher: runner.LauncherFunc(func(int) (*session.Session, error) { return nil, boom }),
	})
	res := r.Run(context.Background())
	if !errors.Is(res.Err, boom) {
		t.Fatalf("Err = %v", res.Err)
	}
	if res.Admitted != 0 || len(res.Reports) != 0 {
		t.Fatalf("admitted = %d reports = %d", res.Admitted, len(res.Reports))
	}
}
