package runner

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/torosent/gamestorm/internal/metrics"
	"github.com/torosent/gamestorm/internal/session"
)

// ArrivalModel selects how sessions are admitted.
type ArrivalModel string

const (
	// ArrivalModelUniform admits BatchSize sessions every BatchDelay.
	ArrivalModelUniform ArrivalModel = "uniform"
	// ArrivalModelPoisson admits sessions one at a time with exponential
	// gaps at the same mean rate.
	ArrivalModelPoisson ArrivalModel = "poisson"
)

// Launcher builds the session for one admission slot. Implementations must
// be safe for concurrent use.
type Launcher interface {
	Session(index int) (*session.Session, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(index int) (*session.Session, error)

func (f LauncherFunc) Session(index int) (*session.Session, error) { return f(index) }

// Sink receives orchestrator-level events such as recovered panics.
type Sink interface {
	Record(metrics.Event)
}

// Options configure the Runner.
type Options struct {
	Sessions       int           // number of sessions to admit
	MaxConcurrency int           // live session bound (0 means Sessions)
	BatchSize      int           // sessions per batch (0 derives from Sessions)
	BatchDelay     time.Duration // delay between batches
	ArrivalModel   ArrivalModel
	RandomSeed     int64
	PoissonSampler func() float64 // optional injection for tests

	Duration    time.Duration // run deadline (0 runs until ctx ends or all sessions finish)
	JoinTimeout time.Duration // grace after the deadline before sessions count as hung

	Launcher Launcher // required
	Sink     Sink
	Logger   zerolog.Logger

	LimiterFactory func(batch int, delay time.Duration) *rate.Limiter // optional injection for tests

	// OnAdmit, when set, is called after each session starts.
	OnAdmit func(ctx context.Context, index int)
}

// DefaultBatchDelay spaces admission batches.
const DefaultBatchDelay = 200 * time.Millisecond

// DefaultBatchSize admits small runs at once and large runs a tenth at a
// time, capped at 20 per batch.
func DefaultBatchSize(sessions int) int {
	if sessions <= 50 {
		return max(sessions, 1)
	}
	return max(min(20, sessions/10), 1)
}

func (o *Options) normalize() {
	if o.Sessions < 0 {
		o.Sessions = 0
	}
	if o.MaxConcurrency <= 0 || o.MaxConcurrency > o.Sessions {
		o.MaxConcurrency = max(o.Sessions, 1)
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize(o.Sessions)
	}
	if o.BatchDelay <= 0 {
		o.BatchDelay = DefaultBatchDelay
	}
	if o.ArrivalModel == "" {
		o.ArrivalModel = ArrivalModelUniform
	}
	if o.RandomSeed == 0 {
		o.RandomSeed = time.Now().UnixNano()
	}
	if o.JoinTimeout <= 0 {
		o.JoinTimeout = 10 * time.Second
	}
	if o.LimiterFactory == nil {
		o.LimiterFactory = func(batch int, delay time.Duration) *rate.Limiter {
			// Burst equal to the batch so each batch is admitted at once.
			return rate.NewLimiter(rate.Every(delay/time.Duration(batch)), batch)
		}
	}
}

// admissionRate is the mean admission rate in sessions per second.
func (o Options) admissionRate() float64 {
	return float64(o.BatchSize) / o.BatchDelay.Seconds()
}
