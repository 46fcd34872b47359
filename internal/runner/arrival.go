package runner

import (
	"context"
	"math"
	"math/rand"
	"time"

	"golang.org/x/time/rate"
)

// arrivalController paces admission. next blocks until the next group of
// sessions may start and returns its size.
type arrivalController interface {
	next(ctx context.Context) (int, error)
}

func newArrivalController(opt Options) arrivalController {
	switch opt.ArrivalModel {
	case ArrivalModelPoisson:
		sampler := opt.PoissonSampler
		if sampler == nil {
			seeded := rand.New(rand.NewSource(opt.RandomSeed))
			sampler = seeded.ExpFloat64
		}
		return &poissonArrival{rate: opt.admissionRate(), sample: sampler}
	default:
		return &uniformArrival{
			limiter: opt.LimiterFactory(opt.BatchSize, opt.BatchDelay),
			batch:   opt.BatchSize,
		}
	}
}

// uniformArrival admits fixed batches through a rate.Limiter whose burst is
// the batch size.
type uniformArrival struct {
	limiter *rate.Limiter
	batch   int
}

func (u *uniformArrival) next(ctx context.Context) (int, error) {
	if u.limiter == nil {
		return u.batch, ctx.Err()
	}
	if err := u.limiter.WaitN(ctx, u.batch); err != nil {
		return 0, err
	}
	return u.batch, nil
}

// poissonArrival samples exponential inter-arrival times to approximate a
// Poisson process.
type poissonArrival struct {
	rate    float64
	sample  func() float64
	started bool
}

func (p *poissonArrival) next(ctx context.Context) (int, error) {
	if !p.started {
		p.started = true
		return 1, ctx.Err()
	}
	delay := p.nextDelay()
	if delay <= 0 {
		return 1, ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-timer.C:
		return 1, nil
	}
}

func (p *poissonArrival) nextDelay() time.Duration {
	if p.rate <= 0 || p.sample == nil {
		return 0
	}
	delay := float64(time.Second) * p.sample() / p.rate
	if delay > math.MaxInt64 {
		delay = math.MaxInt64
	}
	return time.Duration(delay)
}
