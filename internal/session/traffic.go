package session

import (
	"math/rand/v2"
	"time"

	"github.com/torosent/gamestorm/internal/wire"
)

var chatMessages = []string{
	"hello",
	"anyone around?",
	"gg",
	"heading north",
	"need backup",
	"lag check",
	"nice move",
	"brb",
}

// movements are the non-conflicting WASD combinations.
var movements = []uint32{
	wire.InputForward,
	wire.InputBackward,
	wire.InputLeft,
	wire.InputRight,
	wire.InputForward | wire.InputLeft,
	wire.InputForward | wire.InputRight,
	wire.InputBackward | wire.InputLeft,
	wire.InputBackward | wire.InputRight,
}

const (
	minPatternHold = 500 * time.Millisecond
	maxPatternHold = 3 * time.Second
	movingShare    = 0.8
	mouseRange     = 100
)

// traffic synthesizes player behaviour. It belongs to the outbound loop.
type traffic struct {
	rng        *rand.Rand
	flags      uint32
	nextChange time.Time
}

func newTraffic(rng *rand.Rand) *traffic {
	return &traffic{rng: rng}
}

// inputFlags holds a movement pattern for 0.5-3s, moving 80% of the time.
func (t *traffic) inputFlags(now time.Time) uint32 {
	if now.Before(t.nextChange) {
		return t.flags
	}
	if t.rng.Float64() < movingShare {
		t.flags = movements[t.rng.IntN(len(movements))]
	} else {
		t.flags = 0
	}
	hold := minPatternHold + time.Duration(t.rng.Int64N(int64(maxPatternHold-minPatternHold)))
	t.nextChange = now.Add(hold)
	return t.flags
}

func (t *traffic) mouse() wire.Vec3 {
	return wire.Vec3{
		X: (t.rng.Float32()*2 - 1) * mouseRange,
		Y: 0,
		Z: (t.rng.Float32()*2 - 1) * mouseRange,
	}
}

func (t *traffic) chat() string {
	return chatMessages[t.rng.IntN(len(chatMessages))]
}

// jitter returns interval shifted uniformly within +/- spread, never below
// one millisecond.
func (t *traffic) jitter(interval, spread time.Duration) time.Duration {
	if spread > 0 {
		interval += time.Duration(t.rng.Int64N(int64(2*spread)+1)) - spread
	}
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	return interval
}
