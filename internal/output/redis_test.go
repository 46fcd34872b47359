package output

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/torosent/gamestorm/internal/metrics"
)

type fakePublisher struct {
	channel string
	payload []byte
	err     error
}

func (f *fakePublisher) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channel = channel
	f.payload, _ = message.([]byte)
	return redis.NewIntResult(1, f.err)
}

func TestRedisPublisher(t *testing.T) {
	fake := &fakePublisher{}
	p := NewRedisPublisher(fake, "gamestorm:snapshots")

	if err := p.WriteSnapshot(metrics.Snapshot{FramesSent: 42, SessionsInZone: 3}); err != nil {
		t.Fatalf("WriteSnapshot() error = %v", err)
	}
	if fake.channel != "gamestorm:snapshots" {
		t.Errorf("channel = %q", fake.channel)
	}
	var decoded map[string]any
	if err := json.Unmarshal(fake.payload, &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if decoded["frames_sent"] != float64(42) || decoded["sessions_in_zone"] != float64(3) {
		t.Errorf("payload = %v", decoded)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close() without a dialed client = %v", err)
	}
}

func TestRedisPublisherError(t *testing.T) {
	boom := errors.New("connection reset")
	p := NewRedisPublisher(&fakePublisher{err: boom}, "c")
	if err := p.WriteSnapshot(metrics.Snapshot{}); !errors.Is(err, boom) {
		t.Fatalf("WriteSnapshot() error = %v", err)
	}
}

func TestDialRedisBadURL(t *testing.T) {
	if _, err := DialRedis(context.Background(), "http://not-redis", "c"); err == nil {
		t.Fatal("expected url error")
	}
}
