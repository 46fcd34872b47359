package sysmon

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/torosent/gamestorm/internal/metrics"
)

type scriptedSampler struct {
	mu    sync.Mutex
	calls int
	out   []Sample
	err   error
}

func (s *scriptedSampler) Sample(context.Context) (Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return Sample{}, s.err
	}
	next := s.out[0]
	if len(s.out) > 1 {
		s.out = s.out[1:]
	}
	return next, nil
}

func TestSampleUsageTakesLargerReading(t *testing.T) {
	s := Sample{CPUPercent: 30, MemoryPercent: 70, ServerCPUPercent: 45, ServerMemoryPercent: 10}
	cpu, mem := s.Usage()
	if cpu != 45 || mem != 70 {
		t.Fatalf("usage = %v/%v, want 45/70", cpu, mem)
	}
}

func TestMonitorRecordsIntoAggregator(t *testing.T) {
	agg := metrics.NewAggregator(metrics.DefaultOptions())
	sampler := &scriptedSampler{out: []Sample{
		{CPUPercent: 10, MemoryPercent: 40},
		{CPUPercent: 90, MemoryPercent: 50},
		{CPUPercent: 20, MemoryPercent: 45},
	}}
	mon := New(sampler, agg, 10*time.Millisecond, zerolog.Nop())
	mon.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for mon.Samples() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	mon.Stop()

	res := agg.Snapshot().Resources
	if res.Samples < 3 {
		t.Fatalf("samples = %d, want at least 3", res.Samples)
	}
	if res.PeakCPUPercent != 90 || res.PeakMemoryPercent != 50 {
		t.Fatalf("peaks = %v/%v, want 90/50", res.PeakCPUPercent, res.PeakMemoryPercent)
	}
	if int64(res.Samples) != mon.Samples() {
		t.Fatalf("aggregator saw %d samples, monitor counted %d", res.Samples, mon.Samples())
	}
}

func TestMonitorSamplesImmediately(t *testing.T) {
	agg := metrics.NewAggregator(metrics.DefaultOptions())
	mon := New(&scriptedSampler{out: []Sample{{CPUPercent: 5, MemoryPercent: 5}}}, agg, time.Hour, zerolog.Nop())
	mon.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for mon.Samples() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	mon.Stop()
	if mon.Samples() != 1 {
		t.Fatalf("samples = %d, want the initial reading only", mon.Samples())
	}
}

func TestMonitorSurvivesSamplerErrors(t *testing.T) {
	agg := metrics.NewAggregator(metrics.DefaultOptions())
	sampler := &scriptedSampler{err: errors.New("no /proc")}
	mon := New(sampler, agg, 5*time.Millisecond, zerolog.Nop())
	mon.Start(context.Background())
	time.Sleep(40 * time.Millisecond)
	mon.Stop()

	sampler.mu.Lock()
	calls := sampler.calls
	sampler.mu.Unlock()
	if calls < 2 {
		t.Fatalf("sampler called %d times, want sampling to continue after an error", calls)
	}
	if agg.Snapshot().Resources.Samples != 0 {
		t.Fatal("failed samples must not be recorded")
	}
}

func TestMonitorStopIsIdempotent(t *testing.T) {
	mon := New(&scriptedSampler{out: []Sample{{}}}, metrics.NewAggregator(metrics.DefaultOptions()), 0, zerolog.Nop())
	if mon.interval != DefaultInterval {
		t.Fatalf("interval = %s, want %s", mon.interval, DefaultInterval)
	}
	mon.Stop()
	mon.Start(context.Background())
	mon.Stop()
	mon.Stop()

	var nilMon *Monitor
	nilMon.Stop()
}

func TestHostSamplerReadsThisProcess(t *testing.T) {
	ctx := context.Background()
	s, err := NewHostSampler(ctx, int32(os.Getpid()))
	if err != nil {
		t.Skipf("process stats unavailable: %v", err)
	}
	got, err := s.Sample(ctx)
	if err != nil {
		t.Skipf("host stats unavailable: %v", err)
	}
	if got.MemoryPercent <= 0 || got.MemoryPercent > 100 {
		t.Errorf("memory percent = %v, want (0, 100]", got.MemoryPercent)
	}
	if got.CPUPercent < 0 || got.ServerCPUPercent < 0 {
		t.Errorf("cpu percent = %v/%v, want non-negative", got.CPUPercent, got.ServerCPUPercent)
	}
	if got.At.IsZero() {
		t.Error("sample time not set")
	}
}
