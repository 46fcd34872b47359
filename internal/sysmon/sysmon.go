// Package sysmon samples host CPU and memory usage while a run is in
// progress, so saturation of the load generator or a co-located server shows
// up next to the wire metrics.
package sysmon

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// DefaultInterval is the sampling period when none is configured.
const DefaultInterval = 2 * time.Second

// Sample is one reading. Server fields are zero unless a server process is
// watched.
type Sample struct {
	At                  time.Time
	CPUPercent          float64
	MemoryPercent       float64
	ServerCPUPercent    float64
	ServerMemoryPercent float64
}

// Usage is what gets recorded: the larger of the host and server readings.
func (s Sample) Usage() (cpuPct, memPct float64) {
	return max(s.CPUPercent, s.ServerCPUPercent), max(s.MemoryPercent, s.ServerMemoryPercent)
}

// Sampler takes one reading.
type Sampler interface {
	Sample(ctx context.Context) (Sample, error)
}

// Recorder receives each reading. metrics.Aggregator implements it.
type Recorder interface {
	RecordResources(cpu, mem float64)
}

// HostSampler reads system-wide usage through gopsutil and, when Process is
// set, the usage of that one process.
type HostSampler struct {
	Process *process.Process
}

// NewHostSampler watches the host and, for pid > 0, the server process.
func NewHostSampler(ctx context.Context, pid int32) (*HostSampler, error) {
	s := &HostSampler{}
	if pid > 0 {
		p, err := process.NewProcessWithContext(ctx, pid)
		if err != nil {
			return nil, fmt.Errorf("watch server process %d: %w", pid, err)
		}
		s.Process = p
	}
	return s, nil
}

func (h *HostSampler) Sample(ctx context.Context) (Sample, error) {
	out := Sample{At: time.Now()}

	// A zero interval compares against the previous call instead of blocking.
	pct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return out, fmt.Errorf("cpu: %w", err)
	}
	if len(pct) > 0 {
		out.CPUPercent = pct[0]
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return out, fmt.Errorf("memory: %w", err)
	}
	out.MemoryPercent = vm.UsedPercent

	if h.Process == nil {
		return out, nil
	}
	if out.ServerCPUPercent, err = h.Process.PercentWithContext(ctx, 0); err != nil {
		return out, fmt.Errorf("server process cpu: %w", err)
	}
	m, err := h.Process.MemoryPercentWithContext(ctx)
	if err != nil {
		return out, fmt.Errorf("server process memory: %w", err)
	}
	out.ServerMemoryPercent = float64(m)
	return out, nil
}

// Monitor samples on a ticker until stopped.
type Monitor struct {
	sampler  Sampler
	rec      Recorder
	interval time.Duration
	log      zerolog.Logger

	warned   bool
	samples  atomic.Int64
	cancel   context.CancelFunc
	finished chan struct{}
	active   atomic.Int32
}

// New builds a monitor. A non-positive interval uses DefaultInterval.
func New(sampler Sampler, rec Recorder, interval time.Duration, log zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		sampler:  sampler,
		rec:      rec,
		interval: interval,
		log:      log,
		finished: make(chan struct{}),
	}
}

// Start takes a first reading right away and then one per interval in a
// background goroutine.
func (m *Monitor) Start(ctx context.Context) {
	if !m.active.CompareAndSwap(0, 1) {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	go m.run(ctx)
}

// Stop halts sampling and waits for the goroutine to exit.
func (m *Monitor) Stop() {
	if m == nil || !m.active.CompareAndSwap(1, 2) {
		return
	}
	m.cancel()
	<-m.finished
}

// Samples reports how many readings were recorded.
func (m *Monitor) Samples() int64 {
	return m.samples.Load()
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.finished)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.tick(ctx)
	for {
		select {
		case <-ticker.C:
			m.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	s, err := m.sampler.Sample(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		// Report the first failure only; later ticks keep trying.
		if !m.warned {
			m.log.Warn().Err(err).Msg("resource sample failed")
			m.warned = true
		}
		return
	}
	cpuPct, memPct := s.Usage()
	m.rec.RecordResources(cpuPct, memPct)
	m.samples.Add(1)
	m.log.Debug().
		Float64("cpu_percent", cpuPct).
		Float64("memory_percent", memPct).
		Msg("resource sample")
}
