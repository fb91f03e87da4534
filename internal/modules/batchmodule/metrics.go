package batchmodule

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// rateWindow bounds how many recent samples feed the throughput estimate.
// A sliding window keeps the rate responsive to slowdowns late in a batch.
const rateWindow = 50

// progressTracker estimates throughput and remaining time from recent
// file completions. It is advisory only and never gates pipeline behavior.
type progressTracker struct {
	mu      sync.Mutex
	started time.Time
	samples []time.Time
}

func newProgressTracker() *progressTracker {
	return &progressTracker{started: time.Now()}
}

// RecordFile notes one processed file.
func (p *progressTracker) RecordFile() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.samples = append(p.samples, time.Now())
	if len(p.samples) > rateWindow {
		p.samples = p.samples[len(p.samples)-rateWindow:]
	}
}

// FilesPerMinute returns the current throughput estimate. With fewer than
// two samples there is no meaningful rate and zero is returned.
func (p *progressTracker) FilesPerMinute() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.samples) < 2 {
		return 0
	}
	span := p.samples[len(p.samples)-1].Sub(p.samples[0])
	if span <= 0 {
		return 0
	}
	return float64(len(p.samples)-1) / span.Minutes()
}

// ETASeconds estimates seconds until the given number of remaining files
// completes at the current rate. Zero means no estimate is available.
func (p *progressTracker) ETASeconds(remaining int) float64 {
	if remaining <= 0 {
		return 0
	}
	rate := p.FilesPerMinute()
	if rate <= 0 {
		return 0
	}
	return float64(remaining) / rate * 60
}

// snapshotResources samples process memory and CPU usage. Failures degrade
// to a zeroed snapshot rather than surfacing an error; resource telemetry
// is never worth failing a batch over.
func snapshotResources() ResourceSnapshot {
	snap := ResourceSnapshot{
		Goroutines: runtime.NumGoroutine(),
		Timestamp:  time.Now(),
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return snap
	}

	var rss uint64
	if memInfo, err := proc.MemoryInfo(); err == nil && memInfo != nil {
		rss = memInfo.RSS
		snap.MemoryMB = float64(rss) / (1024 * 1024)
	}
	if cpu, err := proc.CPUPercent(); err == nil {
		snap.CPUPercent = cpu
	}
	if vm, err := mem.VirtualMemory(); err == nil && vm != nil && vm.Total > 0 {
		snap.MemoryPercent = float64(rss) / float64(vm.Total) * 100
	}
	return snap
}
