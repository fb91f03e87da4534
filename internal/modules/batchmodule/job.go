package batchmodule

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/lumapix/lumapix/internal/utils"
)

// updateBuffer bounds the aggregator mailbox. Workers publishing counter
// updates block briefly if the aggregator falls behind.
const updateBuffer = 256

// BatchJob is one tracked batch: its identity, options, live result, and
// the runtime state shared between the ingestion pool and analysis queue.
type BatchJob struct {
	ID         string
	FolderPath string
	Options    BatchOptions
	CreatedAt  time.Time

	mu     sync.RWMutex
	result BatchResult

	// Discovered file list, fixed after the discovery phase. Workers claim
	// entries by atomically incrementing fileIndex.
	files     []string
	fileIndex atomic.Int64

	pauseRequested atomic.Bool

	queue   *taskQueue
	tracker *progressTracker

	updates chan func(*BatchResult)
	aggDone chan struct{}
}

func newBatchJob(folderPath string, opts BatchOptions) *BatchJob {
	job := &BatchJob{
		ID:         utils.GenerateUUID(),
		FolderPath: folderPath,
		Options:    opts,
		CreatedAt:  time.Now(),
		queue:      newTaskQueue(),
		tracker:    newProgressTracker(),
		updates:    make(chan func(*BatchResult), updateBuffer),
		aggDone:    make(chan struct{}),
	}
	job.result = BatchResult{
		Status:    StatusProcessing,
		Phase:     PhaseDiscovery,
		StartedAt: job.CreatedAt,
		Errors:    []ErrorRecord{},
		ImageIDs:  []string{},
	}
	go job.aggregate()
	return job
}

// aggregate is the job's single result mutator. All counter and state
// changes arrive as closures on the updates channel, which serializes them
// without per-field locking in the workers.
func (j *BatchJob) aggregate() {
	defer close(j.aggDone)
	for fn := range j.updates {
		j.mu.Lock()
		fn(&j.result)
		j.mu.Unlock()
	}
}

// apply queues a result mutation for the aggregator.
func (j *BatchJob) apply(fn func(*BatchResult)) {
	j.updates <- fn
}

// applyWait queues a result mutation and blocks until it has been applied.
// State transitions use this so a snapshot taken afterwards observes them.
func (j *BatchJob) applyWait(fn func(*BatchResult)) {
	done := make(chan struct{})
	j.updates <- func(r *BatchResult) {
		fn(r)
		close(done)
	}
	<-done
}

// shutdown stops the aggregator. Only called when the job is removed from
// the registry and no pipeline goroutines remain.
func (j *BatchJob) shutdown() {
	close(j.updates)
	<-j.aggDone
}

// Snapshot returns a deep copy of the current result, refreshed with the
// live throughput estimate and resource usage.
func (j *BatchJob) Snapshot() BatchResult {
	j.mu.RLock()
	snap := j.result
	snap.Errors = append([]ErrorRecord(nil), j.result.Errors...)
	snap.ImageIDs = append([]string(nil), j.result.ImageIDs...)
	j.mu.RUnlock()

	snap.PauseRequested = j.pauseRequested.Load()
	if snap.Status == StatusProcessing {
		snap.FilesPerMinute = j.tracker.FilesPerMinute()
		remaining := snap.TotalFiles - snap.ProcessedFiles + snap.PendingAnalysis + snap.ActiveAnalysis
		snap.ETASeconds = j.tracker.ETASeconds(remaining)
		snap.Resources = snapshotResources()
	}
	return snap
}

// recordError appends an error record and bumps the matching counters.
func (j *BatchJob) recordError(rec ErrorRecord) {
	rec.Timestamp = time.Now()
	j.apply(func(r *BatchResult) {
		r.Errors = append(r.Errors, rec)
	})
}

// analysisIdle reports whether no analysis work exists in any state:
// nothing queued, nothing in flight, nothing waiting out a retry delay.
func (j *BatchJob) analysisIdle() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.result.PendingAnalysis == 0 &&
		j.result.ActiveAnalysis == 0 &&
		j.result.RetryingAnalysis == 0
}

// ingestionDone reports whether every discovered file has been claimed and
// fully handled by the ingestion pool.
func (j *BatchJob) ingestionDone() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.result.ProcessedFiles >= len(j.files)
}
