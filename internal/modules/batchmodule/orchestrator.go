package batchmodule

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/lumapix/lumapix/internal/analysis"
	"github.com/lumapix/lumapix/internal/config"
	"github.com/lumapix/lumapix/internal/events"
	"github.com/lumapix/lumapix/internal/imaging"
	"github.com/lumapix/lumapix/internal/logger"
	"github.com/lumapix/lumapix/internal/mediastore"
	"github.com/lumapix/lumapix/internal/metadata"
)

// progressInterval is how often running batches publish progress events.
const progressInterval = time.Second

// Orchestrator owns the batch registry and drives each batch through the
// discovery, ingestion, and analysis phases.
type Orchestrator struct {
	cfg      *config.Config
	store    mediastore.Store
	codec    imaging.Codec
	metadata metadata.Extractor
	provider analysis.Provider
	bus      *events.Bus

	mu   sync.RWMutex
	jobs map[string]*BatchJob

	running sync.WaitGroup
}

// NewOrchestrator wires the batch pipeline collaborators together.
func NewOrchestrator(cfg *config.Config, store mediastore.Store, codec imaging.Codec, meta metadata.Extractor, provider analysis.Provider, bus *events.Bus) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		codec:    codec,
		metadata: meta,
		provider: provider,
		bus:      bus,
		jobs:     make(map[string]*BatchJob),
	}
}

// BatchSummary is the listing view of one tracked batch.
type BatchSummary struct {
	ID         string      `json:"id"`
	FolderPath string      `json:"folder_path"`
	CreatedAt  time.Time   `json:"created_at"`
	Result     BatchResult `json:"result"`
}

// StartBatch registers a new batch for the folder and starts its pipeline.
// The batch is tracked immediately; discovery and all processing happen
// asynchronously, so the returned result reflects the starting state.
func (o *Orchestrator) StartBatch(folderPath string, opts BatchOptions) (*BatchJob, error) {
	if folderPath == "" {
		return nil, fmt.Errorf("folder path is required")
	}
	opts.normalize(&o.cfg.Batch)

	job := newBatchJob(folderPath, opts)

	o.mu.Lock()
	o.jobs[job.ID] = job
	o.mu.Unlock()

	logger.Info("batch started",
		logger.String("batch_id", job.ID),
		logger.String("folder", folderPath),
		logger.Int("workers", opts.ParallelConnections))

	o.bus.Publish(events.Event{
		Type:      events.EventBatchStarted,
		Source:    "batchmodule",
		Data:      map[string]interface{}{"batch_id": job.ID, "folder": folderPath},
		Timestamp: time.Now(),
	})

	o.running.Add(1)
	go o.runBatch(job, false)
	return job, nil
}

// GetStatus returns a point-in-time snapshot of the batch result.
func (o *Orchestrator) GetStatus(batchID string) (BatchResult, error) {
	job, err := o.getJob(batchID)
	if err != nil {
		return BatchResult{}, err
	}
	return job.Snapshot(), nil
}

// ListBatches returns all tracked batches, newest first.
func (o *Orchestrator) ListBatches() []BatchSummary {
	o.mu.RLock()
	jobs := make([]*BatchJob, 0, len(o.jobs))
	for _, job := range o.jobs {
		jobs = append(jobs, job)
	}
	o.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	summaries := make([]BatchSummary, 0, len(jobs))
	for _, job := range jobs {
		summaries = append(summaries, BatchSummary{
			ID:         job.ID,
			FolderPath: job.FolderPath,
			CreatedAt:  job.CreatedAt,
			Result:     job.Snapshot(),
		})
	}
	return summaries
}

// PauseBatch requests a cooperative pause. The call returns immediately;
// the batch transitions to paused once in-flight ingestion and analysis
// work has drained. Queued items keep their place for resume.
func (o *Orchestrator) PauseBatch(batchID string) (BatchResult, error) {
	job, err := o.getJob(batchID)
	if err != nil {
		return BatchResult{}, err
	}

	snap := job.Snapshot()
	if snap.Status != StatusProcessing {
		return BatchResult{}, fmt.Errorf("batch is not processing: %s", snap.Status)
	}

	job.pauseRequested.Store(true)
	logger.Info("batch pause requested", logger.String("batch_id", batchID))
	return job.Snapshot(), nil
}

// ResumeBatch restarts a paused batch from where it left off: unclaimed
// files are ingested and queued analysis tasks are drained.
func (o *Orchestrator) ResumeBatch(batchID string) (BatchResult, error) {
	job, err := o.getJob(batchID)
	if err != nil {
		return BatchResult{}, err
	}

	// Check-and-set in one aggregator step so concurrent resume calls
	// cannot both claim the paused batch.
	resumed := false
	job.applyWait(func(r *BatchResult) {
		if r.Status == StatusPaused {
			r.Status = StatusProcessing
			resumed = true
		}
	})
	if !resumed {
		snap := job.Snapshot()
		if snap.PauseRequested {
			return BatchResult{}, fmt.Errorf("batch is still draining, retry shortly")
		}
		return BatchResult{}, fmt.Errorf("batch is not paused: %s", snap.Status)
	}

	job.pauseRequested.Store(false)

	logger.Info("batch resumed", logger.String("batch_id", batchID))
	o.bus.Publish(events.Event{
		Type:      events.EventBatchResumed,
		Source:    "batchmodule",
		Data:      map[string]interface{}{"batch_id": batchID},
		Timestamp: time.Now(),
	})

	o.running.Add(1)
	go o.runBatch(job, true)
	return job.Snapshot(), nil
}

// DeleteBatch removes a finished or paused batch: its image records, the
// generated preview and thumbnail files, and the registry entry. Running
// batches must be paused first.
func (o *Orchestrator) DeleteBatch(batchID string) error {
	job, err := o.getJob(batchID)
	if err != nil {
		return err
	}

	snap := job.Snapshot()
	if snap.Status == StatusProcessing {
		return fmt.Errorf("cannot delete a running batch, pause it first")
	}

	images, err := o.store.ListImagesByBatch(batchID)
	if err != nil {
		return fmt.Errorf("failed to list batch images: %w", err)
	}
	for _, img := range images {
		if img.PreviewPath != "" {
			os.Remove(img.PreviewPath)
		}
		if img.ThumbnailPath != "" {
			os.Remove(img.ThumbnailPath)
		}
		if err := o.store.DeleteImage(img.ID); err != nil {
			logger.Warn("failed to delete image record",
				logger.String("image_id", img.ID), logger.Err(err))
		}
	}

	o.mu.Lock()
	delete(o.jobs, batchID)
	o.mu.Unlock()
	job.shutdown()

	logger.Info("batch deleted",
		logger.String("batch_id", batchID),
		logger.Int("images", len(images)))
	o.bus.Publish(events.Event{
		Type:      events.EventBatchDeleted,
		Source:    "batchmodule",
		Data:      map[string]interface{}{"batch_id": batchID},
		Timestamp: time.Now(),
	})
	return nil
}

// ClearCompletedBatches drops completed and failed batches from the
// registry. Image records are untouched; this only trims tracking state.
func (o *Orchestrator) ClearCompletedBatches() int {
	o.mu.Lock()
	var cleared []*BatchJob
	for id, job := range o.jobs {
		snap := job.Snapshot()
		if snap.Status == StatusCompleted || snap.Status == StatusError {
			cleared = append(cleared, job)
			delete(o.jobs, id)
		}
	}
	o.mu.Unlock()

	for _, job := range cleared {
		job.shutdown()
	}
	if len(cleared) > 0 {
		logger.Info("cleared finished batches", logger.Int("count", len(cleared)))
	}
	return len(cleared)
}

// Wait blocks until all running batch pipelines have stopped. Used on
// shutdown after pausing or letting batches finish.
func (o *Orchestrator) Wait() {
	o.running.Wait()
}

func (o *Orchestrator) getJob(batchID string) (*BatchJob, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	job, ok := o.jobs[batchID]
	if !ok {
		return nil, fmt.Errorf("batch not found: %s", batchID)
	}
	return job, nil
}

// runBatch drives one activation of the pipeline: the initial run performs
// discovery first, a resume continues from the recorded position. The
// ingestion pool and the analysis queue run concurrently; the batch
// finalizes once both are drained.
func (o *Orchestrator) runBatch(job *BatchJob, resume bool) {
	defer o.running.Done()

	if !resume {
		files, err := discoverFiles(job.FolderPath)
		if err != nil {
			// The only fatal class: the error log otherwise holds non-fatal
			// entries, so the aborting record is labeled as such.
			job.recordError(ErrorRecord{
				File:    job.FolderPath,
				Message: fmt.Sprintf("batch aborted: %v", err),
				Type:    ErrorTypeProcessing,
			})
			now := time.Now()
			job.applyWait(func(r *BatchResult) {
				r.Status = StatusError
				r.CompletedAt = &now
			})
			logger.Error("batch discovery failed",
				logger.String("batch_id", job.ID), logger.Err(err))
			o.bus.Publish(events.Event{
				Type:      events.EventBatchFailed,
				Source:    "batchmodule",
				Message:   err.Error(),
				Data:      map[string]interface{}{"batch_id": job.ID},
				Timestamp: time.Now(),
			})
			return
		}
		job.files = files
		job.applyWait(func(r *BatchResult) {
			r.TotalFiles = len(files)
			r.Phase = PhaseUploading
		})
		logger.Info("discovery complete",
			logger.String("batch_id", job.ID), logger.Int("files", len(files)))
	} else {
		phase := PhaseUploading
		if int(job.fileIndex.Load()) >= len(job.files) {
			phase = PhaseAnalysis
		}
		job.applyWait(func(r *BatchResult) {
			r.Phase = phase
		})
	}

	stopProgress := o.startProgressPublisher(job)
	defer stopProgress()

	queueDone := make(chan struct{})
	go func() {
		defer close(queueDone)
		o.runAnalysisQueue(job)
	}()

	o.runIngestion(job)
	job.applyWait(func(r *BatchResult) {
		if r.Phase == PhaseUploading && !job.pauseRequested.Load() {
			r.Phase = PhaseAnalysis
		}
	})
	<-queueDone

	// Barrier so all worker-published counter updates are applied before
	// deciding the final state.
	job.applyWait(func(*BatchResult) {})
	drained := job.ingestionDone() && job.analysisIdle() && job.queue.Len() == 0

	if job.pauseRequested.Load() && !drained {
		job.applyWait(func(r *BatchResult) {
			r.Status = StatusPaused
		})
		logger.Info("batch paused", logger.String("batch_id", job.ID))
		o.bus.Publish(events.Event{
			Type:      events.EventBatchPaused,
			Source:    "batchmodule",
			Data:      map[string]interface{}{"batch_id": job.ID},
			Timestamp: time.Now(),
		})
		return
	}

	// A pause that lands after everything drained has nothing to hold back.
	job.pauseRequested.Store(false)

	now := time.Now()
	job.applyWait(func(r *BatchResult) {
		r.Phase = PhaseFinalizing
		r.Status = StatusCompleted
		r.CompletedAt = &now
	})

	final := job.Snapshot()
	logger.Info("batch completed",
		logger.String("batch_id", job.ID),
		logger.Int("successful", final.SuccessfulFiles),
		logger.Int("duplicates", final.DuplicateFiles),
		logger.Int("errors", final.ErrorFiles),
		logger.Int("analyzed", final.CompletedAnalysis),
		logger.Int("analysis_failed", final.FailedAnalysis))
	o.bus.Publish(events.Event{
		Type:      events.EventBatchCompleted,
		Source:    "batchmodule",
		Data:      map[string]interface{}{"batch_id": job.ID, "result": final},
		Timestamp: time.Now(),
	})
}

// startProgressPublisher emits periodic progress events while the batch
// runs. The returned stop function is idempotent for the caller's defer.
func (o *Orchestrator) startProgressPublisher(job *BatchJob) func() {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				o.bus.PublishAsync(events.Event{
					Type:      events.EventBatchProgress,
					Source:    "batchmodule",
					Data:      map[string]interface{}{"batch_id": job.ID, "result": job.Snapshot()},
					Timestamp: time.Now(),
				})
			}
		}
	}()
	return func() { close(stop) }
}
