package batchmodule

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lumapix/lumapix/internal/database"
	"github.com/lumapix/lumapix/internal/events"
	"github.com/lumapix/lumapix/internal/logger"
	"github.com/lumapix/lumapix/internal/utils"
)

// queueIdlePoll is how often the drainer re-checks an empty queue while
// ingestion is still producing tasks or retries are waiting to re-enqueue.
const queueIdlePoll = 100 * time.Millisecond

// runAnalysisQueue drains the batch's analysis queue in bounded groups of
// MaxConcurrentAnalysis tasks. Each group settles fully before the next is
// popped, and the optional rate limiter enforces minimum spacing between
// groups. The drainer exits when the queue is fully drained after
// ingestion finished, or at the next group boundary after a pause request.
func (o *Orchestrator) runAnalysisQueue(job *BatchJob) {
	var limiter *utils.IntervalLimiter
	if job.Options.EnableRateLimit {
		limiter = utils.NewIntervalLimiter(job.Options.RateLimitInterval)
	}

	// Tracks retry timers still sleeping before their re-enqueue. A pause
	// waits these out so no task is lost between retrying and pending.
	var retries sync.WaitGroup
	defer retries.Wait()

	for {
		if job.pauseRequested.Load() {
			return
		}

		tasks := job.queue.PopN(job.Options.MaxConcurrentAnalysis)
		if len(tasks) == 0 {
			// Flush worker updates before judging the counters.
			job.applyWait(func(*BatchResult) {})
			if job.ingestionDone() && job.queue.Len() == 0 && job.analysisIdle() {
				return
			}
			time.Sleep(queueIdlePoll)
			continue
		}

		if limiter != nil {
			limiter.Wait(context.Background())
		}

		job.applyWait(func(r *BatchResult) {
			r.PendingAnalysis -= len(tasks)
			r.ActiveAnalysis += len(tasks)
		})

		var group errgroup.Group
		for _, task := range tasks {
			task := task
			group.Go(func() error {
				o.analyzeTask(job, task, &retries)
				return nil
			})
		}
		group.Wait()
	}
}

// analyzeTask runs one analysis attempt and settles its outcome: persist
// on success, schedule a retry on failure, or mark the image failed once
// retries are exhausted.
func (o *Orchestrator) analyzeTask(job *BatchJob, task *AnalysisTask, retries *sync.WaitGroup) {
	o.bus.PublishAsync(events.Event{
		Type:      events.EventAnalysisStarted,
		Source:    "batchmodule",
		Data:      map[string]interface{}{"batch_id": job.ID, "image_id": task.ImageID, "attempt": task.RetryCount + 1},
		Timestamp: time.Now(),
	})

	result, err := o.provider.Analyze(context.Background(), task.PreviewPath, task.Prompt, task.MetadataContext)
	if err == nil {
		keywords, merr := json.Marshal(result.Keywords)
		if merr != nil {
			keywords = []byte("[]")
		}
		if serr := o.store.InsertAnalysis(&database.ImageAnalysis{
			ImageID:     task.ImageID,
			Description: result.Description,
			Caption:     result.Caption,
			Keywords:    string(keywords),
			Confidence:  result.Confidence,
			Model:       result.Model,
		}); serr != nil {
			err = fmt.Errorf("failed to store analysis: %w", serr)
		} else if serr := o.store.UpdateImageStatus(task.ImageID, database.ImageStatusCompleted, ""); serr != nil {
			logger.Warn("failed to mark image completed",
				logger.String("image_id", task.ImageID), logger.Err(serr))
		}
	}

	if err == nil {
		job.apply(func(r *BatchResult) {
			r.ActiveAnalysis--
			r.CompletedAnalysis++
		})
		o.bus.PublishAsync(events.Event{
			Type:      events.EventAnalysisDone,
			Source:    "batchmodule",
			Data:      map[string]interface{}{"batch_id": job.ID, "image_id": task.ImageID},
			Timestamp: time.Now(),
		})
		return
	}

	// RetryCount counts attempts made; a task is terminal once it has used
	// up all maxRetries attempts.
	attempts := task.RetryCount + 1
	if attempts < job.Options.MaxRetries {
		task.RetryCount = attempts
		job.apply(func(r *BatchResult) {
			r.ActiveAnalysis--
			r.RetryingAnalysis++
		})
		logger.Warn("analysis failed, scheduling retry",
			logger.String("batch_id", job.ID),
			logger.String("image_id", task.ImageID),
			logger.Int("attempt", task.RetryCount),
			logger.Int("max_retries", job.Options.MaxRetries),
			logger.Err(err))
		o.bus.PublishAsync(events.Event{
			Type:      events.EventAnalysisRetry,
			Source:    "batchmodule",
			Message:   err.Error(),
			Data:      map[string]interface{}{"batch_id": job.ID, "image_id": task.ImageID, "attempt": task.RetryCount},
			Timestamp: time.Now(),
		})

		retries.Add(1)
		go func() {
			defer retries.Done()
			time.Sleep(job.Options.RetryDelay)
			job.apply(func(r *BatchResult) {
				r.RetryingAnalysis--
				r.PendingAnalysis++
			})
			job.queue.Push(task)
		}()
		return
	}

	// Retries exhausted. The image keeps its ingested artifacts but is
	// marked failed so a later re-run can pick it up.
	task.RetryCount = attempts
	message := fmt.Sprintf("analysis failed after %d attempts: %v", attempts, err)
	if serr := o.store.UpdateImageStatus(task.ImageID, database.ImageStatusError, message); serr != nil {
		logger.Warn("failed to mark image errored",
			logger.String("image_id", task.ImageID), logger.Err(serr))
	}
	job.apply(func(r *BatchResult) {
		r.ActiveAnalysis--
		r.FailedAnalysis++
	})
	job.recordError(ErrorRecord{
		ImageID:    task.ImageID,
		Message:    message,
		Type:       ErrorTypeRetryExhausted,
		RetryCount: task.RetryCount,
	})
	logger.Error("analysis retries exhausted",
		logger.String("batch_id", job.ID),
		logger.String("image_id", task.ImageID),
		logger.Err(err))
	o.bus.PublishAsync(events.Event{
		Type:      events.EventAnalysisFailed,
		Source:    "batchmodule",
		Message:   message,
		Data:      map[string]interface{}{"batch_id": job.ID, "image_id": task.ImageID},
		Timestamp: time.Now(),
	})
}
