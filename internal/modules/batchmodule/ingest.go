package batchmodule

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/lumapix/lumapix/internal/database"
	"github.com/lumapix/lumapix/internal/events"
	"github.com/lumapix/lumapix/internal/logger"
	"github.com/lumapix/lumapix/internal/metadata"
	"github.com/lumapix/lumapix/internal/utils"
)

const (
	copyRetries    = 3
	copyRetryBase  = 100 * time.Millisecond
	copyRetryCap   = 30 * time.Second
	gcHintInterval = 10
)

// runIngestion drains the discovered file list with a pool of workers.
// Workers claim files by atomically advancing the shared index, so no file
// is processed twice regardless of pool size. Workers exit when the list
// is exhausted or a pause is requested; the claim index survives pauses.
func (o *Orchestrator) runIngestion(job *BatchJob) {
	var wg sync.WaitGroup
	for i := 0; i < job.Options.ParallelConnections; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if job.pauseRequested.Load() {
					return
				}
				idx := job.fileIndex.Add(1) - 1
				if int(idx) >= len(job.files) {
					return
				}
				o.processFile(job, job.files[idx], idx)
			}
		}()
	}
	wg.Wait()
}

// processFile runs the per-file ingestion pipeline: duplicate check, copy
// into managed storage, preview and thumbnail generation, metadata
// extraction, persistence, and analysis enqueue. Failures are recorded
// against the batch and never abort the pool.
func (o *Orchestrator) processFile(job *BatchJob, path string, idx int64) {
	defer func() {
		job.apply(func(r *BatchResult) {
			r.ProcessedFiles++
		})
		job.tracker.RecordFile()
		if (idx+1)%gcHintInterval == 0 {
			debug.FreeOSMemory()
		}
	}()

	originalName := filepath.Base(path)

	info, err := os.Stat(path)
	if err != nil {
		o.failFile(job, originalName, ErrorTypeProcessing, fmt.Errorf("failed to stat file: %w", err))
		return
	}

	if job.Options.SkipDuplicates {
		dup, err := o.store.FindDuplicate(originalName, info.Size())
		if err != nil {
			o.failFile(job, originalName, ErrorTypeProcessing, err)
			return
		}
		if dup != nil {
			job.apply(func(r *BatchResult) {
				r.DuplicateFiles++
			})
			job.recordError(ErrorRecord{
				File:    originalName,
				Message: fmt.Sprintf("duplicate of image %s", dup.ID),
				Type:    ErrorTypeDuplicate,
			})
			o.bus.PublishAsync(events.Event{
				Type:      events.EventImageDuplicate,
				Source:    "batchmodule",
				Data:      map[string]interface{}{"batch_id": job.ID, "file": originalName, "existing_id": dup.ID},
				Timestamp: time.Now(),
			})
			return
		}
	}

	safeName := utils.GenerateSafeFilename(originalName)
	uploadPath := filepath.Join(o.cfg.Storage.UploadDir, safeName)
	if err := copyWithRetry(path, uploadPath); err != nil {
		o.failFile(job, originalName, ErrorTypeProcessing, err)
		return
	}
	// The upload copy is transient; previews and thumbnails are what we keep.
	defer os.Remove(uploadPath)

	previewData, err := o.codec.Resize(uploadPath, job.Options.AnalysisImageSize, job.Options.Quality)
	if err != nil {
		o.failFile(job, originalName, ErrorTypeProcessing, fmt.Errorf("failed to decode image: %w", err))
		return
	}
	width, height, err := o.codec.Dimensions(previewData)
	if err != nil {
		o.failFile(job, originalName, ErrorTypeProcessing, err)
		return
	}
	thumbData, err := o.codec.Thumbnail(uploadPath, job.Options.ThumbnailSize, job.Options.Quality)
	if err != nil {
		o.failFile(job, originalName, ErrorTypeProcessing, fmt.Errorf("failed to build thumbnail: %w", err))
		return
	}

	base := strings.TrimSuffix(safeName, filepath.Ext(safeName))
	previewPath := filepath.Join(o.cfg.Storage.PreviewDir, base+".jpg")
	thumbPath := filepath.Join(o.cfg.Storage.ThumbnailDir, base+".webp")
	if err := writeManagedFile(previewPath, previewData); err != nil {
		o.failFile(job, originalName, ErrorTypeProcessing, err)
		return
	}
	if err := writeManagedFile(thumbPath, thumbData); err != nil {
		os.Remove(previewPath)
		o.failFile(job, originalName, ErrorTypeProcessing, err)
		return
	}

	// Metadata extraction is best effort: plenty of valid photos carry no
	// EXIF block at all.
	snap, err := o.metadata.Parse(uploadPath)
	if err != nil {
		logger.Debug("no metadata extracted",
			logger.String("file", originalName), logger.Err(err))
	}

	img := &database.Image{
		ID:            utils.GenerateUUID(),
		BatchID:       job.ID,
		OriginalName:  originalName,
		FileName:      safeName,
		Size:          info.Size(),
		MimeType:      utils.ContentTypeForExt(originalName),
		Width:         width,
		Height:        height,
		ThumbnailPath: thumbPath,
		PreviewPath:   previewPath,
		Status:        database.ImageStatusProcessing,
	}
	if err := o.store.InsertImage(img); err != nil {
		os.Remove(previewPath)
		os.Remove(thumbPath)
		o.failFile(job, originalName, ErrorTypeProcessing, err)
		return
	}
	if snap != nil {
		o.persistMetadata(img.ID, snap)
	}

	job.apply(func(r *BatchResult) {
		r.SuccessfulFiles++
		r.BytesProcessed += info.Size()
		r.ImageIDs = append(r.ImageIDs, img.ID)
		r.PendingAnalysis++
	})
	job.queue.Push(&AnalysisTask{
		ImageID:         img.ID,
		BatchID:         job.ID,
		PreviewPath:     previewPath,
		MetadataContext: metadataContext(snap),
		Prompt:          job.Options.Prompt,
	})

	o.bus.PublishAsync(events.Event{
		Type:      events.EventImageIngested,
		Source:    "batchmodule",
		Data:      map[string]interface{}{"batch_id": job.ID, "image_id": img.ID, "file": originalName},
		Timestamp: time.Now(),
	})
}

func (o *Orchestrator) failFile(job *BatchJob, file string, typ ErrorType, err error) {
	job.apply(func(r *BatchResult) {
		r.ErrorFiles++
	})
	job.recordError(ErrorRecord{
		File:    file,
		Message: err.Error(),
		Type:    typ,
	})
	logger.Warn("file ingestion failed",
		logger.String("batch_id", job.ID),
		logger.String("file", file),
		logger.String("type", string(typ)),
		logger.Err(err))
	o.bus.PublishAsync(events.Event{
		Type:      events.EventImageFailed,
		Source:    "batchmodule",
		Message:   err.Error(),
		Data:      map[string]interface{}{"batch_id": job.ID, "file": file},
		Timestamp: time.Now(),
	})
}

func (o *Orchestrator) persistMetadata(imageID string, snap *metadata.Snapshot) {
	fields, err := json.Marshal(snap.Fields)
	if err != nil {
		fields = []byte("{}")
	}
	md := &database.ImageMetadata{
		ImageID:     imageID,
		Fields:      string(fields),
		CameraMake:  snap.CameraMake,
		CameraModel: snap.CameraModel,
		TakenAt:     snap.TakenAt,
	}
	if err := o.store.InsertMetadata(md); err != nil {
		logger.Warn("failed to persist metadata",
			logger.String("image_id", imageID), logger.Err(err))
	}
}

// metadataContext flattens a metadata snapshot into the prompt context map
// consumed by the analysis provider.
func metadataContext(snap *metadata.Snapshot) map[string]string {
	if snap == nil || len(snap.Fields) == 0 {
		return nil
	}
	ctx := make(map[string]string, len(snap.Fields))
	for k, v := range snap.Fields {
		ctx[k] = v
	}
	return ctx
}

// copyWithRetry copies a file into managed storage, retrying transient
// failures with exponential backoff capped at copyRetryCap.
func copyWithRetry(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create upload dir: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= copyRetries; attempt++ {
		_, err := utils.CopyFile(src, dst)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < copyRetries {
			delay := copyRetryBase << (attempt - 1)
			if delay > copyRetryCap {
				delay = copyRetryCap
			}
			time.Sleep(delay)
		}
	}
	return fmt.Errorf("failed to copy after %d attempts: %w", copyRetries, lastErr)
}

func writeManagedFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create storage dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}
