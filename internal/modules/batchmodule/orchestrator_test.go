package batchmodule

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/lumapix/lumapix/internal/analysis"
	"github.com/lumapix/lumapix/internal/config"
	"github.com/lumapix/lumapix/internal/database"
	"github.com/lumapix/lumapix/internal/events"
	"github.com/lumapix/lumapix/internal/imaging"
	"github.com/lumapix/lumapix/internal/mediastore"
	"github.com/lumapix/lumapix/internal/metadata"
)

const (
	waitFor = 10 * time.Second
	tick    = 10 * time.Millisecond
)

// fakeProvider is a scripted analysis provider. failPerImage controls how
// many leading attempts fail for every image; delay simulates call
// latency; concurrency high-water mark is tracked for bound assertions.
type fakeProvider struct {
	mu            sync.Mutex
	attempts      map[string]int
	failPerImage  int
	failAlways    bool
	delay         time.Duration
	gate          chan struct{} // when set, calls block until it closes
	inFlight      int
	maxInFlight   int
	totalAttempts int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{attempts: map[string]int{}}
}

func (p *fakeProvider) Analyze(ctx context.Context, previewPath, prompt string, metadataContext map[string]string) (*analysis.Result, error) {
	p.mu.Lock()
	p.inFlight++
	if p.inFlight > p.maxInFlight {
		p.maxInFlight = p.inFlight
	}
	p.attempts[previewPath]++
	p.totalAttempts++
	attempt := p.attempts[previewPath]
	gate := p.gate
	p.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if p.delay > 0 {
		time.Sleep(p.delay)
	}

	p.mu.Lock()
	p.inFlight--
	p.mu.Unlock()

	if p.failAlways || attempt <= p.failPerImage {
		return nil, fmt.Errorf("scripted failure on attempt %d", attempt)
	}
	return &analysis.Result{
		Description: "A test photograph.",
		Caption:     "Test photo",
		Keywords:    []string{"test"},
		Confidence:  0.9,
		Model:       "fake",
	}, nil
}

func (p *fakeProvider) stats() (maxInFlight, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxInFlight, p.totalAttempts
}

func fastOptions() BatchOptions {
	return BatchOptions{
		ThumbnailSize:         64,
		AnalysisImageSize:     128,
		Quality:               80,
		SkipDuplicates:        true,
		ParallelConnections:   2,
		MaxConcurrentAnalysis: 2,
		MaxRetries:            3,
		RetryDelay:            10 * time.Millisecond,
		EnableRateLimit:       false,
	}
}

func newTestOrchestrator(t *testing.T, provider analysis.Provider) (*Orchestrator, mediastore.Store) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	// A plain :memory: DSN gives every pooled connection its own empty
	// database; pin the pool to one connection so all queries see the
	// migrated schema.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))

	dataDir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.DataDir = dataDir
	cfg.Storage.UploadDir = filepath.Join(dataDir, "uploads")
	cfg.Storage.PreviewDir = filepath.Join(dataDir, "previews")
	cfg.Storage.ThumbnailDir = filepath.Join(dataDir, "thumbnails")

	bus := events.NewBus()
	t.Cleanup(bus.Stop)

	store := mediastore.New(db)
	o := NewOrchestrator(cfg, store, imaging.NewProcessor(), metadata.NewExtractor(), provider, bus)
	t.Cleanup(o.Wait)
	return o, store
}

func writeTestJPEG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
}

func photoFolder(t *testing.T, count int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < count; i++ {
		writeTestJPEG(t, filepath.Join(dir, fmt.Sprintf("photo_%02d.jpg", i)), 120+i, 80)
	}
	return dir
}

func waitForStatus(t *testing.T, o *Orchestrator, batchID string, want BatchStatus) BatchResult {
	t.Helper()
	var last BatchResult
	require.Eventually(t, func() bool {
		result, err := o.GetStatus(batchID)
		if err != nil {
			return false
		}
		last = result
		return result.Status == want
	}, waitFor, tick, "batch never reached status %s (last: %+v)", want, last)
	result, err := o.GetStatus(batchID)
	require.NoError(t, err)
	return result
}

func TestBatchCompletesEndToEnd(t *testing.T) {
	provider := newFakeProvider()
	o, store := newTestOrchestrator(t, provider)

	dir := photoFolder(t, 3)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not a photo"), 0644))
	writeTestJPEG(t, filepath.Join(dir, "nested", "deep.jpg"), 100, 100)

	job, err := o.StartBatch(dir, fastOptions())
	require.NoError(t, err)

	result := waitForStatus(t, o, job.ID, StatusCompleted)

	assert.Equal(t, 4, result.TotalFiles, "txt file is not discovered")
	assert.Equal(t, 4, result.ProcessedFiles)
	assert.Equal(t, 4, result.SuccessfulFiles)
	assert.Equal(t, 0, result.ErrorFiles)
	assert.Equal(t, 4, result.CompletedAnalysis)
	assert.Equal(t, 0, result.PendingAnalysis)
	assert.Equal(t, 0, result.ActiveAnalysis)
	assert.Len(t, result.ImageIDs, 4)
	assert.NotNil(t, result.CompletedAt)

	images, err := store.ListImagesByBatch(job.ID)
	require.NoError(t, err)
	require.Len(t, images, 4)
	for _, img := range images {
		assert.Equal(t, database.ImageStatusCompleted, img.Status)
		assert.FileExists(t, img.PreviewPath)
		assert.FileExists(t, img.ThumbnailPath)

		full, err := store.GetImage(img.ID)
		require.NoError(t, err)
		require.NotNil(t, full.Analysis)
		assert.Equal(t, "Test photo", full.Analysis.Caption)
	}
}

func TestBatchCountsAccountForEveryFile(t *testing.T) {
	provider := newFakeProvider()
	o, _ := newTestOrchestrator(t, provider)

	dir := photoFolder(t, 3)
	// Valid extension, garbage content: decodes nowhere.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.jpg"), []byte("not an image"), 0644))

	job, err := o.StartBatch(dir, fastOptions())
	require.NoError(t, err)

	result := waitForStatus(t, o, job.ID, StatusCompleted)
	assert.Equal(t, 4, result.TotalFiles)
	assert.Equal(t, result.TotalFiles, result.SuccessfulFiles+result.DuplicateFiles+result.ErrorFiles)
	assert.Equal(t, 1, result.ErrorFiles)

	var sawProcessing bool
	for _, rec := range result.Errors {
		if rec.Type == ErrorTypeProcessing && rec.File == "broken.jpg" {
			sawProcessing = true
		}
	}
	assert.True(t, sawProcessing, "broken file is logged as a processing error: %+v", result.Errors)
}

func TestDuplicateDetection(t *testing.T) {
	provider := newFakeProvider()
	o, _ := newTestOrchestrator(t, provider)

	dir := t.TempDir()
	writeTestJPEG(t, filepath.Join(dir, "a", "cat.jpg"), 100, 100)
	src, err := os.ReadFile(filepath.Join(dir, "a", "cat.jpg"))
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "b"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b", "cat.jpg"), src, 0644))

	opts := fastOptions()
	opts.ParallelConnections = 1 // deterministic ordering for the dup check
	job, err := o.StartBatch(dir, opts)
	require.NoError(t, err)

	result := waitForStatus(t, o, job.ID, StatusCompleted)
	assert.Equal(t, 2, result.TotalFiles)
	assert.Equal(t, 1, result.SuccessfulFiles)
	assert.Equal(t, 1, result.DuplicateFiles)

	require.Len(t, result.Errors, 1)
	assert.Equal(t, ErrorTypeDuplicate, result.Errors[0].Type)
	assert.Equal(t, "cat.jpg", result.Errors[0].File)
}

func TestRerunDetectsAllDuplicates(t *testing.T) {
	provider := newFakeProvider()
	o, _ := newTestOrchestrator(t, provider)

	dir := photoFolder(t, 3)
	first, err := o.StartBatch(dir, fastOptions())
	require.NoError(t, err)
	result := waitForStatus(t, o, first.ID, StatusCompleted)
	require.Equal(t, 3, result.SuccessfulFiles)

	second, err := o.StartBatch(dir, fastOptions())
	require.NoError(t, err)
	rerun := waitForStatus(t, o, second.ID, StatusCompleted)

	assert.Equal(t, 3, rerun.TotalFiles)
	assert.Equal(t, 3, rerun.DuplicateFiles)
	assert.Equal(t, 0, rerun.SuccessfulFiles)
	assert.Equal(t, 0, rerun.CompletedAnalysis, "duplicates never reach analysis")
	assert.Len(t, rerun.Errors, 3)
	for _, rec := range rerun.Errors {
		assert.Equal(t, ErrorTypeDuplicate, rec.Type)
	}
}

func TestDuplicatesProcessedWhenSkipDisabled(t *testing.T) {
	provider := newFakeProvider()
	o, store := newTestOrchestrator(t, provider)

	dir := t.TempDir()
	writeTestJPEG(t, filepath.Join(dir, "a", "cat.jpg"), 100, 100)
	src, err := os.ReadFile(filepath.Join(dir, "a", "cat.jpg"))
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "b"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b", "cat.jpg"), src, 0644))

	opts := fastOptions()
	opts.SkipDuplicates = false
	job, err := o.StartBatch(dir, opts)
	require.NoError(t, err)

	result := waitForStatus(t, o, job.ID, StatusCompleted)
	assert.Equal(t, 2, result.SuccessfulFiles)
	assert.Equal(t, 0, result.DuplicateFiles)

	images, err := store.ListImagesByBatch(job.ID)
	require.NoError(t, err)
	assert.Len(t, images, 2)
}

func TestStartBatchInvalidFolder(t *testing.T) {
	o, _ := newTestOrchestrator(t, newFakeProvider())

	job, err := o.StartBatch(filepath.Join(t.TempDir(), "does-not-exist"), fastOptions())
	require.NoError(t, err, "batch is tracked even when discovery will fail")

	result := waitForStatus(t, o, job.ID, StatusError)
	assert.Equal(t, 0, result.TotalFiles)
	require.NotEmpty(t, result.Errors)
	assert.Equal(t, ErrorTypeProcessing, result.Errors[0].Type)
	assert.Contains(t, result.Errors[0].Message, "batch aborted", "the fatal record is marked apart from per-file entries")
	assert.NotNil(t, result.CompletedAt)
}

func TestStartBatchRequiresPath(t *testing.T) {
	o, _ := newTestOrchestrator(t, newFakeProvider())
	_, err := o.StartBatch("", fastOptions())
	assert.Error(t, err)
}

func TestGetStatusUnknownBatch(t *testing.T) {
	o, _ := newTestOrchestrator(t, newFakeProvider())
	_, err := o.GetStatus("no-such-batch")
	assert.Error(t, err)
}

func TestListBatchesNewestFirst(t *testing.T) {
	o, _ := newTestOrchestrator(t, newFakeProvider())

	first, err := o.StartBatch(photoFolder(t, 1), fastOptions())
	require.NoError(t, err)
	waitForStatus(t, o, first.ID, StatusCompleted)

	second, err := o.StartBatch(photoFolder(t, 1), fastOptions())
	require.NoError(t, err)
	waitForStatus(t, o, second.ID, StatusCompleted)

	batches := o.ListBatches()
	require.Len(t, batches, 2)
	assert.Equal(t, second.ID, batches[0].ID)
	assert.Equal(t, first.ID, batches[1].ID)
}

func TestDeleteBatchRemovesRecordsAndFiles(t *testing.T) {
	o, store := newTestOrchestrator(t, newFakeProvider())

	job, err := o.StartBatch(photoFolder(t, 2), fastOptions())
	require.NoError(t, err)
	waitForStatus(t, o, job.ID, StatusCompleted)

	images, err := store.ListImagesByBatch(job.ID)
	require.NoError(t, err)
	require.Len(t, images, 2)

	require.NoError(t, o.DeleteBatch(job.ID))

	_, err = o.GetStatus(job.ID)
	assert.Error(t, err)

	remaining, err := store.ListImagesByBatch(job.ID)
	require.NoError(t, err)
	assert.Empty(t, remaining)
	for _, img := range images {
		assert.NoFileExists(t, img.PreviewPath)
		assert.NoFileExists(t, img.ThumbnailPath)
	}
}

func TestDeleteBatchRejectsRunning(t *testing.T) {
	provider := newFakeProvider()
	provider.gate = make(chan struct{})
	o, _ := newTestOrchestrator(t, provider)

	job, err := o.StartBatch(photoFolder(t, 3), fastOptions())
	require.NoError(t, err)

	err = o.DeleteBatch(job.ID)
	assert.Error(t, err)

	close(provider.gate)
	waitForStatus(t, o, job.ID, StatusCompleted)
}

func TestClearCompletedBatches(t *testing.T) {
	provider := newFakeProvider()
	o, _ := newTestOrchestrator(t, provider)

	done, err := o.StartBatch(photoFolder(t, 1), fastOptions())
	require.NoError(t, err)
	waitForStatus(t, o, done.ID, StatusCompleted)

	gate := make(chan struct{})
	provider.mu.Lock()
	provider.gate = gate
	provider.mu.Unlock()

	running, err := o.StartBatch(photoFolder(t, 4), fastOptions())
	require.NoError(t, err)

	cleared := o.ClearCompletedBatches()
	assert.Equal(t, 1, cleared)

	_, err = o.GetStatus(done.ID)
	assert.Error(t, err, "completed batch is gone")
	_, err = o.GetStatus(running.ID)
	assert.NoError(t, err, "running batch survives")

	close(gate)
	waitForStatus(t, o, running.ID, StatusCompleted)
}
