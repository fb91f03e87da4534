package batchmodule

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumapix/lumapix/internal/config"
	"github.com/lumapix/lumapix/internal/events"
)

func TestWatcherDisabledIsNoop(t *testing.T) {
	w := NewWatcher(&config.WatcherConfig{Enabled: false}, nil, events.NewBus())
	assert.NoError(t, w.Start())
	w.Stop()
}

func TestWatcherRejectsMissingFolders(t *testing.T) {
	cfg := &config.WatcherConfig{
		Enabled:  true,
		Folders:  []string{filepath.Join(t.TempDir(), "gone")},
		Debounce: 10 * time.Millisecond,
	}
	w := NewWatcher(cfg, nil, events.NewBus())
	assert.Error(t, w.Start(), "no watchable folder means no watcher")
}

func TestWatcherUsesOrchestratorDefaults(t *testing.T) {
	provider := newFakeProvider()
	o, _ := newTestOrchestrator(t, provider)
	o.cfg.Batch.MaxConcurrentAnalysis = 9
	o.cfg.Batch.RetryDelay = 10 * time.Millisecond

	dir := t.TempDir()
	writeTestJPEG(t, filepath.Join(dir, "drop.jpg"), 80, 60)

	bus := events.NewBus()
	t.Cleanup(bus.Stop)
	w := NewWatcher(&config.WatcherConfig{
		Enabled:  true,
		Folders:  []string{dir},
		Debounce: 10 * time.Millisecond,
	}, o, bus)

	w.trigger(dir)

	batches := o.ListBatches()
	require.Len(t, batches, 1)

	job, err := o.getJob(batches[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 9, job.Options.MaxConcurrentAnalysis, "batch carries the injected defaults")
	assert.Equal(t, 10*time.Millisecond, job.Options.RetryDelay)

	require.Eventually(t, func() bool {
		result, err := o.GetStatus(job.ID)
		return err == nil && result.Status == StatusCompleted
	}, waitFor, tick)
}

func TestWatcherDebouncesIntoSingleBatch(t *testing.T) {
	provider := newFakeProvider()
	o, _ := newTestOrchestrator(t, provider)

	dir := t.TempDir()
	cfg := &config.WatcherConfig{
		Enabled:  true,
		Folders:  []string{dir},
		Debounce: 50 * time.Millisecond,
	}
	bus := events.NewBus()
	t.Cleanup(bus.Stop)

	w := NewWatcher(cfg, o, bus)
	require.NoError(t, w.Start())
	t.Cleanup(w.Stop)

	// A burst of files lands; one batch fires after the folder settles.
	for i := 0; i < 3; i++ {
		writeTestJPEG(t, filepath.Join(dir, "drop_"+string(rune('a'+i))+".jpg"), 100, 80)
		time.Sleep(5 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return len(o.ListBatches()) == 1
	}, waitFor, tick, "debounced burst produces exactly one batch")

	batches := o.ListBatches()
	require.Len(t, batches, 1)
	require.Eventually(t, func() bool {
		result, err := o.GetStatus(batches[0].ID)
		return err == nil && result.Status == StatusCompleted
	}, waitFor, tick)

	result, err := o.GetStatus(batches[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 3, result.TotalFiles)

	// Quiet folder, no further batches.
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, o.ListBatches(), 1)
}
