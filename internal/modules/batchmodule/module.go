package batchmodule

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/lumapix/lumapix/internal/analysis"
	"github.com/lumapix/lumapix/internal/config"
	"github.com/lumapix/lumapix/internal/database"
	"github.com/lumapix/lumapix/internal/events"
	"github.com/lumapix/lumapix/internal/imaging"
	"github.com/lumapix/lumapix/internal/logger"
	"github.com/lumapix/lumapix/internal/mediastore"
	"github.com/lumapix/lumapix/internal/metadata"
	"github.com/lumapix/lumapix/internal/modules/modulemanager"
)

const (
	ModuleID   = "system.batch"
	ModuleName = "Batch Pipeline"
)

// BatchModule owns the batch orchestrator and its watch-folder service.
type BatchModule struct {
	cfg      *config.Config
	db       *gorm.DB
	bus      *events.Bus
	provider analysis.Provider

	orchestrator *Orchestrator
	watcher      *Watcher
}

// Register creates the batch module and adds it to the module registry.
func Register(cfg *config.Config, db *gorm.DB, bus *events.Bus, provider analysis.Provider) *BatchModule {
	m := &BatchModule{
		cfg:      cfg,
		db:       db,
		bus:      bus,
		provider: provider,
	}
	modulemanager.Register(m)
	return m
}

func (m *BatchModule) ID() string   { return ModuleID }
func (m *BatchModule) Name() string { return ModuleName }
func (m *BatchModule) Core() bool   { return true }

// Migrate creates the image record tables.
func (m *BatchModule) Migrate(db *gorm.DB) error {
	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("failed to migrate batch schema: %w", err)
	}
	return nil
}

// Init builds the pipeline collaborators and starts the folder watcher.
func (m *BatchModule) Init() error {
	store := mediastore.New(m.db)
	codec := imaging.NewProcessor()
	extractor := metadata.NewExtractor()

	m.orchestrator = NewOrchestrator(m.cfg, store, codec, extractor, m.provider, m.bus)
	m.watcher = NewWatcher(&m.cfg.Watcher, m.orchestrator, m.bus)

	if err := m.watcher.Start(); err != nil {
		// Watch folders are a convenience; a broken watcher must not keep
		// the module from serving manual batches.
		logger.Warn("folder watcher unavailable", logger.Err(err))
	}
	return nil
}

// Orchestrator exposes the batch orchestrator to other components.
func (m *BatchModule) Orchestrator() *Orchestrator {
	return m.orchestrator
}

// Shutdown stops the watcher and waits for running batches to drain.
func (m *BatchModule) Shutdown() {
	if m.watcher != nil {
		m.watcher.Stop()
	}
	if m.orchestrator != nil {
		m.orchestrator.Wait()
	}
}
