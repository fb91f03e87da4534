// Package modulemanager provides the registry that wires application
// modules into the database and HTTP router at startup.
package modulemanager

import (
	"fmt"
	"sync"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/lumapix/lumapix/internal/logger"
)

// Module is implemented by every application module.
type Module interface {
	ID() string
	Name() string
	Core() bool
	Migrate(db *gorm.DB) error
	Init() error
}

// RouteRegistrar is an optional interface for modules that expose HTTP
// routes.
type RouteRegistrar interface {
	RegisterRoutes(router *gin.Engine)
}

// ModuleRegistry manages module registration and initialization.
type ModuleRegistry struct {
	mu          sync.RWMutex
	modules     map[string]Module
	order       []string
	initialized bool
}

// Registry is the process-wide module registry.
var Registry = &ModuleRegistry{
	modules: make(map[string]Module),
}

// Register adds a module to the global registry.
func Register(m Module) {
	Registry.Register(m)
}

// Register adds a module to the registry. Registration order is preserved
// for initialization.
func (r *ModuleRegistry) Register(m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		logger.Warn("module registered after initialization",
			logger.String("module", m.ID()))
	}
	if _, exists := r.modules[m.ID()]; !exists {
		r.order = append(r.order, m.ID())
	}
	r.modules[m.ID()] = m
	logger.Info("module registered",
		logger.String("module", m.ID()), logger.String("name", m.Name()))
}

// LoadAll migrates and initializes all registered modules in registration
// order.
func LoadAll(db *gorm.DB) error {
	return Registry.LoadAll(db)
}

// LoadAll migrates and initializes all registered modules.
func (r *ModuleRegistry) LoadAll(db *gorm.DB) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		logger.Warn("module system already initialized")
		return nil
	}

	for _, id := range r.order {
		module := r.modules[id]
		if err := module.Migrate(db); err != nil {
			return fmt.Errorf("failed to migrate %s: %w", module.Name(), err)
		}
		if err := module.Init(); err != nil {
			return fmt.Errorf("failed to initialize %s: %w", module.Name(), err)
		}
		logger.Info("module loaded", logger.String("module", id))
	}

	r.initialized = true
	return nil
}

// RegisterRoutes gives every route-capable module a chance to attach its
// HTTP handlers.
func RegisterRoutes(router *gin.Engine) {
	Registry.RegisterRoutes(router)
}

// RegisterRoutes attaches routes for all modules implementing
// RouteRegistrar.
func (r *ModuleRegistry) RegisterRoutes(router *gin.Engine) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.order {
		if registrar, ok := r.modules[id].(RouteRegistrar); ok {
			registrar.RegisterRoutes(router)
			logger.Debug("module routes registered", logger.String("module", id))
		}
	}
}

// Get returns a registered module by ID.
func (r *ModuleRegistry) Get(id string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[id]
	return m, ok
}

// Reset clears the registry. Test helper.
func (r *ModuleRegistry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules = make(map[string]Module)
	r.order = nil
	r.initialized = false
}
