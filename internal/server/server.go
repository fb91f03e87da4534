// Package server assembles the HTTP surface: router setup, shared
// middleware, health reporting, and graceful shutdown.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lumapix/lumapix/internal/config"
	"github.com/lumapix/lumapix/internal/logger"
	"github.com/lumapix/lumapix/internal/middleware"
	"github.com/lumapix/lumapix/internal/modules/modulemanager"
)

// SetupRouter configures the router and attaches all module routes.
func SetupRouter(cfg *config.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())

	if cfg.Server.EnableCORS {
		r.Use(middleware.CORS())
	}

	r.GET("/health", healthHandler)

	modulemanager.RegisterRoutes(r)
	return r
}

// Run serves HTTP until the context is canceled, then shuts down
// gracefully with a bounded drain window.
func Run(ctx context.Context, cfg *config.Config, handler http.Handler) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", logger.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown failed: %w", err)
	}
	logger.Info("http server stopped")
	return nil
}

func healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

