package batchmodule

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/lumapix/lumapix/internal/events"
	"github.com/lumapix/lumapix/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Progress streaming is same-origin in production and proxied in dev.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// startBatchRequest is the JSON body for POST /api/batches.
type startBatchRequest struct {
	FolderPath string               `json:"folder_path" binding:"required"`
	Options    *batchOptionsRequest `json:"options,omitempty"`
}

// batchOptionsRequest is the options payload for POST /api/batches. Delay
// fields are milliseconds. Fields left unset keep the configured defaults,
// so a partial payload only overrides what it names.
type batchOptionsRequest struct {
	ThumbnailSize         int    `json:"thumbnail_size"`
	AnalysisImageSize     int    `json:"analysis_image_size"`
	Quality               int    `json:"quality"`
	SkipDuplicates        *bool  `json:"skip_duplicates"`
	ParallelConnections   int    `json:"parallel_connections"`
	MaxConcurrentAnalysis int    `json:"max_concurrent_analysis"`
	MaxRetries            int    `json:"max_retries"`
	RetryDelayMs          int64  `json:"retry_delay"`
	EnableRateLimit       *bool  `json:"enable_rate_limit"`
	RateLimitIntervalMs   int64  `json:"rate_limit_interval"`
	Prompt                string `json:"prompt"`
}

// apply overlays the set request fields onto opts.
func (r *batchOptionsRequest) apply(opts *BatchOptions) {
	if r.ThumbnailSize > 0 {
		opts.ThumbnailSize = r.ThumbnailSize
	}
	if r.AnalysisImageSize > 0 {
		opts.AnalysisImageSize = r.AnalysisImageSize
	}
	if r.Quality > 0 {
		opts.Quality = r.Quality
	}
	if r.SkipDuplicates != nil {
		opts.SkipDuplicates = *r.SkipDuplicates
	}
	if r.ParallelConnections > 0 {
		opts.ParallelConnections = r.ParallelConnections
	}
	if r.MaxConcurrentAnalysis > 0 {
		opts.MaxConcurrentAnalysis = r.MaxConcurrentAnalysis
	}
	if r.MaxRetries > 0 {
		opts.MaxRetries = r.MaxRetries
	}
	if r.RetryDelayMs > 0 {
		opts.RetryDelay = time.Duration(r.RetryDelayMs) * time.Millisecond
	}
	if r.EnableRateLimit != nil {
		opts.EnableRateLimit = *r.EnableRateLimit
	}
	if r.RateLimitIntervalMs > 0 {
		opts.RateLimitInterval = time.Duration(r.RateLimitIntervalMs) * time.Millisecond
	}
	if r.Prompt != "" {
		opts.Prompt = r.Prompt
	}
}

// RegisterRoutes attaches the batch API.
func (m *BatchModule) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/batches")
	{
		api.POST("", m.startBatch)
		api.GET("", m.listBatches)
		api.GET("/:id", m.getStatus)
		api.POST("/:id/pause", m.pauseBatch)
		api.POST("/:id/resume", m.resumeBatch)
		api.DELETE("/:id", m.deleteBatch)
		api.POST("/clear-completed", m.clearCompleted)
	}
	router.GET("/api/events/ws", m.streamEvents)
	router.GET("/api/batches/:id/images", m.listImages)
}

func (m *BatchModule) startBatch(c *gin.Context) {
	var req startBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	opts := DefaultOptions(&m.cfg.Batch)
	if req.Options != nil {
		req.Options.apply(&opts)
	}

	job, err := m.orchestrator.StartBatch(req.FolderPath, opts)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"batch_id": job.ID,
		"result":   job.Snapshot(),
	})
}

func (m *BatchModule) listBatches(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"batches": m.orchestrator.ListBatches()})
}

func (m *BatchModule) getStatus(c *gin.Context) {
	result, err := m.orchestrator.GetStatus(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"batch_id": c.Param("id"), "result": result})
}

func (m *BatchModule) pauseBatch(c *gin.Context) {
	result, err := m.orchestrator.PauseBatch(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"batch_id": c.Param("id"), "result": result})
}

func (m *BatchModule) resumeBatch(c *gin.Context) {
	result, err := m.orchestrator.ResumeBatch(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"batch_id": c.Param("id"), "result": result})
}

func (m *BatchModule) deleteBatch(c *gin.Context) {
	if err := m.orchestrator.DeleteBatch(c.Param("id")); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": c.Param("id")})
}

func (m *BatchModule) clearCompleted(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"cleared": m.orchestrator.ClearCompletedBatches()})
}

func (m *BatchModule) listImages(c *gin.Context) {
	batchID := c.Param("id")
	if _, err := m.orchestrator.GetStatus(batchID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	images, err := m.orchestrator.store.ListImagesByBatch(batchID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"batch_id": batchID, "images": images})
}

// streamEvents upgrades to a websocket and forwards bus events until the
// client disconnects. Slow clients are dropped rather than allowed to
// back-pressure the bus.
func (m *BatchModule) streamEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", logger.Err(err))
		return
	}
	defer conn.Close()

	send := make(chan events.Event, 64)
	subID := m.bus.Subscribe(func(e events.Event) {
		select {
		case send <- e:
		default:
		}
	})
	defer m.bus.Unsubscribe(subID)

	// Reader goroutine only detects close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case event := <-send:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}
}
