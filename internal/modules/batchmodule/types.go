// Package batchmodule implements the two-stage batch pipeline that drives
// photo ingestion and content analysis: folder discovery, a bounded
// ingestion worker pool, a FIFO analysis queue with retry and rate
// limiting, and per-batch lifecycle tracking with pause/resume.
package batchmodule

import (
	"time"

	"github.com/lumapix/lumapix/internal/config"
)

// BatchStatus is the coarse batch state. Transitions are monotonic except
// the reversible processing/paused pair; completed and error are terminal.
type BatchStatus string

const (
	StatusProcessing BatchStatus = "processing"
	StatusPaused     BatchStatus = "paused"
	StatusCompleted  BatchStatus = "completed"
	StatusError      BatchStatus = "error"
)

// BatchPhase is the pipeline stage a batch is currently in.
type BatchPhase string

const (
	PhaseDiscovery  BatchPhase = "discovery"
	PhaseUploading  BatchPhase = "uploading"
	PhaseAnalysis   BatchPhase = "analysis"
	PhaseFinalizing BatchPhase = "finalizing"
)

// ErrorType classifies entries in the batch error log.
type ErrorType string

const (
	ErrorTypeDuplicate  ErrorType = "duplicate"
	ErrorTypeProcessing ErrorType = "processing"
	// ErrorTypeUnsupported marks files excluded by extension; discovery
	// filters those out, so ingestion never produces this type.
	ErrorTypeUnsupported    ErrorType = "unsupported"
	ErrorTypeAnalysis       ErrorType = "analysis"
	ErrorTypeRetryExhausted ErrorType = "retry_exhausted"
)

// ErrorRecord is one non-fatal issue logged against a batch.
type ErrorRecord struct {
	File       string    `json:"file,omitempty"`
	ImageID    string    `json:"image_id,omitempty"`
	Message    string    `json:"message"`
	Type       ErrorType `json:"type"`
	RetryCount int       `json:"retry_count,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// BatchOptions are the caller-tunable pipeline knobs for one batch.
type BatchOptions struct {
	ThumbnailSize       int  `json:"thumbnail_size"`
	AnalysisImageSize   int  `json:"analysis_image_size"`
	Quality             int  `json:"quality"`
	SkipDuplicates      bool `json:"skip_duplicates"`
	ParallelConnections int  `json:"parallel_connections"`

	// MaxConcurrentAnalysis bounds each analysis group; MaxRetries bounds
	// total attempts per analysis task, the first attempt included.
	MaxConcurrentAnalysis int           `json:"max_concurrent_analysis"`
	MaxRetries            int           `json:"max_retries"`
	RetryDelay            time.Duration `json:"retry_delay"`
	EnableRateLimit       bool          `json:"enable_rate_limit"`
	RateLimitInterval     time.Duration `json:"rate_limit_interval"`
	Prompt                string        `json:"prompt,omitempty"`
}

// DefaultOptions builds batch options from the configured defaults.
func DefaultOptions(cfg *config.BatchConfig) BatchOptions {
	return BatchOptions{
		ThumbnailSize:         cfg.ThumbnailSize,
		AnalysisImageSize:     cfg.AnalysisImageSize,
		Quality:               cfg.Quality,
		SkipDuplicates:        cfg.SkipDuplicates,
		ParallelConnections:   cfg.ParallelConnections,
		MaxConcurrentAnalysis: cfg.MaxConcurrentAnalysis,
		MaxRetries:            cfg.MaxRetries,
		RetryDelay:            cfg.RetryDelay,
		EnableRateLimit:       cfg.EnableRateLimit,
		RateLimitInterval:     cfg.RateLimitInterval,
	}
}

// normalize clamps option values into sane ranges so a malformed request
// cannot stall or overload the pipeline.
func (o *BatchOptions) normalize(defaults *config.BatchConfig) {
	if o.ThumbnailSize <= 0 {
		o.ThumbnailSize = defaults.ThumbnailSize
	}
	if o.AnalysisImageSize <= 0 {
		o.AnalysisImageSize = defaults.AnalysisImageSize
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = defaults.Quality
	}
	if o.ParallelConnections < 1 {
		o.ParallelConnections = 1
	}
	if o.MaxConcurrentAnalysis < 1 {
		o.MaxConcurrentAnalysis = 1
	}
	if o.MaxRetries < 1 {
		o.MaxRetries = defaults.MaxRetries
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = defaults.RetryDelay
	}
	if o.RateLimitInterval <= 0 {
		o.RateLimitInterval = defaults.RateLimitInterval
	}
}

// ResourceSnapshot is an advisory view of process resource usage.
type ResourceSnapshot struct {
	MemoryMB      float64   `json:"memory_mb"`
	MemoryPercent float64   `json:"memory_percent"`
	CPUPercent    float64   `json:"cpu_percent"`
	Goroutines    int       `json:"goroutines"`
	Timestamp     time.Time `json:"timestamp"`
}

// BatchResult is the aggregated, continuously-updated outcome of a batch.
// It is mutated only by the batch's aggregator goroutine; readers receive
// copies via snapshot.
type BatchResult struct {
	TotalFiles      int   `json:"total_files"`
	ProcessedFiles  int   `json:"processed_files"`
	SuccessfulFiles int   `json:"successful_files"`
	DuplicateFiles  int   `json:"duplicate_files"`
	ErrorFiles      int   `json:"error_files"`
	BytesProcessed  int64 `json:"bytes_processed"`

	PendingAnalysis   int `json:"pending_analysis"`
	ActiveAnalysis    int `json:"active_analysis"`
	RetryingAnalysis  int `json:"retrying_analysis"`
	CompletedAnalysis int `json:"completed_analysis"`
	FailedAnalysis    int `json:"failed_analysis"`

	Errors   []ErrorRecord `json:"errors"`
	ImageIDs []string      `json:"image_ids"`

	Status BatchStatus `json:"status"`
	Phase  BatchPhase  `json:"phase"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	FilesPerMinute float64          `json:"files_per_minute"`
	ETASeconds     float64          `json:"eta_seconds"`
	Resources      ResourceSnapshot `json:"resources"`

	PauseRequested bool `json:"pause_requested"`
}

// AnalysisTask is one queued unit of analysis work. Tasks are ephemeral:
// created when ingestion succeeds and destroyed on completion or terminal
// failure.
type AnalysisTask struct {
	ImageID         string
	BatchID         string
	PreviewPath     string
	RetryCount      int
	MetadataContext map[string]string
	Prompt          string
}
