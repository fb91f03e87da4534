// Package analysis implements the content-analysis collaborator: it sends
// a normalized preview image to a vision-capable LLM and returns structured
// tags (description, caption, keywords, confidence).
package analysis

import "context"

// Result is the structured outcome of analyzing one image.
type Result struct {
	Description string   `json:"description"`
	Caption     string   `json:"caption"`
	Keywords    []string `json:"keywords"`
	Confidence  float64  `json:"confidence"`
	Model       string   `json:"model,omitempty"`
}

// Provider is the content-analysis contract consumed by the analysis
// queue. Implementations enforce their own per-call timeout; the pipeline
// only retries on returned errors.
type Provider interface {
	Analyze(ctx context.Context, previewPath string, prompt string, metadataContext map[string]string) (*Result, error)
}
