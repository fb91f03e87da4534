package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/lumapix/lumapix/internal/config"
)

const defaultPrompt = `Analyze this photograph and respond with a single JSON object containing:
"description": a detailed 2-3 sentence description of the image content,
"caption": a short one-line caption,
"keywords": an array of 5-15 lowercase keywords,
"confidence": your confidence in the analysis from 0.0 to 1.0.
Respond with JSON only, no surrounding text.`

// LLMProvider implements Provider on top of a langchaingo vision model.
type LLMProvider struct {
	llm       llms.Model
	modelName string
	timeout   time.Duration
	prompt    string
	log       hclog.Logger
}

// NewLLMProvider creates a provider from configuration. The provider kind
// selects the backing service: openai, anthropic, or ollama.
func NewLLMProvider(cfg *config.AnalysisConfig) (*LLMProvider, error) {
	var (
		model llms.Model
		err   error
	)

	switch cfg.Provider {
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.APIKey),
			openai.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case "anthropic":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.APIKey),
			anthropic.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	case "ollama":
		model, err = ollama.New(
			ollama.WithModel(cfg.Model),
			ollama.WithServerURL(cfg.Endpoint),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported analysis provider: %s", cfg.Provider)
	}

	prompt := cfg.Prompt
	if prompt == "" {
		prompt = defaultPrompt
	}

	return &LLMProvider{
		llm:       model,
		modelName: cfg.Model,
		timeout:   cfg.Timeout,
		prompt:    prompt,
		log:       hclog.New(&hclog.LoggerOptions{Name: "analysis"}),
	}, nil
}

// Analyze sends the preview image and prompt to the model and parses the
// structured response. The configured timeout bounds the whole call.
func (p *LLMProvider) Analyze(ctx context.Context, previewPath string, prompt string, metadataContext map[string]string) (*Result, error) {
	data, err := os.ReadFile(previewPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read preview: %w", err)
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	if prompt == "" {
		prompt = p.prompt
	}
	userPrompt := BuildPrompt(prompt, metadataContext)

	messages := []llms.MessageContent{
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.BinaryPart("image/jpeg", data),
				llms.TextPart(userPrompt),
			},
		},
	}

	start := time.Now()
	response, err := p.llm.GenerateContent(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("analysis call failed: %w", err)
	}
	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("analysis returned no choices")
	}

	result, err := ParseResponse(response.Choices[0].Content)
	if err != nil {
		return nil, err
	}
	result.Model = p.modelName

	p.log.Debug("image analyzed", "path", previewPath, "duration", time.Since(start))
	return result, nil
}

// BuildPrompt appends an EXIF context block to the base prompt when
// metadata is available. Keys are sorted for deterministic output.
func BuildPrompt(base string, metadataContext map[string]string) string {
	if len(metadataContext) == 0 {
		return base
	}

	keys := make([]string, 0, len(metadataContext))
	for k := range metadataContext {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\nCamera metadata for context:\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %s\n", k, metadataContext[k])
	}
	return b.String()
}

// ParseResponse extracts a Result from the model output. Models sometimes
// wrap JSON in markdown fences or prose; the parser tolerates both.
func ParseResponse(content string) (*Result, error) {
	text := strings.TrimSpace(content)

	if start := strings.Index(text, "{"); start >= 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			text = text[start : end+1]
		}
	}

	var result Result
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, fmt.Errorf("failed to parse analysis response: %w", err)
	}

	if result.Description == "" && result.Caption == "" && len(result.Keywords) == 0 {
		return nil, fmt.Errorf("analysis response missing all fields")
	}
	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}
	return &result, nil
}
