package analysis

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumapix/lumapix/internal/config"
)

func TestParseResponsePlainJSON(t *testing.T) {
	content := `{"description":"A dog on a beach.","caption":"Beach dog","keywords":["dog","beach"],"confidence":0.87}`
	result, err := ParseResponse(content)
	require.NoError(t, err)

	assert.Equal(t, "A dog on a beach.", result.Description)
	assert.Equal(t, "Beach dog", result.Caption)
	assert.Equal(t, []string{"dog", "beach"}, result.Keywords)
	assert.Equal(t, 0.87, result.Confidence)
}

func TestParseResponseFencedJSON(t *testing.T) {
	content := "Here is the analysis:\n```json\n{\"caption\":\"Sunset\",\"keywords\":[\"sunset\"],\"confidence\":1.4}\n```"
	result, err := ParseResponse(content)
	require.NoError(t, err)

	assert.Equal(t, "Sunset", result.Caption)
	// Confidence is clamped into [0, 1].
	assert.Equal(t, 1.0, result.Confidence)
}

func TestParseResponseRejectsGarbage(t *testing.T) {
	_, err := ParseResponse("I cannot analyze this image.")
	assert.Error(t, err)

	_, err = ParseResponse(`{"confidence": 0.5}`)
	assert.Error(t, err, "response with no content fields is rejected")
}

func TestBuildPromptWithMetadata(t *testing.T) {
	prompt := BuildPrompt("Describe the image.", map[string]string{
		"Model": "X-T5",
		"Make":  "Fujifilm",
	})

	assert.Contains(t, prompt, "Describe the image.")
	assert.Contains(t, prompt, "- Make: Fujifilm")
	assert.Contains(t, prompt, "- Model: X-T5")
	// Sorted keys: Make before Model.
	assert.Less(t, strings.Index(prompt, "- Make"), strings.Index(prompt, "- Model"))
}

func TestBuildPromptWithoutMetadata(t *testing.T) {
	assert.Equal(t, "base", BuildPrompt("base", nil))
}

func TestNewLLMProviderValidation(t *testing.T) {
	_, err := NewLLMProvider(&config.AnalysisConfig{Provider: "openai"})
	assert.Error(t, err, "openai requires an API key")

	_, err = NewLLMProvider(&config.AnalysisConfig{Provider: "watson"})
	assert.Error(t, err, "unknown providers are rejected")
}
