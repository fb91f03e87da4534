package metadata

import (
	"bytes"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFileWithoutExif(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plain.jpg")

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 10, 10)), nil))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))

	e := NewExtractor()
	snap, err := e.Parse(path)
	assert.Error(t, err)
	assert.Nil(t, snap)
}

func TestParseMissingFile(t *testing.T) {
	e := NewExtractor()
	_, err := e.Parse("/nonexistent/photo.jpg")
	assert.Error(t, err)
}

func TestCleanTagValue(t *testing.T) {
	assert.Equal(t, "Fujifilm", CleanTagValue(`"Fujifilm"`))
	assert.Equal(t, "X T5", CleanTagValue("  X \t T5  "))
	assert.Equal(t, "", CleanTagValue(`""`))

	long := strings.Repeat("x", 1000)
	assert.Len(t, CleanTagValue(long), 256)
}
