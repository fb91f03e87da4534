// Package imaging implements the image codec used by the ingestion
// pipeline: decoding, resizing to analysis previews, WebP thumbnail
// encoding, and embedded-preview extraction for RAW camera formats.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"os"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"github.com/lumapix/lumapix/internal/utils"
)

// Codec is the image transform contract consumed by the ingestion pool.
type Codec interface {
	Resize(path string, maxDim, quality int) ([]byte, error)
	Thumbnail(path string, size, quality int) ([]byte, error)
	ExtractEmbeddedPreview(rawPath string) ([]byte, error)
	Dimensions(data []byte) (int, int, error)
}

// Processor is the default Codec implementation.
type Processor struct{}

// NewProcessor creates a new image processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// Resize produces an analysis-ready JPEG preview no larger than maxDim on
// its longest side. RAW inputs are routed through their embedded preview.
func (p *Processor) Resize(path string, maxDim, quality int) ([]byte, error) {
	img, err := p.decode(path)
	if err != nil {
		return nil, err
	}

	resized := imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: clampQuality(quality)}); err != nil {
		return nil, fmt.Errorf("failed to encode preview: %w", err)
	}
	return buf.Bytes(), nil
}

// Thumbnail produces a WebP thumbnail no larger than size on its longest
// side.
func (p *Processor) Thumbnail(path string, size, quality int) ([]byte, error) {
	img, err := p.decode(path)
	if err != nil {
		return nil, err
	}

	thumb := imaging.Fit(img, size, size, imaging.Lanczos)

	var buf bytes.Buffer
	opts := &webp.Options{Lossless: false, Quality: float32(clampQuality(quality))}
	if err := webp.Encode(&buf, thumb, opts); err != nil {
		// WebP encoding can fail on unusual color models; fall back to JPEG.
		buf.Reset()
		if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: clampQuality(quality)}); err != nil {
			return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// ExtractEmbeddedPreview locates the largest embedded JPEG inside a RAW
// file. Most RAW formats carry a full-size JPEG rendition that is far
// cheaper to use than demosaicing the sensor data.
func (p *Processor) ExtractEmbeddedPreview(rawPath string) ([]byte, error) {
	data, err := os.ReadFile(rawPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read raw file: %w", err)
	}

	best := extractLargestJPEG(data)
	if best == nil {
		return nil, fmt.Errorf("no embedded preview found in %s", rawPath)
	}
	return best, nil
}

// Dimensions returns the pixel width and height of encoded image data.
func (p *Processor) Dimensions(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to decode image dimensions: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

func (p *Processor) decode(path string) (image.Image, error) {
	if utils.IsRawFile(path) {
		preview, err := p.ExtractEmbeddedPreview(path)
		if err != nil {
			return nil, err
		}
		img, err := imaging.Decode(bytes.NewReader(preview), imaging.AutoOrientation(true))
		if err != nil {
			return nil, fmt.Errorf("failed to decode embedded preview: %w", err)
		}
		return img, nil
	}

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// extractLargestJPEG scans data for SOI/EOI marker pairs and returns the
// largest span that decodes as a JPEG, or nil when none does.
func extractLargestJPEG(data []byte) []byte {
	var best []byte
	for i := 0; i+3 < len(data); i++ {
		if data[i] != 0xFF || data[i+1] != 0xD8 || data[i+2] != 0xFF {
			continue
		}
		end := findEOI(data, i+2)
		if end < 0 {
			continue
		}
		candidate := data[i : end+2]
		if len(candidate) <= len(best) {
			continue
		}
		if _, err := jpeg.DecodeConfig(bytes.NewReader(candidate)); err == nil {
			best = candidate
		}
	}
	return best
}

func findEOI(data []byte, from int) int {
	for i := len(data) - 2; i > from; i-- {
		if data[i] == 0xFF && data[i+1] == 0xD9 {
			return i
		}
	}
	return -1
}

func clampQuality(q int) int {
	if q < 1 {
		return 1
	}
	if q > 100 {
		return 100
	}
	return q
}
