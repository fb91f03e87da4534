// Package metadata extracts a bounded EXIF snapshot from photo files.
// Extraction failures are never fatal to ingestion; callers store the
// image without metadata when Parse returns an error.
package metadata

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

// Extractor is the metadata collaborator contract.
type Extractor interface {
	Parse(path string) (*Snapshot, error)
}

// Snapshot is a bounded view of the tags worth keeping. Fields holds only
// allow-listed tags with size-capped values.
type Snapshot struct {
	Fields      map[string]string
	CameraMake  string
	CameraModel string
	TakenAt     *time.Time
}

// allowedFields is the EXIF tag allow-list. Everything else is dropped to
// keep the stored snapshot small and predictable.
var allowedFields = []exif.FieldName{
	exif.Make,
	exif.Model,
	exif.LensModel,
	exif.DateTimeOriginal,
	exif.ExposureTime,
	exif.FNumber,
	exif.ISOSpeedRatings,
	exif.FocalLength,
	exif.Orientation,
	exif.PixelXDimension,
	exif.PixelYDimension,
	exif.GPSLatitude,
	exif.GPSLongitude,
}

// maxValueLen caps individual tag values; oversized values are truncated,
// not dropped.
const maxValueLen = 256

// ExifExtractor implements Extractor with goexif.
type ExifExtractor struct{}

// NewExtractor creates a new EXIF extractor.
func NewExtractor() *ExifExtractor {
	return &ExifExtractor{}
}

// Parse reads EXIF data from the file at path. Files without EXIF blocks
// return an error; the caller treats that as "no metadata".
func (e *ExifExtractor) Parse(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file for metadata: %w", err)
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exif: %w", err)
	}

	snap := &Snapshot{Fields: make(map[string]string)}
	for _, name := range allowedFields {
		tag, err := x.Get(name)
		if err != nil {
			continue
		}
		value := CleanTagValue(tag.String())
		if value == "" {
			continue
		}
		snap.Fields[string(name)] = value
	}

	snap.CameraMake = snap.Fields[string(exif.Make)]
	snap.CameraModel = snap.Fields[string(exif.Model)]
	if taken, err := x.DateTime(); err == nil {
		snap.TakenAt = &taken
	}

	return snap, nil
}

// CleanTagValue normalizes a raw EXIF tag rendering: strips surrounding
// quotes, collapses whitespace, and truncates oversized values.
func CleanTagValue(v string) string {
	v = strings.Trim(v, "\"")
	v = strings.Join(strings.Fields(v), " ")
	if len(v) > maxValueLen {
		v = v[:maxValueLen]
	}
	return v
}
