// Package utils provides file system helpers for photo ingestion: supported
// format detection, safe filename generation, and managed-storage copies.
package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// PhotoExtensions contains the supported photo file extensions. Files with
// any other extension are excluded at discovery time.
var PhotoExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".tiff": true,
	".tif":  true,
	".bmp":  true,
	".heic": true,

	// RAW variants: the codec extracts the embedded preview before resizing
	".cr2": true,
	".cr3": true,
	".nef": true,
	".arw": true,
	".dng": true,
	".orf": true,
	".raf": true,
	".rw2": true,
}

// RawExtensions identifies the RAW subset of PhotoExtensions.
var RawExtensions = map[string]bool{
	".cr2": true,
	".cr3": true,
	".nef": true,
	".arw": true,
	".dng": true,
	".orf": true,
	".raf": true,
	".rw2": true,
}

// MaxFilenameLength is the filesystem path-component budget for generated
// filenames.
const MaxFilenameLength = 255

// fallbackBaseName is used when sanitization leaves nothing of the original.
const fallbackBaseName = "image"

// IsPhotoFile reports whether the path has a supported photo extension.
func IsPhotoFile(path string) bool {
	return PhotoExtensions[strings.ToLower(filepath.Ext(path))]
}

// IsRawFile reports whether the path is a RAW camera format.
func IsRawFile(path string) bool {
	return RawExtensions[strings.ToLower(filepath.Ext(path))]
}

// SanitizeFilename replaces filesystem-unsafe characters in a base name
// with underscores, collapses repeated underscores, and trims leading and
// trailing separators. An empty result falls back to a generic name.
func SanitizeFilename(name string) string {
	var b strings.Builder
	prevUnderscore := false
	for _, r := range name {
		safe := r == '.' || r == '-' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if safe {
			b.WriteRune(r)
			prevUnderscore = false
			continue
		}
		if !prevUnderscore {
			b.WriteByte('_')
			prevUnderscore = true
		}
	}

	cleaned := strings.Trim(b.String(), "._-")
	if cleaned == "" {
		return fallbackBaseName
	}
	return cleaned
}

// GenerateSafeFilename produces a collision-resistant managed-storage name
// for an original filename: a fresh UUID prefix, the sanitized base name,
// and the lowercased original extension, truncated so the whole component
// stays within MaxFilenameLength.
func GenerateSafeFilename(originalName string) string {
	ext := strings.ToLower(filepath.Ext(originalName))
	base := SanitizeFilename(strings.TrimSuffix(filepath.Base(originalName), filepath.Ext(originalName)))

	id := uuid.New().String()
	// id + "_" + base + ext must fit the budget; only the base shrinks.
	budget := MaxFilenameLength - len(id) - 1 - len(ext)
	if len(base) > budget {
		base = base[:budget]
		base = strings.Trim(base, "._-")
		if base == "" {
			base = fallbackBaseName
		}
	}

	return id + "_" + base + ext
}

// CopyFile copies src to dst, creating parent directories as needed.
// Returns the number of bytes copied.
func CopyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("failed to open source file: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return 0, fmt.Errorf("failed to create destination directory: %w", err)
	}

	out, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("failed to create destination file: %w", err)
	}
	defer out.Close()

	n, err := io.Copy(out, in)
	if err != nil {
		return n, fmt.Errorf("failed to copy file: %w", err)
	}
	return n, nil
}

// ContentTypeForExt maps a photo extension to its MIME type.
func ContentTypeForExt(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".tiff", ".tif":
		return "image/tiff"
	case ".bmp":
		return "image/bmp"
	case ".heic":
		return "image/heic"
	default:
		if IsRawFile(path) {
			return "image/x-raw"
		}
		return "application/octet-stream"
	}
}
