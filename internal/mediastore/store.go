// Package mediastore implements the record store used by the batch
// pipeline to persist images, extracted metadata, and analysis results.
package mediastore

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/lumapix/lumapix/internal/database"
)

// Store is the persistence contract consumed by the batch pipeline.
type Store interface {
	InsertImage(img *database.Image) error
	UpdateImageStatus(id, status, errorMessage string) error
	FindDuplicate(originalName string, size int64) (*database.Image, error)
	InsertMetadata(md *database.ImageMetadata) error
	InsertAnalysis(a *database.ImageAnalysis) error
	GetImage(id string) (*database.Image, error)
	ListImagesByBatch(batchID string) ([]database.Image, error)
	DeleteImage(id string) error
}

// GormStore is the gorm-backed Store implementation.
type GormStore struct {
	db *gorm.DB
}

// New creates a gorm-backed record store.
func New(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// InsertImage persists a new image record.
func (s *GormStore) InsertImage(img *database.Image) error {
	if err := s.db.Create(img).Error; err != nil {
		return fmt.Errorf("failed to insert image: %w", err)
	}
	return nil
}

// UpdateImageStatus updates an image's status and error message. An empty
// errorMessage clears any previous error.
func (s *GormStore) UpdateImageStatus(id, status, errorMessage string) error {
	updates := map[string]interface{}{
		"status":        status,
		"error_message": errorMessage,
	}
	result := s.db.Model(&database.Image{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update image status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("image not found: %s", id)
	}
	return nil
}

// FindDuplicate returns an existing non-error image with the same original
// filename and byte size, or nil when none exists. Matching is by name and
// size only, not content hashing.
func (s *GormStore) FindDuplicate(originalName string, size int64) (*database.Image, error) {
	var img database.Image
	err := s.db.Where("original_name = ? AND size = ? AND status <> ?",
		originalName, size, database.ImageStatusError).First(&img).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query duplicates: %w", err)
	}
	return &img, nil
}

// InsertMetadata persists extracted metadata for an image.
func (s *GormStore) InsertMetadata(md *database.ImageMetadata) error {
	if err := s.db.Create(md).Error; err != nil {
		return fmt.Errorf("failed to insert metadata: %w", err)
	}
	return nil
}

// InsertAnalysis persists an analysis result for an image.
func (s *GormStore) InsertAnalysis(a *database.ImageAnalysis) error {
	if err := s.db.Create(a).Error; err != nil {
		return fmt.Errorf("failed to insert analysis: %w", err)
	}
	return nil
}

// GetImage loads an image with its metadata and analysis preloaded.
func (s *GormStore) GetImage(id string) (*database.Image, error) {
	var img database.Image
	err := s.db.Preload("Metadata").Preload("Analysis").First(&img, "id = ?", id).Error
	if err != nil {
		return nil, fmt.Errorf("image not found: %w", err)
	}
	return &img, nil
}

// ListImagesByBatch returns all images produced by a batch, oldest first.
func (s *GormStore) ListImagesByBatch(batchID string) ([]database.Image, error) {
	var images []database.Image
	err := s.db.Where("batch_id = ?", batchID).Order("created_at ASC").Find(&images).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list batch images: %w", err)
	}
	return images, nil
}

// DeleteImage removes an image record along with its metadata and analysis.
func (s *GormStore) DeleteImage(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("image_id = ?", id).Delete(&database.ImageMetadata{}).Error; err != nil {
			return fmt.Errorf("failed to delete metadata: %w", err)
		}
		if err := tx.Where("image_id = ?", id).Delete(&database.ImageAnalysis{}).Error; err != nil {
			return fmt.Errorf("failed to delete analysis: %w", err)
		}
		if err := tx.Delete(&database.Image{}, "id = ?", id).Error; err != nil {
			return fmt.Errorf("failed to delete image: %w", err)
		}
		return nil
	})
}
