package mediastore

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/lumapix/lumapix/internal/database"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	// A plain :memory: DSN gives every pooled connection its own empty
	// database; pin the pool to one connection so all queries see the
	// migrated schema.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))
	return New(db)
}

func newImage(name string, size int64) *database.Image {
	return &database.Image{
		ID:           uuid.New().String(),
		OriginalName: name,
		FileName:     name,
		Size:         size,
		Status:       database.ImageStatusPending,
	}
}

func TestInsertAndGetImage(t *testing.T) {
	store := newTestStore(t)

	img := newImage("vacation.jpg", 1024)
	require.NoError(t, store.InsertImage(img))

	got, err := store.GetImage(img.ID)
	require.NoError(t, err)
	assert.Equal(t, "vacation.jpg", got.OriginalName)
	assert.Equal(t, int64(1024), got.Size)
	assert.Equal(t, database.ImageStatusPending, got.Status)
}

func TestUpdateImageStatus(t *testing.T) {
	store := newTestStore(t)

	img := newImage("photo.jpg", 2048)
	require.NoError(t, store.InsertImage(img))

	require.NoError(t, store.UpdateImageStatus(img.ID, database.ImageStatusError, "analysis failed"))

	got, err := store.GetImage(img.ID)
	require.NoError(t, err)
	assert.Equal(t, database.ImageStatusError, got.Status)
	assert.Equal(t, "analysis failed", got.ErrorMessage)

	// Clearing the error message on recovery.
	require.NoError(t, store.UpdateImageStatus(img.ID, database.ImageStatusCompleted, ""))
	got, err = store.GetImage(img.ID)
	require.NoError(t, err)
	assert.Empty(t, got.ErrorMessage)

	assert.Error(t, store.UpdateImageStatus("missing-id", database.ImageStatusCompleted, ""))
}

func TestFindDuplicate(t *testing.T) {
	store := newTestStore(t)

	img := newImage("dup.jpg", 500)
	img.Status = database.ImageStatusCompleted
	require.NoError(t, store.InsertImage(img))

	// Same name and size matches.
	dup, err := store.FindDuplicate("dup.jpg", 500)
	require.NoError(t, err)
	require.NotNil(t, dup)
	assert.Equal(t, img.ID, dup.ID)

	// Same name, different size does not.
	dup, err = store.FindDuplicate("dup.jpg", 501)
	require.NoError(t, err)
	assert.Nil(t, dup)

	// Errored records never count as duplicates.
	failed := newImage("failed.jpg", 300)
	failed.Status = database.ImageStatusError
	require.NoError(t, store.InsertImage(failed))

	dup, err = store.FindDuplicate("failed.jpg", 300)
	require.NoError(t, err)
	assert.Nil(t, dup)
}

func TestMetadataAndAnalysisRoundTrip(t *testing.T) {
	store := newTestStore(t)

	img := newImage("tagged.jpg", 900)
	require.NoError(t, store.InsertImage(img))

	require.NoError(t, store.InsertMetadata(&database.ImageMetadata{
		ImageID:     img.ID,
		Fields:      `{"FNumber":"f/1.8"}`,
		CameraMake:  "Fujifilm",
		CameraModel: "X-T5",
	}))
	require.NoError(t, store.InsertAnalysis(&database.ImageAnalysis{
		ImageID:     img.ID,
		Description: "A mountain lake at dawn",
		Caption:     "Dawn at the lake",
		Keywords:    `["mountain","lake","dawn"]`,
		Confidence:  0.92,
		Model:       "gpt-4o-mini",
	}))

	got, err := store.GetImage(img.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Metadata)
	require.NotNil(t, got.Analysis)
	assert.Equal(t, "Fujifilm", got.Metadata.CameraMake)
	assert.Equal(t, 0.92, got.Analysis.Confidence)
}

func TestListImagesByBatchAndDelete(t *testing.T) {
	store := newTestStore(t)

	batchID := uuid.New().String()
	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		img := newImage(name, 100)
		img.BatchID = batchID
		require.NoError(t, store.InsertImage(img))
	}

	images, err := store.ListImagesByBatch(batchID)
	require.NoError(t, err)
	require.Len(t, images, 3)

	require.NoError(t, store.DeleteImage(images[0].ID))
	images, err = store.ListImagesByBatch(batchID)
	require.NoError(t, err)
	assert.Len(t, images, 2)
}
