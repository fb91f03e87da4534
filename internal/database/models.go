package database

import "time"

// Image status values tracked in the record store.
const (
	ImageStatusPending    = "pending"
	ImageStatusProcessing = "processing"
	ImageStatusCompleted  = "completed"
	ImageStatusError      = "error"
)

// Image is the persisted record for a single ingested photo.
type Image struct {
	ID            string `gorm:"primaryKey;size:36" json:"id"`
	BatchID       string `gorm:"index" json:"batch_id"`
	OriginalName  string `gorm:"index:idx_images_name_size;size:512" json:"original_name"`
	FileName      string `gorm:"size:512" json:"file_name"`
	Size          int64  `gorm:"index:idx_images_name_size" json:"size"`
	MimeType      string `gorm:"size:64" json:"mime_type"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	ThumbnailPath string `gorm:"size:1024" json:"thumbnail_path"`
	PreviewPath   string `gorm:"size:1024" json:"preview_path"`
	Status        string `gorm:"size:16;index" json:"status"`
	ErrorMessage  string `gorm:"type:text" json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Metadata *ImageMetadata `gorm:"foreignKey:ImageID" json:"metadata,omitempty"`
	Analysis *ImageAnalysis `gorm:"foreignKey:ImageID" json:"analysis,omitempty"`
}

// ImageMetadata is the bounded EXIF snapshot extracted during ingestion.
// Fields holds a JSON-encoded map of the allow-listed tags.
type ImageMetadata struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	ImageID     string     `gorm:"index;size:36" json:"image_id"`
	Fields      string     `gorm:"type:text" json:"fields"`
	CameraMake  string     `gorm:"size:128" json:"camera_make,omitempty"`
	CameraModel string     `gorm:"size:128" json:"camera_model,omitempty"`
	TakenAt     *time.Time `json:"taken_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ImageAnalysis holds the structured result of the content-analysis step.
// Keywords is a JSON-encoded string array.
type ImageAnalysis struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ImageID     string    `gorm:"index;size:36" json:"image_id"`
	Description string    `gorm:"type:text" json:"description"`
	Caption     string    `gorm:"size:512" json:"caption"`
	Keywords    string    `gorm:"type:text" json:"keywords"`
	Confidence  float64   `json:"confidence"`
	Model       string    `gorm:"size:128" json:"model"`
	CreatedAt   time.Time `json:"created_at"`
}
