package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type DocumentStatus string

const (
	DocumentStatusQueued     DocumentStatus = "queued"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusCompleted  DocumentStatus = "completed"
	DocumentStatusFailed     DocumentStatus = "failed"
)

func (s DocumentStatus) Valid() bool {
	switch s {
	case DocumentStatusQueued, DocumentStatusProcessing, DocumentStatusCompleted, DocumentStatusFailed:
		return true
	}
	return false
}

type DocumentSource string

const (
	DocumentSourceUpload   DocumentSource = "upload"
	DocumentSourceURL      DocumentSource = "url"
	DocumentSourceInternal DocumentSource = "internal"
)

type DocumentType string

const (
	DocumentTypePDF   DocumentType = "pdf"
	DocumentTypeDOCX  DocumentType = "docx"
	DocumentTypeTXT   DocumentType = "txt"
	DocumentTypeMD    DocumentType = "md"
	DocumentTypeHTML  DocumentType = "html"
	DocumentTypeOther DocumentType = "other"
)

// DocumentTypeFromExtension maps a file extension (with or without the dot)
// to a DocumentType. Unknown extensions map to DocumentTypeOther.
func DocumentTypeFromExtension(ext string) DocumentType {
	if len(ext) > 0 && ext[0] == '.' {
		ext = ext[1:]
	}
	switch DocumentType(ext) {
	case DocumentTypePDF, DocumentTypeDOCX, DocumentTypeTXT, DocumentTypeMD, DocumentTypeHTML:
		return DocumentType(ext)
	case "htm":
		return DocumentTypeHTML
	case "markdown":
		return DocumentTypeMD
	}
	return DocumentTypeOther
}

type Document struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID      uint           `gorm:"not null;index" json:"owner_id"`
	Title        string         `gorm:"size:255;not null" json:"title"`
	Source       DocumentSource `gorm:"size:32;not null;default:upload" json:"source"`
	SourceName   *string        `gorm:"size:255" json:"source_name"`
	Description  *string        `gorm:"type:text" json:"description"`
	StorageURL   *string        `gorm:"size:2048" json:"storage_url"`
	DocumentType DocumentType   `gorm:"size:32;not null;default:other" json:"document_type"`
	SizeKB       *int           `json:"size_kb"`
	Status       DocumentStatus `gorm:"size:32;not null;default:queued;index" json:"status"`
	Summary      *string        `gorm:"type:text" json:"summary"`
	CreatedAt    time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"index" json:"updated_at"`

	ChunkCount int64 `gorm:"->;-:migration" json:"chunk_count"`
}

func (d *Document) BeforeCreate(*gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}
