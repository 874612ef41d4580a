package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

// EmbeddingDimension is the width of the vector column and of every embedding
// requested from the provider.
const EmbeddingDimension = 256

// DocumentChunk is one contiguous piece of a document's extracted text. Order
// is dense from 0 within a document.
type DocumentChunk struct {
	ID         uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	DocumentID uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_document_chunks_document_order,priority:1" json:"document_id"`
	Document   *Document       `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Order      int             `gorm:"column:chunk_order;not null;uniqueIndex:idx_document_chunks_document_order,priority:2" json:"order"`
	Text       string          `gorm:"type:text;not null" json:"text"`
	Embedding  pgvector.Vector `gorm:"type:vector(256);not null" json:"-"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func (c *DocumentChunk) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
