package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"docchat/internal/llm"
	"docchat/internal/model"
)

const chunkCountSelect = "documents.*, (SELECT COUNT(*) FROM document_chunks c WHERE c.document_id = documents.id) AS chunk_count"

type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

type DocumentFilter struct {
	OwnerID uint
	Status  model.DocumentStatus
	Search  string
	Page
}

func (r *DocumentRepository) Create(ctx context.Context, doc *model.Document) error {
	if err := r.db.WithContext(ctx).Create(doc).Error; err != nil {
		return fmt.Errorf("create document failed: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByIDAndOwner(ctx context.Context, id uuid.UUID, ownerID uint) (*model.Document, error) {
	var doc model.Document
	err := r.db.WithContext(ctx).
		Select(chunkCountSelect).
		Where("documents.id = ? AND documents.owner_id = ?", id, ownerID).
		First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get document failed: %w", err)
	}
	return &doc, nil
}

// List returns one page of the owner's documents, most recently updated
// first, together with the total number of matches.
func (r *DocumentRepository) List(ctx context.Context, filter DocumentFilter) ([]model.Document, int64, error) {
	scoped := func() *gorm.DB {
		q := r.db.WithContext(ctx).Model(&model.Document{}).Where("documents.owner_id = ?", filter.OwnerID)
		if filter.Status != "" {
			q = q.Where("documents.status = ?", filter.Status)
		}
		if filter.Search != "" {
			q = q.Where("documents.title ILIKE ?", likePattern(filter.Search))
		}
		return q
	}

	var total int64
	if err := scoped().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count documents failed: %w", err)
	}

	var docs []model.Document
	err := scoped().Select(chunkCountSelect).
		Order("documents.updated_at DESC").
		Offset(filter.Offset).
		Limit(filter.Limit).
		Find(&docs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list documents failed: %w", err)
	}
	return docs, total, nil
}

// ListRecent lists the owner's documents newest first, without counts.
func (r *DocumentRepository) ListRecent(ctx context.Context, ownerID uint, status model.DocumentStatus, offset, limit int) ([]model.Document, error) {
	q := r.db.WithContext(ctx).Where("owner_id = ?", ownerID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var docs []model.Document
	if err := q.Order("created_at DESC").Offset(offset).Limit(limit).Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("list recent documents failed: %w", err)
	}
	return docs, nil
}

// ListCompletedByIDs returns the subset of ids that the owner can chat with.
func (r *DocumentRepository) ListCompletedByIDs(ctx context.Context, ownerID uint, ids []uuid.UUID) ([]model.Document, error) {
	if len(ids) == 0 {
		return []model.Document{}, nil
	}
	var docs []model.Document
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND status = ? AND id IN ?", ownerID, model.DocumentStatusCompleted, ids).
		Order("created_at ASC").
		Find(&docs).Error
	if err != nil {
		return nil, fmt.Errorf("list completed documents failed: %w", err)
	}
	return docs, nil
}

// Update applies column updates to an owned document. It reports whether a
// row matched.
func (r *DocumentRepository) Update(ctx context.Context, id uuid.UUID, ownerID uint, updates map[string]interface{}) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.Document{}).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("update document failed: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Delete removes the document; chunks and chat attachments go with it
// through foreign key cascades.
func (r *DocumentRepository) Delete(ctx context.Context, id uuid.UUID, ownerID uint) (bool, error) {
	res := r.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).Delete(&model.Document{})
	if res.Error != nil {
		return false, fmt.Errorf("delete document failed: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Requeue moves a finished or failed document back to queued. Documents that
// are queued or processing are left alone.
func (r *DocumentRepository) Requeue(ctx context.Context, id uuid.UUID, ownerID uint) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.Document{}).
		Where("id = ? AND owner_id = ? AND status IN ?", id, ownerID,
			[]model.DocumentStatus{model.DocumentStatusCompleted, model.DocumentStatusFailed}).
		Update("status", model.DocumentStatusQueued)
	if res.Error != nil {
		return false, fmt.Errorf("requeue document failed: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ClaimQueued moves a queued document to processing under a row lock and
// commits straight away. The bool is false when the document exists but is
// not queued; a missing document yields (nil, false, nil).
func (r *DocumentRepository) ClaimQueued(ctx context.Context, id uuid.UUID) (*model.Document, bool, error) {
	var doc model.Document
	claimed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockDocument(tx, id).First(&doc).Error; err != nil {
			return err
		}
		if doc.Status != model.DocumentStatusQueued {
			return nil
		}
		if err := tx.Model(&doc).Update("status", model.DocumentStatusProcessing).Error; err != nil {
			return err
		}
		doc.Status = model.DocumentStatusProcessing
		claimed = true
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("claim document failed: %w", err)
	}
	return &doc, claimed, nil
}

// CompleteIngestion swaps the chunk set and marks the document completed in
// one transaction.
func (r *DocumentRepository) CompleteIngestion(ctx context.Context, id uuid.UUID, chunks []model.DocumentChunk, meta llm.DocumentMetadata) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return replaceChunks(tx, id, chunks, meta)
	})
	if err != nil {
		return fmt.Errorf("complete ingestion failed: %w", err)
	}
	return nil
}

func lockDocument(tx *gorm.DB, id uuid.UUID) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id)
}

// replaceChunks deletes the old chunk set, inserts the new one and marks the
// document completed. It must run inside a transaction.
func replaceChunks(tx *gorm.DB, id uuid.UUID, chunks []model.DocumentChunk, meta llm.DocumentMetadata) error {
	if err := tx.Where("document_id = ?", id).Delete(&model.DocumentChunk{}).Error; err != nil {
		return fmt.Errorf("delete old chunks failed: %w", err)
	}
	if len(chunks) > 0 {
		if err := tx.CreateInBatches(&chunks, insertBatchSize).Error; err != nil {
			return fmt.Errorf("insert chunks failed: %w", err)
		}
	}
	res := tx.Model(&model.Document{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":      model.DocumentStatusCompleted,
		"title":       meta.Title,
		"description": meta.Description,
		"summary":     meta.Summary,
		"updated_at":  time.Now(),
	})
	if res.Error != nil {
		return fmt.Errorf("mark document completed failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *DocumentRepository) MarkFailed(ctx context.Context, id uuid.UUID) error {
	err := r.db.WithContext(ctx).
		Model(&model.Document{}).
		Where("id = ?", id).
		Update("status", model.DocumentStatusFailed).Error
	if err != nil {
		return fmt.Errorf("mark document as failed: %w", err)
	}
	return nil
}

// ListStaleQueued returns queued documents not touched since before, oldest
// first.
func (r *DocumentRepository) ListStaleQueued(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&model.Document{}).
		Where("status = ? AND updated_at <= ?", model.DocumentStatusQueued, before).
		Order("created_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list stale documents failed: %w", err)
	}
	return ids, nil
}
