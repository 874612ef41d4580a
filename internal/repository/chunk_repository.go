package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"docchat/internal/model"
	"docchat/internal/retrieval"
)

// ChunkRepository reads document chunks. It also serves as the retrieval
// store: scope resolution plus cosine nearest-neighbour search on pgvector.
type ChunkRepository struct {
	db *gorm.DB
}

func NewChunkRepository(db *gorm.DB) *ChunkRepository {
	return &ChunkRepository{db: db}
}

// ListByDocument returns the chunks of a document in order.
func (r *ChunkRepository) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]model.DocumentChunk, error) {
	var chunks []model.DocumentChunk
	err := r.db.WithContext(ctx).
		Omit("embedding").
		Where("document_id = ?", documentID).
		Order("chunk_order ASC").
		Find(&chunks).Error
	if err != nil {
		return nil, fmt.Errorf("list document chunks failed: %w", err)
	}
	return chunks, nil
}

func (r *ChunkRepository) ListTexts(ctx context.Context, documentID uuid.UUID) ([]string, error) {
	var texts []string
	err := r.db.WithContext(ctx).
		Model(&model.DocumentChunk{}).
		Where("document_id = ?", documentID).
		Order("chunk_order ASC").
		Pluck("text", &texts).Error
	if err != nil {
		return nil, fmt.Errorf("list chunk texts failed: %w", err)
	}
	return texts, nil
}

func (r *ChunkRepository) SearchableDocumentIDs(ctx context.Context, ownerID uint, scope []uuid.UUID, wholeLibrary bool) ([]uuid.UUID, error) {
	if !wholeLibrary && len(scope) == 0 {
		return []uuid.UUID{}, nil
	}
	var ids []uuid.UUID
	if err := searchableQuery(r.db.WithContext(ctx), ownerID, scope, wholeLibrary).Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("resolve searchable documents failed: %w", err)
	}
	return ids, nil
}

type chunkHit struct {
	ChunkID       uuid.UUID
	DocumentID    uuid.UUID
	DocumentTitle string
	ChunkOrder    int
	Text          string
	Similarity    float64
}

// NearestChunks ranks chunks of the given completed documents by cosine
// similarity to query. Equal distances fall back to chunk id order.
func (r *ChunkRepository) NearestChunks(ctx context.Context, documentIDs []uuid.UUID, query []float32, limit int) ([]retrieval.Candidate, error) {
	if len(documentIDs) == 0 {
		return []retrieval.Candidate{}, nil
	}
	var hits []chunkHit
	err := nearestChunksQuery(r.db.WithContext(ctx), documentIDs, pgvector.NewVector(query), limit).Scan(&hits).Error
	if err != nil {
		return nil, fmt.Errorf("nearest chunk search failed: %w", err)
	}

	out := make([]retrieval.Candidate, 0, len(hits))
	for _, h := range hits {
		out = append(out, retrieval.Candidate{
			ChunkID:       h.ChunkID,
			DocumentID:    h.DocumentID,
			DocumentTitle: h.DocumentTitle,
			Order:         h.ChunkOrder,
			Text:          h.Text,
			Similarity:    h.Similarity,
		})
	}
	return out, nil
}

// searchableQuery selects the caller's completed documents, optionally
// limited to scope.
func searchableQuery(db *gorm.DB, ownerID uint, scope []uuid.UUID, wholeLibrary bool) *gorm.DB {
	q := db.Model(&model.Document{}).
		Where("owner_id = ? AND status = ?", ownerID, model.DocumentStatusCompleted)
	if !wholeLibrary {
		q = q.Where("id IN ?", scope)
	}
	return q.Order("created_at ASC")
}

func nearestChunksQuery(db *gorm.DB, documentIDs []uuid.UUID, vec pgvector.Vector, limit int) *gorm.DB {
	return db.
		Table("document_chunks AS c").
		Select("c.id AS chunk_id, c.document_id, d.title AS document_title, c.chunk_order, c.text, 1 - (c.embedding <=> ?) AS similarity", vec).
		Joins("JOIN documents d ON d.id = c.document_id").
		Where("c.document_id IN ? AND d.status = ?", documentIDs, model.DocumentStatusCompleted).
		Order(clause.OrderBy{Expression: clause.Expr{
			SQL:                "c.embedding <=> ?, c.id",
			Vars:               []interface{}{vec},
			WithoutParentheses: true,
		}}).
		Limit(limit)
}
