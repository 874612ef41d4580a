// Package retrieval implements multi-query semantic search over the chunks of
// a user's completed documents.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
)

const (
	DefaultLimit      = 5
	MaxLimit          = 20
	MaxQueries        = 4
	PreviewCharacters = 500

	ScopeAttached = "attached_documents"
	ScopeLibrary  = "all_documents"
)

var ErrEmbeddingMismatch = errors.New("embedding count does not match query count")

// Embedder turns texts into vectors, one per input, in input order.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Candidate is one chunk returned by a per-query similarity search.
type Candidate struct {
	ChunkID       uuid.UUID
	DocumentID    uuid.UUID
	DocumentTitle string
	Order         int
	Text          string
	Similarity    float64
}

// Store resolves scopes and runs nearest-neighbour queries. Both methods must
// only consider documents that are owned by the caller and completed.
type Store interface {
	SearchableDocumentIDs(ctx context.Context, ownerID uint, scope []uuid.UUID, wholeLibrary bool) ([]uuid.UUID, error)
	NearestChunks(ctx context.Context, documentIDs []uuid.UUID, query []float32, limit int) ([]Candidate, error)
}

// Scope restricts a search. An empty DocumentIDs list searches the whole
// library only when AllowLibrary is set.
type Scope struct {
	DocumentIDs  []string
	AllowLibrary bool
}

type SearchRequest struct {
	OwnerID uint
	Queries []string
	Scope   Scope
	Limit   int
}

type Chunk struct {
	ChunkID        string  `json:"chunk_id"`
	DocumentID     string  `json:"document_id"`
	DocumentTitle  string  `json:"document_title"`
	Order          int     `json:"order"`
	Text           string  `json:"text"`
	Score          float64 `json:"score"`
	MatchedQueries int     `json:"matched_queries"`
}

type SearchResult struct {
	Queries             []string `json:"queries"`
	Scope               string   `json:"scope"`
	Chunks              []Chunk  `json:"chunks"`
	DocumentIDsSearched []string `json:"document_ids_searched"`
	Message             string   `json:"message,omitempty"`
}

type Retriever struct {
	store    Store
	embedder Embedder
	logger   *slog.Logger
}

func NewRetriever(store Store, embedder Embedder, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{store: store, embedder: embedder, logger: logger}
}

func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

func (r *Retriever) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	limit := ClampLimit(req.Limit)
	queries := normalizeQueries(req.Queries)

	result := &SearchResult{
		Queries:             queries,
		Scope:               ScopeLibrary,
		Chunks:              []Chunk{},
		DocumentIDsSearched: []string{},
	}
	explicit := len(req.Scope.DocumentIDs) > 0
	if explicit {
		result.Scope = ScopeAttached
	}

	if !explicit && !req.Scope.AllowLibrary {
		result.Message = "No documents are attached to this conversation, so no search was performed."
		return result, nil
	}
	if len(queries) == 0 {
		result.Message = "No search queries were provided, so no search was performed."
		return result, nil
	}

	var scopeIDs []uuid.UUID
	if explicit {
		scopeIDs = parseIDs(req.Scope.DocumentIDs)
		if len(scopeIDs) == 0 {
			result.Message = "None of the attached document ids are valid."
			return result, nil
		}
	}

	docIDs, err := r.store.SearchableDocumentIDs(ctx, req.OwnerID, scopeIDs, !explicit)
	if err != nil {
		return nil, fmt.Errorf("resolve search scope failed: %w", err)
	}
	if len(docIDs) == 0 {
		result.Message = "No completed documents are available to search."
		return result, nil
	}
	for _, id := range docIDs {
		result.DocumentIDsSearched = append(result.DocumentIDsSearched, id.String())
	}

	vectors, err := r.embedder.EmbedTexts(ctx, queries)
	if err != nil {
		return nil, fmt.Errorf("embed search queries failed: %w", err)
	}
	if len(vectors) != len(queries) {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrEmbeddingMismatch, len(vectors), len(queries))
	}

	perQuery := make([][]Candidate, 0, len(queries))
	for i, vec := range vectors {
		candidates, err := r.store.NearestChunks(ctx, docIDs, vec, limit)
		if err != nil {
			return nil, fmt.Errorf("search query %d failed: %w", i+1, err)
		}
		perQuery = append(perQuery, candidates)
	}

	result.Chunks = Fuse(perQuery, limit)
	r.logger.Debug("semantic search completed",
		"owner_id", req.OwnerID,
		"queries", len(queries),
		"documents", len(docIDs),
		"results", len(result.Chunks),
	)
	return result, nil
}

// Fuse merges per-query rankings. A chunk's score is the mean of the
// similarities it received from the queries that returned it. Ties keep the
// order in which chunks were first seen.
func Fuse(perQuery [][]Candidate, limit int) []Chunk {
	type fused struct {
		candidate Candidate
		sum       float64
		hits      int
	}

	byID := make(map[uuid.UUID]*fused)
	order := make([]*fused, 0)
	for _, candidates := range perQuery {
		for _, c := range candidates {
			f, ok := byID[c.ChunkID]
			if !ok {
				f = &fused{candidate: c}
				byID[c.ChunkID] = f
				order = append(order, f)
			}
			f.sum += c.Similarity
			f.hits++
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return order[i].sum/float64(order[i].hits) > order[j].sum/float64(order[j].hits)
	})
	if limit > 0 && len(order) > limit {
		order = order[:limit]
	}

	out := make([]Chunk, 0, len(order))
	for _, f := range order {
		out = append(out, Chunk{
			ChunkID:        f.candidate.ChunkID.String(),
			DocumentID:     f.candidate.DocumentID.String(),
			DocumentTitle:  f.candidate.DocumentTitle,
			Order:          f.candidate.Order,
			Text:           Preview(f.candidate.Text, PreviewCharacters),
			Score:          f.sum / float64(f.hits),
			MatchedQueries: f.hits,
		})
	}
	return out
}

// Preview cuts text to at most n characters and marks the cut with "...".
func Preview(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}

func normalizeQueries(raw []string) []string {
	out := make([]string, 0, MaxQueries)
	for _, q := range raw {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		out = append(out, q)
		if len(out) == MaxQueries {
			break
		}
	}
	return out
}

func parseIDs(raw []string) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(raw))
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(strings.TrimSpace(s))
		if err != nil {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
