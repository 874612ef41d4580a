// Package ingest turns an uploaded document into embedded, searchable chunks
// and recovers jobs that were lost before a worker picked them up.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"docchat/internal/llm"
	"docchat/internal/model"
)

const DefaultEmbedBatchSize = 32

var (
	ErrMissingStorageURL = errors.New("document has no storage url")
	ErrEmbeddingMismatch = errors.New("embedding count does not match chunk count")
)

// Store is the persistence the pipeline needs. ClaimQueued must lock the row
// and commit the queued to processing move on its own; CompleteIngestion must
// swap chunks and status atomically.
type Store interface {
	ClaimQueued(ctx context.Context, id uuid.UUID) (*model.Document, bool, error)
	CompleteIngestion(ctx context.Context, id uuid.UUID, chunks []model.DocumentChunk, meta llm.DocumentMetadata) error
	MarkFailed(ctx context.Context, id uuid.UUID) error
}

type ObjectStore interface {
	Download(ctx context.Context, storageURL string) ([]byte, error)
}

type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

type Options struct {
	EmbedBatchSize  int
	SummaryChunks   int
	SummaryMaxChars int
}

type Pipeline struct {
	store    Store
	objects  ObjectStore
	splitter Splitter
	embedder Embedder
	metadata MetadataGenerator
	opts     Options
	logger   *slog.Logger
}

func NewPipeline(
	store Store,
	objects ObjectStore,
	splitter Splitter,
	embedder Embedder,
	metadata MetadataGenerator,
	opts Options,
	logger *slog.Logger,
) *Pipeline {
	if opts.EmbedBatchSize <= 0 {
		opts.EmbedBatchSize = DefaultEmbedBatchSize
	}
	if opts.SummaryChunks <= 0 {
		opts.SummaryChunks = DefaultSummaryChunks
	}
	if opts.SummaryMaxChars <= 0 {
		opts.SummaryMaxChars = DefaultSummaryMaxChars
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:    store,
		objects:  objects,
		splitter: splitter,
		embedder: embedder,
		metadata: metadata,
		opts:     opts,
		logger:   logger.With("component", "ingest"),
	}
}

// Run claims the document and processes it. Jobs for documents that are gone
// or no longer queued are dropped without error.
func (p *Pipeline) Run(ctx context.Context, id uuid.UUID) error {
	doc, err := p.Claim(ctx, id)
	if err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	return p.Process(ctx, doc)
}

// Claim returns the document moved to processing, or nil when there is
// nothing to do.
func (p *Pipeline) Claim(ctx context.Context, id uuid.UUID) (*model.Document, error) {
	doc, claimed, err := p.store.ClaimQueued(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		p.logger.Warn("document not found, skipping", "document_id", id)
		return nil, nil
	}
	if !claimed {
		p.logger.Info("document not queued, skipping", "document_id", id, "status", doc.Status)
		return nil, nil
	}
	return doc, nil
}

// Process runs extraction through persistence for a claimed document. Any
// failure marks the document failed and is returned.
func (p *Pipeline) Process(ctx context.Context, doc *model.Document) error {
	started := time.Now()
	log := p.logger.With("document_id", doc.ID)

	count, err := p.process(ctx, doc, log)
	if err != nil {
		// The job context may already be cancelled; the failure must still land.
		if markErr := p.store.MarkFailed(context.WithoutCancel(ctx), doc.ID); markErr != nil {
			log.Error("mark document failed", "error", markErr)
		}
		log.Error("document ingestion failed", "error", err)
		return fmt.Errorf("ingest document %s: %w", doc.ID, err)
	}

	log.Info("document ingested", "chunks", count, "duration", time.Since(started))
	return nil
}

func (p *Pipeline) process(ctx context.Context, doc *model.Document, log *slog.Logger) (int, error) {
	if doc.StorageURL == nil || *doc.StorageURL == "" {
		return 0, ErrMissingStorageURL
	}

	data, err := p.objects.Download(ctx, *doc.StorageURL)
	if err != nil {
		return 0, fmt.Errorf("download: %w", err)
	}

	text, err := Extract(doc.DocumentType, data)
	if err != nil {
		return 0, err
	}

	texts, err := Chunk(p.splitter, text)
	if err != nil {
		return 0, err
	}

	meta, metaErr := resolveMetadata(ctx, p.metadata, doc.Title, texts, p.opts.SummaryChunks, p.opts.SummaryMaxChars)
	if metaErr != nil {
		log.Warn("metadata generation failed, using fallback", "error", metaErr)
	}

	vectors, err := p.embed(ctx, texts)
	if err != nil {
		return 0, err
	}

	chunks := make([]model.DocumentChunk, len(texts))
	for i, t := range texts {
		chunks[i] = model.DocumentChunk{
			DocumentID: doc.ID,
			Order:      i,
			Text:       t,
			Embedding:  pgvector.NewVector(vectors[i]),
		}
	}

	if err := p.store.CompleteIngestion(ctx, doc.ID, chunks, meta); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

func (p *Pipeline) embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += p.opts.EmbedBatchSize {
		end := min(start+p.opts.EmbedBatchSize, len(texts))
		batch, err := p.embedder.EmbedTexts(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed chunks %d-%d: %w", start, end-1, err)
		}
		vectors = append(vectors, batch...)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrEmbeddingMismatch, len(vectors), len(texts))
	}
	return vectors, nil
}
