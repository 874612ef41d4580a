package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"docchat/internal/llm"
	"docchat/internal/model"
)

type memStore struct {
	mu     sync.Mutex
	docs   map[uuid.UUID]*model.Document
	chunks map[uuid.UUID][]model.DocumentChunk
}

func newMemStore(docs ...*model.Document) *memStore {
	s := &memStore{docs: map[uuid.UUID]*model.Document{}, chunks: map[uuid.UUID][]model.DocumentChunk{}}
	for _, d := range docs {
		s.docs[d.ID] = d
	}
	return s
}

func (s *memStore) ClaimQueued(_ context.Context, id uuid.UUID) (*model.Document, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, false, nil
	}
	if doc.Status != model.DocumentStatusQueued {
		cp := *doc
		return &cp, false, nil
	}
	doc.Status = model.DocumentStatusProcessing
	cp := *doc
	return &cp, true, nil
}

func (s *memStore) CompleteIngestion(_ context.Context, id uuid.UUID, chunks []model.DocumentChunk, meta llm.DocumentMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return errors.New("missing")
	}
	s.chunks[id] = chunks
	doc.Status = model.DocumentStatusCompleted
	doc.Title = meta.Title
	doc.Description = &meta.Description
	doc.Summary = &meta.Summary
	return nil
}

func (s *memStore) MarkFailed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, ok := s.docs[id]; ok {
		doc.Status = model.DocumentStatusFailed
	}
	return nil
}

func (s *memStore) ListStaleQueued(_ context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stale []*model.Document
	for _, d := range s.docs {
		if d.Status == model.DocumentStatusQueued && !d.UpdatedAt.After(before) {
			stale = append(stale, d)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].CreatedAt.Before(stale[j].CreatedAt) })
	var ids []uuid.UUID
	for i, d := range stale {
		if i == limit {
			break
		}
		ids = append(ids, d.ID)
	}
	return ids, nil
}

func (s *memStore) status(id uuid.UUID) model.DocumentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[id].Status
}

type memObjects struct {
	mu      sync.Mutex
	files   map[string][]byte
	fetches int
}

func (o *memObjects) Download(_ context.Context, url string) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fetches++
	data, ok := o.files[url]
	if !ok {
		return nil, fmt.Errorf("no object at %s", url)
	}
	return data, nil
}

// sentenceSplitter cuts after every period.
type sentenceSplitter struct{}

func (sentenceSplitter) SplitText(text string) ([]string, error) {
	return strings.SplitAfter(text, "."), nil
}

type fakeEmbedder struct {
	mu      sync.Mutex
	batches []int
	drop    bool
	err     error
}

func (e *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batches = append(e.batches, len(texts))
	if e.err != nil {
		return nil, e.err
	}
	n := len(texts)
	if e.drop {
		n--
	}
	out := make([][]float32, n)
	for i := range out {
		out[i] = make([]float32, model.EmbeddingDimension)
		out[i][0] = float32(i + 1)
	}
	return out, nil
}

type fakeMetadata struct {
	meta llm.DocumentMetadata
	err  error
	seen string
}

func (m *fakeMetadata) GenerateMetadata(_ context.Context, sample string) (llm.DocumentMetadata, error) {
	m.seen = sample
	return m.meta, m.err
}

func newDoc(docType model.DocumentType, url string) *model.Document {
	now := time.Now()
	return &model.Document{
		ID:           uuid.New(),
		OwnerID:      1,
		Title:        "upload.txt",
		DocumentType: docType,
		StorageURL:   &url,
		Status:       model.DocumentStatusQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

type fixture struct {
	store    *memStore
	objects  *memObjects
	embedder *fakeEmbedder
	meta     *fakeMetadata
	pipeline *Pipeline
}

func newFixture(splitter Splitter, docs ...*model.Document) *fixture {
	f := &fixture{
		store:    newMemStore(docs...),
		objects:  &memObjects{files: map[string][]byte{}},
		embedder: &fakeEmbedder{},
		meta: &fakeMetadata{meta: llm.DocumentMetadata{
			Title: "Generated title", Description: "About things.", Summary: "**Things**",
		}},
	}
	f.pipeline = NewPipeline(f.store, f.objects, splitter, f.embedder, f.meta, Options{}, nil)
	return f
}

func TestRunIngestsTextDocument(t *testing.T) {
	doc := newDoc(model.DocumentTypeTXT, "s3://docs/a.txt")
	f := newFixture(sentenceSplitter{}, doc)
	f.objects.files["s3://docs/a.txt"] = []byte("A. B. C.")

	if err := f.pipeline.Run(context.Background(), doc.ID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := f.store.status(doc.ID); got != model.DocumentStatusCompleted {
		t.Fatalf("status = %q, want completed", got)
	}
	chunks := f.store.chunks[doc.ID]
	want := []string{"A.", "B.", "C."}
	if len(chunks) != len(want) {
		t.Fatalf("len(chunks) = %d, want %d", len(chunks), len(want))
	}
	for i, c := range chunks {
		if c.Order != i || c.Text != want[i] || c.DocumentID != doc.ID {
			t.Errorf("chunk %d = {order %d, text %q}", i, c.Order, c.Text)
		}
		if len(c.Embedding.Slice()) != model.EmbeddingDimension {
			t.Errorf("chunk %d embedding width = %d", i, len(c.Embedding.Slice()))
		}
	}
	if f.store.docs[doc.ID].Title != "Generated title" {
		t.Errorf("Title = %q", f.store.docs[doc.ID].Title)
	}
	if f.meta.seen != "A.\n\nB.\n\nC." {
		t.Errorf("metadata sample = %q", f.meta.seen)
	}
}

func TestRunFailsOnEmptyText(t *testing.T) {
	doc := newDoc(model.DocumentTypeTXT, "s3://docs/empty.txt")
	f := newFixture(sentenceSplitter{}, doc)
	f.objects.files["s3://docs/empty.txt"] = []byte("  \n\t ")

	err := f.pipeline.Run(context.Background(), doc.ID)
	if !errors.Is(err, ErrEmptyText) {
		t.Fatalf("Run() error = %v, want ErrEmptyText", err)
	}
	if got := f.store.status(doc.ID); got != model.DocumentStatusFailed {
		t.Errorf("status = %q, want failed", got)
	}
	if len(f.store.chunks[doc.ID]) != 0 {
		t.Error("chunks were written for a failed document")
	}
}

func TestRunFailures(t *testing.T) {
	tests := []struct {
		name    string
		docType model.DocumentType
		url     string
		setup   func(*fixture)
		wantErr error
	}{
		{
			name:    "unsupported type",
			docType: model.DocumentTypeDOCX,
			url:     "s3://docs/a.docx",
			setup:   func(f *fixture) { f.objects.files["s3://docs/a.docx"] = []byte("PK") },
			wantErr: ErrUnsupportedType,
		},
		{
			name:    "missing storage url",
			docType: model.DocumentTypeTXT,
			url:     "",
			setup:   func(*fixture) {},
			wantErr: ErrMissingStorageURL,
		},
		{
			name:    "embedding count mismatch",
			docType: model.DocumentTypeTXT,
			url:     "s3://docs/a.txt",
			setup: func(f *fixture) {
				f.objects.files["s3://docs/a.txt"] = []byte("One. Two.")
				f.embedder.drop = true
			},
			wantErr: ErrEmbeddingMismatch,
		},
		{
			name:    "embedding provider error",
			docType: model.DocumentTypeTXT,
			url:     "s3://docs/a.txt",
			setup: func(f *fixture) {
				f.objects.files["s3://docs/a.txt"] = []byte("One.")
				f.embedder.err = errBoom
			},
			wantErr: errBoom,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := newDoc(tt.docType, tt.url)
			f := newFixture(sentenceSplitter{}, doc)
			tt.setup(f)

			err := f.pipeline.Run(context.Background(), doc.ID)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Run() error = %v, want %v", err, tt.wantErr)
			}
			if got := f.store.status(doc.ID); got != model.DocumentStatusFailed {
				t.Errorf("status = %q, want failed", got)
			}
		})
	}
}

var errBoom = errors.New("boom")

func TestRunMetadataFailureFallsBack(t *testing.T) {
	doc := newDoc(model.DocumentTypeMD, "s3://docs/notes.md")
	f := newFixture(sentenceSplitter{}, doc)
	f.objects.files["s3://docs/notes.md"] = []byte("# Notes. Body text.")
	f.meta.err = errBoom

	if err := f.pipeline.Run(context.Background(), doc.ID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got := f.store.docs[doc.ID]
	if got.Status != model.DocumentStatusCompleted {
		t.Fatalf("status = %q, want completed", got.Status)
	}
	if got.Title != "upload.txt" {
		t.Errorf("Title = %q, want original title", got.Title)
	}
	if !strings.HasPrefix(*got.Description, "Metadata generation failed.") {
		t.Errorf("Description = %q", *got.Description)
	}
}

func TestProcessReplacesExistingChunks(t *testing.T) {
	doc := newDoc(model.DocumentTypeTXT, "s3://docs/a.txt")
	doc.Status = model.DocumentStatusCompleted
	f := newFixture(sentenceSplitter{}, doc)
	f.objects.files["s3://docs/a.txt"] = []byte("New one. New two.")
	old := make([]model.DocumentChunk, 5)
	for i := range old {
		old[i] = model.DocumentChunk{DocumentID: doc.ID, Order: i, Text: "old"}
	}
	f.store.chunks[doc.ID] = old

	if err := f.pipeline.Process(context.Background(), doc); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	chunks := f.store.chunks[doc.ID]
	if len(chunks) != 2 {
		t.Fatalf("len(chunks) = %d, want 2", len(chunks))
	}
	for i, c := range chunks {
		if c.Order != i || c.Text == "old" {
			t.Errorf("chunk %d = %+v", i, c)
		}
	}
}

func TestRunSkipsDocumentsNotQueued(t *testing.T) {
	for _, status := range []model.DocumentStatus{
		model.DocumentStatusProcessing,
		model.DocumentStatusCompleted,
		model.DocumentStatusFailed,
	} {
		t.Run(string(status), func(t *testing.T) {
			doc := newDoc(model.DocumentTypeTXT, "s3://docs/a.txt")
			doc.Status = status
			f := newFixture(sentenceSplitter{}, doc)

			if err := f.pipeline.Run(context.Background(), doc.ID); err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if f.objects.fetches != 0 {
				t.Errorf("fetches = %d, want 0", f.objects.fetches)
			}
			if got := f.store.status(doc.ID); got != status {
				t.Errorf("status changed to %q", got)
			}
		})
	}

	f := newFixture(sentenceSplitter{})
	if err := f.pipeline.Run(context.Background(), uuid.New()); err != nil {
		t.Fatalf("Run(missing) error = %v", err)
	}
}

func TestRunConcurrentDeliveriesProcessOnce(t *testing.T) {
	doc := newDoc(model.DocumentTypeTXT, "s3://docs/a.txt")
	f := newFixture(sentenceSplitter{}, doc)
	f.objects.files["s3://docs/a.txt"] = []byte("Only once.")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.pipeline.Run(context.Background(), doc.ID); err != nil {
				t.Errorf("Run() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if f.objects.fetches != 1 {
		t.Errorf("fetches = %d, want 1", f.objects.fetches)
	}
	if got := f.store.status(doc.ID); got != model.DocumentStatusCompleted {
		t.Errorf("status = %q, want completed", got)
	}
}

func TestEmbedUsesFixedBatches(t *testing.T) {
	doc := newDoc(model.DocumentTypeTXT, "s3://docs/long.txt")
	f := newFixture(sentenceSplitter{}, doc)
	var b strings.Builder
	for i := 0; i < 70; i++ {
		fmt.Fprintf(&b, "Sentence %d. ", i)
	}
	f.objects.files["s3://docs/long.txt"] = []byte(b.String())

	if err := f.pipeline.Run(context.Background(), doc.ID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []int{32, 32, 6}
	if fmt.Sprint(f.embedder.batches) != fmt.Sprint(want) {
		t.Errorf("batches = %v, want %v", f.embedder.batches, want)
	}
	if len(f.store.chunks[doc.ID]) != 70 {
		t.Errorf("len(chunks) = %d, want 70", len(f.store.chunks[doc.ID]))
	}
}
