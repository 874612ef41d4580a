package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"docchat/internal/model"
	"docchat/internal/platform/storage"
	"docchat/internal/repository"
)

const (
	DefaultMaxUploadBytes = 10 * 1024 * 1024
	defaultPageSize       = 20
	maxPageSize           = 100
	chunkPreviewRunes     = 200
)

var uploadContentTypes = map[model.DocumentType]string{
	model.DocumentTypePDF:  "application/pdf",
	model.DocumentTypeTXT:  "text/plain",
	model.DocumentTypeMD:   "text/markdown",
	model.DocumentTypeHTML: "text/html",
}

type DocumentStore interface {
	Create(ctx context.Context, doc *model.Document) error
	GetByIDAndOwner(ctx context.Context, id uuid.UUID, ownerID uint) (*model.Document, error)
	List(ctx context.Context, filter repository.DocumentFilter) ([]model.Document, int64, error)
	Update(ctx context.Context, id uuid.UUID, ownerID uint, updates map[string]interface{}) (bool, error)
	Delete(ctx context.Context, id uuid.UUID, ownerID uint) (bool, error)
	Requeue(ctx context.Context, id uuid.UUID, ownerID uint) (bool, error)
}

type ChunkReader interface {
	ListByDocument(ctx context.Context, documentID uuid.UUID) ([]model.DocumentChunk, error)
}

type ObjectStorage interface {
	PresignUpload(ctx context.Context, key, contentType string) (*storage.PresignedUpload, error)
	KeyOf(storageURL string) (string, error)
	Delete(ctx context.Context, storageURL string) error
}

// JobQueue publishes ingestion jobs.
type JobQueue interface {
	Enqueue(ctx context.Context, documentID uuid.UUID) error
}

type DocumentService struct {
	documents      DocumentStore
	chunks         ChunkReader
	objects        ObjectStorage
	jobs           JobQueue
	maxUploadBytes int64
	logger         *slog.Logger
}

func NewDocumentService(
	documents DocumentStore,
	chunks ChunkReader,
	objects ObjectStorage,
	jobs JobQueue,
	maxUploadBytes int64,
	logger *slog.Logger,
) *DocumentService {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentService{
		documents:      documents,
		chunks:         chunks,
		objects:        objects,
		jobs:           jobs,
		maxUploadBytes: maxUploadBytes,
		logger:         logger.With("component", "documents"),
	}
}

type PresignUploadInput struct {
	UserID    uint
	FileName  string
	SizeBytes int64
}

type PresignUploadResult struct {
	*storage.PresignedUpload
	ContentType  string             `json:"content_type"`
	DocumentType model.DocumentType `json:"document_type"`
}

// PresignUpload checks the file against the accepted types and size and
// returns a short-lived URL the client PUTs the file to.
func (s *DocumentService) PresignUpload(ctx context.Context, input PresignUploadInput) (*PresignUploadResult, error) {
	docType, err := s.checkFile(input.UserID, input.FileName, input.SizeBytes)
	if err != nil {
		return nil, err
	}

	contentType := uploadContentTypes[docType]
	upload, err := s.objects.PresignUpload(ctx, storage.NewUploadKey(string(docType)), contentType)
	if err != nil {
		return nil, err
	}
	return &PresignUploadResult{PresignedUpload: upload, ContentType: contentType, DocumentType: docType}, nil
}

type CompleteUploadInput struct {
	UserID      uint
	StorageURL  string
	FileName    string
	SizeBytes   int64
	Title       string
	Description string
}

// CompleteUpload registers an uploaded file as a queued document and
// publishes its ingestion job once the row is committed. A failed publish is
// logged and left to the staleness sweeper.
func (s *DocumentService) CompleteUpload(ctx context.Context, input CompleteUploadInput) (*model.Document, error) {
	docType, err := s.checkFile(input.UserID, input.FileName, input.SizeBytes)
	if err != nil {
		return nil, err
	}
	storageURL := strings.TrimSpace(input.StorageURL)
	if _, err := s.objects.KeyOf(storageURL); err != nil {
		if errors.Is(err, storage.ErrBucketNotConfigured) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	fileName := filepath.Base(strings.TrimSpace(input.FileName))
	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = fileName
	}
	sizeKB := int((input.SizeBytes + 1023) / 1024)

	doc := &model.Document{
		OwnerID:      input.UserID,
		Title:        truncate(title, maxTitleLength),
		Source:       model.DocumentSourceUpload,
		SourceName:   &fileName,
		StorageURL:   &storageURL,
		DocumentType: docType,
		SizeKB:       &sizeKB,
		Status:       model.DocumentStatusQueued,
	}
	if d := strings.TrimSpace(input.Description); d != "" {
		doc.Description = &d
	}
	if err := s.documents.Create(ctx, doc); err != nil {
		return nil, err
	}

	s.enqueue(ctx, doc.ID)
	return doc, nil
}

type ListDocumentsInput struct {
	UserID   uint
	Status   string
	Search   string
	Page     int
	PageSize int
}

type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalPages int   `json:"total_pages"`
	TotalItems int64 `json:"total_items"`
}

type DocumentPage struct {
	Documents  []model.Document `json:"documents"`
	Pagination Pagination       `json:"pagination"`
}

func (s *DocumentService) List(ctx context.Context, input ListDocumentsInput) (*DocumentPage, error) {
	if input.UserID == 0 {
		return nil, ErrInvalidInput
	}
	status := model.DocumentStatus(strings.TrimSpace(input.Status))
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, input.Status)
	}
	page, size := normalizePage(input.Page, input.PageSize)

	docs, total, err := s.documents.List(ctx, repository.DocumentFilter{
		OwnerID: input.UserID,
		Status:  status,
		Search:  input.Search,
		Page:    repository.Page{Offset: (page - 1) * size, Limit: size},
	})
	if err != nil {
		return nil, err
	}
	return &DocumentPage{Documents: docs, Pagination: paginate(page, size, total)}, nil
}

type ChunkPreview struct {
	ID      uuid.UUID `json:"id"`
	Order   int       `json:"order"`
	Preview string    `json:"preview"`
}

type DocumentDetail struct {
	*model.Document
	Chunks []ChunkPreview `json:"chunks"`
}

func (s *DocumentService) Get(ctx context.Context, userID uint, id uuid.UUID) (*DocumentDetail, error) {
	doc, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	chunks, err := s.chunks.ListByDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	previews := make([]ChunkPreview, len(chunks))
	for i, c := range chunks {
		preview := c.Text
		if len([]rune(preview)) > chunkPreviewRunes {
			preview = truncate(preview, chunkPreviewRunes) + "..."
		}
		previews[i] = ChunkPreview{ID: c.ID, Order: c.Order, Preview: preview}
	}
	return &DocumentDetail{Document: doc, Chunks: previews}, nil
}

type UpdateDocumentInput struct {
	UserID      uint
	ID          uuid.UUID
	Title       *string
	Description *string
}

func (in UpdateDocumentInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.UserID, validation.Required),
		validation.Field(&in.Title, validation.NilOrNotEmpty, validation.Length(1, maxTitleLength)),
		validation.Field(&in.Description, validation.Length(0, 5000)),
	)
}

func (s *DocumentService) Update(ctx context.Context, input UpdateDocumentInput) (*model.Document, error) {
	if input.Title != nil {
		trimmed := strings.TrimSpace(*input.Title)
		input.Title = &trimmed
	}
	if err := input.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	updates := map[string]interface{}{}
	if input.Title != nil {
		updates["title"] = *input.Title
	}
	if input.Description != nil {
		updates["description"] = strings.TrimSpace(*input.Description)
	}
	if len(updates) > 0 {
		ok, err := s.documents.Update(ctx, input.ID, input.UserID, updates)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrDocumentNotFound
		}
	}
	return s.owned(ctx, input.UserID, input.ID)
}

// Delete removes the document and its chunks. The stored file is removed
// afterwards on a best-effort basis.
func (s *DocumentService) Delete(ctx context.Context, userID uint, id uuid.UUID) error {
	doc, err := s.owned(ctx, userID, id)
	if err != nil {
		return err
	}
	ok, err := s.documents.Delete(ctx, id, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrDocumentNotFound
	}

	if doc.StorageURL != nil && *doc.StorageURL != "" {
		if err := s.objects.Delete(ctx, *doc.StorageURL); err != nil {
			s.logger.Warn("delete stored file failed", "document_id", id, "error", err)
		}
	}
	return nil
}

// Reprocess puts a completed or failed document back in the queue.
func (s *DocumentService) Reprocess(ctx context.Context, userID uint, id uuid.UUID) (*model.Document, error) {
	ok, err := s.documents.Requeue(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		if _, err := s.owned(ctx, userID, id); err != nil {
			return nil, err
		}
		return nil, ErrDocumentBusy
	}

	s.enqueue(ctx, id)
	return s.owned(ctx, userID, id)
}

func (s *DocumentService) enqueue(ctx context.Context, id uuid.UUID) {
	if err := s.jobs.Enqueue(ctx, id); err != nil {
		s.logger.Warn("enqueue ingestion job failed, sweeper will retry", "document_id", id, "error", err)
	}
}

func (s *DocumentService) owned(ctx context.Context, userID uint, id uuid.UUID) (*model.Document, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	doc, err := s.documents.GetByIDAndOwner(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

func (s *DocumentService) checkFile(userID uint, fileName string, size int64) (model.DocumentType, error) {
	if userID == 0 {
		return "", ErrInvalidInput
	}
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return "", fmt.Errorf("%w: file name is required", ErrInvalidInput)
	}
	docType := model.DocumentTypeFromExtension(strings.ToLower(filepath.Ext(fileName)))
	if _, ok := uploadContentTypes[docType]; !ok {
		return "", ErrUnsupportedFileType
	}
	if size <= 0 {
		return "", fmt.Errorf("%w: file size is required", ErrInvalidInput)
	}
	if size > s.maxUploadBytes {
		return "", ErrFileTooLarge
	}
	return docType, nil
}

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = defaultPageSize
	}
	return page, min(size, maxPageSize)
}

func paginate(page, size int, total int64) Pagination {
	pages := int((total + int64(size) - 1) / int64(size))
	return Pagination{Page: page, PageSize: size, TotalPages: pages, TotalItems: total}
}
