package tools

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai/jsonschema"

	"docchat/internal/llm"
	"docchat/internal/model"
)

const (
	GetFullDocumentName = "get_full_document"

	MaxFullDocumentChars  = 200000
	WarnFullDocumentChars = 100000
)

// CompletedDocumentFinder returns the subset of ids that the owner may read.
type CompletedDocumentFinder interface {
	ListCompletedByIDs(ctx context.Context, ownerID uint, ids []uuid.UUID) ([]model.Document, error)
}

type ChunkTextLister interface {
	ListTexts(ctx context.Context, documentID uuid.UUID) ([]string, error)
}

type GetFullDocumentTool struct {
	documents CompletedDocumentFinder
	chunks    ChunkTextLister
	ownerID   uint
}

func NewGetFullDocumentTool(documents CompletedDocumentFinder, chunks ChunkTextLister, ownerID uint) *GetFullDocumentTool {
	return &GetFullDocumentTool{documents: documents, chunks: chunks, ownerID: ownerID}
}

func (t *GetFullDocumentTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        GetFullDocumentName,
		Description: "Retrieve the complete text of one completed document, rebuilt from its chunks in order. " +
			"Use it when the whole document is needed rather than search results.",
		Parameters: jsonschema.Definition{
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"document_id": {Type: jsonschema.String, Description: "The UUID of the document."},
			},
			Required: []string{"document_id"},
		},
	}
}

func (t *GetFullDocumentTool) Execute(ctx context.Context, input map[string]interface{}) (interface{}, error) {
	rawID, err := stringArg(input, "document_id")
	if err != nil {
		return nil, err
	}
	notFound := map[string]interface{}{
		"error":       "Document not found, not completed, or you don't have access to it",
		"document_id": rawID,
	}

	id, err := uuid.Parse(strings.TrimSpace(rawID))
	if err != nil {
		return notFound, nil
	}
	docs, err := t.documents.ListCompletedByIDs(ctx, t.ownerID, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return notFound, nil
	}
	doc := docs[0]

	texts, err := t.chunks.ListTexts(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	fullText := strings.Join(texts, "\n\n")
	length := len([]rune(fullText))

	if length > MaxFullDocumentChars {
		resp := map[string]interface{}{
			"document_id":    doc.ID.String(),
			"title":          doc.Title,
			"document_type":  string(doc.DocumentType),
			"error":          "Document too large to retrieve in full",
			"recommendation": "Use semantic_search with specific queries instead",
			"summary":        "",
		}
		if doc.Summary != nil {
			resp["summary"] = *doc.Summary
		}
		return resp, nil
	}

	resp := map[string]interface{}{
		"document_id":   doc.ID.String(),
		"title":         doc.Title,
		"document_type": string(doc.DocumentType),
		"full_text":     fullText,
	}
	if length > WarnFullDocumentChars {
		resp["warning"] = "This is a large document that will consume significant context. " +
			"Consider using semantic_search for specific information instead."
	}
	return resp, nil
}
