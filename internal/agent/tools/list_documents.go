package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai/jsonschema"

	"docchat/internal/llm"
	"docchat/internal/model"
)

const (
	ListDocumentsName = "list_documents"
	defaultListLimit  = 20
	maxListLimit      = 50
)

type DocumentLister interface {
	ListRecent(ctx context.Context, ownerID uint, status model.DocumentStatus, offset, limit int) ([]model.Document, error)
}

type ListDocumentsTool struct {
	lister  DocumentLister
	ownerID uint
}

func NewListDocumentsTool(lister DocumentLister, ownerID uint) *ListDocumentsTool {
	return &ListDocumentsTool{lister: lister, ownerID: ownerID}
}

func (t *ListDocumentsTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        ListDocumentsName,
		Description: "List the user's documents with high-level metadata (no content), newest first.",
		Parameters: jsonschema.Definition{
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"status": {
					Type:        jsonschema.String,
					Description: "Optional status filter.",
					Enum: []string{
						string(model.DocumentStatusQueued),
						string(model.DocumentStatusProcessing),
						string(model.DocumentStatusCompleted),
						string(model.DocumentStatusFailed),
					},
				},
				"limit": {Type: jsonschema.Integer, Description: "Documents per page (1-50, default 20)."},
				"page":  {Type: jsonschema.Integer, Description: "Page number starting at 1."},
			},
		},
	}
}

type listedDocument struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	DocumentType string    `json:"document_type"`
	Status       string    `json:"status"`
	SourceName   *string   `json:"source_name"`
	CreatedAt    time.Time `json:"created_at"`
}

func (t *ListDocumentsTool) Execute(ctx context.Context, input map[string]interface{}) (interface{}, error) {
	rawStatus, err := stringArg(input, "status")
	if err != nil {
		return nil, err
	}
	status := model.DocumentStatus(rawStatus)
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("unknown status: %s", rawStatus)
	}

	limit, err := intArg(input, "limit", defaultListLimit)
	if err != nil {
		return nil, err
	}
	limit = max(1, min(limit, maxListLimit))

	page, err := intArg(input, "page", 1)
	if err != nil {
		return nil, err
	}
	page = max(1, page)

	docs, err := t.lister.ListRecent(ctx, t.ownerID, status, (page-1)*limit, limit)
	if err != nil {
		return nil, err
	}

	listed := make([]listedDocument, len(docs))
	for i, d := range docs {
		listed[i] = listedDocument{
			ID:           d.ID.String(),
			Title:        d.Title,
			DocumentType: string(d.DocumentType),
			Status:       string(d.Status),
			SourceName:   d.SourceName,
			CreatedAt:    d.CreatedAt,
		}
	}
	return map[string]interface{}{
		"documents": listed,
		"count":     len(listed),
		"page":      page,
		"limit":     limit,
	}, nil
}
