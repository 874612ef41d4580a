package tools

import (
	"context"
	"errors"
	"strings"

	"github.com/sashabaranov/go-openai/jsonschema"

	"docchat/internal/llm"
	"docchat/internal/retrieval"
)

const SemanticSearchName = "semantic_search"

type Searcher interface {
	Search(ctx context.Context, req retrieval.SearchRequest) (*retrieval.SearchResult, error)
}

// SemanticSearchTool searches the documents attached to the chat, or the
// owner's whole library when the scope allows it.
type SemanticSearchTool struct {
	searcher Searcher
	ownerID  uint
	scope    retrieval.Scope
}

func NewSemanticSearchTool(searcher Searcher, ownerID uint, scope retrieval.Scope) *SemanticSearchTool {
	return &SemanticSearchTool{searcher: searcher, ownerID: ownerID, scope: scope}
}

func (t *SemanticSearchTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        SemanticSearchName,
		Description: "Search the user's documents for passages relevant to a question. " +
			"Pass 1 to 4 query variations (rephrasings, synonyms, sub-questions) to improve recall. " +
			"Results are merged and ranked across all queries.",
		Parameters: jsonschema.Definition{
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"queries": {
					Type:        jsonschema.Array,
					Description: "One to four search queries.",
					Items:       &jsonschema.Definition{Type: jsonschema.String},
				},
				"limit": {
					Type:        jsonschema.Integer,
					Description: "Maximum number of passages to return (1-20, default 5).",
				},
			},
			Required: []string{"queries"},
		},
	}
}

func (t *SemanticSearchTool) Execute(ctx context.Context, input map[string]interface{}) (interface{}, error) {
	queries, err := queriesArg(input)
	if err != nil {
		return nil, err
	}
	limit, err := intArg(input, "limit", retrieval.DefaultLimit)
	if err != nil {
		return nil, err
	}

	return t.searcher.Search(ctx, retrieval.SearchRequest{
		OwnerID: t.ownerID,
		Queries: queries,
		Scope:   t.scope,
		Limit:   limit,
	})
}

// queriesArg accepts the queries array and, for models that ignore the
// schema, a single query string.
func queriesArg(input map[string]interface{}) ([]string, error) {
	switch v := input["queries"].(type) {
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out, nil
	case string:
		return []string{v}, nil
	}
	if q, ok := input["query"].(string); ok && strings.TrimSpace(q) != "" {
		return []string{q}, nil
	}
	return nil, errors.New("missing required parameter: queries (array of strings)")
}
