package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"docchat/internal/llm"
	"docchat/internal/model"
	"docchat/internal/retrieval"
)

type echoTool struct {
	name string
	err  error
}

func (e echoTool) Definition() llm.ToolDefinition { return llm.ToolDefinition{Name: e.name} }

func (e echoTool) Execute(_ context.Context, input map[string]interface{}) (interface{}, error) {
	if e.err != nil {
		return nil, e.err
	}
	return input, nil
}

func decode(t *testing.T, content string) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		t.Fatalf("tool content is not a JSON object: %v (%s)", err, content)
	}
	return out
}

func TestRegistryExecute(t *testing.T) {
	r := NewRegistry(echoTool{name: "echo"}, echoTool{name: "broken", err: errors.New("disk on fire")})

	tests := []struct {
		name      string
		call      llm.ToolCall
		wantError string
		wantKey   string
	}{
		{"ok", llm.ToolCall{ID: "1", Name: "echo", Arguments: `{"x":1}`}, "", "x"},
		{"empty arguments", llm.ToolCall{ID: "2", Name: "echo"}, "", ""},
		{"unknown tool", llm.ToolCall{ID: "3", Name: "nope", Arguments: `{}`}, "tool not found: nope", ""},
		{"bad json", llm.ToolCall{ID: "4", Name: "echo", Arguments: `{x`}, "invalid tool arguments", ""},
		{"tool error", llm.ToolCall{ID: "5", Name: "broken", Arguments: `{}`}, "disk on fire", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Execute(context.Background(), tt.call)
			if res.ID != tt.call.ID || res.Name != tt.call.Name {
				t.Errorf("result ids = %s/%s", res.ID, res.Name)
			}
			out := decode(t, res.Content)
			if tt.wantError != "" {
				msg, _ := out["error"].(string)
				if !res.IsError || !strings.Contains(msg, tt.wantError) {
					t.Errorf("Execute() = %+v, want error containing %q", res, tt.wantError)
				}
				return
			}
			if res.IsError {
				t.Fatalf("Execute() unexpected error result %s", res.Content)
			}
			if tt.wantKey != "" {
				if _, ok := out[tt.wantKey]; !ok {
					t.Errorf("Execute() content %s lacks %q", res.Content, tt.wantKey)
				}
			}
		})
	}
}

func TestRegistryDefinitionsKeepOrder(t *testing.T) {
	r := NewRegistry(echoTool{name: "b"}, echoTool{name: "a"})
	r.Register(echoTool{name: "b"})

	defs := r.Definitions()
	if len(defs) != 2 || defs[0].Name != "b" || defs[1].Name != "a" {
		t.Errorf("Definitions() = %+v", defs)
	}
}

type fakeSearcher struct {
	got retrieval.SearchRequest
}

func (s *fakeSearcher) Search(_ context.Context, req retrieval.SearchRequest) (*retrieval.SearchResult, error) {
	s.got = req
	return &retrieval.SearchResult{Queries: req.Queries, Chunks: []retrieval.Chunk{}}, nil
}

func TestSemanticSearchToolPassesScope(t *testing.T) {
	searcher := &fakeSearcher{}
	scope := retrieval.Scope{DocumentIDs: []string{"d1"}}
	tool := NewSemanticSearchTool(searcher, 7, scope)

	_, err := tool.Execute(context.Background(), map[string]interface{}{
		"queries": []interface{}{"alpha", "beta"},
		"limit":   float64(3),
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if searcher.got.OwnerID != 7 || searcher.got.Limit != 3 || len(searcher.got.Queries) != 2 {
		t.Errorf("request = %+v", searcher.got)
	}
	if len(searcher.got.Scope.DocumentIDs) != 1 || searcher.got.Scope.AllowLibrary {
		t.Errorf("scope = %+v", searcher.got.Scope)
	}
}

func TestSemanticSearchToolArguments(t *testing.T) {
	tool := NewSemanticSearchTool(&fakeSearcher{}, 1, retrieval.Scope{})

	if _, err := tool.Execute(context.Background(), map[string]interface{}{}); err == nil {
		t.Error("Execute() without queries error = nil")
	}
	if _, err := tool.Execute(context.Background(), map[string]interface{}{"query": "single"}); err != nil {
		t.Errorf("Execute() with query string error = %v", err)
	}
	if _, err := tool.Execute(context.Background(), map[string]interface{}{"queries": []interface{}{"q"}, "limit": "many"}); err == nil {
		t.Error("Execute() with string limit error = nil")
	}
}

type fakeLister struct {
	status        model.DocumentStatus
	offset, limit int
}

func (l *fakeLister) ListRecent(_ context.Context, _ uint, status model.DocumentStatus, offset, limit int) ([]model.Document, error) {
	l.status, l.offset, l.limit = status, offset, limit
	return []model.Document{{ID: uuid.New(), Title: "Doc", DocumentType: model.DocumentTypePDF, Status: model.DocumentStatusCompleted}}, nil
}

func TestListDocumentsToolClampsPaging(t *testing.T) {
	tests := []struct {
		name       string
		input      map[string]interface{}
		wantLimit  int
		wantOffset int
	}{
		{"defaults", map[string]interface{}{}, 20, 0},
		{"too large", map[string]interface{}{"limit": float64(500)}, 50, 0},
		{"too small", map[string]interface{}{"limit": float64(0)}, 1, 0},
		{"third page", map[string]interface{}{"limit": float64(10), "page": float64(3)}, 10, 20},
		{"page zero", map[string]interface{}{"page": float64(0)}, 20, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lister := &fakeLister{}
			out, err := NewListDocumentsTool(lister, 1).Execute(context.Background(), tt.input)
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if lister.limit != tt.wantLimit || lister.offset != tt.wantOffset {
				t.Errorf("limit/offset = %d/%d, want %d/%d", lister.limit, lister.offset, tt.wantLimit, tt.wantOffset)
			}
			if out.(map[string]interface{})["count"] != 1 {
				t.Errorf("count = %v", out.(map[string]interface{})["count"])
			}
		})
	}
}

func TestListDocumentsToolStatus(t *testing.T) {
	lister := &fakeLister{}
	tool := NewListDocumentsTool(lister, 1)

	if _, err := tool.Execute(context.Background(), map[string]interface{}{"status": "failed"}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if lister.status != model.DocumentStatusFailed {
		t.Errorf("status = %q", lister.status)
	}
	if _, err := tool.Execute(context.Background(), map[string]interface{}{"status": "deleted"}); err == nil {
		t.Error("Execute() with unknown status error = nil")
	}
}

type fakeReader struct {
	docs  map[uuid.UUID]model.Document
	texts []string
}

func (r *fakeReader) ListCompletedByIDs(_ context.Context, _ uint, ids []uuid.UUID) ([]model.Document, error) {
	var out []model.Document
	for _, id := range ids {
		if d, ok := r.docs[id]; ok && d.Status == model.DocumentStatusCompleted {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *fakeReader) ListTexts(context.Context, uuid.UUID) ([]string, error) {
	return r.texts, nil
}

func TestGetFullDocumentTool(t *testing.T) {
	summary := "short summary"
	doc := model.Document{
		ID:           uuid.New(),
		Title:        "Handbook",
		DocumentType: model.DocumentTypeMD,
		Status:       model.DocumentStatusCompleted,
		Summary:      &summary,
		CreatedAt:    time.Now(),
	}
	pending := model.Document{ID: uuid.New(), Status: model.DocumentStatusProcessing}

	tests := []struct {
		name      string
		id        string
		texts     []string
		wantKeys  []string
		wantError string
	}{
		{"joins chunks", doc.ID.String(), []string{"one", "two"}, []string{"full_text"}, ""},
		{"warns when large", doc.ID.String(), []string{strings.Repeat("a", WarnFullDocumentChars), "b"}, []string{"full_text", "warning"}, ""},
		{"refuses when huge", doc.ID.String(), []string{strings.Repeat("a", MaxFullDocumentChars+1)}, []string{"summary", "recommendation"}, "Document too large to retrieve in full"},
		{"not completed", pending.ID.String(), nil, nil, "Document not found, not completed, or you don't have access to it"},
		{"malformed id", "nope", nil, nil, "Document not found, not completed, or you don't have access to it"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := &fakeReader{docs: map[uuid.UUID]model.Document{doc.ID: doc, pending.ID: pending}, texts: tt.texts}
			out, err := NewGetFullDocumentTool(reader, reader, 1).Execute(context.Background(), map[string]interface{}{"document_id": tt.id})
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			resp := out.(map[string]interface{})
			if got, _ := resp["error"].(string); got != tt.wantError {
				t.Errorf("error = %q, want %q", got, tt.wantError)
			}
			for _, k := range tt.wantKeys {
				if _, ok := resp[k]; !ok {
					t.Errorf("response lacks %q", k)
				}
			}
			if tt.name == "joins chunks" && resp["full_text"] != "one\n\ntwo" {
				t.Errorf("full_text = %q", resp["full_text"])
			}
			if tt.name == "refuses when huge" && resp["summary"] != summary {
				t.Errorf("summary = %v", resp["summary"])
			}
		})
	}
}
