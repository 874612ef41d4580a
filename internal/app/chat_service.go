package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"docchat/internal/agent"
	"docchat/internal/agent/tools"
	"docchat/internal/chatctx"
	"docchat/internal/llm"
	"docchat/internal/model"
	"docchat/internal/repository"
	"docchat/internal/retrieval"
)

const emptyAnswer = "The model returned an empty response."

type ChatStore interface {
	BeginTurn(ctx context.Context, in repository.TurnStart) (*model.ChatSession, *model.ChatMessage, error)
	CompleteTurn(ctx context.Context, message *model.ChatMessage) error
	AttachedDocuments(ctx context.Context, sessionID uuid.UUID) ([]model.Document, error)
	ListMessages(ctx context.Context, sessionID uuid.UUID) ([]model.ChatMessage, error)
	ListSessions(ctx context.Context, filter repository.SessionFilter) ([]model.ChatSession, int64, error)
	GetSession(ctx context.Context, id uuid.UUID, userID uint, withMessages bool) (*model.ChatSession, error)
	UpdateSession(ctx context.Context, id uuid.UUID, userID uint, updates map[string]interface{}) (bool, error)
	DeleteSession(ctx context.Context, id uuid.UUID, userID uint) (bool, error)
}

// HistoryCache is optional; every method may fail without affecting the
// request.
type HistoryCache interface {
	GetHistory(ctx context.Context, sessionID uuid.UUID) ([]model.ChatMessage, bool, error)
	SetHistory(ctx context.Context, sessionID uuid.UUID, messages []model.ChatMessage) error
	DeleteHistory(ctx context.Context, sessionID uuid.UUID) error
	MarkDirty(ctx context.Context, sessionID uuid.UUID) error
	ClearDirty(ctx context.Context, sessionID uuid.UUID) error
	IsDirty(ctx context.Context, sessionID uuid.UUID) (bool, error)
}

// ProfileReader loads the user whose personalization goes into the prompt.
type ProfileReader interface {
	GetByID(ctx context.Context, id uint) (*model.User, error)
}

type TurnRunner interface {
	Run(ctx context.Context, transcript []llm.Message, registry *tools.Registry) (*agent.Result, error)
}

type TitleGenerator interface {
	GenerateTitle(ctx context.Context, content string) (string, error)
}

// LibraryReader is what the document tools read.
type LibraryReader interface {
	tools.DocumentLister
	tools.CompletedDocumentFinder
}

type ToolDeps struct {
	Searcher tools.Searcher
	Library  LibraryReader
	Chunks   tools.ChunkTextLister
}

type ChatOptions struct {
	MaxToolCalls     int
	MaxContextTokens int
	Temperature      float32
	LibraryFallback  bool
}

type ChatService struct {
	chats    ChatStore
	profiles ProfileReader
	history  HistoryCache
	runner   TurnRunner
	titles   TitleGenerator
	tools    ToolDeps
	counter  chatctx.TokenCounter
	opts     ChatOptions
	logger   *slog.Logger
}

func NewChatService(
	chats ChatStore,
	profiles ProfileReader,
	history HistoryCache,
	runner TurnRunner,
	titles TitleGenerator,
	toolDeps ToolDeps,
	counter chatctx.TokenCounter,
	opts ChatOptions,
	logger *slog.Logger,
) *ChatService {
	if opts.MaxToolCalls <= 0 {
		opts.MaxToolCalls = agent.DefaultMaxToolCalls
	}
	if opts.MaxContextTokens <= 0 {
		opts.MaxContextTokens = chatctx.DefaultMaxTokens
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{
		chats:    chats,
		profiles: profiles,
		history:  history,
		runner:   runner,
		titles:   titles,
		tools:    toolDeps,
		counter:  counter,
		opts:     opts,
		logger:   logger.With("component", "chat"),
	}
}

type SendMessageInput struct {
	UserID    uint
	SessionID *uuid.UUID
	Content   string
	// DocumentIDs replaces the session's attachments when non-nil. Ids that
	// are malformed, foreign or not completed are ignored.
	DocumentIDs []string
}

type AttachedDocument struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Description *string   `json:"description"`
}

type ToolUsage struct {
	ToolCallCount     int      `json:"tool_call_count,omitempty"`
	DocumentsSearched []string `json:"documents_searched,omitempty"`
	ContextTrimmed    bool     `json:"context_trimmed"`
	StopReason        string   `json:"stop_reason,omitempty"`
}

type SendMessageResult struct {
	SessionID         uuid.UUID          `json:"session_id"`
	UserMessage       *model.ChatMessage `json:"user_message"`
	AssistantMessage  *model.ChatMessage `json:"assistant_message"`
	AttachedDocuments []AttachedDocument `json:"attached_documents"`
	ToolUsage         *ToolUsage         `json:"tool_usage"`
}

// assistantMetadata is stored in the assistant message's metadata column.
type assistantMetadata struct {
	agent.Audit
	Temperature         float32  `json:"temperature"`
	AttachedDocumentIDs []string `json:"attached_document_ids"`
	ContextTrimmed      bool     `json:"context_trimmed"`
	RemovedMessages     int      `json:"removed_message_count"`
}

// SendMessage runs one chat turn. The user message is committed before the
// model is called and stays even when the model call fails; the assistant
// reply is committed in a second transaction.
func (s *ChatService) SendMessage(ctx context.Context, input SendMessageInput) (*SendMessageResult, error) {
	if input.UserID == 0 {
		return nil, ErrInvalidInput
	}
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, ErrMessageEmpty
	}

	start := repository.TurnStart{
		UserID:    input.UserID,
		SessionID: input.SessionID,
		Content:   content,
	}
	if input.DocumentIDs != nil {
		start.SetDocs = true
		start.DocumentIDs = parseUUIDs(input.DocumentIDs)
	}

	session, userMessage, err := s.chats.BeginTurn(ctx, start)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	log := s.logger.With("session_id", session.ID, "user_id", input.UserID)
	s.markDirty(ctx, session.ID)
	defer s.settleHistory(ctx, session.ID)

	attached, err := s.chats.AttachedDocuments(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	past, err := s.chats.ListMessages(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	transcript := make([]llm.Message, 0, len(past)+1)
	transcript = append(transcript, llm.SystemMessage{
		Content: buildSystemPrompt(attached, s.personalization(ctx, input.UserID), s.opts.MaxToolCalls, s.opts.LibraryFallback),
	})
	transcript = append(transcript, toTranscript(past)...)
	trim := chatctx.TrimHistory(transcript, s.opts.MaxContextTokens, s.counter)
	if trim.Trimmed {
		log.Info("chat history trimmed",
			"removed", trim.RemovedCount,
			"original_tokens", trim.OriginalTokens,
			"final_tokens", trim.FinalTokens,
		)
	}

	attachedIDs := make([]string, len(attached))
	for i, d := range attached {
		attachedIDs[i] = d.ID.String()
	}
	registry := s.turnTools(input.UserID, retrieval.Scope{
		DocumentIDs:  attachedIDs,
		AllowLibrary: len(attachedIDs) == 0 && s.opts.LibraryFallback,
	})

	result, err := s.runner.Run(ctx, trim.Messages, registry)
	if err != nil {
		log.Error("chat orchestration failed", "error", err)
		return nil, ErrChatFailed
	}

	answer := strings.TrimSpace(result.Answer)
	if answer == "" {
		answer = emptyAnswer
	}
	meta, err := json.Marshal(assistantMetadata{
		Audit:               result.Audit,
		Temperature:         s.opts.Temperature,
		AttachedDocumentIDs: attachedIDs,
		ContextTrimmed:      trim.Trimmed,
		RemovedMessages:     trim.RemovedCount,
	})
	if err != nil {
		return nil, fmt.Errorf("encode message metadata failed: %w", err)
	}

	assistantMessage := &model.ChatMessage{
		SessionID: session.ID,
		Role:      model.ChatRoleAssistant,
		Content:   answer,
		Metadata:  datatypes.JSON(meta),
	}
	// The marker may have expired during a long tool loop.
	s.markDirty(ctx, session.ID)
	if err := s.chats.CompleteTurn(ctx, assistantMessage); err != nil {
		log.Error("persist assistant message failed", "error", err)
		return nil, err
	}

	log.Info("chat turn completed",
		"tool_calls", result.Audit.ToolCallCount,
		"stop_reason", result.Audit.StopReason,
		"total_tokens", result.Audit.Usage.TotalTokens,
	)
	return &SendMessageResult{
		SessionID:         session.ID,
		UserMessage:       userMessage,
		AssistantMessage:  assistantMessage,
		AttachedDocuments: toAttached(attached),
		ToolUsage:         toolUsage(result.Audit, trim.Trimmed),
	}, nil
}

// personalization is best-effort; a failed lookup leaves the prompt generic.
func (s *ChatService) personalization(ctx context.Context, userID uint) model.Personalization {
	if s.profiles == nil {
		return model.Personalization{}
	}
	user, err := s.profiles.GetByID(ctx, userID)
	if err != nil {
		s.logger.Warn("load user personalization failed", "user_id", userID, "error", err)
		return model.Personalization{}
	}
	return user.Personalization()
}

func (s *ChatService) turnTools(userID uint, scope retrieval.Scope) *tools.Registry {
	return tools.NewRegistry(
		tools.NewSemanticSearchTool(s.tools.Searcher, userID, scope),
		tools.NewListDocumentsTool(s.tools.Library, userID),
		tools.NewGetFullDocumentTool(s.tools.Library, s.tools.Chunks, userID),
	)
}

type ListSessionsInput struct {
	UserID    uint
	Search    string
	IsStarred *bool
	Page      int
	PageSize  int
}

type SessionPage struct {
	Sessions   []model.ChatSession `json:"sessions"`
	Pagination Pagination          `json:"pagination"`
}

func (s *ChatService) ListSessions(ctx context.Context, input ListSessionsInput) (*SessionPage, error) {
	if input.UserID == 0 {
		return nil, ErrInvalidInput
	}
	page, size := normalizePage(input.Page, input.PageSize)
	sessions, total, err := s.chats.ListSessions(ctx, repository.SessionFilter{
		UserID:    input.UserID,
		Search:    strings.TrimSpace(input.Search),
		IsStarred: input.IsStarred,
		Page:      repository.Page{Offset: (page - 1) * size, Limit: size},
	})
	if err != nil {
		return nil, err
	}
	return &SessionPage{Sessions: sessions, Pagination: paginate(page, size, total)}, nil
}

// GetSession returns the session with its messages. Messages come from the
// history cache unless a turn is in flight.
func (s *ChatService) GetSession(ctx context.Context, userID uint, id uuid.UUID) (*model.ChatSession, error) {
	session, err := s.ownedSession(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	messages, err := s.loadHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	session.Messages = messages
	return session, nil
}

func (s *ChatService) loadHistory(ctx context.Context, sessionID uuid.UUID) ([]model.ChatMessage, error) {
	if s.history != nil {
		dirty, err := s.history.IsDirty(ctx, sessionID)
		if err == nil && !dirty {
			if cached, hit, cacheErr := s.history.GetHistory(ctx, sessionID); cacheErr == nil && hit {
				return cached, nil
			}
		}
	}

	messages, err := s.chats.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.history != nil {
		if dirty, err := s.history.IsDirty(ctx, sessionID); err == nil && !dirty {
			if err := s.history.SetHistory(ctx, sessionID, messages); err != nil {
				s.logger.Warn("cache chat history failed", "session_id", sessionID, "error", err)
			}
		}
	}
	return messages, nil
}

type UpdateSessionInput struct {
	UserID    uint
	ID        uuid.UUID
	Title     *string
	IsStarred *bool
}

func (in UpdateSessionInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.UserID, validation.Required),
		validation.Field(&in.Title, validation.Length(0, maxTitleLength)),
	)
}

// UpdateSession changes the title and star flag. An empty title clears it.
func (s *ChatService) UpdateSession(ctx context.Context, input UpdateSessionInput) (*model.ChatSession, error) {
	if input.Title != nil {
		trimmed := strings.TrimSpace(*input.Title)
		input.Title = &trimmed
	}
	if err := input.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	updates := map[string]interface{}{}
	if input.Title != nil {
		if *input.Title == "" {
			updates["title"] = nil
		} else {
			updates["title"] = *input.Title
		}
	}
	if input.IsStarred != nil {
		updates["is_starred"] = *input.IsStarred
	}
	if len(updates) > 0 {
		ok, err := s.chats.UpdateSession(ctx, input.ID, input.UserID, updates)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrSessionNotFound
		}
	}
	return s.ownedSession(ctx, input.UserID, input.ID)
}

func (s *ChatService) DeleteSession(ctx context.Context, userID uint, id uuid.UUID) error {
	if userID == 0 {
		return ErrInvalidInput
	}
	ok, err := s.chats.DeleteSession(ctx, id, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrSessionNotFound
	}
	if s.history != nil {
		_ = s.history.DeleteHistory(ctx, id)
	}
	return nil
}

// GenerateTitle names the session from content. Model failures fall back to
// the first words of content.
func (s *ChatService) GenerateTitle(ctx context.Context, userID uint, id uuid.UUID, content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ErrMessageEmpty
	}
	if _, err := s.ownedSession(ctx, userID, id); err != nil {
		return "", err
	}

	fallback := fallbackTitle(content)
	title := fallback
	if raw, err := s.titles.GenerateTitle(ctx, content); err != nil {
		s.logger.Warn("title generation failed, using fallback", "session_id", id, "error", err)
	} else {
		title = normalizeTitle(raw, fallback)
	}
	title = truncate(title, maxTitleLength)

	ok, err := s.chats.UpdateSession(ctx, id, userID, map[string]interface{}{"title": title})
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrSessionNotFound
	}
	return title, nil
}

func (s *ChatService) ownedSession(ctx context.Context, userID uint, id uuid.UUID) (*model.ChatSession, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	session, err := s.chats.GetSession(ctx, id, userID, false)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func (s *ChatService) markDirty(ctx context.Context, id uuid.UUID) {
	if s.history == nil {
		return
	}
	if err := s.history.MarkDirty(ctx, id); err != nil {
		s.logger.Warn("mark chat history dirty failed", "session_id", id, "error", err)
	}
}

// settleHistory drops any transcript cached while the turn was running and
// then lifts the marker.
func (s *ChatService) settleHistory(ctx context.Context, id uuid.UUID) {
	if s.history == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := s.history.DeleteHistory(ctx, id); err != nil {
		s.logger.Warn("drop cached chat history failed", "session_id", id, "error", err)
	}
	if err := s.history.ClearDirty(ctx, id); err != nil {
		s.logger.Warn("clear chat history dirty marker failed", "session_id", id, "error", err)
	}
}

// toTranscript converts stored messages. Stored system messages are dropped;
// the prompt is rebuilt every turn.
func toTranscript(messages []model.ChatMessage) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case model.ChatRoleUser:
			out = append(out, llm.UserMessage{Content: m.Content})
		case model.ChatRoleAssistant:
			out = append(out, llm.AssistantMessage{Content: m.Content})
		}
	}
	return out
}

func toAttached(docs []model.Document) []AttachedDocument {
	out := make([]AttachedDocument, len(docs))
	for i, d := range docs {
		out[i] = AttachedDocument{ID: d.ID, Title: d.Title, Description: d.Description}
	}
	return out
}

func toolUsage(audit agent.Audit, trimmed bool) *ToolUsage {
	if audit.ToolCallCount == 0 && !trimmed {
		return nil
	}
	return &ToolUsage{
		ToolCallCount:     audit.ToolCallCount,
		DocumentsSearched: audit.DocumentIDsUsed,
		ContextTrimmed:    trimmed,
		StopReason:        audit.StopReason,
	}
}

func parseUUIDs(raw []string) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, r := range raw {
		if id, err := uuid.Parse(strings.TrimSpace(r)); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}
