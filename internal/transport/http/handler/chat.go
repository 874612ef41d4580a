package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"docchat/internal/app"
	"docchat/internal/transport/http/response"
)

type ChatHandler struct {
	chatService *app.ChatService
}

type SendMessageRequest struct {
	SessionID *uuid.UUID `json:"session_id"`
	Content   string     `json:"content" binding:"required"`
	// DocumentIDs replaces the session's attachments when present, even if
	// empty.
	DocumentIDs []string `json:"document_ids"`
}

type UpdateSessionRequest struct {
	Title     *string `json:"title"`
	IsStarred *bool   `json:"is_starred"`
}

type GenerateTitleRequest struct {
	Content string `json:"content" binding:"required"`
}

func NewChatHandler(chatService *app.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

func (h *ChatHandler) SendMessage(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.chatService.SendMessage(c.Request.Context(), app.SendMessageInput{
		UserID:      userID,
		SessionID:   req.SessionID,
		Content:     req.Content,
		DocumentIDs: req.DocumentIDs,
	})
	if err != nil {
		writeServiceError(c, err, "send message failed")
		return
	}
	response.OK(c, result)
}

func (h *ChatHandler) ListSessions(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	page, err := h.chatService.ListSessions(c.Request.Context(), app.ListSessionsInput{
		UserID:    userID,
		Search:    c.Query("search"),
		IsStarred: queryBool(c, "starred"),
		Page:      queryInt(c, "page"),
		PageSize:  queryInt(c, "page_size"),
	})
	if err != nil {
		writeServiceError(c, err, "list sessions failed")
		return
	}
	response.OK(c, page)
}

func (h *ChatHandler) GetSession(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	session, err := h.chatService.GetSession(c.Request.Context(), userID, id)
	if err != nil {
		writeServiceError(c, err, "get session failed")
		return
	}
	response.OK(c, session)
}

func (h *ChatHandler) UpdateSession(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	var req UpdateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	session, err := h.chatService.UpdateSession(c.Request.Context(), app.UpdateSessionInput{
		UserID:    userID,
		ID:        id,
		Title:     req.Title,
		IsStarred: req.IsStarred,
	})
	if err != nil {
		writeServiceError(c, err, "update session failed")
		return
	}
	response.OK(c, session)
}

func (h *ChatHandler) DeleteSession(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	if err := h.chatService.DeleteSession(c.Request.Context(), userID, id); err != nil {
		writeServiceError(c, err, "delete session failed")
		return
	}
	response.OK(c, gin.H{"deleted_session_id": id})
}

func (h *ChatHandler) GenerateTitle(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	var req GenerateTitleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	title, err := h.chatService.GenerateTitle(c.Request.Context(), userID, id, req.Content)
	if err != nil {
		writeServiceError(c, err, "generate title failed")
		return
	}
	response.OK(c, gin.H{"session_id": id, "title": title})
}
