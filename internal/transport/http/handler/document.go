package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"docchat/internal/app"
	"docchat/internal/transport/http/response"
)

type DocumentHandler struct {
	documentService *app.DocumentService
}

type PresignUploadRequest struct {
	FileName  string `json:"file_name" binding:"required,max=255"`
	SizeBytes int64  `json:"size_bytes" binding:"required,gt=0"`
}

type CompleteUploadRequest struct {
	StorageURL  string `json:"storage_url" binding:"required,max=2048"`
	FileName    string `json:"file_name" binding:"required,max=255"`
	SizeBytes   int64  `json:"size_bytes" binding:"required,gt=0"`
	Title       string `json:"title" binding:"max=255"`
	Description string `json:"description" binding:"max=5000"`
}

type UpdateDocumentRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

func NewDocumentHandler(documentService *app.DocumentService) *DocumentHandler {
	return &DocumentHandler{documentService: documentService}
}

func (h *DocumentHandler) PresignUpload(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req PresignUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.documentService.PresignUpload(c.Request.Context(), app.PresignUploadInput{
		UserID:    userID,
		FileName:  req.FileName,
		SizeBytes: req.SizeBytes,
	})
	if err != nil {
		writeServiceError(c, err, "presign upload failed")
		return
	}
	response.OK(c, result)
}

func (h *DocumentHandler) CompleteUpload(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req CompleteUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	doc, err := h.documentService.CompleteUpload(c.Request.Context(), app.CompleteUploadInput{
		UserID:      userID,
		StorageURL:  req.StorageURL,
		FileName:    req.FileName,
		SizeBytes:   req.SizeBytes,
		Title:       req.Title,
		Description: req.Description,
	})
	if err != nil {
		writeServiceError(c, err, "register document failed")
		return
	}
	response.OK(c, doc)
}

func (h *DocumentHandler) List(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	page, err := h.documentService.List(c.Request.Context(), app.ListDocumentsInput{
		UserID:   userID,
		Status:   c.Query("status"),
		Search:   c.Query("search"),
		Page:     queryInt(c, "page"),
		PageSize: queryInt(c, "page_size"),
	})
	if err != nil {
		writeServiceError(c, err, "list documents failed")
		return
	}
	response.OK(c, page)
}

func (h *DocumentHandler) Get(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	detail, err := h.documentService.Get(c.Request.Context(), userID, id)
	if err != nil {
		writeServiceError(c, err, "get document failed")
		return
	}
	response.OK(c, detail)
}

func (h *DocumentHandler) Update(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	var req UpdateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	doc, err := h.documentService.Update(c.Request.Context(), app.UpdateDocumentInput{
		UserID:      userID,
		ID:          id,
		Title:       req.Title,
		Description: req.Description,
	})
	if err != nil {
		writeServiceError(c, err, "update document failed")
		return
	}
	response.OK(c, doc)
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	if err := h.documentService.Delete(c.Request.Context(), userID, id); err != nil {
		writeServiceError(c, err, "delete document failed")
		return
	}
	response.OK(c, gin.H{"deleted_document_id": id})
}

func (h *DocumentHandler) Reprocess(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	doc, err := h.documentService.Reprocess(c.Request.Context(), userID, id)
	if err != nil {
		writeServiceError(c, err, "reprocess document failed")
		return
	}
	response.OK(c, doc)
}
