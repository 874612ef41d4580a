package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"docchat/internal/app"
	"docchat/internal/platform/storage"
	"docchat/internal/transport/http/response"
)

func TestWriteServiceError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		err        error
		wantStatus int
		wantCode   int
	}{
		{fmt.Errorf("%w: title is blank", app.ErrInvalidInput), http.StatusBadRequest, response.CodeBadRequest},
		{app.ErrUnsupportedFileType, http.StatusBadRequest, response.CodeUnsupportedFile},
		{app.ErrFileTooLarge, http.StatusRequestEntityTooLarge, response.CodeFileTooLarge},
		{app.ErrInvalidCredential, http.StatusUnauthorized, response.CodeInvalidCredentials},
		{app.ErrSessionNotFound, http.StatusNotFound, response.CodeSessionNotFound},
		{app.ErrDocumentNotFound, http.StatusNotFound, response.CodeDocumentNotFound},
		{app.ErrUserNotFound, http.StatusNotFound, response.CodeUserNotFound},
		{app.ErrDocumentBusy, http.StatusConflict, response.CodeDocumentBusy},
		{app.ErrChatFailed, http.StatusBadGateway, response.CodeChatFailed},
		{storage.ErrBucketNotConfigured, http.StatusServiceUnavailable, response.CodeStorageUnavailable},
		{errors.New("pq: connection refused"), http.StatusInternalServerError, response.CodeInternalServer},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(rec)

			writeServiceError(c, tt.err, "operation failed")

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var body response.APIResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", body.Code, tt.wantCode)
			}
			if tt.wantCode == response.CodeInternalServer && body.Message != "operation failed" {
				t.Errorf("message = %q leaks internals", body.Message)
			}
		})
	}
}

func TestParseIDParam(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Params = gin.Params{{Key: "id", Value: "not-a-uuid"}}

	if _, ok := parseIDParam(c); ok {
		t.Fatal("parseIDParam() accepted a malformed id")
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
