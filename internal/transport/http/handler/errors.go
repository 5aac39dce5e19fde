package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"inkwell/internal/app"
	"inkwell/internal/chatmemory"
	"inkwell/internal/ingest"
	"inkwell/internal/livedoc"
	"inkwell/internal/rules"
	"inkwell/internal/transport/http/middleware"
	"inkwell/internal/transport/http/response"
)

func writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, app.ErrInvalidInput),
		errors.Is(err, chatmemory.ErrInvalidInput),
		errors.Is(err, chatmemory.ErrChatKeyInvalid),
		errors.Is(err, rules.ErrInvalidInput),
		errors.Is(err, livedoc.ErrInvalidInput),
		errors.Is(err, ingest.ErrInvalidDocument):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, livedoc.ErrDocumentTooLarge):
		response.Error(c, http.StatusRequestEntityTooLarge, response.CodeDocumentTooLarge, err.Error())
	case errors.Is(err, ingest.ErrDocumentNotFound):
		response.Error(c, http.StatusNotFound, response.CodeDocumentNotFound, err.Error())
	case errors.Is(err, app.ErrLLMConfig):
		response.Error(c, http.StatusServiceUnavailable, response.CodeModelUnavailable, err.Error())
	case errors.Is(err, ingest.ErrEnqueue):
		response.Error(c, http.StatusServiceUnavailable, response.CodeIngestUnavailable, err.Error())
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}

func requireWorkspace(c *gin.Context) (string, bool) {
	workspaceID, ok := middleware.WorkspaceID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return "", false
	}
	return workspaceID, true
}
