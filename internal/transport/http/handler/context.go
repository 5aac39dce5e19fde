package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"inkwell/internal/app"
	"inkwell/internal/transport/http/response"
)

type ContextAPI interface {
	BuildContext(ctx context.Context, input app.BuildContextInput) (*app.BuildContextResult, error)
	Ask(ctx context.Context, input app.AskInput) (*app.AskResult, error)
	AskStream(ctx context.Context, input app.AskInput, onChunk func(string) error) (*app.AskResult, error)
}

type ContextHandler struct {
	api ContextAPI
}

type ContextRequest struct {
	Query               string   `json:"query" binding:"required"`
	ChatID              string   `json:"chat_id" binding:"max=64"`
	AttachedDocumentIDs []string `json:"attached_document_ids"`
}

func NewContextHandler(api ContextAPI) *ContextHandler {
	return &ContextHandler{api: api}
}

func (h *ContextHandler) bind(c *gin.Context) (app.BuildContextInput, bool) {
	workspaceID, ok := requireWorkspace(c)
	if !ok {
		return app.BuildContextInput{}, false
	}
	var req ContextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return app.BuildContextInput{}, false
	}
	return app.BuildContextInput{
		WorkspaceID:         workspaceID,
		ChatID:              req.ChatID,
		Query:               req.Query,
		AttachedDocumentIDs: req.AttachedDocumentIDs,
	}, true
}

// Build returns the assembled prompt without calling the chat model.
func (h *ContextHandler) Build(c *gin.Context) {
	input, ok := h.bind(c)
	if !ok {
		return
	}
	result, err := h.api.BuildContext(c.Request.Context(), input)
	if err != nil {
		writeError(c, err, "build context failed")
		return
	}
	response.OK(c, result)
}

func (h *ContextHandler) Ask(c *gin.Context) {
	input, ok := h.bind(c)
	if !ok {
		return
	}
	result, err := h.api.Ask(c.Request.Context(), input)
	if err != nil {
		writeError(c, err, "ask failed")
		return
	}
	response.OK(c, result)
}

// AskStream relays the answer as server-sent "chunk" events and ends with "done" or "error".
func (h *ContextHandler) AskStream(c *gin.Context) {
	input, ok := h.bind(c)
	if !ok {
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	result, err := h.api.AskStream(c.Request.Context(), input, func(chunk string) error {
		c.SSEvent("chunk", chunk)
		c.Writer.Flush()
		return c.Request.Context().Err()
	})
	if err != nil {
		c.SSEvent("error", err.Error())
		c.Writer.Flush()
		return
	}
	c.SSEvent("done", result)
	c.Writer.Flush()
}
