package handler

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"inkwell/internal/chatmemory"
	"inkwell/internal/livedoc"
	"inkwell/internal/model"
	"inkwell/internal/transport/http/response"
)

type WorkspaceAPI interface {
	UpdateLiveDoc(ctx context.Context, workspaceID, filename, text string) (*livedoc.UpdateResult, error)
	DeleteLiveDoc(ctx context.Context, workspaceID, filename string) error
	LiveDocChunks(ctx context.Context, workspaceID, filename string) ([]model.Chunk, error)
	GetRules(ctx context.Context, workspaceID string) (model.RulesContent, error)
	SaveRules(ctx context.Context, workspaceID string, content model.RulesContent) (*model.Rules, error)
	ChatMemory(ctx context.Context, workspaceID, chatID string, historyLimit int) (*chatmemory.Snapshot, error)
	UploadDocument(ctx context.Context, workspaceID, filename string, data []byte) (*model.Document, error)
	ListDocuments(ctx context.Context, workspaceID string) ([]model.Document, error)
	GetDocument(ctx context.Context, workspaceID, id string) (*model.Document, error)
	DeleteDocument(ctx context.Context, workspaceID, id string) error
}

type WorkspaceHandler struct {
	api            WorkspaceAPI
	maxUploadBytes int64
}

type LiveDocRequest struct {
	Content string `json:"content"`
}

func NewWorkspaceHandler(api WorkspaceAPI, maxUploadBytes int64) *WorkspaceHandler {
	return &WorkspaceHandler{api: api, maxUploadBytes: maxUploadBytes}
}

func (h *WorkspaceHandler) GetRules(c *gin.Context) {
	workspaceID, ok := requireWorkspace(c)
	if !ok {
		return
	}
	content, err := h.api.GetRules(c.Request.Context(), workspaceID)
	if err != nil {
		writeError(c, err, "get rules failed")
		return
	}
	response.OK(c, content)
}

func (h *WorkspaceHandler) SaveRules(c *gin.Context) {
	workspaceID, ok := requireWorkspace(c)
	if !ok {
		return
	}
	var req model.RulesContent
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	saved, err := h.api.SaveRules(c.Request.Context(), workspaceID, req)
	if err != nil {
		writeError(c, err, "save rules failed")
		return
	}
	response.OK(c, saved)
}

func (h *WorkspaceHandler) UpdateLiveDoc(c *gin.Context) {
	workspaceID, ok := requireWorkspace(c)
	if !ok {
		return
	}
	var req LiveDocRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	result, err := h.api.UpdateLiveDoc(c.Request.Context(), workspaceID, c.Param("filename"), req.Content)
	if err != nil {
		writeError(c, err, "update live document failed")
		return
	}
	response.OK(c, result)
}

func (h *WorkspaceHandler) DeleteLiveDoc(c *gin.Context) {
	workspaceID, ok := requireWorkspace(c)
	if !ok {
		return
	}
	filename := c.Param("filename")
	if err := h.api.DeleteLiveDoc(c.Request.Context(), workspaceID, filename); err != nil {
		writeError(c, err, "delete live document failed")
		return
	}
	response.OK(c, gin.H{"deleted_filename": filename})
}

func (h *WorkspaceHandler) LiveDocChunks(c *gin.Context) {
	workspaceID, ok := requireWorkspace(c)
	if !ok {
		return
	}
	chunks, err := h.api.LiveDocChunks(c.Request.Context(), workspaceID, c.Param("filename"))
	if err != nil {
		writeError(c, err, "list live document chunks failed")
		return
	}
	response.OK(c, chunks)
}

func (h *WorkspaceHandler) ChatMemory(c *gin.Context) {
	workspaceID, ok := requireWorkspace(c)
	if !ok {
		return
	}
	limit := chatmemory.DefaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	snapshot, err := h.api.ChatMemory(c.Request.Context(), workspaceID, c.Param("chat_id"), limit)
	if err != nil {
		writeError(c, err, "get chat memory failed")
		return
	}
	response.OK(c, snapshot)
}

// UploadDocument accepts a multipart "file" field holding a PDF.
func (h *WorkspaceHandler) UploadDocument(c *gin.Context) {
	workspaceID, ok := requireWorkspace(c)
	if !ok {
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing file")
		return
	}
	if h.maxUploadBytes > 0 && fileHeader.Size > h.maxUploadBytes {
		response.Error(c, http.StatusRequestEntityTooLarge, response.CodeDocumentTooLarge, "file too large")
		return
	}
	if !strings.EqualFold(filepath.Ext(fileHeader.Filename), ".pdf") {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "only .pdf files are supported")
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "open file failed")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "read file failed")
		return
	}

	doc, err := h.api.UploadDocument(c.Request.Context(), workspaceID, filepath.Base(fileHeader.Filename), data)
	if err != nil {
		writeError(c, err, "upload document failed")
		return
	}
	c.JSON(http.StatusAccepted, response.APIResponse{Code: response.CodeOK, Message: "accepted", Data: doc})
}

func (h *WorkspaceHandler) ListDocuments(c *gin.Context) {
	workspaceID, ok := requireWorkspace(c)
	if !ok {
		return
	}
	docs, err := h.api.ListDocuments(c.Request.Context(), workspaceID)
	if err != nil {
		writeError(c, err, "list documents failed")
		return
	}
	response.OK(c, docs)
}

func (h *WorkspaceHandler) GetDocument(c *gin.Context) {
	workspaceID, ok := requireWorkspace(c)
	if !ok {
		return
	}
	doc, err := h.api.GetDocument(c.Request.Context(), workspaceID, c.Param("id"))
	if err != nil {
		writeError(c, err, "get document failed")
		return
	}
	response.OK(c, doc)
}

func (h *WorkspaceHandler) DeleteDocument(c *gin.Context) {
	workspaceID, ok := requireWorkspace(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if err := h.api.DeleteDocument(c.Request.Context(), workspaceID, id); err != nil {
		writeError(c, err, "delete document failed")
		return
	}
	response.OK(c, gin.H{"deleted_document_id": id})
}
