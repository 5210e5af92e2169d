package handler

import (
	"net/http"
	"strconv"

	"github.com/Baaaki/roomcast/internal/service"
	"github.com/Baaaki/roomcast/pkg/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type MessageHandler struct {
	messageService *service.MessageService
	mediaService   *service.MediaService
}

func NewMessageHandler(messageService *service.MessageService, mediaService *service.MediaService) *MessageHandler {
	return &MessageHandler{
		messageService: messageService,
		mediaService:   mediaService,
	}
}

type CreateMessageRequest struct {
	Content   string `json:"content"`
	ReplyToID *uint  `json:"reply_to_id"`
	MediaIDs  []uint `json:"media_ids"`
}

type EditMessageRequest struct {
	Content string `json:"content"`
}

type ReactionRequest struct {
	Value string `json:"value" binding:"required"`
}

// GET /api/rooms/:id/messages?before=<message id>&limit=<n>
func (h *MessageHandler) List(c *gin.Context) {
	roomID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var before *uint
	if raw := c.Query("before"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			badRequest(c, "invalid before")
			return
		}
		v := uint(id)
		before = &v
	}

	limit := service.DefaultPageSize
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(c, "invalid limit")
			return
		}
		limit = n
	}

	messages, err := h.messageService.List(c.Request.Context(), identity(c), roomID, before, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"messages": messages,
		"count":    len(messages),
		"has_more": len(messages) == min(limit, service.MaxPageSize),
	})
}

// POST /api/rooms/:id/messages
func (h *MessageHandler) Create(c *gin.Context) {
	roomID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req CreateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	view, err := h.messageService.Create(c.Request.Context(), identity(c), service.CreateMessageInput{
		RoomID:    roomID,
		Content:   req.Content,
		ReplyToID: req.ReplyToID,
		MediaIDs:  req.MediaIDs,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

// PATCH /api/messages/:id
func (h *MessageHandler) Edit(c *gin.Context) {
	messageID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	view, err := h.messageService.Edit(c.Request.Context(), identity(c), messageID, req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// DELETE /api/messages/:id
func (h *MessageHandler) Delete(c *gin.Context) {
	messageID, ok := paramID(c, "id")
	if !ok {
		return
	}

	evt, err := h.messageService.Delete(c.Request.Context(), identity(c), messageID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, evt)
}

// PUT /api/messages/:id/reaction
func (h *MessageHandler) React(c *gin.Context) {
	messageID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req ReactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	evt, err := h.messageService.React(c.Request.Context(), identity(c), messageID, req.Value)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, evt)
}

// DELETE /api/messages/:id/reaction
func (h *MessageHandler) ClearReaction(c *gin.Context) {
	messageID, ok := paramID(c, "id")
	if !ok {
		return
	}

	evt, err := h.messageService.React(c.Request.Context(), identity(c), messageID, "")
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, evt)
}

// PATCH /api/reactions/:id
func (h *MessageHandler) UpdateReaction(c *gin.Context) {
	reactionID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req ReactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	evt, err := h.messageService.UpdateReaction(c.Request.Context(), identity(c), reactionID, req.Value)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, evt)
}

// DELETE /api/reactions/:id
func (h *MessageHandler) DeleteReaction(c *gin.Context) {
	reactionID, ok := paramID(c, "id")
	if !ok {
		return
	}

	evt, err := h.messageService.DeleteReaction(c.Request.Context(), identity(c), reactionID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, evt)
}

// POST /api/media (multipart, field "file")
func (h *MessageHandler) UploadMedia(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "file is required")
		return
	}

	file, err := header.Open()
	if err != nil {
		badRequest(c, "unreadable file")
		return
	}
	defer file.Close()

	media, err := h.mediaService.Upload(c.Request.Context(), identity(c), header.Filename, file)
	if err != nil {
		logger.Log.Warn("Media upload rejected",
			zap.Uint("user_id", identity(c).UserID),
			zap.String("filename", header.Filename),
			zap.Int64("size", header.Size),
			zap.Error(err),
		)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": media.ID, "file": media.File})
}
