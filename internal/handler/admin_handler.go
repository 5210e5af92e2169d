package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/Baaaki/roomcast/internal/audit"
	"github.com/Baaaki/roomcast/internal/middleware"
	"github.com/Baaaki/roomcast/pkg/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AdminHandler serves superuser-only endpoints: the moderation journal and
// the rate limiter block list. limiter is nil when Redis is not configured.
type AdminHandler struct {
	journal *audit.Journal
	limiter *middleware.RateLimiter
}

func NewAdminHandler(journal *audit.Journal, limiter *middleware.RateLimiter) *AdminHandler {
	return &AdminHandler{
		journal: journal,
		limiter: limiter,
	}
}

type CompactAuditRequest struct {
	OlderThan string `json:"older_than" binding:"required"` // Go duration, e.g. "720h"
}

type BlockRequest struct {
	Key string `json:"key" binding:"required"` // "ip:<addr>" or "user:<id>"
}

// GetAudit returns journal entries, newest first, optionally filtered by room.
// GET /api/admin/audit?room=<id>
func (h *AdminHandler) GetAudit(c *gin.Context) {
	entries, err := h.journal.ReadAll()
	if err != nil {
		respondError(c, err)
		return
	}

	room := c.Query("room")
	out := make([]audit.Entry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		if room != "" && room != uintString(entries[i].RoomID) {
			continue
		}
		out = append(out, entries[i])
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": out,
		"count":   len(out),
	})
}

// CompactAudit drops journal entries older than the given age.
// POST /api/admin/audit/compact
func (h *AdminHandler) CompactAudit(c *gin.Context) {
	var req CompactAuditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	age, err := time.ParseDuration(req.OlderThan)
	if err != nil || age <= 0 {
		badRequest(c, "older_than must be a positive duration")
		return
	}

	dropped, err := h.journal.Compact(time.Now().UTC().Add(-age))
	if err != nil {
		respondError(c, err)
		return
	}

	logger.Log.Info("Admin compacted audit journal",
		zap.Uint("admin_id", identity(c).UserID),
		zap.Int("dropped", dropped),
	)
	c.JSON(http.StatusOK, gin.H{"dropped": dropped})
}

// Block adds a caller key to the rate limiter block list.
// POST /api/admin/blocks
func (h *AdminHandler) Block(c *gin.Context) {
	if !h.limiterAvailable(c) {
		return
	}
	var req BlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	if !validBlockKey(req.Key) {
		badRequest(c, `key must look like "ip:<addr>" or "user:<id>"`)
		return
	}

	if err := h.limiter.Block(c.Request.Context(), req.Key); err != nil {
		respondError(c, err)
		return
	}

	logger.Log.Info("Admin blocked caller",
		zap.Uint("admin_id", identity(c).UserID),
		zap.String("key", req.Key),
	)
	c.JSON(http.StatusOK, gin.H{"blocked": req.Key})
}

// Unblock removes a caller key from the block list.
// DELETE /api/admin/blocks/:key
func (h *AdminHandler) Unblock(c *gin.Context) {
	if !h.limiterAvailable(c) {
		return
	}
	key := c.Param("key")
	if err := h.limiter.Unblock(c.Request.Context(), key); err != nil {
		respondError(c, err)
		return
	}

	logger.Log.Info("Admin unblocked caller",
		zap.Uint("admin_id", identity(c).UserID),
		zap.String("key", key),
	)
	c.JSON(http.StatusOK, gin.H{"unblocked": key})
}

func (h *AdminHandler) limiterAvailable(c *gin.Context) bool {
	if h.limiter == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "rate limiting is disabled"})
		return false
	}
	return true
}

func validBlockKey(key string) bool {
	kind, value, ok := strings.Cut(key, ":")
	return ok && value != "" && (kind == "ip" || kind == "user")
}
