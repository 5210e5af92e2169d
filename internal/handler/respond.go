package handler

import (
	"net/http"
	"strconv"

	"github.com/Baaaki/roomcast/internal/apperr"
	"github.com/Baaaki/roomcast/internal/middleware"
	"github.com/Baaaki/roomcast/internal/models"
	"github.com/Baaaki/roomcast/pkg/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var statusByKind = map[apperr.Kind]int{
	apperr.KindValidation:      http.StatusBadRequest,
	apperr.KindNotFound:        http.StatusNotFound,
	apperr.KindAuthorization:   http.StatusForbidden,
	apperr.KindProtocol:        http.StatusBadRequest,
	apperr.KindConflict:        http.StatusConflict,
	apperr.KindGone:            http.StatusGone,
	apperr.KindUnauthenticated: http.StatusUnauthorized,
}

// respondError writes err as {"error": ...}. Unclassified errors are logged
// and hidden behind a 500.
func respondError(c *gin.Context, err error) {
	status, ok := statusByKind[apperr.KindOf(err)]
	if !ok {
		logger.Log.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": apperr.PublicMessage(err)})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// identity is only called behind AuthMiddleware.
func identity(c *gin.Context) models.Identity {
	id, _ := middleware.IdentityFrom(c)
	return id
}

func paramID(c *gin.Context, name string) (uint, bool) {
	value, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || value == 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return uint(value), true
}

func uintString(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}
