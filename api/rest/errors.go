package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pixelprogress/server/game/quest"
	mw "github.com/pixelprogress/server/middleware"
)

var badRequest = []error{
	quest.ErrEmptyTitle,
	quest.ErrInvalidXP,
	quest.ErrInvalidDueDate,
	quest.ErrInvalidRule,
	quest.ErrInvalidValue,
	quest.ErrTooManyImages,
	quest.ErrInvalidAvatar,
	quest.ErrInvalidDate,
	quest.ErrProfileTooLarge,
}

// respondError maps a service error to its HTTP status. Unknown errors are
// logged and hidden behind a 500.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	for _, target := range badRequest {
		if errors.Is(err, target) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if errors.Is(err, quest.ErrVetoed) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	logger.Error("request failed",
		zap.String("path", c.FullPath()),
		zap.String("trace_id", mw.GetTraceID(c)),
		zap.Int64("user_id", mw.GetUserID(c)),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
