package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pixelprogress/server/game/quest"
	"github.com/pixelprogress/server/game/rival"
	mw "github.com/pixelprogress/server/middleware"
)

// RivalHandler serves the rival and profile endpoints.
type RivalHandler struct {
	svc    *quest.Service
	logger *zap.Logger
}

// NewRivalHandler creates a RivalHandler.
func NewRivalHandler(svc *quest.Service, logger *zap.Logger) *RivalHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RivalHandler{svc: svc, logger: logger}
}

// Get handles GET /api/rival.
func (h *RivalHandler) Get(c *gin.Context) {
	v, err := h.svc.Rival(c.Request.Context(), mw.GetUserID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rival": v, "rules": rival.Kinds})
}

type configureRivalRequest struct {
	Rule  string `json:"xp_gain_rule" binding:"required"`
	Value *int   `json:"xp_gain_value" binding:"required"`
}

// Configure handles PUT /api/rival.
func (h *RivalHandler) Configure(c *gin.Context) {
	var req configureRivalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	v, err := h.svc.ConfigureRival(c.Request.Context(), mw.GetUserID(c), req.Rule, *req.Value)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rival": v})
}

// Profile handles GET /api/profile.
func (h *RivalHandler) Profile(c *gin.Context) {
	p, err := h.svc.Profile(c.Request.Context(), mw.GetUserID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// UpdateProfile handles PUT /api/profile.
func (h *RivalHandler) UpdateProfile(c *gin.Context) {
	var patch quest.ProfilePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := h.svc.UpdateProfile(c.Request.Context(), mw.GetUserID(c), patch)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
