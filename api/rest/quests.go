package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pixelprogress/server/config"
	"github.com/pixelprogress/server/game/ledger"
	"github.com/pixelprogress/server/game/quest"
	mw "github.com/pixelprogress/server/middleware"
)

// QuestHandler serves the quest collection, ledger and history endpoints.
type QuestHandler struct {
	svc    *quest.Service
	qcfg   config.QuestConfig
	logger *zap.Logger
}

// NewQuestHandler creates a QuestHandler.
func NewQuestHandler(svc *quest.Service, qcfg config.QuestConfig, logger *zap.Logger) *QuestHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QuestHandler{svc: svc, qcfg: qcfg, logger: logger}
}

// Snapshot handles GET /api/quests?sort=display.
func (h *QuestHandler) Snapshot(c *gin.Context) {
	snap, err := h.svc.Snapshot(c.Request.Context(), mw.GetUserID(c), c.Query("sort") == "display")
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

type createQuestRequest struct {
	ledger.Draft
	// XP shadows Draft.XP so an omitted reward takes the form default.
	XP *int `json:"xp"`
}

// Create handles POST /api/quests.
func (h *QuestHandler) Create(c *gin.Context) {
	var req createQuestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d := req.Draft
	d.XP = h.qcfg.DefaultFormXP
	if req.XP != nil {
		d.XP = *req.XP
	}
	res, err := h.svc.CreateQuest(c.Request.Context(), mw.GetUserID(c), d)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

type quickAddRequest struct {
	Title string `json:"title"`
}

// QuickAdd handles POST /api/quests/quick.
func (h *QuestHandler) QuickAdd(c *gin.Context) {
	var req quickAddRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.svc.QuickAdd(c.Request.Context(), mw.GetUserID(c), req.Title)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// Edit handles PUT /api/quests/:id.
func (h *QuestHandler) Edit(c *gin.Context) {
	var patch ledger.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.svc.EditQuest(c.Request.Context(), mw.GetUserID(c), c.Param("id"), patch)
	h.respond(c, http.StatusOK, res, err)
}

// Delete handles DELETE /api/quests/:id.
func (h *QuestHandler) Delete(c *gin.Context) {
	res, err := h.svc.DeleteQuest(c.Request.Context(), mw.GetUserID(c), c.Param("id"))
	h.respond(c, http.StatusOK, res, err)
}

// Toggle handles POST /api/quests/:id/toggle.
func (h *QuestHandler) Toggle(c *gin.Context) {
	res, err := h.svc.ToggleQuest(c.Request.Context(), mw.GetUserID(c), c.Param("id"))
	h.respond(c, http.StatusOK, res, err)
}

type addSubTaskRequest struct {
	Title string `json:"title"`
	XP    *int   `json:"xp"`
}

// AddSubTask handles POST /api/quests/:id/subtasks.
func (h *QuestHandler) AddSubTask(c *gin.Context) {
	var req addSubTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.svc.AddSubTask(c.Request.Context(), mw.GetUserID(c), c.Param("id"), req.Title, req.XP)
	h.respond(c, http.StatusCreated, res, err)
}

// ToggleSubTask handles POST /api/quests/:id/subtasks/:sid/toggle.
func (h *QuestHandler) ToggleSubTask(c *gin.Context) {
	res, err := h.svc.ToggleSubTask(c.Request.Context(), mw.GetUserID(c), c.Param("id"), c.Param("sid"))
	h.respond(c, http.StatusOK, res, err)
}

// DeleteSubTask handles DELETE /api/quests/:id/subtasks/:sid.
func (h *QuestHandler) DeleteSubTask(c *gin.Context) {
	res, err := h.svc.DeleteSubTask(c.Request.Context(), mw.GetUserID(c), c.Param("id"), c.Param("sid"))
	h.respond(c, http.StatusOK, res, err)
}

// Revive handles POST /api/quests/:id/revive.
func (h *QuestHandler) Revive(c *gin.Context) {
	res, err := h.svc.Revive(c.Request.Context(), mw.GetUserID(c), c.Param("id"))
	h.respond(c, http.StatusCreated, res, err)
}

// Reset handles POST /api/quests/reset.
func (h *QuestHandler) Reset(c *gin.Context) {
	res, err := h.svc.Reset(c.Request.Context(), mw.GetUserID(c))
	h.respond(c, http.StatusOK, res, err)
}

// respond writes a mutation result. A result that touched nothing means the
// target id was unknown.
func (h *QuestHandler) respond(c *gin.Context, status int, res *quest.Result, err error) {
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if !res.Found {
		c.JSON(http.StatusNotFound, gin.H{"error": "quest not found"})
		return
	}
	c.JSON(status, res)
}

// Progress handles GET /api/progress.
func (h *QuestHandler) Progress(c *gin.Context) {
	p, err := h.svc.Progress(c.Request.Context(), mw.GetUserID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"progress": p})
}

// History handles GET /api/history?date=YYYY-MM-DD&q=.
func (h *QuestHandler) History(c *gin.Context) {
	hist, err := h.svc.History(c.Request.Context(), mw.GetUserID(c), c.Query("date"), c.Query("q"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, hist)
}

// Activity handles GET /api/activity?limit=20.
func (h *QuestHandler) Activity(c *gin.Context) {
	limit := 20
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 {
		limit = l
	}
	items, err := h.svc.Activity(c.Request.Context(), mw.GetUserID(c), limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"activity": items})
}
