package rest

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pixelprogress/server/audit"
	"github.com/pixelprogress/server/cache"
	"github.com/pixelprogress/server/game/quest"
	"github.com/pixelprogress/server/game/session"
	mw "github.com/pixelprogress/server/middleware"
	"github.com/pixelprogress/server/model"
	"github.com/pixelprogress/server/scheduler"
)

// AdminHandler handles admin-only REST endpoints.
// Routes should be protected by AdminAuth middleware.
type AdminHandler struct {
	db      *gorm.DB
	cache   cache.Cache
	pubsub  cache.PubSub
	viewers *session.Manager
	quests  *quest.Service
	sched   *scheduler.Scheduler
	audit   *audit.Service
	logger  *zap.Logger
}

// AdminDeps are the collaborators of an AdminHandler. Audit may be nil.
type AdminDeps struct {
	DB        *gorm.DB
	Cache     cache.Cache
	PubSub    cache.PubSub
	Viewers   *session.Manager
	Quests    *quest.Service
	Scheduler *scheduler.Scheduler
	Audit     *audit.Service
	Logger    *zap.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(d AdminDeps) *AdminHandler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &AdminHandler{
		db:      d.DB,
		cache:   d.Cache,
		pubsub:  d.PubSub,
		viewers: d.Viewers,
		quests:  d.Quests,
		sched:   d.Scheduler,
		audit:   d.Audit,
		logger:  d.Logger,
	}
}

// Metrics returns server health metrics.
// GET /api/admin/metrics
func (h *AdminHandler) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"online_users":    len(h.viewers.Users()),
		"open_streams":    h.viewers.Count(),
		"scheduler_tasks": h.sched.ListTickers(),
	})
}

// ListViewers returns a snapshot of all open event streams.
// GET /api/admin/viewers
func (h *AdminHandler) ListViewers(c *gin.Context) {
	type viewerInfo struct {
		ID          string    `json:"id"`
		UserID      int64     `json:"user_id"`
		IP          string    `json:"ip"`
		ConnectedAt time.Time `json:"connected_at"`
		RivalMounts int       `json:"rival_mounts"`
	}
	all := h.viewers.All()
	result := make([]viewerInfo, 0, len(all))
	for _, v := range all {
		result = append(result, viewerInfo{
			ID:          v.ID,
			UserID:      v.UserID,
			IP:          v.IP,
			ConnectedAt: v.ConnectedAt,
			RivalMounts: h.quests.Mounts(v.UserID),
		})
	}
	c.JSON(http.StatusOK, gin.H{"viewers": result, "count": len(result)})
}

func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

// KickViewers closes every stream of a user.
// POST /api/admin/viewers/:uid/kick
func (h *AdminHandler) KickViewers(c *gin.Context) {
	userID, ok := paramID(c, "uid")
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)
	raw, _ := json.Marshal(gin.H{"reason": req.Reason})
	h.viewers.SendToUser(userID, session.Event{Name: "kicked", Data: string(raw)})
	n := h.viewers.Kick(userID)
	if n == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not online"})
		return
	}
	h.logger.Info("admin kicked viewers", zap.Int64("user_id", userID), zap.Int("count", n))
	c.JSON(http.StatusOK, gin.H{"ok": true, "closed": n})
}

// BanAccount bans or unbans an account. A ban also revokes its tokens and
// closes its streams.
// POST /api/admin/accounts/:id/ban
func (h *AdminHandler) BanAccount(c *gin.Context) {
	accountID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Ban bool `json:"ban"`
	}
	_ = c.ShouldBindJSON(&req)

	status := model.AccountActive
	if req.Ban {
		status = model.AccountBanned
	}
	result := h.db.Model(&model.Account{}).Where("id = ?", accountID).Update("status", status)
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}

	revoked := 0
	if req.Ban {
		n, err := RevokeSessions(c.Request.Context(), h.cache, accountID)
		if err != nil {
			h.logger.Warn("revoke sessions failed", zap.Int64("user_id", accountID), zap.Error(err))
		}
		revoked = n
		h.viewers.Kick(accountID)
	}
	if h.audit != nil {
		uid := accountID
		h.audit.Log(audit.AuditEntry{
			TraceID: mw.GetTraceID(c),
			UserID:  &uid,
			Action:  audit.ActionAccountBan,
			Request: map[string]bool{"ban": req.Ban},
			IP:      c.ClientIP(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "status": status, "revoked": revoked})
}

// ListSchedulerTasks returns every registered ticker with its run count.
// GET /api/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.sched.Tasks()})
}

// Announce publishes a message to every open stream.
// POST /api/admin/announce
func (h *AdminHandler) Announce(c *gin.Context) {
	var req struct {
		Message string `json:"message" binding:"required,max=500"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	raw, _ := json.Marshal(gin.H{"message": req.Message, "at": time.Now()})
	if err := h.pubsub.Publish(c.Request.Context(), quest.AnnounceChannel, string(raw)); err != nil {
		h.logger.Error("announce failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "publish failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// TickRival runs a user's rival rules once, outside the scheduler.
// POST /api/admin/rival/:uid/tick
func (h *AdminHandler) TickRival(c *gin.Context) {
	userID, ok := paramID(c, "uid")
	if !ok {
		return
	}
	gain, view, err := h.quests.RivalTick(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"gain": gain, "total": gain.Total(), "rival": view})
}

// AuditLog returns a user's most recent audit entries.
// GET /api/admin/audit/:uid?limit=50
func (h *AdminHandler) AuditLog(c *gin.Context) {
	userID, ok := paramID(c, "uid")
	if !ok {
		return
	}
	if h.audit == nil {
		c.JSON(http.StatusOK, gin.H{"entries": []model.AuditLog{}})
		return
	}
	limit := 50
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 && l <= 200 {
		limit = l
	}
	entries, err := h.audit.Recent(c.Request.Context(), userID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// AdminAuth returns a middleware that checks the X-Admin-Key header.
// If adminKey is empty all admin endpoints are disabled (503) so the server
// cannot be deployed without protection by accident.
func AdminAuth(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminKey == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"error": "admin endpoints disabled: set server.admin_key in config"})
			return
		}
		key := c.GetHeader("X-Admin-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(adminKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
