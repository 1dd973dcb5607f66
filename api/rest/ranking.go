package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pixelprogress/server/cache"
	"github.com/pixelprogress/server/game/quest"
	mw "github.com/pixelprogress/server/middleware"
	"github.com/pixelprogress/server/model"
)

// RankingHandler handles leaderboard REST endpoints.
type RankingHandler struct {
	db     *gorm.DB
	cache  cache.Cache
	logger *zap.Logger
}

// NewRankingHandler creates a RankingHandler.
func NewRankingHandler(db *gorm.DB, c cache.Cache, logger *zap.Logger) *RankingHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RankingHandler{db: db, cache: c, logger: logger}
}

const rankingTop = 100

// RankEntry is one row in the leaderboard.
type RankEntry struct {
	Rank     int    `json:"rank"`
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	XP       int    `json:"xp"`
}

// TopXP returns the users with the most XP.
// GET /api/ranking/xp?limit=20
func (h *RankingHandler) TopXP(c *gin.Context) {
	limit := 20
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 && l <= rankingTop {
		limit = l
	}

	ctx := c.Request.Context()
	members, err := h.cache.ZRevRange(ctx, quest.RankingKey, 0, int64(limit-1))
	if err != nil {
		h.logger.Error("ranking read failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	entries := make([]RankEntry, 0, len(members))
	for _, m := range members {
		userID, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		score, _ := h.cache.ZScore(ctx, quest.RankingKey, m)
		entries = append(entries, RankEntry{
			Rank:   len(entries) + 1,
			UserID: userID,
			XP:     int(score),
		})
	}
	h.enrichNames(entries)
	c.JSON(http.StatusOK, gin.H{"ranking": entries})
}

// MyRank returns the caller's position, or 404 before their first XP change.
// GET /api/ranking/me
func (h *RankingHandler) MyRank(c *gin.Context) {
	member := strconv.FormatInt(mw.GetUserID(c), 10)
	ctx := c.Request.Context()
	rank, err := h.cache.ZRevRank(ctx, quest.RankingKey, member)
	if err != nil {
		if cache.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not ranked"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	score, _ := h.cache.ZScore(ctx, quest.RankingKey, member)
	c.JSON(http.StatusOK, gin.H{"rank": rank + 1, "xp": int(score)})
}

func (h *RankingHandler) enrichNames(entries []RankEntry) {
	if len(entries) == 0 || h.db == nil {
		return
	}
	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.UserID
	}
	var accs []model.Account
	h.db.Select("id, username").Where("id IN ?", ids).Find(&accs)
	names := make(map[int64]string, len(accs))
	for _, a := range accs {
		names[a.ID] = a.Username
	}
	for i := range entries {
		entries[i].Username = names[entries[i].UserID]
	}
}
