package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/pixelprogress/server/cache"
	"github.com/pixelprogress/server/config"
	mw "github.com/pixelprogress/server/middleware"
)

// Handlers bundles every HTTP handler of the API.
type Handlers struct {
	Auth    *AuthHandler
	Quests  *QuestHandler
	Rival   *RivalHandler
	Ranking *RankingHandler
	Admin   *AdminHandler
	// SSE serves the event stream. It authenticates itself.
	SSE gin.HandlerFunc
}

// RegisterRoutes mounts the API under /api.
func RegisterRoutes(r *gin.Engine, h Handlers, cfg *config.Config, c cache.Cache) {
	auth := mw.Auth(cfg.Security, c)
	perUser := func(ctx *gin.Context) { ctx.Next() }
	if cfg.Security.RateLimitRPS > 0 {
		perUser = mw.RateLimitBy(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst, mw.ByUser)
	}

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		authG := api.Group("/auth")
		authG.POST("/login", h.Auth.Login)
		authG.POST("/logout", auth, h.Auth.Logout)
		authG.POST("/refresh", auth, h.Auth.Refresh)

		api.GET("/ranking/xp", h.Ranking.TopXP)
		if h.SSE != nil {
			api.GET("/sse", h.SSE)
		}

		user := api.Group("", auth, perUser)
		user.GET("/ranking/me", h.Ranking.MyRank)

		questsG := user.Group("/quests")
		questsG.GET("", h.Quests.Snapshot)
		questsG.POST("", h.Quests.Create)
		questsG.POST("/quick", h.Quests.QuickAdd)
		questsG.POST("/reset", h.Quests.Reset)
		questsG.PUT("/:id", h.Quests.Edit)
		questsG.DELETE("/:id", h.Quests.Delete)
		questsG.POST("/:id/toggle", h.Quests.Toggle)
		questsG.POST("/:id/revive", h.Quests.Revive)
		questsG.POST("/:id/subtasks", h.Quests.AddSubTask)
		questsG.POST("/:id/subtasks/:sid/toggle", h.Quests.ToggleSubTask)
		questsG.DELETE("/:id/subtasks/:sid", h.Quests.DeleteSubTask)

		user.GET("/progress", h.Quests.Progress)
		user.GET("/history", h.Quests.History)
		user.GET("/activity", h.Quests.Activity)

		user.GET("/rival", h.Rival.Get)
		user.PUT("/rival", h.Rival.Configure)
		user.GET("/profile", h.Rival.Profile)
		user.PUT("/profile", h.Rival.UpdateProfile)

		adminG := api.Group("/admin")
		adminG.Use(mw.IPWhitelist(cfg.Server.AdminIPs), AdminAuth(cfg.Server.AdminKey))
		adminG.GET("/metrics", h.Admin.Metrics)
		adminG.GET("/viewers", h.Admin.ListViewers)
		adminG.POST("/viewers/:uid/kick", h.Admin.KickViewers)
		adminG.POST("/accounts/:id/ban", h.Admin.BanAccount)
		adminG.GET("/scheduler", h.Admin.ListSchedulerTasks)
		adminG.POST("/announce", h.Admin.Announce)
		adminG.POST("/rival/:uid/tick", h.Admin.TickRival)
		adminG.GET("/audit/:uid", h.Admin.AuditLog)
	}
}
