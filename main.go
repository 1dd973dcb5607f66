package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	apirest "github.com/pixelprogress/server/api/rest"
	"github.com/pixelprogress/server/api/sse"
	"github.com/pixelprogress/server/audit"
	"github.com/pixelprogress/server/cache"
	"github.com/pixelprogress/server/config"
	dbadapter "github.com/pixelprogress/server/db"
	"github.com/pixelprogress/server/game/quest"
	"github.com/pixelprogress/server/game/session"
	mw "github.com/pixelprogress/server/middleware"
	"github.com/pixelprogress/server/model"
	"github.com/pixelprogress/server/plugin/hook"
	"github.com/pixelprogress/server/plugin/script"
	"github.com/pixelprogress/server/resource"
	"github.com/pixelprogress/server/scheduler"
	"github.com/pixelprogress/server/store"
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	// Warn loudly if admin endpoints will be disabled.
	if cfg.Server.AdminKey == "" {
		logger.Warn("server.admin_key is not set; admin endpoints are disabled")
	}
	if cfg.Security.JWTSecret == "" || cfg.Security.JWTSecret == "change-me" {
		logger.Warn("security.jwt_secret is unset or the sample value")
	}

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	// ---- Audit ----
	auditSvc := audit.New(db, logger)

	// ---- Cache / PubSub ----
	cacheConfig := cache.CacheConfig{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	c, err := cache.NewCache(cacheConfig)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	pubsub, err := cache.NewPubSub(cacheConfig)
	if err != nil {
		log.Fatalf("pubsub: %v", err)
	}
	logger.Info("Cache initialized", zap.Bool("redis", cfg.Cache.RedisAddr != ""))

	st, err := store.New(cfg.Storage.Backend, db, c)
	if err != nil {
		log.Fatalf("store: %v", err)
	}

	// ---- Starter quests ----
	starter, err := resource.LoadStarter(cfg.Resource.StarterPath)
	if err != nil {
		log.Fatalf("starter quests: %v", err)
	}
	logger.Info("starter quests loaded", zap.Int("count", len(starter.Quests)))

	// ---- Scheduler ----
	sched := scheduler.New(logger)

	// ---- Hooks ----
	hooks := hook.NewHookCenter()
	hooks.Register(hook.OnQuestCompleted, 100, "log", func(_ context.Context, _ string, data any) (any, error) {
		if ev, ok := data.(hook.QuestCompleted); ok {
			logger.Info("quest completed",
				zap.Int64("user_id", ev.UserID),
				zap.String("quest_id", ev.QuestID),
				zap.Int("xp", ev.XP))
		}
		return data, nil
	})

	if cfg.Plugin.ScriptDir != "" {
		sandbox := script.NewSandbox(cfg.Plugin.PoolSize, cfg.Plugin.ScriptTimeout, logger)
		scripts, err := script.LoadDir(cfg.Plugin.ScriptDir, sandbox, hooks, logger)
		if err != nil {
			log.Fatalf("scripts: %v", err)
		}
		logger.Info("script hooks loaded", zap.Int("count", len(scripts)))
	}

	// ---- Services ----
	viewers := session.NewManager(logger)
	questSvc := quest.NewService(quest.Deps{
		Store:       st,
		Cache:       c,
		PubSub:      pubsub,
		Hooks:       hooks,
		Audit:       auditSvc,
		Scheduler:   sched,
		Starter:     starter,
		Logger:      logger,
		Quest:       cfg.Quest,
		Rival:       cfg.Rival,
		SeedNewUser: cfg.Resource.SeedNewUser,
	})

	sched.AddTicker("viewer_stats", 5*time.Minute, func(context.Context) {
		logger.Info("viewer stats",
			zap.Int("online_users", len(viewers.Users())),
			zap.Int("open_streams", viewers.Count()))
	})

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))

	sseH := sse.NewHandler(pubsub, c, cfg.Security, questSvc, viewers, logger)
	apirest.RegisterRoutes(r, apirest.Handlers{
		Auth:    apirest.NewAuthHandler(db, c, cfg.Security, questSvc, hooks, auditSvc, logger),
		Quests:  apirest.NewQuestHandler(questSvc, cfg.Quest, logger),
		Rival:   apirest.NewRivalHandler(questSvc, logger),
		Ranking: apirest.NewRankingHandler(db, c, logger),
		Admin: apirest.NewAdminHandler(apirest.AdminDeps{
			DB:        db,
			Cache:     c,
			PubSub:    pubsub,
			Viewers:   viewers,
			Quests:    questSvc,
			Scheduler: sched,
			Audit:     auditSvc,
			Logger:    logger,
		}),
		SSE: sseH.ServeSSE,
	}, cfg, c)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("Server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Streams never finish on their own, so close them before draining.
	viewers.Broadcast(session.Event{Name: "shutdown", Data: "{}"})
	viewers.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	sched.Stop()
	auditSvc.Stop(shutdownCtx)
}
