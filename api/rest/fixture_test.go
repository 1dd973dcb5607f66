package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/pixelprogress/server/api/rest"
	"github.com/pixelprogress/server/audit"
	"github.com/pixelprogress/server/cache"
	"github.com/pixelprogress/server/config"
	"github.com/pixelprogress/server/game/quest"
	"github.com/pixelprogress/server/game/session"
	mw "github.com/pixelprogress/server/middleware"
	"github.com/pixelprogress/server/plugin/hook"
	"github.com/pixelprogress/server/scheduler"
	"github.com/pixelprogress/server/store"
	"github.com/pixelprogress/server/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testAdminKey = "admin-test-key"

type testServer struct {
	router  *gin.Engine
	db      *gorm.DB
	cache   cache.Cache
	pubsub  cache.PubSub
	quests  *quest.Service
	sched   *scheduler.Scheduler
	viewers *session.Manager
	audit   *audit.Service
	hooks   *hook.HookCenter
	cfg     *config.Config
}

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	logger := zap.NewNop()

	cfg := config.Default()
	cfg.Security.JWTSecret = "test-secret"
	cfg.Security.BcryptCost = bcrypt.MinCost
	cfg.Security.RateLimitRPS = 0
	cfg.Server.AdminKey = testAdminKey
	cfg.Rival.UnmountGrace = 0
	cfg.Rival.DriftMax = 0
	for _, m := range mutate {
		m(cfg)
	}

	sched := scheduler.New(logger)
	t.Cleanup(sched.Stop)
	aud := audit.New(db, logger)
	t.Cleanup(func() { aud.Stop(context.Background()) })
	hooks := hook.NewHookCenter()
	viewers := session.NewManager(logger)

	svc := quest.NewService(quest.Deps{
		Store:     store.NewDB(db),
		Cache:     c,
		PubSub:    ps,
		Hooks:     hooks,
		Audit:     aud,
		Scheduler: sched,
		Logger:    logger,
		Quest:     cfg.Quest,
		Rival:     cfg.Rival,
	})

	h := rest.Handlers{
		Auth:    rest.NewAuthHandler(db, c, cfg.Security, svc, hooks, aud, logger),
		Quests:  rest.NewQuestHandler(svc, cfg.Quest, logger),
		Rival:   rest.NewRivalHandler(svc, logger),
		Ranking: rest.NewRankingHandler(db, c, logger),
		Admin: rest.NewAdminHandler(rest.AdminDeps{
			DB:        db,
			Cache:     c,
			PubSub:    ps,
			Viewers:   viewers,
			Quests:    svc,
			Scheduler: sched,
			Audit:     aud,
			Logger:    logger,
		}),
	}
	r := gin.New()
	r.Use(mw.TraceID())
	rest.RegisterRoutes(r, h, cfg, c)

	return &testServer{
		router:  r,
		db:      db,
		cache:   c,
		pubsub:  ps,
		quests:  svc,
		sched:   sched,
		viewers: viewers,
		audit:   aud,
		hooks:   hooks,
		cfg:     cfg,
	}
}

// do sends a JSON request. headers are key/value pairs.
func (s *testServer) do(method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) admin(method, path string, body any) *httptest.ResponseRecorder {
	return s.do(method, path, "", body, "X-Admin-Key", testAdminKey)
}

type loginResponse struct {
	Token      string `json:"token"`
	UserID     int64  `json:"user_id"`
	Registered bool   `json:"registered"`
}

// login registers or signs in a user and returns the token and id.
func (s *testServer) login(t *testing.T, username string) (string, int64) {
	t.Helper()
	w := s.do(http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": username,
		"password": "pass1234",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[loginResponse](t, w)
	return resp.Token, resp.UserID
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}
