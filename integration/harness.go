package integration

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	apirest "github.com/pixelprogress/server/api/rest"
	"github.com/pixelprogress/server/api/sse"
	"github.com/pixelprogress/server/audit"
	"github.com/pixelprogress/server/cache"
	"github.com/pixelprogress/server/config"
	"github.com/pixelprogress/server/game/quest"
	"github.com/pixelprogress/server/game/session"
	mw "github.com/pixelprogress/server/middleware"
	"github.com/pixelprogress/server/plugin/hook"
	"github.com/pixelprogress/server/plugin/script"
	"github.com/pixelprogress/server/resource"
	"github.com/pixelprogress/server/scheduler"
	"github.com/pixelprogress/server/store"
	"github.com/pixelprogress/server/testutil"
)

// AdminKey is the X-Admin-Key accepted by the test server.
const AdminKey = "integration-admin-key"

// TestServer wraps a real HTTP server with every subsystem wired together.
type TestServer struct {
	DB        *gorm.DB
	Cache     cache.Cache
	PubSub    cache.PubSub
	Quests    *quest.Service
	Viewers   *session.Manager
	Scheduler *scheduler.Scheduler
	Hooks     *hook.HookCenter
	Audit     *audit.Service
	Server    *httptest.Server
	URL       string // http://127.0.0.1:<port>
	Cfg       *config.Config

	closeOnce sync.Once
}

// NewTestServer creates a fully wired server for integration testing.
// It mirrors the dependency wiring in main.go.
func NewTestServer(t *testing.T, mutate ...func(*config.Config)) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	// ---- Infrastructure ----
	db := testutil.SetupTestDB(t)
	c, pubsub := testutil.SetupTestCache(t)
	logger := zap.NewNop()

	cfg := config.Default()
	cfg.Server.AdminKey = AdminKey
	cfg.Security.JWTSecret = "integration-test-secret"
	cfg.Security.JWTTTLH = 72 * time.Hour
	cfg.Security.BcryptCost = bcrypt.MinCost
	cfg.Security.RateLimitRPS = 1000
	cfg.Security.RateLimitBurst = 2000
	cfg.Security.AllowedOrigins = []string{} // allow all origins
	cfg.Rival.UnmountGrace = 0
	cfg.Rival.DriftMax = 0
	cfg.Resource.SeedNewUser = true
	for _, m := range mutate {
		m(cfg)
	}

	st, err := store.New(cfg.Storage.Backend, db, c)
	require.NoError(t, err)
	starter, err := resource.LoadStarter("")
	require.NoError(t, err)

	sched := scheduler.New(logger)
	auditSvc := audit.New(db, logger)
	hooks := hook.NewHookCenter()
	viewers := session.NewManager(logger)
	if cfg.Plugin.ScriptDir != "" {
		sandbox := script.NewSandbox(cfg.Plugin.PoolSize, cfg.Plugin.ScriptTimeout, logger)
		_, err := script.LoadDir(cfg.Plugin.ScriptDir, sandbox, hooks, logger)
		require.NoError(t, err)
	}

	// ---- Services ----
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

	// ---- Gin HTTP Server ----
	r := gin.New()
	r.Use(mw.TraceID(), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))

	sseH := sse.NewHandler(pubsub, c, cfg.Security, questSvc, viewers, logger)
	sseH.Heartbeat = 100 * time.Millisecond
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

	srv := httptest.NewServer(r)
	ts := &TestServer{
		DB:        db,
		Cache:     c,
		PubSub:    pubsub,
		Quests:    questSvc,
		Viewers:   viewers,
		Scheduler: sched,
		Hooks:     hooks,
		Audit:     auditSvc,
		Server:    srv,
		URL:       srv.URL,
		Cfg:       cfg,
	}
	t.Cleanup(ts.Close)
	return ts
}

// Close shuts down in the same order as main.go. Safe to call twice.
func (ts *TestServer) Close() {
	ts.closeOnce.Do(func() {
		ts.Viewers.CloseAll()
		ts.Server.Close()
		ts.Scheduler.Stop()
		ts.Audit.Stop(context.Background())
	})
}

// ---- HTTP helpers ----

func (ts *TestServer) do(t *testing.T, method, path string, body interface{}, token string, headers ...string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// PostJSON sends a POST request with a JSON body and optional auth token.
func (ts *TestServer) PostJSON(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodPost, path, body, token)
}

// Get sends a GET request with optional auth token.
func (ts *TestServer) Get(t *testing.T, path string, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodGet, path, nil, token)
}

// Put sends a PUT request with a JSON body and optional auth token.
func (ts *TestServer) Put(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodPut, path, body, token)
}

// Delete sends a DELETE request with optional auth token.
func (ts *TestServer) Delete(t *testing.T, path string, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodDelete, path, nil, token)
}

// Admin sends a request carrying the admin key.
func (ts *TestServer) Admin(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	return ts.do(t, method, path, body, "", "X-Admin-Key", AdminKey)
}

// ReadJSON decodes the response body into target and closes it.
func ReadJSON(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target), "body: %s", string(data))
}

// Login signs in (auto-registering on first use) and returns token and user id.
func (ts *TestServer) Login(t *testing.T, username, password string) (token string, userID int64) {
	t.Helper()
	resp := ts.PostJSON(t, "/api/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result struct {
		Token  string `json:"token"`
		UserID int64  `json:"user_id"`
	}
	ReadJSON(t, resp, &result)
	require.NotEmpty(t, result.Token)
	return result.Token, result.UserID
}

// Snapshot fetches the caller's quest collection.
func (ts *TestServer) Snapshot(t *testing.T, token string) quest.Snapshot {
	t.Helper()
	resp := ts.Get(t, "/api/quests", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap quest.Snapshot
	ReadJSON(t, resp, &snap)
	return snap
}

// ---- SSE client ----

// Event is one server-sent event.
type Event struct {
	Name string
	Data string
}

// SSEClient reads events from an open stream.
type SSEClient struct {
	resp   *http.Response
	cancel context.CancelFunc
	events chan Event
}

// OpenSSE connects to the event stream with token in the query.
func (ts *TestServer) OpenSSE(t *testing.T, token string) *SSEClient {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/sse?token="+token, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		require.NoError(t, err)
	}
	if resp.StatusCode != http.StatusOK {
		cancel()
		resp.Body.Close()
		t.Fatalf("OpenSSE: status %d", resp.StatusCode)
	}
	sc := &SSEClient{resp: resp, cancel: cancel, events: make(chan Event, 64)}
	go sc.readLoop()
	t.Cleanup(sc.Close)
	return sc
}

func (sc *SSEClient) readLoop() {
	defer close(sc.events)
	scanner := bufio.NewScanner(sc.resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	var cur Event
	for scanner.Scan() {
		line := scanner.Text()
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch {
		case field == "event":
			cur.Name = value
		case field == "data" && cur.Data != "":
			cur.Data += "\n" + value
		case field == "data":
			cur.Data = value
		case line == "" && cur.Name != "":
			sc.events <- cur
			cur = Event{}
		}
	}
}

// Next waits for the next event named name, skipping others.
func (sc *SSEClient) Next(t *testing.T, name string, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-sc.events:
			if !ok {
				t.Fatalf("stream closed while waiting for %q", name)
			}
			if ev.Name == name {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", name)
		}
	}
}

// NextJSON is Next with the data decoded into a map.
func (sc *SSEClient) NextJSON(t *testing.T, name string, timeout time.Duration) map[string]interface{} {
	t.Helper()
	ev := sc.Next(t, name, timeout)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(ev.Data), &out), "data: %s", ev.Data)
	return out
}

// WaitClosed returns once the server has ended the stream.
func (sc *SSEClient) WaitClosed(t *testing.T, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case _, ok := <-sc.events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream still open")
		}
	}
}

// Close cancels the request.
func (sc *SSEClient) Close() {
	sc.cancel()
	sc.resp.Body.Close()
}

// ---- Misc helpers ----

var testCounter uint64

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

// UniqueID returns a unique string for test isolation.
func UniqueID(prefix string) string {
	n := atomic.AddUint64(&testCounter, 1)
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano()%100000, n)
}
