// Package sse streams a user's live quest, rival and announcement events.
// An open stream is what keeps the user's rival ticking.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pixelprogress/server/cache"
	"github.com/pixelprogress/server/config"
	"github.com/pixelprogress/server/game/quest"
	"github.com/pixelprogress/server/game/session"
	mw "github.com/pixelprogress/server/middleware"
)

const defaultHeartbeat = 30 * time.Second

// Handler handles the SSE endpoint.
type Handler struct {
	pubsub  cache.PubSub
	c       cache.Cache
	sec     config.SecurityConfig
	quests  *quest.Service
	viewers *session.Manager
	logger  *zap.Logger

	// Heartbeat is the keepalive comment interval.
	Heartbeat time.Duration
}

// NewHandler creates a new SSE Handler.
func NewHandler(pubsub cache.PubSub, c cache.Cache, sec config.SecurityConfig,
	quests *quest.Service, viewers *session.Manager, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		pubsub:    pubsub,
		c:         c,
		sec:       sec,
		quests:    quests,
		viewers:   viewers,
		logger:    logger,
		Heartbeat: defaultHeartbeat,
	}
}

func (h *Handler) originAllowed(origin string) bool {
	if origin == "" || len(h.sec.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(h.sec.AllowedOrigins, origin)
}

func bearer(c *gin.Context) string {
	if t := c.Query("token"); t != "" {
		return t
	}
	return strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
}

// authenticate resolves the stream's user from its token.
func (h *Handler) authenticate(c *gin.Context) (int64, bool) {
	tokenStr := bearer(c)
	if tokenStr == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return 0, false
	}
	claims, err := mw.ParseToken(tokenStr, h.sec.JWTSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return 0, false
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	exists, err := h.c.Exists(ctx, mw.SessionKey(tokenStr))
	if err != nil || !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
		return 0, false
	}
	return claims.UserID, true
}

// eventName picks the SSE event name of a pub/sub message.
func eventName(msg *cache.Message) string {
	if msg.Channel == quest.AnnounceChannel {
		return "announce"
	}
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(msg.Payload), &head); err != nil || head.Type == "" {
		return "message"
	}
	return head.Type
}

// ServeSSE handles GET /api/sse?token=<jwt>.
// The first event is a full snapshot; later events carry each change.
func (h *Handler) ServeSSE(c *gin.Context) {
	if !h.originAllowed(c.GetHeader("Origin")) {
		c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}
	userID, ok := h.authenticate(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	snap, err := h.quests.Snapshot(ctx, userID, true)
	if err != nil {
		h.logger.Error("sse snapshot failed", zap.Int64("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	subCtx, subCancel := context.WithCancel(ctx)
	defer subCancel()
	msgCh, unsub, err := h.pubsub.Subscribe(subCtx, quest.UserChannel(userID), quest.AnnounceChannel)
	if err != nil {
		h.logger.Error("sse subscribe failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	defer unsub()

	if err := h.quests.MountRival(ctx, userID); err != nil {
		h.logger.Error("rival mount failed", zap.Int64("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	defer h.quests.UnmountRival(userID)

	v := session.NewViewer(userID, c.ClientIP())
	h.viewers.Register(v)
	defer h.viewers.Unregister(v)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	raw, _ := json.Marshal(snap)
	writeEvent(c, "snapshot", string(raw))

	// Pub/sub messages are queued on the viewer so that a slow client drops
	// events instead of stalling the subscription.
	go func() {
		for {
			select {
			case msg, ok := <-msgCh:
				if !ok {
					v.Close()
					return
				}
				if !v.Send(session.Event{Name: eventName(msg), Data: msg.Payload}) {
					h.logger.Warn("sse event dropped",
						zap.Int64("user_id", userID), zap.String("viewer_id", v.ID))
				}
			case <-v.Done:
				return
			case <-subCtx.Done():
				return
			}
		}
	}()

	heartbeat := h.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case ev := <-v.SendChan:
			writeEvent(c, ev.Name, ev.Data)

		case <-ticker.C:
			// Keepalive comment to prevent proxy timeouts.
			fmt.Fprintf(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()

		case <-v.Done:
			drain(c, v)
			writeEvent(c, "closed", "{}")
			return

		case <-ctx.Done():
			return
		}
	}
}

// writeEvent frames one event through gin's SSE renderer, which splits
// multi-line data into separate data lines.
func writeEvent(c *gin.Context, name, data string) {
	c.SSEvent(name, data)
	c.Writer.Flush()
}

// drain writes whatever was queued before the viewer closed.
func drain(c *gin.Context, v *session.Viewer) {
	for {
		select {
		case ev := <-v.SendChan:
			writeEvent(c, ev.Name, ev.Data)
		default:
			return
		}
	}
}
