package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/pixelprogress/server/audit"
	"github.com/pixelprogress/server/cache"
	"github.com/pixelprogress/server/config"
	"github.com/pixelprogress/server/game/quest"
	mw "github.com/pixelprogress/server/middleware"
	"github.com/pixelprogress/server/model"
	"github.com/pixelprogress/server/plugin/hook"
)

// AuthHandler handles authentication REST endpoints.
type AuthHandler struct {
	db     *gorm.DB
	cache  cache.Cache
	sec    config.SecurityConfig
	quests *quest.Service
	hooks  *hook.HookCenter
	audit  *audit.Service
	logger *zap.Logger
}

// NewAuthHandler creates a new AuthHandler. quests, hooks and aud may be nil.
func NewAuthHandler(db *gorm.DB, c cache.Cache, sec config.SecurityConfig,
	quests *quest.Service, hooks *hook.HookCenter, aud *audit.Service, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{db: db, cache: c, sec: sec, quests: quests, hooks: hooks, audit: aud, logger: logger}
}

type loginRequest struct {
	Username string `json:"username" binding:"required,min=2,max=32"`
	Password string `json:"password" binding:"required,min=4,max=64"`
	Email    string `json:"email" binding:"omitempty,email,max=128"`
}

func (h *AuthHandler) bcryptCost() int {
	if h.sec.BcryptCost >= bcrypt.MinCost && h.sec.BcryptCost <= bcrypt.MaxCost {
		return h.sec.BcryptCost
	}
	return bcrypt.DefaultCost
}

// Login handles POST /api/auth/login.
// Auto-registers on first login if the username does not exist.
func (h *AuthHandler) Login(c *gin.Context) {
	started := time.Now()
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var acc model.Account
	created := false
	err := h.db.Where("username = ?", req.Username).First(&acc).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), h.bcryptCost())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		acc = model.Account{
			Username:     req.Username,
			PasswordHash: string(hash),
			Email:        req.Email,
			Status:       model.AccountActive,
		}
		if createErr := h.db.Create(&acc).Error; createErr != nil {
			// Unique constraint violation: another request registered the same name.
			if isUniqueViolation(createErr) {
				c.JSON(http.StatusConflict, gin.H{"error": "username already taken"})
			} else {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
			}
			return
		}
		created = true
	} else if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	} else {
		if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(req.Password)); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		if acc.Banned() {
			c.JSON(http.StatusForbidden, gin.H{"error": "account banned"})
			return
		}
		if req.Email != "" && req.Email != acc.Email {
			acc.Email = req.Email
			_ = h.db.Model(&acc).Update("email", acc.Email).Error
		}
	}

	token, err := mw.GenerateToken(acc.ID, acc.Email, h.sec.JWTSecret, h.sec.JWTTTLH)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.storeSession(ctx, acc.ID, token); err != nil {
		h.logger.Error("store session failed", zap.Int64("user_id", acc.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session error"})
		return
	}

	// Update last login (best-effort).
	now := time.Now()
	ip := c.ClientIP()
	_ = h.db.Model(&acc).Updates(map[string]any{
		"last_login_at": now,
		"last_login_ip": ip,
	})

	if h.quests != nil && acc.Email != "" {
		if err := h.quests.SyncEmail(c.Request.Context(), acc.ID, acc.Email); err != nil {
			h.logger.Warn("profile email sync failed", zap.Int64("user_id", acc.ID), zap.Error(err))
		}
	}
	if h.hooks != nil {
		_, _ = h.hooks.Trigger(c.Request.Context(), hook.OnUserLogin, hook.UserLogin{
			UserID: acc.ID, Email: acc.Email, IP: ip, New: created,
		})
	}
	if h.audit != nil {
		uid := acc.ID
		h.audit.Log(audit.AuditEntry{
			TraceID:    mw.GetTraceID(c),
			UserID:     &uid,
			Action:     audit.ActionLogin,
			Request:    map[string]any{"username": req.Username, "registered": created},
			IP:         ip,
			DurationMs: int(time.Since(started).Milliseconds()),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"user_id":    acc.ID,
		"registered": created,
	})
}

func (h *AuthHandler) storeSession(ctx context.Context, userID int64, token string) error {
	if err := h.cache.Set(ctx, mw.SessionKey(token), strconv.FormatInt(userID, 10), h.sec.JWTTTLH); err != nil {
		return err
	}
	return h.cache.SAdd(ctx, mw.UserSessionsKey(userID), token)
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	tokenStr := mw.GetToken(c)
	if tokenStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing token"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	_ = h.cache.Del(ctx, mw.SessionKey(tokenStr))
	_ = h.cache.SRem(ctx, mw.UserSessionsKey(mw.GetUserID(c)), tokenStr)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Refresh handles POST /api/auth/refresh.
func (h *AuthHandler) Refresh(c *gin.Context) {
	userID := mw.GetUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var acc model.Account
	if err := h.db.Select("id, email, status").First(&acc, userID).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if acc.Banned() {
		c.JSON(http.StatusForbidden, gin.H{"error": "account banned"})
		return
	}

	// Invalidate old token
	oldToken := mw.GetToken(c)
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	_ = h.cache.Del(ctx, mw.SessionKey(oldToken))
	_ = h.cache.SRem(ctx, mw.UserSessionsKey(userID), oldToken)

	newToken, err := mw.GenerateToken(userID, acc.Email, h.sec.JWTSecret, h.sec.JWTTTLH)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}
	if err := h.storeSession(ctx, userID, newToken); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": newToken})
}

// RevokeSessions deletes every live token of a user.
func RevokeSessions(ctx context.Context, c cache.Cache, userID int64) (int, error) {
	key := mw.UserSessionsKey(userID)
	tokens, err := c.SMembers(ctx, key)
	if err != nil {
		return 0, err
	}
	keys := make([]string, 0, len(tokens)+1)
	for _, t := range tokens {
		keys = append(keys, mw.SessionKey(t))
	}
	keys = append(keys, key)
	return len(tokens), c.Del(ctx, keys...)
}

// isUniqueViolation detects duplicate-key errors from common database drivers.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") ||
		strings.Contains(msg, "duplicate") ||
		strings.Contains(msg, "already exists")
}
