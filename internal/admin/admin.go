// Package admin serves the super-admin cache and data maintenance routes.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/PrateekKrishna/rank-sync/internal/domain"
)

const (
	SessionHeader = "X-Session-Id"
	SessionCookie = "session_id"

	// ClearAllConfirmation must be sent verbatim to wipe user data.
	ClearAllConfirmation = "delete all data"

	rateLimitPerMinute = 20
	rateLimitWindow    = time.Minute

	identityKey = "admin.identity"
)

// Authenticator resolves a session id to an identity.
type Authenticator func(ctx context.Context, sessionID string) (*domain.Identity, error)

// Counter counts requests per key inside a window.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) int64
}

// Caches is the named cache registry.
type Caches interface {
	Names() []string
	ClearNamed(ctx context.Context, name string) (bool, error)
}

// Coherence clears every cache after a wide data change.
type Coherence interface {
	ClearAll(ctx context.Context) map[string]bool
}

// DataStore wipes gamification data.
type DataStore interface {
	ClearAllUserData(ctx context.Context) (map[string]int64, error)
}

type API struct {
	auth      Authenticator
	policy    domain.AccessPolicy
	counter   Counter
	caches    Caches
	coherence Coherence
	data      DataStore
	logger    *slog.Logger
}

func New(auth Authenticator, policy domain.AccessPolicy, counter Counter, c Caches, coh Coherence, data DataStore, logger *slog.Logger) *API {
	return &API{
		auth:      auth,
		policy:    policy,
		counter:   counter,
		caches:    c,
		coherence: coh,
		data:      data,
		logger:    logger.With("component", "admin"),
	}
}

// Register mounts the admin routes under /admin/data.
func (a *API) Register(r gin.IRouter) {
	g := r.Group("/admin/data", a.rateLimiter(), a.requireSession())
	{
		g.GET("/check-access", a.checkAccessHandler())
		g.POST("/clear-cache", a.requireSuperAdmin(), a.clearCacheHandler())
		g.DELETE("/clear-all", a.requireSuperAdmin(), a.clearAllHandler())
	}
}

// --- Middleware ---

// rateLimiter fails open when the counter tier is degraded.
func (a *API) rateLimiter() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.counter == nil {
			c.Next()
			return
		}
		count := a.counter.Incr(c.Request.Context(), "admin:"+c.ClientIP(), rateLimitWindow)
		if count > rateLimitPerMinute {
			a.logger.Warn("admin rate limit exceeded", "ip", c.ClientIP(), "count", count)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too Many Requests"})
			return
		}
		c.Next()
	}
}

func (a *API) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		sid := sessionID(c)
		if sid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		id, err := a.auth(c.Request.Context(), sid)
		if err != nil || id == nil {
			if err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Info("admin session rejected", "error", err)
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired session"})
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

func (a *API) requireSuperAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := identity(c)
		if !a.policy.IsSuperAdmin(id) {
			a.logger.Warn("admin access denied", "user_id", id.UserID)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Super admin access required"})
			return
		}
		c.Next()
	}
}

func sessionID(c *gin.Context) string {
	if sid := strings.TrimSpace(c.GetHeader(SessionHeader)); sid != "" {
		return sid
	}
	sid, err := c.Cookie(SessionCookie)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(sid)
}

func identity(c *gin.Context) *domain.Identity {
	v, _ := c.Get(identityKey)
	id, _ := v.(*domain.Identity)
	if id == nil {
		return &domain.Identity{}
	}
	return id
}

// --- Handlers ---

func (a *API) checkAccessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"hasAccess": a.policy.IsSuperAdmin(identity(c))})
	}
}

type clearCacheRequest struct {
	Cache string `json:"cache"`
}

func (a *API) clearCacheHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req clearCacheRequest
		if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Cache) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "available": a.available()})
			return
		}
		name := strings.TrimSpace(req.Cache)
		ctx := c.Request.Context()
		by := identity(c).UserID

		if name == "all" {
			results := a.coherence.ClearAll(ctx)
			a.logger.Info("caches cleared", "cache", "all", "by", by)
			c.JSON(http.StatusOK, gin.H{"success": true, "cache": "all", "results": results})
			return
		}

		ok, err := a.caches.ClearNamed(ctx, name)
		if errors.Is(err, domain.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown cache: " + name, "available": a.available()})
			return
		}
		if err != nil {
			a.logger.Error("cache clear failed", "cache", name, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to clear cache"})
			return
		}
		a.logger.Info("cache cleared", "cache", name, "by", by, "ok", ok)
		c.JSON(http.StatusOK, gin.H{"success": ok, "cache": name})
	}
}

func (a *API) available() []string {
	return append([]string{"all"}, a.caches.Names()...)
}

type clearAllRequest struct {
	Confirmation string `json:"confirmation"`
}

func (a *API) clearAllHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req clearAllRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Confirmation != ClearAllConfirmation {
			c.JSON(http.StatusBadRequest, gin.H{"error": `Confirmation required: send {"confirmation": "` + ClearAllConfirmation + `"}`})
			return
		}
		ctx := c.Request.Context()
		by := identity(c).UserID

		counts, err := a.data.ClearAllUserData(ctx)
		if err != nil {
			a.logger.Error("clear all user data failed", "by", by, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to clear data"})
			return
		}
		caches := a.coherence.ClearAll(ctx)
		a.logger.Warn("all user data cleared", "by", by, "deleted", counts)
		c.JSON(http.StatusOK, gin.H{"success": true, "deleted": counts, "caches": caches})
	}
}
