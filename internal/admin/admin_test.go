package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PrateekKrishna/rank-sync/internal/cache"
	"github.com/PrateekKrishna/rank-sync/internal/caches"
	"github.com/PrateekKrishna/rank-sync/internal/domain"
)

type mockCoherence struct {
	ClearAllFunc func(ctx context.Context) map[string]bool
	calls        int
}

func (m *mockCoherence) ClearAll(ctx context.Context) map[string]bool {
	m.calls++
	if m.ClearAllFunc == nil {
		return map[string]bool{"leaderboard": true}
	}
	return m.ClearAllFunc(ctx)
}

type mockData struct {
	ClearAllUserDataFunc func(ctx context.Context) (map[string]int64, error)
	calls                int
}

func (m *mockData) ClearAllUserData(ctx context.Context) (map[string]int64, error) {
	m.calls++
	if m.ClearAllUserDataFunc == nil {
		return map[string]int64{"product_rankings": 3}, nil
	}
	return m.ClearAllUserDataFunc(ctx)
}

var identities = map[string]*domain.Identity{
	"super": {UserID: "u1", Email: "boss@example.com", Role: domain.RoleSuperAdmin},
	"email": {UserID: "u2", Email: "Owner@Example.com", Role: "user"},
	"staff": {UserID: "u3", Email: "staff@jerky.com", Role: domain.RoleEmployeeAdmin},
}

type harness struct {
	router    *gin.Engine
	set       *caches.Set
	coherence *mockCoherence
	data      *mockData
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	mem := cache.NewMemoryStore()
	h := &harness{
		set:       caches.New(mem, logger),
		coherence: &mockCoherence{},
		data:      &mockData{},
	}
	auth := func(_ context.Context, sid string) (*domain.Identity, error) {
		if id, ok := identities[sid]; ok {
			return id, nil
		}
		return nil, errors.New("session invalid or expired")
	}
	policy := domain.AccessPolicy{
		EmployeeDomain:   "@jerky.com",
		SuperAdminEmails: map[string]struct{}{"owner@example.com": {}},
	}
	h.router = gin.New()
	New(auth, policy, mem, h.set, h.coherence, h.data, logger).Register(h.router)
	return h
}

func (h *harness) do(method, path, session string, body any) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if session != "" {
		req.Header.Set(SessionHeader, session)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestCheckAccess(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		session string
		status  int
		access  bool
	}{
		{"super", http.StatusOK, true},
		{"email", http.StatusOK, true},
		{"staff", http.StatusOK, false},
		{"bogus", http.StatusUnauthorized, false},
		{"", http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		t.Run(tt.session, func(t *testing.T) {
			w := h.do(http.MethodGet, "/admin/data/check-access", tt.session, nil)
			require.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, tt.access, decode(t, w)["hasAccess"])
			}
		})
	}
}

func TestSessionFromCookie(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodGet, "/admin/data/check-access", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "super"})
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["hasAccess"])
}

func TestClearCache_Named(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.True(t, h.set.Leaderboard.Set(ctx, "all_time", 50, []domain.LeaderboardEntry{{Position: 1}}))
	require.True(t, h.set.HomeStats.Set(ctx, domain.HomeStats{}))

	w := h.do(http.MethodPost, "/admin/data/clear-cache", "super", gin.H{"cache": caches.NameLeaderboard})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["success"])

	_, ok := h.set.Leaderboard.Get(ctx, "all_time", 50)
	assert.False(t, ok)
	_, ok = h.set.HomeStats.Get(ctx)
	assert.True(t, ok, "other caches untouched")
	assert.Zero(t, h.coherence.calls)
}

func TestClearCache_All(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodPost, "/admin/data/clear-cache", "email", gin.H{"cache": "all"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, h.coherence.calls)
}

func TestClearCache_UnknownListsAvailable(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodPost, "/admin/data/clear-cache", "super", gin.H{"cache": "nope"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	available, ok := decode(t, w)["available"].([]any)
	require.True(t, ok)
	assert.Contains(t, available, "all")
	assert.Contains(t, available, caches.NameMetadata)
}

func TestClearCache_RequiresSuperAdmin(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodPost, "/admin/data/clear-cache", "staff", gin.H{"cache": "all"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Zero(t, h.coherence.calls)
}

func TestClearAll(t *testing.T) {
	t.Run("missing confirmation", func(t *testing.T) {
		h := newHarness(t)
		w := h.do(http.MethodDelete, "/admin/data/clear-all", "super", gin.H{"confirmation": "yes"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Zero(t, h.data.calls)
	})

	t.Run("confirmed", func(t *testing.T) {
		h := newHarness(t)
		w := h.do(http.MethodDelete, "/admin/data/clear-all", "super", gin.H{"confirmation": ClearAllConfirmation})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 1, h.data.calls)
		assert.Equal(t, 1, h.coherence.calls)
		deleted := decode(t, w)["deleted"].(map[string]any)
		assert.EqualValues(t, 3, deleted["product_rankings"])
	})

	t.Run("store failure keeps caches", func(t *testing.T) {
		h := newHarness(t)
		h.data.ClearAllUserDataFunc = func(context.Context) (map[string]int64, error) {
			return nil, errors.New("db down")
		}
		w := h.do(http.MethodDelete, "/admin/data/clear-all", "super", gin.H{"confirmation": ClearAllConfirmation})
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Zero(t, h.coherence.calls)
	})
}

func TestRateLimiter(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < rateLimitPerMinute; i++ {
		w := h.do(http.MethodGet, "/admin/data/check-access", "super", nil)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
	}
	w := h.do(http.MethodGet, "/admin/data/check-access", "super", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
