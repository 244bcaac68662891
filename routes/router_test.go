package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/pagestats/config"
	"github.com/cppla/pagestats/metrics"
	"github.com/cppla/pagestats/models"
	"github.com/cppla/pagestats/store"
	"github.com/cppla/pagestats/utils"
)

const testSecret = "test-secret"

type envelope struct {
	Data    []models.PageStatistics `json:"data"`
	Code    int                     `json:"code"`
	Message string                  `json:"message"`
	Error   string                  `json:"error"`
}

func newTestRouter(t *testing.T, s store.Reader) http.Handler {
	t.Helper()
	registry := prometheus.NewRegistry()
	cfg := config.AppConfig{GinMode: "test", JWTSecret: testSecret, RateLimitPerMinute: 1000}
	return SetupRouter(cfg, Deps{Store: s, Metrics: metrics.NewMetrics(registry), Registry: registry})
}

func do(t *testing.T, h http.Handler, path string, userID int64) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if userID != 0 {
		token, err := utils.GenerateToken(testSecret, userID, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var env envelope
	if w.Header().Get("Content-Type") != "" && w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &env)
	}
	return w, env
}

func seed(t *testing.T) *store.MemoryStore {
	t.Helper()
	s := store.NewMemoryStore()
	ctx := context.Background()
	for _, rec := range []models.PageStatistics{
		{PageID: 1, OwnerID: 7, Name: "A", Counters: models.PageCounters{AmountOfPosts: 1, AmountOfLikes: 2, AmountOfFollowers: 5}},
		{PageID: 2, OwnerID: 7, Name: "B"},
		{PageID: 3, OwnerID: 8, Name: "C"},
	} {
		require.NoError(t, s.Put(ctx, rec))
	}
	return s
}

func TestListOwnedPages(t *testing.T) {
	h := newTestRouter(t, seed(t))

	w, env := do(t, h, "/pages/statistics/", 7)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 200, env.Code)
	assert.Equal(t, "Pages statistics data retrieved successfully", env.Message)
	require.Len(t, env.Data, 2)
	assert.Equal(t, int64(1), env.Data[0].PageID)
	assert.Equal(t, models.PageCounters{AmountOfPosts: 1, AmountOfLikes: 2, AmountOfFollowers: 5}, env.Data[0].Counters)
	assert.Equal(t, int64(2), env.Data[1].PageID)
}

func TestListEmpty(t *testing.T) {
	h := newTestRouter(t, seed(t))

	w, env := do(t, h, "/pages/statistics/", 99)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Empty list returned", env.Message)
	assert.JSONEq(t, `{"data": [], "code": 200, "message": "Empty list returned"}`, w.Body.String())
}

func TestGetOwnedPage(t *testing.T) {
	h := newTestRouter(t, seed(t))

	w, env := do(t, h, "/pages/statistics/1/", 7)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Page statistics data retrieved successfully", env.Message)
	require.Len(t, env.Data, 1)
	assert.Equal(t, "A", env.Data[0].Name)
	assert.Equal(t, int64(5), env.Data[0].Counters.AmountOfFollowers)
}

func TestGetPageNotFound(t *testing.T) {
	h := newTestRouter(t, seed(t))
	notFound := `{"error": "An error occurred.", "code": 404, "message": "Page statistics doesn't exist."}`

	for _, tc := range []struct {
		name string
		path string
	}{
		{"absent", "/pages/statistics/42/"},
		{"other owner", "/pages/statistics/3/"},
		{"not numeric", "/pages/statistics/abc/"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			w, _ := do(t, h, tc.path, 7)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.JSONEq(t, notFound, w.Body.String())
		})
	}
}

func TestAuthRequired(t *testing.T) {
	h := newTestRouter(t, seed(t))

	w, env := do(t, h, "/pages/statistics/", 0)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 401, env.Code)
	assert.Equal(t, "An error occurred.", env.Error)

	forged, err := utils.GenerateToken("other-secret", 7, time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/pages/statistics/1/", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newTestRouter(t, store.NewMemoryStore())

	w, env := do(t, h, "/health", 0)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", env.Message)
	assert.NotEmpty(t, w.Header().Get(utils.RequestIDHeader))

	do(t, h, "/pages/statistics/", 1)
	w, _ = do(t, h, "/metrics", 0)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `pagestats_http_requests_total{method="GET",path="/pages/statistics/",status="200"} 1`)
}

func TestUnknownRoute(t *testing.T) {
	h := newTestRouter(t, store.NewMemoryStore())
	w, env := do(t, h, "/api/v1/posts", 0)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 404, env.Code)
}
