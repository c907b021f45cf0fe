package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/krs-enrollment-api/internal/repository"
	"github.com/noah-isme/krs-enrollment-api/internal/service"
	"github.com/noah-isme/krs-enrollment-api/pkg/config"
	"github.com/noah-isme/krs-enrollment-api/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestJWTSetsStudentIdentity(t *testing.T) {
	tokens := service.NewTokenService("secret")
	router := gin.New()
	router.GET("/me", JWT(tokens), func(c *gin.Context) {
		claims, ok := Claims(c)
		require.True(t, ok)
		c.String(http.StatusOK, claims.StudentID()+"|"+c.GetString(logger.StudentIDKey))
	})

	token, err := tokens.IssueToken("S42", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "S42|S42", rec.Body.String())
}

func TestJWTRejectsMissingOrMalformedTokens(t *testing.T) {
	tokens := service.NewTokenService("secret")
	router := gin.New()
	router.GET("/me", JWT(tokens), func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, header := range []string{"", "Token abc", "Bearer not-a-jwt"} {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)

		var body struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "UNAUTHORIZED", body.Error.Code)
	}
}

func TestRateLimitRejectsAfterLimit(t *testing.T) {
	now := time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)
	store := repository.NewMemoryCounterStore(func() time.Time { return now })
	limiter := service.NewRateLimiter(store, config.RateLimitConfig{
		Rules: map[string]config.RateRule{service.RateCategoryEnroll: {Limit: 2, Window: 30 * time.Second}},
	}, nil, nil)

	router := gin.New()
	router.POST("/enrollments", RateLimit(limiter, service.RateCategoryEnroll), func(c *gin.Context) { c.Status(http.StatusCreated) })

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/enrollments", nil)
		req.RemoteAddr = "192.0.2.10:5000"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	first := send()
	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, "2", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, http.StatusCreated, send().Code)

	now = now.Add(10500 * time.Millisecond)
	limited := send()
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "20", limited.Header().Get("Retry-After"))
	assert.Equal(t, "0", limited.Header().Get("X-RateLimit-Remaining"))
	assert.Contains(t, limited.Body.String(), "RATE_LIMITED")

	now = now.Add(20 * time.Second)
	assert.Equal(t, http.StatusCreated, send().Code)
}

func TestMetricsRecordsRoutePattern(t *testing.T) {
	metrics := service.NewMetricsService()
	router := gin.New()
	router.Use(Metrics(metrics))
	router.GET("/sections/:id/roster", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sections/C101-01/roster", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	scrape := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(scrape, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, scrape.Body.String(), `path="/sections/:id/roster"`)
}
