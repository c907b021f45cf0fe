package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/krs-enrollment-api/internal/models"
	"github.com/noah-isme/krs-enrollment-api/internal/repository"
	"github.com/noah-isme/krs-enrollment-api/internal/service"
	"github.com/noah-isme/krs-enrollment-api/pkg/config"
)

type apiHarness struct {
	router *gin.Engine
	tokens *service.TokenService
}

func newAPIHarness(t *testing.T, rules map[string]config.RateRule) *apiHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := repository.NewMemoryStore()
	now := time.Now()
	require.NoError(t, repository.LoadFixture(store, repository.CatalogFixture{
		Courses: []models.Course{
			{ID: "C101", Code: "CS101", Title: "Intro to Programming", Credits: 3, Capacity: 1,
				Schedule: models.Schedule{{Day: models.Monday, Start: models.MustClock("09:00"), End: models.MustClock("10:30")}}},
		},
		Periods: []models.EnrollmentPeriod{
			{ID: "open", Name: "Regular", StartsAt: now.Add(-time.Hour), EndsAt: now.Add(time.Hour)},
		},
		Students: []models.StudentProfile{
			{StudentID: "S", Classification: "UNDERGRAD", Standing: models.StandingGood},
			{StudentID: "T", Classification: "UNDERGRAD", Standing: models.StandingGood},
		},
	}, nil))

	metrics := service.NewMetricsService()
	audit := service.NewAuditService(store, nil, metrics, zap.NewNop())
	eligibility := service.NewEligibilityValidator(service.EligibilityPolicy{})
	capacity := service.NewCapacityManager(store, store, eligibility, audit, metrics, service.CapacityConfig{}, nil)
	records := service.NewAcademicRecordService(store, store)
	gate := service.NewPeriodGate(store, nil)
	enrollments := service.NewEnrollmentService(store, store, records, gate, eligibility, capacity, metrics, nil, nil)
	carts := service.NewCartService(store, store, enrollments, records, eligibility, audit, 10, nil, nil)
	tokens := service.NewTokenService("test-secret")

	cfg := RouterConfig{
		APIPrefix:   "/api/v1",
		Metrics:     metrics,
		Tokens:      tokens,
		Enrollments: NewEnrollmentHandler(enrollments),
		Carts:       NewCartHandler(carts),
		Sections:    NewSectionHandler(enrollments),
		Probes:      NewMetricsHandler(metrics, nil),
	}
	if rules != nil {
		cfg.RateLimiter = service.NewRateLimiter(repository.NewMemoryCounterStore(nil), config.RateLimitConfig{Rules: rules}, metrics, nil)
	}
	return &apiHarness{router: NewRouter(cfg), tokens: tokens}
}

func (h *apiHarness) do(t *testing.T, studentID, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if studentID != "" {
		token, err := h.tokens.IssueToken(studentID, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func dataOf(t *testing.T, rec *httptest.ResponseRecorder) interface{} {
	t.Helper()
	var envelope struct {
		Data interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope.Data
}

func TestRouterEnrollmentFlow(t *testing.T) {
	api := newAPIHarness(t, nil)

	rec := api.do(t, "S", http.MethodPost, "/api/v1/cart/items", map[string]string{"course_id": "C101"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = api.do(t, "S", http.MethodPost, "/api/v1/cart/checkout", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	outcomes := dataOf(t, rec).(map[string]interface{})["outcomes"].([]interface{})
	require.Len(t, outcomes, 1)
	assert.Equal(t, "ACTIVE", outcomes[0].(map[string]interface{})["status"])
	assert.Equal(t, "C101-01", outcomes[0].(map[string]interface{})["section_id"])

	rec = api.do(t, "T", http.MethodPost, "/api/v1/enrollments", map[string]string{"course_id": "C101"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "WAITLISTED", dataOf(t, rec).(map[string]interface{})["status"])

	rec = api.do(t, "S", http.MethodGet, "/api/v1/sections/C101-01/waitlist", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	waitlist := dataOf(t, rec).([]interface{})
	require.Len(t, waitlist, 1)
	assert.Equal(t, "T", waitlist[0].(map[string]interface{})["student_id"])

	rec = api.do(t, "S", http.MethodPost, "/api/v1/enrollments/drop", map[string]string{"course_id": "C101"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "T", dataOf(t, rec).(map[string]interface{})["promoted_student_id"])

	rec = api.do(t, "S", http.MethodGet, "/api/v1/sections/C101-01/roster", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	roster := dataOf(t, rec).([]interface{})
	require.Len(t, roster, 1)
	assert.Equal(t, "T", roster[0].(map[string]interface{})["student_id"])

	rec = api.do(t, "T", http.MethodGet, "/api/v1/enrollments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	mine := dataOf(t, rec).([]interface{})
	require.Len(t, mine, 1)
	assert.Equal(t, "ACTIVE", mine[0].(map[string]interface{})["status"])
}

func TestRouterRequiresToken(t *testing.T) {
	api := newAPIHarness(t, nil)
	rec := api.do(t, "", http.MethodGet, "/api/v1/cart", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(t, "", http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRouterRateLimitsSearch(t *testing.T) {
	api := newAPIHarness(t, map[string]config.RateRule{
		service.RateCategorySearch: {Limit: 2, Window: time.Minute},
	})

	for i := 0; i < 2; i++ {
		rec := api.do(t, "S", http.MethodGet, "/api/v1/enrollments", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := api.do(t, "S", http.MethodGet, "/api/v1/enrollments", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	rec = api.do(t, "S", http.MethodGet, "/api/v1/cart", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterThrottlesBeforeAuthentication(t *testing.T) {
	api := newAPIHarness(t, map[string]config.RateRule{
		service.RateCategoryEnroll: {Limit: 1, Window: time.Minute},
		service.RateCategoryCart:   {Limit: 1, Window: time.Minute},
	})
	body := map[string]string{"course_id": "C101"}

	rec := api.do(t, "", http.MethodPost, "/api/v1/enrollments", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = api.do(t, "", http.MethodPost, "/api/v1/enrollments", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	rec = api.do(t, "S", http.MethodPost, "/api/v1/enrollments", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = api.do(t, "", http.MethodGet, "/api/v1/cart", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = api.do(t, "", http.MethodGet, "/api/v1/cart", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
