package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/liliang-cn/groundchat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(handlers...)
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"pong": CorrelationID(c)})
	})
	return r
}

func get(r http.Handler, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	for k, v := range header {
		req.Header[http.CanonicalHeaderKey(k)] = v
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequestLoggerAssignsCorrelationID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := newEngine(RequestLogger(zap.New(core)))

	w := get(r, nil)
	require.Equal(t, http.StatusOK, w.Code)

	id := w.Header().Get(HeaderCorrelationID)
	assert.Len(t, id, 36)
	assert.Contains(t, w.Body.String(), id)
	assert.NotEmpty(t, w.Header().Get(HeaderProcessingTime))

	entries := logs.FilterMessage("request completed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, id, fields["correlation_id"])
	assert.Equal(t, int64(http.StatusOK), fields["status"])
}

func TestRequestLoggerKeepsCallerCorrelationID(t *testing.T) {
	r := newEngine(RequestLogger(zap.NewNop()))

	w := get(r, http.Header{HeaderCorrelationID: {"abc-123"}})
	assert.Equal(t, "abc-123", w.Header().Get(HeaderCorrelationID))
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantLevel  string
	}{
		{
			name:       "validation",
			err:        domain.NewValidationError(domain.CodeEmptyMessage, nil),
			wantStatus: http.StatusBadRequest,
			wantCode:   domain.CodeEmptyMessage,
			wantLevel:  "debug",
		},
		{
			name:       "agent unavailable",
			err:        domain.NewAgentError(errors.New("upstream 500")),
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   domain.CodeAgentUnavailable,
			wantLevel:  "warn",
		},
		{
			name:       "unclassified",
			err:        errors.New("nil pointer somewhere"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   domain.CodeInternal,
			wantLevel:  "error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zap.DebugLevel)
			r := gin.New()
			r.Use(RequestLogger(zap.New(core)))
			r.GET("/ping", func(c *gin.Context) { WriteError(c, tt.err) })

			w := get(r, nil)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), `"code":"`+tt.wantCode+`"`)
			assert.NotContains(t, w.Body.String(), "nil pointer")

			var levels []string
			for _, e := range logs.All() {
				if e.Message != "request started" && e.Message != "request completed" {
					levels = append(levels, e.Level.String())
				}
			}
			assert.Equal(t, []string{tt.wantLevel}, levels)
		})
	}
}

func TestRateLimit(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	r := newEngine(RateLimit(rl))

	assert.Equal(t, http.StatusOK, get(r, nil).Code)
	assert.Equal(t, http.StatusOK, get(r, nil).Code)

	w := get(r, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), domain.CodeRateLimited)
	assert.Contains(t, w.Body.String(), `"retry_after_seconds":60`)

	now = now.Add(2 * time.Minute)
	assert.Equal(t, http.StatusOK, get(r, nil).Code)
}

func TestRateLimiterIsPerClient(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	assert.Zero(t, rl.Reserve("10.0.0.1"))
	assert.Positive(t, rl.Reserve("10.0.0.1"))
	assert.Zero(t, rl.Reserve("10.0.0.2"))
}

func TestRateLimiterPrune(t *testing.T) {
	rl := NewRateLimiter(10, 0)
	now := time.Now()
	rl.now = func() time.Time { return now }
	rl.Reserve("a")

	now = now.Add(5 * time.Minute)
	rl.Reserve("b")
	now = now.Add(6 * time.Minute)

	assert.Equal(t, 1, rl.Prune())
	assert.Len(t, rl.limiters, 1)
}

func TestAuth(t *testing.T) {
	r := newEngine(Auth("secret"))

	assert.Equal(t, http.StatusUnauthorized, get(r, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, http.Header{"X-Api-Key": {"wrong"}}).Code)
	assert.Equal(t, http.StatusOK, get(r, http.Header{"X-Api-Key": {"secret"}}).Code)
	assert.Equal(t, http.StatusOK, get(r, http.Header{"Authorization": {"Bearer secret"}}).Code)

	w := get(r, nil)
	assert.Contains(t, w.Body.String(), domain.CodeUnauthorized)
}

func TestCORS(t *testing.T) {
	r := newEngine(CORS([]string{"http://localhost:3000"}))

	w := get(r, http.Header{"Origin": {"http://localhost:3000"}})
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	w = get(r, http.Header{"Origin": {"http://evil.example"}})
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	req := httptest.NewRequest(http.MethodOptions, "/ping", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestCORSWildcardNeverAllowsCredentials(t *testing.T) {
	r := newEngine(CORS([]string{"*"}))

	w := get(r, http.Header{"Origin": {"https://evil.example"}})
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))

	r = newEngine(CORS([]string{"*", "http://localhost:3000"}))
	w = get(r, http.Header{"Origin": {"http://localhost:3000"}})
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestRecoveryLogsWithCorrelationID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := gin.New()
	r.Use(RequestLogger(zap.New(core)), Recovery())
	r.GET("/ping", func(c *gin.Context) { panic("boom") })

	w := get(r, http.Header{HeaderCorrelationID: {"corr-1"}})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "corr-1", w.Header().Get(HeaderCorrelationID))
	assert.Contains(t, w.Body.String(), `"code":"`+domain.CodeInternal+`"`)
	assert.NotContains(t, w.Body.String(), "boom")

	entries := logs.FilterMessage("panic recovered").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "corr-1", entries[0].ContextMap()["correlation_id"])
	assert.Equal(t, "boom", entries[0].ContextMap()["panic"])
}
