package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/nuhaa333/chat-app/internal/service"
)

type fakeParser map[string]string

func (f fakeParser) ParseToken(tokenStr string) (string, error) {
	if id, ok := f[tokenStr]; ok {
		return id, nil
	}
	return "", service.ErrAuthenticationFailed
}

func newAuthRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", Auth(fakeParser{"good": "u-1"}), func(c *gin.Context) {
		fromCtx, _ := service.UserIDFromContext(c.Request.Context())
		id, _ := UserID(c)
		c.JSON(http.StatusOK, gin.H{"gin": id, "ctx": fromCtx})
	})
	return r
}

func TestAuth(t *testing.T) {
	cases := []struct {
		name   string
		header string
		query  string
		status int
	}{
		{"bearer header", "Bearer good", "", http.StatusOK},
		{"query token for websocket", "", "good", http.StatusOK},
		{"missing", "", "", http.StatusUnauthorized},
		{"malformed", "Token good", "", http.StatusUnauthorized},
		{"invalid", "Bearer bad", "", http.StatusUnauthorized},
	}
	r := newAuthRouter()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			url := "/me"
			if tc.query != "" {
				url += "?token=" + tc.query
			}
			req := httptest.NewRequest(http.MethodGet, url, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tc.status, w.Code)
			if tc.status == http.StatusOK {
				assert.JSONEq(t, `{"gin":"u-1","ctx":"u-1"}`, w.Body.String())
			}
		})
	}
}

type countingLimiter struct {
	counts map[string]int
	err    error
}

func (l *countingLimiter) Allow(_ context.Context, subject string, limit int, _ time.Duration) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	l.counts[subject]++
	return l.counts[subject] <= limit, nil
}

func TestRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := &countingLimiter{counts: map[string]int{}}
	r := gin.New()
	r.GET("/ping", RateLimit(limiter, 2, time.Second), func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
}

func TestRateLimit_RetryAfterRoundsUp(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		window time.Duration
		want   string
	}{
		{500 * time.Millisecond, "1"},
		{time.Second, "1"},
		{1500 * time.Millisecond, "2"},
		{time.Minute, "60"},
	}
	for _, tc := range cases {
		t.Run(tc.window.String(), func(t *testing.T) {
			r := gin.New()
			r.GET("/ping", RateLimit(&countingLimiter{counts: map[string]int{}}, 1, tc.window), func(c *gin.Context) { c.Status(http.StatusOK) })

			var w *httptest.ResponseRecorder
			for i := 0; i < 2; i++ {
				w = httptest.NewRecorder()
				r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
			}

			assert.Equal(t, http.StatusTooManyRequests, w.Code)
			assert.Equal(t, tc.want, w.Header().Get("Retry-After"))
		})
	}
}

func TestRateLimit_FailsOpen(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ping", RateLimit(&countingLimiter{err: errors.New("redis down")}, 1, time.Second), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
