package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-assessment/internal/config"
	"github.com/stemsi/exstem-assessment/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newAuth() *service.AuthService {
	return service.NewAuthService(&config.Config{JWTSecret: "test-secret", JWTExpiry: time.Hour, BcryptCost: 4})
}

func TestRequireTokenTypes(t *testing.T) {
	auth := newAuth()
	studentToken, err := auth.GenerateStudentToken(42)
	require.NoError(t, err)
	instructorToken, err := auth.GenerateInstructorToken(7)
	require.NoError(t, err)

	r := gin.New()
	r.GET("/student", RequireStudentJWT(auth), func(c *gin.Context) {
		c.String(http.StatusOK, "%d", GetClaims(c).UserID)
	})
	r.GET("/instructor", RequireInstructorJWT(auth), func(c *gin.Context) {
		c.String(http.StatusOK, "%d", GetClaims(c).UserID)
	})
	r.GET("/ws", RequireStudentWSAuth(auth), func(c *gin.Context) {
		c.String(http.StatusOK, "%d", GetClaims(c).UserID)
	})

	tests := []struct {
		name     string
		path     string
		header   string
		query    string
		wantCode int
		wantBody string
	}{
		{name: "student header", path: "/student", header: "Bearer " + studentToken, wantCode: http.StatusOK, wantBody: "42"},
		{name: "student query fallback", path: "/student", query: studentToken, wantCode: http.StatusOK, wantBody: "42"},
		{name: "instructor on student route", path: "/student", header: "Bearer " + instructorToken, wantCode: http.StatusForbidden, wantBody: "STUDENT_ACCESS_ONLY"},
		{name: "instructor header", path: "/instructor", header: "bearer " + instructorToken, wantCode: http.StatusOK, wantBody: "7"},
		{name: "student on instructor route", path: "/instructor", header: "Bearer " + studentToken, wantCode: http.StatusForbidden, wantBody: "INSTRUCTOR_ACCESS_ONLY"},
		{name: "missing token", path: "/student", wantCode: http.StatusUnauthorized, wantBody: "TOKEN_REQUIRED"},
		{name: "garbage token", path: "/instructor", header: "Bearer nope", wantCode: http.StatusUnauthorized, wantBody: "TOKEN_INVALID"},
		{name: "ws query", path: "/ws", query: studentToken, wantCode: http.StatusOK, wantBody: "42"},
		{name: "ws ignores header", path: "/ws", header: "Bearer " + studentToken, wantCode: http.StatusUnauthorized, wantBody: "TOKEN_REQUIRED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := tt.path
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}

func TestStudentRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	auth := newAuth()
	token, err := auth.GenerateStudentToken(42)
	require.NoError(t, err)

	r := gin.New()
	r.POST("/answers", RequireStudentJWT(auth), StudentRateLimit(rdb, 2, zerolog.Nop()), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/answers", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusNoContent, send())
	assert.Equal(t, http.StatusNoContent, send())
	assert.Equal(t, http.StatusTooManyRequests, send())

	mr.Close()
	assert.Equal(t, http.StatusNoContent, send(), "requests pass when Redis is down")
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour)
	r := gin.New()
	r.POST("/login", rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 2)
	for i := range codes {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/login", nil))
		codes[i] = w.Code
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestBrotli(t *testing.T) {
	large := strings.Repeat("question text ", 200)

	r := gin.New()
	r.Use(BrotliWithConfig(BrotliConfig{MinLength: 256}))
	r.GET("/large", func(c *gin.Context) { c.String(http.StatusOK, large) })
	r.GET("/small", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	tests := []struct {
		name           string
		path           string
		acceptEncoding string
		wantEncoding   string
		wantBody       string
	}{
		{name: "large body is compressed", path: "/large", acceptEncoding: "gzip, br;q=0.9", wantEncoding: "br", wantBody: large},
		{name: "small body passes through", path: "/small", acceptEncoding: "br", wantBody: "ok"},
		{name: "client without br", path: "/large", acceptEncoding: "gzip", wantBody: large},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.Header.Set("Accept-Encoding", tt.acceptEncoding)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantEncoding, w.Header().Get("Content-Encoding"))
			body := w.Body.Bytes()
			if tt.wantEncoding == "br" {
				var err error
				body, err = io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantBody, string(body))
		})
	}
}

func TestNoStore(t *testing.T) {
	r := gin.New()
	r.GET("/x", NoStore(), func(c *gin.Context) { c.Status(http.StatusOK) })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

func TestCacheControlOverridesNoStore(t *testing.T) {
	r := gin.New()
	g := r.Group("/", NoStore())
	g.GET("/def", CacheControl(60), func(c *gin.Context) { c.Status(http.StatusOK) })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/def", nil))
	assert.Equal(t, "private, max-age=60", w.Header().Get("Cache-Control"))
}
