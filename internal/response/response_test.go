package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRequestIDMiddleware(t *testing.T) {
	valid := uuid.NewString()
	tests := []struct {
		name   string
		header string
		keep   bool
	}{
		{"keeps valid uuid", valid, true},
		{"replaces forged id", "abc\nlevel=error", false},
		{"mints when absent", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(RequestIDMiddleware())
			r.GET("/x", func(c *gin.Context) { Success(c, http.StatusOK, gin.H{"ok": true}) })

			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if tt.header != "" {
				req.Header.Set("X-Request-ID", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			var res RawEnvelope
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
			got := w.Header().Get("X-Request-ID")
			assert.Equal(t, got, res.Metadata.RequestID)
			if tt.keep {
				assert.Equal(t, valid, got)
			} else {
				_, err := uuid.Parse(got)
				assert.NoError(t, err)
			}
		})
	}
}

func TestFailWithData(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)

	FailWithData(c, http.StatusConflict, ErrAttemptCompleted, gin.H{"attempt_id": "a1"})

	assert.Equal(t, http.StatusConflict, w.Code)
	var res RawEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.NotNil(t, res.Error)
	assert.Equal(t, ErrAttemptCompleted, res.Error.Code)
	assert.Equal(t, GetMessage(ErrAttemptCompleted), res.Error.Message)
	assert.JSONEq(t, `{"attempt_id":"a1"}`, string(res.Data))
	assert.NotEmpty(t, res.Metadata.RequestID)
}

func TestAbortFailStopsChain(t *testing.T) {
	r := gin.New()
	reached := false
	r.GET("/x",
		func(c *gin.Context) { AbortFail(c, http.StatusUnauthorized, ErrTokenRequired) },
		func(c *gin.Context) { reached = true },
	)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, reached)
}

func TestNewPagination(t *testing.T) {
	tests := []struct {
		name             string
		page, per, total int
		wantPages        int
	}{
		{"exact", 1, 10, 20, 2},
		{"remainder", 2, 10, 21, 3},
		{"empty", 1, 10, 0, 0},
		{"zero per page", 1, 0, 5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPagination(tt.page, tt.per, tt.total)
			assert.Equal(t, tt.wantPages, p.TotalPages)
			assert.Equal(t, tt.total, p.TotalItems)
		})
	}
}
