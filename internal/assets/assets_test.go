// ABOUTME: Tests for the embedded chat client handlers
// ABOUTME: Covers cache headers, content types, and the index page

package assets

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainsHash(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"js/app.a1b2c3d4.js", true},
		{"style.CU4W1PlC.css", true},
		{"index.html", false},
		{"app.js", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, containsHash(tt.path), tt.path)
	}
}

func TestMimeFromExt(t *testing.T) {
	tests := []struct {
		ext  string
		want string
	}{
		{".js", "application/javascript"},
		{".css", "text/css; charset=utf-8"},
		{".html", "text/html; charset=utf-8"},
		{".svg", "image/svg+xml"},
		{".qqqqqq", "application/octet-stream"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mimeFromExt(tt.ext), tt.ext)
	}
}

func TestIndex(t *testing.T) {
	rec := httptest.NewRecorder()
	Index(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Contains(t, rec.Body.String(), `src="/static/app.js"`)
}

func TestFileServer(t *testing.T) {
	h := http.StripPrefix("/static/", FileServer())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/static/app.js", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/javascript", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Contains(t, rec.Body.String(), "/api/send")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/static/missing.js", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
