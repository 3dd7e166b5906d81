package origin

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllowed(t *testing.T) {
	tests := []struct {
		name    string
		origin  string
		allowed []string
		want    bool
	}{
		{"no origin header", "", []string{"https://a.com"}, true},
		{"no allow-list", "https://evil.com", nil, true},
		{"exact match", "https://a.com", []string{"https://a.com"}, true},
		{"different host", "https://a.com", []string{"https://b.com"}, false},
		{"scheme mismatch", "http://a.com", []string{"https://a.com"}, false},
		{"scheme-less entry", "http://a.com", []string{"//a.com"}, true},
		{"bare host entry", "https://a.com:8443", []string{"a.com"}, true},
		{"explicit port mismatch", "https://a.com:8443", []string{"https://a.com"}, false},
		{"default https port", "https://a.com:443", []string{"https://a.com"}, true},
		{"port-only entry", "http://localhost:4000", []string{"//localhost:4000"}, true},
		{"host case-insensitive", "https://A.com", []string{"https://a.COM"}, true},
		{"second entry matches", "https://b.com", []string{"https://a.com", "https://b.com"}, true},
		{"garbage origin", "%zz", []string{"https://a.com"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Allowed(tt.origin, tt.allowed))
		})
	}
}

func TestCheckAllows(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/socket/websocket", nil)
	r.Header.Set("Origin", "https://a.com")
	w := httptest.NewRecorder()

	called := false
	ok := Check(w, r, []string{"https://a.com"}, Options{
		Forbidden: func(http.ResponseWriter, *http.Request) { called = true },
	})

	assert.True(t, ok)
	assert.False(t, called)
}

func TestCheckRejectsWithInjectedResponder(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/socket/websocket", nil)
	r.Header.Set("Origin", "https://a.com")
	w := httptest.NewRecorder()

	called := false
	ok := Check(w, r, []string{"https://b.com"}, Options{
		Forbidden: func(w http.ResponseWriter, _ *http.Request) {
			called = true
			w.WriteHeader(http.StatusTeapot)
		},
	})

	assert.False(t, ok)
	assert.True(t, called)
	assert.Equal(t, http.StatusTeapot, w.Code)
}

func TestCheckDefaultResponder(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/socket/websocket", nil)
	r.Header.Set("Origin", "https://a.com")
	w := httptest.NewRecorder()

	ok := Check(w, r, []string{"https://b.com"}, Options{})

	assert.False(t, ok)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.JSONEq(t, `{"error":"forbidden"}`, w.Body.String())
}
