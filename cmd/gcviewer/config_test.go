package main

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MichaelMauderer/Gazer/appconfig"
)

func TestBrowseURL(t *testing.T) {
	tests := []struct {
		addr     string
		expected string
	}{
		{"127.0.0.1:8091", "http://127.0.0.1:8091/"},
		{":8091", "http://localhost:8091/"},
		{"0.0.0.0:80", "http://localhost:80/"},
		{"[::1]:9000", "http://[::1]:9000/"},
		{"viewer.local", "http://viewer.local/"},
	}
	for _, tt := range tests {
		if got := browseURL(tt.addr); got != tt.expected {
			t.Errorf("browseURL(%q) = %q; want %q", tt.addr, got, tt.expected)
		}
	}
}

func TestConfigHandler(t *testing.T) {
	original := appconfig.Get()
	defer appconfig.Set(original)

	path := filepath.Join(t.TempDir(), "config.json")
	if _, _, err := appconfig.LoadFrom(path); err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	h := configHandler(path)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/config", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"listenAddr"`) {
		t.Errorf("GET /config = %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/config", strings.NewReader(`{"interpolator": {"kind": "exponential"}}`)))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"changed":true`) {
		t.Errorf("POST /config = %d %s", rec.Code, rec.Body.String())
	}
	if appconfig.Get().Interpolator.Kind != "exponential" {
		t.Errorf("Interpolator.Kind = %q; want exponential", appconfig.Get().Interpolator.Kind)
	}
	if newInterpolator() == nil {
		t.Error("newInterpolator() returned nil")
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/config", strings.NewReader(`{"interpolator": {"kind": "warp"}}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("POST /config with unknown kind = %d; want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("DELETE", "/config", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("DELETE /config = %d; want 405", rec.Code)
	}
}
