package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ayusman/poetrycam/internal/status"
)

func TestServer_Health(t *testing.T) {
	hub := status.NewHub()
	hub.Update(func(s *status.Status) {
		s.State = "countdown"
		s.Degraded = true
	})
	s := New(Config{Hub: hub})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %s", ct)
	}

	var response map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if response["status"] != "ok" || response["state"] != "countdown" || response["degraded"] != true {
		t.Errorf("response = %v", response)
	}
	if _, ok := response["uptime"]; !ok {
		t.Error("missing uptime")
	}
}

func TestServer_HealthMethods(t *testing.T) {
	s := New(Config{})
	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(method, "/api/health", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s /api/health = %d, want 405", method, rec.Code)
		}
	}
}

// Routes whose dependency is missing are not registered.
func TestServer_RoutesWithoutDeps(t *testing.T) {
	s := New(Config{})

	for _, path := range []string{"/api/status", "/api/trigger", "/api/mode", "/api/cycles", "/api/stream", "/api/events", "/"} {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", path, rec.Code)
		}
	}
}

func TestServer_StaticFiles(t *testing.T) {
	dir := t.TempDir()
	index := "<html><body>Poetry Camera</body></html>"
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte(index), 0o644); err != nil {
		t.Fatal(err)
	}
	css := "body { color: black; }"
	if err := os.WriteFile(filepath.Join(dir, "style.css"), []byte(css), 0o644); err != nil {
		t.Fatal(err)
	}

	s := New(Config{StaticDir: dir})

	tests := []struct {
		path     string
		wantCode int
		wantBody string
	}{
		{"/", http.StatusOK, index},
		{"/style.css", http.StatusOK, css},
		{"/missing.html", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantBody != "" && rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q", rec.Body.String())
			}
		})
	}
}
