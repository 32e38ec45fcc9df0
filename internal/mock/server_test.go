package mock

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadConfig_YAML(t *testing.T) {
	path := writeConfig(t, "stub.yaml", `
addr: 127.0.0.1:9999
routes:
  - name: items
    method: GET
    path: /api/items
    status: 200
    delay: 5ms
    delayMax: 20ms
    body: '{"items":[1,2]}'
  - method: GET
    path: ^/api/items/\d+$
    pathType: regex
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Addr != "127.0.0.1:9999" || len(cfg.Routes) != 2 {
		t.Fatalf("Unexpected config: %+v", cfg)
	}
	if cfg.Routes[0].Delay != 5*time.Millisecond || cfg.Routes[0].DelayMax != 20*time.Millisecond {
		t.Errorf("Expected delays 5ms/20ms, got: %v/%v", cfg.Routes[0].Delay, cfg.Routes[0].DelayMax)
	}
	if cfg.Routes[1].Label() != "GET ^/api/items/\\d+$" {
		t.Errorf("Unexpected label: %s", cfg.Routes[1].Label())
	}
}

func TestLoadConfig_JSONCWithBodyFile(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "user.json"), []byte(`{"id":7}`), 0600)
	path := filepath.Join(dir, "stub.jsonc")
	os.WriteFile(path, []byte(`{
  // users
  "routes": [
    {"method": "GET", "path": "/users/7", "bodyFile": "user.json"},
  ]
}`), 0600)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if string(cfg.Routes[0].body) != `{"id":7}` {
		t.Errorf("Expected body file content, got: %s", cfg.Routes[0].body)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"no routes", "routes: []", "no routes"},
		{"no method", "routes:\n  - path: /x", "method is required"},
		{"bad path type", "routes:\n  - method: GET\n    path: /x\n    pathType: glob", "pathType"},
		{"bad regex", "routes:\n  - method: GET\n    path: '('\n    pathType: regex", "invalid path regex"},
		{"bad delay", "routes:\n  - method: GET\n    path: /x\n    delay: 2s\n    delayMax: 1s", "delayMax"},
		{"bad auth", "routes:\n  - method: GET\n    path: /x\n    basicAuth: nocolon", "user:password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, "stub.yaml", tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got: %v", tt.want, err)
			}
		})
	}

	if _, err := LoadConfig(writeConfig(t, "stub.toml", "")); err == nil {
		t.Error("Expected error for unsupported extension")
	}
}

func newTestServer(t *testing.T, routes ...Route) (*Server, *httptest.Server) {
	t.Helper()
	srv, err := NewServer(&Config{Routes: routes}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	srv.sleep = func(context.Context, time.Duration) {}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return srv, ts
}

func TestServer_MatchesInOrder(t *testing.T) {
	srv, ts := newTestServer(t,
		Route{Name: "exact", Method: "GET", Path: "/api/items", Body: "list", Headers: map[string]string{"Content-Type": "text/plain"}},
		Route{Name: "prefix", Method: "GET", Path: "/api/", PathType: PathPrefix, Status: 418},
		Route{Name: "any", Method: "*", Path: "/echo"},
	)

	resp, err := http.Get(ts.URL + "/api/items")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != 200 || string(body) != "list" {
		t.Errorf("Expected 200 list, got: %d %s", resp.StatusCode, body)
	}
	if resp.Header.Get("Content-Type") != "text/plain" {
		t.Errorf("Expected route header, got: %s", resp.Header.Get("Content-Type"))
	}

	resp, _ = http.Get(ts.URL + "/api/orders")
	resp.Body.Close()
	if resp.StatusCode != 418 {
		t.Errorf("Expected prefix route status 418, got: %d", resp.StatusCode)
	}

	resp, _ = http.Post(ts.URL+"/echo", "text/plain", strings.NewReader("x"))
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Errorf("Expected wildcard method to match, got: %d", resp.StatusCode)
	}

	resp, _ = http.Get(ts.URL + "/missing")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unmatched path, got: %d", resp.StatusCode)
	}

	hits := srv.Hits()
	if hits["exact"] != 1 || hits["prefix"] != 1 || hits["any"] != 1 || hits["none"] != 1 {
		t.Errorf("Unexpected hits: %v", hits)
	}
	records := srv.Records()
	if len(records) != 4 || records[0].Route != "exact" || records[0].BodySize != 4 {
		t.Errorf("Unexpected records: %+v", records)
	}

	srv.Reset()
	if len(srv.Records()) != 0 || len(srv.Hits()) != 0 {
		t.Error("Expected Reset to clear records and hits")
	}
}

func TestServer_BasicAuthAndCookies(t *testing.T) {
	_, ts := newTestServer(t, Route{
		Method:    "GET",
		Path:      "/secure",
		BasicAuth: "alice:s3cret",
		Cookies:   map[string]string{"session": "abc"},
	})

	resp, _ := http.Get(ts.URL + "/secure")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("Expected 401 without credentials, got: %d", resp.StatusCode)
	}
	if !strings.HasPrefix(resp.Header.Get("WWW-Authenticate"), "Basic") {
		t.Errorf("Expected Basic challenge, got: %q", resp.Header.Get("WWW-Authenticate"))
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/secure", nil)
	req.SetBasicAuth("alice", "s3cret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Errorf("Expected 200 with credentials, got: %d", resp.StatusCode)
	}
	if len(resp.Cookies()) != 1 || resp.Cookies()[0].Value != "abc" {
		t.Errorf("Expected session cookie, got: %v", resp.Cookies())
	}
}

func TestServer_Delay(t *testing.T) {
	route := Route{Method: "GET", Path: "/slow", Delay: 10 * time.Millisecond, DelayMax: 30 * time.Millisecond}
	srv, ts := newTestServer(t, route)

	var mu sync.Mutex
	var got []time.Duration
	srv.sleep = func(_ context.Context, d time.Duration) {
		mu.Lock()
		got = append(got, d)
		mu.Unlock()
	}

	for range 5 {
		resp, err := http.Get(ts.URL + "/slow")
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		resp.Body.Close()
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 5 {
		t.Fatalf("Expected 5 delays, got: %d", len(got))
	}
	for _, d := range got {
		if d < 10*time.Millisecond || d > 30*time.Millisecond {
			t.Errorf("Delay out of range: %v", d)
		}
	}
}

func TestServer_ListenAndServeStops(t *testing.T) {
	srv, err := NewServer(&Config{Routes: []Route{{Method: "GET", Path: "/"}}}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean shutdown, got: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ListenAndServe did not return after cancel")
	}
}
