package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/studiowebux/perfhttp/internal/parser"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"token": "abc"}`)
	})
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer abc" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprintf(w, `{"customer": %q}`, r.URL.Query().Get("customer"))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

const ordersScenario = `
name: orders
vars:
  customer: default
requests:
  - name: 010_Login
    method: POST
    url: "{{baseUrl}}/login"
    extract:
      token: token
  - name: 020_Orders
    url: "{{baseUrl}}/orders"
    params:
      customer: "{{customer}}"
    headers:
      Authorization: Bearer {{token}}
    checks:
      - target: body
        kind: CONTAINS
        value: "{{customer}}"
    sla:
      max: 5s
`

func TestRun_StoresAndReports(t *testing.T) {
	server := newTestAPI(t)
	dir := t.TempDir()
	file := writeFile(t, dir, "orders.yaml", ordersScenario)
	settings := writeFile(t, dir, "settings.yaml", "log:\n  level: error\n")
	db := filepath.Join(dir, "metrics.db")

	var stdout, stderr bytes.Buffer
	err := Run(context.Background(), RunOptions{
		FilePath:     strings.TrimSuffix(file, ".yaml"),
		Workers:      3,
		ExtraVars:    []string{"baseUrl=" + server.URL, "customer=acme"},
		SettingsPath: settings,
		Database:     db,
		OutputFormat: "json",
		Stdout:       &stdout,
		Stderr:       &stderr,
	})
	if err != nil {
		t.Fatalf("Run failed: %v\n%s", err, stderr.String())
	}

	var report Report
	if err := json.Unmarshal(stdout.Bytes(), &report); err != nil {
		t.Fatalf("Expected JSON report, got: %v\n%s", err, stdout.String())
	}
	if report.Name != "orders" || report.Sent != 6 || report.Succeeded != 6 || report.RunID == "" {
		t.Errorf("Unexpected report: %+v", report)
	}
	if len(report.Metrics) != 2 || report.Metrics[1].Name != "020_Orders" || report.Metrics[1].Count != 3 {
		t.Fatalf("Unexpected metrics: %+v", report.Metrics)
	}
	if report.Metrics[1].SLAMet == nil || !*report.Metrics[1].SLAMet {
		t.Errorf("Expected SLA to be met, got: %+v", report.Metrics[1])
	}
	if strings.Count(stderr.String(), "[vu ") != 6 {
		t.Errorf("Expected 6 progress lines, got:\n%s", stderr.String())
	}

	var listing bytes.Buffer
	if err := ShowStats(StatsOptions{Database: db, Stdout: &listing}); err != nil {
		t.Fatalf("ShowStats failed: %v", err)
	}
	if !strings.Contains(listing.String(), "orders") || !strings.Contains(listing.String(), "completed") {
		t.Errorf("Expected the run to be listed, got:\n%s", listing.String())
	}

	var detail bytes.Buffer
	if err := ShowStats(StatsOptions{Database: db, RunID: 1, OutputFormat: "yaml", Stdout: &detail}); err != nil {
		t.Fatalf("ShowStats failed: %v", err)
	}
	if !strings.Contains(detail.String(), "020_Orders") || !strings.Contains(detail.String(), "sent: 6") {
		t.Errorf("Unexpected run detail:\n%s", detail.String())
	}
}

func TestRun_FailedChecksReturnError(t *testing.T) {
	server := newTestAPI(t)
	dir := t.TempDir()
	file := writeFile(t, dir, "orders.yaml", ordersScenario)
	settings := writeFile(t, dir, "settings.yaml", "log:\n  level: error\n")

	var stdout bytes.Buffer
	err := Run(context.Background(), RunOptions{
		FilePath: file,
		// The orders check looks for "nobody" in a body that says "acme"
		ExtraVars:    []string{"baseUrl=" + server.URL, "customer=acme"},
		SettingsPath: settings,
		NoStore:      true,
		Quiet:        true,
		Stdout:       &stdout,
		Stderr:       io.Discard,
	})
	if err != nil {
		t.Fatalf("Expected success, got: %v", err)
	}

	broken := strings.Replace(ordersScenario, `value: "{{customer}}"`, `value: nobody`, 1)
	file = writeFile(t, dir, "broken.yaml", broken)
	stdout.Reset()
	err = Run(context.Background(), RunOptions{
		FilePath:     file,
		ExtraVars:    []string{"baseUrl=" + server.URL},
		SettingsPath: settings,
		NoStore:      true,
		Quiet:        true,
		Stdout:       &stdout,
		Stderr:       io.Discard,
	})
	if !errors.Is(err, ErrRunFailed) {
		t.Fatalf("Expected ErrRunFailed, got: %v", err)
	}
	if !strings.Contains(stdout.String(), "1/2 requests succeeded") {
		t.Errorf("Unexpected text report:\n%s", stdout.String())
	}
	if !strings.Contains(stdout.String(), "HTTP response check failed") {
		t.Errorf("Expected the check failure in the report:\n%s", stdout.String())
	}
}

func TestRun_MissingVariablesNonInteractive(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "orders.yaml", ordersScenario)
	settings := writeFile(t, dir, "settings.yaml", "log:\n  level: error\n")

	err := Run(context.Background(), RunOptions{
		FilePath:     file,
		SettingsPath: settings,
		NoStore:      true,
		Stdin:        strings.NewReader(""),
		Stdout:       io.Discard,
		Stderr:       io.Discard,
	})
	if err == nil || !strings.Contains(err.Error(), "baseUrl") {
		t.Errorf("Expected missing baseUrl error, got: %v", err)
	}
	if strings.Contains(fmt.Sprint(err), "token") {
		t.Errorf("Extracted variables must not be reported missing: %v", err)
	}
}

func TestMissingVariables(t *testing.T) {
	file, err := parser.Parse([]byte(ordersScenario), "yaml")
	if err != nil {
		t.Fatal(err)
	}
	file.Requests[0].Headers = map[string]string{"X-Home": "{{env.HOME_DIR}}"}

	missing := missingVariables(file, map[string]string{}, map[string]string{})
	if len(missing) != 2 || missing[0] != "baseUrl" || missing[1] != "env.HOME_DIR" {
		t.Errorf("Expected [baseUrl env.HOME_DIR], got: %v", missing)
	}

	missing = missingVariables(file, map[string]string{"baseUrl": "x"}, map[string]string{"HOME_DIR": "/h"})
	if len(missing) != 0 {
		t.Errorf("Expected nothing missing, got: %v", missing)
	}
}

func TestParseExtraVars(t *testing.T) {
	vars := parseExtraVars([]string{"a=1", "b=x=y", "flag", ""})
	if vars["a"] != "1" || vars["b"] != "x=y" || len(vars) != 3 {
		t.Errorf("Unexpected vars: %v", vars)
	}
	if v, ok := vars["flag"]; !ok || v != "" {
		t.Error("Expected bare key to set an empty value")
	}
}

func TestResolveFilePath(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "login.http", "### x\nGET http://x\n")

	got, err := resolveFilePath("login", dir)
	if err != nil || got != filepath.Join(dir, "login.http") {
		t.Errorf("Expected workdir match, got: %s (%v)", got, err)
	}
	if _, err := resolveFilePath(filepath.Join(dir, "nope"), dir); err == nil {
		t.Error("Expected error for a missing file")
	}
}

func TestResolvePAC(t *testing.T) {
	dir := t.TempDir()
	pac := writeFile(t, dir, "corp.pac", `function FindProxyForURL(url, host) {
  if (shExpMatch(host, "*.internal")) return "DIRECT";
  return "PROXY dead.proxy:8080; PROXY live.proxy:3128; DIRECT";
}`)

	lookup := func(ctx context.Context, host string) error {
		if host == "dead.proxy" {
			return errors.New("no such host")
		}
		return nil
	}

	var out bytes.Buffer
	err := ResolvePAC(context.Background(), PACOptions{
		Source: pac,
		URLs:   []string{"http://api.internal/x", "https://example.com/"},
		Lookup: lookup,
		Logger: zerolog.Nop(),
		Stdout: &out,
	})
	if err != nil {
		t.Fatalf("ResolvePAC failed: %v", err)
	}

	want := []string{
		"http://api.internal/x\n  candidates: DIRECT\n  selected:   DIRECT",
		"https://example.com/\n  candidates: PROXY dead.proxy:8080; PROXY live.proxy:3128; DIRECT\n  selected:   PROXY live.proxy:3128",
	}
	for _, w := range want {
		if !strings.Contains(out.String(), w) {
			t.Errorf("Expected output to contain %q, got:\n%s", w, out.String())
		}
	}
}

func TestResolvePAC_InvalidScript(t *testing.T) {
	pac := writeFile(t, t.TempDir(), "bad.pac", "var nothing = 1;")
	err := ResolvePAC(context.Background(), PACOptions{
		Source: pac,
		URLs:   []string{"http://example.com"},
		Logger: zerolog.Nop(),
		Stdout: io.Discard,
	})
	if err == nil {
		t.Error("Expected error for a script without FindProxyForURL")
	}
}

func TestServeMock(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "stub.yaml", "routes:\n  - method: GET\n    path: /health\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	if err := ServeMock(ctx, path, "127.0.0.1:0", zerolog.Nop(), &out); err != nil {
		t.Errorf("Expected clean shutdown, got: %v", err)
	}

	if err := ServeMock(ctx, filepath.Join(dir, "missing.yaml"), "", zerolog.Nop(), &out); err == nil {
		t.Error("Expected error for missing config")
	}
}
