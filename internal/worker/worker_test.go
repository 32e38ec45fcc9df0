package worker

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"
)

func TestNew_Defaults(t *testing.T) {
	w := New()

	if w.ResponseTimeout() != DefaultResponseTimeout {
		t.Errorf("Expected default timeout %s, got: %s", DefaultResponseTimeout, w.ResponseTimeout())
	}
	if !w.TrustAllCertificates() {
		t.Error("Expected trust-all to default to true")
	}
	if w.PACSource() != "" {
		t.Errorf("Expected no PAC source, got: %q", w.PACSource())
	}
	if w.ID() == "" {
		t.Error("Expected a worker id")
	}
}

func TestSpawn_CopiesSettingsAtSpawnTime(t *testing.T) {
	parent := New()
	parent.SetResponseTimeout(5 * time.Second)
	parent.SetDebugLogOnFail(true)
	parent.AddLogDetail("user", "alice")

	child := parent.Spawn()

	if child.ResponseTimeout() != 5*time.Second {
		t.Errorf("Expected child to inherit 5s timeout, got: %s", child.ResponseTimeout())
	}
	if !child.DebugLogOnFail() {
		t.Error("Expected child to inherit debugLogOnFail")
	}
	if child.ID() == parent.ID() {
		t.Error("Expected child to get its own id")
	}

	parent.SetResponseTimeout(time.Second)
	parent.AddLogDetail("user", "bob")
	child.SetThrowOnFail(true)

	if child.ResponseTimeout() != 5*time.Second {
		t.Errorf("Expected child unaffected by parent change, got: %s", child.ResponseTimeout())
	}
	if child.LogDetails() != " [user=alice]" {
		t.Errorf("Expected child details ' [user=alice]', got: %q", child.LogDetails())
	}
	if parent.ThrowOnFail() {
		t.Error("Expected parent unaffected by child change")
	}
}

func TestSetPACSource_OnlyOnce(t *testing.T) {
	w := New()
	if err := w.SetPACSource("http://pac.local/proxy.pac"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := w.SetPACSource("http://pac.local/proxy.pac"); err != nil {
		t.Errorf("Expected same source to be accepted, got: %v", err)
	}
	if err := w.SetPACSource("http://other/proxy.pac"); !errors.Is(err, ErrPACSourceLocked) {
		t.Errorf("Expected ErrPACSourceLocked, got: %v", err)
	}
	if w.Proxies().Source() != "http://pac.local/proxy.pac" {
		t.Errorf("Expected resolver to use the worker source, got: %q", w.Proxies().Source())
	}
}

func TestSetPACSource_AfterResolverCreated(t *testing.T) {
	w := New()
	if w.Proxies().Enabled() {
		t.Fatal("Expected PAC to be disabled without a source")
	}

	if err := w.SetPACSource("proxy.pac"); err != nil {
		t.Fatalf("SetPACSource failed: %v", err)
	}
	if got := w.Proxies().Source(); got != "proxy.pac" {
		t.Errorf("Expected resolver for proxy.pac, got: %q", got)
	}
	if !w.Proxies().Enabled() {
		t.Error("Expected PAC to be enabled after setting a source")
	}

	first := w.Proxies()
	_ = w.SetPACSource("proxy.pac")
	if w.Proxies() != first {
		t.Error("Expected resolver to be kept when the source is unchanged")
	}
}

func TestSpawn_OwnResolverAndJar(t *testing.T) {
	parent := New()
	_ = parent.SetPACSource("/pac/corp.pac")
	child := parent.Spawn()

	if parent.Proxies() == child.Proxies() {
		t.Error("Expected child to own its resolver")
	}
	if child.Proxies().Source() != "/pac/corp.pac" {
		t.Errorf("Expected child PAC source to be inherited, got: %q", child.Proxies().Source())
	}

	u, _ := url.Parse("http://example.com/")
	parent.AddCookie(u, &http.Cookie{Name: "session", Value: "1"})

	if len(parent.Cookies(u)) != 1 {
		t.Errorf("Expected 1 cookie on parent, got: %d", len(parent.Cookies(u)))
	}
	if len(child.Cookies(u)) != 0 {
		t.Errorf("Expected child jar to be empty, got: %d", len(child.Cookies(u)))
	}

	parent.ClearCookies()
	if len(parent.Cookies(u)) != 0 {
		t.Error("Expected cookies to be cleared")
	}
}

func TestSetPauseRange_SwapsInvertedBounds(t *testing.T) {
	w := New()
	w.SetPauseRange(300*time.Millisecond, 100*time.Millisecond)

	lower, upper := w.Pause()
	if lower != 100*time.Millisecond || upper != 300*time.Millisecond {
		t.Errorf("Expected 100ms-300ms, got: %s-%s", lower, upper)
	}

	w.SetPause(50 * time.Millisecond)
	lower, upper = w.Pause()
	if lower != upper || lower != 50*time.Millisecond {
		t.Errorf("Expected fixed 50ms, got: %s-%s", lower, upper)
	}
}

func TestContextRoundTrip(t *testing.T) {
	w := New()
	ctx := NewContext(context.Background(), w)

	got, ok := FromContext(ctx)
	if !ok || got != w {
		t.Error("Expected worker to round trip through context")
	}
	if _, ok := FromContext(context.Background()); ok {
		t.Error("Expected no worker in empty context")
	}
}
