package script

import (
	"errors"
	"net"
	"strings"
	"testing"
	"time"
)

func fakeLookup(table map[string]string) LookupIPFunc {
	return func(host string) ([]net.IP, error) {
		if ip, ok := table[host]; ok {
			return []net.IP{net.ParseIP(ip)}, nil
		}
		return nil, errors.New("no such host")
	}
}

func TestJSHost_CallFindProxyForURL(t *testing.T) {
	host := NewJSHost(WithLookup(fakeLookup(map[string]string{"intranet.corp": "10.1.2.3"})))

	pac := `
	function FindProxyForURL(url, host) {
		if (isPlainHostName(host) || dnsDomainIs(host, ".local")) return "DIRECT";
		if (isInNet(host, "10.0.0.0", "255.0.0.0")) return "DIRECT";
		if (shExpMatch(url, "*://*.example.com/*")) return "PROXY proxy.example.com:3128; DIRECT";
		return "PROXY fallback:8080";
	}`
	if err := host.Load(pac); err != nil {
		t.Fatalf("Failed to load script: %v", err)
	}

	tests := []struct {
		url  string
		host string
		want string
	}{
		{"http://printer/status", "printer", "DIRECT"},
		{"http://box.local/", "box.local", "DIRECT"},
		{"http://intranet.corp/", "intranet.corp", "DIRECT"},
		{"https://api.example.com/v1", "api.example.com", "PROXY proxy.example.com:3128; DIRECT"},
		{"https://other.org/", "other.org", "PROXY fallback:8080"},
	}

	for _, tt := range tests {
		got, err := host.Call("FindProxyForURL", tt.url, tt.host)
		if err != nil {
			t.Fatalf("Call failed for %s: %v", tt.url, err)
		}
		if got != tt.want {
			t.Errorf("Expected %q for %s, got: %q", tt.want, tt.url, got)
		}
	}
}

func TestJSHost_CallBeforeLoad(t *testing.T) {
	host := NewJSHost()
	if _, err := host.Call("FindProxyForURL", "http://x/", "x"); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Expected ErrNotLoaded, got: %v", err)
	}
}

func TestJSHost_CallUndefinedFunction(t *testing.T) {
	host := NewJSHost()
	if err := host.Load(`var x = 1;`); err != nil {
		t.Fatalf("Failed to load script: %v", err)
	}
	_, err := host.Call("FindProxyForURL", "http://x/", "x")
	if err == nil || !strings.Contains(err.Error(), "not defined") {
		t.Errorf("Expected 'not defined' error, got: %v", err)
	}
}

func TestJSHost_NullResultIsEmpty(t *testing.T) {
	host := NewJSHost(WithLookup(fakeLookup(nil)))
	if err := host.Load(`function f(h) { return dnsResolve(h); }`); err != nil {
		t.Fatalf("Failed to load script: %v", err)
	}
	got, err := host.Call("f", "unknown.invalid")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if got != "" {
		t.Errorf("Expected empty result for null, got: %q", got)
	}
}

func TestJSHost_Timeout(t *testing.T) {
	host := NewJSHost(WithTimeout(50 * time.Millisecond))
	if err := host.Load(`function spin() { while (true) {} }`); err != nil {
		t.Fatalf("Failed to load script: %v", err)
	}

	start := time.Now()
	if _, err := host.Call("spin"); err == nil {
		t.Fatal("Expected interrupted call to fail")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Expected interrupt near 50ms, took: %s", elapsed)
	}

	// runtime stays usable after an interrupt
	if err := host.Load(`function ok() { return "yes"; }`); err != nil {
		t.Fatalf("Failed to load after interrupt: %v", err)
	}
	if got, _ := host.Call("ok"); got != "yes" {
		t.Errorf("Expected 'yes', got: %q", got)
	}
}

func TestPACHelpers(t *testing.T) {
	if !shExpMatch("http://a.example.com/x/y", "*.example.com/*") {
		t.Error("Expected glob to match across slashes")
	}
	if shExpMatch("example.org", "*.example.com") {
		t.Error("Expected glob not to match")
	}
	if !shExpMatch("a.b", "?.b") {
		t.Error("Expected ? to match one character")
	}
	if !localHostOrDomainIs("www", "www.example.com") {
		t.Error("Expected plain host to match its domain")
	}
	if localHostOrDomainIs("www.other.com", "www.example.com") {
		t.Error("Expected different fqdn not to match")
	}
	if dnsDomainLevels("a.b.c") != 2 {
		t.Errorf("Expected 2 levels, got: %d", dnsDomainLevels("a.b.c"))
	}
	if convertAddr("10.0.0.1") != 167772161 {
		t.Errorf("Expected 167772161, got: %d", convertAddr("10.0.0.1"))
	}
}

func TestPACHelpers_DateTime(t *testing.T) {
	// Wednesday 14:30 UTC
	fixed := time.Date(2026, 10, 14, 14, 30, 0, 0, time.UTC)
	env := newPACEnv()
	env.now = func() time.Time { return fixed }

	if !env.weekdayRange([]string{"MON", "FRI", "GMT"}) {
		t.Error("Expected Wednesday within MON-FRI")
	}
	if env.weekdayRange([]string{"SAT", "GMT"}) {
		t.Error("Expected Wednesday not to be SAT")
	}
	if !env.weekdayRange([]string{"FRI", "WED", "GMT"}) {
		t.Error("Expected wrapping range FRI-WED to include Wednesday")
	}
	if !env.timeRange([]string{"9", "17", "GMT"}) {
		t.Error("Expected 14:30 within 9-17")
	}
	if env.timeRange([]string{"15", "0", "16", "0", "GMT"}) {
		t.Error("Expected 14:30 outside 15:00-16:00")
	}
	if !env.timeRange([]string{"14", "GMT"}) {
		t.Error("Expected hour 14 to match")
	}
}
