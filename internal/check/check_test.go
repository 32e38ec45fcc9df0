package check

import (
	"net/http"
	"strings"
	"testing"

	"github.com/studiowebux/perfhttp/internal/metrics"
)

type fakeResponse struct {
	status  int
	headers http.Header
	body    string
	failed  bool
}

func (r fakeResponse) HasTransportError() bool { return r.failed }
func (r fakeResponse) Body() string           { return r.body }
func (r fakeResponse) Status() int           { return r.status }
func (r fakeResponse) Header(name string) string {
	values := r.headers.Values(name)
	if len(values) == 0 {
		return ""
	}
	return values[len(values)-1]
}

func okResponse() fakeResponse {
	h := http.Header{}
	h.Add("Content-Type", "text/html")
	h.Add("Content-Type", "application/json")
	return fakeResponse{status: 200, headers: h, body: `{"result":"ok","id":42}`}
}

func TestEvaluate(t *testing.T) {
	resp := okResponse()

	tests := []struct {
		name  string
		check Check
		want  bool
	}{
		{"body contains", OnBody(Contains, `"ok"`), true},
		{"body does not contain", OnBody(DoesNotContain, "error"), true},
		{"body equals", OnBody(Equals, "ok"), false},
		{"body regex", OnBody(MatchRegex, `"id":\d+`), true},
		{"body regex lookahead", OnBody(MatchRegex, `result(?=":)`), true},
		{"body not regex", OnBody(DoesNotMatchRegex, `"id":\d+`), false},
		{"header last value wins", OnHeader("content-type", Equals, "application/json"), true},
		{"missing header is empty", OnHeader("X-Missing", Equals, ""), true},
		{"status equals", OnStatus(Equals, 200), true},
		{"status not equals", OnStatus(NotEquals, 200), false},
		{"status contains", Check{Target: Status, Kind: Contains, Expected: "20"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.check.Evaluate(resp)
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %t, got: %t", tt.want, got)
			}
		})
	}
}

func TestEvaluate_TransportErrorAlwaysFails(t *testing.T) {
	resp := fakeResponse{status: -1, failed: true}
	ok, _ := OnBody(DoesNotContain, "anything").Evaluate(resp)
	if ok {
		t.Error("Expected check against transport error to fail")
	}
}

func TestRunAll_ShortCircuits(t *testing.T) {
	mem := metrics.NewMemory()
	rec := mem.Start("010_Login", nil).End(true, 200)

	checks := []Check{
		OnStatus(Equals, 200),
		OnBody(Contains, "missing-token"),
		OnBody(MatchRegex, "(unbalanced"),
	}

	passed := RunAll(checks, okResponse(), Options{Record: rec, Reporter: mem, LogDetails: " [user=alice]"})

	if passed {
		t.Fatal("Expected checks to fail")
	}
	if rec.Status() != metrics.StatusFailed {
		t.Errorf("Expected record status Failed, got: %s", rec.Status())
	}

	errs := mem.Errors()
	if len(errs) != 1 {
		t.Fatalf("Expected exactly one reported error, got: %d", len(errs))
	}
	want := `HTTP response check failed: body CONTAINS "missing-token" [user=alice]`
	if errs[0].Message != want {
		t.Errorf("Expected message %q, got: %q", want, errs[0].Message)
	}
	if errs[0].Record != "010_Login" {
		t.Errorf("Expected error tied to 010_Login, got: %q", errs[0].Record)
	}
}

func TestRunAll_CustomMessageWithoutDetails(t *testing.T) {
	mem := metrics.NewMemory()
	c := OnHeader("X-Trace", Equals, "abc")
	c.Message = "trace header missing"
	c.OmitLogDetails = true

	RunAll([]Check{c}, okResponse(), Options{Reporter: mem, LogDetails: " [user=alice]"})

	errs := mem.Errors()
	if len(errs) != 1 || errs[0].Message != "trace header missing" {
		t.Errorf("Expected custom message only, got: %+v", errs)
	}
}

func TestRunAll_TransportErrorNotReported(t *testing.T) {
	mem := metrics.NewMemory()
	passed := RunAll([]Check{OnStatus(Equals, 200)}, fakeResponse{failed: true}, Options{Reporter: mem})

	if passed {
		t.Error("Expected failure on transport error")
	}
	if len(mem.Errors()) != 0 {
		t.Errorf("Expected no check message for a transport error, got: %d", len(mem.Errors()))
	}
}

func TestRunAll_EmptyPasses(t *testing.T) {
	if !RunAll(nil, okResponse(), Options{}) {
		t.Error("Expected no checks to pass")
	}
}

func TestDefaultMessage_Header(t *testing.T) {
	msg := OnHeader("Content-Type", Contains, "json").DefaultMessage()
	if msg != `HTTP response check failed: header "Content-Type" CONTAINS "json"` {
		t.Errorf("Unexpected message: %s", msg)
	}
}

func TestValidate(t *testing.T) {
	if err := OnBody(MatchRegex, "(unbalanced").Validate(); err == nil || !strings.Contains(err.Error(), "invalid check pattern") {
		t.Errorf("Expected invalid pattern error, got: %v", err)
	}
	if err := (Check{Target: Header, Kind: Equals}).Validate(); err == nil {
		t.Error("Expected missing header name error")
	}
	if err := (Check{Target: "cookie", Kind: Equals}).Validate(); err == nil {
		t.Error("Expected unknown target error")
	}
	if err := OnStatus(Equals, 204).Validate(); err != nil {
		t.Errorf("Expected valid check, got: %v", err)
	}
}
