package executor

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/studiowebux/perfhttp/internal/auth"
	"github.com/studiowebux/perfhttp/internal/check"
	"github.com/studiowebux/perfhttp/internal/metrics"
	"github.com/tidwall/sjson"
)

const ContentTypeJSON = "application/json; charset=UTF-8"

// SizeUnit selects the unit of the body size gauge
type SizeUnit string

const (
	SizeBytes     SizeUnit = "B"
	SizeKilobytes SizeUnit = "KB"
	SizeMegabytes SizeUnit = "MB"
	SizeGigabytes SizeUnit = "GB"
)

// ParseSizeUnit accepts B, KB, MB and GB in any case
func ParseSizeUnit(s string) (SizeUnit, error) {
	switch u := SizeUnit(strings.ToUpper(strings.TrimSpace(s))); u {
	case "":
		return "", nil
	case SizeBytes, SizeKilobytes, SizeMegabytes, SizeGigabytes:
		return u, nil
	default:
		return "", fmt.Errorf("unknown size unit %q", s)
	}
}

func (u SizeUnit) divisor() float64 {
	switch u {
	case SizeKilobytes:
		return 1024
	case SizeMegabytes:
		return 1024 * 1024
	case SizeGigabytes:
		return 1024 * 1024 * 1024
	default:
		return 1
	}
}

// GaugeName is metric-SizeBytes, metric-SizeKB and so on
func (u SizeUnit) GaugeName(metric string) string {
	if u == SizeBytes {
		return metric + "-SizeBytes"
	}
	return metric + "-Size" + string(u)
}

// Convert returns n bytes expressed in the unit
func (u SizeUnit) Convert(n int) float64 {
	return float64(n) / u.divisor()
}

// Pause is the think time after a request. A zero Upper means a fixed pause
// of Lower; inverted bounds are swapped.
type Pause struct {
	Lower time.Duration `yaml:"lower" json:"lower"`
	Upper time.Duration `yaml:"upper" json:"upper"`
}

// Request describes one HTTP call. Send reads it and never modifies it.
type Request struct {
	Method      string
	URL         string
	Params      map[string]string
	Headers     map[string]string
	Body        string
	ContentType string

	// Auth is nil for anonymous requests
	Auth   auth.Config
	Checks []check.Check
	SLA    *metrics.SLA

	// Timeout overrides the worker's response timeout when set
	Timeout time.Duration

	// Pause overrides the worker's pause when set
	Pause *Pause

	// AllowHTTPErrors stops 4xx and 5xx statuses from failing the request
	AllowHTTPErrors        bool
	DisableFollowRedirects bool
	MeasureSize            SizeUnit

	// Metric names the measurement. Empty means nothing is recorded.
	Metric string

	// ThrowOnFail overrides the worker default when set
	ThrowOnFail *bool
}

// NewRequest creates a request for method and url
func NewRequest(method, url string) *Request {
	return &Request{
		Method:  strings.ToUpper(method),
		URL:     url,
		Params:  make(map[string]string),
		Headers: make(map[string]string),
	}
}

func (r *Request) Param(key, value string) *Request {
	if r.Params == nil {
		r.Params = make(map[string]string)
	}
	r.Params[key] = value
	return r
}

func (r *Request) Header(key, value string) *Request {
	if r.Headers == nil {
		r.Headers = make(map[string]string)
	}
	r.Headers[key] = value
	return r
}

// WithAuth sets the auth config, replacing any earlier one
func (r *Request) WithAuth(cfg auth.Config) *Request {
	r.Auth = cfg
	return r
}

func (r *Request) AddCheck(checks ...check.Check) *Request {
	r.Checks = append(r.Checks, checks...)
	return r
}

// BodyJSON sets the body and the JSON content type
func (r *Request) BodyJSON(content string) *Request {
	r.Body = content
	r.ContentType = ContentTypeJSON
	return r
}

// SetJSONField sets a value at path in the JSON body, e.g. "user.name"
func (r *Request) SetJSONField(path string, value any) error {
	body := r.Body
	if strings.TrimSpace(body) == "" {
		body = "{}"
	}
	updated, err := sjson.Set(body, path, value)
	if err != nil {
		return fmt.Errorf("failed to set %s in request body: %w", path, err)
	}
	r.Body = updated
	if r.ContentType == "" {
		r.ContentType = ContentTypeJSON
	}
	return nil
}

// Clone returns a copy that shares nothing mutable with r
func (r *Request) Clone() *Request {
	c := *r
	c.Params = make(map[string]string, len(r.Params))
	for k, v := range r.Params {
		c.Params[k] = v
	}
	c.Headers = make(map[string]string, len(r.Headers))
	for k, v := range r.Headers {
		c.Headers[k] = v
	}
	c.Checks = append([]check.Check(nil), r.Checks...)
	if r.Pause != nil {
		p := *r.Pause
		c.Pause = &p
	}
	if r.ThrowOnFail != nil {
		v := *r.ThrowOnFail
		c.ThrowOnFail = &v
	}
	return &c
}

func (r *Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(r.Method)
}
