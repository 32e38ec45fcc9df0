package executor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jmespath/go-jmespath"
	"github.com/studiowebux/perfhttp/internal/metrics"
	"github.com/tidwall/gjson"
)

// State is a step of the send pipeline
type State string

const (
	StateBuilding       State = "BUILDING"
	StateURLResolved    State = "URL_RESOLVED"
	StateProxied        State = "PROXIED"
	StateAuthenticated  State = "AUTHENTICATED"
	StateSent           State = "SENT"
	StateMeasured       State = "MEASURED"
	StateChecked        State = "CHECKED"
	StateFinalized      State = "FINALIZED"
	StateTransportError State = "TRANSPORT_ERROR"
	StateMalformedURL   State = "MALFORMED_URL"
)

// Outcome is the result of one Send. Only the record status can change
// after Send returns.
type Outcome struct {
	requestID string
	method    string
	url       string
	metric    string
	autoFail  bool

	status   int
	header   http.Header
	body     string
	duration time.Duration

	transportErr bool
	errMsg       string
	checksPassed bool

	record metrics.Record
	state  State

	// trail is every state the pipeline passed through
	trail []State
}

func newOutcome(id string, req *Request) *Outcome {
	o := &Outcome{
		requestID: id,
		method:    req.method(),
		url:       req.URL,
		metric:    req.Metric,
		autoFail:  !req.AllowHTTPErrors,
		status:    -1,
		header:    http.Header{},
	}
	o.enter(StateBuilding)
	return o
}

func (o *Outcome) enter(s State) {
	o.state = s
	o.trail = append(o.trail, s)
}

func (o *Outcome) fail(s State, err error) {
	o.transportErr = true
	o.errMsg = err.Error()
	o.enter(s)
}

// Status is the HTTP status code, or -1 when no response was received
func (o *Outcome) Status() int { return o.status }

// Header returns the last value of the named header, or ""
func (o *Outcome) Header(name string) string {
	values := o.header.Values(name)
	if len(values) == 0 {
		return ""
	}
	return values[len(values)-1]
}

// Headers returns all response headers in received order
func (o *Outcome) Headers() http.Header { return o.header.Clone() }

// HeaderMap collapses repeated headers, the last value wins
func (o *Outcome) HeaderMap() map[string]string {
	m := make(map[string]string, len(o.header))
	for name, values := range o.header {
		if len(values) > 0 {
			m[name] = values[len(values)-1]
		}
	}
	return m
}

func (o *Outcome) Body() string { return o.body }

// BodySize is the body length in bytes
func (o *Outcome) BodySize() int { return len(o.body) }

func (o *Outcome) Duration() time.Duration { return o.duration }

func (o *Outcome) HasTransportError() bool { return o.transportErr }

func (o *Outcome) ErrorMessage() string { return o.errMsg }

func (o *Outcome) ChecksPassed() bool { return o.checksPassed }

// Record is the metric record, nil when the request had no metric
func (o *Outcome) Record() metrics.Record { return o.record }

func (o *Outcome) State() State { return o.state }

// Trail returns the pipeline states in the order they were entered
func (o *Outcome) Trail() []State { return append([]State(nil), o.trail...) }

func (o *Outcome) RequestID() string { return o.requestID }

// URL is the final URL including the query string
func (o *Outcome) URL() string { return o.url }

func (o *Outcome) Method() string { return o.method }

// Metric is the metric name, or "" when nothing was recorded
func (o *Outcome) Metric() string { return o.metric }

// IsSuccess is true without a transport error, with passing checks and,
// unless HTTP errors are allowed, a status below 400.
func (o *Outcome) IsSuccess() bool {
	if o.transportErr || !o.checksPassed {
		return false
	}
	return !o.autoFail || o.status < 400
}

// SetStatus overrides the status of the metric record
func (o *Outcome) SetStatus(status metrics.Status) {
	if o.record != nil {
		o.record.SetStatus(status)
	}
}

// ThrowOnFail returns a *ResponseFailedError if the outcome is not a success
func (o *Outcome) ThrowOnFail() error {
	if o.IsSuccess() {
		return nil
	}
	return &ResponseFailedError{Outcome: o}
}

// JSON reads path from the body with gjson syntax, e.g. "data.items.#.id"
func (o *Outcome) JSON(path string) gjson.Result {
	return gjson.Get(o.body, path)
}

// Query evaluates a JMESPath expression against the JSON body
func (o *Outcome) Query(expression string) (any, error) {
	var data any
	if err := json.Unmarshal([]byte(o.body), &data); err != nil {
		return nil, fmt.Errorf("response is not valid JSON: %w", err)
	}
	result, err := jmespath.Search(expression, data)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate %s: %w", expression, err)
	}
	return result, nil
}
