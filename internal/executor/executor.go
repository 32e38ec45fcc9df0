package executor

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/studiowebux/perfhttp/internal/auth"
	"github.com/studiowebux/perfhttp/internal/check"
	"github.com/studiowebux/perfhttp/internal/metrics"
	"github.com/studiowebux/perfhttp/internal/proxy"
	"github.com/studiowebux/perfhttp/internal/worker"
)

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Executor sends requests on behalf of workers. It holds no per-worker
// state and is safe for concurrent use.
type Executor struct {
	sink      metrics.Sink
	lookup    proxy.LookupFunc
	sleep     SleepFunc
	transport http.RoundTripper
}

// Option configures an Executor
type Option func(*Executor)

// WithMetrics sets where measurements and check failures go
func WithMetrics(sink metrics.Sink) Option {
	return func(e *Executor) { e.sink = sink }
}

// WithLookup sets how PAC proxy hosts are resolved
func WithLookup(lookup proxy.LookupFunc) Option {
	return func(e *Executor) { e.lookup = lookup }
}

// WithSleep replaces the pause implementation
func WithSleep(sleep SleepFunc) Option {
	return func(e *Executor) { e.sleep = sleep }
}

// WithTransport sends every request through rt instead of a fresh
// transport. Proxy and keystore settings are not applied to rt.
func WithTransport(rt http.RoundTripper) Option {
	return func(e *Executor) { e.transport = rt }
}

// New creates an Executor
func New(opts ...Option) *Executor {
	e := &Executor{
		sink:   metrics.Nop,
		lookup: proxy.DefaultLookup,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Send runs req through the pipeline for worker w. Transport failures are
// folded into the outcome. The returned error is ErrMalformedURL when the
// URL cannot be built, or a *ResponseFailedError when fail-fast is on and
// the outcome is not a success.
func (e *Executor) Send(ctx context.Context, w *worker.Context, req *Request) (*Outcome, error) {
	if w == nil {
		var ok bool
		if w, ok = worker.FromContext(ctx); !ok {
			w = worker.New()
		}
	}
	logger := w.Logger()
	o := newOutcome(uuid.NewString(), req)

	// URL_RESOLVED
	full, err := BuildURL(req.URL, req.Params)
	if err != nil {
		o.fail(StateMalformedURL, err)
		logger.Error().Err(err).Str("url", req.URL).Msg("request not sent")
		return o, err
	}
	target, _ := url.Parse(full)
	o.url = full
	o.enter(StateURLResolved)

	// PROXIED
	var proxyURL *url.URL
	if e.transport == nil {
		candidates := w.Proxies().Resolve(ctx, full)
		proxyURL, _ = proxy.SelectTransportProxy(ctx, candidates, e.lookup, *logger)
	}
	o.enter(StateProxied)

	// AUTHENTICATED
	prepared := &auth.Prepared{}
	if req.Auth != nil {
		if prepared, err = auth.Prepare(ctx, req.Auth, target); err != nil {
			o.fail(StateTransportError, fmt.Errorf("auth %s: %w", req.Auth.Method(), err))
			return e.finalize(ctx, w, req, o, nil)
		}
	}
	o.enter(StateAuthenticated)

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = w.ResponseTimeout()
	}

	var base http.RoundTripper = e.transport
	var owned *http.Transport
	if base == nil {
		owned = buildTransport(w, proxyURL, timeout)
		base = owned
	}
	client := buildClient(prepared.Wrap(base), w.CookieJar(), timeout, !req.DisableFollowRedirects)

	httpReq, err := newHTTPRequest(ctx, req, full)
	if err != nil {
		o.fail(StateTransportError, err)
		return e.finalize(ctx, w, req, o, owned)
	}
	prepared.Apply(httpReq)

	// SENT
	var timer metrics.Timer
	if req.Metric != "" {
		timer = e.sink.Start(req.Metric, req.SLA)
	}
	start := time.Now()
	resp, err := client.Do(httpReq)
	if err == nil {
		var body []byte
		body, err = io.ReadAll(resp.Body)
		resp.Body.Close()
		o.status = resp.StatusCode
		o.header = resp.Header
		o.body = string(body)
		if err != nil {
			err = fmt.Errorf("failed to read response body: %w", err)
		}
	}
	o.duration = time.Since(start)

	if err != nil {
		o.fail(StateTransportError, err)
		if timer != nil {
			o.record = timer.End(false, o.status)
		}
		logger.Error().Err(err).Str("url", full).Str("details", w.LogDetails()).Msg("request failed")
		return e.finalize(ctx, w, req, o, owned)
	}
	o.enter(StateSent)

	// MEASURED
	if timer != nil {
		success := o.status < 400 || req.AllowHTTPErrors
		o.record = timer.End(success, o.status)
		if req.MeasureSize != "" {
			e.sink.AddGauge(req.MeasureSize.GaugeName(req.Metric), req.MeasureSize.Convert(o.BodySize()))
		}
	}
	o.enter(StateMeasured)

	// CHECKED
	o.checksPassed = check.RunAll(req.Checks, o, check.Options{
		Record:     o.record,
		Reporter:   e.sink,
		LogDetails: w.LogDetails(),
		Logger:     logger,
	})
	o.enter(StateChecked)

	return e.finalize(ctx, w, req, o, owned)
}

// finalize logs, releases the connection, pauses and applies fail-fast
func (e *Executor) finalize(ctx context.Context, w *worker.Context, req *Request, o *Outcome, owned *http.Transport) (*Outcome, error) {
	success := o.IsSuccess()
	if w.DebugLogAll() || (w.DebugLogOnFail() && !success) {
		dump(w, req, o)
	}

	if owned != nil {
		owned.CloseIdleConnections()
	}

	if o.state != StateTransportError {
		o.enter(StateFinalized)
	} else {
		o.trail = append(o.trail, StateFinalized)
	}

	if d := e.pauseFor(w, req); d > 0 {
		if err := e.sleep(ctx, d); err != nil {
			w.Logger().Debug().Err(err).Msg("pause interrupted")
		}
	}

	throw := w.ThrowOnFail()
	if req.ThrowOnFail != nil {
		throw = *req.ThrowOnFail
	}
	if throw && !success {
		return o, &ResponseFailedError{Outcome: o}
	}
	return o, nil
}

func (e *Executor) pauseFor(w *worker.Context, req *Request) time.Duration {
	lower, upper := w.Pause()
	if req.Pause != nil {
		lower, upper = req.Pause.Lower, req.Pause.Upper
		if upper == 0 {
			upper = lower
		}
	}
	if upper < lower {
		lower, upper = upper, lower
	}
	if upper <= 0 {
		return 0
	}
	if upper == lower {
		return lower
	}
	return lower + time.Duration(rand.Int64N(int64(upper-lower)+1))
}

func newHTTPRequest(ctx context.Context, req *Request, full string) (*http.Request, error) {
	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method(), full, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	return httpReq, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
