/*
Package executor sends HTTP requests for load-test workers and measures them.

# Pipeline

Every call to Executor.Send walks the same states:

	BUILDING -> URL_RESOLVED -> PROXIED -> AUTHENTICATED -> SENT -> MEASURED -> CHECKED -> FINALIZED

URL_RESOLVED appends the percent-encoded query parameters (see BuildURL).
A URL that cannot be built ends in MALFORMED_URL before any I/O and no
metric is started.

PROXIED asks the worker's PAC resolver for proxy candidates and picks the
first usable one (see proxy.SelectTransportProxy). Without a PAC source the
request goes direct.

AUTHENTICATED prepares the configured auth scheme (see auth.Prepare). A
literal header is added to the request; challenge based schemes wrap the
transport.

SENT executes the request on a fresh transport with the worker's cookie
jar, response timeout and redirect policy. Network, TLS and timeout errors
end in TRANSPORT_ERROR and are folded into the Outcome.

MEASURED ends the metric. Its success flag is status < 400 unless the
request allows HTTP errors. With MeasureSize a body size gauge named
<metric>-Size<unit> is added.

CHECKED runs the checks in order and stops at the first failure, which
marks the record failed and is reported to the metrics sink.

FINALIZED dumps the exchange to the worker log when debug logging asks for
it, closes idle connections and pauses for the configured think time.

# Success

	IsSuccess = !HasTransportError && ChecksPassed && (AllowHTTPErrors || Status < 400)

With fail-fast enabled on the worker or the request, an unsuccessful
outcome is returned together with a *ResponseFailedError:

	out, err := exec.Send(ctx, w, req)
	var failed *executor.ResponseFailedError
	if errors.As(err, &failed) {
		return fmt.Errorf("scenario aborted: %w", err)
	}

# Example

	req := executor.NewRequest("GET", "https://shop.example.com/api/items").
		Param("page", "1").
		AddCheck(check.OnStatus(check.Equals, 200))
	req.Metric = "010_ListItems"

	exec := executor.New(executor.WithMetrics(store))
	out, err := exec.Send(ctx, w, req)
	if err != nil {
		return err
	}
	fmt.Println(out.Status(), out.JSON("items.#").Int())

# Thread Safety

An Executor is safe for concurrent use. Each Send builds its own transport
and client; per-user state lives in the worker.Context, which must not be
shared between goroutines running different users.
*/
package executor
