package executor

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/studiowebux/perfhttp/internal/worker"
)

// maxDumpBody caps how much of a body ends up in the log
const maxDumpBody = 16 << 10

// dump writes one structured event describing the request and its outcome
func dump(w *worker.Context, req *Request, o *Outcome) {
	request := zerolog.Dict().
		Str("url", o.URL()).
		Str("method", o.Method()).
		Dict("params", stringDict(req.Params)).
		Dict("headers", stringDict(maskSecrets(req.Headers))).
		Str("body", truncate(req.Body))

	if u, err := url.Parse(o.URL()); err == nil {
		cookies := zerolog.Dict()
		for _, c := range w.Cookies(u) {
			cookies.Str(c.Name, c.Value)
		}
		request.Dict("cookies", cookies)
	}

	response := zerolog.Dict().
		Int("status", o.Status()).
		Bool("checks_passed", o.ChecksPassed()).
		Bool("success", o.IsSuccess()).
		Str("error", o.ErrorMessage()).
		Dict("headers", stringDict(o.HeaderMap())).
		Str("body", truncate(o.Body()))

	w.Logger().Info().
		Str("metric", o.Metric()).
		Str("request_id", o.RequestID()).
		Str("details", w.LogDetails()).
		Str("state", string(o.State())).
		Dur("duration", o.Duration()).
		Dict("request", request).
		Dict("response", response).
		Msg("request dump")
}

func stringDict(m map[string]string) *zerolog.Event {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	d := zerolog.Dict()
	for _, k := range keys {
		d.Str(k, m[k])
	}
	return d
}

// maskSecrets hides credential header values, keeping the scheme
func maskSecrets(headers map[string]string) map[string]string {
	masked := make(map[string]string, len(headers))
	for k, v := range headers {
		switch http.CanonicalHeaderKey(k) {
		case "Authorization", "Proxy-Authorization":
			scheme, _, found := strings.Cut(v, " ")
			if found {
				v = scheme + " ****"
			} else {
				v = "****"
			}
		}
		masked[k] = v
	}
	return masked
}

// truncate cuts s to maxDumpBody bytes without splitting a rune
func truncate(s string) string {
	if len(s) <= maxDumpBody {
		return s
	}
	cut := maxDumpBody
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "...(truncated)"
}
