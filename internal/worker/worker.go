package worker

import (
	"context"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/studiowebux/perfhttp/internal/proxy"
	"golang.org/x/net/publicsuffix"
)

// DefaultResponseTimeout applies when a request sets no timeout of its own
const DefaultResponseTimeout = 10 * time.Minute

// ErrPACSourceLocked is returned when a worker's PAC source is changed after it was set
var ErrPACSourceLocked = errors.New("PAC source is already set for this worker")

type detail struct {
	key   string
	value string
}

// settings is the part of a worker that children copy at spawn time
type settings struct {
	pacSource       string
	responseTimeout time.Duration
	pauseLower      time.Duration
	pauseUpper      time.Duration
	debugLogAll     bool
	debugLogOnFail  bool
	throwOnFail     bool
	trustAll        bool
	logDetails      []detail
	proxyOptions    []proxy.Option
}

func (s settings) clone() settings {
	c := s
	c.logDetails = append([]detail(nil), s.logDetails...)
	c.proxyOptions = append([]proxy.Option(nil), s.proxyOptions...)
	return c
}

// Context holds everything one virtual user needs between requests: its
// defaults, its cookies and its PAC state. A Context is owned by one
// goroutine; workers never share one.
type Context struct {
	mu       sync.Mutex
	id       string
	settings settings
	logger   zerolog.Logger
	base     zerolog.Logger

	jar     *cookiejar.Jar
	proxies *proxy.Resolver
}

// Option configures a new Context
type Option func(*Context)

// WithLogger sets the logger the worker derives its own logger from
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Context) { c.base = logger }
}

// WithProxyOptions passes options to the worker's PAC resolver
func WithProxyOptions(opts ...proxy.Option) Option {
	return func(c *Context) {
		c.settings.proxyOptions = append(c.settings.proxyOptions, opts...)
	}
}

// New creates a root worker with default settings
func New(opts ...Option) *Context {
	c := &Context{
		id:   uuid.NewString(),
		base: zerolog.Nop(),
		settings: settings{
			responseTimeout: DefaultResponseTimeout,
			trustAll:        true,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.base.With().Str("worker", c.id).Logger()
	return c
}

// Spawn creates a child worker holding a copy of this worker's settings.
// Later changes on either side are not visible to the other. The child starts
// with its own cookie jar and its own PAC state.
func (c *Context) Spawn() *Context {
	c.mu.Lock()
	snapshot := c.settings.clone()
	base := c.base
	c.mu.Unlock()

	child := &Context{
		id:       uuid.NewString(),
		base:     base,
		settings: snapshot,
	}
	child.logger = base.With().Str("worker", child.id).Str("parent", c.id).Logger()
	return child
}

// ID returns the worker id
func (c *Context) ID() string {
	return c.id
}

// Logger returns the worker's logger
func (c *Context) Logger() *zerolog.Logger {
	return &c.logger
}

// PACSource returns the PAC source, or "" when none is set
func (c *Context) PACSource() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings.pacSource
}

// SetPACSource sets the PAC URL or resource path. It can be set once per
// worker; a resolver created while no source was set is replaced.
func (c *Context) SetPACSource(source string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	source = strings.TrimSpace(source)
	if c.settings.pacSource != "" && c.settings.pacSource != source {
		return ErrPACSourceLocked
	}
	if c.settings.pacSource == "" && source != "" {
		c.proxies = nil
	}
	c.settings.pacSource = source
	return nil
}

// Proxies returns the worker's PAC resolver, creating it on first use
func (c *Context) Proxies() *proxy.Resolver {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.proxies == nil {
		opts := append([]proxy.Option{proxy.WithLogger(c.logger)}, c.settings.proxyOptions...)
		c.proxies = proxy.NewResolver(c.settings.pacSource, opts...)
	}
	return c.proxies
}

// ResponseTimeout returns the default per-request timeout
func (c *Context) ResponseTimeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings.responseTimeout
}

// SetResponseTimeout sets the default per-request timeout; zero restores the default
func (c *Context) SetResponseTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d <= 0 {
		d = DefaultResponseTimeout
	}
	c.settings.responseTimeout = d
}

// Pause returns the default pause range applied after each request
func (c *Context) Pause() (lower, upper time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings.pauseLower, c.settings.pauseUpper
}

// SetPause sets a fixed pause
func (c *Context) SetPause(d time.Duration) {
	c.SetPauseRange(d, d)
}

// SetPauseRange sets a random pause range. Inverted bounds are swapped.
func (c *Context) SetPauseRange(lower, upper time.Duration) {
	if lower > upper {
		lower, upper = upper, lower
	}
	if lower < 0 {
		lower = 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings.pauseLower = lower
	c.settings.pauseUpper = upper
}

// DebugLogAll reports whether every request is dumped to the log
func (c *Context) DebugLogAll() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings.debugLogAll
}

func (c *Context) SetDebugLogAll(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings.debugLogAll = v
}

// DebugLogOnFail reports whether failed requests are dumped to the log
func (c *Context) DebugLogOnFail() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings.debugLogOnFail
}

func (c *Context) SetDebugLogOnFail(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings.debugLogOnFail = v
}

// ThrowOnFail reports whether unsuccessful requests return an error by default
func (c *Context) ThrowOnFail() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings.throwOnFail
}

func (c *Context) SetThrowOnFail(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings.throwOnFail = v
}

// TrustAllCertificates reports whether server certificates are accepted without verification
func (c *Context) TrustAllCertificates() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings.trustAll
}

func (c *Context) SetTrustAllCertificates(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings.trustAll = v
}

// AddLogDetail attaches a key/value pair to this worker's failure messages.
// An existing key is overwritten in place.
func (c *Context) AddLogDetail(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.settings.logDetails {
		if c.settings.logDetails[i].key == key {
			c.settings.logDetails[i].value = value
			return
		}
	}
	c.settings.logDetails = append(c.settings.logDetails, detail{key: key, value: value})
}

// ClearLogDetails removes all log details
func (c *Context) ClearLogDetails() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings.logDetails = nil
}

// LogDetails renders the log details as " [k1=v1, k2=v2]", or "" when there are none
func (c *Context) LogDetails() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.settings.logDetails) == 0 {
		return ""
	}
	parts := make([]string, len(c.settings.logDetails))
	for i, d := range c.settings.logDetails {
		parts[i] = d.key + "=" + d.value
	}
	return " [" + strings.Join(parts, ", ") + "]"
}

// CookieJar returns the worker's cookie jar, created on first use
func (c *Context) CookieJar() http.CookieJar {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jarLocked()
}

func (c *Context) jarLocked() *cookiejar.Jar {
	if c.jar == nil {
		// cookiejar.New only fails on invalid options
		jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		c.jar = jar
	}
	return c.jar
}

// AddCookie stores a cookie for u in the worker's jar
func (c *Context) AddCookie(u *url.URL, cookie *http.Cookie) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jarLocked().SetCookies(u, []*http.Cookie{cookie})
}

// Cookies returns the cookies the jar would send to u
func (c *Context) Cookies(u *url.URL) []*http.Cookie {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.jar == nil {
		return nil
	}
	return c.jar.Cookies(u)
}

// ClearCookies drops every cookie of this worker
func (c *Context) ClearCookies() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jar = nil
}

type contextKey struct{}

// NewContext returns a copy of ctx carrying w
func NewContext(ctx context.Context, w *Context) context.Context {
	return context.WithValue(ctx, contextKey{}, w)
}

// FromContext returns the worker stored in ctx
func FromContext(ctx context.Context) (*Context, bool) {
	w, ok := ctx.Value(contextKey{}).(*Context)
	return w, ok
}
