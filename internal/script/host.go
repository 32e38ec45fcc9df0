package script

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"
)

// DefaultTimeout bounds a single Load or Call
const DefaultTimeout = 5 * time.Second

// ErrNotLoaded is returned when Call is used before Load
var ErrNotLoaded = errors.New("no script loaded")

// Host loads a script and calls its top level functions with string arguments.
type Host interface {
	Load(source string) error
	Call(name string, args ...string) (string, error)
}

// JSHost runs JavaScript with goja. The PAC helper functions are registered as
// globals before the script is evaluated.
type JSHost struct {
	mu      sync.Mutex
	vm      *goja.Runtime
	loaded  bool
	timeout time.Duration
	env     *pacEnv
}

// Option configures a JSHost
type Option func(*JSHost)

// WithTimeout sets how long a single evaluation may run before it is interrupted
func WithTimeout(d time.Duration) Option {
	return func(h *JSHost) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithLookup replaces the DNS lookup used by dnsResolve, isResolvable and isInNet
func WithLookup(lookup LookupIPFunc) Option {
	return func(h *JSHost) {
		h.env.lookupIP = lookup
	}
}

// WithLocalAddress replaces the address returned by myIpAddress
func WithLocalAddress(fn func() string) Option {
	return func(h *JSHost) {
		h.env.localIP = fn
	}
}

// WithClock replaces the clock used by weekdayRange and timeRange
func WithClock(now func() time.Time) Option {
	return func(h *JSHost) {
		h.env.now = now
	}
}

// WithLogger receives alert() output
func WithLogger(logger zerolog.Logger) Option {
	return func(h *JSHost) {
		h.env.logger = logger
	}
}

// NewJSHost creates a JavaScript host with the PAC helper shim installed
func NewJSHost(opts ...Option) *JSHost {
	h := &JSHost{
		vm:      goja.New(),
		timeout: DefaultTimeout,
		env:     newPACEnv(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.env.register(h.vm)
	return h
}

// Load evaluates source in the host's global scope
func (h *JSHost) Load(source string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	err := h.guard(func() error {
		_, err := h.vm.RunString(source)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to evaluate script: %w", err)
	}
	h.loaded = true
	return nil
}

// Call invokes a global function and returns its result as a string.
// null and undefined results become the empty string.
func (h *JSHost) Call(name string, args ...string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.loaded {
		return "", ErrNotLoaded
	}

	fn, ok := goja.AssertFunction(h.vm.Get(name))
	if !ok {
		return "", fmt.Errorf("function %s is not defined", name)
	}

	values := make([]goja.Value, len(args))
	for i, arg := range args {
		values[i] = h.vm.ToValue(arg)
	}

	var result goja.Value
	err := h.guard(func() error {
		var callErr error
		result, callErr = fn(goja.Undefined(), values...)
		return callErr
	})
	if err != nil {
		return "", fmt.Errorf("failed to call %s: %w", name, err)
	}

	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		return "", nil
	}
	return result.String(), nil
}

// guard interrupts the runtime when fn exceeds the timeout
func (h *JSHost) guard(fn func() error) error {
	timer := time.AfterFunc(h.timeout, func() {
		h.vm.Interrupt(fmt.Sprintf("script exceeded %s", h.timeout))
	})
	defer func() {
		timer.Stop()
		h.vm.ClearInterrupt()
	}()
	return fn()
}
