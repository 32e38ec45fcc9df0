package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/studiowebux/perfhttp/internal/script"
)

const (
	// PACFetchTimeout bounds the download of a remote PAC file
	PACFetchTimeout = 30 * time.Second

	entryPoint = "FindProxyForURL"
)

// ErrInvalidPAC is returned when the loaded text is not a PAC script
var ErrInvalidPAC = errors.New("PAC script does not define " + entryPoint)

// Fetcher downloads a remote PAC file
type Fetcher func(ctx context.Context, source string) (string, error)

// HostFactory creates the script host a resolver evaluates its PAC file in
type HostFactory func() script.Host

// Resolver maps target URLs to proxy candidates using one PAC script.
// It belongs to a single worker. The script is loaded at most once and the
// parsed chain is cached per host name for the rest of the run.
type Resolver struct {
	mu sync.Mutex

	source    string
	fetch     Fetcher
	resources fs.FS
	newHost   HostFactory
	logger    zerolog.Logger

	loaded   bool
	disabled bool
	host     script.Host
	cache    map[string][]Candidate
}

// Option configures a Resolver
type Option func(*Resolver)

// WithFetcher replaces the HTTP download of remote PAC files
func WithFetcher(f Fetcher) Option {
	return func(r *Resolver) { r.fetch = f }
}

// WithResources reads non-URL PAC sources from fsys instead of the file system
func WithResources(fsys fs.FS) Option {
	return func(r *Resolver) { r.resources = fsys }
}

// WithHostFactory replaces the JavaScript host
func WithHostFactory(f HostFactory) Option {
	return func(r *Resolver) { r.newHost = f }
}

// WithLogger sets the resolver logger
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// NewResolver creates a resolver for source. An empty source always resolves DIRECT.
func NewResolver(source string, opts ...Option) *Resolver {
	r := &Resolver{
		source: strings.TrimSpace(source),
		fetch:  FetchPAC,
		logger: zerolog.Nop(),
		cache:  make(map[string][]Candidate),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.newHost == nil {
		logger := r.logger
		r.newHost = func() script.Host {
			return script.NewJSHost(script.WithLogger(logger))
		}
	}
	return r
}

// Source returns the configured PAC source
func (r *Resolver) Source() string {
	return r.source
}

// Enabled reports whether PAC evaluation is still active for this resolver
func (r *Resolver) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.source != "" && !r.disabled
}

// Resolve returns the ordered proxy candidates for targetURL. The result is
// never empty.
func (r *Resolver) Resolve(ctx context.Context, targetURL string) []Candidate {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.source == "" || r.disabled {
		return []Candidate{Direct}
	}

	if !r.loaded {
		r.loaded = true
		if err := r.load(ctx); err != nil {
			r.disabled = true
			r.logger.Error().Err(err).Str("pac", r.source).Msg("PAC disabled for this worker")
			return []Candidate{Direct}
		}
	}

	u, err := url.Parse(targetURL)
	if err != nil || u.Hostname() == "" {
		r.logger.Error().Str("url", targetURL).Msg("cannot extract host for PAC evaluation")
		return []Candidate{Direct}
	}
	hostname := u.Hostname()

	if cached, ok := r.cache[hostname]; ok {
		return cached
	}

	result, err := r.host.Call(entryPoint, targetURL, hostname)
	if err != nil {
		r.logger.Error().Err(err).Str("host", hostname).Msg("PAC evaluation failed, using DIRECT")
		return []Candidate{Direct}
	}

	candidates := ParseDirectives(result, r.logger)
	if len(candidates) == 0 {
		candidates = []Candidate{Direct}
	}
	r.cache[hostname] = candidates

	r.logger.Debug().Str("host", hostname).Str("pac_result", result).Msg("PAC resolved")
	return candidates
}

func (r *Resolver) load(ctx context.Context) error {
	text, err := r.read(ctx)
	if err != nil {
		return fmt.Errorf("failed to load PAC %s: %w", r.source, err)
	}
	if !strings.Contains(text, entryPoint) {
		return ErrInvalidPAC
	}

	host := r.newHost()
	if err := host.Load(text); err != nil {
		return err
	}
	r.host = host
	return nil
}

func (r *Resolver) read(ctx context.Context) (string, error) {
	lower := strings.ToLower(r.source)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return r.fetch(ctx, r.source)
	}

	if r.resources != nil {
		data, err := fs.ReadFile(r.resources, strings.TrimPrefix(r.source, "/"))
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	data, err := os.ReadFile(r.source)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FetchPAC downloads a PAC file with a plain GET that bypasses any proxy
// and sends no credentials.
func FetchPAC(ctx context.Context, source string) (string, error) {
	client := &http.Client{
		Timeout:   PACFetchTimeout,
		Transport: &http.Transport{Proxy: nil},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read PAC body: %w", err)
	}
	return string(body), nil
}
