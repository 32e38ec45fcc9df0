package mock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultAddr = "127.0.0.1:8080"
	maxRecords  = 1000
)

// Record is one request served by the stub
type Record struct {
	Timestamp time.Time
	Method    string
	Path      string
	Route     string
	Status    int
	BodySize  int
	Duration  time.Duration
}

// Server answers requests with the canned responses of a Config
type Server struct {
	config *Config
	logger zerolog.Logger
	sleep  func(ctx context.Context, d time.Duration)

	mu      sync.RWMutex
	records []Record
	hits    map[string]int
}

// NewServer validates cfg and returns a handler serving its routes.
// Body files of configs not built by LoadConfig resolve against the
// working directory.
func NewServer(cfg *Config, logger zerolog.Logger) (*Server, error) {
	if err := cfg.compile("."); err != nil {
		return nil, fmt.Errorf("invalid mock config: %w", err)
	}
	return &Server{
		config: cfg,
		logger: logger,
		sleep:  sleepContext,
		hits:   make(map[string]int),
	}, nil
}

// ListenAndServe serves on addr, or the configured address, until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if addr == "" {
		addr = s.config.Addr
	}
	if addr == "" {
		addr = DefaultAddr
	}
	server := &http.Server{Addr: addr, Handler: s}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	s.logger.Info().Str("addr", addr).Int("routes", len(s.config.Routes)).Msg("mock server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	io.Copy(io.Discard, r.Body)
	r.Body.Close()

	rec := Record{Timestamp: start, Method: r.Method, Path: r.URL.Path, Route: "none"}

	route := s.match(r.Method, r.URL.Path)
	if route == nil {
		rec.Status = http.StatusNotFound
		body := fmt.Sprintf("Mock server: No route configured for %s %s", r.Method, r.URL.Path)
		http.Error(w, body, rec.Status)
		rec.BodySize = len(body) + 1
		s.record(rec, start)
		return
	}
	rec.Route = route.Label()

	if delay := route.latency(); delay > 0 {
		s.sleep(r.Context(), delay)
	}

	if route.BasicAuth != "" {
		user, pass, ok := r.BasicAuth()
		if !ok || user+":"+pass != route.BasicAuth {
			w.Header().Set("WWW-Authenticate", `Basic realm="mock"`)
			rec.Status = http.StatusUnauthorized
			w.WriteHeader(rec.Status)
			s.record(rec, start)
			return
		}
	}

	for key, value := range route.Headers {
		w.Header().Set(key, value)
	}
	for name, value := range route.Cookies {
		http.SetCookie(w, &http.Cookie{Name: name, Value: value, Path: "/"})
	}

	rec.Status = route.Status
	if rec.Status == 0 {
		rec.Status = http.StatusOK
	}
	w.WriteHeader(rec.Status)
	n, _ := w.Write(route.body)
	rec.BodySize = n
	s.record(rec, start)
}

func (s *Server) match(method, path string) *Route {
	for i := range s.config.Routes {
		if s.config.Routes[i].matches(method, path) {
			return &s.config.Routes[i]
		}
	}
	return nil
}

func (r *Route) latency() time.Duration {
	if r.DelayMax <= r.Delay {
		return r.Delay
	}
	return r.Delay + rand.N(r.DelayMax-r.Delay+1)
}

func (s *Server) record(rec Record, start time.Time) {
	rec.Duration = time.Since(start)

	s.mu.Lock()
	s.records = append(s.records, rec)
	if len(s.records) > maxRecords {
		s.records = s.records[len(s.records)-maxRecords:]
	}
	s.hits[rec.Route]++
	s.mu.Unlock()

	s.logger.Debug().
		Str("method", rec.Method).
		Str("path", rec.Path).
		Str("route", rec.Route).
		Int("status", rec.Status).
		Dur("duration", rec.Duration).
		Msg("mock request")
}

// Records returns a copy of the most recent requests, oldest first
func (s *Server) Records() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Record(nil), s.records...)
}

// Hits returns how many requests each route served; unmatched requests count under "none"
func (s *Server) Hits() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int, len(s.hits))
	for k, v := range s.hits {
		out[k] = v
	}
	return out
}

// Reset drops recorded requests and hit counts
func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	s.hits = make(map[string]int)
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
