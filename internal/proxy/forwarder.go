package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Hop-by-hop headers that must not be forwarded
var hopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Proxy-Connection":    true,
	"Te":                  true,
	"Trailers":            true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

const (
	forwardTimeout = 30 * time.Second
	dialTimeout    = 10 * time.Second
	maxExchanges   = 1000
)

// Exchange is one request that passed through the Forwarder
type Exchange struct {
	ID        int
	Timestamp time.Time
	Method    string
	URL       string
	Status    int
	Error     string
	Duration  time.Duration
}

// Forwarder is a small forward proxy. It relays plain HTTP requests,
// tunnels CONNECT and keeps the most recent exchanges. Useful as the
// PROXY target of a PAC script in local runs and tests.
type Forwarder struct {
	logger    zerolog.Logger
	transport *http.Transport

	mu        sync.RWMutex
	exchanges []Exchange
	nextID    int
}

// NewForwarder creates a forwarder that never chains to another proxy
func NewForwarder(logger zerolog.Logger) *Forwarder {
	return &Forwarder{
		logger: logger,
		transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
		nextID: 1,
	}
}

// ListenAndServe serves on addr until ctx is cancelled
func (f *Forwarder) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{Addr: addr, Handler: f}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	f.logger.Info().Str("addr", addr).Msg("forward proxy listening")

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

func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method == http.MethodConnect {
		f.tunnel(w, r, start)
		return
	}

	targetURL := r.URL.String()
	if r.URL.Scheme == "" {
		if r.URL.Host != "" || r.Host == "" {
			http.Error(w, "Invalid proxy request: missing scheme and host", http.StatusBadRequest)
			return
		}
		targetURL = "http://" + r.Host + r.URL.RequestURI()
	}

	ex := Exchange{Timestamp: start, Method: r.Method, URL: targetURL}

	var body io.Reader
	if r.Body != nil {
		data, err := io.ReadAll(r.Body)
		if err == nil && len(data) > 0 {
			body = bytes.NewReader(data)
		}
	}

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, targetURL, body)
	if err != nil {
		f.fail(w, ex, http.StatusInternalServerError, fmt.Errorf("error creating proxy request: %w", err))
		return
	}
	copyHeaders(outReq.Header, r.Header)

	client := &http.Client{
		Timeout:   forwardTimeout,
		Transport: f.transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Do(outReq)
	if err != nil {
		f.fail(w, ex, http.StatusBadGateway, fmt.Errorf("error forwarding request: %w", err))
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		f.fail(w, ex, http.StatusBadGateway, fmt.Errorf("error reading response: %w", err))
		return
	}

	ex.Status = resp.StatusCode
	ex.Duration = time.Since(start)
	f.record(ex)

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	w.Write(respBody)
}

func (f *Forwarder) tunnel(w http.ResponseWriter, r *http.Request, start time.Time) {
	ex := Exchange{Timestamp: start, Method: http.MethodConnect, URL: "https://" + r.Host}

	targetConn, err := net.DialTimeout("tcp", r.Host, dialTimeout)
	if err != nil {
		f.fail(w, ex, http.StatusBadGateway, fmt.Errorf("failed to connect to %s: %w", r.Host, err))
		return
	}
	defer targetConn.Close()

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		f.fail(w, ex, http.StatusInternalServerError, errors.New("hijacking not supported"))
		return
	}
	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		f.fail(w, ex, http.StatusInternalServerError, fmt.Errorf("failed to hijack connection: %w", err))
		return
	}
	defer clientConn.Close()

	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		ex.Error = err.Error()
		f.record(ex)
		return
	}

	ex.Status = http.StatusOK
	ex.Duration = time.Since(start)
	f.record(ex)

	errCh := make(chan error, 2)
	go func() {
		_, err := io.Copy(targetConn, clientConn)
		errCh <- err
	}()
	go func() {
		_, err := io.Copy(clientConn, targetConn)
		errCh <- err
	}()
	<-errCh
}

func (f *Forwarder) fail(w http.ResponseWriter, ex Exchange, status int, err error) {
	ex.Status = status
	ex.Error = err.Error()
	ex.Duration = time.Since(ex.Timestamp)
	f.record(ex)
	http.Error(w, ex.Error, status)
}

func (f *Forwarder) record(ex Exchange) {
	f.mu.Lock()
	ex.ID = f.nextID
	f.nextID++
	f.exchanges = append(f.exchanges, ex)
	if len(f.exchanges) > maxExchanges {
		f.exchanges = f.exchanges[len(f.exchanges)-maxExchanges:]
	}
	f.mu.Unlock()

	event := f.logger.Debug()
	if ex.Error != "" {
		event = f.logger.Warn().Str("error", ex.Error)
	}
	event.Int("id", ex.ID).Str("method", ex.Method).Str("url", ex.URL).
		Int("status", ex.Status).Dur("duration", ex.Duration).Msg("proxied")
}

// Exchanges returns a copy of the recorded exchanges, oldest first
func (f *Forwarder) Exchanges() []Exchange {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]Exchange(nil), f.exchanges...)
}

// Reset drops the recorded exchanges
func (f *Forwarder) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchanges = nil
	f.nextID = 1
}

func copyHeaders(dst, src http.Header) {
	for name, values := range src {
		if hopHeaders[name] {
			continue
		}
		for _, value := range values {
			dst.Add(name, value)
		}
	}
}
