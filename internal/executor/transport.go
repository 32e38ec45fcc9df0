package executor

import (
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/studiowebux/perfhttp/internal/keystore"
	"github.com/studiowebux/perfhttp/internal/worker"
)

const (
	TCPDialTimeout        = 5 * time.Second
	TCPKeepAliveInterval  = 30 * time.Second
	TLSHandshakeTimeout   = 5 * time.Second
	IdleConnTimeout       = 90 * time.Second
	ExpectContinueTimeout = 1 * time.Second
)

// buildTransport creates a fresh transport for one request. proxyURL nil
// means a direct connection; environment proxy settings are ignored.
func buildTransport(w *worker.Context, proxyURL *url.URL, timeout time.Duration) *http.Transport {
	transport := &http.Transport{
		MaxIdleConns:        1,
		MaxIdleConnsPerHost: 1,
		IdleConnTimeout:     IdleConnTimeout,
		ForceAttemptHTTP2:   true,

		DialContext: (&net.Dialer{
			Timeout:   TCPDialTimeout,
			KeepAlive: TCPKeepAliveInterval,
		}).DialContext,

		TLSHandshakeTimeout:   TLSHandshakeTimeout,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: ExpectContinueTimeout,
	}
	if proxyURL != nil {
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	transport.TLSClientConfig = &tls.Config{
		InsecureSkipVerify: w.TrustAllCertificates(),
		Certificates:       keystore.ClientCertificates(),
	}
	return transport
}

func buildClient(rt http.RoundTripper, jar http.CookieJar, timeout time.Duration, followRedirects bool) *http.Client {
	client := &http.Client{
		Transport: rt,
		Jar:       jar,
		Timeout:   timeout,
	}
	if !followRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return client
}
