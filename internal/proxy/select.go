package proxy

import (
	"context"
	"net"
	"net/url"

	"github.com/rs/zerolog"
)

// LookupFunc returns an error when host cannot be resolved
type LookupFunc func(ctx context.Context, host string) error

// DefaultLookup resolves host with the system resolver
func DefaultLookup(ctx context.Context, host string) error {
	_, err := net.DefaultResolver.LookupHost(ctx, host)
	return err
}

// SelectTransportProxy walks candidates in order. The first DIRECT entry means
// no proxy. The first PROXY whose host resolves is returned. Unresolvable
// proxies are skipped; if nothing usable remains the request goes direct.
func SelectTransportProxy(ctx context.Context, candidates []Candidate, lookup LookupFunc, logger zerolog.Logger) (*url.URL, bool) {
	if lookup == nil {
		lookup = DefaultLookup
	}

	for _, c := range candidates {
		switch c.Type {
		case TypeDirect:
			return nil, false
		case TypeProxy:
			if err := lookup(ctx, c.Host); err != nil {
				logger.Warn().Err(err).Str("proxy", c.Address()).Msg("proxy host not resolvable, skipping")
				continue
			}
			return &url.URL{Scheme: "http", Host: c.Address()}, true
		}
	}

	if len(candidates) > 0 {
		logger.Warn().Int("candidates", len(candidates)).Msg("no PAC proxy could be resolved, connecting directly")
	}
	return nil, false
}
