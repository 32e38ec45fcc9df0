package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/studiowebux/perfhttp/internal/proxy"
	"github.com/studiowebux/perfhttp/internal/worker"
)

// PACOptions contains options for evaluating a PAC script
type PACOptions struct {
	Source string
	URLs   []string
	Lookup proxy.LookupFunc
	Logger zerolog.Logger
	Stdout io.Writer
}

// ResolvePAC prints the candidates and the selected proxy for each URL
func ResolvePAC(ctx context.Context, opts PACOptions) error {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if strings.TrimSpace(opts.Source) == "" {
		return fmt.Errorf("a PAC source is required")
	}

	w := worker.New(worker.WithLogger(opts.Logger))
	if err := w.SetPACSource(opts.Source); err != nil {
		return err
	}

	for _, target := range opts.URLs {
		candidates := w.Proxies().Resolve(ctx, target)
		names := make([]string, len(candidates))
		for i, c := range candidates {
			names[i] = c.String()
		}

		selected := "DIRECT"
		if u, ok := proxy.SelectTransportProxy(ctx, candidates, opts.Lookup, *w.Logger()); ok {
			selected = "PROXY " + u.Host
		}
		fmt.Fprintf(opts.Stdout, "%s\n  candidates: %s\n  selected:   %s\n", target, strings.Join(names, "; "), selected)
	}

	if !w.Proxies().Enabled() {
		return fmt.Errorf("PAC script %s could not be used, see log for details", opts.Source)
	}
	return nil
}

// ServeProxy runs a local forward proxy until ctx is cancelled
func ServeProxy(ctx context.Context, addr string, logger zerolog.Logger) error {
	return proxy.NewForwarder(logger).ListenAndServe(ctx, addr)
}
