package cli

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/rs/zerolog"
	"github.com/studiowebux/perfhttp/internal/mock"
)

// ServeMock serves the stub routes defined in path until ctx is cancelled,
// then prints how many requests each route answered.
func ServeMock(ctx context.Context, path, addr string, logger zerolog.Logger, stdout io.Writer) error {
	cfg, err := mock.LoadConfig(path)
	if err != nil {
		return err
	}
	srv, err := mock.NewServer(cfg, logger)
	if err != nil {
		return err
	}

	if err := srv.ListenAndServe(ctx, addr); err != nil {
		return err
	}

	hits := srv.Hits()
	routes := make([]string, 0, len(hits))
	for route := range hits {
		routes = append(routes, route)
	}
	sort.Strings(routes)
	for _, route := range routes {
		fmt.Fprintf(stdout, "%6d  %s\n", hits[route], route)
	}
	return nil
}
