package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// StartServer serves /metrics on a dedicated listener until ctx is done, for
// deployments that keep scrape traffic off the API port.
func StartServer(ctx context.Context, addr string, c *Collector) error {
	switch {
	case addr == "":
		return errors.New("metrics address is empty")
	case c == nil:
		return errors.New("metrics collector is nil")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return c.serve(ctx, ln)
}

func (c *Collector) serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", c.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()

	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return ctx.Err()
	}
	return err
}
