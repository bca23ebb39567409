package observe

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// shutdownTimeout bounds how long [ServeMetrics] waits for in-flight scrapes.
const shutdownTimeout = 5 * time.Second

// NewMetricsHandler returns a mux serving the metrics gathered from g on
// /metrics and a liveness probe on /healthz, both wrapped in [Middleware]. A
// nil g serves [prometheus.DefaultGatherer].
func NewMetricsHandler(m *Metrics, g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	return Middleware(m)(mux)
}

// NewMetricsServer builds an [http.Server] for [NewMetricsHandler] on addr.
func NewMetricsServer(addr string, m *Metrics, g prometheus.Gatherer) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewMetricsHandler(m, g),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// ServeMetrics runs srv until ctx is cancelled, then shuts it down
// gracefully. It returns nil on a clean shutdown.
func ServeMetrics(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("metrics server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
