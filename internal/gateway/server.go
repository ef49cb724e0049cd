package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/tinywideclouds/pushgate/internal/dispatch"
	"github.com/tinywideclouds/pushgate/internal/telemetry"
)

// Server wraps the gateway's HTTP listener: the notify endpoint, a health
// check, and the Prometheus exposition used by both /metrics and
// /_matrix/metrics (spec §6).
type Server struct {
	httpServer *http.Server
}

// Options configures the listener.
type Options struct {
	BindAddress    string
	Port           int
	RequestTimeout time.Duration
	MaxBodyBytes   int64
}

// New builds a Server ready to ListenAndServe.
func New(opts Options, router *dispatch.Router, sink telemetry.Sink, logger *slog.Logger) *Server {
	d := dispatch.NewDispatcher(router, NewTelemetryObserver(sink, logger))
	notify := NewNotifyHandler(d, sink, logger, opts.RequestTimeout, opts.MaxBodyBytes)

	mux := http.NewServeMux()
	mux.Handle("/_matrix/push/v1/notify", Recover(logger, notify))
	mux.HandleFunc("/health", healthHandler)
	if prom, ok := sink.(*telemetry.Prometheus); ok {
		mux.Handle("/metrics", prom.Handler())
		mux.Handle("/_matrix/metrics", prom.Handler())
	}

	addr := net.JoinHostPort(opts.BindAddress, fmt.Sprintf("%d", opts.Port))
	return &Server{httpServer: &http.Server{
		Addr:    addr,
		Handler: mux,
	}}
}

// ListenAndServe starts serving until the listener errors or is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
