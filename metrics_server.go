package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MetricsServer exposes the replay registry on /metrics.
type MetricsServer struct {
	addr   string
	reg    *prometheus.Registry
	log    *zap.SugaredLogger
	server *http.Server
	ln     net.Listener
}

func NewMetricsServer(addr string, reg *prometheus.Registry, log *zap.SugaredLogger) *MetricsServer {
	return &MetricsServer{addr: addr, reg: reg, log: log}
}

// Start binds the listener and serves in the background.
func (m *MetricsServer) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg}))

	m.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", m.addr)
	if err != nil {
		return err
	}
	m.ln = ln

	go func() {
		if err := m.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log.Errorf("Metrics server error: %v", err)
		}
	}()

	return nil
}

// Addr is the bound address, useful when started on port 0.
func (m *MetricsServer) Addr() string {
	if m.ln == nil {
		return m.addr
	}
	return m.ln.Addr().String()
}

func (m *MetricsServer) Close() error {
	if m.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.server.Shutdown(ctx)
}

func (m *MetricsServer) String() string {
	return "Prometheus metrics: http://" + m.Addr() + "/metrics"
}
