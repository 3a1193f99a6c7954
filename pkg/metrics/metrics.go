// Package metrics exposes Prometheus counters shared by the brokers.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Error stages.
const (
	StageDecode  = "decode"
	StagePublish = "publish"
	StageEncode  = "encode"
	StageAck     = "ack"
	StageConsume = "consume"
	StageRequest = "request"
)

// Metrics counts relayed events for one broker. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	broker string

	EventsPublished *prometheus.CounterVec
	EventsConsumed  *prometheus.CounterVec
	EventsAcked     *prometheus.CounterVec
	Errors          *prometheus.CounterVec
}

// NewRegistry returns a registry with the Go runtime collector.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	return reg
}

// New creates the counters for broker and registers them with reg.
func New(broker string, reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		broker: broker,

		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "spectacles",
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Total number of events published to the backend",
			},
			[]string{"broker", "event"},
		),

		EventsConsumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "spectacles",
				Subsystem: "events",
				Name:      "consumed_total",
				Help:      "Total number of events received from the backend and written out",
			},
			[]string{"broker", "event"},
		),

		EventsAcked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "spectacles",
				Subsystem: "events",
				Name:      "acked_total",
				Help:      "Total number of stream entries acknowledged",
			},
			[]string{"broker", "event"},
		),

		Errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "spectacles",
				Name:      "errors_total",
				Help:      "Total number of relay errors by stage",
			},
			[]string{"broker", "stage"},
		),
	}

	for _, c := range []prometheus.Collector{m.EventsPublished, m.EventsConsumed, m.EventsAcked, m.Errors} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) Published(event string) {
	if m != nil {
		m.EventsPublished.WithLabelValues(m.broker, event).Inc()
	}
}

func (m *Metrics) Consumed(event string) {
	if m != nil {
		m.EventsConsumed.WithLabelValues(m.broker, event).Inc()
	}
}

func (m *Metrics) Acked(event string) {
	if m != nil {
		m.EventsAcked.WithLabelValues(m.broker, event).Inc()
	}
}

func (m *Metrics) Error(stage string) {
	if m != nil {
		m.Errors.WithLabelValues(m.broker, stage).Inc()
	}
}

// Handler serves the gatherer on /metrics and a health check on /health.
func Handler(g prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// Serve runs the metrics endpoint on addr until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, logger *slog.Logger) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           Handler(g),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving metrics", "addr", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to stop metrics server: %w", err)
		}
		return nil
	}
}
