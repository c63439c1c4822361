// Package metrics provides Prometheus metrics for the streaming pipeline.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const namespace = "asr_tray"

// Metrics holds all Prometheus metrics for the client.
type Metrics struct {
	// Capture metrics
	ChunksCaptured   prometheus.Counter
	SamplesResampled prometheus.Counter
	QueueDepth       prometheus.Gauge
	SamplesDropped   prometheus.Counter
	ChunksDropped    prometheus.Counter

	// Transport metrics
	PacketsSent  prometheus.Counter
	BytesSent    prometheus.Counter
	SendFailures prometheus.Counter
	Results      *prometheus.CounterVec
	Errors       *prometheus.CounterVec

	// Session metrics
	Connections     prometheus.Counter
	CaptureSessions prometheus.Counter

	registry *prometheus.Registry
}

// New creates all metrics on a private registry so several instances
// (tests, multiple sessions) never collide on registration.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		ChunksCaptured: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_captured_total",
			Help:      "Audio buffers received from the capture device",
		}),
		SamplesResampled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_resampled_total",
			Help:      "Samples produced at the 16kHz target rate",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth_samples",
			Help:      "Samples waiting for a complete packet",
		}),
		SamplesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_dropped_total",
			Help:      "Samples discarded because the pending queue was full",
		}),
		ChunksDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_chunks_dropped_total",
			Help:      "Device buffers dropped because the pipeline fell behind",
		}),
		PacketsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_sent_total",
			Help:      "200ms PCM16 packets written to the transport",
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Audio payload bytes written to the transport",
		}),
		SendFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Packet sends that failed and aborted a drain",
		}),
		Results: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_total",
			Help:      "Recognition results received, by kind",
		}, []string{"kind"}),
		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors reported to the consumer, by category",
		}, []string{"category"}),
		Connections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Successful transport opens",
		}),
		CaptureSessions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_sessions_total",
			Help:      "Microphone capture sessions started",
		}),
		registry: reg,
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs a /metrics listener until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("Metrics listener started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
