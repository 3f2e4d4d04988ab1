// Package metrics exposes bridge counters in the Prometheus format.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Record outcomes
const (
	OutcomeSuccess        = "success"
	OutcomeDispatchFailed = "dispatch_failed"
	OutcomeFailed         = "failed"
)

// Metrics holds the bridge collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	records     *prometheus.CounterVec
	rpcDuration prometheus.Histogram
	lastRecord  prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		records: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ekko",
				Subsystem: "bridge",
				Name:      "records_total",
				Help:      "Records processed, by outcome and failing stage",
			},
			[]string{"outcome", "stage"},
		),
		rpcDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "ekko",
				Subsystem: "bridge",
				Name:      "rpc_duration_seconds",
				Help:      "Latency of state_call requests",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
		),
		lastRecord: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "ekko",
				Subsystem: "bridge",
				Name:      "last_record_timestamp_seconds",
				Help:      "Unix time the last record finished processing",
			},
		),
	}

	for _, c := range []prometheus.Collector{m.records, m.rpcDuration, m.lastRecord} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Record counts one finished record. stage is empty unless outcome is OutcomeFailed.
func (m *Metrics) Record(outcome, stage string) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(outcome, stage).Inc()
	m.lastRecord.SetToCurrentTime()
}

// ObserveRPC records the latency of one node request.
func (m *Metrics) ObserveRPC(d time.Duration) {
	if m == nil {
		return
	}
	m.rpcDuration.Observe(d.Seconds())
}

// Serve exposes g on addr under /metrics until ctx is cancelled.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, log zerolog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return serve(ctx, ln, g, log)
}

func serve(ctx context.Context, ln net.Listener, g prometheus.Gatherer, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", ln.Addr().String()).Msg("serving metrics")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
