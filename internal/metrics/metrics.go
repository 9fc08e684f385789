// Package metrics exports pool lifecycle events as Prometheus metrics.
// A Collector is registered on a pool with pulse.WithObserver and served
// over HTTP by the CLI.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/op/go-logging.v1"
)

var log = logging.MustGetLogger("metrics")

// Collector counts spawns, rejections and releases for one pool.
type Collector struct {
	registry *prometheus.Registry

	spawned  prometheus.Counter
	rejected prometheus.Counter
	released *prometheus.CounterVec
	active   prometheus.Gauge
	lifetime *prometheus.HistogramVec
}

// New creates a Collector with its own registry. constLabels are attached to
// every metric, e.g. to tell several pools apart.
func New(constLabels map[string]string) *Collector {
	labels := prometheus.Labels(constLabels)
	c := &Collector{registry: prometheus.NewRegistry()}

	// Workers started.
	c.spawned = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "pulse",
		Name:        "spawned_total",
		Help:        "Count of workers started on a slot",
		ConstLabels: labels,
	})

	// Spawns refused because every slot was taken.
	c.rejected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "pulse",
		Name:        "rejected_total",
		Help:        "Count of spawns refused because the pool was full",
		ConstLabels: labels,
	})

	c.released = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   "pulse",
		Name:        "released_total",
		Help:        "Count of slots freed, by the operation that freed them",
		ConstLabels: labels,
	}, []string{"how"})

	c.active = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "pulse",
		Name:        "active_slots",
		Help:        "Number of occupied slots",
		ConstLabels: labels,
	})

	c.lifetime = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   "pulse",
		Name:        "slot_lifetime_seconds",
		Help:        "Time from spawn until the slot was freed",
		Buckets:     prometheus.ExponentialBuckets(0.001, 4, 10),
		ConstLabels: labels,
	}, []string{"how"})

	c.registry.MustRegister(c.spawned, c.rejected, c.released, c.active, c.lifetime)
	return c
}

// Spawned records a worker taking a slot.
func (c *Collector) Spawned(name string) {
	c.spawned.Inc()
	c.active.Inc()
}

// Rejected records a spawn refused for lack of slots.
func (c *Collector) Rejected(name string) {
	c.rejected.Inc()
}

// Released records a slot being freed by how ("join", "detach", ...).
func (c *Collector) Released(name string, how string, lifetime time.Duration) {
	c.released.WithLabelValues(how).Inc()
	c.active.Dec()
	c.lifetime.WithLabelValues(how).Observe(lifetime.Seconds())
}

// Handler serves the collector's metrics in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{ErrorLog: errorLogger{}})
}

// errorLogger forwards promhttp's errors to the module logger.
type errorLogger struct{}

func (errorLogger) Println(v ...interface{}) {
	log.Warning("Serving metrics: %s", fmt.Sprint(v...))
}

// Serve exposes Handler on addr under /metrics until ctx is done.
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	s := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			log.Warning("Stopping metrics server: %s", err)
		}
	}()

	log.Info("Serving metrics on %s/metrics", addr)
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
