// internal/events/metrics/metrics.go
package metrics

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tamzrod/pzem-poller/internal/events"
	"github.com/tamzrod/pzem-poller/internal/status"
)

const namespace = "pzem"

// Exporter counts events and reports device health at scrape time.
// It owns its registry so tests and several exporters never collide.
type Exporter struct {
	registry *prometheus.Registry

	events        *prometheus.CounterVec
	deviceEvents  *prometheus.CounterVec
	pointsDropped prometheus.Counter

	mu     sync.Mutex
	status func() []status.Snapshot
}

func NewExporter() *Exporter {
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events emitted, by kind.",
		}, []string{"kind"}),
		deviceEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_events_total",
			Help:      "Device events (degraded, recovered, calibration), by device.",
		}, []string{"device", "bus", "kind"}),
		pointsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_dropped_total",
			Help:      "Points lost in batches whose retry budget ran out.",
		}),
	}

	e.registry.MustRegister(e.events, e.deviceEvents, e.pointsDropped, snapshotCollector{e})
	return e
}

// SetStatusSource provides device snapshots for the health gauges.
func (e *Exporter) SetStatusSource(fn func() []status.Snapshot) {
	e.mu.Lock()
	e.status = fn
	e.mu.Unlock()
}

// Emit only touches in-memory counters, so it never blocks the caller.
func (e *Exporter) Emit(ev events.Event) {
	kind := string(ev.Kind)
	e.events.WithLabelValues(kind).Inc()

	if ev.Device != "" {
		e.deviceEvents.WithLabelValues(ev.Device, ev.Bus, kind).Inc()
	}
	if ev.Kind == events.BatchDropped && ev.Count > 0 {
		e.pointsDropped.Add(float64(ev.Count))
	}
}

// Handler serves the registry in the Prometheus text format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{Registry: e.registry})
}

// ---- snapshot gauges ----

var (
	healthDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "device", "health"),
		"Device health: 0 unknown, 1 ok, 2 error, 3 degraded.",
		[]string{"device", "bus", "address"}, nil,
	)
	failuresDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "device", "consecutive_failures"),
		"Failed reads since the last successful one.",
		[]string{"device", "bus", "address"}, nil,
	)
	lastSuccessDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "device", "last_success_timestamp_seconds"),
		"Unix time of the last successful read.",
		[]string{"device", "bus", "address"}, nil,
	)
)

// snapshotCollector reads the poller's snapshots on every scrape.
type snapshotCollector struct{ e *Exporter }

func (c snapshotCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- healthDesc
	ch <- failuresDesc
	ch <- lastSuccessDesc
}

func (c snapshotCollector) Collect(ch chan<- prometheus.Metric) {
	c.e.mu.Lock()
	source := c.e.status
	c.e.mu.Unlock()
	if source == nil {
		return
	}

	for _, s := range source() {
		labels := []string{s.Device, s.Bus, strconv.Itoa(int(s.Address))}
		ch <- prometheus.MustNewConstMetric(healthDesc, prometheus.GaugeValue, float64(s.Health), labels...)
		ch <- prometheus.MustNewConstMetric(failuresDesc, prometheus.GaugeValue, float64(s.ConsecutiveFailures), labels...)
		if !s.LastSuccess.IsZero() {
			ch <- prometheus.MustNewConstMetric(lastSuccessDesc, prometheus.GaugeValue,
				float64(s.LastSuccess.UnixNano())/1e9, labels...)
		}
	}
}

// ---- HTTP ----

// Server exposes an Exporter over HTTP.
type Server struct {
	httpServer *http.Server
}

// NewServer serves e on path at addr.
func NewServer(addr, path string, e *Exporter) *Server {
	mux := http.NewServeMux()
	mux.Handle(path, e.Handler())
	return &Server{httpServer: &http.Server{Addr: addr, Handler: mux}}
}

// ListenAndServe blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on ln. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
