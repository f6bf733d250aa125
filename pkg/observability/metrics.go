package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig configures the Prometheus registry exposed by the core.
type MetricsConfig struct {
	ServiceName string
	Namespace   string
	Enabled     bool
}

// Metrics is the trading core's Prometheus surface. It is shared across
// connectors, the order manager, the router, the allocator and the
// orchestrator so cross-component dashboards stay in one registry.
type Metrics struct {
	registry *prometheus.Registry

	OrdersSubmitted  *prometheus.CounterVec
	OrdersFilled     *prometheus.CounterVec
	OrdersRejected   *prometheus.CounterVec
	StreamDrops      *prometheus.CounterVec
	StreamReconnects *prometheus.CounterVec
	VenueScore       *prometheus.GaugeVec
	AllocatorTransfers *prometheus.CounterVec
	AllocatorExpired   *prometheus.CounterVec
	CircuitBreakerTrips prometheus.Counter
	OpportunitiesFound  *prometheus.CounterVec
}

// NewMetrics creates and registers the trading core's metric set on a
// private registry. cfg.Enabled is not consulted: the full set is always
// built, so call sites never need a nil check.
func NewMetrics(cfg MetricsConfig) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	ns := cfg.Namespace
	if ns == "" {
		ns = "trading_core"
	}

	return &Metrics{
		registry: registry,
		OrdersSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "orders_submitted_total", Help: "orders accepted by the order manager",
		}, []string{"symbol", "venue"}),
		OrdersFilled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "orders_filled_total", Help: "orders reaching Filled",
		}, []string{"symbol", "venue"}),
		OrdersRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "orders_rejected_total", Help: "orders rejected by validation or risk gate",
		}, []string{"reason"}),
		StreamDrops: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "stream_drops_total", Help: "market stream messages dropped due to a full queue",
		}, []string{"venue", "symbol"}),
		StreamReconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "stream_reconnects_total", Help: "market stream reconnect attempts",
		}, []string{"venue"}),
		VenueScore: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Name: "venue_route_score", Help: "last computed smart-router total score",
		}, []string{"venue", "symbol"}),
		AllocatorTransfers: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "allocator_transfers_total", Help: "capital transfers executed by the allocator",
		}, []string{"from_venue", "to_venue", "priority"}),
		AllocatorExpired: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "allocator_expired_total", Help: "allocation requests dropped past their deadline",
		}, []string{"priority"}),
		CircuitBreakerTrips: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "circuit_breaker_trips_total", Help: "number of times the admission circuit breaker opened",
		}),
		OpportunitiesFound: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "opportunities_found_total", Help: "arbitrage opportunities emitted by the detector",
		}, []string{"symbol"}),
	}
}

// Handler exposes the registry on the conventional /metrics path.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
