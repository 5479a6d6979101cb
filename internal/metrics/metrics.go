// Package metrics define los collectors Prometheus de permgate. Viven en un
// paquete propio para que permission/catalog/gate los usen sin depender de http.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "permgate_http_requests_total",
		Help: "Número total de requests procesadas",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "permgate_http_request_duration_seconds",
		Help:    "Latencia de los requests HTTP",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	AuthorizeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "permgate_authorize_total",
		Help: "Decisiones de autorización por acción y resultado",
	}, []string{"action", "result"}) // result: allowed|denied|undetermined

	ResolveTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "permgate_route_resolve_total",
		Help: "Resoluciones de opción por regla aplicada",
	}, []string{"rule"})

	FetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "permgate_source_fetch_total",
		Help: "Cargas completas contra el backend por fuente, tipo y resultado",
	}, []string{"source", "kind", "result"})

	StaleTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "permgate_stale_responses_total",
		Help: "Respuestas descartadas por no corresponder al usuario/carga actual",
	}, []string{"kind"})

	GateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "permgate_gate_transitions_total",
		Help: "Transiciones del gate por estado destino",
	}, []string{"state"})

	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "permgate_active_sessions",
		Help: "Contextos de permisos vivos",
	})
)

func all() []prometheus.Collector {
	return []prometheus.Collector{
		HTTPRequestsTotal, HTTPRequestDuration, AuthorizeTotal, ResolveTotal,
		FetchTotal, StaleTotal, GateTransitions, ActiveSessions,
	}
}

// Register registra los collectors en reg (o el default si es nil) y
// devuelve el handler para /metrics.
func Register(reg prometheus.Registerer) (http.Handler, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range all() {
		if err := registerCollector(reg, c); err != nil {
			return nil, err
		}
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		return promhttp.HandlerFor(g, promhttp.HandlerOpts{}), nil
	}
	return promhttp.Handler(), nil
}

func registerCollector(reg prometheus.Registerer, c prometheus.Collector) error {
	if err := reg.Register(c); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return nil
		}
		return err
	}
	return nil
}

// ObserveHTTP registra un request terminado.
func ObserveHTTP(method, route string, status int, d time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func ObserveAuthorize(action, result string) { AuthorizeTotal.WithLabelValues(action, result).Inc() }
func ObserveResolve(rule string)             { ResolveTotal.WithLabelValues(rule).Inc() }
func ObserveStale(kind string)               { StaleTotal.WithLabelValues(kind).Inc() }
func ObserveGate(state string)               { GateTransitions.WithLabelValues(state).Inc() }

func ObserveFetch(source, kind, result string) {
	FetchTotal.WithLabelValues(source, kind, result).Inc()
}
