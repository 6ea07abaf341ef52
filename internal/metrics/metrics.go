// Package metrics exposes Prometheus instruments for the API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mutesky",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route and status",
	}, []string{"route", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mutesky",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"route"})

	operations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mutesky",
		Subsystem: "selection",
		Name:      "operations_total",
		Help:      "Selection operations applied by kind and outcome",
	}, []string{"operation", "outcome"})

	syncs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mutesky",
		Subsystem: "sync",
		Name:      "pushes_total",
		Help:      "Muted-word pushes by outcome",
	}, []string{"outcome"})

	syncKeywords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mutesky",
		Subsystem: "sync",
		Name:      "keywords_total",
		Help:      "Keywords muted or unmuted by successful pushes",
	}, []string{"direction"})

	catalogKeywords = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mutesky",
		Subsystem: "catalog",
		Name:      "keywords",
		Help:      "Managed keywords in the loaded catalog",
	})

	catalogReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mutesky",
		Subsystem: "catalog",
		Name:      "reloads_total",
		Help:      "Catalog loads by outcome",
	}, []string{"outcome"})

	persistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mutesky",
		Subsystem: "selection",
		Name:      "persist_failures_total",
		Help:      "Settle jobs whose write to storage failed",
	})

	workspaces = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mutesky",
		Subsystem: "selection",
		Name:      "workspaces",
		Help:      "Loaded per-account workspaces",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveRequest(route string, status int, elapsed time.Duration) {
	httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	httpLatency.WithLabelValues(route).Observe(elapsed.Seconds())
}

func Operation(name string, changed bool) {
	outcome := "noop"
	if changed {
		outcome = "changed"
	}
	operations.WithLabelValues(name, outcome).Inc()
}

func OperationRejected(name string) {
	operations.WithLabelValues(name, "rejected").Inc()
}

func SyncSucceeded(muted, unmuted int) {
	syncs.WithLabelValues("ok").Inc()
	syncKeywords.WithLabelValues("muted").Add(float64(muted))
	syncKeywords.WithLabelValues("unmuted").Add(float64(unmuted))
}

func SyncFailed(reason string) {
	syncs.WithLabelValues(reason).Inc()
}

func CatalogLoaded(keywords int) {
	catalogReloads.WithLabelValues("ok").Inc()
	catalogKeywords.Set(float64(keywords))
}

func CatalogFailed() {
	catalogReloads.WithLabelValues("error").Inc()
}

func PersistFailed() {
	persistFailures.Inc()
}

func SetWorkspaces(n int) {
	workspaces.Set(float64(n))
}
