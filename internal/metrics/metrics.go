// Package metrics holds the prometheus collectors of the process.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/snapp-incubator/mokzi/internal/logging"
)

const namespace = "mokzi"

var (
	// DecisionCounter counts mock decisions by domain and outcome.
	DecisionCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Mock decisions by outcome",
		},
		[]string{"mock_domain", "decision"},
	)

	// HTTPReqCounter counts answered requests by status, method, target and domain.
	HTTPReqCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Answered requests by status code and target",
		},
		[]string{"status", "method", "target", "mock_domain"},
	)

	// HTTPReqDuration observes the time spent answering from a mock or the live origin.
	HTTPReqDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Time spent answering a request",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "target", "mock_domain"},
	)

	// SaveCounter counts recording attempts by result.
	SaveCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mock_saves_total",
			Help:      "Recording attempts by result",
		},
		[]string{"mock_domain", "result"},
	)

	// CatalogSize is the number of mocks in the catalog of the active domain.
	CatalogSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "catalog_mocks",
			Help:      "Mocks in the catalog of the active domain",
		},
		[]string{"mock_domain"},
	)

	// RescanCounter counts full catalog rescans by result.
	RescanCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_rescans_total",
			Help:      "Full catalog rescans by result",
		},
		[]string{"mock_domain", "result"},
	)
)

func init() {
	prometheus.MustRegister(
		DecisionCounter,
		HTTPReqCounter,
		HTTPReqDuration,
		SaveCounter,
		CatalogSize,
		RescanCounter,
	)
}

// InitializeHTTP serves the registered collectors on bind until the process exits.
func InitializeHTTP(bind string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	logging.L.Info("Starting metrics server", zap.String("address", bind))
	if err := http.ListenAndServe(bind, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.L.Error("Metrics server stopped", zap.Error(err))
	}
}
