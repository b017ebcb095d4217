package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"refinery/internal/types"
)

const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

var (
	refinementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "refinery",
			Name:      "refinements_total",
			Help:      "Refinement submissions, partitioned by outcome (success or error kind).",
		},
		[]string{"outcome"},
	)

	oracleRequestSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "refinery",
			Name:      "oracle_request_seconds",
			Help:      "Latency of LLM provider calls in seconds.",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 15, 30, 60, 120},
		},
		[]string{"provider"},
	)

	oracleErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "refinery",
			Name:      "oracle_errors_total",
			Help:      "Failed LLM provider calls.",
		},
		[]string{"provider"},
	)

	persistenceTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "refinery",
			Name:      "persistence_total",
			Help:      "Storage operations, partitioned by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)
)

// Register attaches refinery collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	for _, collector := range []prometheus.Collector{
		refinementsTotal,
		oracleRequestSeconds,
		oracleErrorsTotal,
		persistenceTotal,
	} {
		if err := reg.Register(collector); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// NewRegistry returns a private registry carrying the refinery collectors
// together with the Go runtime and process collectors.
func NewRegistry() (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := Register(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// ObserveRefinement counts one submission. A nil err is a success; any other
// error is labelled with its kind.
func ObserveRefinement(err error) {
	label := OutcomeSuccess
	if err != nil {
		label = types.KindOf(err)
	}
	refinementsTotal.WithLabelValues(label).Inc()
}

func ObservePersistence(op string, err error) {
	label := OutcomeSuccess
	if err != nil {
		label = OutcomeError
	}
	persistenceTotal.WithLabelValues(op, label).Inc()
}

// Oracle adapts the package collectors to the LLM metrics middleware.
type Oracle struct{}

func (Oracle) ObserveOracleRequest(provider string, elapsed time.Duration, err error) {
	if elapsed < 0 {
		elapsed = 0
	}
	oracleRequestSeconds.WithLabelValues(provider).Observe(elapsed.Seconds())
	if err != nil {
		oracleErrorsTotal.WithLabelValues(provider).Inc()
	}
}
