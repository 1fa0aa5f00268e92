package metrics

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the settlement counters on a private prometheus registry.
type Registry struct {
	registry    *prometheus.Registry
	outcomes    *prometheus.CounterVec
	redemptions *prometheus.CounterVec
}

// NewRegistry namespaces every metric under namespace, with characters that
// prometheus rejects replaced by underscores.
func NewRegistry(namespace string) *Registry {
	namespace = sanitize(namespace)
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "contribution",
		Name:      "outcomes_total",
		Help:      "Settlement engine outcomes by operation.",
	}, []string{"operation", "outcome"})
	redemptions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "contribution",
		Name:      "redemptions_total",
		Help:      "Redemption processor calls by processor and result.",
	}, []string{"processor", "success"})
	registry.MustRegister(outcomes, redemptions)

	return &Registry{
		registry:    registry,
		outcomes:    outcomes,
		redemptions: redemptions,
	}
}

func (r *Registry) ObserveOutcome(operation string, outcome string) {
	r.outcomes.WithLabelValues(operation, outcome).Inc()
}

func (r *Registry) ObserveRedemption(processor string, success bool) {
	r.redemptions.WithLabelValues(processor, strconv.FormatBool(success)).Inc()
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
