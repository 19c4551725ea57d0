package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry creates a new Prometheus registry with metrics
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	return reg, m
}

// HandlerFor returns an HTTP handler for a specific registry
func HandlerFor(reg prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: false})
}

// WriteTextfile writes everything reg gathers to path in the text format
// read by the node_exporter textfile collector. The file is replaced
// atomically.
func WriteTextfile(reg prometheus.Gatherer, path string) error {
	return prometheus.WriteToTextfile(path, reg)
}
