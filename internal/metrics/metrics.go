// Package metrics exposes the engine's statistics as Prometheus
// gauges, per SPEC_FULL.md's optional Stats Exporter (component C10).
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/GH41318103/kvengine/internal/engine"
)

// Metrics holds the gauges refreshed from an Engine's Statistics.
type Metrics struct {
	totalKeys   prometheus.Gauge
	memoryUsed  prometheus.Gauge
	totalReads  prometheus.Gauge
	totalWrites prometheus.Gauge
}

var (
	sharedOnce    sync.Once
	sharedMetrics *Metrics
)

// NewMetrics registers the engine gauges on the default Prometheus
// registry on its first call and returns them; later calls return the
// same gauges instead of registering duplicates.
func NewMetrics() *Metrics {
	sharedOnce.Do(func() { sharedMetrics = newMetrics() })
	return sharedMetrics
}

func newMetrics() *Metrics {
	return &Metrics{
		totalKeys: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "kvengine_total_keys",
			Help: "Number of keys currently stored.",
		}),
		memoryUsed: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "kvengine_memory_used_bytes",
			Help: "Estimated in-memory size of the store.",
		}),
		totalReads: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "kvengine_total_reads",
			Help: "Cumulative number of read operations served.",
		}),
		totalWrites: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "kvengine_total_writes",
			Help: "Cumulative number of write operations served.",
		}),
	}
}

// Refresh sets the gauges from a fresh Engine.Stats() snapshot.
func (m *Metrics) Refresh(e *engine.Engine) {
	stats := e.Stats()
	m.totalKeys.Set(float64(stats.TotalKeys))
	m.memoryUsed.Set(float64(stats.MemoryUsed))
	m.totalReads.Set(float64(stats.TotalReads))
	m.totalWrites.Set(float64(stats.TotalWrites))
}
