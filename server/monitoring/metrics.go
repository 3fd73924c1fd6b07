package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "kbmigrate"

//Directions of a slice
const (
	DirectionExport = "export"
	DirectionImport = "import"
)

//Collector keeps the migration metrics. A nil Collector records nothing.
type Collector struct {
	registry *prometheus.Registry

	slices        *prometheus.CounterVec
	items         *prometheus.CounterVec
	itemFailures  *prometheus.CounterVec
	sliceDuration *prometheus.HistogramVec
	documents     *prometheus.CounterVec
	purges        prometheus.Counter
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		slices: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "slices_total",
				Help:      "The number of processed slices.",
			}, []string{"direction", "type"},
		),
		items: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "items_total",
				Help:      "The number of items acknowledged to the driver.",
			}, []string{"direction", "type"},
		),
		itemFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "item_failures_total",
				Help:      "The number of items skipped or dropped inside acknowledged slices.",
			}, []string{"direction", "type"},
		),
		sliceDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "slice_duration_seconds",
				Help:      "The time taken to process one slice.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			}, []string{"direction", "type"},
		),
		documents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "documents_total",
				Help:      "The number of export documents by stage.",
			}, []string{"stage"},
		),
		purges: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "purges_total",
				Help:      "The number of times all migrated data was deleted.",
			},
		),
	}
	c.registry.MustRegister(c, prometheus.NewGoCollector())
	return c
}

//Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.slices.Describe(ch)
	c.items.Describe(ch)
	c.itemFailures.Describe(ch)
	c.sliceDuration.Describe(ch)
	c.documents.Describe(ch)
	c.purges.Describe(ch)
}

//Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.slices.Collect(ch)
	c.items.Collect(ch)
	c.itemFailures.Collect(ch)
	c.sliceDuration.Collect(ch)
	c.documents.Collect(ch)
	c.purges.Collect(ch)
}

func (c *Collector) ObserveSlice(direction string, objectType string, items int, failures int, started time.Time) {
	if c == nil {
		return
	}
	c.slices.WithLabelValues(direction, objectType).Inc()
	c.items.WithLabelValues(direction, objectType).Add(float64(items))
	c.itemFailures.WithLabelValues(direction, objectType).Add(float64(failures))
	c.sliceDuration.WithLabelValues(direction, objectType).Observe(time.Since(started).Seconds())
}

//DocumentStage counts "created" and "closed" export documents.
func (c *Collector) DocumentStage(stage string) {
	if c == nil {
		return
	}
	c.documents.WithLabelValues(stage).Inc()
}

func (c *Collector) Purged() {
	if c == nil {
		return
	}
	c.purges.Inc()
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
