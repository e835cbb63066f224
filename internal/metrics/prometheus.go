package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	gometrics "github.com/rcrowley/go-metrics"
)

// collector exports a go-metrics registry on every Prometheus scrape.
// Counters may be registered lazily, so it is an unchecked collector and
// Describe sends nothing.
type collector struct {
	namespace string
	reg       gometrics.Registry
}

func newCollector(namespace string, reg gometrics.Registry) *collector {
	return &collector{namespace: namespace, reg: reg}
}

func (c *collector) Describe(chan<- *prometheus.Desc) {}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	c.reg.Each(func(name string, i interface{}) {
		switch metric := i.(type) {
		case gometrics.Counter:
			c.emit(ch, name, prometheus.CounterValue, float64(metric.Count()))
		case gometrics.Gauge:
			c.emit(ch, name, prometheus.GaugeValue, float64(metric.Value()))
		}
	})
}

func (c *collector) emit(ch chan<- prometheus.Metric, name string, kind prometheus.ValueType, v float64) {
	desc := prometheus.NewDesc(promName(c.namespace, name, kind), name, nil, nil)
	m, err := prometheus.NewConstMetric(desc, kind, v)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(desc, err)
		return
	}
	ch <- m
}

// promName maps "messages.delivered" to "roomrelay_messages_delivered_total".
func promName(namespace, name string, kind prometheus.ValueType) string {
	n := namespace + "_" + strings.NewReplacer(".", "_", "-", "_").Replace(name)
	if kind == prometheus.CounterValue {
		n += "_total"
	}
	return n
}
