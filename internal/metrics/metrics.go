// Package metrics keeps relay counters in a go-metrics registry, reports
// them periodically through the logger, and exposes them to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	gometrics "github.com/rcrowley/go-metrics"
	"go.uber.org/zap"
)

// Counter and gauge names.
const (
	ConnectionsOpened = "connections.opened"
	ConnectionsClosed = "connections.closed"
	ConnectionsActive = "connections.active"
	RoomsActive       = "rooms.active"
	MessagesReceived  = "messages.received"
	MessagesDelivered = "messages.delivered"
	MessagesFailed    = "messages.failed"
	ProtocolErrors    = "errors.protocol"
)

var counters = []string{
	ConnectionsOpened,
	ConnectionsClosed,
	MessagesReceived,
	MessagesDelivered,
	MessagesFailed,
	ProtocolErrors,
}

// Metrics owns a go-metrics registry and the Prometheus registry bridged to it.
type Metrics struct {
	reg  gometrics.Registry
	prom *prometheus.Registry
}

// New creates a Metrics with every counter pre-registered at zero.
func New() *Metrics {
	m := &Metrics{
		reg:  gometrics.NewRegistry(),
		prom: prometheus.NewRegistry(),
	}
	for _, name := range counters {
		gometrics.GetOrRegisterCounter(name, m.reg)
	}
	m.prom.MustRegister(newCollector("roomrelay", m.reg))
	return m
}

// Incr adds i to the named counter.
func (m *Metrics) Incr(name string, i int64) {
	gometrics.GetOrRegisterCounter(name, m.reg).Inc(i)
}

// Gauge registers a gauge whose value is read from f on every report.
func (m *Metrics) Gauge(name string, f func() int64) {
	m.reg.Unregister(name)
	_ = m.reg.Register(name, gometrics.NewFunctionalGauge(f))
}

// Value returns the current value of a counter or gauge, or 0 if unknown.
func (m *Metrics) Value(name string) int64 {
	switch metric := m.reg.Get(name).(type) {
	case gometrics.Counter:
		return metric.Count()
	case gometrics.Gauge:
		return metric.Value()
	default:
		return 0
	}
}

// Snapshot returns every counter and gauge keyed by name.
func (m *Metrics) Snapshot() map[string]int64 {
	out := make(map[string]int64)
	m.reg.Each(func(name string, i interface{}) {
		switch metric := i.(type) {
		case gometrics.Counter:
			out[name] = metric.Count()
		case gometrics.Gauge:
			out[name] = metric.Value()
		}
	})
	return out
}

// Report logs a snapshot every interval until ctx is done, then logs a
// final snapshot.
func (m *Metrics) Report(ctx context.Context, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.writeOnce(logger)
			return
		case <-ticker.C:
			m.writeOnce(logger)
		}
	}
}

func (m *Metrics) writeOnce(logger *zap.Logger) {
	snap := m.Snapshot()
	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]zap.Field, 0, len(names))
	for _, name := range names {
		fields = append(fields, zap.Int64(name, snap[name]))
	}
	logger.Info("metrics", fields...)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.prom, promhttp.HandlerOpts{})
}
