// Package metrics exposes Prometheus counters for blocks, balance changes,
// published events and monitor restarts.
package metrics

import (
	"balance-keeper/internal/interfaces"
	"balance-keeper/internal/models"
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "balance_keeper"

var (
	_ interfaces.BlockObserver         = (*Metrics)(nil)
	_ interfaces.BalanceChangeObserver = (*Metrics)(nil)
	_ interfaces.EventEmitter          = (*Emitter)(nil)
)

type Metrics struct {
	registry       *prometheus.Registry
	blocks         prometheus.Counter
	lastBlock      prometheus.Gauge
	balanceChanges *prometheus.CounterVec
	events         *prometheus.CounterVec
	restarts       prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		blocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_total",
			Help:      "New block headers handled.",
		}),
		lastBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_block_number",
			Help:      "Number of the latest block header handled.",
		}),
		balanceChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "balance_changes_total",
			Help:      "Balance changes seen per watched address.",
		}, []string{"address"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Published events by type and transfer kind.",
		}, []string{"type", "kind"}),
		restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_restarts_total",
			Help:      "Balance monitor restarts after a raised failure.",
		}),
	}
	m.registry.MustRegister(
		m.blocks,
		m.lastBlock,
		m.balanceChanges,
		m.events,
		m.restarts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) OnNewBlock(_ context.Context, header models.BlockHeader) error {
	m.blocks.Inc()
	m.lastBlock.Set(float64(header.Number))
	return nil
}

func (m *Metrics) OnBalanceChange(_ context.Context, event models.BalanceChangeEvent) error {
	m.balanceChanges.WithLabelValues(event.Address.Hex()).Inc()
	return nil
}

func (m *Metrics) RecordRestart() {
	m.restarts.Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Emitter counts events before handing them to the next emitter.
type Emitter struct {
	next    interfaces.EventEmitter
	metrics *Metrics
}

func (m *Metrics) Emitter(next interfaces.EventEmitter) *Emitter {
	return &Emitter{next: next, metrics: m}
}

func (e *Emitter) EmitEvent(ctx context.Context, event models.Event) error {
	e.metrics.events.WithLabelValues(string(event.Type), event.Kind.String()).Inc()
	if e.next == nil {
		return nil
	}
	return e.next.EmitEvent(ctx, event)
}
