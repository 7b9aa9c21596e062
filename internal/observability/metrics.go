// Package observability собирает метрики Prometheus и настраивает трассировку OpenTelemetry.
package observability

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector — метрики симуляционного цикла.
type Collector struct {
	gatherer prometheus.Gatherer

	Ticks          prometheus.Counter
	TickFailures   *prometheus.CounterVec
	TickDuration   prometheus.Histogram
	Objects        prometheus.Gauge
	CatalogEntries prometheus.Gauge
}

// NewCollector регистрирует метрики в reg (по умолчанию — глобальный реестр).
// Повторная регистрация возвращает уже существующие коллекторы.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	ticks, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "satkin_ticks_total",
		Help: "Total number of object moves performed by the scheduler.",
	}))
	if err != nil {
		return nil, err
	}

	failures, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "satkin_tick_failures_total",
		Help: "Object moves that failed, labeled by failure kind.",
	}, []string{"kind"}))
	if err != nil {
		return nil, err
	}

	duration, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "satkin_tick_duration_seconds",
		Help:    "Duration of one scheduler step over all objects.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}))
	if err != nil {
		return nil, err
	}

	objects, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "satkin_objects",
		Help: "Number of objects registered in the scheduler.",
	}))
	if err != nil {
		return nil, err
	}

	entries, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "satkin_catalog_entries",
		Help: "Number of TLE sets held in the catalog.",
	}))
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:       gatherer,
		Ticks:          ticks,
		TickFailures:   failures,
		TickDuration:   duration,
		Objects:        objects,
		CatalogEntries: entries,
	}, nil
}

// ObserveStep фиксирует шаг планировщика: число перемещений и длительность.
func (c *Collector) ObserveStep(moves int, d time.Duration) {
	if c == nil {
		return
	}
	c.Ticks.Add(float64(moves))
	c.TickDuration.Observe(d.Seconds())
}

// RecordFailure увеличивает счётчик ошибок вида kind.
func (c *Collector) RecordFailure(kind string) {
	if c == nil {
		return
	}
	c.TickFailures.WithLabelValues(kind).Inc()
}

func (c *Collector) SetObjects(n int) {
	if c == nil {
		return
	}
	c.Objects.Set(float64(n))
}

func (c *Collector) SetCatalogEntries(n int) {
	if c == nil {
		return
	}
	c.CatalogEntries.Set(float64(n))
}

// Handler возвращает обработчик /metrics.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}

	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing, nil
		}
		var zero T
		return zero, fmt.Errorf("collector already registered with incompatible type: %w", err)
	}

	var zero T
	return zero, err
}
