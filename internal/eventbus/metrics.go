package eventbus

import (
	"sync"
	"time"

	"github.com/annel0/wordle-server/internal/metrics"
)

// MetricsExporter периодически переносит Stats шины в Prometheus-метрики.
// Сами коллекторы зарегистрированы в пакете metrics, /metrics отдаёт REST-сервер.
type MetricsExporter struct {
	bus      EventBus
	interval time.Duration
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	prev     Stats
}

// NewMetricsExporter создаёт экспортер, но не запускает его.
func NewMetricsExporter(bus EventBus, interval time.Duration) *MetricsExporter {
	if interval <= 0 {
		interval = time.Second
	}
	return &MetricsExporter{
		bus:      bus,
		interval: interval,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start запускает обновление метрик в отдельной горутине.
func (m *MetricsExporter) Start() {
	go m.loop()
}

// Stop останавливает обновление метрик.
func (m *MetricsExporter) Stop() {
	m.stopOnce.Do(func() {
		close(m.quit)
		<-m.done
	})
}

func (m *MetricsExporter) loop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	defer close(m.done)

	for {
		select {
		case <-ticker.C:
			m.collect()
		case <-m.quit:
			m.collect()
			return
		}
	}
}

// collect добавляет к счётчикам приращение с прошлого снимка.
func (m *MetricsExporter) collect() {
	stats := m.bus.Metrics()

	if d := stats.Published - m.prev.Published; d > 0 {
		metrics.BusPublished.Add(float64(d))
	}
	if d := stats.Consumed - m.prev.Consumed; d > 0 {
		metrics.BusConsumed.Add(float64(d))
	}
	if d := stats.Dropped - m.prev.Dropped; d > 0 {
		metrics.BusDropped.Add(float64(d))
	}
	metrics.BusInFlight.Set(float64(stats.InFlight))

	m.prev = stats
}
