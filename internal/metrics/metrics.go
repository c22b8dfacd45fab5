// Package metrics содержит Prometheus-метрики сервера.
// Метрики регистрируются один раз в дефолтном регистре при инициализации пакета.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wordle"

var (
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections_active",
		Help:      "Текущее количество TCP соединений.",
	})

	ConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connections_total",
		Help:      "Общее число принятых TCP соединений.",
	})

	Requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_total",
		Help:      "Обработанные запросы по команде и коду ответа.",
	}, []string{"command", "code"})

	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "request_duration_seconds",
		Help:      "Время выполнения запроса воркером.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"command"})

	PoolRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pool_rejections_total",
		Help:      "Запросы, отклонённые из-за переполнения пула воркеров.",
	})

	PoolInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_inflight",
		Help:      "Запросы в очереди или в работе у воркеров.",
	})

	WordRotations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "word_rotations_total",
		Help:      "Количество смен секретного слова.",
	})

	PushDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "push_deliveries_total",
		Help:      "Доставки push-уведомлений по результату.",
	}, []string{"result"})

	PushSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "push_subscribers",
		Help:      "Активные подписки на push-канал.",
	})

	BusPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "eventbus",
		Name:      "messages_published_total",
		Help:      "Общее число опубликованных сообщений.",
	})

	BusConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "eventbus",
		Name:      "messages_consumed_total",
		Help:      "Общее число доставленных сообщений подписчикам.",
	})

	BusDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "eventbus",
		Name:      "messages_dropped_total",
		Help:      "Сообщений, отброшенных из-за ошибок или ограничения back-pressure.",
	})

	BusInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "eventbus",
		Name:      "messages_inflight",
		Help:      "Количество сообщений, находящихся в очереди (не доставленных).",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsActive,
		ConnectionsTotal,
		Requests,
		RequestDuration,
		PoolRejections,
		PoolInFlight,
		WordRotations,
		PushDeliveries,
		PushSubscribers,
		BusPublished,
		BusConsumed,
		BusDropped,
		BusInFlight,
	)
}
