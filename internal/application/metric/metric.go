package metric

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Причины, по которым relay не доставил сообщение
const (
	DropNoRecipient = "no_recipient"
	DropQueueFull   = "queue_full"
	DropRateLimited = "rate_limited"
	DropMalformed   = "malformed"
	DropNotJoined   = "not_joined"
)

var (
	// HTTP метрики - количество запросов
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Общее количество HTTP запросов",
		},
		[]string{"method", "endpoint", "status"},
	)

	// HTTP метрики - время обработки запросов
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Время обработки HTTP запросов в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	// WS метрики - количество активных соединений
	wsActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_active_connections",
			Help: "Количество активных WebSocket соединений",
		},
	)

	wsSessionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ws_session_duration_seconds",
			Help:    "Время жизни WebSocket соединений в секундах",
			Buckets: []float64{1, 10, 60, 300, 900, 3600, 4 * 3600},
		},
	)

	roomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_rooms_active",
			Help: "Количество комнат с участниками",
		},
	)

	participantsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_participants_active",
			Help: "Количество участников во всех комнатах",
		},
	)

	// Сообщения, доставленные получателям, по типу
	relayedMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_relayed_total",
			Help: "Количество доставленных сообщений",
		},
		[]string{"type"},
	)

	droppedMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_dropped_total",
			Help: "Количество отброшенных сообщений",
		},
		[]string{"type", "reason"},
	)
)

// RecordHTTPMetrics записывает метрики HTTP запроса
func RecordHTTPMetrics(method, endpoint string, status int, duration time.Duration) {
	strStatus := strconv.Itoa(status)

	httpRequestsTotal.WithLabelValues(method, endpoint, strStatus).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint, strStatus).Observe(duration.Seconds())
}

// RecordWSSession записывает запрос на /ws. Длительность идет в отдельную
// гистограмму, чтобы не искажать время обработки обычных запросов
func RecordWSSession(method, endpoint string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	wsSessionDuration.Observe(duration.Seconds())
}

func IncrementWSActiveConnections() {
	wsActiveConnections.Inc()
}

func DecrementWSActiveConnections() {
	wsActiveConnections.Dec()
}

// SetRoomStats - снимок размера репозитория комнат
func SetRoomStats(rooms, participants int) {
	roomsActive.Set(float64(rooms))
	participantsActive.Set(float64(participants))
}

func IncrementRelayed(msgType string) {
	relayedMessagesTotal.WithLabelValues(msgType).Inc()
}

func IncrementDropped(msgType, reason string) {
	droppedMessagesTotal.WithLabelValues(msgType, reason).Inc()
}
