package chat

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ConnectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connected_clients",
		Help: "Number of clients holding a registered nickname",
	})

	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_active_sessions",
		Help: "Number of open connections, including those still negotiating a nickname",
	})

	AcceptedConnections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_accepted_connections_total",
		Help: "Total connections accepted by the listener",
	})

	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_total",
		Help: "Total messages fanned out by kind",
	}, []string{"kind"})

	NicknameRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_nickname_rejections_total",
		Help: "Nickname candidates answered with NICKNAME_INVALID, by reason",
	}, []string{"reason"})

	SinkFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_sink_failures_total",
		Help: "Lines that could not be queued for a recipient",
	})

	EventProcessingDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_event_processing_seconds",
		Help:    "Time the registry spends on each event type",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})
)

func init() {
	prometheus.MustRegister(ConnectedClients)
	prometheus.MustRegister(ActiveSessions)
	prometheus.MustRegister(AcceptedConnections)
	prometheus.MustRegister(MessagesTotal)
	prometheus.MustRegister(NicknameRejections)
	prometheus.MustRegister(SinkFailures)
	prometheus.MustRegister(EventProcessingDuration)
}

// NewMetricsServer returns an HTTP server exposing /metrics on addr.
func NewMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
