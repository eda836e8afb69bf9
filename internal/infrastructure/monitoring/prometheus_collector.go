package monitoring

import (
	"strconv"
	"time"

	"rtclink/internal/core/domain"
	"rtclink/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector records router and client metrics. One collector may
// serve both sides in the same process.
type PrometheusCollector struct {
	// Router
	connectionsActive   prometheus.Gauge
	connectionsTotal    prometheus.Counter
	connectionsLeft     *prometheus.CounterVec
	streamsActive       prometheus.Gauge
	subscriptionsActive prometheus.Gauge
	signalsRouted       prometheus.Counter
	signalRecipients    prometheus.Histogram
	commandsRejected    *prometheus.CounterVec
	commandDuration     *prometheus.HistogramVec

	// Client
	sessionTransitions *prometheus.CounterVec
	callbacks          *prometheus.CounterVec
	signalsSent        *prometheus.CounterVec
	connectLatency     prometheus.Histogram
}

var (
	_ ports.RouterMetrics = (*PrometheusCollector)(nil)
	_ ports.ClientMetrics = (*PrometheusCollector)(nil)
)

// NewPrometheusCollector registers its metrics with reg, or with the default
// registry when reg is nil.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &PrometheusCollector{
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rtclink_connections_active",
			Help: "Number of connections currently joined to a session",
		}),

		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "rtclink_connections_total",
			Help: "Total number of accepted joins",
		}),

		connectionsLeft: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rtclink_connections_left_total",
			Help: "Connections that left a session, by reason",
		}, []string{"reason"}),

		streamsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rtclink_streams_active",
			Help: "Number of published streams",
		}),

		subscriptionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rtclink_subscriptions_active",
			Help: "Number of active subscriptions",
		}),

		signalsRouted: factory.NewCounter(prometheus.CounterOpts{
			Name: "rtclink_signals_routed_total",
			Help: "Total number of application signals routed",
		}),

		signalRecipients: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rtclink_signal_recipients",
			Help:    "Recipients per routed signal",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		}),

		commandsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rtclink_commands_rejected_total",
			Help: "Commands the router rejected, by command and status",
		}, []string{"command", "status"}),

		commandDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rtclink_command_duration_seconds",
			Help:    "Time spent handling a command",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}, []string{"command"}),

		sessionTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rtclink_client_session_transitions_total",
			Help: "Client session state transitions",
		}, []string{"from", "to"}),

		callbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rtclink_client_callbacks_total",
			Help: "Callbacks delivered to the application",
		}, []string{"entity", "callback"}),

		signalsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rtclink_client_signals_sent_total",
			Help: "Signals sent by the client, by outcome",
		}, []string{"outcome"}),

		connectLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rtclink_client_connect_latency_seconds",
			Help:    "Time from connect to the connected callback",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
	}
}

func (p *PrometheusCollector) ConnectionJoined() {
	p.connectionsActive.Inc()
	p.connectionsTotal.Inc()
}

func (p *PrometheusCollector) ConnectionLeft(reason string) {
	p.connectionsActive.Dec()
	p.connectionsLeft.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) StreamPublished()   { p.streamsActive.Inc() }
func (p *PrometheusCollector) StreamUnpublished() { p.streamsActive.Dec() }

func (p *PrometheusCollector) SubscriptionChanged(delta int) {
	p.subscriptionsActive.Add(float64(delta))
}

func (p *PrometheusCollector) SignalRouted(recipients int) {
	p.signalsRouted.Inc()
	p.signalRecipients.Observe(float64(recipients))
}

func (p *PrometheusCollector) CommandRejected(command string, status domain.Status) {
	p.commandsRejected.WithLabelValues(command, strconv.Itoa(int(status))).Inc()
}

func (p *PrometheusCollector) CommandDuration(command string, d time.Duration) {
	p.commandDuration.WithLabelValues(command).Observe(d.Seconds())
}

func (p *PrometheusCollector) SessionStateChanged(from, to domain.SessionState) {
	p.sessionTransitions.WithLabelValues(string(from), string(to)).Inc()
}

func (p *PrometheusCollector) CallbackDispatched(entity, name string) {
	p.callbacks.WithLabelValues(entity, name).Inc()
}

func (p *PrometheusCollector) SignalSent(ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	p.signalsSent.WithLabelValues(outcome).Inc()
}

func (p *PrometheusCollector) ConnectLatency(d time.Duration) {
	p.connectLatency.Observe(d.Seconds())
}
