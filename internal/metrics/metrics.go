package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/blind"
	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/motion"
)

const namespace = "motionblinds"

// NewRegistry creates a registry with the Go and process collectors
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the metrics of reg
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// NewServer returns an HTTP server exposing reg on path
func NewServer(addr, path string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(path, Handler(reg))
	return &http.Server{Addr: addr, Handler: mux}
}

// BlindMetrics counts session events and exports the last known blind state
type BlindMetrics struct {
	ConnectAttempts      *prometheus.CounterVec // labels: blind
	ConnectionState      *prometheus.GaugeVec   // labels: blind, state
	CommandsSent         *prometheus.CounterVec // labels: blind, command
	NotificationsTotal   *prometheus.CounterVec // labels: blind, type
	NotificationsDropped *prometheus.CounterVec // labels: blind
	Position             *prometheus.GaugeVec   // labels: blind
	Tilt                 *prometheus.GaugeVec   // labels: blind
	Battery              *prometheus.GaugeVec   // labels: blind
	RSSI                 *prometheus.GaugeVec   // labels: blind
}

var _ blind.Observer = (*BlindMetrics)(nil)

var connectionStates = []blind.ConnectionState{
	blind.Disconnected,
	blind.Connecting,
	blind.Connected,
	blind.Disconnecting,
}

func NewBlindMetrics(reg prometheus.Registerer) *BlindMetrics {
	m := &BlindMetrics{
		ConnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Connection attempts started.",
		}, []string{"blind"}),
		ConnectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "1 for the current connection state of the blind, 0 otherwise.",
		}, []string{"blind", "state"}),
		CommandsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_sent_total",
			Help:      "Commands written to the motor by type.",
		}, []string{"blind", "command"}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications decoded by type.",
		}, []string{"blind", "type"}),
		NotificationsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dropped_total",
			Help:      "Malformed notifications dropped.",
		}, []string{"blind"}),
		Position: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "position_ratio",
			Help:      "Last known position, 1 fully open.",
		}, []string{"blind"}),
		Tilt: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tilt_ratio",
			Help:      "Last known slat tilt, 1 fully open.",
		}, []string{"blind"}),
		Battery: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "battery_percent",
			Help:      "Last reported battery level.",
		}, []string{"blind"}),
		RSSI: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rssi_dbm",
			Help:      "Signal strength seen by the last scan.",
		}, []string{"blind"}),
	}
	reg.MustRegister(
		m.ConnectAttempts, m.ConnectionState, m.CommandsSent, m.NotificationsTotal,
		m.NotificationsDropped, m.Position, m.Tilt, m.Battery, m.RSSI,
	)
	return m
}

func (m *BlindMetrics) ConnectAttempt(id string) {
	m.ConnectAttempts.WithLabelValues(id).Inc()
}

func (m *BlindMetrics) ConnectionStateChanged(id string, state blind.ConnectionState) {
	for _, s := range connectionStates {
		value := 0.0
		if s == state {
			value = 1
		}
		m.ConnectionState.WithLabelValues(id, s.String()).Set(value)
	}
}

func (m *BlindMetrics) CommandSent(id string, command motion.CommandType) {
	m.CommandsSent.WithLabelValues(id, command.String()).Inc()
}

func (m *BlindMetrics) NotificationReceived(id string, kind motion.NotificationType) {
	m.NotificationsTotal.WithLabelValues(id, kind.String()).Inc()
}

func (m *BlindMetrics) NotificationDropped(id string) {
	m.NotificationsDropped.WithLabelValues(id).Inc()
}

// UpdateState exports the known parts of a blind state; unknown values are removed
func (m *BlindMetrics) UpdateState(st blind.State) {
	setOrDelete := func(g *prometheus.GaugeVec, known bool, value float64) {
		if known {
			g.WithLabelValues(st.ID).Set(value)
		} else {
			g.DeleteLabelValues(st.ID)
		}
	}
	setOrDelete(m.Position, st.PositionKnown, st.Position)
	setOrDelete(m.Tilt, st.TiltKnown, st.Tilt)
	setOrDelete(m.Battery, st.Battery >= 0, float64(st.Battery))
	setOrDelete(m.RSSI, st.RSSIKnown, float64(st.RSSI))
}
