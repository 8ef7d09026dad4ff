package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/directout-bridge/internal/directout"
)

const namespace = "dobridge"

// Metrics holds the bridge's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	MessagesReceived *prometheus.CounterVec
	PatchesApplied   prometheus.Counter
	LinesDropped     *prometheus.CounterVec
	CommandsSent     *prometheus.CounterVec
	Reconnects       prometheus.Counter
	DeviceConnected  prometheus.Gauge
	DeviceReady      prometheus.Gauge
	RecordedActions  prometheus.Counter
	VariableUpdates  prometheus.Counter
	MQTTPublished    *prometheus.CounterVec
	WSClients        prometheus.Gauge
}

// New creates the collectors and registers them together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "device",
				Name:      "messages_received_total",
				Help:      "Inbound device messages processed, by message type",
			},
			[]string{"type"},
		),
		PatchesApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "patches_applied_total",
			Help:      "Patches applied to the state tree",
		}),
		LinesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "device",
				Name:      "lines_dropped_total",
				Help:      "Inbound lines discarded, by reason",
			},
			[]string{"reason"},
		),
		CommandsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "device",
				Name:      "commands_sent_total",
				Help:      "Commands written to the device, by command type",
			},
			[]string{"type"},
		),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "reconnects_total",
			Help:      "Connections established after the first one",
		}),
		DeviceConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "connected",
			Help:      "Device connection status (0=disconnected, 1=connected)",
		}),
		DeviceReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "ready",
			Help:      "Whether the root snapshot of the current connection has been loaded",
		}),
		RecordedActions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recorder",
			Name:      "actions_total",
			Help:      "Actions emitted by the recorder",
		}),
		VariableUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "variables",
			Name:      "updates_total",
			Help:      "Variable value changes published",
		}),
		MQTTPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "mqtt",
				Name:      "published_total",
				Help:      "Messages published to the broker, by kind and status",
			},
			[]string{"kind", "status"},
		),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "clients",
			Help:      "Connected WebSocket clients",
		}),
	}

	m.registry.MustRegister(
		m.MessagesReceived,
		m.PatchesApplied,
		m.LinesDropped,
		m.CommandsSent,
		m.Reconnects,
		m.DeviceConnected,
		m.DeviceReady,
		m.RecordedActions,
		m.VariableUpdates,
		m.MQTTPublished,
		m.WSClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Hooks returns session hooks that update the collectors. next, if
// non-nil, is called after each update so other sinks can share the
// session.
func (m *Metrics) Hooks(next directout.Hooks) directout.Hooks {
	var (
		mu        sync.Mutex
		connected bool
		seen      bool
	)
	return directout.Hooks{
		OnMessage: func(msgType string, patches int) {
			m.MessagesReceived.WithLabelValues(msgType).Inc()
			m.PatchesApplied.Add(float64(patches))
			if next.OnMessage != nil {
				next.OnMessage(msgType, patches)
			}
		},
		OnDropped: func(reason string) {
			m.LinesDropped.WithLabelValues(reason).Inc()
			if next.OnDropped != nil {
				next.OnDropped(reason)
			}
		},
		OnSent: func(cmdType string) {
			m.CommandsSent.WithLabelValues(cmdType).Inc()
			if next.OnSent != nil {
				next.OnSent(cmdType)
			}
		},
		OnConnState: func(state directout.ConnState, err error) {
			up := state == directout.StateConnected
			mu.Lock()
			if up && !connected {
				if seen {
					m.Reconnects.Inc()
				}
				seen = true
			}
			connected = up
			mu.Unlock()
			m.DeviceConnected.Set(boolGauge(up))
			if !up {
				m.DeviceReady.Set(0)
			}
			if next.OnConnState != nil {
				next.OnConnState(state, err)
			}
		},
		OnReady: func(info directout.DeviceInfo) {
			m.DeviceReady.Set(1)
			if next.OnReady != nil {
				next.OnReady(info)
			}
		},
		OnRecorded: func(a directout.RecordedAction) {
			m.RecordedActions.Inc()
			if next.OnRecorded != nil {
				next.OnRecorded(a)
			}
		},
		OnVariable: func(name string, value any) {
			m.VariableUpdates.Inc()
			if next.OnVariable != nil {
				next.OnVariable(name, value)
			}
		},
		OnFeedbacks: next.OnFeedbacks,
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
