package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "homie"

// Collectors for the controller pipeline. Registered on the default
// registry and exposed by the web server at /metrics.
var (
	MessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mqtt",
		Name:      "messages_total",
		Help:      "MQTT messages received under the base topic.",
	})

	MessagesIgnored = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "controller",
		Name:      "messages_ignored_total",
		Help:      "Messages whose topic shape is not part of the convention.",
	})

	ParseErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "controller",
		Name:      "parse_errors_total",
		Help:      "Updates discarded because a payload or identifier failed to parse.",
	}, []string{"kind"})

	Devices = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "controller",
		Name:      "devices",
		Help:      "Devices currently present in the model.",
	})

	DevicesComplete = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "controller",
		Name:      "devices_complete",
		Help:      "Devices whose required attributes have all been seen.",
	})

	EventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "controller",
		Name:      "events_dropped_total",
		Help:      "Change events dropped because a subscriber buffer was full.",
	})

	MQTTConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "mqtt",
		Name:      "connected",
		Help:      "Whether the MQTT broker connection is up.",
	})
)

func init() {
	prometheus.MustRegister(
		MessagesTotal,
		MessagesIgnored,
		ParseErrors,
		Devices,
		DevicesComplete,
		EventsDropped,
		MQTTConnected,
	)
}
