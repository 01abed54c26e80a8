// Package metrics exposes the daemon's Prometheus collectors. Everything
// registers on the default registry and is served by the web package's
// /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sweeney/pump-controller/internal/flow"
)

var (
	pulsesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pump_pulses_total",
		Help: "Flow sensor edges accumulated across samples.",
	})

	samplesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pump_samples_total",
		Help: "Sampling ticks processed.",
	})

	faultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pump_faults_total",
		Help: "Fault raise transitions by fault name.",
	}, []string{"fault"})

	mqttBufferedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pump_mqtt_buffered_total",
		Help: "Messages queued locally while the broker was unreachable.",
	})

	flowRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pump_flow_lpm",
		Help: "Last sampled flow rate in L/min.",
	})

	faultCode = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pump_fault_code",
		Help: "Current fault code (0 nominal, 1 dry-run, 2 unexpected flow).",
	})

	pumpEnabled = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pump_enabled",
		Help: "Whether the pump drive is currently on.",
	})
)

// ObserveSample records one sampling tick.
func ObserveSample(s flow.Sample) {
	samplesTotal.Inc()
	pulsesTotal.Add(float64(s.Delta))
	flowRate.Set(s.RateLPM)
	faultCode.Set(float64(s.Fault))
}

// FaultRaised counts a transition into the given fault.
func FaultRaised(f flow.FaultCode) {
	faultsTotal.WithLabelValues(f.String()).Inc()
}

// SetEnabled mirrors the pump drive state.
func SetEnabled(on bool) {
	if on {
		pumpEnabled.Set(1)
	} else {
		pumpEnabled.Set(0)
	}
}

// MQTTBuffered counts a message diverted to the offline buffer.
func MQTTBuffered() {
	mqttBufferedTotal.Inc()
}
