package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string     `json:"event,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	Pump          string     `json:"pump"`
	RateLPM       float64    `json:"rate_lpm"`
	FlowX100      uint16     `json:"flow_x100"`
	Pulses        uint64     `json:"pulses"`
	FaultCode     uint8      `json:"fault_code"`
	Fault         string     `json:"fault"`
	Samples       uint64     `json:"samples"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	StartTime     string     `json:"start_time"`
	Timestamp     string     `json:"timestamp"`
	MQTT          MQTTStatus `json:"mqtt"`
	Faults        FaultsJSON `json:"fault_counts"`
	Config        ConfigJSON `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// FaultsJSON is the JSON representation of fault transition counts.
type FaultsJSON struct {
	DryRun         uint64 `json:"dry_run"`
	UnexpectedFlow uint64 `json:"unexpected_flow"`
	Cleared        uint64 `json:"cleared"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Chip         string  `json:"chip"`
	FlowPin      int     `json:"flow_pin"`
	PumpPWMPin   int     `json:"pump_pwm_pin"`
	PumpLowPin   int     `json:"pump_low_pin"`
	PeriodMs     int     `json:"period_ms"`
	PulsesPerLPM float64 `json:"pulses_per_lpm"`
	MinFlowLPM   float64 `json:"min_flow_lpm"`
	GraceSamples int     `json:"grace_samples"`
	Broker       string  `json:"broker"`
	HTTPAddr     string  `json:"http_addr"`
}

func buildInner(snap Snapshot) StatusInner {
	pump := "OFF"
	if snap.PumpOn {
		pump = "ON"
	}

	return StatusInner{
		Pump:          pump,
		RateLPM:       snap.RateLPM,
		FlowX100:      snap.FlowX100,
		Pulses:        snap.Pulses,
		FaultCode:     uint8(snap.Fault),
		Fault:         snap.Fault.String(),
		Samples:       snap.Samples,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Faults: FaultsJSON{
			DryRun:         snap.FaultCounts.DryRun,
			UnexpectedFlow: snap.FaultCounts.UnexpectedFlow,
			Cleared:        snap.FaultCounts.Cleared,
		},
		Config: ConfigJSON{
			Chip:         snap.Config.Chip,
			FlowPin:      snap.Config.FlowPin,
			PumpPWMPin:   snap.Config.PumpPWMPin,
			PumpLowPin:   snap.Config.PumpLowPin,
			PeriodMs:     snap.Config.PeriodMs,
			PulsesPerLPM: snap.Config.PulsesPerLPM,
			MinFlowLPM:   snap.Config.MinFlowLPM,
			GraceSamples: snap.Config.GraceSamples,
			Broker:       snap.Config.Broker,
			HTTPAddr:     snap.Config.HTTPAddr,
		},
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
