// Package mqtt provides MQTT telemetry publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sweeney/pump-controller/internal/flow"
)

// TopicSample is the MQTT topic for periodic flow samples.
const TopicSample = "pump/flow/sample"

// TopicFault is the MQTT topic for fault transition events.
const TopicFault = "pump/flow/fault"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "pump/system"

// TopicCommand is the MQTT topic the daemon subscribes to for pump commands.
const TopicCommand = "pump/set"

// Publisher publishes telemetry to MQTT.
type Publisher interface {
	// PublishSample sends a periodic flow sample to the broker.
	// Returns error if publishing fails (should not crash the process).
	PublishSample(event SampleEvent) error

	// PublishFault sends a fault transition event to the broker.
	PublishFault(event FaultEvent) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// CommandSource delivers pump commands received from the broker.
type CommandSource interface {
	SubscribeCommands(handler func(Command)) error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Command is a remote pump request.
type Command struct {
	Enable bool
}

// ParseCommand parses a pump command payload. Bare tokens ("on", "off", "1",
// "0", "true", "false") and JSON ({"enabled":true}) are both accepted.
func ParseCommand(payload []byte) (Command, error) {
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return Command{}, fmt.Errorf("empty command")
	}

	if strings.HasPrefix(text, "{") {
		var body struct {
			Enabled *bool `json:"enabled"`
		}
		if err := json.Unmarshal([]byte(text), &body); err != nil {
			return Command{}, fmt.Errorf("parse command: %w", err)
		}
		if body.Enabled == nil {
			return Command{}, fmt.Errorf("command missing \"enabled\" field")
		}
		return Command{Enable: *body.Enabled}, nil
	}

	switch strings.ToLower(text) {
	case "on", "1", "true":
		return Command{Enable: true}, nil
	case "off", "0", "false":
		return Command{Enable: false}, nil
	}
	return Command{}, fmt.Errorf("unknown command %q", text)
}

// SampleEvent represents one flow sample for publishing.
type SampleEvent struct {
	Timestamp time.Time
	RateLPM   float64
	FlowX100  uint16
	Pulses    uint64
	Delta     uint64
	Fault     flow.FaultCode
}

// FaultEvent represents a fault code transition for publishing.
type FaultEvent struct {
	Timestamp time.Time
	Fault     flow.FaultCode
	Previous  flow.FaultCode
	RateLPM   float64
	PumpOn    bool
}

// Kind returns the transition name: FAULT_CLEARED when the new code is
// nominal, FAULT_RAISED otherwise.
func (e FaultEvent) Kind() string {
	if e.Fault == flow.FaultNone {
		return "FAULT_CLEARED"
	}
	return "FAULT_RAISED"
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	Config     *SystemConfig
	Heartbeat  *HeartbeatInfo
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// SystemConfig echoes the active configuration in startup events.
type SystemConfig struct {
	PeriodMs     int     `json:"period_ms"`
	PulsesPerLPM float64 `json:"pulses_per_lpm"`
	MinFlowLPM   float64 `json:"min_flow_lpm"`
	GraceSamples int     `json:"grace_samples"`
	Broker       string  `json:"broker"`
}

// HeartbeatInfo carries the periodic liveness counters.
type HeartbeatInfo struct {
	UptimeSeconds int64           `json:"uptime_seconds"`
	Samples       uint64          `json:"samples"`
	Pulses        uint64          `json:"pulses"`
	Faults        HeartbeatFaults `json:"faults"`
	PumpOn        bool            `json:"pump_on"`
}

// HeartbeatFaults counts fault events seen since startup.
type HeartbeatFaults struct {
	DryRun         uint64 `json:"dry_run"`
	UnexpectedFlow uint64 `json:"unexpected_flow"`
}

// Payload represents the MQTT message payload for flow samples.
type Payload struct {
	Flow FlowPayload `json:"flow"`
}

// FlowPayload contains the flow sample details.
type FlowPayload struct {
	Timestamp string  `json:"timestamp"`
	RateLPM   float64 `json:"rate_lpm"`
	FlowX100  uint16  `json:"flow_x100"`
	Pulses    uint64  `json:"pulses"`
	Delta     uint64  `json:"delta"`
	FaultCode uint8   `json:"fault_code"`
	Fault     string  `json:"fault"`
}

// FormatSamplePayload creates the JSON payload for a flow sample.
func FormatSamplePayload(event SampleEvent) ([]byte, error) {
	payload := Payload{
		Flow: FlowPayload{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			RateLPM:   event.RateLPM,
			FlowX100:  event.FlowX100,
			Pulses:    event.Pulses,
			Delta:     event.Delta,
			FaultCode: uint8(event.Fault),
			Fault:     event.Fault.String(),
		},
	}
	return json.Marshal(payload)
}

// FaultPayload represents the MQTT message payload for fault transitions.
type FaultPayload struct {
	Fault FaultPayloadInner `json:"fault"`
}

// FaultPayloadInner contains the fault transition details.
type FaultPayloadInner struct {
	Timestamp string  `json:"timestamp"`
	Event     string  `json:"event"`
	Code      uint8   `json:"code"`
	Name      string  `json:"name"`
	Previous  string  `json:"previous"`
	RateLPM   float64 `json:"rate_lpm"`
	PumpOn    bool    `json:"pump_on"`
}

// FormatFaultPayload creates the JSON payload for a fault transition.
func FormatFaultPayload(event FaultEvent) ([]byte, error) {
	payload := FaultPayload{
		Fault: FaultPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Kind(),
			Code:      uint8(event.Fault),
			Name:      event.Fault.String(),
			Previous:  event.Previous.String(),
			RateLPM:   event.RateLPM,
			PumpOn:    event.PumpOn,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string         `json:"timestamp"`
	Event     string         `json:"event"`
	Reason    string         `json:"reason,omitempty"`
	Config    *SystemConfig  `json:"config,omitempty"`
	Heartbeat *HeartbeatInfo `json:"heartbeat,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
			Config:    event.Config,
			Heartbeat: event.Heartbeat,
		},
	}
	return json.Marshal(payload)
}
