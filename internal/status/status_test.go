package status

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/pump-controller/internal/flow"
)

func TestNewTracker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := Config{PeriodMs: 1000, MinFlowLPM: 0.2, Broker: "tcp://localhost:1883", HTTPAddr: ":8080"}
	tr := NewTracker(start, cfg)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Config.PeriodMs != 1000 {
		t.Errorf("Config.PeriodMs: got %d, want 1000", snap.Config.PeriodMs)
	}
	if snap.Config.HTTPAddr != ":8080" {
		t.Errorf("Config.HTTPAddr: got %q, want %q", snap.Config.HTTPAddr, ":8080")
	}
	if snap.PumpOn {
		t.Error("expected PumpOn=false initially")
	}
	if snap.Fault != flow.FaultNone {
		t.Errorf("expected nominal fault initially, got %s", snap.Fault)
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
}

func TestRecordSampleAndSnapshot(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.RecordSample(1.25, 125, 7140, flow.FaultNone)
	tr.RecordSample(1.40, 140, 7148, flow.FaultNone)

	snap := tr.Snapshot()
	if snap.RateLPM != 1.40 {
		t.Errorf("RateLPM: got %v, want 1.40", snap.RateLPM)
	}
	if snap.FlowX100 != 140 {
		t.Errorf("FlowX100: got %d, want 140", snap.FlowX100)
	}
	if snap.Pulses != 7148 {
		t.Errorf("Pulses: got %d, want 7148", snap.Pulses)
	}
	if snap.Samples != 2 {
		t.Errorf("Samples: got %d, want 2", snap.Samples)
	}
}

func TestRecordSampleCountsFaultTransitions(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.RecordSample(1.0, 100, 10, flow.FaultNone)
	tr.RecordSample(0, 0, 10, flow.FaultDryRun)
	tr.RecordSample(0, 0, 10, flow.FaultDryRun) // sustained, not a new transition
	tr.RecordSample(1.0, 100, 20, flow.FaultNone)
	tr.RecordSample(0.5, 50, 25, flow.FaultUnexpectedFlow)

	counts := tr.Snapshot().FaultCounts
	if counts.DryRun != 1 {
		t.Errorf("DryRun: got %d, want 1", counts.DryRun)
	}
	if counts.UnexpectedFlow != 1 {
		t.Errorf("UnexpectedFlow: got %d, want 1", counts.UnexpectedFlow)
	}
	if counts.Cleared != 1 {
		t.Errorf("Cleared: got %d, want 1", counts.Cleared)
	}
	if tr.Snapshot().Fault != flow.FaultUnexpectedFlow {
		t.Errorf("Fault: got %s, want unexpected-flow", tr.Snapshot().Fault)
	}
}

func TestFirstNominalSampleIsNotATransition(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.RecordSample(1.0, 100, 10, flow.FaultNone)

	if got := tr.Snapshot().FaultCounts.Cleared; got != 0 {
		t.Errorf("Cleared: got %d, want 0", got)
	}
}

func TestSetPumpOn(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.SetPumpOn(true)
	if !tr.Snapshot().PumpOn {
		t.Error("expected PumpOn=true")
	}

	tr.SetPumpOn(false)
	if tr.Snapshot().PumpOn {
		t.Error("expected PumpOn=false")
	}
}

func TestSetMQTTConnected(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.SetMQTTConnected(true)
	if !tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}

	tr.SetMQTTConnected(false)
	if tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=false")
	}
}

func TestSetTuning(t *testing.T) {
	tr := NewTracker(time.Now(), Config{MinFlowLPM: 0.2, GraceSamples: 3})

	tr.SetTuning(0.75, 5)
	snap := tr.Snapshot()
	if snap.Config.MinFlowLPM != 0.75 {
		t.Errorf("MinFlowLPM: got %v, want 0.75", snap.Config.MinFlowLPM)
	}
	if snap.Config.GraceSamples != 5 {
		t.Errorf("GraceSamples: got %d, want 5", snap.Config.GraceSamples)
	}

	// Zero values leave the previous tuning in place.
	tr.SetTuning(0, 0)
	snap = tr.Snapshot()
	if snap.Config.MinFlowLPM != 0.75 {
		t.Errorf("MinFlowLPM after zero retune: got %v, want 0.75", snap.Config.MinFlowLPM)
	}
	if snap.Config.GraceSamples != 5 {
		t.Errorf("GraceSamples after zero retune: got %d, want 5", snap.Config.GraceSamples)
	}
}

func TestSnapshotUptime(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		StartTime: start,
		Now:       start.Add(15 * time.Minute),
	}

	if snap.Uptime() != 15*time.Minute {
		t.Errorf("Uptime: got %v, want 15m", snap.Uptime())
	}
}

func TestSnapshotNowIsSet(t *testing.T) {
	tr := NewTracker(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Config{})

	before := time.Now()
	snap := tr.Snapshot()
	after := time.Now()

	if snap.Now.Before(before) || snap.Now.After(after) {
		t.Errorf("Now (%v) not between %v and %v", snap.Now, before, after)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.RecordSample(1.0, 100, 10, flow.FaultNone)

	snap1 := tr.Snapshot()

	tr.RecordSample(2.0, 200, 20, flow.FaultDryRun)

	// snap1 should still reflect old state
	if snap1.RateLPM != 1.0 {
		t.Error("snapshot should be a copy; RateLPM was modified")
	}
	if snap1.Fault != flow.FaultNone {
		t.Error("snapshot should be a copy; Fault was modified")
	}
}

func TestFormatJSON(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		PumpOn:        true,
		RateLPM:       1.25,
		FlowX100:      125,
		Pulses:        7140,
		Fault:         flow.FaultNone,
		Samples:       900,
		FaultCounts:   FaultCounts{DryRun: 2, Cleared: 2},
		StartTime:     start,
		Now:           start.Add(15 * time.Minute),
		MQTTConnected: true,
		Config: Config{
			Chip:         "gpiochip0",
			FlowPin:      17,
			PeriodMs:     1000,
			PulsesPerLPM: 5.71,
			MinFlowLPM:   0.2,
			GraceSamples: 3,
			Broker:       "tcp://localhost:1883",
			HTTPAddr:     ":8080",
		},
	}

	data := FormatJSON(snap)

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.Pump != "ON" {
		t.Errorf("Pump: got %q, want ON", parsed.Status.Pump)
	}
	if parsed.Status.RateLPM != 1.25 {
		t.Errorf("RateLPM: got %v, want 1.25", parsed.Status.RateLPM)
	}
	if parsed.Status.FlowX100 != 125 {
		t.Errorf("FlowX100: got %d, want 125", parsed.Status.FlowX100)
	}
	if parsed.Status.Fault != "nominal" {
		t.Errorf("Fault: got %q, want nominal", parsed.Status.Fault)
	}
	if parsed.Status.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", parsed.Status.UptimeSeconds)
	}
	if !parsed.Status.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if parsed.Status.Faults.DryRun != 2 {
		t.Errorf("Faults.DryRun: got %d, want 2", parsed.Status.Faults.DryRun)
	}
	if parsed.Status.Config.PulsesPerLPM != 5.71 {
		t.Errorf("Config.PulsesPerLPM: got %v, want 5.71", parsed.Status.Config.PulsesPerLPM)
	}
	// Event and Reason should be omitted
	if parsed.Status.Event != "" {
		t.Errorf("expected empty Event for web format, got %q", parsed.Status.Event)
	}
	if parsed.Status.Reason != "" {
		t.Errorf("expected empty Reason for web format, got %q", parsed.Status.Reason)
	}
}

func TestFormatJSONPumpOff(t *testing.T) {
	snap := Snapshot{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	}

	data := FormatJSON(snap)

	var parsed StatusJSON
	json.Unmarshal(data, &parsed)

	if parsed.Status.Pump != "OFF" {
		t.Errorf("Pump: got %q, want OFF", parsed.Status.Pump)
	}
}

func TestFormatStatusEvent(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		PumpOn:        true,
		RateLPM:       1.0,
		Samples:       3,
		StartTime:     start,
		Now:           start.Add(15 * time.Minute),
		MQTTConnected: true,
		Config:        Config{Broker: "tcp://localhost:1883"},
	}

	data := FormatStatusEvent(snap, "HEARTBEAT", "")

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.Event != "HEARTBEAT" {
		t.Errorf("Event: got %q, want HEARTBEAT", parsed.Status.Event)
	}
	if parsed.Status.Reason != "" {
		t.Errorf("Reason: got %q, want empty", parsed.Status.Reason)
	}
	if parsed.Status.Pump != "ON" {
		t.Errorf("Pump: got %q, want ON", parsed.Status.Pump)
	}
	if parsed.Status.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", parsed.Status.UptimeSeconds)
	}
}

func TestFormatStatusEventShutdown(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		StartTime: start,
		Now:       start.Add(30 * time.Minute),
		Config:    Config{Broker: "tcp://localhost:1883"},
	}

	data := FormatStatusEvent(snap, "SHUTDOWN", "SIGTERM")

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.Event != "SHUTDOWN" {
		t.Errorf("Event: got %q, want SHUTDOWN", parsed.Status.Event)
	}
	if parsed.Status.Reason != "SIGTERM" {
		t.Errorf("Reason: got %q, want SIGTERM", parsed.Status.Reason)
	}
}

func TestFormatStatusEventOmitsReasonWhenEmpty(t *testing.T) {
	snap := Snapshot{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	}

	data := FormatStatusEvent(snap, "STARTUP", "")

	var raw map[string]interface{}
	json.Unmarshal(data, &raw)
	statusObj := raw["status"].(map[string]interface{})
	if _, exists := statusObj["reason"]; exists {
		t.Error("reason should be omitted when empty")
	}
	if statusObj["event"] != "STARTUP" {
		t.Errorf("event: got %v, want STARTUP", statusObj["event"])
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	var wg sync.WaitGroup

	// Writer
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.RecordSample(1.0, 100, uint64(i), flow.FaultNone)
			tr.SetMQTTConnected(i%2 == 0)
			tr.SetPumpOn(i%2 == 0)
		}
	}()

	// Reader
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			snap := tr.Snapshot()
			_ = snap.Uptime()
		}
	}()

	wg.Wait()
}
