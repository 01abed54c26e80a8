// Package config loads the daemon configuration from YAML and watches it
// for live retuning of the sampling thresholds.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/pump-controller/internal/flow"
	"github.com/sweeney/pump-controller/internal/pulse"
	"github.com/sweeney/pump-controller/internal/pump"
)

// Config represents the daemon configuration.
type Config struct {
	Chip     string         `yaml:"chip"`
	Pins     PinsConfig     `yaml:"pins"`
	Pump     PumpConfig     `yaml:"pump"`
	Sampling SamplingConfig `yaml:"sampling"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	HTTP     HTTPConfig     `yaml:"http"`
}

// PinsConfig contains the GPIO line offsets (BCM numbering).
type PinsConfig struct {
	Flow    int `yaml:"flow"`
	PumpPWM int `yaml:"pump_pwm"`
	PumpLow int `yaml:"pump_low"`
}

// PumpConfig contains the drive waveform parameters.
type PumpConfig struct {
	FrequencyHz int `yaml:"frequency_hz"`
	DutyNum     int `yaml:"duty_num"`
	DutyDen     int `yaml:"duty_den"`
}

// SamplingConfig contains the flow sampling and dry-run parameters.
type SamplingConfig struct {
	PeriodMS     int     `yaml:"period_ms"`
	PulsesPerLPM float64 `yaml:"pulses_per_lpm"`
	MinFlowLPM   float64 `yaml:"min_flow_lpm"`
	GraceSamples int     `yaml:"grace_samples"`
}

// MQTTConfig contains the telemetry transport parameters. An empty broker
// URL runs the daemon with a fake publisher.
type MQTTConfig struct {
	Broker           string `yaml:"broker"`
	ClientID         string `yaml:"client_id"`
	HeartbeatSeconds int    `yaml:"heartbeat_seconds"`
}

// HTTPConfig contains the status server parameters.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns a configuration matching the reference hardware.
func Default() *Config {
	return &Config{
		Chip: pulse.DefaultChip,
		Pins: PinsConfig{
			Flow:    pulse.DefaultPin,
			PumpPWM: pump.DefaultPWMPin,
			PumpLow: pump.DefaultLowPin,
		},
		Pump: PumpConfig{
			FrequencyHz: pump.DefaultFrequencyHz,
			DutyNum:     pump.DefaultDutyNum,
			DutyDen:     pump.DefaultDutyDen,
		},
		Sampling: SamplingConfig{
			PeriodMS:     int(flow.DefaultPeriod / time.Millisecond),
			PulsesPerLPM: flow.DefaultPulsesPerLPM,
			MinFlowLPM:   flow.DefaultMinFlowLPM,
			GraceSamples: flow.DefaultGraceSamples,
		},
		MQTT: MQTTConfig{
			Broker:           "",
			ClientID:         "pump-controller",
			HeartbeatSeconds: 60,
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, default values are used.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.ensureDefaults()
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Period returns the sampling interval as a duration.
func (c *Config) Period() time.Duration {
	return time.Duration(c.Sampling.PeriodMS) * time.Millisecond
}

// Heartbeat returns the heartbeat interval; zero disables heartbeats.
func (c *Config) Heartbeat() time.Duration {
	return time.Duration(c.MQTT.HeartbeatSeconds) * time.Second
}

// ensureDefaults backfills required fields that were left empty.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Chip == "" {
		c.Chip = def.Chip
	}

	if c.Pins.Flow == 0 {
		c.Pins.Flow = def.Pins.Flow
	}
	if c.Pins.PumpPWM == 0 {
		c.Pins.PumpPWM = def.Pins.PumpPWM
	}
	if c.Pins.PumpLow == 0 {
		c.Pins.PumpLow = def.Pins.PumpLow
	}

	if c.Pump.FrequencyHz == 0 {
		c.Pump.FrequencyHz = def.Pump.FrequencyHz
	}
	if c.Pump.DutyNum == 0 {
		c.Pump.DutyNum = def.Pump.DutyNum
	}
	if c.Pump.DutyDen == 0 {
		c.Pump.DutyDen = def.Pump.DutyDen
	}

	if c.Sampling.PeriodMS == 0 {
		c.Sampling.PeriodMS = def.Sampling.PeriodMS
	}
	if c.Sampling.PulsesPerLPM == 0 {
		c.Sampling.PulsesPerLPM = def.Sampling.PulsesPerLPM
	}
	if c.Sampling.MinFlowLPM == 0 {
		c.Sampling.MinFlowLPM = def.Sampling.MinFlowLPM
	}
	if c.Sampling.GraceSamples == 0 {
		c.Sampling.GraceSamples = def.Sampling.GraceSamples
	}

	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = def.MQTT.ClientID
	}
	if c.MQTT.HeartbeatSeconds == 0 {
		c.MQTT.HeartbeatSeconds = def.MQTT.HeartbeatSeconds
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = def.HTTP.Addr
	}
}
