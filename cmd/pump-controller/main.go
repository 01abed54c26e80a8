// Command pump-controller drives the water pump, watches the flow sensor and
// publishes flow telemetry to MQTT.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweeney/pump-controller/internal/config"
	"github.com/sweeney/pump-controller/internal/controller"
	"github.com/sweeney/pump-controller/internal/flow"
	"github.com/sweeney/pump-controller/internal/metrics"
	"github.com/sweeney/pump-controller/internal/mqtt"
	"github.com/sweeney/pump-controller/internal/pulse"
	"github.com/sweeney/pump-controller/internal/pump"
	"github.com/sweeney/pump-controller/internal/status"
	"github.com/sweeney/pump-controller/internal/telemetry"
	"github.com/sweeney/pump-controller/internal/web"
)

const defaultConfigPath = "/etc/pump-controller.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Configuration file path")
	broker := flag.String("broker", "", `MQTT broker address (overrides config; "off" disables)`)
	httpAddr := flag.String("http", "", `HTTP status address (overrides config; "off" disables)`)
	chip := flag.String("chip", "", "GPIO chip name (overrides config)")
	printState := flag.Bool("print-state", false, "Watch the sensor for one period, print the flow, and exit")
	writeConfig := flag.Bool("write-config", false, "Write the effective configuration to the config file and exit")

	flag.Parse()

	if err := run(*configPath, *broker, *httpAddr, *chip, *printState, *writeConfig); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(configPath, broker, httpAddr, chip string, printState, writeConfig bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyOverrides(cfg, broker, httpAddr, chip)

	if writeConfig {
		if err := cfg.Save(configPath); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", configPath)
		return nil
	}

	// Initialize hardware
	counter := &pulse.Counter{}
	source, err := pulse.NewRealSource(cfg.Chip, cfg.Pins.Flow, counter)
	if err != nil {
		return fmt.Errorf("init pulse source: %w", err)
	}
	driver, err := pump.NewRealDriver(cfg.Chip, cfg.Pins.PumpPWM, cfg.Pins.PumpLow,
		cfg.Pump.FrequencyHz, cfg.Pump.DutyNum, cfg.Pump.DutyDen)
	if err != nil {
		return fmt.Errorf("init pump driver: %w", err)
	}

	sampler := flow.NewSampler(flow.Config{
		PulsesPerLPM: cfg.Sampling.PulsesPerLPM,
		Period:       cfg.Period(),
		MinFlowLPM:   cfg.Sampling.MinFlowLPM,
		GraceSamples: cfg.Sampling.GraceSamples,
	})
	store := telemetry.NewStore()
	ctrl := controller.New(counter, source, driver, sampler, store, controller.Config{Period: cfg.Period()})

	if err := ctrl.Init(); err != nil {
		return fmt.Errorf("init controller: %w", err)
	}
	defer ctrl.Close()

	// Print state mode: count pulses for one period and report. The pump
	// stays off, so any measured flow here is unexpected flow.
	if printState {
		sampler.Rebase(counter.Snapshot())
		time.Sleep(cfg.Period())
		s := sampler.Tick(flow.TickInput{
			Pulses:  counter.Snapshot(),
			Enabled: ctrl.IsEnabled(),
			Time:    time.Now(),
		})
		fmt.Printf("pump: %s, flow: %.2f L/min (%d pulses in %v), fault: %s\n",
			stateString(ctrl.IsEnabled()), s.RateLPM, s.Delta, cfg.Period(), s.Fault)
		return nil
	}

	// Initialize MQTT. Without a broker the daemon still drives the pump and
	// serves status; telemetry just has nowhere to go.
	var (
		publisher mqtt.Publisher
		commands  mqtt.CommandSource
		conn      mqtt.ConnectionStatus
	)
	if cfg.MQTT.Broker != "" {
		real, err := mqtt.NewRealPublisher(cfg.MQTT.Broker, cfg.MQTT.ClientID)
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		publisher, commands, conn = real, real, real
	} else {
		log.Printf("mqtt: no broker configured, publishing disabled")
		fake := mqtt.NewFakePublisher()
		publisher, commands, conn = fake, fake, fake
	}
	defer publisher.Close()

	// Initialize status tracker (before STARTUP so a snapshot is available)
	tracker := status.NewTracker(time.Now(), status.Config{
		Chip:         cfg.Chip,
		FlowPin:      cfg.Pins.Flow,
		PumpPWMPin:   cfg.Pins.PumpPWM,
		PumpLowPin:   cfg.Pins.PumpLow,
		PeriodMs:     cfg.Sampling.PeriodMS,
		PulsesPerLPM: cfg.Sampling.PulsesPerLPM,
		MinFlowLPM:   cfg.Sampling.MinFlowLPM,
		GraceSamples: cfg.Sampling.GraceSamples,
		Broker:       cfg.MQTT.Broker,
		HTTPAddr:     cfg.HTTP.Addr,
	})
	tracker.SetMQTTConnected(conn.IsConnected())

	// Every sample lands in the tracker on the sampling goroutine.
	ctrl.SetSink(func(rateLPM float64, pulses uint64, fault flow.FaultCode) {
		tracker.RecordSample(rateLPM, flow.ScaleFlow(rateLPM), pulses, fault)
	})

	var hub *web.Hub
	if cfg.HTTP.Addr != "" {
		hub = web.NewHub(func() []byte {
			msg, err := web.Envelope("status", status.FormatJSON(tracker.Snapshot()))
			if err != nil {
				return nil
			}
			return msg
		})
		defer hub.Close()
	}

	pc := &pumpControl{ctrl: ctrl, tracker: tracker, hub: hub}

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	// Start HTTP status server
	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, pc, hub)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", cfg.HTTP.Addr)
	}

	// Start the telemetry notifier feeding MQTT and the live page.
	n := &notifier{ctrl: ctrl, publisher: publisher, conn: conn, tracker: tracker, hub: hub, now: time.Now}
	notifierStop := make(chan struct{})
	notifierDone := make(chan struct{})
	go func() {
		defer close(notifierDone)
		n.run(notifierStop)
	}()
	defer func() {
		close(notifierStop)
		<-notifierDone
	}()

	// Remote enable via the command topic.
	if err := commands.SubscribeCommands(func(cmd mqtt.Command) {
		log.Printf("command: pump %s", stateString(cmd.Enable))
		if err := pc.Enable(cmd.Enable); err != nil {
			log.Printf("command error: %v", err)
		}
	}); err != nil {
		log.Printf("command subscribe error: %v", err)
	}

	// Watch the config file and retune the dry-run thresholds live.
	cfgCh := make(chan *config.Config, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		err := config.Watch(ctx, configPath, func(c *config.Config) {
			select {
			case cfgCh <- c:
			default:
			}
		})
		if err != nil {
			log.Printf("config watch disabled: %v", err)
		}
	}()

	log.Printf("started: period=%v min_flow=%.2f L/min grace=%d broker=%s http=%s",
		cfg.Period(), cfg.Sampling.MinFlowLPM, cfg.Sampling.GraceSamples, cfg.MQTT.Broker, cfg.HTTP.Addr)

	var hbTick <-chan time.Time
	if hb := cfg.Heartbeat(); hb > 0 {
		hbTicker := time.NewTicker(hb)
		defer hbTicker.Stop()
		hbTick = hbTicker.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(pc, publisher, conn, tracker, time.Now, hbTick, cfgCh, sigCh)
}

func runLoop(pc *pumpControl, publisher mqtt.Publisher, conn mqtt.ConnectionStatus, tracker *status.Tracker, now func() time.Time, hbTick <-chan time.Time, cfgCh <-chan *config.Config, sig <-chan os.Signal) error {
	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}

			// Stop the pump before building the snapshot so the shutdown
			// event reports the safe state. The disable path runs one
			// final sample, which also clears a standing dry-run fault.
			if err := pc.Enable(false); err != nil {
				log.Printf("pump disable error: %v", err)
			}

			event := mqtt.SystemEvent{
				Timestamp: now(),
				Event:     "SHUTDOWN",
				Reason:    signalName,
				Retained:  true,
			}
			if tracker != nil {
				if conn != nil {
					tracker.SetMQTTConnected(conn.IsConnected())
				}
				snap := tracker.Snapshot()
				event.RawPayload = status.FormatStatusEvent(snap, "SHUTDOWN", signalName)
			}
			if err := publisher.PublishSystem(event); err != nil {
				log.Printf("failed to publish shutdown event: %v", err)
			} else {
				log.Printf("published shutdown event")
			}
			return nil

		case <-hbTick:
			event := mqtt.SystemEvent{
				Timestamp: now(),
				Event:     "HEARTBEAT",
			}
			if tracker != nil {
				if conn != nil {
					tracker.SetMQTTConnected(conn.IsConnected())
				}
				snap := tracker.Snapshot()
				log.Printf("heartbeat: uptime=%v samples=%d pulses=%d fault=%s",
					snap.Uptime().Truncate(time.Second), snap.Samples, snap.Pulses, snap.Fault)
				event.Heartbeat = &mqtt.HeartbeatInfo{
					UptimeSeconds: int64(snap.Uptime().Seconds()),
					Samples:       snap.Samples,
					Pulses:        snap.Pulses,
					Faults: mqtt.HeartbeatFaults{
						DryRun:         snap.FaultCounts.DryRun,
						UnexpectedFlow: snap.FaultCounts.UnexpectedFlow,
					},
					PumpOn: snap.PumpOn,
				}
			}
			if err := publisher.PublishSystem(event); err != nil {
				log.Printf("heartbeat publish error: %v", err)
			}

		case c := <-cfgCh:
			pc.ctrl.Retune(c.Sampling.MinFlowLPM, c.Sampling.GraceSamples)
			if tracker != nil {
				tracker.SetTuning(c.Sampling.MinFlowLPM, c.Sampling.GraceSamples)
			}
			log.Printf("config: retuned min_flow=%.2f L/min grace=%d",
				c.Sampling.MinFlowLPM, c.Sampling.GraceSamples)
		}
	}
}

// pumpControl funnels enable requests from the HTTP handler and the MQTT
// command topic into the controller and mirrors the result in the status
// tracker and on the live page.
type pumpControl struct {
	ctrl    *controller.Controller
	tracker *status.Tracker
	hub     *web.Hub
}

func (p *pumpControl) Enable(on bool) error {
	if err := p.ctrl.Enable(on); err != nil {
		return err
	}
	p.tracker.SetPumpOn(p.ctrl.IsEnabled())
	if p.hub != nil {
		if msg, err := web.Envelope("status", status.FormatJSON(p.tracker.Snapshot())); err == nil {
			p.hub.Broadcast(msg)
		}
	}
	return nil
}

func (p *pumpControl) IsEnabled() bool {
	return p.ctrl.IsEnabled()
}

// notifier drains the telemetry store and fans each sample out to MQTT and
// the websocket hub. Store wakes coalesce: after a stall it publishes one
// sample carrying the pulse delta accumulated across the skipped ticks.
type notifier struct {
	ctrl      *controller.Controller
	publisher mqtt.Publisher
	conn      mqtt.ConnectionStatus
	tracker   *status.Tracker
	hub       *web.Hub
	now       func() time.Time

	prevPulses uint64
	prevFault  flow.FaultCode
}

func (n *notifier) run(stop <-chan struct{}) {
	wake := n.ctrl.Store().Wake()
	for {
		select {
		case <-stop:
			return
		case <-wake:
			n.publish()
		}
	}
}

// publish sends the current reading. Called once per wake.
func (n *notifier) publish() {
	reading := n.ctrl.Store().Reading()
	pulses := n.ctrl.PulseCount()

	var delta uint64
	if pulses >= n.prevPulses {
		delta = pulses - n.prevPulses
	}
	n.prevPulses = pulses

	// Rate, scaled value and fault all come from the same coherent reading.
	sample := mqtt.SampleEvent{
		Timestamp: n.now(),
		RateLPM:   reading.RateLPM,
		FlowX100:  reading.FlowScaled,
		Pulses:    pulses,
		Delta:     delta,
		Fault:     reading.Fault,
	}
	if err := n.publisher.PublishSample(sample); err != nil {
		log.Printf("sample publish error: %v", err)
	}

	if n.hub != nil {
		if payload, err := mqtt.FormatSamplePayload(sample); err == nil {
			if msg, err := web.Envelope("sample", payload); err == nil {
				n.hub.Broadcast(msg)
			}
		}
	}

	if reading.Fault != n.prevFault {
		if reading.Fault != flow.FaultNone {
			metrics.FaultRaised(reading.Fault)
		}
		fe := mqtt.FaultEvent{
			Timestamp: sample.Timestamp,
			Fault:     reading.Fault,
			Previous:  n.prevFault,
			RateLPM:   sample.RateLPM,
			PumpOn:    n.ctrl.IsEnabled(),
		}
		log.Printf("%s: %s (was %s) rate=%.2f L/min", fe.Kind(), reading.Fault, n.prevFault, sample.RateLPM)
		if err := n.publisher.PublishFault(fe); err != nil {
			log.Printf("fault publish error: %v", err)
		}
		n.prevFault = reading.Fault
	}

	if n.tracker != nil && n.conn != nil {
		n.tracker.SetMQTTConnected(n.conn.IsConnected())
	}
}

// applyOverrides folds the command line flags into the loaded config. The
// "off" sentinel clears a value the file set.
func applyOverrides(cfg *config.Config, broker, httpAddr, chip string) {
	switch broker {
	case "":
	case "off":
		cfg.MQTT.Broker = ""
	default:
		cfg.MQTT.Broker = broker
	}
	switch httpAddr {
	case "":
	case "off":
		cfg.HTTP.Addr = ""
	default:
		cfg.HTTP.Addr = httpAddr
	}
	if chip != "" {
		cfg.Chip = chip
	}
}

func stateString(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
