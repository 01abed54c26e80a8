package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/pump-controller/internal/flow"
	"github.com/sweeney/pump-controller/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Pump Controller</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.ok { color: green; }
.fault { color: red; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
button { font-family: monospace; padding: 4px 12px; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Pump Controller<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>

<h2>Flow</h2>
<table>
<tr><th>Rate</th><td id="rate">{{printf "%.2f" .RateLPM}} L/min</td></tr>
<tr><th>Flow &times;100</th><td id="flowx100">{{.FlowX100}}</td></tr>
<tr><th>Pulses</th><td id="pulses">{{.Pulses}}</td></tr>
<tr><th>Fault</th><td id="fault" class="{{if .FaultOK}}ok{{else}}fault{{end}}">{{.FaultName}}</td></tr>
</table>

<h2>Pump</h2>
<table>
<tr><th>State</th><td id="pump-state" class="{{if .PumpOn}}on{{else}}off{{end}}">{{if .PumpOn}}ON{{else}}OFF{{end}}</td></tr>
</table>
<button id="pump-toggle">Toggle pump</button>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
</table>

<h2>Fault Counts</h2>
<table>
<tr><th>Dry-run</th><td>{{.FaultCounts.DryRun}}</td></tr>
<tr><th>Unexpected flow</th><td>{{.FaultCounts.UnexpectedFlow}}</td></tr>
<tr><th>Cleared</th><td>{{.FaultCounts.Cleared}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Sample period</th><td>{{.Config.PeriodMs}}ms</td></tr>
<tr><th>Calibration</th><td>{{.Config.PulsesPerLPM}} pulses per L/min</td></tr>
<tr><th>Min flow</th><td>{{.Config.MinFlowLPM}} L/min</td></tr>
<tr><th>Grace samples</th><td>{{.Config.GraceSamples}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> &middot; <a href="/metrics">Metrics</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  var rateEl = document.getElementById("rate");
  var flowEl = document.getElementById("flowx100");
  var pulsesEl = document.getElementById("pulses");
  var faultEl = document.getElementById("fault");
  var pumpEl = document.getElementById("pump-state");

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  function setPump(on) {
    pumpEl.textContent = on ? "ON" : "OFF";
    pumpEl.className = on ? "on" : "off";
  }

  function setFault(name) {
    faultEl.textContent = name;
    faultEl.className = name === "nominal" ? "ok" : "fault";
  }

  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/ws/stream");

    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() {
      setDot("err", "offline");
      setTimeout(connect, 5000);
    };
    ws.onerror = function() { setDot("err", "error"); };

    ws.onmessage = function(e) {
      try {
        var msg = JSON.parse(e.data);
        if (msg.data.flow) {
          var f = msg.data.flow;
          rateEl.textContent = f.rate_lpm.toFixed(2) + " L/min";
          flowEl.textContent = f.flow_x100;
          pulsesEl.textContent = f.pulses;
          setFault(f.fault);
        } else if (msg.data.status) {
          var s = msg.data.status;
          setPump(s.pump === "ON");
          setFault(s.fault);
        }
      } catch (err) {}
    };
  }

  connect();

  document.getElementById("pump-toggle").addEventListener("click", function() {
    var on = pumpEl.textContent === "ON";
    fetch("/api/pump", {
      method: "POST",
      headers: {"Content-Type": "application/json"},
      body: JSON.stringify({enabled: !on})
    }).then(function(r) {
      if (!r.ok) { throw new Error("request failed"); }
      return r.json();
    }).then(function(j) {
      setPump(j.enabled);
    }).catch(function() {});
  });
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but the template needs plain fields.
	data := struct {
		status.Snapshot
		Uptime    time.Duration
		FaultName string
		FaultOK   bool
	}{
		Snapshot:  snap,
		Uptime:    snap.Uptime(),
		FaultName: snap.Fault.String(),
		FaultOK:   snap.Fault == flow.FaultNone,
	}
	indexTmpl.Execute(w, data)
}
