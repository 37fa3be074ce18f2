package web

import (
	"fmt"
	"html/template"
	"io"
	"log"
	"time"

	"github.com/sweeney/neuromod/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"duration": func(d time.Duration) string {
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
	"stateClass": func(s string) string {
		switch s {
		case "RUNNING":
			return "running"
		case "IDLE":
			return "idle"
		case "FAULT":
			return "fault"
		}
		return "unknown"
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Neuromod</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.running { color: green; font-weight: bold; }
.idle { color: #888; }
.fault { color: red; font-weight: bold; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
button { font-family: monospace; margin-right: 0.5em; }
</style>
</head>
<body>
<h1>Neuromod<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>

<h2>Session</h2>
<table>
<tr><th>State</th><td id="state" class="{{stateClass (printf "%s" .State)}}">{{printf "%s" .State}}</td></tr>
<tr><th>Session</th><td id="session-id">{{if .Stats.SessionID}}{{.Stats.SessionID}}{{else}}none{{end}}</td></tr>
<tr><th>Elapsed</th><td>{{duration .Elapsed}}</td></tr>
<tr><th>Pairs</th><td id="pairs">{{.Stats.Pairs}}</td></tr>
<tr><th>Bursts</th><td id="bursts">{{.Stats.Bursts}}</td></tr>
<tr><th>Port failures</th><td>{{.Stats.PortFailures}}</td></tr>
{{if .Stats.FaultReason}}<tr><th>Fault</th><td class="fault">{{.Stats.FaultReason}}</td></tr>{{end}}
</table>
<p>
<button onclick="control('start')">Start</button>
<button onclick="control('stop')">Stop</button>
<button onclick="if (confirm('Force FAULT? A restart is required to recover.')) control('fault')">Fault</button>
</p>

<h2>Protocol</h2>
<table>
<tr><th>Audio frequency</th><td>{{.Session.AudioFrequencyHz}} Hz</td></tr>
<tr><th>Duration</th><td>{{duration .Session.SessionDuration}}</td></tr>
<tr><th>TENS delay</th><td>{{.Session.StimulusDelay.Milliseconds}} ms</td></tr>
<tr><th>TENS intensity</th><td>{{.Config.TENSIntensity}}</td></tr>
<tr><th>Failure policy</th><td>{{.Config.Policy}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{duration .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>GPIO</th><td>{{.Config.Chip}} tens={{.Config.PinTENS}} audio={{.Config.PinAudio}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
<script>
function control(action) {
  fetch("/api/session/" + action, { method: "POST" }).then(function() { location.reload(); });
}
(function() {
  var dot = document.getElementById("live-dot");
  var stateEl = document.getElementById("state");
  var pairsEl = document.getElementById("pairs");
  var burstsEl = document.getElementById("bursts");
  var idEl = document.getElementById("session-id");

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  function setState(state) {
    stateEl.textContent = state;
    stateEl.className = state === "RUNNING" ? "running" : state === "IDLE" ? "idle" : state === "FAULT" ? "fault" : "unknown";
  }

  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/ws");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() { setDot("err", "offline"); setTimeout(connect, 5000); };
    ws.onmessage = function(m) {
      try {
        var msg = JSON.parse(m.data);
        if (msg.type === "event") {
          setState(msg.payload.state);
          pairsEl.textContent = msg.payload.pairs;
          burstsEl.textContent = msg.payload.bursts;
          if (msg.payload.session_id) idEl.textContent = msg.payload.session_id;
        } else if (msg.type === "snapshot") {
          setState(msg.payload.state);
          pairsEl.textContent = msg.payload.session.pairs;
          burstsEl.textContent = msg.payload.session.bursts;
        }
      } catch (e) {}
    };
  }
  connect();
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has methods but the template needs Duration fields.
	data := struct {
		status.Snapshot
		Uptime  time.Duration
		Elapsed time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Elapsed:  snap.SessionElapsed(),
	}
	if err := indexTmpl.Execute(w, data); err != nil {
		log.Printf("web: render index: %v", err)
	}
}
