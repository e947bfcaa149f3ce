package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/relay-node/internal/logic"
	"github.com/sweeney/relay-node/internal/status"
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
	"phaseClass": func(p logic.Phase) string {
		switch p {
		case logic.PhaseEnergized:
			return "on"
		case logic.PhasePulsePending:
			return "pulse"
		default:
			return "off"
		}
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{with .Network}}{{.Hostname}}{{else}}Relay Node{{end}}</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
button { font-family: monospace; margin-right: 4px; }
.on { color: green; font-weight: bold; }
.pulse { color: orange; font-weight: bold; }
.off { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>{{with .Network}}{{.Hostname}}{{else}}Relay Node{{end}}</h1>

<h2>Relays</h2>
<table>
{{range .Channels}}<tr>
<th>Relay {{.Index}} <small>(line {{.Line}})</small></th>
<td class="{{phaseClass .Phase}}" id="relay-{{.Index}}">{{.Phase}}</td>
<td>
<button onclick="actuate('activate', {{.Index}})">on</button>
<button onclick="actuate('deactivate', {{.Index}})">off</button>
<button onclick="actuate('trigger', {{.Index}})">pulse</button>
</td>
</tr>{{end}}
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
{{if .Config.Broker}}<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>{{end}}
{{with .Network}}<tr><th>Interface</th><td>{{.Interface}} {{.MAC}}</td></tr>
<tr><th>IP</th><td>{{range $i, $ip := .IPs}}{{if $i}}, {{end}}{{$ip}}{{end}}</td></tr>{{end}}
<tr><th>OSC</th><td>{{.Config.OSCListen}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPListen}}</td></tr>
</table>

<h2>Counts</h2>
<table>
<tr><th>Activate</th><td>{{.Counts.Activate}}</td></tr>
<tr><th>Deactivate</th><td>{{.Counts.Deactivate}}</td></tr>
<tr><th>Trigger</th><td>{{.Counts.Trigger}}</td></tr>
<tr><th>Expired</th><td>{{.Counts.Expired}}</td></tr>
<tr><th>Ignored</th><td>{{.Counts.Ignored}}</td></tr>
<tr><th>Malformed</th><td>{{.Malformed}}</td></tr>
<tr><th>Dropped</th><td>{{.Dropped}}</td></tr>
<tr><th>Write errors</th><td>{{.Counts.WriteErrors}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Mode</th><td>{{.Config.Mode}}</td></tr>
<tr><th>Tick</th><td>{{.Config.TickMs}}ms</td></tr>
<tr><th>Trigger</th><td>{{.Config.TriggerMs}}ms (HTTP {{.Config.HTTPTriggerMs}}ms)</td></tr>
<tr><th>Momentary</th><td>{{.Config.MomentaryMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
<script>
function actuate(action, relay) {
  fetch("/" + action, {
    method: "POST",
    headers: { "Content-Type": "application/x-www-form-urlencoded" },
    body: new URLSearchParams({ relay: relay })
  }).then(function() { setTimeout(function() { location.reload(); }, 150); });
}
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}
