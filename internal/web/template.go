package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sweeney/dosing-station/internal/status"
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
	"ms": func(v int64) string {
		if v == 0 {
			return "never"
		}
		return time.UnixMilli(v).UTC().Format("2006-01-02T15:04:05Z")
	},
	"ago": func(v int64, now time.Time) string {
		if v == 0 {
			return ""
		}
		return humanize.RelTime(time.UnixMilli(v), now, "ago", "from now")
	},
	"secs": func(v int64) string {
		return fmt.Sprintf("%.1fs", float64(v)/1000)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="5">
<title>Dosing Station {{.Config.DeviceID}}</title>
<style>
body { font-family: monospace; max-width: 800px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
.good, .idle, .connected { color: green; }
.active { color: green; font-weight: bold; }
.cooldown, .warning, .uncalibrated { color: orange; }
.error, .disconnected, .estop { color: red; font-weight: bold; }
.disabled { color: #888; }
</style>
</head>
<body>
<h1>Dosing Station {{.Config.DeviceID}}{{if .Config.Location}} ({{.Config.Location}}){{end}}</h1>

{{if .Actuators.EmergencyStopActive}}<p class="estop">EMERGENCY STOP: {{.Actuators.EmergencyStopReason}}</p>{{end}}
{{range .Alerts}}<p class="warning">{{.}}</p>
{{end}}
<h2>Sensors</h2>
<table>
<tr><th>Sensor</th><th>Value</th><th>Raw</th><th>Quality</th><th>Last reading</th></tr>
{{range .Sensors}}<tr><td><a href="/sensors/{{.ID}}">{{.ID}}</a></td><td>{{printf "%.2f" .Filtered}} {{.Unit}}</td><td>{{printf "%.0f" .Raw}}</td><td class="{{.Quality}}">{{.Quality}}</td><td>{{ms .LastReading}} {{with ago .LastReading $.Now}}({{.}}){{end}}</td></tr>
{{else}}<tr><td colspan="5">no sensors</td></tr>
{{end}}</table>

<h2>Actuators</h2>
<table>
<tr><th>Actuator</th><th>State</th><th>Activations</th><th>Runtime</th><th>Dispensed</th></tr>
{{range .Actuators.Actuators}}<tr><td><a href="/actuators/{{.ID}}">{{.ID}}</a></td><td class="{{.State}}">{{.State}}{{if .LastError}} ({{.LastError}}){{end}}</td><td>{{.ActivationCount}}</td><td>{{secs .TotalRuntimeMs}}</td><td>{{if .Dosing}}{{printf "%.1f" .Dosing.TotalVolumeMl}} ml{{end}}</td></tr>
{{else}}<tr><td colspan="5">no actuators</td></tr>
{{end}}</table>

<h2>Commands</h2>
<table>
<tr><th>Processed</th><td>{{.Commands.Processed}}</td></tr>
<tr><th>Failed</th><td>{{.Commands.Failed}}</td></tr>
<tr><th>Timed out</th><td>{{.Commands.TimedOut}}</td></tr>
<tr><th>Queued</th><td>{{.Commands.Queued}}</td></tr>
<tr><th>Active</th><td>{{range $i, $id := .ActiveCommands}}{{if $i}}, {{end}}{{$id}}{{else}}none{{end}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Tick</th><td>{{.Config.TickMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{.Config.HeartbeatMs}}ms</td></tr>
<tr><th>Safety</th><td>pH {{.Config.PHMin}}-{{.Config.PHMax}}, TDS &le; {{.Config.TDSMax}} ppm</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/metrics">metrics</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() and Alerts() methods but the template reads fields.
	data := struct {
		status.Snapshot
		Uptime time.Duration
		Alerts []string
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Alerts:   snap.Alerts(),
	}
	indexTmpl.Execute(w, data)
}
