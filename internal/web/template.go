package web

import (
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sweeney/climate-controller/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"since": func(start, now time.Time) string {
		return strings.TrimSpace(humanize.RelTime(start, now, "", ""))
	},
	"num": func(v *float64, unit string) string {
		if v == nil {
			return "n/a"
		}
		return fmt.Sprintf("%.2f %s", *v, unit)
	},
	"onoff": func(v *bool) string {
		if v == nil {
			return "UNKNOWN"
		}
		if *v {
			return "ON"
		}
		return "OFF"
	},
	"stateOrUnknown": func(s string) string {
		if s == "" {
			return "UNKNOWN"
		}
		return s
	},
	"comma": func(n uint64) string { return humanize.Comma(int64(n)) },
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="5">
<title>Climate Controller</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
.error { color: red; }
</style>
</head>
<body>
<h1>Climate Controller</h1>
{{$state := stateOrUnknown (printf "%s" .Controller.Status)}}
<h2>Control</h2>
<table>
<tr><th>Status</th><td id="control-state" class="{{if eq $state "ON"}}on{{else if eq $state "OFF"}}off{{else}}unknown{{end}}">{{$state}}</td></tr>
<tr><th>Setpoint</th><td>{{printf "%.2f" .Controller.Setpoint}} °C</td></tr>
<tr><th>Safety bounds</th><td>{{printf "%.2f" .Controller.Low}} … {{printf "%.2f" .Controller.High}} °C</td></tr>
<tr><th>Temperature</th><td>{{num .Controller.Temperature "°C"}}</td></tr>
<tr><th>Humidity</th><td>{{num .Controller.Humidity "%RH"}}</td></tr>
</table>

<h2>Peltier</h2>
<table>
<tr><th>Output</th><td>{{onoff .Controller.Peltier.Output}}</td></tr>
<tr><th>Current</th><td>{{num .Controller.Peltier.MeasuredCurrent "A"}} (set {{num .Controller.Peltier.SetCurrent "A"}})</td></tr>
<tr><th>Voltage</th><td>{{num .Controller.Peltier.MeasuredVoltage "V"}} (set {{num .Controller.Peltier.SetVoltage "V"}})</td></tr>
</table>
{{if .Controller.Errors}}<ul class="error">{{range .Controller.Errors}}<li>{{.}}</li>{{end}}</ul>{{end}}

<h2>Safety</h2>
<table>
<tr><th>Over temperature</th><td>{{.Controller.Events.OverTemperature}}</td></tr>
<tr><th>Under temperature</th><td>{{.Controller.Events.UnderTemperature}}</td></tr>
<tr><th>Sensor faults</th><td>{{.Controller.Events.SensorFault}}</td></tr>
<tr><th>Control ticks</th><td>{{comma .Stats.LoopTicks}} ({{comma .Stats.LoopErrors}} skipped)</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}none (log only){{end}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{since .StartTime .Now}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>PID tick</th><td>{{.Config.TickMs}}ms</td></tr>
<tr><th>Watchdog tick</th><td>{{.Config.WatchdogMs}}ms</td></tr>
<tr><th>Report</th><td>{{if eq .Config.ReportMs 0}}disabled{{else}}{{.Config.ReportMs}}ms{{end}}</td></tr>
<tr><th>Sensor</th><td>{{.Config.SensorBus}}</td></tr>
<tr><th>Supply</th><td>{{.Config.PSUPort}}</td></tr>
<tr><th>Interlock</th><td>{{if .Config.Interlock}}fitted{{else}}none{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> · <a href="/api/summary">API</a> · <a href="/metrics">metrics</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	return indexTmpl.Execute(w, snap)
}
