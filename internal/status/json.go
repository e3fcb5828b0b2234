package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/climate-controller/internal/control"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string           `json:"event,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	Control       string           `json:"control"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	StartTime     string           `json:"start_time"`
	Timestamp     string           `json:"timestamp"`
	Controller    *control.Summary `json:"controller,omitempty"`
	Stats         *control.Stats   `json:"stats,omitempty"`
	MQTT          MQTTStatus       `json:"mqtt"`
	Network       *NetworkJSON     `json:"network,omitempty"`
	Config        ConfigJSON       `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	TickMs     int64  `json:"tick_ms"`
	WatchdogMs int64  `json:"watchdog_ms"`
	ReportMs   int64  `json:"report_ms"`
	Broker     string `json:"broker"`
	HTTPAddr   string `json:"http_addr"`
	SensorBus  string `json:"sensor_bus"`
	PSUPort    string `json:"psu_port"`
	Interlock  bool   `json:"interlock"`
	StorePath  string `json:"store_path,omitempty"`
}

func buildInner(snap Snapshot) StatusInner {
	state := "UNKNOWN"
	inner := StatusInner{
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			TickMs:     snap.Config.TickMs,
			WatchdogMs: snap.Config.WatchdogMs,
			ReportMs:   snap.Config.ReportMs,
			Broker:     snap.Config.Broker,
			HTTPAddr:   snap.Config.HTTPAddr,
			SensorBus:  snap.Config.SensorBus,
			PSUPort:    snap.Config.PSUPort,
			Interlock:  snap.Config.Interlock,
			StorePath:  snap.Config.StorePath,
		},
	}
	if snap.HaveSource {
		state = string(snap.Controller.Status)
		summary, stats := snap.Controller, snap.Stats
		inner.Controller = &summary
		inner.Stats = &stats
	}
	inner.Control = state

	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
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
