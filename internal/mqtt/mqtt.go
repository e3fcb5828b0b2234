// Package mqtt provides the controller's notification sink with abstraction
// for testing. Status reports are retained so a dashboard sees the latest
// state on subscribe; alerts and lifecycle events are not.
package mqtt

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sweeney/climate-controller/internal/logic"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "lab/climate/controller"

// Report event names.
const (
	ReportStatus   = "STATUS"
	ReportFinished = "FINISHED"
)

// Topics are the MQTT topics under one prefix.
type Topics struct {
	Status string // retained status report
	Alerts string // safety alerts
	System string // lifecycle events and LWT
}

// NewTopics derives the topic set from prefix.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{
		Status: prefix + "/status",
		Alerts: prefix + "/alerts",
		System: prefix + "/system",
	}
}

// Publisher publishes controller notifications.
type Publisher interface {
	// PublishReport posts or updates the status report.
	PublishReport(r Report) error

	// PublishAlert sends a high-priority safety alert.
	PublishAlert(event logic.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Report is a periodic snapshot of the controller, posted by the watchdog.
// Unreadable quantities are NaN.
type Report struct {
	Timestamp   time.Time
	Event       string // ReportStatus or ReportFinished
	Status      logic.State
	Setpoint    float64
	Low         float64
	High        float64
	Temperature float64
	Humidity    float64
	Current     float64 // measured, A
	Voltage     float64 // measured, V
	Output      bool
	OutputKnown bool
	Uptime      time.Duration
	Counts      logic.EventCounts
	Errors      []string
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown).
type SystemEvent struct {
	Timestamp time.Time
	Event     string // e.g., "STARTUP", "SHUTDOWN", "OFFLINE"
	Reason    string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	Retained  bool   // Whether the message should be retained by the broker

	// RawPayload is a pre-formatted JSON payload; if set, FormatSystemPayload
	// returns it directly (used for full status snapshots).
	RawPayload []byte
}

// ReportPayload is the JSON structure of a status report.
type ReportPayload struct {
	Climate ClimatePayload `json:"climate"`
}

// ClimatePayload contains the report details. Nil numbers were unreadable.
type ClimatePayload struct {
	Timestamp     string         `json:"timestamp"`
	Event         string         `json:"event"`
	Status        string         `json:"status"`
	Setpoint      float64        `json:"setpoint"`
	Low           float64        `json:"low"`
	High          float64        `json:"high"`
	Temperature   *float64       `json:"temperature"`
	Humidity      *float64       `json:"humidity"`
	Peltier       PeltierPayload `json:"peltier"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Events        CountsPayload  `json:"events"`
	Errors        []string       `json:"errors,omitempty"`
	Text          string         `json:"text"`
}

// PeltierPayload is the measured supply state.
type PeltierPayload struct {
	Current *float64 `json:"current"`
	Voltage *float64 `json:"voltage"`
	Output  *bool    `json:"output"`
}

// CountsPayload is the number of safety findings since startup.
type CountsPayload struct {
	OverTemperature  int `json:"over_temperature"`
	UnderTemperature int `json:"under_temperature"`
	SensorFault      int `json:"sensor_fault"`
}

// FormatReportPayload creates the JSON payload for a status report.
func FormatReportPayload(r Report) ([]byte, error) {
	p := ReportPayload{
		Climate: ClimatePayload{
			Timestamp:     r.Timestamp.UTC().Format(time.RFC3339),
			Event:         r.Event,
			Status:        string(r.Status),
			Setpoint:      r.Setpoint,
			Low:           r.Low,
			High:          r.High,
			Temperature:   finite(r.Temperature),
			Humidity:      finite(r.Humidity),
			Peltier:       PeltierPayload{Current: finite(r.Current), Voltage: finite(r.Voltage)},
			UptimeSeconds: int64(r.Uptime.Seconds()),
			Events: CountsPayload{
				OverTemperature:  r.Counts.OverTemperature,
				UnderTemperature: r.Counts.UnderTemperature,
				SensorFault:      r.Counts.SensorFault,
			},
			Errors: r.Errors,
			Text:   FormatText(r),
		},
	}
	if r.OutputKnown {
		out := r.Output
		p.Climate.Peltier.Output = &out
	}
	return json.Marshal(p)
}

// AlertPayload is the JSON structure of a safety alert.
type AlertPayload struct {
	Alert AlertPayloadInner `json:"alert"`
}

// AlertPayloadInner contains the alert details.
type AlertPayloadInner struct {
	Timestamp   string   `json:"timestamp"`
	Type        string   `json:"type"`
	Temperature *float64 `json:"temperature"`
	Low         float64  `json:"low"`
	High        float64  `json:"high"`
	Detail      string   `json:"detail,omitempty"`
}

// FormatAlertPayload creates the JSON payload for a safety alert.
func FormatAlertPayload(event logic.Event) ([]byte, error) {
	return json.Marshal(AlertPayload{
		Alert: AlertPayloadInner{
			Timestamp:   event.Timestamp.UTC().Format(time.RFC3339),
			Type:        string(event.Type),
			Temperature: finite(event.Temperature),
			Low:         event.Low,
			High:        event.High,
			Detail:      event.Detail,
		},
	})
}

// SystemPayload represents the MQTT message payload for system events.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// FormatText renders the report as the three-line operator summary.
func FormatText(r Report) string {
	var b strings.Builder
	up := strings.TrimSpace(humanize.RelTime(r.Timestamp.Add(-r.Uptime), r.Timestamp, "", ""))
	fmt.Fprintf(&b, "Controller status: %s (up %s)\n", r.Status, up)
	fmt.Fprintf(&b, "T_set = %.2f °C | T_meas = %s °C | RH = %s %%\n", r.Setpoint, num(r.Temperature), num(r.Humidity))
	output := "UNKNOWN"
	if r.OutputKnown {
		output = "OFF"
		if r.Output {
			output = "ON"
		}
	}
	fmt.Fprintf(&b, "I_meas = %s A | V_meas = %s V | Peltier = %s", num(r.Current), num(r.Voltage), output)
	return b.String()
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func num(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", v)
}
