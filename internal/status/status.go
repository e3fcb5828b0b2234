// Package status provides a thread-safe status tracker for the
// climate-controller daemon. It is read by the HTTP handlers and used to
// build the lifecycle events published on MQTT.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/climate-controller/internal/control"
)

// NetworkInfo contains network state as reported by pi-helper.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	TickMs     int64
	WatchdogMs int64
	ReportMs   int64
	Broker     string
	HTTPAddr   string
	SensorBus  string
	PSUPort    string
	Interlock  bool
	StorePath  string
}

// Source is the live controller state. *control.Controller satisfies it.
type Source interface {
	Summary() control.Summary
	Stats() control.Stats
}

// Snapshot is a point-in-time view of daemon state.
// Safe to use after the lock is released.
type Snapshot struct {
	Controller    control.Summary
	Stats         control.Stats
	HaveSource    bool
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	src Source

	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config. src may
// be nil before the controller exists.
func NewTracker(startTime time.Time, cfg Config, src Source) *Tracker {
	return &Tracker{
		src: src,
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state. The controller
// part is read live (this may touch the hardware); Now is the time of the
// call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()

	if t.src != nil {
		s.Controller = t.src.Summary()
		s.Stats = t.src.Stats()
		s.HaveSource = true
	}
	s.Now = time.Now()
	return s
}
