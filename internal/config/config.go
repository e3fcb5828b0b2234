// Package config loads the daemon's YAML configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sweeney/climate-controller/internal/control"
	"github.com/sweeney/climate-controller/internal/interlock"
	"github.com/sweeney/climate-controller/internal/mqtt"
	"github.com/sweeney/climate-controller/internal/pid"
	"github.com/sweeney/climate-controller/internal/psu"
	"github.com/sweeney/climate-controller/internal/sensor"
	"github.com/sweeney/climate-controller/internal/status"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Sensor    SensorConfig    `yaml:"sensor"`
	PSU       PSUConfig       `yaml:"psu"`
	Interlock InterlockConfig `yaml:"interlock"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	HTTP      HTTPConfig      `yaml:"http"`
	Control   ControlConfig   `yaml:"control"`
	Watchdog  WatchdogConfig  `yaml:"watchdog"`
	Store     StoreConfig     `yaml:"store"`
	Log       LogConfig       `yaml:"log"`
}

type SensorConfig struct {
	Bus string `yaml:"bus"`
}

type PSUConfig struct {
	Port    string        `yaml:"port"`
	Baud    int           `yaml:"baud"`
	Timeout time.Duration `yaml:"timeout"`
}

// InterlockConfig selects the relay line. Line is a pointer so line 0 can
// be chosen explicitly.
type InterlockConfig struct {
	Enable bool   `yaml:"enable"`
	Chip   string `yaml:"chip"`
	Line   *int   `yaml:"line"`
}

// MQTTConfig selects the notification sink. An empty broker logs
// notifications instead of publishing them.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// HTTPConfig configures the status page and API. "off" disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// ControlConfig holds the loop parameters. Pointer fields distinguish
// "absent" from an explicit zero.
type ControlConfig struct {
	Setpoint      *float64       `yaml:"setpoint"`
	Low           *float64       `yaml:"low_limit"`
	High          *float64       `yaml:"high_limit"`
	Gains         *GainsConfig   `yaml:"gains"`
	CurrentMax    float64        `yaml:"current_max"`
	SupplyVoltage float64        `yaml:"supply_voltage"`
	TickInterval  time.Duration  `yaml:"tick_interval"`
	SettleDelay   *time.Duration `yaml:"settle_delay"`
}

type GainsConfig struct {
	Kp float64 `yaml:"kp"`
	Ki float64 `yaml:"ki"`
	Kd float64 `yaml:"kd"`
}

// WatchdogConfig configures the safety watchdog. A negative report interval
// disables periodic reports.
type WatchdogConfig struct {
	TickInterval          time.Duration `yaml:"tick_interval"`
	ReportInterval        time.Duration `yaml:"report_interval"`
	FailSafeOnSensorError *bool         `yaml:"fail_safe_on_sensor_error"`
}

// StoreConfig locates the settings database. An empty path disables
// persistence.
type StoreConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var cfg Config
	if err := cfg.finish(); err != nil {
		panic(err)
	}
	return cfg
}

// Load reads the YAML file at path, fills in defaults and validates the
// result.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.finish(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) finish() error {
	def := control.DefaultConfig()

	if cfg.Sensor.Bus == "" {
		cfg.Sensor.Bus = sensor.DefaultBus
	}

	if cfg.PSU.Port == "" {
		cfg.PSU.Port = psu.DefaultPort
	}
	if cfg.PSU.Baud == 0 {
		cfg.PSU.Baud = psu.DefaultBaud
	}
	if cfg.PSU.Baud < 0 {
		return fmt.Errorf("psu.baud must be > 0")
	}
	if cfg.PSU.Timeout <= 0 {
		cfg.PSU.Timeout = 2 * time.Second
	}

	if cfg.Interlock.Chip == "" {
		cfg.Interlock.Chip = interlock.DefaultChip
	}
	if cfg.Interlock.Line == nil {
		line := interlock.DefaultLine
		cfg.Interlock.Line = &line
	}
	if *cfg.Interlock.Line < 0 {
		return fmt.Errorf("interlock.line must be >= 0")
	}

	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "climate-controller"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = mqtt.DefaultTopicPrefix
	}
	cfg.MQTT.TopicPrefix = strings.TrimSuffix(cfg.MQTT.TopicPrefix, "/")

	switch cfg.HTTP.Addr {
	case "":
		cfg.HTTP.Addr = ":8080"
	case "off":
		cfg.HTTP.Addr = ""
	}

	c := &cfg.Control
	if c.Setpoint == nil {
		c.Setpoint = &def.Setpoint
	}
	if c.Low == nil {
		c.Low = &def.Low
	}
	if c.High == nil {
		c.High = &def.High
	}
	if c.Gains == nil {
		c.Gains = &GainsConfig{Kp: def.Gains.Kp, Ki: def.Gains.Ki, Kd: def.Gains.Kd}
	}
	if c.CurrentMax == 0 {
		c.CurrentMax = def.CurrentMax
	}
	if c.SupplyVoltage == 0 {
		c.SupplyVoltage = def.SupplyVoltage
	}
	if c.TickInterval <= 0 {
		c.TickInterval = def.TickInterval
	}
	if c.SettleDelay == nil {
		c.SettleDelay = &def.SettleDelay
	}
	if *c.SettleDelay < 0 {
		return fmt.Errorf("control.settle_delay must be >= 0")
	}

	switch {
	case *c.Low >= *c.High:
		return fmt.Errorf("control.low_limit must be below control.high_limit")
	case *c.Setpoint < *c.Low || *c.Setpoint > *c.High:
		return fmt.Errorf("control.setpoint must lie within [low_limit, high_limit]")
	case c.CurrentMax < 0:
		return fmt.Errorf("control.current_max must be > 0")
	case c.SupplyVoltage < 0:
		return fmt.Errorf("control.supply_voltage must be > 0")
	}

	w := &cfg.Watchdog
	if w.TickInterval <= 0 {
		w.TickInterval = def.WatchdogInterval
	}
	if w.ReportInterval == 0 {
		w.ReportInterval = def.ReportInterval
	}
	if w.FailSafeOnSensorError == nil {
		w.FailSafeOnSensorError = &def.FailSafeOnSensorError
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if _, err := zerolog.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// ControlConfig converts the loaded file into controller parameters.
func (cfg Config) ControlConfig() control.Config {
	c, w := cfg.Control, cfg.Watchdog
	return control.Config{
		Setpoint:              *c.Setpoint,
		Low:                   *c.Low,
		High:                  *c.High,
		Gains:                 pid.Gains{Kp: c.Gains.Kp, Ki: c.Gains.Ki, Kd: c.Gains.Kd},
		CurrentMax:            c.CurrentMax,
		SupplyVoltage:         c.SupplyVoltage,
		TickInterval:          c.TickInterval,
		SettleDelay:           *c.SettleDelay,
		WatchdogInterval:      w.TickInterval,
		ReportInterval:        w.ReportInterval,
		FailSafeOnSensorError: *w.FailSafeOnSensorError,
	}
}

// StatusConfig is the part of the configuration shown on the status page.
func (cfg Config) StatusConfig() status.Config {
	report := cfg.Watchdog.ReportInterval
	if report < 0 {
		report = 0
	}
	return status.Config{
		TickMs:     cfg.Control.TickInterval.Milliseconds(),
		WatchdogMs: cfg.Watchdog.TickInterval.Milliseconds(),
		ReportMs:   report.Milliseconds(),
		Broker:     cfg.MQTT.Broker,
		HTTPAddr:   cfg.HTTP.Addr,
		SensorBus:  cfg.Sensor.Bus,
		PSUPort:    cfg.PSU.Port,
		Interlock:  cfg.Interlock.Enable,
		StorePath:  cfg.Store.Path,
	}
}

// LogLevel returns the parsed log level.
func (cfg Config) LogLevel() zerolog.Level {
	lvl, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
