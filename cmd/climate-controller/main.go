// Command climate-controller holds a bench enclosure at a temperature
// setpoint by driving a Peltier element from a programmable supply, and
// forces it off when the temperature leaves the safety bounds.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sweeney/climate-controller/internal/config"
	"github.com/sweeney/climate-controller/internal/control"
	"github.com/sweeney/climate-controller/internal/interlock"
	"github.com/sweeney/climate-controller/internal/metrics"
	"github.com/sweeney/climate-controller/internal/mqtt"
	"github.com/sweeney/climate-controller/internal/psu"
	"github.com/sweeney/climate-controller/internal/sensor"
	"github.com/sweeney/climate-controller/internal/status"
	"github.com/sweeney/climate-controller/internal/store"
	"github.com/sweeney/climate-controller/internal/web"
)

// statusRefresh is how often the tracker picks up connection and network
// state between lifecycle events.
const statusRefresh = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "YAML configuration file (built-in defaults if empty)")
	printState := flag.Bool("print-state", false, "Print sensor and supply readings and exit")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			setupLogging(zerolog.InfoLevel)
			log.Fatal().Err(err).Str("path", *configPath).Msg("load config")
		}
	}
	setupLogging(cfg.LogLevel())

	if err := run(cfg, *printState); err != nil {
		log.Fatal().Err(err).Msg("fatal")
	}
}

// setupLogging writes human-readable logs on a terminal and JSON otherwise
// (journald).
func setupLogging(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if isatty.IsTerminal(os.Stderr.Fd()) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"})
		return
	}
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func run(cfg config.Config, printState bool) error {
	reader, err := sensor.NewRealReader(cfg.Sensor.Bus)
	if err != nil {
		return fmt.Errorf("init sensor: %w", err)
	}
	supply, err := psu.Open(cfg.PSU.Port, cfg.PSU.Baud, cfg.PSU.Timeout)
	if err != nil {
		reader.Close()
		return fmt.Errorf("init psu: %w", err)
	}

	if printState {
		defer reader.Close()
		defer supply.Close()
		return printHardwareState(reader, supply)
	}

	var relay interlock.Line = interlock.Nop{}
	if cfg.Interlock.Enable {
		line, err := interlock.NewRealLine(cfg.Interlock.Chip, *cfg.Interlock.Line)
		if err != nil {
			reader.Close()
			supply.Close()
			return fmt.Errorf("init interlock: %w", err)
		}
		relay = line
	}

	publisher, mqttStatus := openPublisher(cfg.MQTT)
	defer publisher.Close()

	ctrlCfg := cfg.ControlConfig()
	var settings control.SettingsSaver
	if cfg.Store.Path != "" {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.Store.Path).Msg("settings store unavailable, changes will not persist")
		} else {
			defer st.Close()
			applySaved(st, &ctrlCfg)
			settings = st
		}
	}

	ctrl, err := control.New(ctrlCfg, control.Deps{
		Sensor:    reader,
		Supply:    supply,
		Interlock: relay,
		Notifier:  publisher,
		Settings:  settings,
		Heartbeat: func() { daemon.SdNotify(false, daemon.SdNotifyWatchdog) },
	})
	if err != nil {
		reader.Close()
		supply.Close()
		relay.Close()
		return fmt.Errorf("init controller: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := ctrl.Close(ctx); err != nil {
			log.Error().Err(err).Msg("controller shutdown")
		}
	}()

	// Tracker first so the STARTUP event carries a full snapshot.
	tracker := status.NewTracker(time.Now(), cfg.StatusConfig(), ctrl)
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}
	if mqttStatus != nil {
		tracker.SetMQTTConnected(mqttStatus.IsConnected())
	}

	snap := tracker.Snapshot()
	if err := publisher.PublishSystem(mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}); err != nil {
		log.Warn().Err(err).Msg("publish startup event")
	} else {
		log.Info().Msg("published startup event")
	}

	if cfg.HTTP.Addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			metrics.NewCollector(ctrl),
		)
		srv := web.New(cfg.HTTP.Addr, tracker, ctrl, reg)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("http server")
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("http server listening")
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn().Err(err).Msg("sd_notify ready")
	} else if ok {
		log.Debug().Msg("notified systemd")
	}
	log.Info().
		Float64("setpoint", ctrlCfg.Setpoint).
		Float64("low", ctrlCfg.Low).
		Float64("high", ctrlCfg.High).
		Dur("tick", ctrlCfg.TickInterval).
		Dur("watchdog", ctrlCfg.WatchdogInterval).
		Str("broker", cfg.MQTT.Broker).
		Msg("started")

	ticker := time.NewTicker(statusRefresh)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	err = runLoop(publisher, mqttStatus, tracker, time.Now, ticker.C, sigCh)
	daemon.SdNotify(false, daemon.SdNotifyStopping)
	return err
}

// openPublisher connects to the broker, or logs notifications when none is
// configured. The returned ConnectionStatus is nil for the log sink.
func openPublisher(cfg config.MQTTConfig) (mqtt.Publisher, mqtt.ConnectionStatus) {
	if cfg.Broker == "" {
		log.Info().Msg("no mqtt broker configured, notifications go to the log")
		return mqtt.LogPublisher{}, nil
	}
	pub, err := mqtt.NewRealPublisher(mqtt.Options{
		Broker:   cfg.Broker,
		ClientID: cfg.ClientID,
		Topics:   mqtt.NewTopics(cfg.TopicPrefix),
	})
	if err != nil {
		log.Warn().Err(err).Str("broker", cfg.Broker).Msg("mqtt unavailable, notifications go to the log")
		return mqtt.LogPublisher{}, nil
	}
	return pub, pub
}

// applySaved replaces the configured setpoint and limits with the last
// accepted values, if they are still consistent.
func applySaved(st *store.Store, cfg *control.Config) {
	saved, ok, err := st.Load()
	switch {
	case err != nil:
		log.Warn().Err(err).Msg("load saved settings")
		return
	case !ok:
		return
	case saved.Low >= saved.High || saved.Setpoint < saved.Low || saved.Setpoint > saved.High:
		log.Warn().
			Float64("setpoint", saved.Setpoint).
			Float64("low", saved.Low).
			Float64("high", saved.High).
			Msg("ignoring inconsistent saved settings")
		return
	}
	cfg.Setpoint, cfg.Low, cfg.High = saved.Setpoint, saved.Low, saved.High
	log.Info().
		Float64("setpoint", saved.Setpoint).
		Float64("low", saved.Low).
		Float64("high", saved.High).
		Time("saved", saved.Updated).
		Msg("restored saved settings")
}

func runLoop(publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	for {
		select {
		case s := <-sig:
			log.Info().Stringer("signal", s).Msg("shutting down")
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			event := mqtt.SystemEvent{
				Timestamp: now(),
				Event:     "SHUTDOWN",
				Reason:    signalName,
				Retained:  true,
			}
			if tracker != nil {
				refreshTracker(tracker, mqttStatus)
				snap := tracker.Snapshot()
				event.RawPayload = status.FormatStatusEvent(snap, "SHUTDOWN", signalName)
			}
			if err := publisher.PublishSystem(event); err != nil {
				log.Warn().Err(err).Msg("publish shutdown event")
			} else {
				log.Info().Msg("published shutdown event")
			}
			return nil

		case <-tick:
			if tracker != nil {
				refreshTracker(tracker, mqttStatus)
			}
		}
	}
}

func refreshTracker(tracker *status.Tracker, mqttStatus mqtt.ConnectionStatus) {
	if mqttStatus != nil {
		tracker.SetMQTTConnected(mqttStatus.IsConnected())
	}
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}
}

func printHardwareState(reader sensor.Reader, supply psu.Supply) error {
	r, err := reader.Read()
	if err != nil {
		return fmt.Errorf("read sensor: %w", err)
	}
	fmt.Printf("T: %.2f °C, RH: %.2f %%\n", r.TemperatureC, r.HumidityRH)

	v, err := supply.MeasuredVoltage()
	if err != nil {
		return fmt.Errorf("read psu voltage: %w", err)
	}
	i, err := supply.MeasuredCurrent()
	if err != nil {
		return fmt.Errorf("read psu current: %w", err)
	}
	on, err := supply.Output()
	if err != nil {
		return fmt.Errorf("read psu output: %w", err)
	}
	fmt.Printf("Peltier: %s, %.3f V, %.3f A\n", stateString(on), v, i)
	return nil
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

func stateString(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
