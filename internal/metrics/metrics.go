// Package metrics exports controller state to Prometheus. Scrapes never
// touch the hardware: readings come from the watchdog's latest report.
package metrics

import (
	"math"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sweeney/climate-controller/internal/control"
	"github.com/sweeney/climate-controller/internal/logic"
	"github.com/sweeney/climate-controller/internal/mqtt"
)

const namespace = "climate"

// Source is the controller state read on each scrape. *control.Controller
// satisfies it.
type Source interface {
	Status() logic.State
	Setpoint() float64
	LowLimit() float64
	HighLimit() float64
	LastReport() (mqtt.Report, bool)
	Stats() control.Stats
}

// Collector is a prometheus.Collector over a Source.
type Collector struct {
	src Source

	on          *prometheus.Desc
	setpoint    *prometheus.Desc
	limit       *prometheus.Desc
	temperature *prometheus.Desc
	humidity    *prometheus.Desc
	current     *prometheus.Desc
	voltage     *prometheus.Desc
	output      *prometheus.Desc
	reportTime  *prometheus.Desc
	safety      *prometheus.Desc

	loopTicks     *prometheus.Desc
	loopErrors    *prometheus.Desc
	watchdogTicks *prometheus.Desc
	violations    *prometheus.Desc
	alerts        *prometheus.Desc
	alertErrors   *prometheus.Desc
}

// NewCollector creates a Collector for src.
func NewCollector(src Source) *Collector {
	d := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &Collector{
		src:         src,
		on:          d("control_on", "1 while the control loop is ON."),
		setpoint:    d("setpoint_celsius", "Temperature setpoint."),
		limit:       d("limit_celsius", "Safety bound.", "bound"),
		temperature: d("temperature_celsius", "Temperature at the last report."),
		humidity:    d("humidity_percent", "Relative humidity at the last report."),
		current:     d("peltier_current_amperes", "Measured Peltier current at the last report."),
		voltage:     d("peltier_voltage_volts", "Measured Peltier voltage at the last report."),
		output:      d("peltier_output_on", "1 if the supply output was enabled at the last report."),
		reportTime:  d("report_timestamp_seconds", "Unix time of the last report."),
		safety:      d("safety_events", "Safety findings since startup at the last report.", "type"),

		loopTicks:     d("loop_ticks_total", "Control loop ticks."),
		loopErrors:    d("loop_errors_total", "Control loop ticks skipped on I/O errors."),
		watchdogTicks: d("watchdog_ticks_total", "Watchdog ticks."),
		violations:    d("safety_violations_total", "Forced stops by the watchdog."),
		alerts:        d("alerts_total", "Alerts delivered."),
		alertErrors:   d("alert_errors_total", "Alerts that could not be delivered."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.on, c.setpoint, c.limit, c.temperature, c.humidity, c.current, c.voltage,
		c.output, c.reportTime, c.safety,
		c.loopTicks, c.loopErrors, c.watchdogTicks, c.violations, c.alerts, c.alertErrors,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}

	gauge(c.on, boolFloat(c.src.Status() == logic.StateOn))
	gauge(c.setpoint, c.src.Setpoint())
	gauge(c.limit, c.src.LowLimit(), "low")
	gauge(c.limit, c.src.HighLimit(), "high")

	if r, ok := c.src.LastReport(); ok {
		// NaN readings are left out rather than exported.
		for _, m := range []struct {
			d *prometheus.Desc
			v float64
		}{
			{c.temperature, r.Temperature},
			{c.humidity, r.Humidity},
			{c.current, r.Current},
			{c.voltage, r.Voltage},
		} {
			if !math.IsNaN(m.v) {
				gauge(m.d, m.v)
			}
		}
		if r.OutputKnown {
			gauge(c.output, boolFloat(r.Output))
		}
		gauge(c.reportTime, float64(r.Timestamp.Unix()))
		gauge(c.safety, float64(r.Counts.OverTemperature), string(logic.EventOverTemperature))
		gauge(c.safety, float64(r.Counts.UnderTemperature), string(logic.EventUnderTemperature))
		gauge(c.safety, float64(r.Counts.SensorFault), string(logic.EventSensorFault))
	}

	st := c.src.Stats()
	counter(c.loopTicks, st.LoopTicks)
	counter(c.loopErrors, st.LoopErrors)
	counter(c.watchdogTicks, st.WatchdogTicks)
	counter(c.violations, st.Violations)
	counter(c.alerts, st.Alerts)
	counter(c.alertErrors, st.AlertErrors)
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
