// Package metrics exposes the upswatch Prometheus collectors.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "ups_"

	// ResultOK labels a successful operation.
	ResultOK = "ok"
	// ResultError labels a failed operation.
	ResultError = "error"
	// ResultOffline labels a poll cycle that produced the OFFLINE snapshot.
	ResultOffline = "offline"
)

var (
	registerOnce sync.Once

	pollCycles      *prometheus.CounterVec
	pollLatency     prometheus.Histogram
	connectAttempts *prometheus.CounterVec
	pauseRequests   *prometheus.CounterVec
	onBattery       prometheus.Gauge
	batteryCharge   prometheus.Gauge
	droppedNotices  prometheus.Counter
)

// Init registers the collectors with the default registry. Safe to call more
// than once; helpers are no-ops until Init has run.
func Init() {
	registerOnce.Do(func() {
		pollCycles = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "poll_cycles_total",
				Help: "Total poll cycles by result",
			},
			[]string{"result"},
		)
		pollLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "poll_latency_seconds",
				Help:    "Poll cycle latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		)
		connectAttempts = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "connect_attempts_total",
				Help: "Total upsd connection attempts by result",
			},
			[]string{"result"},
		)
		pauseRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "pause_requests_total",
				Help: "Total low-battery pause requests by result",
			},
			[]string{"result"},
		)
		onBattery = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "on_battery",
				Help: "1 while the UPS reports OB",
			},
		)
		batteryCharge = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "battery_charge_percent",
				Help: "Last reported battery.charge",
			},
		)
		droppedNotices = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "notifications_dropped_total",
				Help: "Notifications dropped because the publish queue was full",
			},
		)
		prometheus.MustRegister(
			pollCycles,
			pollLatency,
			connectAttempts,
			pauseRequests,
			onBattery,
			batteryCharge,
			droppedNotices,
		)
	})
}

// ObservePoll records one poll cycle.
func ObservePoll(result string, duration time.Duration) {
	if result == "" {
		result = ResultOK
	}
	if pollCycles != nil {
		pollCycles.WithLabelValues(result).Inc()
	}
	if pollLatency != nil {
		pollLatency.Observe(duration.Seconds())
	}
}

// IncConnectAttempt counts a reconnect attempt.
func IncConnectAttempt(ok bool) {
	if connectAttempts != nil {
		connectAttempts.WithLabelValues(result(ok)).Inc()
	}
}

// IncPauseRequest counts a system-initiated pause.
func IncPauseRequest(ok bool) {
	if pauseRequests != nil {
		pauseRequests.WithLabelValues(result(ok)).Inc()
	}
}

// SetPower publishes the power gauges.
func SetPower(battery bool, charge float64, hasCharge bool) {
	if onBattery != nil {
		if battery {
			onBattery.Set(1)
		} else {
			onBattery.Set(0)
		}
	}
	if batteryCharge != nil && hasCharge {
		batteryCharge.Set(charge)
	}
}

// IncDropped counts a dropped notification.
func IncDropped() {
	if droppedNotices != nil {
		droppedNotices.Inc()
	}
}

func result(ok bool) string {
	if ok {
		return ResultOK
	}
	return ResultError
}
