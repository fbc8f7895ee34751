package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "telemetry_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	statisticRollupTotal *prometheus.CounterVec
	statisticRollupHours prometheus.Counter
	statisticRollupGaps  prometheus.Counter

	consumptionRollupTotal *prometheus.CounterVec
	consumptionRollupHours prometheus.Counter
	consumptionRollupGaps  prometheus.Counter

	liveCacheRefreshes     prometheus.Counter
	liveCacheNotifications prometheus.Counter
	liveCacheSubscribers   prometheus.Gauge

	alertEventsTotal *prometheus.CounterVec
	commsUp          prometheus.Gauge

	scheduleDispatchTotal *prometheus.CounterVec

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total ingest requests by result",
			},
			[]string{"result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total ingest errors by reason",
			},
			[]string{"reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		statisticRollupTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "statistic_rollup_runs_total",
				Help: "Total statistic rollup runs by result",
			},
			[]string{"result"},
		)
		statisticRollupHours = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "statistic_rollup_hours_total",
				Help: "Total hourly windows committed by the statistic rollup",
			},
		)
		statisticRollupGaps = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "statistic_rollup_gaps_total",
				Help: "Total empty hourly windows skipped by the statistic rollup",
			},
		)

		consumptionRollupTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "consumption_rollup_runs_total",
				Help: "Total consumption rollup runs by result",
			},
			[]string{"result"},
		)
		consumptionRollupHours = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "consumption_rollup_hours_total",
				Help: "Total hourly windows committed by the consumption rollup",
			},
		)
		consumptionRollupGaps = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "consumption_rollup_gaps_total",
				Help: "Total empty hourly windows skipped by the consumption rollup",
			},
		)

		liveCacheRefreshes = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "livecache_refreshes_total",
				Help: "Total live cache ticks that marked nodes dirty",
			},
		)
		liveCacheNotifications = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "livecache_notifications_total",
				Help: "Total subscriber notifications pushed by the live cache",
			},
		)
		liveCacheSubscribers = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "livecache_subscribers",
				Help: "Currently registered live cache subscribers",
			},
		)

		alertEventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_events_total",
				Help: "Total alert lifecycle events by type",
			},
			[]string{"event"},
		)
		commsUp = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "comms_up",
				Help: "1 when telemetry is flowing, 0 after the watchdog tripped",
			},
		)

		scheduleDispatchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "schedule_dispatch_total",
				Help: "Total scheduled command dispatches by result",
			},
			[]string{"result"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "export_total",
				Help: "Total report exports by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "export_latency_seconds",
				Help:    "Report export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestErrors,
			ingestLatency,
			statisticRollupTotal,
			statisticRollupHours,
			statisticRollupGaps,
			consumptionRollupTotal,
			consumptionRollupHours,
			consumptionRollupGaps,
			liveCacheRefreshes,
			liveCacheNotifications,
			liveCacheSubscribers,
			alertEventsTotal,
			commsUp,
			scheduleDispatchTotal,
			exportTotal,
			exportLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveIngest records ingest request duration and result.
func ObserveIngest(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncIngestError increments the ingest error counter.
func IncIngestError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// ObserveStatisticRollup records one statistic rollup run.
func ObserveStatisticRollup(result string, hours, gaps int) {
	if result == "" {
		result = resultSuccess
	}
	if statisticRollupTotal != nil {
		statisticRollupTotal.WithLabelValues(result).Inc()
	}
	if statisticRollupHours != nil && hours > 0 {
		statisticRollupHours.Add(float64(hours))
	}
	if statisticRollupGaps != nil && gaps > 0 {
		statisticRollupGaps.Add(float64(gaps))
	}
}

// ObserveConsumptionRollup records one consumption rollup run.
func ObserveConsumptionRollup(result string, hours, gaps int) {
	if result == "" {
		result = resultSuccess
	}
	if consumptionRollupTotal != nil {
		consumptionRollupTotal.WithLabelValues(result).Inc()
	}
	if consumptionRollupHours != nil && hours > 0 {
		consumptionRollupHours.Add(float64(hours))
	}
	if consumptionRollupGaps != nil && gaps > 0 {
		consumptionRollupGaps.Add(float64(gaps))
	}
}

// IncLiveCacheRefresh counts a tick that marked nodes dirty.
func IncLiveCacheRefresh() {
	if liveCacheRefreshes != nil {
		liveCacheRefreshes.Inc()
	}
}

// AddLiveCacheNotifications counts pushed subscriber notifications.
func AddLiveCacheNotifications(count int) {
	if liveCacheNotifications != nil && count > 0 {
		liveCacheNotifications.Add(float64(count))
	}
}

// SetLiveCacheSubscribers sets the subscriber gauge.
func SetLiveCacheSubscribers(count int) {
	if liveCacheSubscribers != nil {
		liveCacheSubscribers.Set(float64(count))
	}
}

// IncAlertEvent increments alert lifecycle counters.
func IncAlertEvent(event string) {
	if event == "" {
		event = "unknown"
	}
	if alertEventsTotal != nil {
		alertEventsTotal.WithLabelValues(event).Inc()
	}
}

// SetCommsUp flips the communication watchdog gauge.
func SetCommsUp(up bool) {
	if commsUp == nil {
		return
	}
	if up {
		commsUp.Set(1)
	} else {
		commsUp.Set(0)
	}
}

// IncScheduleDispatch counts a scheduled command dispatch.
func IncScheduleDispatch(result string) {
	if result == "" {
		result = resultSuccess
	}
	if scheduleDispatchTotal != nil {
		scheduleDispatchTotal.WithLabelValues(result).Inc()
	}
}

// ObserveExport records export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
