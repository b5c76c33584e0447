// Package metrics exposes the Prometheus collectors every component
// reports to: ingest throughput, COV drop rate, alarm tick latency, and
// analysis job queue depth, plus the ambient HTTP/store/error counters
// the teacher's services.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector this repo registers.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	ErrorsTotal *prometheus.CounterVec

	StoreQueriesTotal  *prometheus.CounterVec
	StoreQueryDuration *prometheus.HistogramVec

	IngestPointsTotal   *prometheus.CounterVec
	IngestBatchDuration *prometheus.HistogramVec
	COVDroppedTotal     *prometheus.CounterVec

	AlarmTickDuration   *prometheus.HistogramVec
	AlarmFiringsTotal   *prometheus.CounterVec
	IncidentsOpenGauge  *prometheus.GaugeVec

	AnalysisQueueDepth    *prometheus.GaugeVec
	AnalysisJobsTotal     *prometheus.CounterVec
	AnalysisJobDuration   *prometheus.HistogramVec

	LakeManifestSwapsTotal   *prometheus.CounterVec
	ReplicationLagSeconds    prometheus.Gauge

	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New registers collectors against the default registerer.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry registers collectors against registerer (nil to skip
// registration, used in tests that construct multiple instances).
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total", Help: "Total HTTP requests.",
		}, []string{"service", "method", "path", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "http_request_duration_seconds", Help: "HTTP request duration.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"service", "method", "path"}),
		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_in_flight", Help: "HTTP requests currently being processed.",
		}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "errors_total", Help: "Errors by kind and operation.",
		}, []string{"service", "kind", "operation"}),

		StoreQueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "store_queries_total", Help: "Metric/job/alarm store queries.",
		}, []string{"service", "operation", "status"}),
		StoreQueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "store_query_duration_seconds", Help: "Store query duration.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"service", "operation"}),

		IngestPointsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_points_total", Help: "Metric points processed by the sidecar.",
		}, []string{"sensor_id", "outcome"}),
		IngestBatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "ingest_batch_duration_seconds", Help: "Sidecar batch-write duration.",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"outcome"}),
		COVDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cov_dropped_total", Help: "Samples suppressed by the change-of-value filter.",
		}, []string{"sensor_id"}),

		AlarmTickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "alarm_tick_duration_seconds", Help: "Alarm engine evaluation tick duration.",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5},
		}, []string{"outcome"}),
		AlarmFiringsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alarm_firings_total", Help: "Alarm firing events emitted.",
		}, []string{"rule_id"}),
		IncidentsOpenGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "incidents_open", Help: "Currently open/snoozed incidents.",
		}, []string{"status"}),

		AnalysisQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "analysis_queue_depth", Help: "Analysis jobs queued or running.",
		}, []string{"status"}),
		AnalysisJobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analysis_jobs_total", Help: "Analysis jobs completed by outcome.",
		}, []string{"job_type", "outcome"}),
		AnalysisJobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "analysis_job_duration_seconds", Help: "Analysis job execution duration.",
			Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 300, 900},
		}, []string{"job_type"}),

		LakeManifestSwapsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lake_manifest_swaps_total", Help: "Lake manifest atomic swaps.",
		}, []string{"outcome"}),
		ReplicationLagSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "replication_lag_seconds", Help: "now() - computed_through_ts.",
		}),

		ServiceUptime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "service_uptime_seconds", Help: "Seconds since process start.",
		}),
		ServiceInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "service_info", Help: "Static service metadata.",
		}, []string{"service", "version"}),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal, m.RequestDuration, m.RequestsInFlight, m.ErrorsTotal,
			m.StoreQueriesTotal, m.StoreQueryDuration,
			m.IngestPointsTotal, m.IngestBatchDuration, m.COVDroppedTotal,
			m.AlarmTickDuration, m.AlarmFiringsTotal, m.IncidentsOpenGauge,
			m.AnalysisQueueDepth, m.AnalysisJobsTotal, m.AnalysisJobDuration,
			m.LakeManifestSwapsTotal, m.ReplicationLagSeconds,
			m.ServiceUptime, m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, "dev").Set(1)
	return m
}

func (m *Metrics) RecordHTTPRequest(service, method, path, status string, d time.Duration) {
	m.RequestsTotal.WithLabelValues(service, method, path, status).Inc()
	m.RequestDuration.WithLabelValues(service, method, path).Observe(d.Seconds())
}

func (m *Metrics) RecordError(service, kind, operation string) {
	m.ErrorsTotal.WithLabelValues(service, kind, operation).Inc()
}

func (m *Metrics) RecordStoreQuery(service, operation, status string, d time.Duration) {
	m.StoreQueriesTotal.WithLabelValues(service, operation, status).Inc()
	m.StoreQueryDuration.WithLabelValues(service, operation).Observe(d.Seconds())
}

func (m *Metrics) RecordIngestPoint(sensorID, outcome string) {
	m.IngestPointsTotal.WithLabelValues(sensorID, outcome).Inc()
}

func (m *Metrics) RecordIngestBatch(outcome string, d time.Duration) {
	m.IngestBatchDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) RecordCOVDrop(sensorID string) {
	m.COVDroppedTotal.WithLabelValues(sensorID).Inc()
}

func (m *Metrics) RecordAlarmTick(outcome string, d time.Duration) {
	m.AlarmTickDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) RecordAlarmFiring(ruleID string) {
	m.AlarmFiringsTotal.WithLabelValues(ruleID).Inc()
}

func (m *Metrics) SetIncidentsOpen(status string, count int) {
	m.IncidentsOpenGauge.WithLabelValues(status).Set(float64(count))
}

func (m *Metrics) SetAnalysisQueueDepth(status string, count int) {
	m.AnalysisQueueDepth.WithLabelValues(status).Set(float64(count))
}

func (m *Metrics) RecordAnalysisJob(jobType, outcome string, d time.Duration) {
	m.AnalysisJobsTotal.WithLabelValues(jobType, outcome).Inc()
	m.AnalysisJobDuration.WithLabelValues(jobType).Observe(d.Seconds())
}

func (m *Metrics) RecordManifestSwap(outcome string) {
	m.LakeManifestSwapsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetReplicationLag(d time.Duration) {
	m.ReplicationLagSeconds.Set(d.Seconds())
}

func (m *Metrics) UpdateUptime(start time.Time) {
	m.ServiceUptime.Set(time.Since(start).Seconds())
}

var (
	global   *Metrics
	globalMu sync.Mutex
)

// Init initializes (once) and returns the global Metrics instance.
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = New(serviceName)
	}
	return global
}

// Global returns the global Metrics instance, initializing a fallback one
// if Init was never called.
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = New("unknown")
	}
	return global
}
