// Package telemetry registers the gateway's internal Prometheus metrics,
// following the teacher's pkg/metrics package-level-vars-plus-init
// convention. Metrics cover backup/restore outcomes, audit append
// health, and alert creation; the export format itself (what a scraper
// sees) is out of scope per spec.md §1, but the ambient instrumentation
// of the core pipelines is carried regardless, the way the teacher
// instruments its own manager/scheduler.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BackupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewayd_backups_total",
			Help: "Total number of backup submissions by classification and status",
		},
		[]string{"classification", "status"},
	)

	BackupDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gatewayd_backup_duration_seconds",
			Help:    "Time taken to seal and persist a backup",
			Buckets: prometheus.DefBuckets,
		},
	)

	RestoresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewayd_restores_total",
			Help: "Total number of restore attempts by outcome status",
		},
		[]string{"status"},
	)

	RestoreDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gatewayd_restore_duration_seconds",
			Help:    "Time taken to authorize and decrypt a restore",
			Buckets: prometheus.DefBuckets,
		},
	)

	AuditAppendRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gatewayd_audit_append_retries_total",
			Help: "Total number of audit chain append retries after a concurrent writer conflict",
		},
	)

	AuditChainValid = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gatewayd_audit_chain_valid",
			Help: "Whether the most recent audit chain validation pass succeeded (1 = valid, 0 = broken)",
		},
	)

	AlertsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewayd_alerts_created_total",
			Help: "Total number of alerts created by rule and severity",
		},
		[]string{"rule_id", "severity"},
	)

	KeyRotationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gatewayd_key_rotations_total",
			Help: "Total number of successful active-key-version rotations",
		},
	)

	CryptoShredsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gatewayd_crypto_shreds_total",
			Help: "Total number of executed crypto-shred operations",
		},
	)

	IncidentLevel = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gatewayd_incident_level",
			Help: "Current incident level (0 = NORMAL, 1 = QUARANTINE, 2 = LOCKDOWN)",
		},
	)
)

func init() {
	prometheus.MustRegister(BackupsTotal)
	prometheus.MustRegister(BackupDuration)
	prometheus.MustRegister(RestoresTotal)
	prometheus.MustRegister(RestoreDuration)
	prometheus.MustRegister(AuditAppendRetriesTotal)
	prometheus.MustRegister(AuditChainValid)
	prometheus.MustRegister(AlertsCreatedTotal)
	prometheus.MustRegister(KeyRotationsTotal)
	prometheus.MustRegister(CryptoShredsTotal)
	prometheus.MustRegister(IncidentLevel)
}

// Handler exposes the registry over /metrics, the way pkg/metrics.Handler does.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times an operation for a histogram observation, mirroring
// pkg/metrics.Timer.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}
