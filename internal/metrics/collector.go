package metrics

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector manages Prometheus metrics for the citation engine. A nil
// *Collector is valid and records nothing.
type Collector struct {
	logger *zap.Logger
	db     *sql.DB

	// Citation metrics
	citationsIssued    *prometheus.CounterVec
	finesAssessed      *prometheus.CounterVec
	fineAmount         *prometheus.HistogramVec
	paymentsRecorded   *prometheus.CounterVec
	citationsVoided    prometheus.Counter
	citationsOverdue   prometheus.Counter
	contestsSubmitted  prometheus.Counter
	contestOutcomes    *prometheus.CounterVec
	ruleVersions       *prometheus.CounterVec
	lockWaitDuration   prometheus.Histogram
	operationConflicts *prometheus.CounterVec

	// System metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Database metrics
	dbConnectionsOpen  prometheus.Gauge
	dbConnectionsInUse prometheus.Gauge
	dbConnectionsIdle  prometheus.Gauge

	collectionInterval time.Duration
}

// NewCollector registers all metrics with reg. db may be nil, in which case
// connection pool gauges stay at zero.
func NewCollector(reg prometheus.Registerer, logger *zap.Logger, db *sql.DB) *Collector {
	f := promauto.With(reg)

	return &Collector{
		logger:             logger.Named("metrics"),
		db:                 db,
		collectionInterval: 30 * time.Second,

		citationsIssued: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "citation_engine_citations_issued_total",
				Help: "Total number of citations issued",
			},
			[]string{"owner_class", "offender_role"},
		),
		finesAssessed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "citation_engine_fines_assessed_total",
				Help: "Total number of violation lines priced, by structure and tier",
			},
			[]string{"structure", "tier"},
		),
		fineAmount: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "citation_engine_fine_amount",
				Help:    "Assessed fine per violation line",
				Buckets: prometheus.ExponentialBuckets(25, 2, 10),
			},
			[]string{"structure"},
		),
		paymentsRecorded: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "citation_engine_payments_total",
				Help: "Total number of payments recorded, by resulting status",
			},
			[]string{"status"},
		),
		citationsVoided: f.NewCounter(
			prometheus.CounterOpts{
				Name: "citation_engine_citations_voided_total",
				Help: "Total number of voided citations",
			},
		),
		citationsOverdue: f.NewCounter(
			prometheus.CounterOpts{
				Name: "citation_engine_citations_overdue_total",
				Help: "Total number of citations moved to OVERDUE",
			},
		),
		contestsSubmitted: f.NewCounter(
			prometheus.CounterOpts{
				Name: "citation_engine_contests_submitted_total",
				Help: "Total number of contests submitted",
			},
		),
		contestOutcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "citation_engine_contest_outcomes_total",
				Help: "Total number of contests closed, by outcome",
			},
			[]string{"outcome"},
		),
		ruleVersions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "citation_engine_rule_changes_total",
				Help: "Total number of rule catalog changes",
			},
			[]string{"change"},
		),
		lockWaitDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "citation_engine_lock_wait_seconds",
				Help:    "Time spent waiting for offense locks",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
		),
		operationConflicts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "citation_engine_operation_conflicts_total",
				Help: "Operations rejected with a retryable conflict",
			},
			[]string{"operation"},
		),

		httpRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "citation_engine_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "citation_engine_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		dbConnectionsOpen: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "citation_engine_db_connections_open",
				Help: "Number of open database connections",
			},
		),
		dbConnectionsInUse: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "citation_engine_db_connections_in_use",
				Help: "Number of database connections in use",
			},
		),
		dbConnectionsIdle: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "citation_engine_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}
}

// Start samples connection pool statistics until ctx is done
func (c *Collector) Start(ctx context.Context) {
	if c == nil || c.db == nil {
		return
	}

	c.logger.Info("Starting metrics collection", zap.Duration("interval", c.collectionInterval))

	ticker := time.NewTicker(c.collectionInterval)
	defer ticker.Stop()

	c.collectDatabaseMetrics()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.collectDatabaseMetrics()
		}
	}
}

func (c *Collector) collectDatabaseMetrics() {
	stats := c.db.Stats()
	c.dbConnectionsOpen.Set(float64(stats.OpenConnections))
	c.dbConnectionsInUse.Set(float64(stats.InUse))
	c.dbConnectionsIdle.Set(float64(stats.Idle))
}

func (c *Collector) RecordCitationIssued(ownerClass, offenderRole string) {
	if c == nil {
		return
	}
	c.citationsIssued.WithLabelValues(ownerClass, offenderRole).Inc()
}

func (c *Collector) RecordFineAssessed(structure, tier string, amount float64) {
	if c == nil {
		return
	}
	c.finesAssessed.WithLabelValues(structure, tier).Inc()
	c.fineAmount.WithLabelValues(structure).Observe(amount)
}

func (c *Collector) RecordPayment(status string) {
	if c == nil {
		return
	}
	c.paymentsRecorded.WithLabelValues(status).Inc()
}

func (c *Collector) RecordVoid() {
	if c == nil {
		return
	}
	c.citationsVoided.Inc()
}

func (c *Collector) RecordOverdue() {
	if c == nil {
		return
	}
	c.citationsOverdue.Inc()
}

func (c *Collector) RecordContestSubmitted() {
	if c == nil {
		return
	}
	c.contestsSubmitted.Inc()
}

func (c *Collector) RecordContestOutcome(outcome string) {
	if c == nil {
		return
	}
	c.contestOutcomes.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordRuleChange(change string) {
	if c == nil {
		return
	}
	c.ruleVersions.WithLabelValues(change).Inc()
}

func (c *Collector) RecordLockWait(d time.Duration) {
	if c == nil {
		return
	}
	c.lockWaitDuration.Observe(d.Seconds())
}

func (c *Collector) RecordConflict(operation string) {
	if c == nil {
		return
	}
	c.operationConflicts.WithLabelValues(operation).Inc()
}

// RecordHTTPRequest records HTTP request metrics
func (c *Collector) RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	c.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
