package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "fipe_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	catalogRequests *prometheus.CounterVec
	catalogLatency  *prometheus.HistogramVec

	stageBatchTotal   *prometheus.CounterVec
	stageBatchLatency *prometheus.HistogramVec
	stageItemsTotal   *prometheus.CounterVec

	itemFailures *prometheus.CounterVec

	queueSendFailures *prometheus.CounterVec

	dimensionRows *prometheus.CounterVec
	priceUpserts  *prometheus.CounterVec

	referenceTableCode prometheus.Gauge
)

// Init registers pipeline metrics and DB-backed queue gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		catalogRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "catalog_requests_total",
				Help: "Total catalog API requests by endpoint and result",
			},
			[]string{"endpoint", "result"},
		)
		catalogLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "catalog_request_latency_seconds",
				Help:    "Catalog API request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		)

		stageBatchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "stage_batches_total",
				Help: "Total processed batch deliveries by stage and result",
			},
			[]string{"stage", "result"},
		)
		stageBatchLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "stage_batch_latency_seconds",
				Help:    "Batch handling latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage", "result"},
		)
		stageItemsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "stage_items_total",
				Help: "Total batch items by stage and outcome",
			},
			[]string{"stage", "outcome"},
		)

		itemFailures = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "item_failures_total",
				Help: "Total item failures by stage and reason",
			},
			[]string{"stage", "reason"},
		)

		queueSendFailures = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "queue_send_failures_total",
				Help: "Total outgoing messages that failed to send by queue",
			},
			[]string{"queue"},
		)

		dimensionRows = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "dimension_rows_total",
				Help: "Dimension lookups by entity and outcome (created|found)",
			},
			[]string{"entity", "outcome"},
		)
		priceUpserts = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "price_fact_upserts_total",
				Help: "Price fact upserts by operation (inserted|updated)",
			},
			[]string{"op"},
		)

		referenceTableCode = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "reference_table_code",
				Help: "Reference table code the current pipeline run is pinned to",
			},
		)

		prometheus.MustRegister(
			catalogRequests,
			catalogLatency,
			stageBatchTotal,
			stageBatchLatency,
			stageItemsTotal,
			itemFailures,
			queueSendFailures,
			dimensionRows,
			priceUpserts,
			referenceTableCode,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveCatalogRequest records one upstream request.
func ObserveCatalogRequest(endpoint, result string, duration time.Duration) {
	if endpoint == "" {
		endpoint = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if catalogRequests != nil {
		catalogRequests.WithLabelValues(endpoint, result).Inc()
	}
	if catalogLatency != nil {
		catalogLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
	}
}

// ObserveStageBatch records one batch delivery outcome.
func ObserveStageBatch(stage, result string, duration time.Duration, processed, failed int) {
	if stage == "" {
		stage = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if stageBatchTotal != nil {
		stageBatchTotal.WithLabelValues(stage, result).Inc()
	}
	if stageBatchLatency != nil {
		stageBatchLatency.WithLabelValues(stage, result).Observe(duration.Seconds())
	}
	if stageItemsTotal != nil {
		if processed > 0 {
			stageItemsTotal.WithLabelValues(stage, "processed").Add(float64(processed))
		}
		if failed > 0 {
			stageItemsTotal.WithLabelValues(stage, "failed").Add(float64(failed))
		}
	}
}

// IncItemFailure increments the per-reason item failure counter.
func IncItemFailure(stage, reason string) {
	if stage == "" {
		stage = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	if itemFailures != nil {
		itemFailures.WithLabelValues(stage, reason).Inc()
	}
}

// AddQueueSendFailures counts outgoing messages that failed to send.
func AddQueueSendFailures(queue string, count int) {
	if count <= 0 {
		return
	}
	if queue == "" {
		queue = "unknown"
	}
	if queueSendFailures != nil {
		queueSendFailures.WithLabelValues(queue).Add(float64(count))
	}
}

// IncDimensionRow counts a get-or-create outcome for a dimension entity.
func IncDimensionRow(entity, outcome string) {
	if entity == "" || outcome == "" {
		return
	}
	if dimensionRows != nil {
		dimensionRows.WithLabelValues(entity, outcome).Inc()
	}
}

// IncPriceUpsert counts a price fact insert or update.
func IncPriceUpsert(op string) {
	if op == "" {
		return
	}
	if priceUpserts != nil {
		priceUpserts.WithLabelValues(op).Inc()
	}
}

// SetReferenceTableCode pins the gauge to the active pricing period.
func SetReferenceTableCode(code int) {
	if referenceTableCode != nil {
		referenceTableCode.Set(float64(code))
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
