package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics of the exchange ledger.
type Metrics struct {
	// --- Core ---
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	EventsEmitted     *prometheus.CounterVec
	CoreSequence      prometheus.Gauge
	ProcessedCount    prometheus.Gauge
	BatchItems        prometheus.Histogram
	NonceRejections   *prometheus.CounterVec
	CustodyFailures   prometheus.Counter

	// --- Channels & backpressure ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec
	ProjectionDrops    prometheus.Counter
	PublishDrops       prometheus.Counter

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupTier2Errors      prometheus.Counter

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Snapshot & replay ---
	SnapshotTaken     prometheus.Counter
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter

	// --- Projection ---
	ProjectionUpdateDur prometheus.Histogram
	ProjectionLastSeq   prometheus.Gauge

	// --- Transport ---
	IngestMessages *prometheus.CounterVec
	RPCRequests    *prometheus.CounterVec
	RPCDuration    *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg. Tests pass a
// fresh prometheus.NewRegistry(); the service passes prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01, 0.05, 0.1,
	}

	return &Metrics{
		OperationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "exchange_operations_total",
			Help: "Ledger operations by outcome reason (empty reason = committed)",
		}, []string{"operation", "reason"}),

		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "exchange_operation_duration_seconds",
			Help:    "Time to execute a ledger operation, custody settlement included",
			Buckets: latencyBuckets,
		}, []string{"operation"}),

		EventsEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "exchange_events_emitted_total",
			Help: "Audit events committed",
		}, []string{"event_type"}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "exchange_core_sequence",
			Help: "Next global event sequence",
		}),

		ProcessedCount: f.NewGauge(prometheus.GaugeOpts{
			Name: "exchange_processed_transactions",
			Help: "Settlement items processed since genesis",
		}),

		BatchItems: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "exchange_batch_items",
			Help:    "Items per accepted settlement batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),

		NonceRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "exchange_nonce_rejections_total",
			Help: "Rejected signed authorizations by kind (replay/gap)",
		}, []string{"kind"}),

		CustodyFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "exchange_custody_failures_total",
			Help: "Custody settlements that failed",
		}),

		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "exchange_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "exchange_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "exchange_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "exchange_projection_drops_total",
			Help: "Outputs dropped due to full projection channel",
		}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "exchange_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "exchange_idempotency_duplicates_total",
			Help: "Duplicate batches caught (lru/postgres)",
		}, []string{"tier"}),

		DedupTier2Errors: f.NewCounter(prometheus.CounterOpts{
			Name: "exchange_dedup_tier2_errors_total",
			Help: "Postgres dedup lookups that failed",
		}),

		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "exchange_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "exchange_persist_journals_written_total",
			Help: "Journal entries written to Postgres",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "exchange_persist_batch_size",
			Help:    "Events per persisted batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "exchange_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "exchange_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "exchange_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "exchange_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "exchange_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "exchange_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "exchange_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		ReplayEventsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "exchange_replay_events_total",
			Help: "Events replayed on startup",
		}),

		ProjectionUpdateDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "exchange_projection_update_duration_seconds",
			Help:    "Balance projection update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),

		ProjectionLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "exchange_projection_last_sequence",
			Help: "Last sequence applied to projections",
		}),

		IngestMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "exchange_ingest_messages_total",
			Help: "NATS ingest messages by command and outcome",
		}, []string{"command", "outcome"}),

		RPCRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "exchange_rpc_requests_total",
			Help: "gRPC requests by method and status code",
		}, []string{"method", "code"}),

		RPCDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "exchange_rpc_duration_seconds",
			Help:    "gRPC request latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"method"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
