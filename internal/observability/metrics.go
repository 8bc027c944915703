package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for LyraeLedger.
type Metrics struct {
	// --- Engine ---
	IntentsApplied  *prometheus.CounterVec
	IntentsRejected *prometheus.CounterVec
	IntentDuration  *prometheus.HistogramVec
	RecordsEmitted  *prometheus.CounterVec
	StateHashDur    prometheus.Histogram
	Sequence        prometheus.Gauge
	MathRecovered   prometheus.Counter

	// --- Ingestion ---
	IngestToApply  *prometheus.HistogramVec
	NATSMessages   *prometheus.CounterVec
	PublishErrors  prometheus.Counter
	PublishedTotal prometheus.Counter

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupTier2Errors      prometheus.Counter

	// --- Risk ---
	FundingUpdates       *prometheus.CounterVec
	FundingRate          *prometheus.GaugeVec
	Liquidations         *prometheus.CounterVec
	Bankruptcies         *prometheus.CounterVec
	InsuranceFundBalance prometheus.Gauge

	// --- Persistence ---
	PersistEnvelopesWritten prometheus.Counter
	PersistBatchSize        prometheus.Histogram
	PersistBatchDur         prometheus.Histogram
	PersistErrors           *prometheus.CounterVec
	PersistRetry            prometheus.Counter
	PersistLastSequence     prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics with reg. A nil reg uses
// the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}
	ingestBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}
	ioBuckets := []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25}

	return &Metrics{
		// Engine
		IntentsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lyrae_core_intents_applied_total",
			Help: "Intents committed by the engine",
		}, []string{"intent_type"}),

		IntentsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lyrae_core_intents_rejected_total",
			Help: "Intents rejected (duplicate, unauthorized, validation)",
		}, []string{"intent_type", "reason"}),

		IntentDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lyrae_core_intent_apply_duration_seconds",
			Help:    "Time to apply a single intent",
			Buckets: latencyBuckets,
		}, []string{"intent_type"}),

		RecordsEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lyrae_core_records_emitted_total",
			Help: "Audit records emitted",
		}, []string{"record_type"}),

		StateHashDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "lyrae_core_state_hash_duration_seconds",
			Help:    "Time to compute the state hash of one intent",
			Buckets: latencyBuckets,
		}),

		Sequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "lyrae_core_sequence",
			Help: "Next audit sequence number",
		}),

		MathRecovered: f.NewCounter(prometheus.CounterOpts{
			Name: "lyrae_core_math_overflow_total",
			Help: "Fixed-point overflows recovered at the engine boundary",
		}),

		// Ingestion
		IngestToApply: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lyrae_ingest_to_apply_seconds",
			Help:    "NATS receive to engine commit",
			Buckets: ingestBuckets,
		}, []string{"intent_type"}),

		NATSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lyrae_nats_messages_total",
			Help: "Intent messages received by outcome",
		}, []string{"subject", "result"}),

		PublishErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "lyrae_publish_errors_total",
			Help: "Audit envelopes that failed to publish",
		}),

		PublishedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "lyrae_published_total",
			Help: "Audit envelopes published to NATS",
		}),

		// Channel & Backpressure
		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lyrae_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "lyrae_publish_drops_total",
			Help: "Outputs dropped due to full publish channel",
		}),

		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "lyrae_persist_backpressure_total",
			Help: "Times the engine blocked on the persist channel",
		}),

		// Idempotency
		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lyrae_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"intent_type", "tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "lyrae_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		DedupTier2Errors: f.NewCounter(prometheus.CounterOpts{
			Name: "lyrae_dedup_tier2_errors_total",
			Help: "Postgres dedup lookups that failed",
		}),

		// Risk
		FundingUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lyrae_funding_updates_total",
			Help: "Funding accumulator updates",
		}, []string{"market"}),

		FundingRate: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lyrae_funding_rate",
			Help: "Last daily funding rate",
		}, []string{"market"}),

		Liquidations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lyrae_liquidations_total",
			Help: "Liquidation transfers by kind",
		}, []string{"kind"}),

		Bankruptcies: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lyrae_bankruptcies_resolved_total",
			Help: "Bankruptcy resolutions by kind",
		}, []string{"kind"}),

		InsuranceFundBalance: f.NewGauge(prometheus.GaugeOpts{
			Name: "lyrae_insurance_fund_balance",
			Help: "Insurance fund balance in native quote",
		}),

		// Persistence
		PersistEnvelopesWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "lyrae_persist_envelopes_written_total",
			Help: "Audit envelopes committed to Postgres",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "lyrae_persist_batch_size",
			Help:    "Outputs per Postgres batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "lyrae_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: ioBuckets,
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lyrae_persist_errors_total",
			Help: "Persistence failures",
		}, []string{"error_type"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "lyrae_persist_retry_total",
			Help: "Batch write retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "lyrae_persist_last_sequence",
			Help: "Last persisted audit sequence",
		}),

		// Snapshot
		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "lyrae_snapshot_taken_total",
			Help: "Snapshots written",
		}),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "lyrae_snapshot_duration_seconds",
			Help:    "Snapshot encode and write duration",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "lyrae_snapshot_size_bytes",
			Help: "Size of the last snapshot",
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "lyrae_snapshot_last_sequence",
			Help: "Sequence of the last snapshot",
		}),

		// Query API
		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lyrae_query_requests_total",
			Help: "HTTP API requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lyrae_query_duration_seconds",
			Help:    "HTTP API latency",
			Buckets: ioBuckets,
		}, []string{"endpoint"}),
	}
}
