package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the settlement engine.
type Metrics struct {
	// --- Engine ---
	OpsApplied     *prometheus.CounterVec
	OpsRejected    *prometheus.CounterVec
	OpDuration     *prometheus.HistogramVec
	EngineSequence prometheus.Gauge
	EngineTick     prometheus.Gauge

	// --- Protocol state ---
	TotalMinted          prometheus.Gauge
	TotalCollateral      prometheus.Gauge
	HedgerDeposits       prometheus.Gauge
	CollateralRatio      prometheus.Gauge
	ActivePositions      prometheus.Gauge
	Liquidations         prometheus.Counter
	ReentrancyRejections prometheus.Counter

	// --- Price feed ---
	PriceUpdatesApplied prometheus.Counter
	PriceUpdatesDropped *prometheus.CounterVec
	CurrentPrice        prometheus.Gauge

	// --- Channel & backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	OutboundDrops       prometheus.Counter
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Persistence ---
	PersistRecordsWritten prometheus.Counter
	PersistBatchSize      prometheus.Histogram
	PersistBatchDur       prometheus.Histogram
	PersistErrors         *prometheus.CounterVec
	PersistRetry          prometheus.Counter
	PersistLastSequence   prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken    prometheus.Counter
	SnapshotDuration prometheus.Histogram
	SnapshotLastSeq  prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec

	// --- WebSocket ---
	WSClients    prometheus.Gauge
	WSBroadcasts prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		OpsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "peg_ops_applied_total",
			Help: "Settlement operations committed",
		}, []string{"op"}),

		OpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "peg_ops_rejected_total",
			Help: "Settlement operations rejected, by failure kind",
		}, []string{"op", "reason"}),

		OpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "peg_op_duration_seconds",
			Help:    "Time to apply a single settlement operation",
			Buckets: latencyBuckets,
		}, []string{"op"}),

		EngineSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "peg_engine_sequence",
			Help: "Current settlement record sequence",
		}),

		EngineTick: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "peg_engine_tick",
			Help: "Current logical tick",
		}),

		TotalMinted: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "peg_total_minted",
			Help: "Outstanding synthetic supply (fixed-point units)",
		}),

		TotalCollateral: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "peg_total_collateral",
			Help: "User collateral held (fixed-point units)",
		}),

		HedgerDeposits: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "peg_hedger_deposits",
			Help: "Hedger margin held (fixed-point units)",
		}),

		CollateralRatio: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "peg_collateral_ratio",
			Help: "Global collateralization ratio (1e6 = 100%)",
		}),

		ActivePositions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "peg_active_positions",
			Help: "Open hedger positions",
		}),

		Liquidations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "peg_liquidations_total",
			Help: "Positions liquidated",
		}),

		ReentrancyRejections: promauto.NewCounter(prometheus.CounterOpts{
			Name: "peg_reentrancy_rejections_total",
			Help: "Reentrant calls rejected",
		}),

		PriceUpdatesApplied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "peg_price_updates_applied_total",
			Help: "Feed quotes accepted",
		}),

		PriceUpdatesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "peg_price_updates_dropped_total",
			Help: "Feed quotes dropped (stale sequence, invalid)",
		}, []string{"reason"}),

		CurrentPrice: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "peg_current_price",
			Help: "Last accepted reference rate (fixed-point)",
		}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "peg_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "peg_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "peg_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		OutboundDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "peg_outbound_drops_total",
			Help: "Records dropped due to full outbound channel",
		}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "peg_publish_drops_total",
			Help: "Records dropped due to full publish channel",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "peg_persist_backpressure_total",
			Help: "Times the engine blocked on the persist channel",
		}),

		PersistRecordsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "peg_persist_records_written_total",
			Help: "Settlement records written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "peg_persist_batch_size",
			Help:    "Records per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "peg_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "peg_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "peg_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "peg_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "peg_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "peg_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "peg_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "peg_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "peg_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		WSClients: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "peg_ws_clients",
			Help: "Connected WebSocket clients",
		}),

		WSBroadcasts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "peg_ws_broadcasts_total",
			Help: "Settlement records broadcast to WebSocket clients",
		}),
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
