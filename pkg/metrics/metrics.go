package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "trxpurpose_build_info",
		Help: "Build information of the transaction purpose dataset tooling",
	}, []string{"version", "commit", "date"})

	Partitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trxpurpose_partitions_total",
		Help: "Total batch partition runs by mode.",
	}, []string{"mode"})
	PartitionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "trxpurpose_partition_duration_seconds",
		Help:    "Duration of batch partition runs.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})
	DroppedTransactions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trxpurpose_partition_dropped_transactions_total",
		Help: "Transactions dropped by a partition run because their label had no proportion.",
	})

	AssembledBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trxpurpose_assembled_batches_total",
		Help: "Total feature matrices assembled by data split.",
	}, []string{"data_split"})
	AssembleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "trxpurpose_assemble_duration_seconds",
		Help:    "Duration of feature matrix assembly, including backfill.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trxpurpose_dataset_cache_lookups_total",
		Help: "Dataset cache lookups by result (hit, miss).",
	}, []string{"data_split", "result"})
	CacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trxpurpose_dataset_cache_evictions_total",
		Help: "Dataset cache evictions by reason.",
	}, []string{"data_split", "reason"})

	BackfilledRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trxpurpose_backfilled_rows_total",
		Help: "Matrix rows whose embedding was computed on demand, by entity.",
	}, []string{"entity"})
	EncodedTexts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trxpurpose_encoded_texts_total",
		Help: "Distinct texts sent to the text encoder, by entity.",
	}, []string{"entity"})
	EncoderErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trxpurpose_encoder_errors_total",
		Help: "Text encoder failures, by entity.",
	}, []string{"entity"})
)
