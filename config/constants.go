package config

const (
	// Default date windows for the train/valid/test splits.
	DefaultTrainStart = "2024-05-01"
	DefaultTrainEnd   = "2024-05-31"
	DefaultValidStart = "2024-06-01"
	DefaultValidEnd   = "2024-06-30"
	DefaultTestStart  = "2024-07-01"
	DefaultTestEnd    = "2024-07-31"

	DefaultBatchSize     = 32
	DefaultSeed          = 0.42
	DefaultCacheCapacity = 2048

	DefaultEmbeddingModel     = "text-embedding-004"
	DefaultEmbeddingDimension = 768
	DefaultEncoderMaxBatch    = 100
)

// DefaultLabels is the canonical purpose list; its order fixes the one-hot
// label column order.
var DefaultLabels = []string{
	"business",
	"family",
	"loan",
	"other",
	"purchase",
	"salary",
	"savings",
}

// AmountBucket is a (lo, hi) range for clipped linear amount encoding.
type AmountBucket struct {
	Lo int64 `yaml:"lo"`
	Hi int64 `yaml:"hi"`
}

var DefaultAmountBuckets = []AmountBucket{
	{Lo: 0, Hi: 100_000},
	{Lo: 100_000, Hi: 1_000_000},
	{Lo: 1_000_000, Hi: 10_000_000},
	{Lo: 10_000_000, Hi: 100_000_000},
	{Lo: 100_000_000, Hi: 1_000_000_000},
}
