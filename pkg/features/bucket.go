package features

import (
	"fmt"

	"github.com/malbeclabs/trxpurpose/config"
	"github.com/malbeclabs/trxpurpose/pkg/duck"
)

// BucketEncode is the clipped linear encoding of amount into [0, 1] over
// [lo, hi]. It is the Go side of the amount_encoding catalog function.
func BucketEncode(amount, lo, hi int64) float64 {
	return duck.AmountEncoding(amount, lo, hi)
}

// BucketColumn names the feature column of an amount bucket.
func BucketColumn(b config.AmountBucket) string {
	return fmt.Sprintf("amount_enc_%d_%d", b.Lo, b.Hi)
}
