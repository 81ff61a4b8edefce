package batching

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/jonboulle/clockwork"
)

type Mode string

const (
	// ModeStratified interleaves purposes within a split so every batch
	// tracks the label proportions of statistics_labels.
	ModeStratified Mode = "stratified"
	// ModeSequential numbers each split by trx_id and ignores proportions.
	ModeSequential Mode = "sequential"

	DefaultTableName = "batches"
)

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock

	BatchSize int
	Seed      float64
	Mode      Mode

	// TableName is the assignment table to replace, "batches" by default.
	TableName string
	// Temporary creates the assignment as a connection-local TEMP table.
	Temporary bool
	// DropUnmatched drops transactions whose (data_split, purpose) has no
	// positive proportion instead of failing with ErrMissingProportionData.
	DropUnmatched bool
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidBatchSize, c.BatchSize)
	}
	if c.Mode == "" {
		c.Mode = ModeStratified
	}
	if c.Mode != ModeStratified && c.Mode != ModeSequential {
		return fmt.Errorf("invalid partition mode %q", c.Mode)
	}
	if c.TableName == "" {
		c.TableName = DefaultTableName
	}
	if !identifierRe.MatchString(c.TableName) {
		return fmt.Errorf("invalid table name %q", c.TableName)
	}
	return nil
}
