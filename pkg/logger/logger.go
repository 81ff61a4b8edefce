package logger

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/lmittmann/tint"
)

func New(verbose bool) *slog.Logger {
	return NewWithWriter(os.Stdout, verbose)
}

func NewWithWriter(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	}))
}

// Timed logs the runtime of a pipeline step. Call the returned function when
// the step finishes:
//
//	defer logger.Timed(log, clock, "create_remark_features")()
func Timed(log *slog.Logger, clock clockwork.Clock, step string) func() {
	start := clock.Now()
	return func() {
		log.Info("step finished", "step", step, "duration", clock.Since(start).Round(10*time.Millisecond).String())
	}
}
