package cli

import (
	"io"
	"log/slog"

	"github.com/lmittmann/tint"
)

func testLogger() *slog.Logger {
	return slog.New(tint.NewHandler(io.Discard, &tint.Options{Level: slog.LevelWarn}))
}
