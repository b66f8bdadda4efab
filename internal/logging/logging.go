// Package logging provides the process-wide structured logger used by
// every component. It follows the same shape as the retrieval pack's
// AIAleph ingester logging façade: a package-level slog.Logger behind a
// mutex, swappable by tests and by the log-level config.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu     sync.RWMutex
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
)

// Logger returns the process-wide structured logger.
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// SetLogger overrides the global logger. Used by tests and by Configure.
func SetLogger(l *slog.Logger) {
	mu.Lock()
	logger = l
	mu.Unlock()
}

// Configure rebuilds the global logger at the given level name (DEBUG,
// INFO, WARN, ERROR; unrecognized values fall back to INFO).
func Configure(levelName string) {
	var level slog.Level
	switch strings.ToUpper(levelName) {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN", "WARNING":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	SetLogger(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

// Discard routes logs to io.Discard, preserving handler semantics. Used
// by tests that don't want log noise.
func Discard() {
	SetLogger(slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo})))
}

// ForChain returns a logger pre-tagged with the chain attribute, the
// structured equivalent of the teacher's "[chain] ..." log prefix.
func ForChain(chain string) *slog.Logger {
	return Logger().With("chain", chain)
}
