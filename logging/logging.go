// Package logging provides structured logging helpers built on logrus:
// an OutputSplitter, a configured logger from New, and ForTransaction for
// per-commit fields. The commit, backendtx, schemacache and registry
// packages take no logger and do not log through this package.
package logging

import (
	"bytes"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes error-level log lines to stderr and everything else
// to stdout, so container log collectors can treat the two streams
// differently.
type OutputSplitter struct{}

func (OutputSplitter) Write(p []byte) (int, error) {
	if bytes.Contains(p, []byte("level=error")) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Config controls how New builds a logger.
type Config struct {
	Level     string // "debug", "info", "warn", "error"
	Format    string // "json" or "text"
	AddCaller bool
}

// DefaultConfig returns the engine's default logging configuration.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "text"}
}

// New builds a logrus.Logger configured with the OutputSplitter and the
// given level/format. Callers attach per-transaction fields with WithFields
// rather than creating a new logger per commit.
func New(cfg Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	}

	logger.SetReportCaller(cfg.AddCaller)
	logger.SetOutput(&OutputSplitter{})
	return logger
}

// Default is a process-wide logger built from DefaultConfig. No
// constructor in this module takes a logger or falls back to Default.
var Default = New(DefaultConfig())

// ForTransaction returns a logger scoped to a single commit, carrying the
// transaction and log identifiers on every subsequent entry.
func ForTransaction(base logrus.FieldLogger, txID uint64, logIdentifier string) *logrus.Entry {
	fields := logrus.Fields{"tx_id": txID}
	if logIdentifier != "" {
		fields["log_identifier"] = logIdentifier
	}
	return base.WithFields(fields)
}
