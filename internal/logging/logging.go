// Package logging builds the structured loggers used across the balancer.
package logging

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

// Verbosity levels passed to logr.Logger.V.
const (
	DEFAULT = 2
	VERBOSE = 3
	DEBUG   = 4
	TRACE   = 5
)

// New returns a zap-backed logr.Logger that emits V(level) messages up to
// verbosity. Development mode switches to the console encoder.
func New(verbosity int, development bool) (logr.Logger, error) {
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapcore.Level(-verbosity))
	cfg.DisableStacktrace = !development

	zl, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return logr.Discard(), fmt.Errorf("failed to build logger: %w", err)
	}
	return zapr.NewLogger(zl), nil
}

// NewTestLogger creates a logger at TRACE verbosity that writes through t.Log.
func NewTestLogger(t zaptest.TestingT) logr.Logger {
	return zapr.NewLogger(zaptest.NewLogger(t, zaptest.Level(zapcore.Level(-TRACE))))
}
