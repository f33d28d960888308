// README: zap logger construction shared by the CLI entry points.
package infra

import "go.uber.org/zap"

// NewLogger builds a production JSON logger; verbose drops the level to debug
// so the reconciler's drop decisions become visible.
func NewLogger(verbose bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
