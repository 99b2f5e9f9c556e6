// internal/logging/otel.go
package logging

import (
	"fmt"
	"io"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap/zapcore"
)

// newCore builds the writer core and, when enabled, tees it with the OTEL
// log bridge.
func newCore(w io.Writer, cfg *Config, otelProvider log.LoggerProvider) (zapcore.Core, error) {
	level, err := LevelFromString(cfg.Level)
	if err != nil {
		return nil, err
	}

	encoder, err := NewRedactingEncoder(newEncoder(cfg.Format), cfg.Redaction)
	if err != nil {
		return nil, fmt.Errorf("failed to create redacting encoder: %w", err)
	}
	core := zapcore.NewCore(encoder, zapcore.AddSync(w), level)

	if cfg.OTEL && otelProvider != nil {
		otelCore := otelzap.NewCore("goalsync", otelzap.WithLoggerProvider(otelProvider))
		core = zapcore.NewTee(core, otelCore)
	}
	return core, nil
}
