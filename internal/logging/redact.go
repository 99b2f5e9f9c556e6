// internal/logging/redact.go
package logging

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/goalsync/internal/config"
)

const redacted = "[REDACTED]"

// Secret creates a field for a config.Secret that shows only its length.
func Secret(key string, val config.Secret) zap.Field {
	return RedactedString(key, val.Value())
}

// RedactedString creates a field that shows only the length of val.
func RedactedString(key, val string) zap.Field {
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(val))+"]")
}

// RedactingEncoder masks sensitive keys and value patterns before the
// wrapped encoder sees them.
type RedactingEncoder struct {
	zapcore.Encoder
	keys     map[string]bool
	patterns []*regexp.Regexp
}

// NewRedactingEncoder wraps base. An invalid pattern is an error.
func NewRedactingEncoder(base zapcore.Encoder, cfg RedactionConfig) (*RedactingEncoder, error) {
	if !cfg.Enabled {
		return &RedactingEncoder{Encoder: base}, nil
	}

	keys := make(map[string]bool, len(cfg.Fields))
	for _, f := range cfg.Fields {
		keys[strings.ToLower(f)] = true
	}

	patterns := make([]*regexp.Regexp, 0, len(cfg.Patterns))
	for _, p := range cfg.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}
	return &RedactingEncoder{Encoder: base, keys: keys, patterns: patterns}, nil
}

func (e *RedactingEncoder) sensitive(key string) bool {
	return e.keys[strings.ToLower(key)]
}

func (e *RedactingEncoder) scrub(s string) string {
	for _, re := range e.patterns {
		s = re.ReplaceAllString(s, redacted)
	}
	return s
}

// redactField rewrites a field that carries a sensitive key or value.
func (e *RedactingEncoder) redactField(f zapcore.Field) zapcore.Field {
	if e.sensitive(f.Key) {
		return zap.String(f.Key, redacted)
	}
	switch f.Type {
	case zapcore.StringType:
		if s := e.scrub(f.String); s != f.String {
			return zap.String(f.Key, s)
		}
	case zapcore.ErrorType:
		if err, ok := f.Interface.(error); ok && err != nil {
			msg := err.Error()
			if s := e.scrub(msg); s != msg {
				return zap.String(f.Key, s)
			}
		}
	}
	return f
}

// EncodeEntry redacts the message and per-entry fields.
func (e *RedactingEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	if len(e.keys) == 0 && len(e.patterns) == 0 {
		return e.Encoder.EncodeEntry(ent, fields)
	}
	ent.Message = e.scrub(ent.Message)
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		out[i] = e.redactField(f)
	}
	return e.Encoder.EncodeEntry(ent, out)
}

// The Add* overrides cover fields attached with Logger.With.

func (e *RedactingEncoder) AddString(key, val string) {
	if e.sensitive(key) {
		e.Encoder.AddString(key, redacted)
		return
	}
	e.Encoder.AddString(key, e.scrub(val))
}

func (e *RedactingEncoder) AddByteString(key string, val []byte) {
	if e.sensitive(key) {
		e.Encoder.AddString(key, redacted)
		return
	}
	e.Encoder.AddByteString(key, val)
}

func (e *RedactingEncoder) AddReflected(key string, val interface{}) error {
	if e.sensitive(key) {
		e.Encoder.AddString(key, redacted)
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

func (e *RedactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.sensitive(key) {
		e.Encoder.AddString(key, redacted)
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

// Clone keeps redaction on child loggers.
func (e *RedactingEncoder) Clone() zapcore.Encoder {
	return &RedactingEncoder{
		Encoder:  e.Encoder.Clone(),
		keys:     e.keys,
		patterns: e.patterns,
	}
}
