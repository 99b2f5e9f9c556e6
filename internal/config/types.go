// internal/config/types.go
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Duration wraps time.Duration so it can be written as "30s" in files and
// environment variables.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", text)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Secret holds a credential. Every string and serialized form is redacted;
// call Value for the real thing.
type Secret string

const redactedText = "[REDACTED]"

// String implements fmt.Stringer.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redactedText
}

// GoString implements fmt.GoStringer for %#v.
func (s Secret) GoString() string {
	return "Secret(" + redactedText + ")"
}

// Value returns the secret itself.
func (s Secret) Value() string {
	return string(s)
}

// IsSet reports whether the secret is non-empty.
func (s Secret) IsSet() bool {
	return strings.TrimSpace(string(s)) != ""
}

// MarshalJSON implements json.Marshaler.
func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// MarshalText implements encoding.TextMarshaler.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// MarshalYAML implements yaml.Marshaler.
func (s Secret) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Raw values are kept.
func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(strings.TrimSpace(string(text)))
	return nil
}
