// Package telemetry wires OpenTelemetry tracing and metrics for goalsync.
package telemetry

import (
	"fmt"
	"strings"
	"time"
)

// Protocols accepted by Config.Protocol.
const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http/protobuf"
)

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	Endpoint       string
	Protocol       string
	ServiceName    string
	ServiceVersion string
	Insecure       bool // plaintext, no TLS
	TLSSkipVerify  bool // TLS without certificate verification, for internal CAs
	SampleRate     float64
	Metrics        MetricsConfig
	Shutdown       ShutdownConfig
}

// MetricsConfig controls OTLP metrics export.
type MetricsConfig struct {
	Enabled        bool
	ExportInterval time.Duration
}

// ShutdownConfig bounds how long the final flush may take.
type ShutdownConfig struct {
	Timeout time.Duration
}

// NewDefaultConfig returns defaults. Telemetry starts disabled since most
// runs have no collector nearby.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:        false,
		Endpoint:       "localhost:4317",
		Protocol:       ProtocolGRPC,
		ServiceName:    "goalsync",
		ServiceVersion: "dev",
		Insecure:       true,
		SampleRate:     1.0,
		Metrics: MetricsConfig{
			Enabled:        true,
			ExportInterval: 15 * time.Second,
		},
		Shutdown: ShutdownConfig{
			Timeout: 5 * time.Second,
		},
	}
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when telemetry is enabled")
	}

	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required when telemetry is enabled")
	}

	switch c.Protocol {
	case "", ProtocolGRPC, ProtocolHTTP:
	default:
		return fmt.Errorf("protocol must be %q or %q, got %q", ProtocolGRPC, ProtocolHTTP, c.Protocol)
	}

	if c.Insecure && !c.isLocalEndpoint() {
		return fmt.Errorf("insecure connections to remote endpoints are not allowed; set insecure=false for TLS or use a local endpoint (localhost/127.0.0.1)")
	}

	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("sample_rate must be between 0 and 1, got %f", c.SampleRate)
	}

	if c.Metrics.Enabled && c.Metrics.ExportInterval <= 0 {
		return fmt.Errorf("metrics.export_interval must be positive when metrics enabled")
	}

	if c.Shutdown.Timeout <= 0 {
		return fmt.Errorf("shutdown.timeout must be positive")
	}

	return nil
}

// isLocalEndpoint reports whether the endpoint is a loopback address.
func (c *Config) isLocalEndpoint() bool {
	host := stripScheme(c.Endpoint)

	if strings.HasPrefix(host, "[") {
		if idx := strings.Index(host, "]:"); idx != -1 {
			host = host[1:idx]
		} else if strings.HasSuffix(host, "]") {
			host = host[1 : len(host)-1]
		}
	} else if strings.Count(host, ":") == 1 {
		host = host[:strings.LastIndex(host, ":")]
	}

	return host == "localhost" ||
		host == "::1" ||
		strings.HasPrefix(host, "127.")
}
