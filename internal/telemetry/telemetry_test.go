package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/log/noop"
	"go.opentelemetry.io/otel/metric"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.Equal(t, ProtocolGRPC, cfg.Protocol)
	assert.Equal(t, "goalsync", cfg.ServiceName)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 1.0, cfg.SampleRate)
	assert.Equal(t, 5*time.Second, cfg.Shutdown.Timeout)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	enabled := func(mut func(*Config)) *Config {
		cfg := NewDefaultConfig()
		cfg.Enabled = true
		mut(cfg)
		return cfg
	}

	tests := []struct {
		name   string
		config *Config
		errMsg string
	}{
		{"disabled skips validation", &Config{}, ""},
		{"enabled defaults", enabled(func(*Config) {}), ""},
		{"missing endpoint", enabled(func(c *Config) { c.Endpoint = "" }), "endpoint is required"},
		{"missing service name", enabled(func(c *Config) { c.ServiceName = "" }), "service_name is required"},
		{"bad protocol", enabled(func(c *Config) { c.Protocol = "udp" }), "protocol must be"},
		{"insecure remote", enabled(func(c *Config) { c.Endpoint = "otel.example.com:4317" }), "insecure connections"},
		{"secure remote", enabled(func(c *Config) { c.Endpoint = "otel.example.com:4317"; c.Insecure = false }), ""},
		{"insecure ipv6 loopback", enabled(func(c *Config) { c.Endpoint = "[::1]:4317" }), ""},
		{"insecure http scheme loopback", enabled(func(c *Config) { c.Endpoint = "http://127.0.0.1:4318" }), ""},
		{"sample rate too high", enabled(func(c *Config) { c.SampleRate = 1.5 }), "sample_rate"},
		{"zero export interval", enabled(func(c *Config) { c.Metrics.ExportInterval = 0 }), "export_interval"},
		{"zero shutdown timeout", enabled(func(c *Config) { c.Shutdown.Timeout = 0 }), "shutdown.timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)

	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.NotNil(t, tel.LoggerProvider())
	assert.False(t, tel.IsEnabled())
	assert.True(t, tel.Health().Healthy)

	require.NoError(t, tel.ForceFlush(context.Background()))
	require.NoError(t, tel.Shutdown(context.Background()))
	assert.False(t, tel.Health().Healthy)
}

func TestNew_InvalidConfig(t *testing.T) {
	tel, err := New(context.Background(), &Config{Enabled: true})
	require.Error(t, err)
	assert.Nil(t, tel)
	assert.Contains(t, err.Error(), "invalid telemetry config")
}

func TestNew_EnabledLazyExporters(t *testing.T) {
	// OTLP exporters connect lazily, so construction succeeds without a
	// collector listening.
	for _, protocol := range []string{ProtocolGRPC, ProtocolHTTP} {
		t.Run(protocol, func(t *testing.T) {
			cfg := NewDefaultConfig()
			cfg.Enabled = true
			cfg.Protocol = protocol
			cfg.Endpoint = "127.0.0.1:1"

			tel, err := New(context.Background(), cfg)
			require.NoError(t, err)
			assert.True(t, tel.IsEnabled())
			assert.False(t, tel.Health().Degraded)

			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()
			_ = tel.Shutdown(ctx)
		})
	}
}

func TestTelemetry_NilSafe(t *testing.T) {
	var tel *Telemetry

	assert.NotPanics(t, func() {
		_ = tel.Tracer("test")
		_ = tel.Meter("test")
		_ = tel.LoggerProvider()
		tel.SetLoggerProvider(nil)
		_ = tel.IsEnabled()
		_ = tel.Shutdown(context.Background())
		_ = tel.ForceFlush(context.Background())
	})

	health := tel.Health()
	assert.False(t, health.Healthy)
	assert.True(t, health.Degraded)
}

func TestTelemetry_SetLoggerProvider(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)

	lp := noop.NewLoggerProvider()
	tel.SetLoggerProvider(lp)
	assert.Equal(t, lp, tel.LoggerProvider())
}

func TestSampler(t *testing.T) {
	assert.Contains(t, newSampler(1).Description(), "AlwaysOnSampler")
	assert.Contains(t, newSampler(0).Description(), "AlwaysOffSampler")
	assert.Contains(t, newSampler(0.25).Description(), "TraceIDRatioBased")
}

func TestNewResource(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.ServiceVersion = "1.2.3"

	attrs := map[string]string{}
	for _, kv := range newResource(cfg).Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsString()
	}
	assert.Equal(t, "goalsync", attrs["service.name"])
	assert.Equal(t, "1.2.3", attrs["service.version"])
}

func TestTestTelemetry_Spans(t *testing.T) {
	tt := NewTestTelemetry()
	tracer := tt.Tracer("test")

	_, span := tracer.Start(context.Background(), "goalsync.item")
	span.SetAttributes(
		attribute.String("ticket.key", "ABC-1"),
		attribute.Int64("comments", 2),
		attribute.Bool("dry_run", true),
	)
	span.End()
	_, span = tracer.Start(context.Background(), "goalsync.item")
	span.End()

	tt.AssertSpanExists(t, "goalsync.item")
	tt.AssertSpanAttribute(t, "goalsync.item", "ticket.key", "ABC-1")
	tt.AssertSpanAttribute(t, "goalsync.item", "comments", int64(2))
	tt.AssertSpanAttribute(t, "goalsync.item", "dry_run", true)
	assert.Len(t, tt.SpansByName("goalsync.item"), 2)
	assert.Nil(t, tt.SpanByName("missing"))
}

func TestTestTelemetry_CounterValue(t *testing.T) {
	tt := NewTestTelemetry()
	ctx := context.Background()

	counter, err := tt.Meter("test").Int64Counter("goalsync.items_total")
	require.NoError(t, err)
	counter.Add(ctx, 2, metric.WithAttributes(attribute.String("outcome", "posted")))
	counter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "skipped")))

	total, err := tt.CounterValue(ctx, "goalsync.items_total")
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	posted, err := tt.CounterValue(ctx, "goalsync.items_total", attribute.String("outcome", "posted"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), posted)

	none, err := tt.CounterValue(ctx, "nope")
	require.NoError(t, err)
	assert.Zero(t, none)
}
