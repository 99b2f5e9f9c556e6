// Package telemetry sets up OpenTelemetry tracing and metrics export for a
// goalsync run.
//
// Spans and counters are exported over OTLP (gRPC or HTTP/protobuf) when
// enabled. A disabled or degraded instance hands out the global no-op
// providers, so instrumented code never needs to check.
//
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Tests use NewTestTelemetry, which records spans and metrics in memory:
//
//	tt := telemetry.NewTestTelemetry()
//	svc := syncer.New(deps, syncer.Options{Tracer: tt.Tracer("test"), Meter: tt.Meter("test")})
//	tt.AssertSpanExists(t, "goalsync.run")
package telemetry
