package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInitTracingDisabledIsNoop(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("noop shutdown failed: %v", err)
	}
}

func TestInitTracingExportsSpansToWriter(t *testing.T) {
	var buffer bytes.Buffer
	shutdown, err := InitTracing(context.Background(), TracingConfig{
		Enabled:     true,
		ServiceName: "jobbridge-test",
		Writer:      &buffer,
	}, nil)
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}

	_, span := otel.Tracer("observability-test").Start(context.Background(), "hiring.decide")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	if !strings.Contains(buffer.String(), "hiring.decide") {
		t.Fatalf("expected exported span, got %q", buffer.String())
	}
}
