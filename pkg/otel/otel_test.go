package otel

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInit_StdoutExporterWritesSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Init(t.Context(), Config{ServiceName: "changeverify-test", UseStdout: true, Writer: &buf})
	if err != nil {
		t.Fatal(err)
	}

	_, span := otel.Tracer("otel_test").Start(context.Background(), "probe")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "probe") {
		t.Fatalf("exported spans missing probe span: %q", buf.String())
	}
}

func TestInit_NoExporter(t *testing.T) {
	shutdown, err := Init(t.Context(), Config{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = shutdown(context.Background()) })
}
