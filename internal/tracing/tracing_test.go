package tracing

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/kenneth/chunkvault/internal/config"
)

func TestSetup_Disabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracingConfig{Enabled: false}, nil)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetup_StdoutExporter(t *testing.T) {
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	var buf bytes.Buffer
	shutdown, err := Setup(context.Background(), config.TracingConfig{
		Enabled:        true,
		ServiceName:    "chunkvault-test",
		ServiceVersion: "test",
		Exporter:       "stdout",
		SamplingRatio:  1.0,
	}, &buf)
	require.NoError(t, err)

	_, span := Tracer().Start(context.Background(), "encrypt")
	End(span, errors.New("chunk 3 failed"))

	require.NoError(t, shutdown(context.Background()))
	out := buf.String()
	assert.Contains(t, out, `"Name":"encrypt"`)
	assert.Contains(t, out, "chunk 3 failed")
	assert.Contains(t, out, "chunkvault-test")
}

func TestSetup_UnknownExporter(t *testing.T) {
	_, err := Setup(context.Background(), config.TracingConfig{Enabled: true, Exporter: "jaeger"}, nil)
	assert.Error(t, err)
}
