package tracer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace/noop"

	"mavcam-bridge/internal/infra/config"
)

func TestSetupDisabledInstallsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: false, Exporter: "stdout"})
	require.NoError(t, err)
	defer shutdown(context.Background())

	_, ok := otel.GetTracerProvider().(noop.TracerProvider)
	assert.True(t, ok)
}

func TestSetupStdout(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: "stdout"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
	otel.SetTracerProvider(noop.NewTracerProvider())
}

func TestSetupUnsupportedExporter(t *testing.T) {
	_, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: "zipkin"})
	assert.Error(t, err)
}

func TestSpanLifecycle(t *testing.T) {
	otel.SetTracerProvider(noop.NewTracerProvider())

	ctx, span := Start(context.Background(), "wifi.shutter_start", attribute.String("camera", "HERO12"))
	require.NotNil(t, ctx)
	Finish(span, errors.New("camera refused"))
	assert.False(t, span.IsRecording())

	_, span = Start(ctx, "control.submit")
	Finish(span, nil)
}
