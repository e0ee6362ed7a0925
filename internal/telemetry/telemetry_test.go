package telemetry

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func TestInitInstallsProviders(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()

	p, err := Init(ctx, Config{ServiceName: "leadstream-test", Version: "test", Registerer: reg})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, p.Shutdown(context.Background())) })

	_, span := otel.Tracer("test").Start(ctx, "op")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	counter, err := otel.Meter("test").Int64Counter("leadstream_test_events")
	require.NoError(t, err)
	counter.Add(ctx, 3)

	families, err := reg.Gather()
	require.NoError(t, err)
	found := false
	for _, mf := range families {
		if strings.HasPrefix(mf.GetName(), "leadstream_test_events") {
			found = true
		}
	}
	assert.True(t, found, "otel counter is exported through the registry")

	carrier := propagation.MapCarrier{}
	spanCtx, span := otel.Tracer("test").Start(ctx, "inject")
	otel.GetTextMapPropagator().Inject(spanCtx, carrier)
	span.End()
	assert.NotEmpty(t, carrier.Get("traceparent"))
}

func TestInitRequiresServiceName(t *testing.T) {
	_, err := Init(context.Background(), Config{Registerer: prometheus.NewRegistry()})
	require.Error(t, err)
}

func TestShutdownNilProvider(t *testing.T) {
	var p *Provider
	assert.NoError(t, p.Shutdown(context.Background()))
}
