package observability

import (
	"context"
	"testing"

	"borrowledger/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
)

func TestNewResource_MergesWithSDKDefaults(t *testing.T) {
	cfg := config.NewTestConfig()
	cfg.OTelServiceName = "borrowledger-resource"

	res, err := newResource(cfg)
	require.NoError(t, err)

	assert.Equal(t, resource.Default().SchemaURL(), res.SchemaURL())
	value, ok := res.Set().Value(semconv.ServiceNameKey)
	require.True(t, ok)
	assert.Equal(t, "borrowledger-resource", value.AsString())

	environment, ok := res.Set().Value("environment")
	require.True(t, ok)
	assert.Equal(t, "test", environment.AsString())
}

func TestMetricsProvider_NilIsNoop(t *testing.T) {
	var mp *MetricsProvider

	assert.NotPanics(t, func() {
		mp.RecordLedgerOperation("borrow", OutcomeSuccess)
		mp.RecordBorrowLimitRejection()
		mp.RecordNATSMessagePublished("shares_borrowed")
		mp.MeasureDatabaseQuery("borrower", "GetByAddr")()
	})
	assert.NoError(t, mp.Shutdown(context.Background()))
}

func TestMetricsProvider_DisabledSkipsExporter(t *testing.T) {
	cfg := config.NewTestConfig()
	cfg.OTelEnabled = false

	mp := NewMetricsProvider(cfg)
	require.NoError(t, mp.Initialize(context.Background()))
	assert.False(t, mp.isEnabled())

	assert.NotPanics(t, func() {
		mp.RecordLedgerOperation("repay", OutcomeError)
	})
	assert.NoError(t, mp.Shutdown(context.Background()))
}

func TestMetricsProvider_NoneExporter(t *testing.T) {
	cfg := config.NewTestConfig()
	cfg.OTelEnabled = true
	cfg.OTelExporterType = "none"

	mp := NewMetricsProvider(cfg)
	require.NoError(t, mp.Initialize(context.Background()))
	assert.False(t, mp.isEnabled(), "no meter is created without an exporter")
}

func TestMetricsProvider_UnknownExporter(t *testing.T) {
	cfg := config.NewTestConfig()
	cfg.OTelEnabled = true
	cfg.OTelExporterType = "carrier-pigeon"

	mp := NewMetricsProvider(cfg)
	err := mp.Initialize(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown exporter type")
}

func TestMetricsProvider_ConsoleExporterRecords(t *testing.T) {
	cfg := config.NewTestConfig()
	cfg.OTelEnabled = true
	cfg.OTelExporterType = "console"

	mp := NewMetricsProvider(cfg)
	require.NoError(t, mp.Initialize(context.Background()))
	assert.True(t, mp.isEnabled())

	mp.RecordLedgerOperation("delegate_borrow", OutcomeSuccess)
	mp.RecordBorrowLimitRejection()
	mp.MeasureDatabaseQuery("delegate_share", "Increment")()

	assert.NoError(t, mp.Shutdown(context.Background()))
}
