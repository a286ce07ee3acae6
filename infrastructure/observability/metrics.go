package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"borrowledger/config"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
)

// MetricsProvider manages OpenTelemetry metrics for the ledger.
// A nil *MetricsProvider is valid and records nothing.
type MetricsProvider struct {
	config        *config.Config
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	initialized   bool
	mu            sync.RWMutex

	// Metric instruments
	ledgerOperationsCounter      metric.Int64Counter
	borrowLimitRejectionsCounter metric.Int64Counter
	natsMessagesPublishedCounter metric.Int64Counter
	databaseQueriesCounter       metric.Int64Counter
	databaseQueryDurationHist    metric.Float64Histogram
}

// NewMetricsProvider creates a new metrics provider
func NewMetricsProvider(cfg *config.Config) *MetricsProvider {
	return &MetricsProvider{
		config: cfg,
	}
}

// Initialize sets up the OpenTelemetry metrics provider
func (mp *MetricsProvider) Initialize(ctx context.Context) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.initialized {
		log.Debug("Metrics provider already initialized")
		return nil
	}

	if !mp.config.OTelEnabled {
		log.Info("OpenTelemetry metrics disabled")
		mp.initialized = true
		return nil
	}

	res, err := newResource(mp.config)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	var exporter sdkmetric.Exporter
	switch mp.config.OTelExporterType {
	case "console":
		exporter, err = stdoutmetric.New()
		if err != nil {
			return fmt.Errorf("failed to create console exporter: %w", err)
		}
		log.Info("Using console metric exporter")

	case "otlp":
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		exporter, err = otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(mp.config.OTelOTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		log.WithField("endpoint", mp.config.OTelOTLPEndpoint).Info("Using OTLP metric exporter")

	case "none":
		log.Info("Metrics export disabled (exporter_type='none')")
		mp.initialized = true
		return nil

	default:
		return fmt.Errorf("unknown exporter type: %s", mp.config.OTelExporterType)
	}

	mp.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(
				exporter,
				sdkmetric.WithInterval(time.Duration(mp.config.OTelExportIntervalMillis)*time.Millisecond),
			),
		),
	)

	otel.SetMeterProvider(mp.meterProvider)
	mp.meter = mp.meterProvider.Meter("borrowledger")

	if err := mp.createInstruments(); err != nil {
		return fmt.Errorf("failed to create instruments: %w", err)
	}

	mp.initialized = true
	log.Info("Metrics provider initialized successfully")
	return nil
}

// newResource describes this service on top of the SDK defaults. The semconv
// schema must match the one resource.Default uses or the merge fails.
func newResource(cfg *config.Config) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.OTelServiceName),
			attribute.String("environment", cfg.Environment),
		),
	)
}

// createInstruments creates all metric instruments
func (mp *MetricsProvider) createInstruments() error {
	var err error

	mp.ledgerOperationsCounter, err = mp.meter.Int64Counter(
		LedgerOperationsTotal,
		metric.WithDescription("Total number of committed or failed ledger operations"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create ledger operations counter: %w", err)
	}

	mp.borrowLimitRejectionsCounter, err = mp.meter.Int64Counter(
		BorrowLimitRejectionsTotal,
		metric.WithDescription("Total number of borrows rejected by the ownership limit"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create borrow limit rejections counter: %w", err)
	}

	mp.natsMessagesPublishedCounter, err = mp.meter.Int64Counter(
		NATSMessagesPublishedTotal,
		metric.WithDescription("Total number of NATS messages published"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create NATS messages published counter: %w", err)
	}

	mp.databaseQueriesCounter, err = mp.meter.Int64Counter(
		DatabaseQueriesTotal,
		metric.WithDescription("Total number of storage queries"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create database queries counter: %w", err)
	}

	mp.databaseQueryDurationHist, err = mp.meter.Float64Histogram(
		DatabaseQueryDuration,
		metric.WithDescription("Duration of storage queries in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0),
	)
	if err != nil {
		return fmt.Errorf("failed to create database query duration histogram: %w", err)
	}

	return nil
}

// Shutdown flushes and stops the meter provider
func (mp *MetricsProvider) Shutdown(ctx context.Context) error {
	if mp == nil {
		return nil
	}
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.meterProvider != nil {
		return mp.meterProvider.Shutdown(ctx)
	}
	return nil
}

// RecordLedgerOperation counts a ledger operation by name and outcome
func (mp *MetricsProvider) RecordLedgerOperation(operation, outcome string) {
	if !mp.isEnabled() {
		return
	}

	mp.ledgerOperationsCounter.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String(LabelOperation, operation),
			attribute.String(LabelOutcome, outcome),
		),
	)
}

// RecordBorrowLimitRejection counts a borrow refused by the limit check
func (mp *MetricsProvider) RecordBorrowLimitRejection() {
	if !mp.isEnabled() {
		return
	}

	mp.borrowLimitRejectionsCounter.Add(context.Background(), 1)
}

// RecordNATSMessagePublished records a NATS message being published
func (mp *MetricsProvider) RecordNATSMessagePublished(eventType string) {
	if !mp.isEnabled() {
		return
	}

	mp.natsMessagesPublishedCounter.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String(LabelEventType, eventType),
		),
	)
}

// RecordDatabaseQuery records a storage query with duration
func (mp *MetricsProvider) RecordDatabaseQuery(repository, method string, duration time.Duration) {
	if !mp.isEnabled() {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String(LabelRepository, repository),
		attribute.String(LabelMethod, method),
	)

	mp.databaseQueriesCounter.Add(context.Background(), 1, attrs)
	mp.databaseQueryDurationHist.Record(context.Background(), duration.Seconds(), attrs)
}

// MeasureDatabaseQuery returns a function to measure query duration
// Usage:
//
//	defer observability.GetMetrics().MeasureDatabaseQuery("borrower", "GetByAddr")()
func (mp *MetricsProvider) MeasureDatabaseQuery(repository, method string) func() {
	start := time.Now()
	return func() {
		mp.RecordDatabaseQuery(repository, method, time.Since(start))
	}
}

// isEnabled checks if metrics are enabled and initialized
func (mp *MetricsProvider) isEnabled() bool {
	if mp == nil {
		return false
	}
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	return mp.initialized && mp.meter != nil && mp.config.OTelEnabled
}

// Global metrics provider instance
var (
	globalMetrics *MetricsProvider
	metricsOnce   sync.Once
)

// InitializeGlobalMetrics initializes the global metrics provider
func InitializeGlobalMetrics(ctx context.Context, cfg *config.Config) error {
	var err error
	metricsOnce.Do(func() {
		globalMetrics = NewMetricsProvider(cfg)
		err = globalMetrics.Initialize(ctx)
	})
	return err
}

// GetMetrics returns the global metrics provider, nil before initialization
func GetMetrics() *MetricsProvider {
	return globalMetrics
}

// ShutdownGlobalMetrics shuts down the global metrics provider
func ShutdownGlobalMetrics(ctx context.Context) error {
	if globalMetrics != nil {
		return globalMetrics.Shutdown(ctx)
	}
	return nil
}
