package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the pipeline instruments. A nil *Metrics records nothing.
type Metrics struct {
	PagesProcessed      metric.Int64Counter
	ChunksStored        metric.Int64Counter
	ProviderCalls       metric.Int64Counter
	ProviderRetries     metric.Int64Counter
	CircuitBreakerState metric.Int64Counter
	TaskDuration        metric.Float64Histogram
	QueryOutcomes       metric.Int64Counter
}

// InitMetrics creates the instruments on the global meter provider.
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("docsift")

	pages, err := meter.Int64Counter("pipeline.pages.total",
		metric.WithDescription("Pages seen by the ingestion pipeline"))
	if err != nil {
		return nil, err
	}
	chunks, err := meter.Int64Counter("pipeline.chunks.stored",
		metric.WithDescription("Chunks upserted into the vector store"))
	if err != nil {
		return nil, err
	}
	calls, err := meter.Int64Counter("provider.calls.total",
		metric.WithDescription("External model provider calls"))
	if err != nil {
		return nil, err
	}
	retries, err := meter.Int64Counter("provider.retries.total",
		metric.WithDescription("Provider calls retried after a transient failure"))
	if err != nil {
		return nil, err
	}
	breaker, err := meter.Int64Counter("circuit_breaker.state_changes",
		metric.WithDescription("Circuit breaker state changes"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("pipeline.task.duration",
		metric.WithDescription("Ingestion task duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	queries, err := meter.Int64Counter("query.outcomes.total",
		metric.WithDescription("Query processor outcomes"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		PagesProcessed:      pages,
		ChunksStored:        chunks,
		ProviderCalls:       calls,
		ProviderRetries:     retries,
		CircuitBreakerState: breaker,
		TaskDuration:        duration,
		QueryOutcomes:       queries,
	}, nil
}

func (m *Metrics) RecordPage(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.PagesProcessed.Add(ctx, 1, metric.WithAttributes(attribute.String("page.status", status)))
}

func (m *Metrics) RecordChunksStored(ctx context.Context, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ChunksStored.Add(ctx, int64(n))
}

func (m *Metrics) RecordProviderCall(ctx context.Context, provider, op, outcome string) {
	if m == nil {
		return
	}
	m.ProviderCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) RecordRetry(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.ProviderRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

func (m *Metrics) RecordCircuitBreakerState(service, state string) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("state", state),
	))
}

func (m *Metrics) RecordTask(ctx context.Context, seconds float64, status string) {
	if m == nil {
		return
	}
	m.TaskDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("task.status", status)))
}

func (m *Metrics) RecordQuery(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.QueryOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
