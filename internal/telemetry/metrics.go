package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application metrics
type Metrics struct {
	RequestCounter    metric.Int64Counter
	RequestDuration   metric.Float64Histogram
	CacheLookups      metric.Int64Counter
	RetrievalDuration metric.Float64Histogram
	IngestionDuration metric.Float64Histogram
	IndexRebuilds     metric.Int64Counter
	IndexSize         metric.Int64Gauge
}

// InitMetrics initializes all application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("asesoria-chatbot-platform")

	requestCounter, err := meter.Int64Counter(
		"http.requests.total",
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"http.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	cacheLookups, err := meter.Int64Counter(
		"semantic_cache.lookups.total",
		metric.WithDescription("Semantic cache lookups, labeled hit/miss"),
	)
	if err != nil {
		return nil, err
	}

	retrievalDuration, err := meter.Float64Histogram(
		"rag.retrieval.duration",
		metric.WithDescription("Hybrid retrieval duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	ingestionDuration, err := meter.Float64Histogram(
		"rag.ingestion.duration",
		metric.WithDescription("Document ingestion duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	indexRebuilds, err := meter.Int64Counter(
		"vector_index.rebuilds.total",
		metric.WithDescription("Full index rebuilds, labeled by index"),
	)
	if err != nil {
		return nil, err
	}

	indexSize, err := meter.Int64Gauge(
		"vector_index.size",
		metric.WithDescription("Vectors currently served, labeled by index"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		RequestCounter:    requestCounter,
		RequestDuration:   requestDuration,
		CacheLookups:      cacheLookups,
		RetrievalDuration: retrievalDuration,
		IngestionDuration: ingestionDuration,
		IndexRebuilds:     indexRebuilds,
		IndexSize:         indexSize,
	}, nil
}

// RecordRequest records one HTTP request
func (m *Metrics) RecordRequest(method, path, status string, duration float64) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.String("status", status),
	)
	m.RequestCounter.Add(ctx, 1, attrs)
	m.RequestDuration.Record(ctx, duration, attrs)
}

// RecordCacheLookup records one semantic cache lookup
func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordRebuild records one full index rebuild and the resulting size
func (m *Metrics) RecordRebuild(ctx context.Context, index string, size int, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("index", index))
	m.IndexRebuilds.Add(ctx, 1, attrs)
	m.IndexSize.Record(ctx, int64(size), attrs)
}

// RecordIngestion records one document ingestion
func (m *Metrics) RecordIngestion(ctx context.Context, seconds float64) {
	m.IngestionDuration.Record(ctx, seconds)
}

// RecordRetrieval records one hybrid retrieval
func (m *Metrics) RecordRetrieval(ctx context.Context, seconds float64) {
	m.RetrievalDuration.Record(ctx, seconds)
}
