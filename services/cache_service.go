package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"asesoria-chatbot-platform/internal/ai"
	"asesoria-chatbot-platform/internal/config"
	"asesoria-chatbot-platform/internal/logger"
	"asesoria-chatbot-platform/internal/telemetry"
	"asesoria-chatbot-platform/internal/vector"
	"asesoria-chatbot-platform/models"
)

// SemanticCacheService matches new queries against previously answered ones
// within a similarity threshold, under strict tenant isolation.
//
// The asymmetry with RAGService is deliberate: knowledge-base content can be
// edited or removed, so its index only supports full rebuild; cache entries
// are immutable once written, so append-only growth of the live index is
// safe and cheaper. Do not add incremental mutation to the RAG side.
type SemanticCacheService struct {
	encoder   ai.Encoder // nil when the backend is not configured
	store     CacheStore
	dim       int
	threshold float32
	metrics   *telemetry.Metrics

	mu      sync.Mutex // guards index + answers as a pair
	index   *vector.Flat
	answers []models.CachedAnswer

	dirty atomic.Bool
}

// CacheOption overrides a tuning knob at construction.
type CacheOption func(*SemanticCacheService)

// WithThreshold sets the similarity cutoff. A lookup hits only when the
// nearest neighbor scores strictly above the threshold.
func WithThreshold(t float64) CacheOption {
	return func(s *SemanticCacheService) { s.threshold = float32(t) }
}

// WithCacheMetrics wires hit/miss counters.
func WithCacheMetrics(m *telemetry.Metrics) CacheOption {
	return func(s *SemanticCacheService) { s.metrics = m }
}

// NewSemanticCacheService builds the cache around an encoder (may be nil
// for degraded operation) and an entry store. Call Reload before serving.
func NewSemanticCacheService(encoder ai.Encoder, store CacheStore, cfg *config.Config, opts ...CacheOption) *SemanticCacheService {
	s := &SemanticCacheService{
		encoder:   encoder,
		store:     store,
		dim:       cfg.VectorDimensions,
		threshold: float32(cfg.CacheThreshold),
		index:     vector.NewFlat(cfg.VectorDimensions),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reload rebuilds the cache index wholesale from the store. Entries missing
// an embedding (or carrying one from a different encoder) are re-embedded
// and backfilled rather than failing the rebuild.
func (s *SemanticCacheService) Reload(ctx context.Context) error {
	tracer := otel.Tracer("semantic-cache")
	ctx, span := tracer.Start(ctx, "cache.reload")
	defer span.End()

	entries, err := s.store.ListEntries(ctx)
	if err != nil {
		return fmt.Errorf("load cache entries: %w", err)
	}

	vectors := make([][]float32, 0, len(entries))
	answers := make([]models.CachedAnswer, 0, len(entries))
	healed := 0

	for _, entry := range entries {
		vec, ok := s.decodeEmbedding(entry.Embedding, entry.EmbeddingModel)
		if !ok {
			vec, ok = s.healEntry(ctx, entry)
			if !ok {
				continue
			}
			healed++
		}
		vectors = append(vectors, vec)
		answers = append(answers, models.CachedAnswer{
			ID:       entry.ID,
			TenantID: entry.TenantID,
			Response: entry.Response,
		})
	}

	fresh := vector.NewFlat(s.dim)
	if err := fresh.AddBatch(vectors); err != nil {
		return fmt.Errorf("populate cache index: %w", err)
	}
	if fresh.Len() != len(answers) {
		s.dirty.Store(true)
		logger.Error("Cache index rebuild produced inconsistent state",
			"vectors", fresh.Len(), "answers", len(answers))
		return ErrIndexInconsistency
	}

	s.mu.Lock()
	s.index = fresh
	s.answers = answers
	s.mu.Unlock()
	s.dirty.Store(false)

	span.SetAttributes(attribute.Int("cache.index_size", fresh.Len()))
	logger.Info("Semantic cache index reloaded", "entries", fresh.Len(), "healed", healed)
	return nil
}

// healEntry computes and backfills a missing embedding for one entry. The
// entry is dropped from the index (not an error) when no encoder is loaded.
func (s *SemanticCacheService) healEntry(ctx context.Context, entry models.CacheEntry) ([]float32, bool) {
	if s.encoder == nil {
		return nil, false
	}
	vec, err := s.encoder.Encode(ctx, entry.Query)
	if err != nil {
		logger.Warn("Could not heal cache entry embedding", "entry_id", entry.ID.Hex(), "error", err)
		return nil, false
	}
	blob, err := vector.MarshalBlob(vec)
	if err != nil {
		return nil, false
	}
	if err := s.store.SetEntryEmbedding(ctx, entry.ID, blob, s.encoder.Model()); err != nil {
		logger.Warn("Could not persist healed cache embedding", "entry_id", entry.ID.Hex(), "error", err)
		return nil, false
	}
	return vec, true
}

func (s *SemanticCacheService) decodeEmbedding(blob []byte, model string) ([]float32, bool) {
	if len(blob) == 0 {
		return nil, false
	}
	if s.encoder != nil && model != s.encoder.Model() {
		return nil, false
	}
	vec, err := vector.UnmarshalBlob(blob, s.dim)
	if err != nil {
		return nil, false
	}
	return vec, true
}

// Get looks up the single nearest cached query. It hits only when the score
// is strictly above the threshold AND the matched entry belongs to the
// caller's tenant; a cross-tenant top match is a plain miss, never retried
// against the second-best candidate.
func (s *SemanticCacheService) Get(ctx context.Context, query string, tenantID primitive.ObjectID) (string, bool, error) {
	tracer := otel.Tracer("semantic-cache")
	ctx, span := tracer.Start(ctx, "cache.get")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID.Hex()))

	if s.encoder == nil {
		// Degraded mode: the cache always misses.
		return "", false, nil
	}
	if s.dirty.Load() {
		if err := s.Reload(ctx); err != nil {
			return "", false, err
		}
	}

	// Encode outside the lock: a slow encoder call must not stall readers.
	qv, err := s.encoder.Encode(ctx, query)
	if err != nil {
		if errors.Is(err, ai.ErrEncoderUnavailable) {
			s.recordLookup(ctx, false)
			return "", false, nil
		}
		return "", false, fmt.Errorf("embed cache query: %w", err)
	}

	s.mu.Lock()
	if s.index.Len() != len(s.answers) {
		s.mu.Unlock()
		s.dirty.Store(true)
		return "", false, ErrIndexInconsistency
	}
	results, err := s.index.Search(qv, 1)
	if err != nil {
		s.mu.Unlock()
		return "", false, err
	}
	var answer models.CachedAnswer
	var score float32 = -1
	if len(results) > 0 {
		answer = s.answers[results[0].Position]
		score = results[0].Score
	}
	s.mu.Unlock()

	span.SetAttributes(attribute.Float64("cache.top_score", float64(score)))

	if score > s.threshold {
		if answer.TenantID == tenantID {
			logger.Info("Semantic cache hit", "score", score)
			s.recordLookup(ctx, true)
			return answer.Response, true, nil
		}
		logger.Debug("Cache top match belongs to another tenant; treating as miss")
	}
	s.recordLookup(ctx, false)
	return "", false, nil
}

// Put persists a new cache entry and appends its vector to the live index.
// Two concurrent misses for near-identical queries may both land here; the
// resulting near-duplicate rows are accepted.
func (s *SemanticCacheService) Put(ctx context.Context, query, response string, tenantID primitive.ObjectID) error {
	tracer := otel.Tracer("semantic-cache")
	ctx, span := tracer.Start(ctx, "cache.put")
	defer span.End()

	if s.encoder == nil {
		logger.Warn("Cache put skipped: encoder unavailable")
		return nil
	}

	vec, err := s.encoder.Encode(ctx, query)
	if err != nil {
		if errors.Is(err, ai.ErrEncoderUnavailable) {
			logger.Warn("Cache put skipped: encoder unavailable")
			return nil
		}
		return fmt.Errorf("embed cache entry: %w", err)
	}
	blob, err := vector.MarshalBlob(vec)
	if err != nil {
		return err
	}

	entry := &models.CacheEntry{
		TenantID:       tenantID,
		Query:          query,
		Response:       response,
		Embedding:      blob,
		EmbeddingModel: s.encoder.Model(),
	}
	if err := s.store.InsertEntry(ctx, entry); err != nil {
		return err
	}

	// The append is serialized with any concurrent rebuild via the same
	// mutex that guards the index/answers pair.
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.index.Add(vec); err != nil {
		return err
	}
	s.answers = append(s.answers, models.CachedAnswer{
		ID:       entry.ID,
		TenantID: tenantID,
		Response: response,
	})
	return nil
}

// IndexSize reports the number of cached vectors currently served.
func (s *SemanticCacheService) IndexSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Len()
}

func (s *SemanticCacheService) recordLookup(ctx context.Context, hit bool) {
	if s.metrics != nil {
		s.metrics.RecordCacheLookup(ctx, hit)
	}
}
