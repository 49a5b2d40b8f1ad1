package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

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

// ErrIndexInconsistency means the in-memory index and its position→id map
// disagree. It is fatal to the rebuild that produced it; the next access
// forces a fresh rebuild.
var ErrIndexInconsistency = errors.New("vector index inconsistent with id map")

// ContextSeparator joins selected chunks in the returned context block.
const ContextSeparator = "\n\n---\n\n"

// chunkRef is what an index position resolves to for the RAG index: the
// chunk id plus the document it belongs to (for tenant resolution).
type chunkRef struct {
	ID         primitive.ObjectID
	DocumentID primitive.ObjectID
}

// RAGService owns the knowledge-base half of the retrieval core: chunking,
// ingestion, index rebuilds and hybrid tenant-scoped retrieval.
//
// The index is only ever mutated by full rebuild-and-swap: a fresh Flat is
// built aside and published together with its ref slice and tenant map
// under the write lock. Published snapshots are never mutated afterwards,
// so readers that grabbed them under the read lock can keep searching
// without holding it. No encoder call ever runs under the lock.
type RAGService struct {
	encoder    ai.Encoder // nil when the backend is not configured
	store      ChunkStore
	chunker    *Chunker
	dim        int
	oversample int
	defaultK   int
	metrics    *telemetry.Metrics

	mu      sync.RWMutex
	index   *vector.Flat
	refs    []chunkRef
	tenants map[primitive.ObjectID]primitive.ObjectID

	dirty atomic.Bool // set on inconsistency, forces rebuild on next access
}

// RAGOption overrides a tuning knob at construction.
type RAGOption func(*RAGService)

// WithOversample sets the vector-search oversampling factor (candidates
// fetched per requested result before tenant filtering).
func WithOversample(factor int) RAGOption {
	return func(s *RAGService) {
		if factor > 0 {
			s.oversample = factor
		}
	}
}

// WithChunker substitutes the ingestion chunker.
func WithChunker(c *Chunker) RAGOption {
	return func(s *RAGService) { s.chunker = c }
}

// WithRAGMetrics wires ingestion instrumentation.
func WithRAGMetrics(m *telemetry.Metrics) RAGOption {
	return func(s *RAGService) { s.metrics = m }
}

// NewRAGService builds the service around an encoder (may be nil for
// degraded operation) and a chunk store. Call Reload before serving.
func NewRAGService(encoder ai.Encoder, store ChunkStore, cfg *config.Config, opts ...RAGOption) *RAGService {
	s := &RAGService{
		encoder:    encoder,
		store:      store,
		chunker:    NewChunker(cfg.ChunkTokenBudget, cfg.ChunkOverlap),
		dim:        cfg.VectorDimensions,
		oversample: cfg.RetrievalOversample,
		defaultK:   cfg.RetrievalTopK,
		index:      vector.NewFlat(cfg.VectorDimensions),
		tenants:    map[primitive.ObjectID]primitive.ObjectID{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reload rebuilds the index wholesale from the store: load every chunk,
// re-embed anything whose embedding is missing, undecodable or produced by
// a different encoder, and atomically swap in the result. Callers never
// observe a half-rebuilt index.
func (s *RAGService) Reload(ctx context.Context) error {
	tracer := otel.Tracer("rag-service")
	ctx, span := tracer.Start(ctx, "rag.reload")
	defer span.End()

	tenants, err := s.store.DocumentTenants(ctx)
	if err != nil {
		return fmt.Errorf("load document tenants: %w", err)
	}
	chunks, err := s.store.ListChunks(ctx)
	if err != nil {
		return fmt.Errorf("load chunks: %w", err)
	}

	vectors := make([][]float32, 0, len(chunks))
	refs := make([]chunkRef, 0, len(chunks))
	var repair []int // positions in chunks needing re-embedding

	for i, chunk := range chunks {
		vec, ok := s.decodeEmbedding(chunk.Embedding, chunk.EmbeddingModel)
		if !ok {
			repair = append(repair, i)
			continue
		}
		vectors = append(vectors, vec)
		refs = append(refs, chunkRef{ID: chunk.ID, DocumentID: chunk.DocumentID})
	}

	healed, err := s.repairChunks(ctx, chunks, repair)
	if err != nil {
		return err
	}
	for _, h := range healed {
		vectors = append(vectors, h.vec)
		refs = append(refs, h.ref)
	}

	fresh := vector.NewFlat(s.dim)
	if err := fresh.AddBatch(vectors); err != nil {
		return fmt.Errorf("populate index: %w", err)
	}
	if fresh.Len() != len(refs) {
		s.dirty.Store(true)
		logger.Error("RAG index rebuild produced inconsistent state",
			"vectors", fresh.Len(), "refs", len(refs))
		return ErrIndexInconsistency
	}

	s.mu.Lock()
	s.index = fresh
	s.refs = refs
	s.tenants = tenants
	s.mu.Unlock()
	s.dirty.Store(false)

	span.SetAttributes(attribute.Int("rag.index_size", fresh.Len()))
	logger.Info("RAG index reloaded", "chunks", fresh.Len(), "healed", len(healed))
	return nil
}

type healedChunk struct {
	vec []float32
	ref chunkRef
}

// repairChunks backfills embeddings for the given chunk positions. With no
// encoder available the chunks are skipped rather than failing the rebuild.
func (s *RAGService) repairChunks(ctx context.Context, chunks []models.Chunk, positions []int) ([]healedChunk, error) {
	if len(positions) == 0 {
		return nil, nil
	}
	if s.encoder == nil {
		logger.Warn("Skipping chunks without embeddings: encoder unavailable", "count", len(positions))
		return nil, nil
	}

	texts := make([]string, len(positions))
	for i, p := range positions {
		texts[i] = chunks[p].Content
	}
	vecs, err := s.encoder.EncodeBatch(ctx, texts)
	if err != nil {
		if errors.Is(err, ai.ErrEncoderUnavailable) {
			logger.Warn("Skipping chunks without embeddings: encoder unavailable", "count", len(positions))
			return nil, nil
		}
		return nil, fmt.Errorf("re-embed %d chunks: %w", len(positions), err)
	}

	healed := make([]healedChunk, 0, len(positions))
	for i, p := range positions {
		blob, err := vector.MarshalBlob(vecs[i])
		if err != nil {
			return nil, err
		}
		if err := s.store.SetChunkEmbedding(ctx, chunks[p].ID, blob, s.encoder.Model()); err != nil {
			return nil, err
		}
		healed = append(healed, healedChunk{
			vec: vecs[i],
			ref: chunkRef{ID: chunks[p].ID, DocumentID: chunks[p].DocumentID},
		})
	}
	return healed, nil
}

// decodeEmbedding returns the stored vector when it is usable as-is: it
// decodes at the pinned dimension and was produced by the current encoder.
func (s *RAGService) decodeEmbedding(blob []byte, model string) ([]float32, bool) {
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

// IngestDocument splits text into overlapping windows, embeds them in one
// batch, persists the chunk set and rebuilds the index. Ingestion is
// all-or-nothing per document: on any failure no partial chunk set remains.
func (s *RAGService) IngestDocument(ctx context.Context, documentID, tenantID primitive.ObjectID, text string) error {
	tracer := otel.Tracer("rag-service")
	ctx, span := tracer.Start(ctx, "rag.ingest_document")
	defer span.End()
	span.SetAttributes(
		attribute.String("document.id", documentID.Hex()),
		attribute.String("tenant.id", tenantID.Hex()),
	)

	start := time.Now()

	windows := s.chunker.Split(text)
	if len(windows) == 0 {
		logger.Info("Document has no ingestible text", "document_id", documentID.Hex())
		return nil
	}
	if s.encoder == nil {
		return fmt.Errorf("ingest document %s: %w", documentID.Hex(), ai.ErrEncoderUnavailable)
	}

	texts := make([]string, len(windows))
	for i, w := range windows {
		texts[i] = w.Content
	}
	vecs, err := s.encoder.EncodeBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed document %s: %w", documentID.Hex(), err)
	}

	now := time.Now()
	chunks := make([]models.Chunk, len(windows))
	for i, w := range windows {
		blob, err := vector.MarshalBlob(vecs[i])
		if err != nil {
			return fmt.Errorf("serialize embedding: %w", err)
		}
		chunks[i] = models.Chunk{
			DocumentID:     documentID,
			Content:        w.Content,
			Embedding:      blob,
			EmbeddingModel: s.encoder.Model(),
			SequenceIndex:  i,
			CreatedAt:      now,
		}
	}

	// Replace any previous chunk set for this document.
	if err := s.store.DeleteDocumentChunks(ctx, documentID); err != nil {
		return err
	}
	if err := s.store.InsertChunks(ctx, chunks); err != nil {
		// Roll back a possibly partial insert so re-ingestion starts clean.
		if rbErr := s.store.DeleteDocumentChunks(ctx, documentID); rbErr != nil {
			logger.Error("Rollback after failed chunk insert also failed",
				"document_id", documentID.Hex(), "error", rbErr)
		}
		return fmt.Errorf("persist chunks for document %s: %w", documentID.Hex(), err)
	}

	span.SetAttributes(attribute.Int("rag.chunks", len(chunks)))
	if err := s.Reload(ctx); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.RecordIngestion(ctx, time.Since(start).Seconds())
	}
	return nil
}

// RetrieveContext performs hybrid retrieval for a tenant: keyword-boosted
// article matches first, then oversampled vector search, deduplicated and
// capped at topK. Returns "" when nothing qualifies; that is a valid
// "no relevant context" result, not an error.
func (s *RAGService) RetrieveContext(ctx context.Context, query string, tenantID primitive.ObjectID, topK int) (string, error) {
	tracer := otel.Tracer("rag-service")
	ctx, span := tracer.Start(ctx, "rag.retrieve_context")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID.Hex()))

	if topK <= 0 {
		topK = s.defaultK
	}
	if s.encoder == nil {
		// Degraded mode: no encoder, no retrieval.
		return "", nil
	}
	if s.dirty.Load() {
		if err := s.Reload(ctx); err != nil {
			return "", err
		}
	}

	// Stage 1: keyword boost for structured article references. Runs before
	// the vector stage so definition chunks outrank vector-nearer mentions.
	var selected []string
	seen := map[primitive.ObjectID]bool{}

	s.mu.RLock()
	idx, refs, tenants := s.index, s.refs, s.tenants
	s.mu.RUnlock()

	if idx.Len() != len(refs) {
		s.dirty.Store(true)
		return "", ErrIndexInconsistency
	}

	if artNum, ok := parseArticleRef(query); ok {
		boosted, err := s.keywordBoost(ctx, artNum, tenantID, tenants, seen, topK)
		if err != nil {
			return "", err
		}
		selected = boosted
		span.SetAttributes(attribute.String("rag.article_ref", artNum))
	}

	// Stage 2: vector search with oversampling, tenant-filtered and
	// deduplicated against stage 1.
	if len(selected) < topK && idx.Len() > 0 {
		qv, err := s.encoder.Encode(ctx, query)
		if err != nil {
			if errors.Is(err, ai.ErrEncoderUnavailable) {
				// Degrade to whatever the keyword stage already found.
				logger.Warn("Retrieval degraded: encoder unavailable")
				return strings.Join(selected, ContextSeparator), nil
			}
			return "", fmt.Errorf("embed query: %w", err)
		}

		results, err := idx.Search(qv, topK*s.oversample)
		if err != nil {
			return "", err
		}
		for _, r := range results {
			if len(selected) >= topK {
				break
			}
			ref := refs[r.Position]
			if tenants[ref.DocumentID] != tenantID || seen[ref.ID] {
				continue
			}
			chunk, err := s.store.GetChunk(ctx, ref.ID)
			if err != nil {
				return "", err
			}
			if chunk == nil {
				// Chunk deleted since the last rebuild; skip and repair later.
				continue
			}
			selected = append(selected, chunk.Content)
			seen[ref.ID] = true
		}
	}

	span.SetAttributes(attribute.Int("rag.chunks_selected", len(selected)))
	return strings.Join(selected, ContextSeparator), nil
}

// keywordBoost collects tenant-owned chunks containing the literal article
// marker. A chunk whose content begins with the marker is the canonical
// definition and goes first; plain mentions follow.
func (s *RAGService) keywordBoost(ctx context.Context, artNum string, tenantID primitive.ObjectID,
	tenants map[primitive.ObjectID]primitive.ObjectID, seen map[primitive.ObjectID]bool, topK int) ([]string, error) {

	matches, err := s.store.FindChunksByContent(ctx, articleSearchTerms(artNum))
	if err != nil {
		return nil, err
	}

	var definitions, mentions []string
	for _, chunk := range matches {
		if tenants[chunk.DocumentID] != tenantID || seen[chunk.ID] {
			continue
		}
		if beginsWithArticle(chunk.Content, artNum) {
			definitions = append(definitions, chunk.Content)
		} else {
			mentions = append(mentions, chunk.Content)
		}
		seen[chunk.ID] = true
		if len(definitions)+len(mentions) >= topK {
			break
		}
	}
	return append(definitions, mentions...), nil
}

// IndexSize reports the number of vectors currently served.
func (s *RAGService) IndexSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Len()
}
