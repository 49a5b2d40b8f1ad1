package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"asesoria-chatbot-platform/internal/ai"
	"asesoria-chatbot-platform/internal/config"
	"asesoria-chatbot-platform/internal/telemetry"
	"asesoria-chatbot-platform/models"
)

// fakeEncoder returns canned vectors per input text, falling back to a unit
// vector on the first axis. Safe for concurrent use.
type fakeEncoder struct {
	model string
	dim   int
	vecs  map[string][]float32

	mu          sync.Mutex
	encodeCalls int
	batchCalls  int
	unavailable bool
}

func newFakeEncoder(dim int, vecs map[string][]float32) *fakeEncoder {
	return &fakeEncoder{model: "fake-encoder", dim: dim, vecs: vecs}
}

func (f *fakeEncoder) Model() string { return f.model }

func (f *fakeEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.encodeCalls++
	down := f.unavailable
	f.mu.Unlock()
	if down {
		return nil, ai.ErrEncoderUnavailable
	}
	if v, ok := f.vecs[text]; ok {
		return append([]float32(nil), v...), nil
	}
	v := make([]float32, f.dim)
	v[0] = 1
	return v, nil
}

func (f *fakeEncoder) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.batchCalls++
	f.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := f.Encode(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// fakeChunkStore is an in-memory ChunkStore preserving insertion order.
type fakeChunkStore struct {
	mu         sync.Mutex
	order      []primitive.ObjectID
	chunks     map[primitive.ObjectID]models.Chunk
	docs       map[primitive.ObjectID]primitive.ObjectID
	failInsert bool
	embedSets  int
}

func newFakeChunkStore() *fakeChunkStore {
	return &fakeChunkStore{
		chunks: map[primitive.ObjectID]models.Chunk{},
		docs:   map[primitive.ObjectID]primitive.ObjectID{},
	}
}

func (s *fakeChunkStore) InsertChunks(ctx context.Context, chunks []models.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range chunks {
		if s.failInsert && i > 0 {
			// Simulate a mid-batch write failure leaving a partial set.
			return errors.New("write failed")
		}
		if chunks[i].ID.IsZero() {
			chunks[i].ID = primitive.NewObjectID()
		}
		s.chunks[chunks[i].ID] = chunks[i]
		s.order = append(s.order, chunks[i].ID)
	}
	return nil
}

func (s *fakeChunkStore) DeleteDocumentChunks(ctx context.Context, documentID primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []primitive.ObjectID
	for _, id := range s.order {
		if s.chunks[id].DocumentID == documentID {
			delete(s.chunks, id)
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return nil
}

func (s *fakeChunkStore) ListChunks(ctx context.Context) ([]models.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Chunk, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.chunks[id])
	}
	return out, nil
}

func (s *fakeChunkStore) GetChunk(ctx context.Context, id primitive.ObjectID) (*models.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.chunks[id]; ok {
		return &c, nil
	}
	return nil, nil
}

func (s *fakeChunkStore) SetChunkEmbedding(ctx context.Context, id primitive.ObjectID, blob []byte, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chunks[id]
	if !ok {
		return errors.New("chunk not found")
	}
	c.Embedding = blob
	c.EmbeddingModel = model
	s.chunks[id] = c
	s.embedSets++
	return nil
}

func (s *fakeChunkStore) FindChunksByContent(ctx context.Context, terms []string) ([]models.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Chunk
	for _, id := range s.order {
		c := s.chunks[id]
		lower := strings.ToLower(c.Content)
		for _, term := range terms {
			if strings.Contains(lower, strings.ToLower(term)) {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

func (s *fakeChunkStore) DocumentTenants(ctx context.Context) (map[primitive.ObjectID]primitive.ObjectID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[primitive.ObjectID]primitive.ObjectID, len(s.docs))
	for k, v := range s.docs {
		out[k] = v
	}
	return out, nil
}

func (s *fakeChunkStore) chunkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

func testConfig() *config.Config {
	return &config.Config{
		ChunkTokenBudget:    500,
		ChunkOverlap:        200,
		VectorDimensions:    3,
		RetrievalTopK:       5,
		RetrievalOversample: 20,
		CacheThreshold:      0.5,
	}
}

// ingestDoc registers the document's tenant and runs it through ingestion.
func ingestDoc(t *testing.T, rag *RAGService, store *fakeChunkStore, tenantID primitive.ObjectID, text string) primitive.ObjectID {
	t.Helper()
	docID := primitive.NewObjectID()
	store.mu.Lock()
	store.docs[docID] = tenantID
	store.mu.Unlock()
	if err := rag.IngestDocument(context.Background(), docID, tenantID, text); err != nil {
		t.Fatalf("ingest error: %v", err)
	}
	return docID
}

func TestRetrieveContextTenantIsolation(t *testing.T) {
	textA := "El salario mínimo se fija anualmente por la comisión."
	textB := "Las jornadas laborales no excederán de ocho horas."
	query := "¿Cómo se fija el salario mínimo?"

	enc := newFakeEncoder(3, map[string][]float32{
		textA: {1, 0, 0},
		textB: {0, 1, 0},
		query: {1, 0, 0}, // identical to tenant A's chunk
	})
	store := newFakeChunkStore()
	rag := NewRAGService(enc, store, testConfig())

	tenantA := primitive.NewObjectID()
	tenantB := primitive.NewObjectID()
	ingestDoc(t, rag, store, tenantA, textA)
	ingestDoc(t, rag, store, tenantB, textB)

	ctxStr, err := rag.RetrieveContext(context.Background(), query, tenantB, 5)
	if err != nil {
		t.Fatalf("retrieve error: %v", err)
	}
	if strings.Contains(ctxStr, textA) {
		t.Fatal("tenant B retrieved tenant A's chunk")
	}
	if !strings.Contains(ctxStr, textB) {
		t.Fatal("tenant B's own chunk missing")
	}

	ctxStr, err = rag.RetrieveContext(context.Background(), query, tenantA, 5)
	if err != nil {
		t.Fatalf("retrieve error: %v", err)
	}
	if !strings.Contains(ctxStr, textA) {
		t.Fatal("tenant A's own chunk missing")
	}
	if strings.Contains(ctxStr, textB) {
		t.Fatal("tenant A retrieved tenant B's chunk")
	}
}

func TestRetrieveContextKeywordBoostOrdering(t *testing.T) {
	mention := "Las obligaciones patronales descritas previamente se complementan con lo dispuesto en el Artículo 3 del reglamento."
	definition := "Artículo 3. El contrato individual de trabajo es aquel por virtud del cual una persona se obliga a prestar un trabajo subordinado."
	unrelated := "Las vacaciones anuales se rigen por disposiciones separadas."
	query := "¿Qué dice el artículo tercero?"

	enc := newFakeEncoder(3, map[string][]float32{
		mention:    {1, 0, 0},
		definition: {0, 1, 0},
		unrelated:  {0, 0, 1},
		query:      {0.9, 0.1, 0.4}, // vector-nearest is the mention
	})
	store := newFakeChunkStore()
	rag := NewRAGService(enc, store, testConfig())

	tenant := primitive.NewObjectID()
	// Mention ingested first so store order cannot masquerade as ranking.
	ingestDoc(t, rag, store, tenant, mention)
	ingestDoc(t, rag, store, tenant, definition)
	ingestDoc(t, rag, store, tenant, unrelated)

	ctxStr, err := rag.RetrieveContext(context.Background(), query, tenant, 3)
	if err != nil {
		t.Fatalf("retrieve error: %v", err)
	}
	parts := strings.Split(ctxStr, ContextSeparator)
	if len(parts) != 3 {
		t.Fatalf("len(parts) = %d, want 3", len(parts))
	}
	if parts[0] != definition {
		t.Fatalf("parts[0] = %q, want the article definition first", parts[0])
	}
	if parts[1] != mention {
		t.Fatalf("parts[1] = %q, want the mention second", parts[1])
	}
	if parts[2] != unrelated {
		t.Fatalf("parts[2] = %q, want the vector result last", parts[2])
	}
}

func TestRetrieveContextCapsAtTopK(t *testing.T) {
	texts := []string{
		"Primera disposición general del reglamento interno.",
		"Segunda disposición sobre permisos laborales.",
		"Tercera disposición sobre seguridad e higiene.",
		"Cuarta disposición sobre capacitación obligatoria.",
	}
	enc := newFakeEncoder(3, nil)
	store := newFakeChunkStore()
	rag := NewRAGService(enc, store, testConfig())

	tenant := primitive.NewObjectID()
	for _, text := range texts {
		ingestDoc(t, rag, store, tenant, text)
	}

	ctxStr, err := rag.RetrieveContext(context.Background(), "disposiciones", tenant, 2)
	if err != nil {
		t.Fatalf("retrieve error: %v", err)
	}
	if got := len(strings.Split(ctxStr, ContextSeparator)); got != 2 {
		t.Fatalf("selected %d chunks, want 2", got)
	}
}

func TestRetrieveContextEmptyKnowledgeBase(t *testing.T) {
	enc := newFakeEncoder(3, nil)
	rag := NewRAGService(enc, newFakeChunkStore(), testConfig())

	ctxStr, err := rag.RetrieveContext(context.Background(), "cualquier cosa", primitive.NewObjectID(), 5)
	if err != nil {
		t.Fatalf("retrieve error: %v", err)
	}
	if ctxStr != "" {
		t.Fatalf("context = %q, want empty", ctxStr)
	}
}

func TestRetrieveContextWithoutEncoder(t *testing.T) {
	rag := NewRAGService(nil, newFakeChunkStore(), testConfig())

	ctxStr, err := rag.RetrieveContext(context.Background(), "pregunta", primitive.NewObjectID(), 5)
	if err != nil {
		t.Fatalf("degraded retrieval must not error: %v", err)
	}
	if ctxStr != "" {
		t.Fatalf("context = %q, want empty in degraded mode", ctxStr)
	}
}

func TestRetrieveContextEncoderOutageKeepsKeywordMatches(t *testing.T) {
	definition := "Artículo 7. Los salarios se pagarán en moneda de curso legal."
	other := "Los contratos colectivos se depositan ante la junta de conciliación."
	query := "¿Qué establece el artículo 7?"

	enc := newFakeEncoder(3, map[string][]float32{
		definition: {1, 0, 0},
		other:      {0, 1, 0},
	})
	store := newFakeChunkStore()
	rag := NewRAGService(enc, store, testConfig())

	tenant := primitive.NewObjectID()
	ingestDoc(t, rag, store, tenant, definition)
	ingestDoc(t, rag, store, tenant, other)

	enc.mu.Lock()
	enc.unavailable = true
	enc.mu.Unlock()

	ctxStr, err := rag.RetrieveContext(context.Background(), query, tenant, 5)
	if err != nil {
		t.Fatalf("degraded retrieval must not error: %v", err)
	}
	if ctxStr != definition {
		t.Fatalf("context = %q, want the keyword-matched article only", ctxStr)
	}
}

func TestIngestDocumentEmptyText(t *testing.T) {
	enc := newFakeEncoder(3, nil)
	store := newFakeChunkStore()
	rag := NewRAGService(enc, store, testConfig())

	if err := rag.IngestDocument(context.Background(), primitive.NewObjectID(), primitive.NewObjectID(), "  \n\t "); err != nil {
		t.Fatalf("whitespace-only document must ingest as a no-op: %v", err)
	}
	if store.chunkCount() != 0 {
		t.Fatalf("chunk count = %d, want 0", store.chunkCount())
	}
}

func TestIngestDocumentWithoutEncoder(t *testing.T) {
	rag := NewRAGService(nil, newFakeChunkStore(), testConfig())

	err := rag.IngestDocument(context.Background(), primitive.NewObjectID(), primitive.NewObjectID(), "contenido real")
	if !errors.Is(err, ai.ErrEncoderUnavailable) {
		t.Fatalf("err = %v, want ErrEncoderUnavailable", err)
	}
}

func TestIngestDocumentRollsBackPartialInsert(t *testing.T) {
	// Window small enough that the text produces several chunks, so the
	// failing insert leaves a partial set to roll back.
	enc := newFakeEncoder(3, nil)
	store := newFakeChunkStore()
	store.failInsert = true
	rag := NewRAGService(enc, store, testConfig(), WithChunker(NewChunker(5, 0)))

	docID := primitive.NewObjectID()
	tenantID := primitive.NewObjectID()
	store.docs[docID] = tenantID

	err := rag.IngestDocument(context.Background(), docID, tenantID, strings.Repeat("texto laboral ", 20))
	if err == nil {
		t.Fatal("expected ingest error")
	}
	if store.chunkCount() != 0 {
		t.Fatalf("chunk count = %d after rollback, want 0", store.chunkCount())
	}
}

func TestIngestDocumentWithMetrics(t *testing.T) {
	metrics, err := telemetry.InitMetrics()
	if err != nil {
		t.Fatalf("init metrics: %v", err)
	}

	enc := newFakeEncoder(3, nil)
	store := newFakeChunkStore()
	rag := NewRAGService(enc, store, testConfig(), WithRAGMetrics(metrics))

	docID := primitive.NewObjectID()
	tenantID := primitive.NewObjectID()
	store.docs[docID] = tenantID

	// The instrumented path must behave exactly like the bare one.
	if err := rag.IngestDocument(context.Background(), docID, tenantID, "texto instrumentado"); err != nil {
		t.Fatalf("ingest error: %v", err)
	}
	if rag.IndexSize() != 1 {
		t.Fatalf("index size = %d, want 1", rag.IndexSize())
	}
}

func TestReloadHealsMissingEmbeddings(t *testing.T) {
	enc := newFakeEncoder(3, nil)
	store := newFakeChunkStore()
	docID := primitive.NewObjectID()
	store.docs[docID] = primitive.NewObjectID()
	store.InsertChunks(context.Background(), []models.Chunk{
		{DocumentID: docID, Content: "chunk sin embedding"},
	})

	rag := NewRAGService(enc, store, testConfig())
	if err := rag.Reload(context.Background()); err != nil {
		t.Fatalf("reload error: %v", err)
	}
	if rag.IndexSize() != 1 {
		t.Fatalf("index size = %d, want 1", rag.IndexSize())
	}
	if store.embedSets != 1 {
		t.Fatalf("embedding backfills = %d, want 1", store.embedSets)
	}

	// The healed embedding persists, so a second rebuild needs no encoder.
	if err := rag.Reload(context.Background()); err != nil {
		t.Fatalf("second reload error: %v", err)
	}
	enc.mu.Lock()
	batches := enc.batchCalls
	enc.mu.Unlock()
	if batches != 1 {
		t.Fatalf("batch encode calls = %d, want 1", batches)
	}
}

func TestReloadReembedsOnModelChange(t *testing.T) {
	enc := newFakeEncoder(3, nil)
	store := newFakeChunkStore()
	docID := primitive.NewObjectID()
	store.docs[docID] = primitive.NewObjectID()

	rag := NewRAGService(enc, store, testConfig())
	if err := rag.IngestDocument(context.Background(), docID, store.docs[docID], "texto con embedding viejo"); err != nil {
		t.Fatalf("ingest error: %v", err)
	}

	// Rewrite the stored model name as if a previous deployment used a
	// different encoder.
	store.mu.Lock()
	for id, c := range store.chunks {
		c.EmbeddingModel = "retired-model"
		store.chunks[id] = c
	}
	store.embedSets = 0
	store.mu.Unlock()

	if err := rag.Reload(context.Background()); err != nil {
		t.Fatalf("reload error: %v", err)
	}
	if store.embedSets != 1 {
		t.Fatalf("embedding backfills = %d, want 1", store.embedSets)
	}
	chunks, _ := store.ListChunks(context.Background())
	if chunks[0].EmbeddingModel != enc.Model() {
		t.Fatalf("stored model = %q, want %q", chunks[0].EmbeddingModel, enc.Model())
	}
}

func TestReloadWithoutEncoderSkipsUnembedded(t *testing.T) {
	store := newFakeChunkStore()
	docID := primitive.NewObjectID()
	store.docs[docID] = primitive.NewObjectID()
	store.InsertChunks(context.Background(), []models.Chunk{
		{DocumentID: docID, Content: "sin embedding"},
	})

	rag := NewRAGService(nil, store, testConfig())
	if err := rag.Reload(context.Background()); err != nil {
		t.Fatalf("reload must skip unhealable chunks, got: %v", err)
	}
	if rag.IndexSize() != 0 {
		t.Fatalf("index size = %d, want 0", rag.IndexSize())
	}
}

func TestRetrieveContextRecoversFromInconsistency(t *testing.T) {
	text := "Los contratos colectivos requieren registro previo."
	enc := newFakeEncoder(3, nil)
	store := newFakeChunkStore()
	rag := NewRAGService(enc, store, testConfig())
	tenant := primitive.NewObjectID()
	ingestDoc(t, rag, store, tenant, text)

	// Corrupt the published snapshot pairing.
	rag.mu.Lock()
	rag.refs = rag.refs[:0]
	rag.mu.Unlock()

	_, err := rag.RetrieveContext(context.Background(), "contratos", tenant, 5)
	if !errors.Is(err, ErrIndexInconsistency) {
		t.Fatalf("err = %v, want ErrIndexInconsistency", err)
	}

	// The next access must rebuild and serve normally.
	ctxStr, err := rag.RetrieveContext(context.Background(), "contratos", tenant, 5)
	if err != nil {
		t.Fatalf("retrieve after forced rebuild: %v", err)
	}
	if !strings.Contains(ctxStr, text) {
		t.Fatal("rebuilt index did not serve the chunk")
	}
}

func TestConcurrentRetrieveAndReload(t *testing.T) {
	text := "La prima vacacional será del veinticinco por ciento."
	enc := newFakeEncoder(3, nil)
	store := newFakeChunkStore()
	rag := NewRAGService(enc, store, testConfig())
	tenant := primitive.NewObjectID()
	ingestDoc(t, rag, store, tenant, text)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if _, err := rag.RetrieveContext(context.Background(), "prima vacacional", tenant, 5); err != nil {
					t.Errorf("retrieve error: %v", err)
					return
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 10; j++ {
			if err := rag.Reload(context.Background()); err != nil {
				t.Errorf("reload error: %v", err)
				return
			}
		}
	}()
	wg.Wait()
}
