package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"asesoria-chatbot-platform/internal/vector"
	"asesoria-chatbot-platform/models"
)

// fakeCacheStore is an in-memory append-only CacheStore.
type fakeCacheStore struct {
	mu        sync.Mutex
	entries   []models.CacheEntry
	embedSets int
}

func (s *fakeCacheStore) InsertEntry(ctx context.Context, entry *models.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID.IsZero() {
		entry.ID = primitive.NewObjectID()
	}
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *fakeCacheStore) ListEntries(ctx context.Context) ([]models.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.CacheEntry(nil), s.entries...), nil
}

func (s *fakeCacheStore) SetEntryEmbedding(ctx context.Context, id primitive.ObjectID, blob []byte, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].ID == id {
			s.entries[i].Embedding = blob
			s.entries[i].EmbeddingModel = model
			s.embedSets++
			return nil
		}
	}
	return errors.New("entry not found")
}

func seedCacheEntry(t *testing.T, store *fakeCacheStore, tenantID primitive.ObjectID, query, response string, vec []float32, model string) {
	t.Helper()
	blob, err := vector.MarshalBlob(vec)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	store.InsertEntry(context.Background(), &models.CacheEntry{
		TenantID:       tenantID,
		Query:          query,
		Response:       response,
		Embedding:      blob,
		EmbeddingModel: model,
	})
}

func TestCacheGetThresholdIsStrict(t *testing.T) {
	cached := "¿Cuántos días de vacaciones corresponden?"
	above := "¿Cuántos días de vacaciones me tocan?"
	exact := "¿Qué días de descanso hay?"
	below := "¿Cómo se calcula el aguinaldo?"

	enc := newFakeEncoder(3, map[string][]float32{
		// The cached entry sits on the first axis, so the score against it
		// is exactly each query vector's first component.
		above: {0.8, 0.6, 0},
		exact: {0.5, 0.5, 0},
		below: {0.2, 0.9, 0},
	})
	store := &fakeCacheStore{}
	tenant := primitive.NewObjectID()
	seedCacheEntry(t, store, tenant, cached, "Doce días el primer año.", []float32{1, 0, 0}, enc.Model())

	cache := NewSemanticCacheService(enc, store, testConfig()) // threshold 0.5
	if err := cache.Reload(context.Background()); err != nil {
		t.Fatalf("reload error: %v", err)
	}

	if resp, hit, err := cache.Get(context.Background(), above, tenant); err != nil || !hit || resp != "Doce días el primer año." {
		t.Fatalf("above threshold: resp=%q hit=%v err=%v", resp, hit, err)
	}
	// A score exactly at the threshold is a miss; hits require strictly more.
	if _, hit, err := cache.Get(context.Background(), exact, tenant); err != nil || hit {
		t.Fatalf("exact threshold: hit=%v err=%v, want miss", hit, err)
	}
	if _, hit, err := cache.Get(context.Background(), below, tenant); err != nil || hit {
		t.Fatalf("below threshold: hit=%v err=%v, want miss", hit, err)
	}
}

func TestCacheGetTenantIsolation(t *testing.T) {
	query := "¿Cuál es el horario laboral?"
	enc := newFakeEncoder(3, nil) // everything encodes to {1,0,0}
	store := &fakeCacheStore{}
	owner := primitive.NewObjectID()
	other := primitive.NewObjectID()
	seedCacheEntry(t, store, owner, query, "De nueve a seis.", []float32{1, 0, 0}, enc.Model())

	cache := NewSemanticCacheService(enc, store, testConfig())
	if err := cache.Reload(context.Background()); err != nil {
		t.Fatalf("reload error: %v", err)
	}

	// The nearest (identical) entry belongs to another tenant: plain miss,
	// never a fallback to weaker candidates.
	if _, hit, err := cache.Get(context.Background(), query, other); err != nil || hit {
		t.Fatalf("cross-tenant lookup: hit=%v err=%v, want miss", hit, err)
	}
	if resp, hit, _ := cache.Get(context.Background(), query, owner); !hit || resp != "De nueve a seis." {
		t.Fatalf("owner lookup: resp=%q hit=%v", resp, hit)
	}
}

func TestCachePutThenGet(t *testing.T) {
	enc := newFakeEncoder(3, nil)
	store := &fakeCacheStore{}
	cache := NewSemanticCacheService(enc, store, testConfig())
	if err := cache.Reload(context.Background()); err != nil {
		t.Fatalf("reload error: %v", err)
	}

	tenant := primitive.NewObjectID()
	if err := cache.Put(context.Background(), "¿Hay prima dominical?", "Sí, del veinticinco por ciento.", tenant); err != nil {
		t.Fatalf("put error: %v", err)
	}
	if cache.IndexSize() != 1 {
		t.Fatalf("index size = %d, want 1", cache.IndexSize())
	}

	// The entry is visible immediately, without an intervening rebuild.
	resp, hit, err := cache.Get(context.Background(), "¿Hay prima dominical?", tenant)
	if err != nil || !hit {
		t.Fatalf("get after put: hit=%v err=%v", hit, err)
	}
	if resp != "Sí, del veinticinco por ciento." {
		t.Fatalf("resp = %q", resp)
	}
}

func TestCacheWithoutEncoder(t *testing.T) {
	store := &fakeCacheStore{}
	cache := NewSemanticCacheService(nil, store, testConfig())

	if _, hit, err := cache.Get(context.Background(), "pregunta", primitive.NewObjectID()); err != nil || hit {
		t.Fatalf("degraded get: hit=%v err=%v, want silent miss", hit, err)
	}
	if err := cache.Put(context.Background(), "pregunta", "respuesta", primitive.NewObjectID()); err != nil {
		t.Fatalf("degraded put must be a no-op, got: %v", err)
	}
	store.mu.Lock()
	n := len(store.entries)
	store.mu.Unlock()
	if n != 0 {
		t.Fatalf("entries = %d, want 0", n)
	}
}

func TestCacheReloadHealsEntries(t *testing.T) {
	enc := newFakeEncoder(3, nil)
	store := &fakeCacheStore{}
	tenant := primitive.NewObjectID()
	// No embedding at all, and one from a retired encoder.
	store.InsertEntry(context.Background(), &models.CacheEntry{
		TenantID: tenant, Query: "consulta uno", Response: "respuesta uno",
	})
	seedCacheEntry(t, store, tenant, "consulta dos", "respuesta dos", []float32{0, 1, 0}, "retired-model")

	cache := NewSemanticCacheService(enc, store, testConfig())
	if err := cache.Reload(context.Background()); err != nil {
		t.Fatalf("reload error: %v", err)
	}
	if cache.IndexSize() != 2 {
		t.Fatalf("index size = %d, want 2", cache.IndexSize())
	}
	store.mu.Lock()
	healed := store.embedSets
	store.mu.Unlock()
	if healed != 2 {
		t.Fatalf("embedding backfills = %d, want 2", healed)
	}

	entries, _ := store.ListEntries(context.Background())
	for _, e := range entries {
		if e.EmbeddingModel != enc.Model() {
			t.Fatalf("entry %q carries model %q, want %q", e.Query, e.EmbeddingModel, enc.Model())
		}
	}
}

func TestCacheReloadWithoutEncoderDropsUnembedded(t *testing.T) {
	store := &fakeCacheStore{}
	store.InsertEntry(context.Background(), &models.CacheEntry{
		TenantID: primitive.NewObjectID(), Query: "consulta", Response: "respuesta",
	})

	cache := NewSemanticCacheService(nil, store, testConfig())
	if err := cache.Reload(context.Background()); err != nil {
		t.Fatalf("reload must drop unhealable entries, got: %v", err)
	}
	if cache.IndexSize() != 0 {
		t.Fatalf("index size = %d, want 0", cache.IndexSize())
	}
}

func TestCacheGetRecoversFromInconsistency(t *testing.T) {
	enc := newFakeEncoder(3, nil)
	store := &fakeCacheStore{}
	tenant := primitive.NewObjectID()
	seedCacheEntry(t, store, tenant, "consulta", "respuesta", []float32{1, 0, 0}, enc.Model())

	cache := NewSemanticCacheService(enc, store, testConfig())
	if err := cache.Reload(context.Background()); err != nil {
		t.Fatalf("reload error: %v", err)
	}

	// Corrupt the index/answers pairing.
	cache.mu.Lock()
	cache.answers = cache.answers[:0]
	cache.mu.Unlock()

	if _, _, err := cache.Get(context.Background(), "consulta", tenant); !errors.Is(err, ErrIndexInconsistency) {
		t.Fatalf("err = %v, want ErrIndexInconsistency", err)
	}

	// The inconsistency forces a rebuild on the next access.
	resp, hit, err := cache.Get(context.Background(), "consulta", tenant)
	if err != nil || !hit || resp != "respuesta" {
		t.Fatalf("get after forced rebuild: resp=%q hit=%v err=%v", resp, hit, err)
	}
}

func TestCacheConcurrentPutAndGet(t *testing.T) {
	enc := newFakeEncoder(3, nil)
	store := &fakeCacheStore{}
	cache := NewSemanticCacheService(enc, store, testConfig())
	if err := cache.Reload(context.Background()); err != nil {
		t.Fatalf("reload error: %v", err)
	}
	tenant := primitive.NewObjectID()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if err := cache.Put(context.Background(), "pregunta concurrente", "respuesta", tenant); err != nil {
					t.Errorf("put error: %v", err)
					return
				}
				if _, _, err := cache.Get(context.Background(), "pregunta concurrente", tenant); err != nil {
					t.Errorf("get error: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if cache.IndexSize() != 40 {
		t.Fatalf("index size = %d, want 40", cache.IndexSize())
	}
}
