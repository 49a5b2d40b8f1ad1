package services

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"

	"asesoria-chatbot-platform/internal/logger"
	"asesoria-chatbot-platform/internal/telemetry"
)

// RebuildScheduler periodically re-runs both services' full rebuilds. This
// is the operational home of self-healing: each sweep backfills missing
// embeddings and repairs encoder-identity drift without blocking requests
// (readers keep serving the previous index until the swap).
type RebuildScheduler struct {
	rag       *RAGService
	cache     *SemanticCacheService
	metrics   *telemetry.Metrics
	scheduler *gocron.Scheduler
}

func NewRebuildScheduler(rag *RAGService, cache *SemanticCacheService, metrics *telemetry.Metrics, interval time.Duration) *RebuildScheduler {
	rs := &RebuildScheduler{
		rag:       rag,
		cache:     cache,
		metrics:   metrics,
		scheduler: gocron.NewScheduler(time.UTC),
	}
	rs.scheduler.Every(interval).Do(rs.rebuildAll)
	return rs
}

func (rs *RebuildScheduler) Start() {
	logger.Info("Starting index rebuild scheduler")
	rs.scheduler.StartAsync()
}

func (rs *RebuildScheduler) Stop() {
	rs.scheduler.Stop()
	logger.Info("Index rebuild scheduler stopped")
}

func (rs *RebuildScheduler) rebuildAll() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	start := time.Now()
	if err := rs.rag.Reload(ctx); err != nil {
		logger.Error("Scheduled RAG index rebuild failed", "error", err)
	} else if rs.metrics != nil {
		rs.metrics.RecordRebuild(ctx, "rag", rs.rag.IndexSize(), time.Since(start).Seconds())
	}

	start = time.Now()
	if err := rs.cache.Reload(ctx); err != nil {
		logger.Error("Scheduled cache index rebuild failed", "error", err)
	} else if rs.metrics != nil {
		rs.metrics.RecordRebuild(ctx, "cache", rs.cache.IndexSize(), time.Since(start).Seconds())
	}
}
