package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	genai "github.com/google/generative-ai-go/genai"

	"asesoria-chatbot-platform/internal/config"
	"asesoria-chatbot-platform/internal/logger"
	"asesoria-chatbot-platform/internal/vector"
)

// ErrEncoderUnavailable means the embedding backend is not configured or
// not reachable. Retrieval and the semantic cache degrade to pass-through
// on this error instead of failing the request.
var ErrEncoderUnavailable = errors.New("embedding encoder unavailable")

// Encoder maps text to a fixed-length, unit-normalized vector. The encoder
// is a shared singleton loaded at startup; implementations must be safe for
// concurrent use.
type Encoder interface {
	// Model identifies the encoder. Vectors from different models must never
	// be compared, so the identity is persisted next to every embedding.
	Model() string
	Encode(ctx context.Context, text string) ([]float32, error)
	EncodeBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// GeminiEncoder produces embeddings through the Google Generative AI API
// (text-embedding-004 by default), truncated to the configured dimension
// and re-normalized.
type GeminiEncoder struct {
	client  *genai.Client
	model   string
	dim     int
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// NewGeminiEncoder builds the shared encoder. Returns ErrEncoderUnavailable
// when no API key is configured so callers can run degraded.
func NewGeminiEncoder(ctx context.Context, cfg *config.Config) (*GeminiEncoder, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("missing GEMINI_API_KEY: %w", ErrEncoderUnavailable)
	}
	if cfg.EmbeddingsProvider != "" && cfg.EmbeddingsProvider != "google" {
		return nil, fmt.Errorf("unknown embeddings provider %q: %w", cfg.EmbeddingsProvider, ErrEncoderUnavailable)
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	limits := getRateLimits(cfg.GeminiTier)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "GeminiEmbeddings",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	// RPM limit with some buffer
	rateLimiter := rate.NewLimiter(rate.Limit(float64(limits.RPM)*0.9/60.0), limits.RPM/10+1)

	return &GeminiEncoder{
		client:  client,
		model:   cfg.GoogleEmbeddingsModel,
		dim:     cfg.VectorDimensions,
		breaker: breaker,
		limiter: rateLimiter,
	}, nil
}

func (e *GeminiEncoder) Model() string { return e.model }

func (e *GeminiEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EncodeBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *GeminiEncoder) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	result, err := e.breaker.Execute(func() (interface{}, error) {
		em := e.client.EmbeddingModel(e.model)
		batch := em.NewBatch()
		for _, t := range texts {
			batch.AddContent(genai.Text(t))
		}
		return em.BatchEmbedContents(ctx, batch)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("embedding backend tripped: %w", ErrEncoderUnavailable)
		}
		return nil, err
	}

	resp := result.(*genai.BatchEmbedContentsResponse)
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d texts, got %d embeddings", len(texts), len(resp.Embeddings))
	}

	vecs := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Values) < e.dim {
			return nil, fmt.Errorf("embedding %d has %d values, need at least %d", i, len(emb.Values), e.dim)
		}
		// Truncate to the pinned dimension and re-normalize. The hosted
		// models are trained for truncation, and the whole corpus must share
		// one dimensionality for inner-product scores to be comparable.
		v := make([]float32, e.dim)
		copy(v, emb.Values[:e.dim])
		vector.Normalize(v)
		vecs[i] = v
	}
	return vecs, nil
}

func (e *GeminiEncoder) Close() error {
	return e.client.Close()
}

type RateLimits struct {
	RPM int // Requests per minute
	TPM int // Tokens per minute
	RPD int // Requests per day
}

func getRateLimits(tier string) RateLimits {
	switch tier {
	case "free":
		return RateLimits{RPM: 10, TPM: 250000, RPD: 250}
	case "tier1":
		return RateLimits{RPM: 1000, TPM: 1000000, RPD: 10000}
	case "tier2":
		return RateLimits{RPM: 2000, TPM: 4000000, RPD: 50000}
	default:
		return RateLimits{RPM: 10, TPM: 250000, RPD: 250}
	}
}
