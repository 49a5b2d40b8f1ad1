package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	genai "github.com/google/generative-ai-go/genai"

	"asesoria-chatbot-platform/internal/config"
	"asesoria-chatbot-platform/internal/logger"
)

// Generator wraps the outbound text-generation model. It is an external
// collaborator of the retrieval core: it receives the grounding context but
// knows nothing about indices or tenants.
type Generator struct {
	client  *genai.Client
	model   string
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

func NewGenerator(ctx context.Context, cfg *config.Config) (*Generator, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("missing GEMINI_API_KEY for generation")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, err
	}

	limits := getRateLimits(cfg.GeminiTier)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "GeminiGeneration",
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

	rateLimiter := rate.NewLimiter(rate.Limit(float64(limits.RPM)*0.9/60.0), limits.RPM/10+1)

	return &Generator{
		client:  client,
		model:   cfg.GenerationModel,
		breaker: breaker,
		limiter: rateLimiter,
	}, nil
}

// GenerateAnswer produces a grounded answer for the user's question.
// contextBlock may be empty, in which case the model answers from its own
// knowledge and is instructed to say so when it cannot.
func (g *Generator) GenerateAnswer(ctx context.Context, question, contextBlock string) (string, error) {
	tracer := otel.Tracer("gemini-generator")
	ctx, span := tracer.Start(ctx, "gemini.generate_answer")
	defer span.End()

	span.SetAttributes(
		attribute.String("gemini.model", g.model),
		attribute.Int("gemini.context_chars", len(contextBlock)),
	)

	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}

	prompt := buildPrompt(question, contextBlock)

	result, err := g.breaker.Execute(func() (interface{}, error) {
		model := g.client.GenerativeModel(g.model)
		return model.GenerateContent(ctx, genai.Text(prompt))
	})
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	resp := result.(*genai.GenerateContentResponse)
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("empty generation response")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

func (g *Generator) Close() error {
	return g.client.Close()
}

func buildPrompt(question, contextBlock string) string {
	if contextBlock == "" {
		return fmt.Sprintf(
			"Eres un asistente de asesoría profesional. Responde la pregunta del usuario. "+
				"Si no tienes información suficiente, dilo claramente.\n\nPregunta: %s", question)
	}
	return fmt.Sprintf(
		"Eres un asistente de asesoría profesional. Usa exclusivamente el siguiente contexto "+
			"para responder. Si el contexto no contiene la respuesta, dilo claramente.\n\n"+
			"Contexto:\n%s\n\nPregunta: %s", contextBlock, question)
}
