package geminiapi

import (
	"context"
	"strings"
	"time"

	"mindpathdev/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	maxRetries = 3
	baseDelay  = 1 * time.Second
)

type GeminiConnectProps struct {
	Logger *logger.LogMiddleware
	APIKey string
	Model  string
}

type Gemini struct {
	logger *logger.LogMiddleware
	client *genai.Client
	model  string
}

func exponentialBackoff(attempt int) time.Duration {
	return baseDelay * time.Duration(1<<uint(attempt))
}

func Connect(ctx context.Context, args GeminiConnectProps) (*Gemini, error) {
	tracer := otel.Tracer("geminiapi/Connect")
	ctx, span := tracer.Start(ctx, "Connect")
	defer span.End()
	args.Logger.Logger(ctx).Info("[Gemini-API] Connecting Gemini API client")

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  args.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		span.RecordError(err)
		args.Logger.Logger(ctx).Error("[Gemini-API] Could not create Gemini client", zap.Error(err))
		return nil, err
	}

	span.SetAttributes(attribute.String("model", args.Model))

	return &Gemini{logger: args.Logger, client: client, model: args.Model}, nil
}

func (g *Gemini) Generate(ctx context.Context, systemPrompt string, userText string) (string, error) {
	tracer := otel.Tracer("geminiapi/Generate")
	ctx, span := tracer.Start(ctx, "Generate")
	defer span.End()
	g.logger.Logger(ctx).Info("[Gemini-API] Generate called",
		zap.Int("system_prompt.length", len(systemPrompt)),
		zap.Int("user_text.length", len(userText)),
	)

	prompt := userText
	if strings.TrimSpace(prompt) == "" {
		// Gemini rejects empty content; some flows put the whole prompt
		// into the system instruction.
		prompt = systemPrompt
		systemPrompt = ""
	}

	cfg := &genai.GenerateContentConfig{}
	if systemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: systemPrompt}}}
	}

	var resp *genai.GenerateContentResponse
	var err error

	for attempt := 0; attempt < maxRetries; attempt++ {
		span.AddEvent("Attempt", trace.WithAttributes(attribute.Int("attemptNumber", attempt+1)))

		resp, err = g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), cfg)

		if err != nil || resp == nil || len(resp.Candidates) == 0 ||
			resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
			if err != nil {
				span.RecordError(err)
				g.logger.Logger(ctx).Error("[Gemini-API] Error generating content",
					zap.Error(err), zap.Int("attempt", attempt+1))
			} else {
				g.logger.Logger(ctx).Warn("[Gemini-API] Received empty or invalid response",
					zap.Int("attempt", attempt+1))
				span.AddEvent("EmptyResponse")
			}
			time.Sleep(exponentialBackoff(attempt))
			continue
		}

		var sb strings.Builder
		for _, part := range resp.Candidates[0].Content.Parts {
			sb.WriteString(part.Text)
		}
		return strings.TrimSpace(sb.String()), nil
	}

	return "", err
}
