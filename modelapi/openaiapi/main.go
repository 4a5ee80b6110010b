package openaiapi

import (
	"context"
	"math"
	"strings"
	"time"

	"mindpathdev/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

const (
	maxRetries          = 3
	maxCompletionTokens = 1500
)

type OpenAIConnectProps struct {
	Logger  *logger.LogMiddleware
	APIKey  string
	BaseURL string
	Model   string
}

type OpenAI struct {
	logger    *logger.LogMiddleware
	semaphore *semaphore.Weighted
	client    *openai.Client
	model     string
}

func Connect(ctx context.Context, args OpenAIConnectProps) *OpenAI {
	tracer := otel.Tracer("openaiapi/Connect")
	ctx, span := tracer.Start(ctx, "Connect")
	defer span.End()

	maxWorkers := 10
	sem := semaphore.NewWeighted(int64(maxWorkers))

	span.SetAttributes(
		attribute.Int("maxWorkers", maxWorkers),
		attribute.String("base_url", args.BaseURL),
		attribute.String("model", args.Model),
	)

	client := openai.NewClient(
		option.WithAPIKey(args.APIKey),
		option.WithBaseURL(args.BaseURL),
	)

	args.Logger.Logger(ctx).Info("[OpenAI-API] Completion client started",
		zap.String("base_url", args.BaseURL),
		zap.String("model", args.Model),
	)

	return &OpenAI{logger: args.Logger, semaphore: sem, client: &client, model: args.Model}
}

// Used for retry logic.
func GetExponentialDelaySeconds(retryNumber int) int {
	return int(5 * math.Pow(2, float64(retryNumber)))
}

func (o *OpenAI) Generate(ctx context.Context, systemPrompt string, userText string) (string, error) {
	tracer := otel.Tracer("openaiapi/Generate")
	ctx, span := tracer.Start(ctx, "Generate")
	defer span.End()

	span.SetAttributes(
		attribute.String("request.model", o.model),
		attribute.Int("system_prompt.length", len(systemPrompt)),
		attribute.Int("user_text.length", len(userText)),
	)

	if err := o.semaphore.Acquire(ctx, 1); err != nil {
		span.RecordError(err)
		return "", err
	}
	defer o.semaphore.Release(1)

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt),
	}
	if strings.TrimSpace(userText) != "" {
		messages = append(messages, openai.UserMessage(userText))
	}

	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(o.model),
		Messages:            messages,
		MaxCompletionTokens: openai.Int(maxCompletionTokens),
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		resp, err := o.client.Chat.Completions.New(ctx, params)
		if err != nil {
			lastErr = err
			sleepTime := GetExponentialDelaySeconds(attempt)
			span.RecordError(err)
			o.logger.Logger(ctx).Error(
				"[OpenAI-API] Completion request failed. Retrying after sleeping.",
				zap.Error(err),
				zap.Int("attempt", attempt+1),
				zap.Int("sleep_time", sleepTime),
			)
			time.Sleep(time.Duration(sleepTime) * time.Second)
			continue
		}

		if len(resp.Choices) == 0 {
			o.logger.Logger(ctx).Warn("[OpenAI-API] Completion returned no choices",
				zap.Int("attempt", attempt+1))
			span.AddEvent("EmptyResponse")
			continue
		}

		content := strings.TrimSpace(resp.Choices[0].Message.Content)
		span.AddEvent("Request successful")
		span.SetAttributes(attribute.Int("response.length", len(content)))
		return content, nil
	}

	span.AddEvent("All retries exhausted")
	return "", lastErr
}
