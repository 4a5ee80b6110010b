package openaiapi

import (
	"context"
	"os"
	"testing"
	"time"

	"mindpathdev/logger"
)

func TestGetExponentialDelaySeconds(t *testing.T) {
	if got := GetExponentialDelaySeconds(0); got != 5 {
		t.Errorf("attempt 0: got %d, want 5", got)
	}
	if got := GetExponentialDelaySeconds(2); got != 20 {
		t.Errorf("attempt 2: got %d, want 20", got)
	}
}

func TestGenerate(t *testing.T) {
	apiKey := os.Getenv("PROXYAPI_KEY")
	if apiKey == "" {
		t.Skip("PROXYAPI_KEY environment variable not set, skipping test")
	}

	logMiddleware := logger.Connect(logger.LoggerConnectProps{Production: false})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client := Connect(ctx, OpenAIConnectProps{
		Logger:  logMiddleware,
		APIKey:  apiKey,
		BaseURL: "https://api.proxyapi.ru/openai/v1",
		Model:   "gpt-5",
	})

	response, err := client.Generate(ctx, "Reply with a single short sentence.", "Hello, how are you?")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if response == "" {
		t.Error("Expected non-empty response, got empty string")
	}

	t.Logf("Response received: %s", response)
}
