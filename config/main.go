package config

import (
	"context"
	"os"
	"strconv"
	"strings"

	"mindpathdev/logger"

	"go.uber.org/zap"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Settings holds everything read from the environment. Loaded once at startup;
// a missing required value is fatal there, never at runtime.
type Settings struct {
	BotToken           string
	CompletionProvider string
	ProxyAPIKey        string
	ProxyAPIBaseURL    string
	Model              string
	GeminiKey          string
	ProUserIDs         []int64
	DryRun             bool
	DataDir            string
	Port               string
	Production         bool
	TelegramDebug      bool
}

type LoadProps struct {
	Logger *logger.LogMiddleware
}

func Load(ctx context.Context, args LoadProps) *Settings {
	log := args.Logger.Logger(ctx)

	s := &Settings{
		BotToken:           strings.TrimSpace(os.Getenv("BOT_TOKEN")),
		CompletionProvider: strings.TrimSpace(os.Getenv("COMPLETION_PROVIDER")),
		ProxyAPIKey:        strings.TrimSpace(os.Getenv("PROXYAPI_KEY")),
		ProxyAPIBaseURL:    strings.TrimSpace(os.Getenv("PROXYAPI_BASE_URL")),
		Model:              strings.TrimSpace(os.Getenv("GPT_MODEL")),
		GeminiKey:          strings.TrimSpace(os.Getenv("GEMINI_SECRET_KEY")),
		ProUserIDs:         ParseIntList(os.Getenv("PRO_TEST_IDS")),
		DryRun:             os.Getenv("DRY_RUN") != "",
		DataDir:            strings.TrimSpace(os.Getenv("DATA_DIR")),
		Port:               os.Getenv("PORT"),
		Production:         os.Getenv("PRODUCTION") != "",
		TelegramDebug:      os.Getenv("TELEGRAM_DEBUG") == "true",
	}

	if s.BotToken == "" {
		log.Fatal("[Config] BOT_TOKEN is missing")
	}

	if s.CompletionProvider == "" {
		s.CompletionProvider = ProviderOpenAI
	}
	switch s.CompletionProvider {
	case ProviderOpenAI:
		if s.ProxyAPIKey == "" && !s.DryRun {
			log.Fatal("[Config] PROXYAPI_KEY is missing")
		}
	case ProviderGemini:
		if s.GeminiKey == "" && !s.DryRun {
			log.Fatal("[Config] GEMINI_SECRET_KEY is missing")
		}
	default:
		log.Fatal("[Config] Unknown COMPLETION_PROVIDER", zap.String("provider", s.CompletionProvider))
	}

	if s.ProxyAPIBaseURL == "" {
		s.ProxyAPIBaseURL = "https://api.proxyapi.ru/openai/v1"
	}
	if s.Model == "" {
		s.Model = "gpt-5"
	}
	if s.DataDir == "" {
		s.DataDir = "data"
	}
	if s.Port == "" {
		s.Port = "8080"
	}

	log.Info("[Config] Settings loaded",
		zap.String("provider", s.CompletionProvider),
		zap.String("model", s.Model),
		zap.Bool("dry_run", s.DryRun),
		zap.Int("pro_user_ids", len(s.ProUserIDs)),
	)

	return s
}

// ParseIntList parses "12345,67890" (commas or semicolons) into ids,
// skipping anything that is not a number.
func ParseIntList(value string) []int64 {
	value = strings.ReplaceAll(value, ";", ",")
	var out []int64
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out
}
