package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"mindpathdev/access"
	"mindpathdev/config"
	"mindpathdev/flows"
	"mindpathdev/jobs"
	"mindpathdev/logger"
	"mindpathdev/modelapi"
	"mindpathdev/modelapi/geminiapi"
	"mindpathdev/modelapi/openaiapi"
	"mindpathdev/panel"
	"mindpathdev/storage/jsonstore"
	"mindpathdev/telegram"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hyperdxio/opentelemetry-logs-go/exporters/otlp/otlplogs"
	sdk "github.com/hyperdxio/opentelemetry-logs-go/sdk/logs"
	"github.com/hyperdxio/otel-config-go/otelconfig"
)

func main() {
	godotenv.Load()

	otelShutdown, err := otelconfig.ConfigureOpenTelemetry()
	if err != nil {
		log.Fatalf("Error setting up OTel SDK - %e", err)
	}
	defer otelShutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logExporter, _ := otlplogs.NewExporter(ctx)
	loggerProvider := sdk.NewLoggerProvider(sdk.WithBatcher(logExporter))
	defer loggerProvider.Shutdown(ctx)

	// The logger exists before config.Load can run, so the production
	// switch is read straight from the environment here.
	production := os.Getenv("PRODUCTION") != ""
	LogMiddleware := logger.Connect(logger.LoggerConnectProps{Production: production, LoggerProvider: loggerProvider})
	Logger := LogMiddleware.Logger(ctx)

	settings := config.Load(ctx, config.LoadProps{Logger: LogMiddleware})

	users, err := jsonstore.ConnectUsers(ctx, jsonstore.StoreConnectProps{Logger: LogMiddleware, Dir: settings.DataDir})
	if err != nil {
		Logger.Fatal("[Server] Could not open users store", zap.Error(err))
	}
	scenarios, err := jsonstore.ConnectScenarios(ctx, jsonstore.StoreConnectProps{Logger: LogMiddleware, Dir: settings.DataDir})
	if err != nil {
		Logger.Fatal("[Server] Could not open scenarios store", zap.Error(err))
	}

	var provider modelapi.Provider
	switch settings.CompletionProvider {
	case config.ProviderGemini:
		gemini, err := geminiapi.Connect(ctx, geminiapi.GeminiConnectProps{
			Logger: LogMiddleware,
			APIKey: settings.GeminiKey,
			Model:  settings.Model,
		})
		if err != nil {
			Logger.Fatal("[Server] Could not connect Gemini client", zap.Error(err))
		}
		provider = gemini
	default:
		provider = openaiapi.Connect(ctx, openaiapi.OpenAIConnectProps{
			Logger:  LogMiddleware,
			APIKey:  settings.ProxyAPIKey,
			BaseURL: settings.ProxyAPIBaseURL,
			Model:   settings.Model,
		})
	}

	accessList := access.Connect(ctx, access.AccessConnectProps{Logger: LogMiddleware, ProUserIDs: settings.ProUserIDs})
	jobRunner := jobs.Connect(ctx, jobs.RunnerConnectProps{Logger: LogMiddleware})
	defer jobRunner.Shutdown()

	tracker := panel.NewTracker()
	telegramBot := telegram.Connect(ctx, telegram.TelegramConnectProps{
		Logger:  LogMiddleware,
		Token:   settings.BotToken,
		Debug:   settings.TelegramDebug,
		Tracker: tracker,
	})

	bot := flows.Connect(ctx, flows.FlowsConnectProps{
		Logger:    LogMiddleware,
		Transport: telegramBot,
		Provider:  provider,
		Users:     users,
		Scenarios: scenarios,
		Access:    accessList,
		Jobs:      jobRunner,
		Tracker:   tracker,
		DryRun:    settings.DryRun,
	})

	router := chi.NewRouter()
	router.Use(requestLoggerMiddleware(LogMiddleware))
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	go func() {
		if err := http.ListenAndServe(":"+settings.Port, router); err != nil {
			Logger.Error("[Server] Health server stopped", zap.Error(err))
		}
	}()

	if settings.Production {
		Logger.Info("[Server] Bot starting in production mode")
	} else {
		Logger.Info("[Server] Bot starting in development mode")
	}

	// Blocks until the update stream or the context ends.
	telegramBot.Listen(ctx, bot)
}

func requestLoggerMiddleware(logger *logger.LogMiddleware) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			logger.Logger(ctx).Info("Request Received", zap.String("url", r.URL.Path), zap.String("method", r.Method))
			next.ServeHTTP(w, r)
			logger.Logger(ctx).Info("Request Completed", zap.String("path", r.URL.Path), zap.String("method", r.Method))
		})
	}
}
