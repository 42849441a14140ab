package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/joeshaw/envdecode"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mealsense"
	"mealsense/catalog"
	catalogstorage "mealsense/catalog/storage"
	"mealsense/conflict"
	"mealsense/identity"
	"mealsense/inference"
	"mealsense/inference/bedrock"
	"mealsense/inference/mock"
	"mealsense/inference/ollama"
	"mealsense/normalize"
	"mealsense/notify"
	"mealsense/pipeline"
	"mealsense/portion"
	"mealsense/quota"
	"mealsense/store"
)

func main() {
	ctx := context.Background()

	var modelConfig mealsense.ModelConfig
	if err := envdecode.Decode(&modelConfig); err != nil {
		log.Fatalf("Failed to decode: %s", err)
	}

	var pipelineConfig mealsense.PipelineConfig
	if err := envdecode.Decode(&pipelineConfig); err != nil {
		log.Fatalf("Failed to decode: %s", err)
	}

	var quotaConfig mealsense.QuotaConfig
	if err := envdecode.Decode(&quotaConfig); err != nil {
		log.Fatalf("Failed to decode: %s", err)
	}

	repo, err := catalog.Load(ctx, catalogstorage.NewFileCatalogState(pipelineConfig.CatalogPath))
	if err != nil {
		slog.Error("SETUP: Failed to load food catalog", "error", err, "path", pipelineConfig.CatalogPath)
		return
	}
	slog.Info("SETUP: Food catalog loaded", "records", repo.Len())

	db, err := store.NewSQLiteStore(pipelineConfig.DBPath)
	if err != nil {
		slog.Error("SETUP: Failed to open database", "error", err, "path", pipelineConfig.DBPath)
		return
	}
	defer db.Close()

	adapter, err := newAdapter(ctx, modelConfig)
	if err != nil {
		slog.Error("SETUP: Failed to create inference backend", "error", err, "backend", modelConfig.Backend)
		return
	}

	logger, cleanup, err := newAnalysisLogger(modelConfig.ModelID)
	if err != nil {
		slog.Error("SETUP: Failed to create analysis logger", "error", err)
		return
	}
	defer func() {
		if err := cleanup(); err != nil {
			slog.Error("Failed to flush analysis log", "error", err)
		}
	}()

	var notifier mealsense.Notifier
	if pipelineConfig.NotifyWebhookURL != "" {
		notifier = notify.NewWebhookClient(pipelineConfig.NotifyWebhookURL, http.DefaultClient)
	}

	tracerProvider, meterProvider, otelShutdown, err := mealsense.InitOtel(ctx)
	if err != nil {
		slog.Error("SETUP: Failed to initialize OpenTelemetry", "error", err)
		return
	}
	defer func() {
		if err := otelShutdown(ctx); err != nil {
			slog.Error("SETUP: Failed to shutdown OpenTelemetry", "error", err)
		}
	}()

	synonyms := normalize.DefaultSynonyms()
	p := pipeline.New(pipeline.Options{
		Adapter:  adapter,
		Identity: identity.NewResolver(repo, synonyms),
		Portions: portion.NewResolver(db),
		Detector: conflict.NewDetector(conflict.DefaultExclusionGroups()),
		Gate: quota.NewGate(db, quota.Limits{
			FreeVision: quotaConfig.FreeVisionLimit,
			FreeText:   quotaConfig.FreeTextLimit,
		}),
		Meals:    db,
		Priors:   db,
		Analyses: db,
		Notifier: notifier,
		Logger:   logger,
		Synonyms: synonyms,
		Retry: inference.RetryPolicy{
			MaxAttempts:     pipelineConfig.InferenceMaxAttempts,
			InitialInterval: 500 * time.Millisecond,
		},
		Config: pipelineConfig,
	})

	tracer := tracerProvider.Tracer(mealsense.TracerNamePipeline)
	ctx, span := tracer.Start(ctx, mealsense.TracerNamePipeline, trace.WithAttributes(
		attribute.String("model.id", modelConfig.ModelID),
		attribute.String("model.backend", modelConfig.Backend),
	))
	defer span.End()

	ip := pipeline.NewInstrumented(p, tracer, meterProvider.Meter(mealsense.TracerNamePipeline))

	in, err := buildInput()
	if err != nil {
		slog.Error("SETUP: Invalid input", "error", err)
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, pipelineConfig.InferenceTimeout+30*time.Second)
	defer cancel()

	rec, err := ip.Run(runCtx, in)
	if err != nil {
		var quotaErr *mealsense.QuotaExceededError
		if errors.As(err, &quotaErr) {
			slog.Warn("RESULT: Daily quota exceeded",
				"limit", quotaErr.Decision.Limit, "resets_at", quotaErr.Decision.ResetsAt)
			return
		}
		slog.Error("RESULT: Analysis failed", "error", err)
		return
	}

	mealsense.Dump(rec)

	if rec.Status == mealsense.StatusAwaitingUser {
		slog.Warn("RESULT: Analysis needs conflict resolution before saving",
			"analysis_id", rec.ID, "conflicts", len(rec.Conflicts))
		return
	}

	meal, isDuplicate, err := ip.SaveMeal(runCtx, rec.ID, time.Now())
	if err != nil {
		slog.Error("RESULT: Failed to save meal", "error", err)
		return
	}
	slog.Info("RESULT: Meal saved",
		"meal_id", meal.ID, "duplicate", isDuplicate,
		"calories", int(meal.TotalCalories), "items", len(meal.Items))
}

// buildInput reads the meal from argv: the first argument is either a text
// description or @path/to/photo, the second an optional free-text note.
func buildInput() (pipeline.Input, error) {
	in := pipeline.Input{
		UserID:   envOr("USER_ID", "local-user"),
		Premium:  os.Getenv("PREMIUM") == "true",
		MealType: mealsense.MealType(envOr("MEAL_TYPE", string(mealsense.MealLunch))),
		Region:   os.Getenv("REGION"),
		Note:     argOr(2, ""),
	}

	subject := argOr(1, "2 idli and a bowl of sambar")
	if strings.HasPrefix(subject, "@") {
		path := strings.TrimPrefix(subject, "@")
		data, err := os.ReadFile(path)
		if err != nil {
			return pipeline.Input{}, fmt.Errorf("failed to read photo: %w", err)
		}
		in.PhotoRef = path
		in.ImageData = data
		in.ImageFormat = strings.TrimPrefix(filepath.Ext(path), ".")
	} else {
		in.Text = subject
	}
	return in, nil
}

func newAdapter(ctx context.Context, cfg mealsense.ModelConfig) (mealsense.InferenceAdapter, error) {
	switch cfg.Backend {
	case "bedrock":
		awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRetryMaxAttempts(5))
		if err != nil {
			return nil, err
		}
		return bedrock.NewClient(bedrockruntime.NewFromConfig(awsCfg), bedrock.Options{
			ModelID:     cfg.ModelID,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			TopP:        cfg.TopP,
		}), nil

	case "ollama":
		return ollama.NewClient(ollama.ClientOpts{
			BaseEndpoint: cfg.BaseOllamaEndpoint,
			ModelID:      cfg.ModelID,
			HTTPClient:   http.DefaultClient,
		})

	case "mock":
		return mock.NewClient(), nil

	default:
		return nil, fmt.Errorf("unknown inference backend %q", cfg.Backend)
	}
}

func newAnalysisLogger(modelID string) (mealsense.AnalysisLogger, func() error, error) {
	logFilePath := mealsense.NewAnalysisLogFilePath(modelID)
	logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, func() error { return err }, fmt.Errorf("failed to open log file: %w", err)
	}

	logger := mealsense.NewFileAnalysisLogger(logFile)
	cleanup := func() error {
		return errors.Join(logger.Flush(), logFile.Close())
	}
	return logger, cleanup, nil
}

func argOr(i int, def string) string {
	if len(os.Args) > i {
		return os.Args[i]
	}
	return def
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
