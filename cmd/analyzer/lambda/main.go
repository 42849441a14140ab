package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/joeshaw/envdecode"

	"mealsense"
	"mealsense/catalog"
	catalogstorage "mealsense/catalog/storage"
	"mealsense/conflict"
	"mealsense/identity"
	"mealsense/inference"
	"mealsense/inference/bedrock"
	"mealsense/normalize"
	"mealsense/notify"
	"mealsense/pipeline"
	"mealsense/portion"
	"mealsense/quota"
	"mealsense/store"
)

type Params struct {
	UserID       string   `json:"user_id"`
	Premium      bool     `json:"premium"`
	MealType     string   `json:"meal_type"`
	Region       string   `json:"region,omitempty"`
	DietaryPrefs []string `json:"dietary_prefs,omitempty"`
	Text         string   `json:"text,omitempty"`
	PhotoRef     string   `json:"photo_ref,omitempty"`
	ImageBase64  string   `json:"image_base64,omitempty"`
	ImageFormat  string   `json:"image_format,omitempty"`
	Note         string   `json:"note,omitempty"`
	Save         bool     `json:"save"`
}

type Results struct {
	Analysis mealsense.AnalysisRecord `json:"analysis"`
	Meal     *mealsense.MealLog       `json:"meal,omitempty"`
	Saved    bool                     `json:"saved"`
}

func main() {
	fn := func(ctx context.Context, params Params) (Results, error) {
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

		// S3 config from env
		s3Bucket := os.Getenv("ARTIFACTS_S3_BUCKET")
		catalogKey := os.Getenv("ARTIFACTS_CATALOG_S3_KEY")
		if s3Bucket == "" || catalogKey == "" {
			return Results{}, fmt.Errorf("missing S3 config: ARTIFACTS_S3_BUCKET, ARTIFACTS_CATALOG_S3_KEY must be set")
		}

		awsCfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return Results{}, fmt.Errorf("failed to load AWS config: %w", err)
		}
		s3Client := s3.NewFromConfig(awsCfg)

		repo, err := catalog.Load(ctx, catalogstorage.NewS3CatalogState(s3Client, s3Bucket, catalogKey))
		if err != nil {
			slog.Error("SETUP: Failed to load food catalog from S3", "error", err)
			return Results{}, err
		}
		slog.Info("SETUP: Food catalog loaded from S3", "records", repo.Len())

		db, err := store.NewSQLiteStore(pipelineConfig.DBPath)
		if err != nil {
			slog.Error("SETUP: Failed to open database", "error", err)
			return Results{}, err
		}
		defer db.Close()

		brc, err := newBedrockRuntimeClient(ctx)
		if err != nil {
			slog.Error("SETUP: Failed to create Bedrock client", "error", err)
			return Results{}, err
		}

		adapter := bedrock.NewClient(brc, bedrock.Options{
			ModelID:     modelConfig.ModelID,
			MaxTokens:   modelConfig.MaxTokens,
			Temperature: modelConfig.Temperature,
			TopP:        modelConfig.TopP,
		})

		var notifier mealsense.Notifier
		if pipelineConfig.NotifyWebhookURL != "" {
			notifier = notify.NewWebhookClient(pipelineConfig.NotifyWebhookURL, http.DefaultClient)
		}

		tracerProvider, meterProvider, otelShutdown, err := mealsense.InitOtel(ctx)
		if err != nil {
			slog.Error("SETUP: Failed to initialize OpenTelemetry", "error", err)
			return Results{}, err
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
			Logger:   mealsense.NewStdoutAnalysisLogger(),
			Synonyms: synonyms,
			Retry: inference.RetryPolicy{
				MaxAttempts:     pipelineConfig.InferenceMaxAttempts,
				InitialInterval: 500 * time.Millisecond,
			},
			Config: pipelineConfig,
		})

		tracer := tracerProvider.Tracer(mealsense.TracerNamePipeline)
		ip := pipeline.NewInstrumented(p, tracer, meterProvider.Meter(mealsense.TracerNamePipeline))

		in := pipeline.Input{
			UserID:       params.UserID,
			Premium:      params.Premium,
			MealType:     mealsense.MealType(params.MealType),
			Region:       params.Region,
			DietaryPrefs: params.DietaryPrefs,
			PhotoRef:     params.PhotoRef,
			Text:         params.Text,
			Note:         params.Note,
			ImageFormat:  params.ImageFormat,
		}
		if params.ImageBase64 != "" {
			data, err := base64.StdEncoding.DecodeString(params.ImageBase64)
			if err != nil {
				return Results{}, fmt.Errorf("invalid image_base64: %w", err)
			}
			in.ImageData = data
		}

		rec, err := ip.Run(ctx, in)
		if err != nil {
			slog.Error("RESULT: Analysis failed", "error", err)
			return Results{Analysis: rec}, err
		}

		out := Results{Analysis: rec}
		if params.Save && rec.Status == mealsense.StatusReadyToSave {
			meal, _, err := ip.SaveMeal(ctx, rec.ID, time.Now())
			if err != nil {
				slog.Error("RESULT: Failed to save meal", "error", err)
				return out, err
			}
			out.Meal = &meal
			out.Saved = true
		}
		return out, nil
	}

	lambda.Start(fn)
}

func newBedrockRuntimeClient(ctx context.Context) (*bedrockruntime.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRetryMaxAttempts(5))
	if err != nil {
		return nil, err
	}
	return bedrockruntime.NewFromConfig(awsCfg), nil
}
