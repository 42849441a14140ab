package mealsense

import "time"

type ModelConfig struct {
	Backend            string  `env:"INFERENCE_BACKEND,default=bedrock"`
	ModelID            string  `env:"MODEL_ID,required"`
	MaxTokens          int32   `env:"MAX_TOKENS,default=1024"`
	Temperature        float32 `env:"TEMPERATURE,default=0.2"`
	TopP               float32 `env:"TOP_P,default=0.9"`
	BaseOllamaEndpoint string  `env:"BASE_OLLAMA_ENDPOINT,default=http://localhost:11434"`
}

type PipelineConfig struct {
	CatalogPath          string        `env:"CATALOG_PATH,default=artifacts/catalog.json"`
	DBPath               string        `env:"DB_PATH,default=mealsense.db"`
	NoteMaxLen           int           `env:"NOTE_MAX_LEN,default=140"`
	InferenceTimeout     time.Duration `env:"INFERENCE_TIMEOUT,default=10s"`
	InferenceMaxAttempts int           `env:"INFERENCE_MAX_ATTEMPTS,default=3"`
	NotifyWebhookURL     string        `env:"NOTIFY_WEBHOOK_URL,default="`
}

type QuotaConfig struct {
	FreeVisionLimit int `env:"FREE_VISION_LIMIT,default=5"`
	FreeTextLimit   int `env:"FREE_TEXT_LIMIT,default=20"`
}
