package config

import (
	"fmt"
	"log"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	QdrantURL     string `envconfig:"QDRANT_URL" default:"http://localhost:6333"`
	QdrantAPIKey  string `envconfig:"QDRANT_API_KEY"`
	QdrantTimeout int    `envconfig:"QDRANT_TIMEOUT_SECONDS" default:"10"`

	OpenAIAPIKey    string `envconfig:"OPENAI_API_KEY"`
	CompletionModel string `envconfig:"COMPLETION_MODEL" default:"gpt-4o"`
	EmbeddingModel  string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-large"`
	ReasoningEffort string `envconfig:"REASONING_EFFORT" default:"high"`

	// Source archive for ingestion provenance, optional
	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"wissen-sources"`
	S3Region    string `envconfig:"S3_REGION" default:"eu-central-1"`

	RetrievalTopK     int `envconfig:"RETRIEVAL_TOP_K" default:"8"`
	ChatRetentionDays int `envconfig:"CHAT_RETENTION_DAYS" default:"30"`

	SynthesisPollSeconds int `envconfig:"SYNTHESIS_POLL_SECONDS" default:"5"`
	ReconcilePollSeconds int `envconfig:"RECONCILE_POLL_SECONDS" default:"300"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("WISSEN", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	// envconfig's required tag passes a set-but-empty variable through
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("WISSEN_DATABASE_URL must not be empty")
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}
