package config

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	OCR        OCRConfig        `yaml:"ocr" mapstructure:"ocr"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Gemini     GeminiConfig     `yaml:"gemini" mapstructure:"gemini"`
	Reference  ReferenceConfig  `yaml:"reference" mapstructure:"reference"`
	Images     ImagesConfig     `yaml:"images" mapstructure:"images"`
	Events     EventsConfig     `yaml:"events" mapstructure:"events"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver" validate:"oneof=sqlite postgres"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url" validate:"required"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// OCRConfig selects and tunes the label text extraction backend.
type OCRConfig struct {
	Provider        string `yaml:"provider" mapstructure:"provider" validate:"oneof=anthropic gemini mistral tesseract"`
	TimeoutSecs     int    `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"gte=0"`
	TesseractPath   string `yaml:"tesseract_path" mapstructure:"tesseract_path"`
	MistralKey      string `yaml:"mistral_key" mapstructure:"mistral_key" validate:"required_if=Provider mistral"`
	MistralModel    string `yaml:"mistral_model" mapstructure:"mistral_model"`
	MistralEndpoint string `yaml:"mistral_endpoint" mapstructure:"mistral_endpoint"`
}

// Timeout returns the per-call OCR timeout. Zero disables it.
func (c OCRConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// AnthropicConfig holds Anthropic API settings for the vision OCR backend.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// GeminiConfig holds Vertex AI settings for the Gemini OCR backend.
type GeminiConfig struct {
	ProjectID       string `yaml:"project_id" mapstructure:"project_id"`
	Location        string `yaml:"location" mapstructure:"location"`
	CredentialsFile string `yaml:"credentials_file" mapstructure:"credentials_file"`
	Model           string `yaml:"model" mapstructure:"model"`
}

// ReferenceConfig configures the ingredient reference lookup.
type ReferenceConfig struct {
	CatalogPath             string  `yaml:"catalog_path" mapstructure:"catalog_path"`
	BaseURL                 string  `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`
	Key                     string  `yaml:"key" mapstructure:"key"`
	LookupTimeoutMs         int     `yaml:"lookup_timeout_ms" mapstructure:"lookup_timeout_ms" validate:"gte=0"`
	MaxConcurrency          int     `yaml:"max_concurrency" mapstructure:"max_concurrency" validate:"gte=1"`
	RatePerSec              float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec" validate:"gte=0"`
	Burst                   int     `yaml:"burst" mapstructure:"burst" validate:"gte=0"`
	RetryMaxAttempts        int     `yaml:"retry_max_attempts" mapstructure:"retry_max_attempts" validate:"gte=0"`
	CircuitFailureThreshold int     `yaml:"circuit_failure_threshold" mapstructure:"circuit_failure_threshold"`
	CircuitResetSecs        int     `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
}

// LookupTimeout returns the per-token lookup timeout. Zero disables it.
func (c ReferenceConfig) LookupTimeout() time.Duration {
	return time.Duration(c.LookupTimeoutMs) * time.Millisecond
}

// ImagesConfig configures where captured label images are kept.
type ImagesConfig struct {
	Driver   string `yaml:"driver" mapstructure:"driver" validate:"oneof=none fs s3"`
	Dir      string `yaml:"dir" mapstructure:"dir" validate:"required_if=Driver fs"`
	Bucket   string `yaml:"bucket" mapstructure:"bucket" validate:"required_if=Driver s3"`
	Region   string `yaml:"region" mapstructure:"region"`
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
	Prefix   string `yaml:"prefix" mapstructure:"prefix"`

	// Static credentials. When empty the default AWS credential chain is used.
	AccessKeyID     string `yaml:"access_key_id" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" mapstructure:"secret_access_key"`
}

// EventsConfig configures scan event fan-out.
type EventsConfig struct {
	AMQPURL  string `yaml:"amqp_url" mapstructure:"amqp_url"`
	Exchange string `yaml:"exchange" mapstructure:"exchange"`
	Buffer   int    `yaml:"buffer" mapstructure:"buffer" validate:"gte=0"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port" validate:"gte=0,lte=65535"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// MonitoringConfig configures scan health alerting. Alerts are only sent
// when webhook_url is set.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url" validate:"omitempty,url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold" validate:"gte=0,lte=1"`
	StuckAfterMins       int     `yaml:"stuck_after_mins" mapstructure:"stuck_after_mins" validate:"gte=0"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs" validate:"gte=0"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours" validate:"gte=0"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PETSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "petscan.db")
	v.SetDefault("ocr.provider", "tesseract")
	v.SetDefault("ocr.timeout_secs", 30)
	v.SetDefault("ocr.tesseract_path", "tesseract")
	v.SetDefault("ocr.mistral_key", "")
	v.SetDefault("ocr.mistral_model", "mistral-ocr-latest")
	v.SetDefault("ocr.mistral_endpoint", "https://api.mistral.ai/v1/ocr")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("gemini.project_id", "")
	v.SetDefault("gemini.location", "us-central1")
	v.SetDefault("gemini.credentials_file", "")
	v.SetDefault("gemini.model", "gemini-1.5-flash")
	v.SetDefault("reference.catalog_path", "")
	v.SetDefault("reference.base_url", "")
	v.SetDefault("reference.key", "")
	v.SetDefault("reference.lookup_timeout_ms", 3000)
	v.SetDefault("reference.max_concurrency", 8)
	v.SetDefault("reference.rate_per_sec", 20)
	v.SetDefault("reference.burst", 20)
	v.SetDefault("reference.retry_max_attempts", 2)
	v.SetDefault("reference.circuit_failure_threshold", 5)
	v.SetDefault("reference.circuit_reset_secs", 30)
	v.SetDefault("images.driver", "none")
	v.SetDefault("images.dir", "")
	v.SetDefault("images.bucket", "")
	v.SetDefault("images.region", "us-east-1")
	v.SetDefault("images.endpoint", "")
	v.SetDefault("images.prefix", "scans/")
	v.SetDefault("images.access_key_id", "")
	v.SetDefault("images.secret_access_key", "")
	v.SetDefault("events.amqp_url", "")
	v.SetDefault("events.exchange", "petscan.scans")
	v.SetDefault("events.buffer", 16)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.stuck_after_mins", 10)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks field constraints and the cross-field requirements of the
// selected OCR provider.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return eris.Wrap(err, "config: validate")
	}
	switch c.OCR.Provider {
	case "anthropic":
		if c.Anthropic.Key == "" {
			return eris.New("config: ocr provider anthropic requires anthropic.key")
		}
	case "gemini":
		if c.Gemini.ProjectID == "" {
			return eris.New("config: ocr provider gemini requires gemini.project_id")
		}
	}
	if c.Reference.CatalogPath == "" && c.Reference.BaseURL == "" {
		return eris.New("config: reference requires catalog_path or base_url")
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
