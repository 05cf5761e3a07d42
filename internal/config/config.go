package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	OCR       OCRConfig        `yaml:"ocr" mapstructure:"ocr"`
	Engine    EngineConfig     `yaml:"engine" mapstructure:"engine"`
	Retry     RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Server    ServerConfig     `yaml:"server" mapstructure:"server"`
	Batch     BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Monitor   MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log       LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key               string  `yaml:"key" mapstructure:"key"`
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	ExtractModel      string  `yaml:"extract_model" mapstructure:"extract_model"`
	SummaryModel      string  `yaml:"summary_model" mapstructure:"summary_model"`
	SQLModel          string  `yaml:"sql_model" mapstructure:"sql_model"`
	MaxTokens         int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// OCRConfig configures document text extraction.
type OCRConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider"`
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	PdfToPpmPath  string `yaml:"pdftoppm_path" mapstructure:"pdftoppm_path"`
	TesseractPath string `yaml:"tesseract_path" mapstructure:"tesseract_path"`
	MistralKey    string `yaml:"mistral_key" mapstructure:"mistral_key"`
	MistralModel  string `yaml:"mistral_model" mapstructure:"mistral_model"`
}

// EngineConfig tunes the discrepancy engine.
type EngineConfig struct {
	AliasFile       string   `yaml:"alias_file" mapstructure:"alias_file"`
	DateWindowDays  int      `yaml:"date_window_days" mapstructure:"date_window_days"`
	AmountTolerance string   `yaml:"amount_tolerance" mapstructure:"amount_tolerance"`
	DateLayouts     []string `yaml:"date_layouts" mapstructure:"date_layouts"`
}

// Tolerance parses AmountTolerance.
func (e EngineConfig) Tolerance() (decimal.Decimal, error) {
	tol, err := decimal.NewFromString(strings.TrimSpace(e.AmountTolerance))
	if err != nil {
		return decimal.Zero, eris.Wrapf(err, "config: parse amount tolerance %q", e.AmountTolerance)
	}
	if tol.IsNegative() {
		return decimal.Zero, eris.Errorf("config: amount tolerance %s is negative", tol)
	}
	return tol, nil
}

// RetryConfig configures retry behavior for outbound API calls.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	UploadDir   string   `yaml:"upload_dir" mapstructure:"upload_dir"`
	MaxUploadMB int64    `yaml:"max_upload_mb" mapstructure:"max_upload_mb"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// BatchConfig configures batch reconciliation.
type BatchConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// MonitoringConfig configures discrepancy-rate alerting.
type MonitoringConfig struct {
	WebhookURL          string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs   int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	DirtyRateThreshold  float64 `yaml:"dirty_rate_threshold" mapstructure:"dirty_rate_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("VERIFIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "verifin.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.base_url", "")
	v.SetDefault("anthropic.extract_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.summary_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.sql_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("anthropic.requests_per_second", 2.0)
	v.SetDefault("ocr.provider", "local")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("ocr.pdftoppm_path", "pdftoppm")
	v.SetDefault("ocr.tesseract_path", "tesseract")
	v.SetDefault("ocr.mistral_key", "")
	v.SetDefault("ocr.mistral_model", "mistral-ocr-latest")
	v.SetDefault("engine.alias_file", "")
	v.SetDefault("engine.date_window_days", 5)
	v.SetDefault("engine.amount_tolerance", "0.01")
	v.SetDefault("engine.date_layouts", []string{})
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 10000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.upload_dir", "uploads")
	v.SetDefault("server.max_upload_mb", 25)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("batch.concurrency", 4)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.dirty_rate_threshold", 0.5)
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

// Validate checks the settings a given command needs and reports every
// problem at once.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}
	if c.Engine.DateWindowDays < 0 {
		errs = append(errs, "engine.date_window_days must be >= 0")
	}
	if _, err := c.Engine.Tolerance(); err != nil {
		errs = append(errs, "engine.amount_tolerance must be a non-negative decimal")
	}

	switch mode {
	case "reconcile":
	case "batch":
		if c.Batch.Concurrency < 1 || c.Batch.Concurrency > 64 {
			errs = append(errs, "batch.concurrency must be between 1 and 64")
		}
	case "detect", "history", "import", "migrate", "monitor":
		errs = append(errs, c.requireStore()...)
	case "ingest", "query":
		errs = append(errs, c.requireStore()...)
		errs = append(errs, c.requireLLM()...)
	case "serve":
		errs = append(errs, c.requireStore()...)
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
		if c.Server.UploadDir == "" {
			errs = append(errs, "server.upload_dir is required")
		}
		if c.Server.MaxUploadMB <= 0 {
			errs = append(errs, "server.max_upload_mb must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) requireStore() []string {
	if c.Store.DatabaseURL == "" {
		return []string{"store.database_url is required"}
	}
	return nil
}

func (c *Config) requireLLM() []string {
	var errs []string
	if c.Anthropic.Key == "" {
		errs = append(errs, "anthropic.key is required")
	}
	if c.OCR.Provider == "mistral" && c.OCR.MistralKey == "" {
		errs = append(errs, "ocr.mistral_key is required when ocr.provider is mistral")
	}
	return errs
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
