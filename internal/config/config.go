package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Extract   ExtractConfig   `yaml:"extract" mapstructure:"extract"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Intake    IntakeConfig    `yaml:"intake" mapstructure:"intake"`
	Review    ReviewConfig    `yaml:"review" mapstructure:"review"`
	Export    ExportConfig    `yaml:"export" mapstructure:"export"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	BlobDir     string `yaml:"blob_dir" mapstructure:"blob_dir"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// ExtractConfig configures the extraction client.
type ExtractConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
	MaxTokens           int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	RateQPS             float64 `yaml:"rate_qps" mapstructure:"rate_qps"`
	Prompt              string  `yaml:"prompt" mapstructure:"prompt"`
	SchemaFields        string  `yaml:"schema_fields" mapstructure:"schema_fields"`
}

// BatchConfig configures the batch orchestrator.
type BatchConfig struct {
	Concurrency       int   `yaml:"concurrency" mapstructure:"concurrency"`
	MaxFileBytes      int64 `yaml:"max_file_bytes" mapstructure:"max_file_bytes"`
	PageEstimateLimit int   `yaml:"page_estimate_limit" mapstructure:"page_estimate_limit"`
	MaxRetries        int   `yaml:"max_retries" mapstructure:"max_retries"`
}

// IntakeConfig configures where submissions come from.
type IntakeConfig struct {
	Dir string    `yaml:"dir" mapstructure:"dir"`
	FTP FTPConfig `yaml:"ftp" mapstructure:"ftp"`
}

// FTPConfig holds drop-folder FTP credentials.
type FTPConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Path     string `yaml:"path" mapstructure:"path"`
}

// ReviewConfig configures the review engine.
type ReviewConfig struct {
	// ConfirmCode is the short numeric code required for privileged bulk
	// deletes. Empty disables those operations entirely.
	ConfirmCode string `yaml:"confirm_code" mapstructure:"confirm_code"`
}

// ExportConfig configures the master export.
type ExportConfig struct {
	SheetName string `yaml:"sheet_name" mapstructure:"sheet_name"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("DOCFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Every key needs one: AutomaticEnv only surfaces env values
	// through Unmarshal for keys viper already knows about.
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "docflow.db")
	v.SetDefault("store.blob_dir", "blobs")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("extract.confidence_threshold", 0.5)
	v.SetDefault("extract.max_tokens", 4096)
	v.SetDefault("extract.rate_qps", 2)
	v.SetDefault("extract.prompt", "")
	v.SetDefault("extract.schema_fields", "")
	v.SetDefault("batch.concurrency", 10)
	v.SetDefault("batch.max_file_bytes", 100*1024*1024)
	v.SetDefault("batch.page_estimate_limit", 300)
	v.SetDefault("batch.max_retries", 3)
	v.SetDefault("intake.dir", "")
	v.SetDefault("intake.ftp.host", "")
	v.SetDefault("intake.ftp.user", "")
	v.SetDefault("intake.ftp.password", "")
	v.SetDefault("intake.ftp.path", "")
	v.SetDefault("review.confirm_code", "")
	v.SetDefault("export.sheet_name", "Master")
	v.SetDefault("server.port", 8080)
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
