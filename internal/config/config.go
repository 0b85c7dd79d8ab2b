package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Worker   WorkerConfig   `mapstructure:"worker"   validate:"required"`
	Transfer TransferConfig `mapstructure:"transfer" validate:"required"`
	LLM      LLMConfig      `mapstructure:"llm"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// WorkerConfig tunes the queue worker's drain loop and retry ladder.
type WorkerConfig struct {
	// RetryDelays is the backoff schedule; its length is the retry budget.
	RetryDelays []time.Duration `mapstructure:"retry_delays" validate:"required,min=1"`

	// YieldInterval is the pause between drained items so other work on the
	// same scheduler is not starved.
	YieldInterval time.Duration `mapstructure:"yield_interval" validate:"gte=0"`

	// StuckCheckInterval is how often the periodic stuck-item check runs.
	// Zero disables the periodic check (startup recovery still runs).
	StuckCheckInterval time.Duration `mapstructure:"stuck_check_interval" validate:"gte=0"`

	// StuckAge is how long an item may sit in processing before the
	// periodic check treats it as abandoned.
	StuckAge time.Duration `mapstructure:"stuck_age" validate:"gte=0"`
}

// TransferConfig tunes the resumable transfer manager.
type TransferConfig struct {
	// DownloadDir is where completed artifacts and .part files are written.
	DownloadDir string `mapstructure:"download_dir" validate:"required"`

	// RetryDelays is the transfer retry ladder used by StartWithRetry.
	RetryDelays []time.Duration `mapstructure:"retry_delays" validate:"required,min=1"`
}

// LLMConfig contains the summary-stage integration settings. The section is
// optional: with no API key the summary stage is skipped.
type LLMConfig struct {
	GeminiAPIKey string `mapstructure:"gemini_api_key"`
	ModelName    string `mapstructure:"model_name"`
}
