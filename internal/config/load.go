package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from an optional config.yaml in the working
// directory and from ECHONOTE_-prefixed environment variables, with the
// environment taking precedence. Returns a populated Config struct or an
// error if loading or validation fails.
func Load() (*Config, error) {
	return load("")
}

// LoadFromFile behaves like Load but reads the given config file instead of
// searching the working directory. Used by tests to avoid chdir.
func LoadFromFile(configPath string) (*Config, error) {
	return load(configPath)
}

func load(configPath string) (*Config, error) {
	v := viper.New()

	// Set default values
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("worker.retry_delays", []string{"5s", "30s", "5m"})
	v.SetDefault("worker.yield_interval", "50ms")
	v.SetDefault("worker.stuck_check_interval", "5m")
	v.SetDefault("worker.stuck_age", "30m")
	v.SetDefault("transfer.download_dir", "/var/lib/echonote/models")
	v.SetDefault("transfer.retry_delays", []string{"30s", "2m", "10m"})
	v.SetDefault("llm.model_name", "gemini-2.0-flash")

	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		// A missing config file on the search path is fine; the environment
		// can carry everything. Any other failure, a missing explicit file
		// or unparseable content, must surface.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			if configPath != "" {
				return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
			}
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Configure environment variables
	v.SetEnvPrefix("ECHONOTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind critical environment variables
	bindEnvs := []struct {
		key    string
		envVar string
	}{
		{"database.url", "ECHONOTE_DATABASE_URL"},
		{"server.port", "ECHONOTE_SERVER_PORT"},
		{"server.log_level", "ECHONOTE_SERVER_LOG_LEVEL"},
		{"transfer.download_dir", "ECHONOTE_TRANSFER_DOWNLOAD_DIR"},
		{"llm.gemini_api_key", "ECHONOTE_LLM_GEMINI_API_KEY"},
		{"llm.model_name", "ECHONOTE_LLM_MODEL_NAME"},
	}

	for _, env := range bindEnvs {
		if err := v.BindEnv(env.key, env.envVar); err != nil {
			return nil, fmt.Errorf("error binding environment variable %s: %w", env.envVar, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}
