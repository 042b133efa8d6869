// Copyright 2024 AI SA Assistant Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the assistant configuration from a YAML file and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrMissingRequiredField is returned when a required configuration field is missing
	ErrMissingRequiredField = errors.New("missing required configuration field")
	// ErrInvalidConfigValue is returned when a configuration value is invalid
	ErrInvalidConfigValue = errors.New("invalid configuration value")
)

// EnvPrefix prefixes every environment override, e.g. BROILER_ASSISTANT_SERVER_PORT
const EnvPrefix = "BROILER_ASSISTANT"

// Config represents the complete application configuration
type Config struct {
	OpenAI        OpenAIConfig        `mapstructure:"openai"`
	Chroma        ChromaConfig        `mapstructure:"chroma"`
	Performance   PerformanceConfig   `mapstructure:"performance"`
	Session       SessionConfig       `mapstructure:"session"`
	Clarification ClarificationConfig `mapstructure:"clarification"`
	Routing       RoutingConfig       `mapstructure:"routing"`
	Retrieval     RetrievalConfig     `mapstructure:"retrieval"`
	Registry      RegistryConfig      `mapstructure:"registry"`
	Translation   TranslationConfig   `mapstructure:"translation"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Server        ServerConfig        `mapstructure:"server"`
}

// OpenAIConfig contains OpenAI API configuration
type OpenAIConfig struct {
	APIKey         string        `mapstructure:"apikey"`
	Endpoint       string        `mapstructure:"endpoint"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	ChatModel      string        `mapstructure:"chat_model"`
	Dimensions     int           `mapstructure:"dimensions"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	Temperature    float64       `mapstructure:"temperature"`
}

// ChromaConfig contains ChromaDB configuration
type ChromaConfig struct {
	URL            string        `mapstructure:"url"`
	CollectionName string        `mapstructure:"collection_name"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// PerformanceConfig locates the structured performance-standards store
type PerformanceConfig struct {
	DBPath   string `mapstructure:"db_path"`
	SeedPath string `mapstructure:"seed_path"`
}

// SessionConfig contains dialogue state storage configuration
type SessionConfig struct {
	Storage         string        `mapstructure:"storage"`
	RedisURL        string        `mapstructure:"redis_url"`
	KeyPrefix       string        `mapstructure:"key_prefix"`
	PendingTTL      time.Duration `mapstructure:"pending_ttl"`
	LastContextTTL  time.Duration `mapstructure:"last_context_ttl"`
	LockStripes     int           `mapstructure:"lock_stripes"`
	MaxEntries      int           `mapstructure:"max_entries"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// ClarificationConfig contains clarification dialogue settings
type ClarificationConfig struct {
	MaxAttempts     int    `mapstructure:"max_attempts"`
	DefaultLanguage string `mapstructure:"default_language"`
}

// RoutingConfig contains destination decision settings
type RoutingConfig struct {
	LayerAgeHintDays    int     `mapstructure:"layer_age_hint_days"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	MaxAgeDistance      int     `mapstructure:"max_age_distance"`
}

// RetrievalConfig contains retrieval-specific settings
type RetrievalConfig struct {
	TopK                int           `mapstructure:"top_k"`
	Alpha               float64       `mapstructure:"alpha"`
	RRFK                int           `mapstructure:"rrf_k"`
	StructuredTimeout   time.Duration `mapstructure:"structured_timeout"`
	SemanticTimeout     time.Duration `mapstructure:"semantic_timeout"`
	MinConfidence       float64       `mapstructure:"min_confidence"`
	BreakerMaxFailures  int           `mapstructure:"breaker_max_failures"`
	BreakerResetTimeout time.Duration `mapstructure:"breaker_reset_timeout"`

	// KeywordRefreshInterval reloads the keyword index from the documents
	// table; zero disables it
	KeywordRefreshInterval time.Duration `mapstructure:"keyword_refresh_interval"`
}

// RegistryConfig locates the breed registry
type RegistryConfig struct {
	Path  string `mapstructure:"path"`
	Watch bool   `mapstructure:"watch"`
}

// TranslationConfig controls translation of non-English queries for routing
type TranslationConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed for field '%s': %s", e.Field, e.Message)
}

// LoadOptions contains options for configuration loading
type LoadOptions struct {
	ConfigPath       string
	Environment      string
	ValidateRequired bool
}

// Load loads configuration from file and environment variables
// Environment variables take precedence over config file values
func Load(configPath string) (*Config, error) {
	return LoadWithOptions(LoadOptions{
		ConfigPath:       configPath,
		Environment:      getEnvironment(),
		ValidateRequired: true,
	})
}

// LoadWithOptions loads configuration with additional options
func LoadWithOptions(opts LoadOptions) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if err := setConfigFile(v, opts.ConfigPath); err != nil {
		return nil, fmt.Errorf("failed to set config file: %w", err)
	}

	// Enable environment variable overrides
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(EnvPrefix)

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error if env vars are set
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	setEnvironmentMappings(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if opts.ValidateRequired {
		if err := validateConfig(&config); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// OpenAI defaults
	v.SetDefault("openai.endpoint", "https://api.openai.com/v1")
	v.SetDefault("openai.embedding_model", "text-embedding-3-small")
	v.SetDefault("openai.chat_model", "gpt-4o-mini")
	v.SetDefault("openai.dimensions", 1536)
	v.SetDefault("openai.timeout", 30*time.Second)
	v.SetDefault("openai.max_tokens", 800)
	v.SetDefault("openai.temperature", 0.2)

	// ChromaDB defaults
	v.SetDefault("chroma.url", "http://chromadb:8000")
	v.SetDefault("chroma.collection_name", "poultry_knowledge")
	v.SetDefault("chroma.timeout", 10*time.Second)

	// Structured store defaults
	v.SetDefault("performance.db_path", "./performance.db")
	v.SetDefault("performance.seed_path", "./configs/standards.yaml")

	// Dialogue state defaults
	v.SetDefault("session.storage", "memory")
	v.SetDefault("session.key_prefix", "broiler:")
	v.SetDefault("session.pending_ttl", 30*time.Minute)
	v.SetDefault("session.last_context_ttl", 300*time.Second)
	v.SetDefault("session.lock_stripes", 64)
	v.SetDefault("session.max_entries", 10000)
	v.SetDefault("session.cleanup_interval", 5*time.Minute)

	v.SetDefault("clarification.max_attempts", 3)
	v.SetDefault("clarification.default_language", "en")

	v.SetDefault("routing.layer_age_hint_days", 60)
	v.SetDefault("routing.confidence_threshold", 0.3)
	v.SetDefault("routing.max_age_distance", 7)

	// Retrieval defaults
	v.SetDefault("retrieval.top_k", 5)
	v.SetDefault("retrieval.alpha", 0.7)
	v.SetDefault("retrieval.rrf_k", 60)
	v.SetDefault("retrieval.structured_timeout", 2*time.Second)
	v.SetDefault("retrieval.semantic_timeout", 8*time.Second)
	v.SetDefault("retrieval.min_confidence", 0.5)
	v.SetDefault("retrieval.breaker_max_failures", 5)
	v.SetDefault("retrieval.breaker_reset_timeout", 30*time.Second)
	v.SetDefault("retrieval.keyword_refresh_interval", 5*time.Minute)

	v.SetDefault("registry.path", "")
	v.SetDefault("registry.watch", false)

	v.SetDefault("translation.enabled", true)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
}

// setConfigFile sets the configuration file path with fallback logic
func setConfigFile(v *viper.Viper, configPath string) error {
	// Check for CONFIG_PATH environment variable
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		if _, err := os.Stat(envPath); err != nil {
			return fmt.Errorf("config file specified by CONFIG_PATH does not exist: %s", envPath)
		}
		v.SetConfigFile(envPath)
		return nil
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return fmt.Errorf("config file does not exist: %s", configPath)
		}
		v.SetConfigFile(configPath)
		return nil
	}

	// Default fallback locations
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	configExists := false
	for _, path := range []string{"./configs/config.yaml", "./config.yaml"} {
		if _, err := os.Stat(path); err == nil {
			configExists = true
			break
		}
	}

	if !configExists {
		return fmt.Errorf("no config file found in default locations (./configs/config.yaml, ./config.yaml)")
	}

	return nil
}

// setEnvironmentMappings sets explicit environment variable mappings
func setEnvironmentMappings(v *viper.Viper) {
	envMappings := map[string]string{
		"OPENAI_API_KEY":      "openai.apikey",
		"OPENAI_ENDPOINT":     "openai.endpoint",
		"CHROMA_URL":          "chroma.url",
		"PERFORMANCE_DB_PATH": "performance.db_path",
		"REDIS_URL":           "session.redis_url",
		"SESSION_STORAGE":     "session.storage",
		"BREED_REGISTRY_PATH": "registry.path",
		"LOG_LEVEL":           "logging.level",
		"LOG_FORMAT":          "logging.format",
		"LOG_OUTPUT":          "logging.output",
		"PORT":                "server.port",
	}

	for envVar, configKey := range envMappings {
		if value := os.Getenv(envVar); value != "" {
			v.Set(configKey, value)
		}
	}
}

// validateConfig validates the configuration for required fields and valid values
func validateConfig(config *Config) error {
	var errs []ValidationError

	if config.OpenAI.APIKey == "" && config.Translation.Enabled {
		errs = append(errs, ValidationError{
			Field:   "openai.apikey",
			Message: "OpenAI API key is required when translation is enabled. Set via config file or OPENAI_API_KEY environment variable",
		})
	}

	if config.Chroma.URL == "" {
		errs = append(errs, ValidationError{
			Field:   "chroma.url",
			Message: "ChromaDB URL is required",
		})
	}

	if config.Retrieval.TopK <= 0 {
		errs = append(errs, ValidationError{
			Field:   "retrieval.top_k",
			Message: "top_k must be greater than 0",
		})
	}

	if config.Retrieval.Alpha < 0 || config.Retrieval.Alpha > 1 {
		errs = append(errs, ValidationError{
			Field:   "retrieval.alpha",
			Message: "alpha must be between 0 and 1",
		})
	}

	if config.Retrieval.RRFK <= 0 {
		errs = append(errs, ValidationError{
			Field:   "retrieval.rrf_k",
			Message: "rrf_k must be greater than 0",
		})
	}

	if config.Retrieval.MinConfidence < 0 || config.Retrieval.MinConfidence > 1 {
		errs = append(errs, ValidationError{
			Field:   "retrieval.min_confidence",
			Message: "min_confidence must be between 0 and 1",
		})
	}

	if config.Routing.ConfidenceThreshold < 0 || config.Routing.ConfidenceThreshold > 1 {
		errs = append(errs, ValidationError{
			Field:   "routing.confidence_threshold",
			Message: "confidence_threshold must be between 0 and 1",
		})
	}

	if config.Clarification.MaxAttempts <= 0 {
		errs = append(errs, ValidationError{
			Field:   "clarification.max_attempts",
			Message: "max_attempts must be greater than 0",
		})
	}

	if config.Session.LastContextTTL <= 0 {
		errs = append(errs, ValidationError{
			Field:   "session.last_context_ttl",
			Message: "last_context_ttl must be positive",
		})
	}

	if config.OpenAI.Temperature < 0 || config.OpenAI.Temperature > 2 {
		errs = append(errs, ValidationError{
			Field:   "openai.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}

	// Validate enum values
	validStorage := []string{"memory", "redis"}
	if !contains(validStorage, config.Session.Storage) {
		errs = append(errs, ValidationError{
			Field:   "session.storage",
			Message: fmt.Sprintf("storage must be one of: %s", strings.Join(validStorage, ", ")),
		})
	}

	if config.Session.Storage == "redis" && config.Session.RedisURL == "" {
		errs = append(errs, ValidationError{
			Field:   "session.redis_url",
			Message: "redis_url is required when session storage is redis",
		})
	}

	validLanguages := []string{"en", "fr", "es"}
	if !contains(validLanguages, config.Clarification.DefaultLanguage) {
		errs = append(errs, ValidationError{
			Field:   "clarification.default_language",
			Message: fmt.Sprintf("default_language must be one of: %s", strings.Join(validLanguages, ", ")),
		})
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, config.Logging.Level) {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("log level must be one of: %s", strings.Join(validLogLevels, ", ")),
		})
	}

	validLogFormats := []string{"json", "text"}
	if !contains(validLogFormats, config.Logging.Format) {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("log format must be one of: %s", strings.Join(validLogFormats, ", ")),
		})
	}

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "server.port",
			Message: "port must be between 1 and 65535",
		})
	}

	if config.Performance.DBPath == "" {
		errs = append(errs, ValidationError{
			Field:   "performance.db_path",
			Message: "performance database path is required",
		})
	} else if config.Performance.DBPath != ":memory:" {
		if err := validateDirectoryExists(filepath.Dir(config.Performance.DBPath)); err != nil {
			errs = append(errs, ValidationError{
				Field:   "performance.db_path",
				Message: fmt.Sprintf("performance database directory does not exist: %s", filepath.Dir(config.Performance.DBPath)),
			})
		}
	}

	if config.Registry.Path != "" {
		if _, err := os.Stat(config.Registry.Path); err != nil {
			errs = append(errs, ValidationError{
				Field:   "registry.path",
				Message: fmt.Sprintf("breed registry file does not exist: %s", config.Registry.Path),
			})
		}
	}

	if len(errs) > 0 {
		var errorMessages []string
		for _, err := range errs {
			errorMessages = append(errorMessages, err.Error())
		}
		return fmt.Errorf("%w:\n%s", ErrInvalidConfigValue, strings.Join(errorMessages, "\n"))
	}

	return nil
}

// MaskSensitiveValues returns a copy of the config with sensitive values masked
func (c *Config) MaskSensitiveValues() *Config {
	masked := *c

	if masked.OpenAI.APIKey != "" {
		masked.OpenAI.APIKey = maskValue(masked.OpenAI.APIKey)
	}
	if masked.Session.RedisURL != "" {
		masked.Session.RedisURL = maskValue(masked.Session.RedisURL)
	}

	return &masked
}

// maskValue masks sensitive values, showing only the first 8 characters
func maskValue(value string) string {
	if len(value) <= 8 {
		return strings.Repeat("*", len(value))
	}
	return value[:8] + strings.Repeat("*", len(value)-8)
}

// contains checks if a slice contains a specific string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// validateDirectoryExists checks if a directory exists
func validateDirectoryExists(path string) error {
	if path == "" || path == "." {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	return nil
}

// getEnvironment returns the current environment (development, production, etc.)
func getEnvironment() string {
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		return env
	}
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "development"
}
