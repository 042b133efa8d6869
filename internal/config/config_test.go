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

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const baseConfig = `
openai:
  apikey: "sk-test-key"  # pragma: allowlist secret
  chat_model: "gpt-4o"
chroma:
  url: "http://chromadb:8000"
  collection_name: "test_collection"
performance:
  db_path: "%DIR%/performance.db"
session:
  storage: "memory"
  last_context_ttl: 120s
clarification:
  max_attempts: 4
  default_language: "fr"
routing:
  layer_age_hint_days: 56
retrieval:
  top_k: 8
  alpha: 0.6
  rrf_k: 40
  structured_timeout: 1s
logging:
  level: "debug"
  format: "json"
  output: "stdout"
server:
  port: 9090
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	content = strings.ReplaceAll(content, "%DIR%", tmpDir)
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}
	return configPath
}

func TestLoadConfig(t *testing.T) {
	configPath := writeConfig(t, baseConfig)

	config, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.OpenAI.APIKey != "sk-test-key" {
		t.Errorf("Expected OpenAI API key 'sk-test-key', got '%s'", config.OpenAI.APIKey)
	}
	if config.OpenAI.ChatModel != "gpt-4o" {
		t.Errorf("Expected chat model 'gpt-4o', got '%s'", config.OpenAI.ChatModel)
	}
	if config.Chroma.CollectionName != "test_collection" {
		t.Errorf("Expected collection 'test_collection', got '%s'", config.Chroma.CollectionName)
	}
	if config.Session.LastContextTTL != 120*time.Second {
		t.Errorf("Expected last context TTL 120s, got %v", config.Session.LastContextTTL)
	}
	if config.Clarification.MaxAttempts != 4 {
		t.Errorf("Expected max attempts 4, got %d", config.Clarification.MaxAttempts)
	}
	if config.Clarification.DefaultLanguage != "fr" {
		t.Errorf("Expected default language 'fr', got '%s'", config.Clarification.DefaultLanguage)
	}
	if config.Routing.LayerAgeHintDays != 56 {
		t.Errorf("Expected layer age hint 56, got %d", config.Routing.LayerAgeHintDays)
	}
	if config.Retrieval.TopK != 8 || config.Retrieval.RRFK != 40 {
		t.Errorf("Expected top_k 8 and rrf_k 40, got %d and %d", config.Retrieval.TopK, config.Retrieval.RRFK)
	}
	if config.Retrieval.StructuredTimeout != time.Second {
		t.Errorf("Expected structured timeout 1s, got %v", config.Retrieval.StructuredTimeout)
	}
	if config.Server.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", config.Server.Port)
	}
}

func TestDefaultValues(t *testing.T) {
	configPath := writeConfig(t, `
openai:
  apikey: "sk-test-key"  # pragma: allowlist secret
`)

	config, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.Session.LastContextTTL != 300*time.Second {
		t.Errorf("Expected default last context TTL 300s, got %v", config.Session.LastContextTTL)
	}
	if config.Clarification.MaxAttempts != 3 {
		t.Errorf("Expected default max attempts 3, got %d", config.Clarification.MaxAttempts)
	}
	if config.Routing.LayerAgeHintDays != 60 {
		t.Errorf("Expected default layer age hint 60, got %d", config.Routing.LayerAgeHintDays)
	}
	if config.Routing.MaxAgeDistance != 7 {
		t.Errorf("Expected default max age distance 7, got %d", config.Routing.MaxAgeDistance)
	}
	if config.Retrieval.RRFK != 60 {
		t.Errorf("Expected default rrf_k 60, got %d", config.Retrieval.RRFK)
	}
	if config.Retrieval.KeywordRefreshInterval != 5*time.Minute {
		t.Errorf("Expected default keyword refresh 5m, got %v", config.Retrieval.KeywordRefreshInterval)
	}
	if config.Retrieval.TopK != 5 {
		t.Errorf("Expected default top_k 5, got %d", config.Retrieval.TopK)
	}
	if config.Session.Storage != "memory" {
		t.Errorf("Expected default storage 'memory', got '%s'", config.Session.Storage)
	}
	if config.Session.KeyPrefix != "broiler:" {
		t.Errorf("Expected default key prefix 'broiler:', got '%s'", config.Session.KeyPrefix)
	}
	if !config.Translation.Enabled {
		t.Error("Expected translation to be enabled by default")
	}
	if config.Server.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", config.Server.Port)
	}
}

func TestEnvironmentVariableOverrides(t *testing.T) {
	configPath := writeConfig(t, baseConfig)

	t.Setenv("OPENAI_API_KEY", "sk-env-key")
	t.Setenv("CHROMA_URL", "http://env:8000")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("PORT", "7070")

	config, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.OpenAI.APIKey != "sk-env-key" {
		t.Errorf("Expected API key from env 'sk-env-key', got '%s'", config.OpenAI.APIKey)
	}
	if config.Chroma.URL != "http://env:8000" {
		t.Errorf("Expected Chroma URL from env, got '%s'", config.Chroma.URL)
	}
	if config.Logging.Level != "warn" {
		t.Errorf("Expected log level 'warn', got '%s'", config.Logging.Level)
	}
	if config.Logging.Format != "text" {
		t.Errorf("Expected log format 'text', got '%s'", config.Logging.Format)
	}
	if config.Server.Port != 7070 {
		t.Errorf("Expected port 7070, got %d", config.Server.Port)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		replace     [2]string
		expectError string
	}{
		{
			name:        "invalid top_k",
			replace:     [2]string{"top_k: 8", "top_k: 0"},
			expectError: "retrieval.top_k",
		},
		{
			name:        "alpha out of range",
			replace:     [2]string{"alpha: 0.6", "alpha: 1.5"},
			expectError: "retrieval.alpha",
		},
		{
			name:        "invalid rrf_k",
			replace:     [2]string{"rrf_k: 40", "rrf_k: -1"},
			expectError: "retrieval.rrf_k",
		},
		{
			name:        "invalid max attempts",
			replace:     [2]string{"max_attempts: 4", "max_attempts: 0"},
			expectError: "clarification.max_attempts",
		},
		{
			name:        "unsupported language",
			replace:     [2]string{`default_language: "fr"`, `default_language: "de"`},
			expectError: "clarification.default_language",
		},
		{
			name:        "unknown storage",
			replace:     [2]string{`storage: "memory"`, `storage: "etcd"`},
			expectError: "session.storage",
		},
		{
			name:        "redis without url",
			replace:     [2]string{`storage: "memory"`, `storage: "redis"`},
			expectError: "session.redis_url",
		},
		{
			name:        "invalid log level",
			replace:     [2]string{`level: "debug"`, `level: "verbose"`},
			expectError: "logging.level",
		},
		{
			name:        "invalid port",
			replace:     [2]string{"port: 9090", "port: 70000"},
			expectError: "server.port",
		},
		{
			name:        "missing api key with translation",
			replace:     [2]string{`apikey: "sk-test-key"`, `apikey: ""`},
			expectError: "openai.apikey",
		},
		{
			name:        "missing database directory",
			replace:     [2]string{`db_path: "%DIR%/performance.db"`, `db_path: "%DIR%/missing/performance.db"`},
			expectError: "performance.db_path",
		},
	}

	t.Setenv("OPENAI_API_KEY", "")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := writeConfig(t, strings.Replace(baseConfig, tt.replace[0], tt.replace[1], 1))

			_, err := Load(configPath)
			if err == nil {
				t.Fatalf("Expected validation error for %s", tt.expectError)
			}
			if !errors.Is(err, ErrInvalidConfigValue) {
				t.Errorf("Expected ErrInvalidConfigValue, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.expectError) {
				t.Errorf("Expected error to mention '%s', got '%s'", tt.expectError, err.Error())
			}
		})
	}
}

func TestLoadWithOptions(t *testing.T) {
	configPath := writeConfig(t, strings.Replace(baseConfig, "top_k: 8", "top_k: 0", 1))

	config, err := LoadWithOptions(LoadOptions{ConfigPath: configPath, ValidateRequired: false})
	if err != nil {
		t.Fatalf("Expected no error without validation, got %v", err)
	}
	if config.Retrieval.TopK != 0 {
		t.Errorf("Expected top_k 0, got %d", config.Retrieval.TopK)
	}

	if _, err := LoadWithOptions(LoadOptions{ConfigPath: configPath, ValidateRequired: true}); err == nil {
		t.Error("Expected validation error with ValidateRequired")
	}
}

func TestConfigPathEnvironmentVariable(t *testing.T) {
	configPath := writeConfig(t, baseConfig)
	t.Setenv("CONFIG_PATH", configPath)

	config, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load config from CONFIG_PATH: %v", err)
	}
	if config.Server.Port != 9090 {
		t.Errorf("Expected port 9090 from CONFIG_PATH file, got %d", config.Server.Port)
	}

	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(""); err == nil {
		t.Error("Expected error for missing CONFIG_PATH file")
	}
}

func TestMissingConfigFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestMaskSensitiveValues(t *testing.T) {
	config := &Config{
		OpenAI:  OpenAIConfig{APIKey: "sk-1234567890abcdef"},
		Session: SessionConfig{RedisURL: "redis://:secret@cache:6379/0"},
		Chroma:  ChromaConfig{URL: "http://chromadb:8000"},
	}

	masked := config.MaskSensitiveValues()

	if masked.OpenAI.APIKey != "sk-12345***********" {
		t.Errorf("Expected masked API key, got '%s'", masked.OpenAI.APIKey)
	}
	if strings.Contains(masked.Session.RedisURL, "secret") {
		t.Errorf("Expected redis password to be masked, got '%s'", masked.Session.RedisURL)
	}
	if masked.Chroma.URL != "http://chromadb:8000" {
		t.Errorf("Expected Chroma URL untouched, got '%s'", masked.Chroma.URL)
	}
	if config.OpenAI.APIKey != "sk-1234567890abcdef" {
		t.Error("Original config must not be modified")
	}
}

func TestMaskValue(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", ""},
		{"short", "*****"},
		{"12345678", "********"},
		{"123456789", "12345678*"},
	}

	for _, tt := range tests {
		if got := maskValue(tt.input); got != tt.expected {
			t.Errorf("maskValue(%q) = %q, expected %q", tt.input, got, tt.expected)
		}
	}
}

func TestGetEnvironment(t *testing.T) {
	t.Setenv("ENVIRONMENT", "")
	t.Setenv("ENV", "")
	if env := getEnvironment(); env != "development" {
		t.Errorf("Expected 'development', got '%s'", env)
	}

	t.Setenv("ENV", "staging")
	if env := getEnvironment(); env != "staging" {
		t.Errorf("Expected 'staging', got '%s'", env)
	}

	t.Setenv("ENVIRONMENT", "production")
	if env := getEnvironment(); env != "production" {
		t.Errorf("Expected 'production', got '%s'", env)
	}
}

func TestValidationError(t *testing.T) {
	err := ValidationError{Field: "retrieval.top_k", Message: "must be positive"}
	expected := "configuration validation failed for field 'retrieval.top_k': must be positive"
	if err.Error() != expected {
		t.Errorf("Expected '%s', got '%s'", expected, err.Error())
	}
}

func TestNewLogger(t *testing.T) {
	for _, cfg := range []LoggingConfig{
		{Level: "debug", Format: "text", Output: "stdout"},
		{Level: "error", Format: "json", Output: "stderr"},
		{Level: "unknown", Format: "json"},
	} {
		logger, err := NewLogger(cfg)
		if err != nil {
			t.Fatalf("NewLogger(%+v) failed: %v", cfg, err)
		}
		logger.Debug("Logger built")
	}

	logPath := filepath.Join(t.TempDir(), "assistant.log")
	logger, err := NewLogger(LoggingConfig{Level: "info", Format: "json", Output: logPath})
	if err != nil {
		t.Fatalf("NewLogger with file output failed: %v", err)
	}
	logger.Info("Written to file")
	_ = logger.Sync()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "Written to file") {
		t.Errorf("Expected log file to contain message, got %q", string(data))
	}
}

func TestWatchFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "breeds.yaml")
	if err := os.WriteFile(path, []byte("breeds: []\n"), 0644); err != nil {
		t.Fatalf("Failed to write watched file: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 8)
	if err := WatchFile(ctx, path, nil, func() { changed <- struct{}{} }); err != nil {
		t.Fatalf("WatchFile failed: %v", err)
	}

	// Unrelated files in the same directory are ignored
	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0644); err != nil {
		t.Fatalf("Failed to write other file: %v", err)
	}
	if err := os.WriteFile(path, []byte("breeds: [ross_308]\n"), 0644); err != nil {
		t.Fatalf("Failed to rewrite watched file: %v", err)
	}

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("Expected change notification for watched file")
	}
}

func TestWatchFileMissingDirectory(t *testing.T) {
	err := WatchFile(context.Background(), filepath.Join(t.TempDir(), "missing", "breeds.yaml"), nil, func() {})
	if err == nil {
		t.Error("Expected error when watching a missing directory")
	}
}

func TestContains(t *testing.T) {
	slice := []string{"memory", "redis"}
	if !contains(slice, "redis") {
		t.Error("Expected contains to find 'redis'")
	}
	if contains(slice, "etcd") {
		t.Error("Expected contains not to find 'etcd'")
	}
}
