package config

import (
	"os"
	"testing"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	os.Setenv("CHAT_API_KEY", "test-chat-key")
	os.Setenv("VOICE_SERVICE_URL", "http://localhost:9000")
	t.Cleanup(func() {
		os.Unsetenv("CHAT_API_KEY")
		os.Unsetenv("VOICE_SERVICE_URL")
	})
}

func TestLoad(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.ChatAPIKey != "test-chat-key" {
		t.Errorf("Expected ChatAPIKey 'test-chat-key', got '%s'", cfg.ChatAPIKey)
	}

	if cfg.VoiceServiceURL != "http://localhost:9000" {
		t.Errorf("Expected VoiceServiceURL 'http://localhost:9000', got '%s'", cfg.VoiceServiceURL)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	os.Unsetenv("CHAT_API_KEY")
	os.Unsetenv("VOICE_SERVICE_URL")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when required keys are missing")
	}
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default Port '8080', got '%s'", cfg.Port)
	}

	if cfg.ChatModel != "deepseek-chat" {
		t.Errorf("Expected default ChatModel 'deepseek-chat', got '%s'", cfg.ChatModel)
	}

	if cfg.ChatBaseURL != "https://api.deepseek.com/v1" {
		t.Errorf("Expected default ChatBaseURL 'https://api.deepseek.com/v1', got '%s'", cfg.ChatBaseURL)
	}

	if cfg.PollInterval != 2000 {
		t.Errorf("Expected default PollInterval 2000, got %d", cfg.PollInterval)
	}

	if cfg.PollMaxAttempts != 150 {
		t.Errorf("Expected default PollMaxAttempts 150, got %d", cfg.PollMaxAttempts)
	}

	if cfg.VoicesPerGender != 3 {
		t.Errorf("Expected default VoicesPerGender 3, got %d", cfg.VoicesPerGender)
	}

	if cfg.RevealDelay != 20 {
		t.Errorf("Expected default RevealDelay 20, got %d", cfg.RevealDelay)
	}

	if cfg.HistoryLimit != 50 {
		t.Errorf("Expected default HistoryLimit 50, got %d", cfg.HistoryLimit)
	}
}

func TestLoad_InvalidPollInterval(t *testing.T) {
	setRequiredEnv(t)
	os.Setenv("POLL_INTERVAL_MS", "0")
	defer os.Unsetenv("POLL_INTERVAL_MS")

	_, err := Load()
	if err == nil {
		t.Error("Expected error for zero poll interval")
	}
}

func TestPublicBaseURL(t *testing.T) {
	cfg := &Config{VoiceServiceURL: "http://tts:9000"}
	if got := cfg.PublicBaseURL(); got != "http://tts:9000" {
		t.Errorf("Expected fallback to VoiceServiceURL, got '%s'", got)
	}

	cfg.VoicePublicURL = "https://audio.example.com"
	if got := cfg.PublicBaseURL(); got != "https://audio.example.com" {
		t.Errorf("Expected VoicePublicURL to win, got '%s'", got)
	}
}

func TestConfig_ResilienceDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.CircuitBreakerMaxFailures != 5 {
		t.Errorf("Expected default CircuitBreakerMaxFailures 5, got %d", cfg.CircuitBreakerMaxFailures)
	}

	if cfg.CircuitBreakerResetTimeout != 30 {
		t.Errorf("Expected default CircuitBreakerResetTimeout 30, got %d", cfg.CircuitBreakerResetTimeout)
	}

	if cfg.RetryMaxAttempts != 3 {
		t.Errorf("Expected default RetryMaxAttempts 3, got %d", cfg.RetryMaxAttempts)
	}

	if cfg.RetryInitialBackoff != 100 {
		t.Errorf("Expected default RetryInitialBackoff 100, got %d", cfg.RetryInitialBackoff)
	}
}

func TestConfig_ObservabilityDefaults(t *testing.T) {
	setRequiredEnv(t)
	os.Unsetenv("LOG_LEVEL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Expected default LogLevel 'info', got '%s'", cfg.LogLevel)
	}

	if cfg.LogPretty {
		t.Error("Expected default LogPretty false, got true")
	}

	if !cfg.MetricsEnabled {
		t.Error("Expected default MetricsEnabled true, got false")
	}
}

func TestGetEnv(t *testing.T) {
	os.Setenv("TEST_KEY", "test-value")
	defer os.Unsetenv("TEST_KEY")

	value := GetEnv("TEST_KEY", "default")
	if value != "test-value" {
		t.Errorf("Expected 'test-value', got '%s'", value)
	}

	value = GetEnv("NON_EXISTENT_KEY", "default")
	if value != "default" {
		t.Errorf("Expected 'default', got '%s'", value)
	}
}
