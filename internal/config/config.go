// Package config loads this core's process-wide configuration from
// environment variables, grounded on
// iamprashant-voice-ai/api/integration-api/config/config.go's
// struct-tag-validated config pattern, stripped of that file's
// viper/Postgres/Redis machinery (out of scope here) and read directly via
// os.Getenv since spec.md §6 defines no config-file format.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config is the full spec.md §6 environment table.
type Config struct {
	ProviderCredentialsPath string `validate:"required"`
	// ProviderProjectID maps to the AWS region for the wired AWS Transcribe
	// Streaming implementation; named generically since the Driver's
	// ProviderClient abstraction is not AWS-specific.
	ProviderProjectID string `validate:"required"`

	BackendBaseURL         string // optional: Sink disabled silently if empty
	BackendServiceToken    string // optional
	BackendCallbackTimeout time.Duration

	SessionMax int64

	ListenAddr string
}

var validate = validator.New()

// Load reads configuration from the environment, optionally preloading a
// `.env` file at envFile (ignored if empty or absent — mirrors
// wuwenbin0122-wwb.ai/ashi009-asr-eval's godotenv-then-os.Getenv load
// order), applies defaults, and validates required fields.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		_ = godotenv.Load(envFile)
	}

	timeoutSec, err := getIntDefault("BACKEND_CALLBACK_TIMEOUT", 5)
	if err != nil {
		return nil, err
	}
	sessionMax, err := getIntDefault("SESSION_MAX", 128)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ProviderCredentialsPath: os.Getenv("PROVIDER_CREDENTIALS_PATH"),
		ProviderProjectID:       os.Getenv("PROVIDER_PROJECT_ID"),
		BackendBaseURL:          os.Getenv("BACKEND_BASE_URL"),
		BackendServiceToken:     os.Getenv("BACKEND_SERVICE_TOKEN"),
		BackendCallbackTimeout:  time.Duration(timeoutSec) * time.Second,
		SessionMax:              int64(sessionMax),
		ListenAddr:              getStringDefault("LISTEN_ADDR", ":8080"),
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func getStringDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getIntDefault(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer: %w", key, err)
	}
	return n, nil
}
