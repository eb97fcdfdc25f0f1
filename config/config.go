// Package config loads application settings from the environment, with
// optional .env file support. Settings are passed explicitly into
// constructors; there is no package-level singleton.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/mhpenta/imagebatch/batch"
)

// ErrMissingAPIKey is returned by Validate when no Gemini API key is set.
var ErrMissingAPIKey = errors.New("GEMINI_API_KEY is not set")

// Settings holds all tunables for the library and its batch engine.
type Settings struct {
	// API configuration
	GeminiAPIKey string
	ModelName    string

	// Conversation configuration
	MaxHistoryLength int

	// Batch generation configuration
	MaxBatchSize             int
	DefaultBatchSize         int
	EnableParallelGeneration bool
	BatchTimeout             time.Duration
	MaxConcurrentRequests    int

	// File storage
	ExportDir string
	TempDir   string
}

// Default returns the built-in defaults, before any environment overrides.
func Default() Settings {
	return Settings{
		ModelName:                "nano-banana-2",
		MaxHistoryLength:         20,
		MaxBatchSize:             8,
		DefaultBatchSize:         4,
		EnableParallelGeneration: true,
		BatchTimeout:             300 * time.Second,
		MaxConcurrentRequests:    4,
		ExportDir:                "./exports",
		TempDir:                  "./temp",
	}
}

// Load reads settings from the environment, first loading a .env file from
// the working directory if one exists. Storage directories are created.
func Load() (Settings, error) {
	// Missing .env is fine; real environments set variables directly.
	_ = godotenv.Load()

	s := Default()
	s.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	s.ModelName = getEnvString("GEMINI_MODEL_NAME", s.ModelName)
	s.ExportDir = getEnvString("EXPORT_DIR", s.ExportDir)
	s.TempDir = getEnvString("TEMP_DIR", s.TempDir)

	var err error
	if s.MaxHistoryLength, err = getEnvInt("MAX_HISTORY_LENGTH", s.MaxHistoryLength); err != nil {
		return Settings{}, err
	}
	if s.MaxBatchSize, err = getEnvInt("MAX_BATCH_SIZE", s.MaxBatchSize); err != nil {
		return Settings{}, err
	}
	if s.DefaultBatchSize, err = getEnvInt("DEFAULT_BATCH_SIZE", s.DefaultBatchSize); err != nil {
		return Settings{}, err
	}
	if s.MaxConcurrentRequests, err = getEnvInt("MAX_CONCURRENT_REQUESTS", s.MaxConcurrentRequests); err != nil {
		return Settings{}, err
	}

	timeoutSec, err := getEnvInt("BATCH_TIMEOUT_SECONDS", int(s.BatchTimeout/time.Second))
	if err != nil {
		return Settings{}, err
	}
	s.BatchTimeout = time.Duration(timeoutSec) * time.Second

	s.EnableParallelGeneration = getEnvBool("ENABLE_PARALLEL_GENERATION", s.EnableParallelGeneration)

	for _, dir := range []string{s.ExportDir, s.TempDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Settings{}, fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	return s, nil
}

// Validate checks that the settings are usable for real API calls.
func (s Settings) Validate() error {
	if s.GeminiAPIKey == "" {
		return ErrMissingAPIKey
	}
	if s.MaxBatchSize < 1 {
		return fmt.Errorf("MAX_BATCH_SIZE must be at least 1, got %d", s.MaxBatchSize)
	}
	if s.DefaultBatchSize < 1 || s.DefaultBatchSize > s.MaxBatchSize {
		return fmt.Errorf("DEFAULT_BATCH_SIZE must be between 1 and %d, got %d", s.MaxBatchSize, s.DefaultBatchSize)
	}
	return nil
}

// BatchConfig maps the settings onto the batch engine configuration.
func (s Settings) BatchConfig() batch.Config {
	return batch.Config{
		MaxBatchSize:             s.MaxBatchSize,
		DefaultBatchSize:         s.DefaultBatchSize,
		EnableParallelGeneration: s.EnableParallelGeneration,
		BatchTimeout:             s.BatchTimeout,
		MaxConcurrentRequests:    s.MaxConcurrentRequests,
	}
}

func getEnvString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v == "true" || v == "1"
}
