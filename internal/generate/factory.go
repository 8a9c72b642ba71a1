package generate

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/riku-miura/wiki-rag/internal/rag"
)

const (
	defaultOllamaGenModel = "llama3.2:3b-instruct"
	defaultOpenAIGenModel = "gpt-4o-mini"
	defaultTemperature    = 0.7
)

// Backend returns the configured generation backend name. Defaults to
// "ollama" when GENERATION_PROVIDER is unset.
func Backend() string {
	return getEnvOrDefault("GENERATION_PROVIDER", "ollama")
}

// NewFromEnv constructs a Generator from environment variables:
//
//	GENERATION_PROVIDER     "ollama" (default) or "openai"
//	GENERATION_MODEL        model name (backend-specific default)
//	GENERATION_TEMPERATURE  sampling temperature (default 0.7)
//	GENERATION_ENDPOINT     backend base URL override
//	OLLAMA_HOST             ollama host (default http://localhost:11434)
//	OPENAI_API_KEY          required for the openai backend
func NewFromEnv(log *slog.Logger) (rag.Generator, error) {
	backend := Backend()
	temperature := getEnvFloat("GENERATION_TEMPERATURE", defaultTemperature)

	switch backend {
	case "ollama":
		host := os.Getenv("GENERATION_ENDPOINT")
		if host == "" {
			host = getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434")
		}
		return NewOllamaGenerator(&OllamaGenConfig{
			Host:        host,
			Model:       getEnvOrDefault("GENERATION_MODEL", defaultOllamaGenModel),
			Temperature: temperature,
			Logger:      log,
		}), nil

	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("%w: OPENAI_API_KEY is required for the openai generation backend", rag.ErrInvalidInput)
		}
		return NewOpenAIGenerator(&OpenAIGenConfig{
			BaseURL:     os.Getenv("GENERATION_ENDPOINT"),
			APIKey:      apiKey,
			Model:       getEnvOrDefault("GENERATION_MODEL", defaultOpenAIGenModel),
			Temperature: temperature,
			Logger:      log,
		}), nil

	default:
		return nil, fmt.Errorf("%w: unknown generation backend %q", rag.ErrInvalidInput, backend)
	}
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvFloat(key string, fallback float32) float32 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 32)
	if err != nil {
		return fallback
	}
	return float32(f)
}
