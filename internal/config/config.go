package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all runtime configuration for the gateway.
// Values come from the environment; required variables fail Load with a
// descriptive error so the process refuses to start half-configured.
type Config struct {
	Port        int
	DatabaseURL string

	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string

	OpenAIAPIKey string
	OpenAIModel  string

	DefaultCompanyID  string
	ApprovalThreshold float64

	LogLevel string
}

const (
	defaultPort              = 8080
	defaultOpenAIModel       = "gpt-4o-mini"
	defaultApprovalThreshold = 0.8
)

// Load reads configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		Port:              defaultPort,
		OpenAIModel:       defaultOpenAIModel,
		ApprovalThreshold: defaultApprovalThreshold,
		LogLevel:          "INFO",
	}

	required := map[string]*string{
		"DATABASE_URL":       &cfg.DatabaseURL,
		"NEO4J_URI":          &cfg.Neo4jURI,
		"NEO4J_USER":         &cfg.Neo4jUser,
		"NEO4J_PASSWORD":     &cfg.Neo4jPassword,
		"OPENAI_API_KEY":     &cfg.OpenAIAPIKey,
		"DEFAULT_COMPANY_ID": &cfg.DefaultCompanyID,
	}

	for key, dst := range required {
		value := os.Getenv(key)
		if value == "" {
			return nil, fmt.Errorf("required environment variable missing: %s", key)
		}
		*dst = value
	}

	if port := os.Getenv("PORT"); port != "" {
		parsed, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		cfg.Port = parsed
	}

	if model := os.Getenv("OPENAI_MODEL"); model != "" {
		cfg.OpenAIModel = model
	}

	if threshold := os.Getenv("NLQ_APPROVAL_THRESHOLD"); threshold != "" {
		parsed, err := strconv.ParseFloat(threshold, 64)
		if err != nil || parsed < 0 || parsed > 1 {
			return nil, fmt.Errorf("invalid NLQ_APPROVAL_THRESHOLD %q: must be a number in [0,1]", threshold)
		}
		cfg.ApprovalThreshold = parsed
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	return cfg, nil
}
