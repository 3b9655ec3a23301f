package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Provider selects which model API serves the classification requests.
const (
	ProviderOpenAI  = "openai"
	ProviderOllama  = "ollama"
	ProviderBedrock = "bedrock"
)

// Backend selects how requests reach the provider: the asynchronous batch
// service or direct chat completions.
const (
	BackendBatch  = "batch"
	BackendDirect = "direct"
)

// Config holds all configuration values.
type Config struct {
	// OpenAI API
	OpenAIAPIKey  string
	OpenAIBaseURL string

	// Sharding and payload limits
	ShardSize    int
	RequestSize  int
	PayloadLimit int

	// Submission retries
	MaxRetries int
	RetryDelay time.Duration

	// Polling
	PollInterval    time.Duration
	MaxPollInterval time.Duration
	BackoffFactor   float64
	MaxWait         time.Duration

	// Execution
	Backend  string
	Provider string
	Model    string

	// Ollama (direct backend)
	OllamaHost string

	// Prompt template override
	PromptPath string

	// Local state
	StateDir string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables. Unset or unparseable
// values fall back to their defaults.
func Load() Config {
	stateDir := getEnv("ETIKETT_STATE_DIR", defaultStateDir())

	return Config{
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),

		ShardSize:    getEnvInt("ETIKETT_SHARD_SIZE", 500),
		RequestSize:  getEnvInt("ETIKETT_REQUEST_SIZE", 44),
		PayloadLimit: getEnvInt("ETIKETT_PAYLOAD_LIMIT", 200*1024*1024),

		MaxRetries: getEnvInt("ETIKETT_MAX_RETRIES", 3),
		RetryDelay: getEnvDuration("ETIKETT_RETRY_DELAY", 2*time.Second),

		PollInterval:    getEnvDuration("ETIKETT_POLL_INTERVAL", 5*time.Minute),
		MaxPollInterval: getEnvDuration("ETIKETT_MAX_POLL_INTERVAL", 10*time.Minute),
		BackoffFactor:   getEnvFloat("ETIKETT_BACKOFF_FACTOR", 2.0),
		// The batch service holds jobs for up to 24h, so wait a little
		// longer before giving up on one.
		MaxWait: getEnvDuration("ETIKETT_MAX_WAIT", 25*time.Hour),

		Backend:  getEnv("ETIKETT_BACKEND", BackendBatch),
		Provider: getEnv("ETIKETT_PROVIDER", ProviderOpenAI),
		Model:    getEnv("ETIKETT_MODEL", ""),

		OllamaHost: getEnv("OLLAMA_HOST", "http://localhost:11434"),

		PromptPath: getEnv("ETIKETT_PROMPT", ""),

		StateDir: stateDir,

		LogFile:  getEnv("ETIKETT_LOG_FILE", filepath.Join(stateDir, "etikett.log")),
		LogLevel: parseLogLevel(getEnv("ETIKETT_LOG_LEVEL", "INFO")),
	}
}

// DatabasePath returns the run database location inside the state dir.
func (c Config) DatabasePath() string {
	return filepath.Join(c.StateDir, "etikett.db")
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".etikett"
	}
	return filepath.Join(home, ".etikett")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvFloat(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

// getEnvDuration accepts Go duration syntax ("5m") or a bare number of
// seconds.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
