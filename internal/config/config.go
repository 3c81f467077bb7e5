// Package config loads ReviewRadar configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPort is the port the server listens on when REVIEWRADAR_PORT is
// unset. The CLI client derives its default base URL from it.
const DefaultPort = "8077"

// Provider identifies an LLM backend for the analysis engine.
type Provider string

const (
	ProviderOllama    Provider = "ollama"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// SessionProviderKind selects the implementation backing session establishment.
type SessionProviderKind string

const (
	// SessionProviderWeb performs a real login against the storefront.
	SessionProviderWeb SessionProviderKind = "web"

	// SessionProviderNone hands out an anonymous session without logging in.
	SessionProviderNone SessionProviderKind = "none"
)

// Config holds all configuration values.
type Config struct {
	// HTTP server
	ServerPort string

	// Storefront access
	BaseURL         string
	Headless        bool
	ForceHeadless   bool
	LoginEmail      string
	LoginPassword   string
	SessionProvider SessionProviderKind

	// Analysis engine
	LLMProvider     Provider
	LLMModel        string
	OllamaHost      string
	OpenAIAPIKey    string
	AnthropicAPIKey string

	// Pipeline tuning
	MaxReviews     int
	MaxItems       int
	InterItemDelay time.Duration
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	JitterFraction float64

	// Per-call timeouts
	NavigateTimeout time.Duration
	ExtractTimeout  time.Duration
	AnalysisTimeout time.Duration
	PersistTimeout  time.Duration

	// Session establishment
	SessionMaxElapsed time.Duration

	// Job registry
	EventBacklog    int
	RetentionWindow time.Duration

	// Report persistence
	OutputDir string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables, then overlays the
// optional YAML file pointed to by REVIEWRADAR_CONFIG.
func Load() Config {
	cfg := Config{
		ServerPort: getEnv("REVIEWRADAR_PORT", DefaultPort),

		BaseURL:         getEnv("STORE_BASE_URL", "https://www.amazon.it"),
		Headless:        getEnvBool("HEADLESS", true),
		ForceHeadless:   forceHeadless(),
		LoginEmail:      getEnv("AMAZON_EMAIL", ""),
		LoginPassword:   getEnv("AMAZON_PASSWORD", ""),
		SessionProvider: SessionProviderKind(getEnv("SESSION_PROVIDER", string(SessionProviderWeb))),

		LLMProvider:     Provider(strings.ToLower(getEnv("LLM_PROVIDER", string(ProviderOllama)))),
		LLMModel:        getEnv("LLM_MODEL", ""),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),

		MaxReviews:     getEnvInt("MAX_REVIEWS", 15),
		MaxItems:       getEnvInt("MAX_ITEMS", 0),
		InterItemDelay: getEnvDuration("DELAY_BETWEEN_ITEMS", 0),
		RetryBaseDelay: getEnvDuration("RETRY_BASE_DELAY", 2*time.Second),
		RetryMaxDelay:  getEnvDuration("RETRY_MAX_DELAY", 30*time.Second),
		JitterFraction: getEnvFloat("RETRY_JITTER", 0.2),

		NavigateTimeout: getEnvDuration("NAVIGATE_TIMEOUT", 90*time.Second),
		ExtractTimeout:  getEnvDuration("EXTRACT_TIMEOUT", 30*time.Second),
		AnalysisTimeout: getEnvDuration("ANALYSIS_TIMEOUT", 120*time.Second),
		PersistTimeout:  getEnvDuration("PERSIST_TIMEOUT", 10*time.Second),

		SessionMaxElapsed: getEnvDuration("SESSION_MAX_ELAPSED", 2*time.Minute),

		EventBacklog:    getEnvInt("EVENT_BACKLOG", 256),
		RetentionWindow: getEnvDuration("JOB_RETENTION", time.Hour),

		OutputDir: getEnv("OUTPUT_DIR", "output"),

		LogFile:  getEnv("REVIEWRADAR_LOG_FILE", "/tmp/reviewradar.log"),
		LogLevel: parseLogLevel(getEnv("REVIEWRADAR_LOG_LEVEL", "INFO")),
	}

	if cfg.LLMModel == "" {
		cfg.LLMModel = defaultModel(cfg.LLMProvider)
	}

	if path := os.Getenv("REVIEWRADAR_CONFIG"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			slog.Warn("failed to load config file, using env only", "path", path, "error", err)
		}
	}

	return cfg
}

// fileConfig mirrors the subset of Config that may be set from a YAML file.
// Zero values leave the env-derived value untouched.
type fileConfig struct {
	ServerPort      string  `yaml:"server_port"`
	BaseURL         string  `yaml:"base_url"`
	LLMProvider     string  `yaml:"llm_provider"`
	LLMModel        string  `yaml:"llm_model"`
	OllamaHost      string  `yaml:"ollama_host"`
	MaxReviews      int     `yaml:"max_reviews"`
	InterItemDelay  string  `yaml:"delay_between_items"`
	JitterFraction  float64 `yaml:"retry_jitter"`
	OutputDir       string  `yaml:"output_dir"`
	EventBacklog    int     `yaml:"event_backlog"`
	RetentionWindow string  `yaml:"job_retention"`
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	if fc.ServerPort != "" {
		c.ServerPort = fc.ServerPort
	}
	if fc.BaseURL != "" {
		c.BaseURL = fc.BaseURL
	}
	if fc.LLMProvider != "" {
		c.LLMProvider = Provider(strings.ToLower(fc.LLMProvider))
	}
	if fc.LLMModel != "" {
		c.LLMModel = fc.LLMModel
	}
	if fc.OllamaHost != "" {
		c.OllamaHost = fc.OllamaHost
	}
	if fc.MaxReviews > 0 {
		c.MaxReviews = fc.MaxReviews
	}
	if fc.InterItemDelay != "" {
		if d, err := ParseDuration(fc.InterItemDelay); err == nil {
			c.InterItemDelay = d
		}
	}
	if fc.JitterFraction > 0 {
		c.JitterFraction = fc.JitterFraction
	}
	if fc.OutputDir != "" {
		c.OutputDir = fc.OutputDir
	}
	if fc.EventBacklog > 0 {
		c.EventBacklog = fc.EventBacklog
	}
	if fc.RetentionWindow != "" {
		if d, err := time.ParseDuration(fc.RetentionWindow); err == nil {
			c.RetentionWindow = d
		}
	}

	return nil
}

// EffectiveHeadless resolves the headless flag a job requested against the
// deployment policy: production always runs headless.
func (c Config) EffectiveHeadless(requested bool) bool {
	if c.ForceHeadless {
		return true
	}
	return requested
}

func forceHeadless() bool {
	if getEnvBool("FORCE_HEADLESS", false) {
		return true
	}
	env := strings.ToLower(getEnv("ENV", getEnv("APP_ENV", "")))
	return env == "production"
}

func defaultModel(p Provider) string {
	switch p {
	case ProviderOpenAI:
		return "gpt-4o-mini"
	case ProviderAnthropic:
		return "claude-3-5-haiku-latest"
	default:
		return "llama3.1:8b"
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return strings.ToLower(val) == "true"
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

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}

// ParseDuration parses a Go duration string, also accepting bare seconds
// ("2.5") for compatibility with the old deployment env and API clients.
func ParseDuration(val string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(val, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(val)
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
