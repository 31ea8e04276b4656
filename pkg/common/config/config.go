package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64
	RateLimitRPS   int
	RateLimitBurst int

	// Inbound service tokens, disabled when AuthSecret is empty
	AuthSecret   string
	AuthIssuer   string
	AuthAudience string
	AuthTokenTTL time.Duration

	// Database (patient record store)
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis (extraction cache)
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers       []string
	KafkaGroupID       string
	KafkaRequestTopic  string
	KafkaResultTopic   string
	KafkaStatusTopic   string
	KafkaStatusEnabled bool

	// Cloud LLM (OpenAI-compatible)
	LLMAPIKey        string
	LLMBaseURL       string
	LLMModelName     string
	LLMTimeout       time.Duration
	LLMRetryAttempts int
	LLMOAuthTokenURL string
	LLMOAuthClientID string
	LLMOAuthSecret   string
	LLMOAuthScopes   []string

	// Local LLM (Ollama)
	OllamaEndpoint string
	OllamaModel    string
	OllamaTimeout  time.Duration

	// Routing
	ActiveProvider  string
	MaxOutputTokens int

	// Assisted extraction
	ExtractionEnabled    bool
	ExtractionModel      string
	ExtractionConfidence float64
	ExtractionCacheTTL   time.Duration

	// Pattern detection
	DLPRulesPath string
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8090"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 120*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 1024*1024)),
		RateLimitRPS:   getIntEnv("GATEWAY_RATE_LIMIT_RPS", 20),
		RateLimitBurst: getIntEnv("GATEWAY_RATE_LIMIT_BURST", 40),

		AuthSecret:   getEnv("GATEWAY_AUTH_SECRET", ""),
		AuthIssuer:   getEnv("GATEWAY_AUTH_ISSUER", "synaptica"),
		AuthAudience: getEnv("GATEWAY_AUTH_AUDIENCE", "privacy-gateway"),
		AuthTokenTTL: getDuration("GATEWAY_AUTH_TOKEN_TTL", time.Hour),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "synaptica"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "synaptica123"),
		PostgresDB:       getEnv("POSTGRES_DB", "synaptica"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers:       getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:       getEnv("KAFKA_GROUP_ID", "privacy-gateway"),
		KafkaRequestTopic:  getEnv("KAFKA_REQUEST_TOPIC", "generation-requests"),
		KafkaResultTopic:   getEnv("KAFKA_RESULT_TOPIC", "generation-results"),
		KafkaStatusTopic:   getEnv("KAFKA_STATUS_TOPIC", "gateway-status"),
		KafkaStatusEnabled: getBoolEnv("KAFKA_STATUS_ENABLED", false),

		LLMAPIKey:        getEnv("LLM_API_KEY", ""),
		LLMBaseURL:       getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMModelName:     getEnv("LLM_MODEL_NAME", "gpt-4o-mini"),
		LLMTimeout:       getDuration("LLM_TIMEOUT", 60*time.Second),
		LLMRetryAttempts: getIntEnv("LLM_RETRY_ATTEMPTS", 3),
		LLMOAuthTokenURL: getEnv("LLM_OAUTH_TOKEN_URL", ""),
		LLMOAuthClientID: getEnv("LLM_OAUTH_CLIENT_ID", ""),
		LLMOAuthSecret:   getEnv("LLM_OAUTH_CLIENT_SECRET", ""),
		LLMOAuthScopes:   getStringSliceEnv("LLM_OAUTH_SCOPES", nil),

		OllamaEndpoint: getEnv("OLLAMA_ENDPOINT", "http://localhost:11434"),
		OllamaModel:    getEnv("OLLAMA_MODEL", "mistral:7b"),
		OllamaTimeout:  getDuration("OLLAMA_TIMEOUT", 120*time.Second),

		ActiveProvider:  getEnv("ACTIVE_PROVIDER", "ollama"),
		MaxOutputTokens: getIntEnv("MAX_OUTPUT_TOKENS", 1024),

		ExtractionEnabled:    getBoolEnv("EXTRACTION_ENABLED", true),
		ExtractionModel:      getEnv("EXTRACTION_MODEL", "qwen2.5:3b"),
		ExtractionConfidence: getFloatEnv("EXTRACTION_CONFIDENCE", 0.7),
		ExtractionCacheTTL:   getDuration("EXTRACTION_CACHE_TTL", 10*time.Minute),

		DLPRulesPath: getEnv("DLP_RULES_PATH", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getStringSliceEnv splits a comma-separated value, dropping empty items.
func getStringSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
