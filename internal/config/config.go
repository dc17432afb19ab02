package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	APIPort  string
	LogLevel string

	APIMaxConnections     int
	APIRateLimitRPS       float64
	APIRateLimitBurst     int
	APIMaxInFlight        int
	APIBackpressureWaitMS int
	OpenAPIValidation     bool

	PostgresDSN string

	NATSEnabled       bool
	NATSURL           string
	NATSSubject       string
	NATSEventsSubject string

	OllamaURL        string
	OllamaGenModel   string
	OllamaEmbedModel string
	LLMMaxTokens     int
	LLMContextWindow int
	LLMTimeoutSecs   int

	RerankerURL string

	SemanticBackend  string
	QdrantURL        string
	QdrantCollection string
	EmbedCacheSize   int
	EmbedBatchSize   int

	DocumentsPath string
	DefaultSource string
	ChunkSize     int
	ChunkOverlap  int

	RAGHybridK     int
	RAGRerankTopK  int
	CitationPolicy string

	GuardMinDocs              int
	GuardMinContextChars      int
	GuardMaxContextLength     int
	GuardUnsupportedThreshold int
	GuardTrimPunctuation      bool

	AnswerCacheKeyPrefix int
	QueryTimeoutSeconds  int

	RetryMaxAttempts        int
	RetryInitialBackoffMS   int
	RetryMaxBackoffMS       int
	BreakerEnabled          bool
	BreakerMinRequests      int
	BreakerFailureRatio     float64
	BreakerOpenTimeoutSecs  int
	BreakerHalfOpenMaxCalls int
}

func Load() Config {
	return Config{
		APIPort:  mustEnv("API_PORT", "8080"),
		LogLevel: mustEnv("LOG_LEVEL", "info"),

		APIMaxConnections:     mustEnvInt("API_MAX_CONNECTIONS", 256),
		APIRateLimitRPS:       mustEnvFloat("API_RATE_LIMIT_RPS", 0),
		APIRateLimitBurst:     mustEnvInt("API_RATE_LIMIT_BURST", 10),
		APIMaxInFlight:        mustEnvInt("API_MAX_INFLIGHT", 64),
		APIBackpressureWaitMS: mustEnvInt("API_BACKPRESSURE_WAIT_MS", 200),
		OpenAPIValidation:     mustEnvBool("OPENAPI_VALIDATION", true),

		PostgresDSN: mustEnv("POSTGRES_DSN", ""),

		NATSEnabled:       mustEnvBool("NATS_ENABLED", false),
		NATSURL:           mustEnv("NATS_URL", "nats://localhost:4222"),
		NATSSubject:       mustEnv("NATS_SUBJECT", "rag.ingest.requested"),
		NATSEventsSubject: mustEnv("NATS_EVENTS_SUBJECT", "rag.ingest.completed"),

		OllamaURL:        mustEnv("OLLAMA_URL", "http://localhost:11434"),
		OllamaGenModel:   mustEnv("OLLAMA_GEN_MODEL", "llama3.1:8b"),
		OllamaEmbedModel: mustEnv("OLLAMA_EMBED_MODEL", "nomic-embed-text"),
		LLMMaxTokens:     mustEnvInt("LLM_MAX_TOKENS", 256),
		LLMContextWindow: mustEnvInt("LLM_CONTEXT_WINDOW", 2048),
		LLMTimeoutSecs:   mustEnvInt("LLM_TIMEOUT_SECONDS", 120),

		RerankerURL: mustEnv("RERANKER_URL", ""),

		SemanticBackend:  mustEnv("SEMANTIC_BACKEND", "hnsw"),
		QdrantURL:        mustEnv("QDRANT_URL", "http://localhost:6333"),
		QdrantCollection: mustEnv("QDRANT_COLLECTION", "grounded_chunks"),
		EmbedCacheSize:   mustEnvInt("EMBED_CACHE_SIZE", 1000),
		EmbedBatchSize:   mustEnvInt("EMBED_BATCH_SIZE", 32),

		DocumentsPath: mustEnv("DOCUMENTS_PATH", "./data/sample_docs"),
		DefaultSource: mustEnv("DEFAULT_SOURCE", "sample.pdf"),
		ChunkSize:     mustEnvInt("CHUNK_SIZE", 400),
		ChunkOverlap:  mustEnvInt("CHUNK_OVERLAP", 50),

		RAGHybridK:     mustEnvInt("RAG_HYBRID_K", 10),
		RAGRerankTopK:  mustEnvInt("RAG_RERANK_TOP_K", 5),
		CitationPolicy: mustEnv("CITATION_POLICY", "first"),

		GuardMinDocs:              mustEnvInt("GUARD_MIN_DOCS", 1),
		GuardMinContextChars:      mustEnvInt("GUARD_MIN_CONTEXT_CHARS", 200),
		GuardMaxContextLength:     mustEnvInt("GUARD_MAX_CONTEXT_LENGTH", 1000),
		GuardUnsupportedThreshold: mustEnvInt("GUARD_UNSUPPORTED_THRESHOLD", 15),
		GuardTrimPunctuation:      mustEnvBool("GUARD_TRIM_PUNCTUATION", false),

		AnswerCacheKeyPrefix: mustEnvInt("ANSWER_CACHE_KEY_PREFIX", 100),
		QueryTimeoutSeconds:  mustEnvInt("QUERY_TIMEOUT_SECONDS", 60),

		RetryMaxAttempts:        mustEnvInt("RESILIENCE_RETRY_MAX_ATTEMPTS", 3),
		RetryInitialBackoffMS:   mustEnvInt("RESILIENCE_RETRY_INITIAL_BACKOFF_MS", 100),
		RetryMaxBackoffMS:       mustEnvInt("RESILIENCE_RETRY_MAX_BACKOFF_MS", 400),
		BreakerEnabled:          mustEnvBool("RESILIENCE_BREAKER_ENABLED", true),
		BreakerMinRequests:      mustEnvInt("RESILIENCE_BREAKER_MIN_REQUESTS", 10),
		BreakerFailureRatio:     mustEnvFloat("RESILIENCE_BREAKER_FAILURE_RATIO", 0.5),
		BreakerOpenTimeoutSecs:  mustEnvInt("RESILIENCE_BREAKER_OPEN_TIMEOUT_SECONDS", 30),
		BreakerHalfOpenMaxCalls: mustEnvInt("RESILIENCE_BREAKER_HALF_OPEN_MAX_CALLS", 2),
	}
}

// LoadDotEnv populates unset environment variables from the given files.
// Missing files are skipped; variables already present in the environment win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

func (c Config) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutSeconds) * time.Second
}

func (c Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSecs) * time.Second
}

func (c Config) BackpressureWait() time.Duration {
	return time.Duration(c.APIBackpressureWaitMS) * time.Millisecond
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func mustEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}
