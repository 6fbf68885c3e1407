package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/dig"
)

// Config represents the librarian service configuration.
type Config struct {
	Server    ServerConfig
	CORS      CORSConfig
	OpenAI    OpenAIConfig
	Redis     RedisConfig
	Corpus    CorpusConfig
	Retriever RetrieverConfig
	Safety    SafetyConfig
	Chat      ChatConfig
	Media     MediaConfig
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int `env:"SERVER_PORT"          envDefault:"8080"`
	ReadTimeout  int `env:"SERVER_READ_TIMEOUT"  envDefault:"30"`
	WriteTimeout int `env:"SERVER_WRITE_TIMEOUT" envDefault:"60"`
}

// CORSConfig contains CORS policy settings.
type CORSConfig struct {
	AllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS"   envSeparator:"," envDefault:"*"`
	AllowedMethods   []string `env:"CORS_ALLOWED_METHODS"   envSeparator:"," envDefault:"GET,POST,OPTIONS"`
	AllowedHeaders   []string `env:"CORS_ALLOWED_HEADERS"   envSeparator:"," envDefault:"Content-Type,Authorization"`
	AllowCredentials bool     `env:"CORS_ALLOW_CREDENTIALS"                  envDefault:"true"`
	MaxAge           int      `env:"CORS_MAX_AGE"                            envDefault:"86400"`
}

// OpenAIConfig contains credentials and model selection for every OpenAI-backed
// adapter (chat, embeddings, speech, transcription, images). An empty APIKey
// disables all of them; the service then runs on the scripted dev model.
type OpenAIConfig struct {
	APIKey     string `env:"OPENAI_API_KEY"`
	BaseURL    string `env:"OPENAI_BASE_URL"    envDefault:"https://api.openai.com/v1"`
	Timeout    int    `env:"OPENAI_TIMEOUT"     envDefault:"60"`
	MaxRetries int    `env:"OPENAI_MAX_RETRIES" envDefault:"2"`

	ChatModel  string `env:"OPENAI_CHAT_MODEL"  envDefault:"gpt-4o-mini"`
	EmbedModel string `env:"OPENAI_EMBED_MODEL" envDefault:"text-embedding-3-small"`
	TTSModel   string `env:"OPENAI_TTS_MODEL"   envDefault:"tts-1"`
	TTSVoice   string `env:"OPENAI_TTS_VOICE"   envDefault:"alloy"`
	STTModel   string `env:"OPENAI_STT_MODEL"   envDefault:"whisper-1"`
	ImageModel string `env:"OPENAI_IMAGE_MODEL" envDefault:"dall-e-3"`
}

// RedisConfig contains vector index settings.
type RedisConfig struct {
	Addr      string `env:"REDIS_ADDR"       envDefault:"localhost:6379"`
	Password  string `env:"REDIS_PASSWORD"`
	DB        int    `env:"REDIS_DB"         envDefault:"0"`
	IndexName string `env:"REDIS_INDEX_NAME" envDefault:"idx:books"`
	KeyPrefix string `env:"REDIS_KEY_PREFIX" envDefault:"book:"`
	Dimension int    `env:"REDIS_DIMENSION"  envDefault:"1536"`
}

// CorpusConfig locates the book corpus source file.
type CorpusConfig struct {
	Path string `env:"CORPUS_PATH" envDefault:"data/book_summaries.json"`
}

// RetrieverConfig contains retrieval tunables. MinSimilarity and the retry
// bounds are corpus- and model-dependent; they are validated, not hard-coded.
type RetrieverConfig struct {
	TopK          int           `env:"RETRIEVER_TOP_K"          envDefault:"3"`
	MinSimilarity float64       `env:"RETRIEVER_MIN_SIMILARITY" envDefault:"0.30"`
	CacheSize     int           `env:"RETRIEVER_CACHE_SIZE"     envDefault:"256"`
	CacheTTL      time.Duration `env:"RETRIEVER_CACHE_TTL"      envDefault:"5m"`
	RetryAttempts int           `env:"RETRIEVER_RETRY_ATTEMPTS" envDefault:"2"`
	RetryBackoff  time.Duration `env:"RETRIEVER_RETRY_BACKOFF"  envDefault:"200ms"`
	QueryTimeout  time.Duration `env:"RETRIEVER_QUERY_TIMEOUT"  envDefault:"10s"`
}

// SafetyConfig contains input filter settings.
type SafetyConfig struct {
	ExtraDenylist []string `env:"SAFETY_EXTRA_DENYLIST" envSeparator:","`
	ToneThreshold float64  `env:"SAFETY_TONE_THRESHOLD" envDefault:"0.5"`
}

// ChatConfig contains conversation orchestration settings.
type ChatConfig struct {
	SystemPrompt  string `env:"CHAT_SYSTEM_PROMPT"`
	MaxRoundTrips int    `env:"CHAT_MAX_ROUND_TRIPS" envDefault:"4"`
	HistoryWindow int    `env:"CHAT_HISTORY_WINDOW"  envDefault:"6"`
}

// MediaConfig contains fallback chain settings. Provider lists are ordered by
// priority; an empty list disables that chain.
type MediaConfig struct {
	TTSProviders    []string      `env:"MEDIA_TTS_PROVIDERS"     envSeparator:"," envDefault:"openai,gtranslate"`
	STTProviders    []string      `env:"MEDIA_STT_PROVIDERS"     envSeparator:"," envDefault:"openai,google"`
	ImageProviders  []string      `env:"MEDIA_IMAGE_PROVIDERS"   envSeparator:"," envDefault:"dall-e-3,dall-e-2"`
	ProviderTimeout time.Duration `env:"MEDIA_PROVIDER_TIMEOUT"  envDefault:"30s"`
}

// DepConfig is used for dependency injection with dig.
type DepConfig struct {
	dig.Out
	*ServerConfig
	*CORSConfig
	*OpenAIConfig
	*RedisConfig
	*CorpusConfig
	*RetrieverConfig
	*SafetyConfig
	*ChatConfig
	*MediaConfig
}

// Load loads environment files, parses and validates configuration.
func Load() (*Config, error) {
	for _, file := range []string{".env"} {
		_ = godotenv.Load(file)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects out-of-range tunables at startup.
func (c *Config) Validate() error {
	if c.Retriever.TopK < 1 {
		return fmt.Errorf("RETRIEVER_TOP_K must be >= 1, got %d", c.Retriever.TopK)
	}
	if c.Retriever.MinSimilarity < 0 || c.Retriever.MinSimilarity > 1 {
		return fmt.Errorf("RETRIEVER_MIN_SIMILARITY must be in [0, 1], got %g", c.Retriever.MinSimilarity)
	}
	if c.Retriever.CacheSize < 1 {
		return fmt.Errorf("RETRIEVER_CACHE_SIZE must be >= 1, got %d", c.Retriever.CacheSize)
	}
	if c.Retriever.RetryAttempts < 1 {
		return fmt.Errorf("RETRIEVER_RETRY_ATTEMPTS must be >= 1, got %d", c.Retriever.RetryAttempts)
	}
	if c.Chat.MaxRoundTrips < 1 {
		return fmt.Errorf("CHAT_MAX_ROUND_TRIPS must be >= 1, got %d", c.Chat.MaxRoundTrips)
	}
	if c.Chat.HistoryWindow < 0 {
		return fmt.Errorf("CHAT_HISTORY_WINDOW must be >= 0, got %d", c.Chat.HistoryWindow)
	}
	if c.Safety.ToneThreshold <= 0 {
		return fmt.Errorf("SAFETY_TONE_THRESHOLD must be > 0, got %g", c.Safety.ToneThreshold)
	}
	if c.Redis.Dimension < 1 {
		return fmt.Errorf("REDIS_DIMENSION must be >= 1, got %d", c.Redis.Dimension)
	}
	if c.Media.ProviderTimeout <= 0 {
		return fmt.Errorf("MEDIA_PROVIDER_TIMEOUT must be > 0, got %s", c.Media.ProviderTimeout)
	}
	return nil
}

// ParseDependenciesConfig returns pointers to sub-configs for dependency injection.
func ParseDependenciesConfig(cfg *Config) DepConfig {
	return DepConfig{
		dig.Out{},
		&cfg.Server,
		&cfg.CORS,
		&cfg.OpenAI,
		&cfg.Redis,
		&cfg.Corpus,
		&cfg.Retriever,
		&cfg.Safety,
		&cfg.Chat,
		&cfg.Media,
	}
}
