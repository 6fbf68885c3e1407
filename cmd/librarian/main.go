package main

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"

	"github.com/davidbz/librarian/internal/chatmodel/echo"
	chatopenai "github.com/davidbz/librarian/internal/chatmodel/openai"
	"github.com/davidbz/librarian/internal/config"
	"github.com/davidbz/librarian/internal/corpus"
	"github.com/davidbz/librarian/internal/domain"
	embedopenai "github.com/davidbz/librarian/internal/embedding/openai"
	"github.com/davidbz/librarian/internal/http"
	"github.com/davidbz/librarian/internal/http/middleware"
	redisindex "github.com/davidbz/librarian/internal/index/redis"
	"github.com/davidbz/librarian/internal/librarian"
	"github.com/davidbz/librarian/internal/media"
	"github.com/davidbz/librarian/internal/media/image"
	"github.com/davidbz/librarian/internal/media/stt"
	"github.com/davidbz/librarian/internal/media/tts"
	"github.com/davidbz/librarian/internal/observability"
	"github.com/davidbz/librarian/internal/orchestrator"
	"github.com/davidbz/librarian/internal/retriever"
	"github.com/davidbz/librarian/internal/safety"
	"github.com/davidbz/librarian/internal/tools"
)

func main() {
	container := buildContainer()

	// Seed the vector index before serving. Failures degrade retrieval
	// instead of aborting startup; the status endpoint reports it.
	if err := container.Invoke(seedIndex); err != nil {
		log.Printf("Index seeding skipped: %v", err)
	}

	err := container.Invoke(func(server *http.Server) {
		if err := server.Start(); err != nil {
			log.Fatalf("Server failed to start: %v", err)
		}
	})
	if err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}
}

func buildContainer() *dig.Container {
	container := dig.New()

	// Configuration
	if err := container.Provide(config.Load); err != nil {
		log.Fatalf("Failed to provide config: %v", err)
	}
	if err := container.Provide(config.ParseDependenciesConfig); err != nil {
		log.Fatalf("Failed to provide config dependencies: %v", err)
	}

	// Observability
	if err := container.Provide(observability.InitLogger); err != nil {
		log.Fatalf("Failed to provide logger: %v", err)
	}

	// Corpus
	if err := container.Provide(func(cfg *config.CorpusConfig) (*corpus.Store, error) {
		return corpus.Load(cfg.Path)
	}); err != nil {
		log.Fatalf("Failed to provide corpus: %v", err)
	}

	// Redis client
	if err := container.Provide(func(cfg *config.RedisConfig) *redis.Client {
		return redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	}); err != nil {
		log.Fatalf("Failed to provide redis client: %v", err)
	}

	// Vector index. A missing Redis degrades retrieval rather than
	// aborting startup.
	if err := container.Provide(func(client *redis.Client, cfg *config.RedisConfig) domain.VectorIndex {
		index, err := redisindex.NewVectorIndex(client, cfg)
		if err != nil {
			log.Printf("Vector index unavailable, retrieval degraded: %v", err)
			return nil
		}
		return index
	}); err != nil {
		log.Fatalf("Failed to provide vector index: %v", err)
	}

	// Embedding generator. Unconfigured OpenAI degrades retrieval too.
	if err := container.Provide(func(cfg *config.OpenAIConfig) domain.EmbeddingGenerator {
		if cfg.APIKey == "" {
			log.Printf("OpenAI API key not set, retrieval degraded")
			return nil
		}
		generator, err := embedopenai.NewGenerator(cfg)
		if err != nil {
			log.Printf("Embedding generator unavailable, retrieval degraded: %v", err)
			return nil
		}
		return generator
	}); err != nil {
		log.Fatalf("Failed to provide embedding generator: %v", err)
	}

	// Retriever
	if err := container.Provide(func(
		embedder domain.EmbeddingGenerator,
		index domain.VectorIndex,
		store *corpus.Store,
		cfg *config.RetrieverConfig,
	) *retriever.Retriever {
		return retriever.New(embedder, index, store, retriever.Config{
			DefaultTopK:   cfg.TopK,
			MinSimilarity: cfg.MinSimilarity,
			CacheSize:     cfg.CacheSize,
			CacheTTL:      cfg.CacheTTL,
			RetryAttempts: cfg.RetryAttempts,
			RetryBackoff:  cfg.RetryBackoff,
			QueryTimeout:  cfg.QueryTimeout,
		})
	}); err != nil {
		log.Fatalf("Failed to provide retriever: %v", err)
	}

	// Safety filter
	if err := container.Provide(func(cfg *config.SafetyConfig) *safety.Filter {
		return safety.New(safety.Config{
			ExtraDenylist: cfg.ExtraDenylist,
			ToneThreshold: cfg.ToneThreshold,
		})
	}); err != nil {
		log.Fatalf("Failed to provide safety filter: %v", err)
	}

	// Tool registry
	if err := container.Provide(func(
		store *corpus.Store,
		searcher *retriever.Retriever,
		cfg *config.RetrieverConfig,
	) (*tools.Registry, error) {
		registry := tools.NewRegistry()
		if err := tools.RegisterBookTools(registry, store, searcher, cfg.TopK); err != nil {
			return nil, fmt.Errorf("failed to register book tools: %w", err)
		}
		return registry, nil
	}); err != nil {
		log.Fatalf("Failed to provide tool registry: %v", err)
	}

	// Chat model. Without an API key the scripted dev model keeps the
	// service usable end to end.
	if err := container.Provide(func(cfg *config.OpenAIConfig) (domain.ChatModel, error) {
		if cfg.APIKey == "" {
			log.Printf("OpenAI API key not set, using the scripted dev model")
			return echo.NewModel(), nil
		}
		return chatopenai.NewModel(cfg)
	}); err != nil {
		log.Fatalf("Failed to provide chat model: %v", err)
	}

	// Orchestrator
	if err := container.Provide(func(
		chat domain.ChatModel,
		registry *tools.Registry,
		grounder *retriever.Retriever,
		filter *safety.Filter,
		chatCfg *config.ChatConfig,
		retrieverCfg *config.RetrieverConfig,
	) *orchestrator.Orchestrator {
		return orchestrator.New(chat, registry, grounder, filter, orchestrator.Config{
			MaxRoundTrips: chatCfg.MaxRoundTrips,
			SystemPrompt:  chatCfg.SystemPrompt,
			DefaultTopK:   retrieverCfg.TopK,
		})
	}); err != nil {
		log.Fatalf("Failed to provide orchestrator: %v", err)
	}

	// Media chains
	if err := container.Provide(buildTTSChain); err != nil {
		log.Fatalf("Failed to provide TTS chain: %v", err)
	}
	if err := container.Provide(buildSTTChain); err != nil {
		log.Fatalf("Failed to provide STT chain: %v", err)
	}
	if err := container.Provide(buildImageChain); err != nil {
		log.Fatalf("Failed to provide image chain: %v", err)
	}

	// Service facade
	if err := container.Provide(func(
		orch *orchestrator.Orchestrator,
		grounder *retriever.Retriever,
		store *corpus.Store,
		ttsChain *media.TTSChain,
		sttChain *media.STTChain,
		imageChain *media.ImageChain,
		chatCfg *config.ChatConfig,
	) *librarian.Service {
		return librarian.New(orch, grounder, store, ttsChain, sttChain, imageChain,
			librarian.Config{HistoryWindow: chatCfg.HistoryWindow})
	}); err != nil {
		log.Fatalf("Failed to provide librarian service: %v", err)
	}

	// HTTP Layer
	if err := container.Provide(func(service *librarian.Service) *http.Handler {
		return http.NewHandler(service)
	}); err != nil {
		log.Fatalf("Failed to provide HTTP handler: %v", err)
	}
	if err := container.Provide(func(cfg *config.CORSConfig) middleware.Middleware {
		return middleware.BuildMiddlewareChain(cfg)
	}); err != nil {
		log.Fatalf("Failed to provide middleware chain: %v", err)
	}
	if err := container.Provide(http.NewServer); err != nil {
		log.Fatalf("Failed to provide HTTP server: %v", err)
	}

	return container
}

// buildTTSChain assembles the speech chain from the configured provider list.
func buildTTSChain(openaiCfg *config.OpenAIConfig, mediaCfg *config.MediaConfig) *media.TTSChain {
	providers := make([]media.Provider[string, []byte], 0, len(mediaCfg.TTSProviders))
	for _, name := range mediaCfg.TTSProviders {
		switch strings.TrimSpace(name) {
		case "openai":
			provider, err := tts.NewOpenAI(openaiCfg)
			if err != nil {
				log.Printf("Skipping TTS provider openai: %v", err)
				continue
			}
			providers = append(providers, provider)
		case "gtranslate":
			providers = append(providers, tts.NewGTranslate(""))
		default:
			log.Printf("Unknown TTS provider %q, skipping", name)
		}
	}
	return media.NewChain[string, []byte](media.KindTTS, providers, mediaCfg.ProviderTimeout)
}

// buildSTTChain assembles the transcription chain.
func buildSTTChain(openaiCfg *config.OpenAIConfig, mediaCfg *config.MediaConfig) *media.STTChain {
	providers := make([]media.Provider[media.Audio, string], 0, len(mediaCfg.STTProviders))
	for _, name := range mediaCfg.STTProviders {
		switch strings.TrimSpace(name) {
		case "openai":
			provider, err := stt.NewOpenAI(openaiCfg)
			if err != nil {
				log.Printf("Skipping STT provider openai: %v", err)
				continue
			}
			providers = append(providers, provider)
		case "google":
			providers = append(providers, stt.NewGoogleSpeech(""))
		default:
			log.Printf("Unknown STT provider %q, skipping", name)
		}
	}
	return media.NewChain[media.Audio, string](media.KindSTT, providers, mediaCfg.ProviderTimeout)
}

// buildImageChain assembles the cover chain. Entries are OpenAI image model
// names, so dall-e-3 falling back to dall-e-2 is two providers.
func buildImageChain(openaiCfg *config.OpenAIConfig, mediaCfg *config.MediaConfig) *media.ImageChain {
	providers := make([]media.Provider[media.CoverSpec, media.Image], 0, len(mediaCfg.ImageProviders))
	for _, model := range mediaCfg.ImageProviders {
		provider, err := image.NewOpenAI(openaiCfg, strings.TrimSpace(model))
		if err != nil {
			log.Printf("Skipping image provider %s: %v", model, err)
			continue
		}
		providers = append(providers, provider)
	}
	return media.NewChain[media.CoverSpec, media.Image](media.KindImage, providers, mediaCfg.ProviderTimeout)
}

// seedIndex embeds every corpus book and upserts it into the vector index.
// Existing entries are overwritten, which keeps the index consistent with the
// corpus file across restarts.
func seedIndex(
	embedder domain.EmbeddingGenerator,
	index domain.VectorIndex,
	store *corpus.Store,
) error {
	if embedder == nil || index == nil {
		return fmt.Errorf("retrieval backend not configured")
	}

	ctx := context.Background()
	logger := observability.FromContext(ctx)

	for _, book := range store.Books() {
		text := book.ShortSummary + " " + strings.Join(book.Themes, ", ")
		vector, err := embedder.Generate(ctx, text)
		if err != nil {
			return fmt.Errorf("failed to embed %q: %w", book.Title, err)
		}
		if err := index.Upsert(ctx, book.Title, vector, map[string]string{"title": book.Title}); err != nil {
			return fmt.Errorf("failed to index %q: %w", book.Title, err)
		}
	}

	logger.Info("vector index seeded", observability.Int("books", store.Len()))
	return nil
}
