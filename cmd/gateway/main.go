package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/openai/openai-go/v2/packages/param"

	"github.com/vce-gateway/gateway/internal/asr"
	"github.com/vce-gateway/gateway/internal/audio"
	"github.com/vce-gateway/gateway/internal/denoise"
	"github.com/vce-gateway/gateway/internal/device"
	"github.com/vce-gateway/gateway/internal/gateway"
	"github.com/vce-gateway/gateway/internal/intent"
	"github.com/vce-gateway/gateway/internal/intent/actions"
	"github.com/vce-gateway/gateway/internal/knowledge"
	"github.com/vce-gateway/gateway/internal/llm"
	"github.com/vce-gateway/gateway/internal/models"
	"github.com/vce-gateway/gateway/internal/orchestrator"
	"github.com/vce-gateway/gateway/internal/respool"
	"github.com/vce-gateway/gateway/internal/session"
	"github.com/vce-gateway/gateway/internal/store"
	"github.com/vce-gateway/gateway/internal/trace"
	"github.com/vce-gateway/gateway/internal/tts"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg := loadConfig("gateway.json")

	kv := openStore(cfg)
	agentRouter, vendors, fallbackEngine := initLLM(cfg)
	ttsCache := tts.NewCache(cfg.TTSCacheMaxSize, cfg.TTSCacheTTL, cfg.TTSReaderTimeout)
	go sweepTTSCache(ttsCache)

	pools := session.Pools{
		VAD: respool.New[*audio.VAD](cfg.PoolCapacity, func() *audio.VAD { return audio.NewVAD(cfg.VAD) }),
		ASR: respool.New[*asr.Driver](cfg.PoolCapacity, func() *asr.Driver { return asr.New(cfg.WhisperServerURL, cfg.ASRPoolSize) }),
		TTS: respool.New[*tts.Driver](cfg.PoolCapacity, func() *tts.Driver { return tts.NewWithCache(cfg.PiperURL, cfg.TTSPoolSize, ttsCache) }),
		LLM: respool.New[*llm.Client](cfg.PoolCapacity, func() *llm.Client { return llm.NewClient(agentRouter, vendors, fallbackEngine, cfg.LLMCacheDepth) }),
	}

	registry := buildIntentRegistry(cfg)

	kb, history := initKnowledge(cfg)
	traceStore := openTraceStore(cfg)

	var newDenoiser func() *denoise.Denoiser
	if cfg.DenoiseEnabled {
		newDenoiser = denoise.New
	}

	gw := gateway.New(gateway.Config{
		ServerID:       gateway.NewServerID(),
		Store:          kv,
		PoolCapacity:   cfg.ConnCapacity,
		HeartbeatEvery: cfg.HeartbeatEvery,
		DeviceRepo: func(uid string) *device.Repository {
			return device.NewRepository(uid, kv)
		},
		SessionConfig: func(uid string) session.Config {
			var tracer *trace.Tracer
			if traceStore != nil {
				tracer = trace.NewTracer(traceStore, uid)
			}
			return session.Config{
				Pools:       pools,
				TTSCache:    ttsCache,
				Registry:    registry,
				DeviceRepo:  device.NewRepository(uid, kv),
				Knowledge:   kb,
				History:     history,
				Tracer:      tracer,
				NewDenoiser: newDenoiser,
				Engine:      fallbackEngine,
				Language:    cfg.DefaultLanguage,
			}
		},
	})
	gw.Run()

	// Service orchestrator (ASR sidecar lifecycle, admin UI)
	svcRegistry := orchestrator.NewRegistry(map[string]orchestrator.ServiceMeta{
		"whisper-server": {
			Category:   "asr",
			HealthURL:  cfg.WhisperServerURL,
			ControlURL: cfg.WhisperControlURL,
		},
	})
	svcMgr := orchestrator.NewHTTPControlManager(svcRegistry)
	gpu := newGPUHub(cfg.OllamaURL, cfg.WhisperControlURL)

	mux := http.NewServeMux()
	registerRoutes(mux, deps{
		ollamaURL:         cfg.OllamaURL,
		ollamaModel:       cfg.OllamaModel,
		whisperControlURL: cfg.WhisperControlURL,
		asrEngines:        []string{"whisper-server"},
		llmRouter:         agentRouter,
		ttsEngines:        []string{"default"},
		ttsCache:          ttsCache,
		ttsPool:           pools.TTS,
		defaultEngine:     fallbackEngine,
		svcMgr:            svcMgr,
		gpu:               gpu,
		wsHandler:         gw,
		traceStore:        traceStore,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: mux}

	go awaitShutdown(srv, cfg.OllamaURL, svcMgr, gw)

	slog.Info("gateway starting", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("gateway stopped")
}

// awaitShutdown blocks until SIGINT/SIGTERM, then drains the gateway,
// unloads models, stops sidecar services, and shuts the HTTP server down.
func awaitShutdown(srv *http.Server, ollamaURL string, svcMgr *orchestrator.HTTPControlManager, gw *gateway.Gateway) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	slog.Info("draining gateway connections")
	gw.Shutdown()

	slog.Info("unloading ollama models")
	if err := models.UnloadAllLLMs(ctx, ollamaURL); err != nil {
		slog.Warn("ollama unload", "error", err)
	}

	slog.Info("stopping ML services")
	stopRunningServices(ctx, svcMgr, "shutdown")

	srv.Shutdown(ctx)
}

// openStore constructs the distributed KV/stream backend: Redis when
// REDIS_ADDR is set, a local sqlite file otherwise.
func openStore(cfg config) store.Store {
	if cfg.RedisAddr != "" {
		slog.Info("distributed store: redis", "addr", cfg.RedisAddr)
		return store.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	}
	slog.Info("distributed store: sqlite fallback", "path", cfg.SQLitePath)
	s, err := store.NewSQLiteStore(cfg.SQLitePath)
	if err != nil {
		slog.Error("sqlite store open failed", "error", err)
		os.Exit(1)
	}
	return s
}

// initLLM wires the AgentLLM router with every configured vendor and
// returns the per-vendor model-slot table QueryStream/Query need.
func initLLM(cfg config) (*llm.AgentLLM, map[string]llm.Vendor, string) {
	router := llm.NewAgentLLM("ollama", cfg.LLMMaxTokens)
	vendors := map[string]llm.Vendor{}

	router.Register("ollama", agents.NewOpenAIProvider(agents.OpenAIProviderParams{
		BaseURL:      param.NewOpt(cfg.OllamaURL + "/v1/"),
		APIKey:       param.NewOpt("ollama"),
		UseResponses: param.NewOpt(false),
	}), cfg.OllamaModel)
	vendors["ollama"] = llm.Vendor{Engine: "ollama", Models: map[llm.Slot]string{
		llm.SlotLite:  cfg.OllamaModel,
		llm.SlotThink: cfg.OllamaModel,
	}}

	if cfg.OpenAIAPIKey != "" {
		router.Register("openai", agents.NewOpenAIProvider(agents.OpenAIProviderParams{
			BaseURL:      param.NewOpt(cfg.OpenAIURL + "/v1/"),
			APIKey:       param.NewOpt(cfg.OpenAIAPIKey),
			UseResponses: param.NewOpt(true),
		}), cfg.OpenAIModel)
		vendors["openai"] = llm.Vendor{Engine: "openai", Models: map[llm.Slot]string{
			llm.SlotLite:  cfg.OpenAIModel,
			llm.SlotThink: cfg.OpenAIModel,
		}}
	}

	if cfg.AnthropicAPIKey != "" {
		router.Register("anthropic", agents.NewOpenAIProvider(agents.OpenAIProviderParams{
			BaseURL:      param.NewOpt(cfg.AnthropicURL + "/v1/"),
			APIKey:       param.NewOpt(cfg.AnthropicAPIKey),
			UseResponses: param.NewOpt(false),
		}), cfg.AnthropicModel)
		vendors["anthropic"] = llm.Vendor{Engine: "anthropic", Models: map[llm.Slot]string{
			llm.SlotLite:  cfg.AnthropicModel,
			llm.SlotThink: cfg.AnthropicModel,
		}}
	}

	return router, vendors, "ollama"
}

// buildIntentRegistry registers every §4.5 intent handler. All handlers are
// registered under the default language; Registry.Resolve falls back to it
// for zh/ar until per-language prompt variants are added.
func buildIntentRegistry(cfg config) *intent.Registry {
	registry := intent.NewRegistry(cfg.DefaultLanguage)

	registry.Register(intent.Alarm, cfg.DefaultLanguage, actions.AlarmHandler{})
	registry.Register(intent.Control, cfg.DefaultLanguage, actions.ControlHandler{})

	var musicCatalog actions.MusicCatalog
	if cfg.MusicCatalogURL != "" {
		musicCatalog = actions.NewHTTPMusicCatalog(cfg.MusicCatalogURL, 10)
	}
	registry.Register(intent.Music, cfg.DefaultLanguage, actions.MusicHandler{Catalog: musicCatalog})

	var weatherProvider actions.WeatherProvider
	if cfg.WeatherAppID != "" {
		weatherProvider = actions.NewOpenWeatherMapClient(cfg.WeatherBaseURL, cfg.WeatherAppID, 10)
	}
	registry.Register(intent.Weather, cfg.DefaultLanguage, actions.WeatherHandler{Provider: weatherProvider})

	var newsProvider actions.NewsProvider
	if cfg.NewsAPIKey != "" {
		newsProvider = actions.NewNewsAPIClient(cfg.NewsBaseURL, cfg.NewsAPIKey, cfg.NewsLanguage, cfg.NewsCountry, 10)
	}
	registry.Register(intent.News, cfg.DefaultLanguage, actions.NewsHandler{Provider: newsProvider})

	registry.Register(intent.Story, cfg.DefaultLanguage, actions.NewStoryHandler())
	registry.Register(intent.Joke, cfg.DefaultLanguage, actions.JokeHandler{})
	registry.Register(intent.Chat, cfg.DefaultLanguage, actions.NewChatHandler())

	return registry
}

// initKnowledge wires the RAG knowledge base and call-history persistence,
// both optional and gated on QDRANT_URL being configured.
func initKnowledge(cfg config) (intent.KnowledgeBase, session.History) {
	if cfg.QdrantURL == "" {
		return nil, nil
	}
	embedder := knowledge.NewEmbeddingClient(cfg.OllamaURL, cfg.EmbeddingModel, cfg.QdrantPoolSize)
	qdrant := knowledge.NewQdrantClient(cfg.QdrantURL, cfg.QdrantPoolSize)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := qdrant.EnsureCollection(ctx, cfg.RAGCollection, cfg.VectorSize); err != nil {
		slog.Warn("qdrant ensure rag collection failed", "error", err)
	}
	if err := qdrant.EnsureCollection(ctx, cfg.CallHistoryCollection, cfg.VectorSize); err != nil {
		slog.Warn("qdrant ensure call history collection failed", "error", err)
	}

	rag := knowledge.NewRAG(knowledge.Config{
		Embedder:       embedder,
		Qdrant:         qdrant,
		Collection:     cfg.RAGCollection,
		TopK:           cfg.RAGTopK,
		ScoreThreshold: cfg.RAGScoreThreshold,
	})
	history := knowledge.NewCallHistory(embedder, qdrant, cfg.CallHistoryCollection)
	slog.Info("knowledge base enabled", "qdrant", cfg.QdrantURL)
	return rag, history
}

func openTraceStore(cfg config) *trace.Store {
	if cfg.PostgresURL == "" {
		return nil
	}
	traceStore, err := trace.Open(cfg.PostgresURL)
	if err != nil {
		slog.Error("trace store open failed", "error", err)
		return nil
	}
	slog.Info("tracing enabled", "postgres", cfg.PostgresURL)
	return traceStore
}

func sweepTTSCache(cache *tts.Cache) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cache.Sweep()
	}
}
