package main

import (
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/vce-gateway/gateway/internal/audio"
	"github.com/vce-gateway/gateway/internal/chunker"
	"github.com/vce-gateway/gateway/internal/env"
)

// config bundles every knob the gateway needs at startup. Deployment facts
// (URLs, keys, paths) come from env vars; tunable knobs can be overridden by
// gateway.json so they don't require a redeploy to change.
type config struct {
	Port string

	OllamaURL       string
	OllamaModel     string
	OpenAIAPIKey    string
	OpenAIURL       string
	OpenAIModel     string
	AnthropicAPIKey string
	AnthropicURL    string
	AnthropicModel  string
	LLMMaxTokens    int
	LLMCacheDepth   int

	WhisperServerURL  string
	WhisperControlURL string

	PiperURL         string
	TTSCacheMaxSize  int
	TTSCacheTTL      time.Duration
	TTSReaderTimeout time.Duration

	VAD audio.VADConfig

	PoolCapacity   int
	ASRPoolSize    int
	TTSPoolSize    int
	LLMPoolSize    int
	ConnCapacity   int
	HeartbeatEvery time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SQLitePath    string

	QdrantURL             string
	QdrantPoolSize        int
	EmbeddingModel        string
	VectorSize            int
	RAGCollection         string
	RAGTopK               int
	RAGScoreThreshold     float64
	CallHistoryCollection string

	PostgresURL string

	MusicCatalogURL string
	NewsAPIKey      string
	NewsBaseURL     string
	NewsLanguage    string
	NewsCountry     string
	WeatherAppID    string
	WeatherBaseURL  string

	DenoiseEnabled  bool
	DefaultLanguage chunker.Language
}

// tuning holds the subset of knobs a gateway.json override file may replace.
// Values not present in the file keep their env/default value.
type tuning struct {
	LLMMaxTokens      *int     `json:"llm_max_tokens"`
	ASRPoolSize       *int     `json:"asr_pool_size"`
	LLMPoolSize       *int     `json:"llm_pool_size"`
	TTSPoolSize       *int     `json:"tts_pool_size"`
	VADThresholdDB    *float64 `json:"vad_static_threshold_db"`
	RAGTopK           *int     `json:"rag_top_k"`
	RAGScoreThreshold *float64 `json:"rag_score_threshold"`
}

// loadConfig reads deployment facts from the environment and layers
// gateway.json tuning overrides, if present, on top.
func loadConfig(tuningPath string) config {
	vad := audio.DefaultVADConfig()
	vad.Aggressiveness = env.Int("VAD_AGGRESSIVENESS", vad.Aggressiveness)
	vad.StaticThresholdDB = env.Float("VAD_STATIC_THRESHOLD_DB", vad.StaticThresholdDB)
	vad.CalibrationFrames = env.Int("VAD_CALIBRATION_FRAMES", vad.CalibrationFrames)

	cfg := config{
		Port: env.Str("GATEWAY_PORT", "8000"),

		OllamaURL:       env.Str("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:     env.Str("OLLAMA_MODEL", "llama3.2:3b"),
		OpenAIAPIKey:    env.Str("OPENAI_API_KEY", ""),
		OpenAIURL:       env.Str("OPENAI_URL", "https://api.openai.com"),
		OpenAIModel:     env.Str("OPENAI_MODEL", "gpt-4.1-nano"),
		AnthropicAPIKey: env.Str("ANTHROPIC_API_KEY", ""),
		AnthropicURL:    env.Str("ANTHROPIC_URL", "https://api.anthropic.com"),
		AnthropicModel:  env.Str("ANTHROPIC_MODEL", "claude-sonnet-4-5"),
		LLMMaxTokens:    env.Int("LLM_MAX_TOKENS", 2048),
		LLMCacheDepth:   env.Int("LLM_CACHE_DEPTH", 3),

		WhisperServerURL:  env.Str("WHISPER_SERVER_URL", ""),
		WhisperControlURL: env.Str("WHISPER_CONTROL_URL", ""),

		PiperURL:         env.Str("PIPER_URL", "http://localhost:5100"),
		TTSCacheMaxSize:  env.Int("TTS_CACHE_MAXSIZE", 10),
		TTSCacheTTL:      time.Duration(env.Int("TTS_CACHE_TTL_SECONDS", 3600)) * time.Second,
		TTSReaderTimeout: time.Duration(env.Int("TTS_READER_TIMEOUT_SECONDS", 30)) * time.Second,

		VAD: vad,

		PoolCapacity:   env.Int("RESOURCE_POOL_CAPACITY", 1000),
		ASRPoolSize:    env.Int("ASR_POOL_SIZE", 50),
		TTSPoolSize:    env.Int("TTS_POOL_SIZE", 50),
		LLMPoolSize:    env.Int("LLM_POOL_SIZE", 50),
		ConnCapacity:   env.Int("CONNECTION_POOL_CAPACITY", 1000),
		HeartbeatEvery: time.Duration(env.Int("GATEWAY_HEARTBEAT_SECONDS", 30)) * time.Second,

		RedisAddr:     env.Str("REDIS_ADDR", ""),
		RedisPassword: env.Str("REDIS_PASSWORD", ""),
		RedisDB:       env.Int("REDIS_DB", 0),
		SQLitePath:    env.Str("SQLITE_STORE_PATH", "gateway-store.db"),

		QdrantURL:             env.Str("QDRANT_URL", ""),
		QdrantPoolSize:        env.Int("QDRANT_POOL_SIZE", 10),
		EmbeddingModel:        env.Str("EMBEDDING_MODEL", "nomic-embed-text"),
		VectorSize:            env.Int("VECTOR_SIZE", 768),
		RAGCollection:         env.Str("RAG_COLLECTION", "knowledge_base"),
		RAGTopK:               env.Int("RAG_TOP_K", 3),
		RAGScoreThreshold:     env.Float("RAG_SCORE_THRESHOLD", 0.7),
		CallHistoryCollection: env.Str("CALL_HISTORY_COLLECTION", "call_history"),

		PostgresURL: env.Str("POSTGRES_URL", ""),

		MusicCatalogURL: env.Str("MUSIC_CATALOG_URL", ""),
		NewsAPIKey:      env.Str("NEWS_API_KEY", ""),
		NewsBaseURL:     env.Str("NEWS_API_URL", "https://newsapi.org/v2"),
		NewsLanguage:    env.Str("NEWS_LANGUAGE", "en"),
		NewsCountry:     env.Str("NEWS_COUNTRY", "us"),
		WeatherAppID:    env.Str("OPENWEATHERMAP_APP_ID", ""),
		WeatherBaseURL:  env.Str("OPENWEATHERMAP_URL", "https://api.openweathermap.org/data/2.5"),

		DenoiseEnabled:  env.Bool("DENOISE_ENABLED", false),
		DefaultLanguage: chunker.Language(env.Str("DEFAULT_LANGUAGE", string(chunker.English))),
	}

	applyTuningFile(&cfg, tuningPath)
	return cfg
}

// applyTuningFile overlays gateway.json on cfg, if the file is present.
func applyTuningFile(cfg *config, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Info("no tuning file, using env/defaults", "path", path)
		return
	}
	var t tuning
	if err = json.Unmarshal(data, &t); err != nil {
		slog.Warn("bad tuning file, ignoring", "path", path, "error", err)
		return
	}
	if t.LLMMaxTokens != nil {
		cfg.LLMMaxTokens = *t.LLMMaxTokens
	}
	if t.ASRPoolSize != nil {
		cfg.ASRPoolSize = *t.ASRPoolSize
	}
	if t.LLMPoolSize != nil {
		cfg.LLMPoolSize = *t.LLMPoolSize
	}
	if t.TTSPoolSize != nil {
		cfg.TTSPoolSize = *t.TTSPoolSize
	}
	if t.VADThresholdDB != nil {
		cfg.VAD.StaticThresholdDB = *t.VADThresholdDB
	}
	if t.RAGTopK != nil {
		cfg.RAGTopK = *t.RAGTopK
	}
	if t.RAGScoreThreshold != nil {
		cfg.RAGScoreThreshold = *t.RAGScoreThreshold
	}
	slog.Info("loaded tuning overrides", "path", path)
}
