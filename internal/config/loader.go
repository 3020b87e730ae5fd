package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pterm/pterm"
)

// Load reads an optional .env file (if present) and then builds a Config
// from the environment, falling back to documented defaults and logging
// each fallback via pterm so an operator can see what was assumed; a
// string setting whose default is empty falls back silently.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		pterm.Warning.Printfln("could not load .env file: %v", err)
	}

	cfg := Config{
		StoragePath: envString("STORAGE_PATH", "./data/documents"),
		LogLevel:    envString("LOG_LEVEL", "info"),

		Anthropic: AnthropicConfig{
			APIKey:    envString("ANTHROPIC_API_KEY", ""),
			BaseURL:   envString("ANTHROPIC_BASE_URL", ""),
			Model:     envString("ANTHROPIC_MODEL", "claude-3-5-sonnet-20241022"),
			MaxTokens: int64(envInt("ANTHROPIC_MAX_TOKENS", 4096)),
			Timeout:   envInt("ANTHROPIC_TIMEOUT_SECONDS", 60),
			PromptCache: AnthropicPromptCacheConfig{
				Enabled:       envBool("ANTHROPIC_PROMPT_CACHE_ENABLED", true),
				CacheSystem:   envBool("ANTHROPIC_PROMPT_CACHE_SYSTEM", true),
				CacheTools:    envBool("ANTHROPIC_PROMPT_CACHE_TOOLS", false),
				CacheMessages: envBool("ANTHROPIC_PROMPT_CACHE_MESSAGES", true),
			},
		},

		Embedding: EmbeddingConfig{
			Model:      envString("EMBEDDING_MODEL", "text-embedding-3-small"),
			BaseURL:    envString("EMBEDDING_BASE_URL", "https://api.openai.com"),
			Path:       envString("EMBEDDING_PATH", "/v1/embeddings"),
			APIHeader:  envString("EMBEDDING_API_HEADER", "Authorization"),
			APIKey:     envString("EMBEDDING_API_KEY", ""),
			Timeout:    envInt("EMBEDDING_TIMEOUT_SECONDS", 30),
			Dimensions: envInt("VECTOR_DIM", 1536),
		},

		Rerank: RerankConfig{
			BaseURL: envString("RERANK_BASE_URL", ""),
			APIKey:  envString("RERANK_API_KEY", ""),
			Model:   envString("RERANK_MODEL", ""),
			Timeout: envInt("RERANK_TIMEOUT_SECONDS", 30),
		},

		DB: DBConfig{
			DefaultDSN: envString("DATABASE_URL", ""),
			Search: SearchConfig{
				Backend: envString("SEARCH_BACKEND", "postgres"),
				DSN:     envString("SEARCH_DSN", ""),
			},
			Vector: VectorConfig{
				Backend:    envString("VECTOR_BACKEND", "postgres"),
				DSN:        envString("VECTOR_DSN", ""),
				Dimensions: envInt("VECTOR_DIM", 1536),
				Metric:     envString("VECTOR_METRIC", "cosine"),
			},
		},

		Obs: ObsConfig{
			OTLP:           envString("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			ServiceName:    envString("OTEL_SERVICE_NAME", "rag-regulation-bancaire"),
			ServiceVersion: envString("OTEL_SERVICE_VERSION", "dev"),
			Environment:    envString("OTEL_DEPLOYMENT_ENVIRONMENT", "development"),
		},

		Chunking: ChunkingConfig{
			SizeTokens:    envInt("CHUNK_SIZE_TOKENS", 1200),
			OverlapTokens: envInt("CHUNK_OVERLAP_TOKENS", 300),
			MinTokens:     envInt("CHUNK_MIN_TOKENS", 50),
		},

		Retrieval: RetrievalConfig{
			InitialTopK:      envInt("INITIAL_TOP_K", 50),
			TopKResults:      envInt("TOP_K_RESULTS", 8),
			MaxPerDoc:        envInt("MAX_PER_DOC", 3),
			EnforceDiversity: envBool("ENFORCE_DIVERSITY", true),
			RerankThreshold:  envFloat("RERANK_THRESHOLD", 0.05),
		},

		Answer: AnswerConfig{
			TemperatureAnswer: envFloat("LLM_TEMPERATURE_ANSWER", 0.1),
			TemperatureExpand: envFloat("LLM_TEMPERATURE_EXPAND", 0.7),
			MaxTokens:         envInt("LLM_MAX_TOKENS", 1024),
			FuzzyAccept:       envFloat("FUZZY_ACCEPT", 0.90),
			StrictCitations:   envBool("STRICT_CITATIONS", true),
			InputPricePer1M:   envFloat("LLM_INPUT_PRICE_PER_1M", 3.0),
			OutputPricePer1M:  envFloat("LLM_OUTPUT_PRICE_PER_1M", 15.0),
		},

		Upload: UploadConfig{
			MaxUploadMB:       envInt("MAX_UPLOAD_MB", 50),
			AllowedExtensions: envStringList("ALLOWED_EXTENSIONS", []string{".pdf", ".docx", ".txt", ".md"}),
		},
	}

	if err := ApplyTopologyFile(&cfg); err != nil {
		pterm.Warning.Printfln("could not apply CONFIG_FILE: %v", err)
	}

	return cfg, nil
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		if def != "" {
			pterm.Info.Printfln("%s not set, defaulting to %q", key, def)
		}
		return def
	}
	return v
}

func envStringList(key string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		pterm.Info.Printfln("%s not set, defaulting to %v", key, def)
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		pterm.Info.Printfln("%s not set, defaulting to %d", key, def)
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		pterm.Warning.Printfln("%s=%q is not a valid integer, defaulting to %d", key, v, def)
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		pterm.Info.Printfln("%s not set, defaulting to %g", key, def)
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		pterm.Warning.Printfln("%s=%q is not a valid number, defaulting to %g", key, v, def)
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		pterm.Info.Printfln("%s not set, defaulting to %t", key, def)
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		pterm.Warning.Printfln("%s=%q is not a valid boolean, defaulting to %t", key, v, def)
		return def
	}
	return b
}
