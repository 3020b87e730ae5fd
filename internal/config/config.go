// Package config loads the RAG core's process configuration from the
// environment, with an optional .env file and an optional YAML topology
// file for non-secret deployment settings.
package config

// AnthropicPromptCacheConfig holds the prompt-caching settings loaded from
// the environment. The LLM Gateway does not read them, so no
// prompt-caching breakpoints are sent to the Anthropic Messages API.
type AnthropicPromptCacheConfig struct {
	Enabled       bool
	CacheSystem   bool
	CacheTools    bool
	CacheMessages bool
}

// AnthropicConfig configures the Anthropic client used by the LLM Gateway
// (C5), which is single-provider per spec.md §4.5.
type AnthropicConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int64
	Timeout     int
	ExtraParams map[string]any
	PromptCache AnthropicPromptCacheConfig
}

// EmbeddingConfig configures the embedding gateway's HTTP client (C3).
type EmbeddingConfig struct {
	Model      string
	BaseURL    string
	Path       string
	APIHeader  string
	APIKey     string
	Timeout    int
	Dimensions int
}

// RerankConfig configures the cross-encoder reranker gateway's HTTP client (C4).
type RerankConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout int
}

// SearchConfig holds the SEARCH_BACKEND/SEARCH_DSN settings. The chunk
// store has no full-text search and does not read them.
type SearchConfig struct {
	Backend string
	DSN     string
}

// VectorConfig selects the vector (ANN) backend for the chunk store.
type VectorConfig struct {
	Backend    string
	DSN        string
	Dimensions int
	Metric     string
}

// DBConfig configures the chunk store (C6).
type DBConfig struct {
	DefaultDSN string
	Search     SearchConfig
	Vector     VectorConfig
}

// ObsConfig configures OpenTelemetry export.
type ObsConfig struct {
	OTLP           string
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// ChunkingConfig controls the hierarchical chunker (C2).
type ChunkingConfig struct {
	SizeTokens    int
	OverlapTokens int
	MinTokens     int
}

// RetrievalConfig controls candidate recall, thresholding and selection (C9).
type RetrievalConfig struct {
	InitialTopK      int
	TopKResults      int
	MaxPerDoc        int
	EnforceDiversity bool
	RerankThreshold  float64
}

// AnswerConfig controls answer composition and groundedness checking (C10).
type AnswerConfig struct {
	TemperatureAnswer float64
	TemperatureExpand float64
	MaxTokens         int
	FuzzyAccept       float64
	StrictCitations   bool
	InputPricePer1M   float64
	OutputPricePer1M  float64
}

// UploadConfig controls the document upload endpoint (§6).
type UploadConfig struct {
	MaxUploadMB       int
	AllowedExtensions []string
}

// Config is the fully resolved process configuration.
type Config struct {
	StoragePath string
	LogLevel    string

	Anthropic AnthropicConfig
	Embedding EmbeddingConfig
	Rerank    RerankConfig
	DB        DBConfig
	Obs       ObsConfig

	Chunking  ChunkingConfig
	Retrieval RetrievalConfig
	Answer    AnswerConfig
	Upload    UploadConfig
}
