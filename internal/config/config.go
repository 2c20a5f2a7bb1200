// Package config resolves memoryd's settings from environment variables,
// the on-disk settings file, and built-in defaults.
package config

// DBConfig selects and configures the full-text and vector backends (C1/C2).
type DBConfig struct {
	DefaultDSN string       `yaml:"defaultDsn" json:"defaultDsn"`
	Search     SearchConfig `yaml:"search" json:"search"`
	Vector     VectorConfig `yaml:"vector" json:"vector"`
}

// SearchConfig configures the FullTextSearch backend.
type SearchConfig struct {
	Backend string `yaml:"backend" json:"backend"` // memory|auto|postgres|none
	DSN     string `yaml:"dsn" json:"dsn"`
}

// VectorConfig configures the VectorStore backend.
type VectorConfig struct {
	Backend    string `yaml:"backend" json:"backend"` // memory|auto|postgres|qdrant|none
	DSN        string `yaml:"dsn" json:"dsn"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	Metric     string `yaml:"metric" json:"metric"` // cosine|l2|ip
	Collection string `yaml:"collection" json:"collection"`
}

// AnthropicConfig configures the hosted-chat Agent provider (C5).
type AnthropicConfig struct {
	APIKey  string `yaml:"apiKey" json:"apiKey"`
	BaseURL string `yaml:"baseUrl" json:"baseUrl"`
	Model   string `yaml:"model" json:"model"`
}

// LocalHTTPConfig configures the local-HTTP Agent provider (C5).
type LocalHTTPConfig struct {
	BaseURL      string         `yaml:"baseUrl" json:"baseUrl"`
	Model        string         `yaml:"model" json:"model"`
	ContextSize  int            `yaml:"contextSize" json:"contextSize"`
	Temperature  float64        `yaml:"temperature" json:"temperature"`
	TimeoutMs    int            `yaml:"timeoutMs" json:"timeoutMs"`
	ExtraOptions map[string]any `yaml:"extraOptions" json:"extraOptions"`
}

// CLIProviderConfig configures the CLI-subprocess Agent provider (C5).
type CLIProviderConfig struct {
	Binary          string   `yaml:"binary" json:"binary"`
	Args            []string `yaml:"args" json:"args"`
	ReasoningEffort string   `yaml:"reasoningEffort" json:"reasoningEffort"`
	TimeoutMs       int      `yaml:"timeoutMs" json:"timeoutMs"`
	OSSBridge       bool     `yaml:"ossBridge" json:"ossBridge"`
	BridgeHostURL   string   `yaml:"bridgeHostUrl" json:"bridgeHostUrl"`
}

// EmbeddingConfig configures the embedding client used to populate the
// VectorIndex (C2) for observations, summaries and prompts.
type EmbeddingConfig struct {
	Model     string `yaml:"model" json:"model"`
	BaseURL   string `yaml:"baseUrl" json:"baseUrl"`
	Path      string `yaml:"path" json:"path"`
	APIHeader string `yaml:"apiHeader" json:"apiHeader"`
	APIKey    string `yaml:"apiKey" json:"apiKey"`
	Timeout   int    `yaml:"timeoutSeconds" json:"timeoutSeconds"`
}

// ObsConfig configures the OpenTelemetry tracing/metrics exporters.
type ObsConfig struct {
	OTLP           string `yaml:"otlpEndpoint" json:"otlpEndpoint"`
	ServiceName    string `yaml:"serviceName" json:"serviceName"`
	ServiceVersion string `yaml:"serviceVersion" json:"serviceVersion"`
	Environment    string `yaml:"environment" json:"environment"`
}

// ContextAssemblyConfig tunes how much memory the agent injects per turn.
type ContextAssemblyConfig struct {
	ObservationCount   int      `yaml:"observationCount" json:"observationCount"`
	IncludeLastSummary bool     `yaml:"includeLastSummary" json:"includeLastSummary"`
	IncludeLastMessage bool     `yaml:"includeLastMessage" json:"includeLastMessage"`
	ObservationTypes   []string `yaml:"observationTypes" json:"observationTypes"`
	Concepts           []string `yaml:"concepts" json:"concepts"`
}

// SchedulerConfig bounds Scheduler (C4) concurrency.
type SchedulerConfig struct {
	MaxConcurrentSessions int `yaml:"maxConcurrentSessions" json:"maxConcurrentSessions"`
	MaxPendingPerSession  int `yaml:"maxPendingPerSession" json:"maxPendingPerSession"`
}

// IngestionConfig configures the IngestionEngine (C6), including its
// optional Redis-backed dedupe cache (spec.md §9 open question).
type IngestionConfig struct {
	RedisURL    string `yaml:"redisUrl" json:"redisUrl"`
	DedupeTTLMs int    `yaml:"dedupeTtlMs" json:"dedupeTtlMs"`
}

// Config is memoryd's fully resolved process configuration.
type Config struct {
	DataDir         string                `yaml:"dataDir" json:"dataDir"`
	Host            string                `yaml:"host" json:"host"`
	Port            int                   `yaml:"port" json:"port"`
	Provider        string                `yaml:"provider" json:"provider"` // anthropic|local-http|cli
	FallbackPolicy  string                `yaml:"fallbackPolicy" json:"fallbackPolicy"` // auto|off|codex|sdk
	DB              DBConfig              `yaml:"db" json:"db"`
	Anthropic       AnthropicConfig       `yaml:"anthropic" json:"anthropic"`
	LocalHTTP       LocalHTTPConfig       `yaml:"localHttp" json:"localHttp"`
	CLI             CLIProviderConfig     `yaml:"cli" json:"cli"`
	Embedding       EmbeddingConfig       `yaml:"embedding" json:"embedding"`
	Obs             ObsConfig             `yaml:"obs" json:"obs"`
	ContextAssembly ContextAssemblyConfig `yaml:"contextAssembly" json:"contextAssembly"`
	Scheduler       SchedulerConfig       `yaml:"scheduler" json:"scheduler"`
	Ingestion       IngestionConfig       `yaml:"ingestion" json:"ingestion"`
	RateLimits      map[string]int        `yaml:"rateLimitsRpm" json:"rateLimitsRpm"` // model -> requests/minute
	ModeName        string                `yaml:"mode" json:"mode"`
}

// Default returns the configuration used when no settings file or
// environment overrides are present. It matches the shape a fresh local
// install would start with: memory-backed store, no provider credentials.
func Default() Config {
	return Config{
		DataDir:        DefaultDataDir(),
		Host:           "127.0.0.1",
		Port:           37777,
		Provider:       "anthropic",
		FallbackPolicy: "auto",
		DB: DBConfig{
			Search: SearchConfig{Backend: "memory"},
			Vector: VectorConfig{Backend: "memory", Dimensions: 1536, Metric: "cosine"},
		},
		Anthropic: AnthropicConfig{Model: "claude-3-7-sonnet-latest"},
		LocalHTTP: LocalHTTPConfig{ContextSize: 8192, Temperature: 0.2, TimeoutMs: 60_000},
		CLI:       CLIProviderConfig{Binary: "codex", TimeoutMs: 120_000},
		Embedding: EmbeddingConfig{Path: "/v1/embeddings", APIHeader: "Authorization", Timeout: 30},
		ContextAssembly: ContextAssemblyConfig{
			ObservationCount:   8,
			IncludeLastSummary: true,
			IncludeLastMessage: true,
		},
		Scheduler:  SchedulerConfig{MaxConcurrentSessions: 4, MaxPendingPerSession: 3},
		Ingestion:  IngestionConfig{DedupeTTLMs: 24 * 60 * 60 * 1000},
		RateLimits: map[string]int{},
		ModeName:   "default",
	}
}
