package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/liteshelf/bookrec/internal/domain"
)

// Config holds the bookrec service configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Qdrant    QdrantConfig    `yaml:"qdrant"`
	Provider  ProviderConfig  `yaml:"provider"`
	Cache     CacheConfig     `yaml:"cache"`
	Search    SearchConfig    `yaml:"search"`
	Recommend RecommendConfig `yaml:"recommend"`
	Logging   LoggingConfig   `yaml:"logging"`
	// TablesFile optionally overrides the built-in keyword/topic tables.
	TablesFile string `yaml:"tables_file"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// QdrantConfig holds vector database connection settings.
type QdrantConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	APIKey         string `yaml:"api_key"`
	UseTLS         bool   `yaml:"use_tls"`
	TagsCollection string `yaml:"tags_collection"`
	DescCollection string `yaml:"desc_collection"`
	VectorDim      int    `yaml:"vector_dim"`
	TimeoutSec     int    `yaml:"timeout_sec"`
}

// ProviderConfig holds the embedding/LLM provider settings
// (any OpenAI-compatible endpoint: Ollama /v1, hosted NLU services).
type ProviderConfig struct {
	APIKey            string `yaml:"api_key"`
	BaseURL           string `yaml:"base_url"`
	EmbeddingModel    string `yaml:"embedding_model"`
	ChatModel         string `yaml:"chat_model"`
	EmbedTimeoutSec   int    `yaml:"embed_timeout_sec"`
	AnalyzeTimeoutSec int    `yaml:"analyze_timeout_sec"`
}

// CacheConfig holds embedding cache capacity policy.
type CacheConfig struct {
	SoftCap           int     `yaml:"soft_cap"`
	HardCap           int     `yaml:"hard_cap"`
	CleanupRatio      float64 `yaml:"cleanup_ratio"`
	HighFreqThreshold int64   `yaml:"high_freq_threshold"`
	HeapPressureRatio float64 `yaml:"heap_pressure_ratio"`
	PressureCheckOps  uint64  `yaml:"pressure_check_ops"`
}

// SearchConfig holds vector-store search settings.
type SearchConfig struct {
	ResultCacheSize   int     `yaml:"result_cache_size"`
	ResultCacheTTLSec int     `yaml:"result_cache_ttl_sec"`
	IDChunkSize       int     `yaml:"id_chunk_size"`
	BaseThreshold     float64 `yaml:"base_threshold"`
	RelaxedThreshold  float64 `yaml:"relaxed_threshold"`
}

// TagSemanticConfig gates the expensive tag-embedding similarity refinement.
// The floors and the call cap differ across deployments; they are tunables,
// not constants.
type TagSemanticConfig struct {
	ExactRatioFloor   float64 `yaml:"exact_ratio_floor"`
	ExactRatioCeiling float64 `yaml:"exact_ratio_ceiling"`
	BaseScoreFloor    float64 `yaml:"base_score_floor"`
	MaxCallsPerQuery  int     `yaml:"max_calls_per_query"`
}

// RecommendConfig holds orchestrator tunables.
type RecommendConfig struct {
	TagSearchLimit    int               `yaml:"tag_search_limit"`
	FilteredMinHits   int               `yaml:"filtered_min_hits"`
	RescoreTopN       int               `yaml:"rescore_top_n"`
	FinalLimit        int               `yaml:"final_limit"`
	TagWeight         float64           `yaml:"tag_weight"`
	DescWeight        float64           `yaml:"desc_weight"`
	TagSemanticWeight float64           `yaml:"tag_semantic_weight"`
	TagSemantic       TagSemanticConfig `yaml:"tag_semantic"`
	LLMRerank         bool              `yaml:"llm_rerank"`
	RerankTopN        int               `yaml:"rerank_top_n"`
	RerankMinScore    float64           `yaml:"rerank_min_score"`
	ParallelAnalyze   bool              `yaml:"parallel_analyze"`
	DefaultLanguage   string            `yaml:"default_language"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// LoadTables returns the static lookup tables, merged with the optional
// override file so deployments can swap catalog vocabulary without a rebuild.
func (c *Config) LoadTables() (domain.StaticTables, error) {
	tables := domain.DefaultTables()
	if c.TablesFile == "" {
		return tables, nil
	}

	data, err := os.ReadFile(filepath.Clean(c.TablesFile))
	if err != nil {
		return domain.StaticTables{}, fmt.Errorf("failed to read tables %s: %w", c.TablesFile, err)
	}

	var override domain.StaticTables
	if err := yaml.Unmarshal(data, &override); err != nil {
		return domain.StaticTables{}, fmt.Errorf("failed to parse tables: %w", err)
	}

	if len(override.TagSentences) > 0 {
		tables.TagSentences = override.TagSentences
	}
	if len(override.KeywordTags) > 0 {
		tables.KeywordTags = override.KeywordTags
	}
	if len(override.TopicExpansions) > 0 {
		tables.TopicExpansions = override.TopicExpansions
	}
	if len(override.SearchIntentKeywords) > 0 {
		tables.SearchIntentKeywords = override.SearchIntentKeywords
	}
	if len(override.VagueReferents) > 0 {
		tables.VagueReferents = override.VagueReferents
	}
	return tables, nil
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 35
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Qdrant.Host == "" {
		c.Qdrant.Host = "localhost"
	}
	if c.Qdrant.Port <= 0 {
		c.Qdrant.Port = 6334
	}
	if c.Qdrant.TagsCollection == "" {
		c.Qdrant.TagsCollection = "tags_vecs"
	}
	if c.Qdrant.DescCollection == "" {
		c.Qdrant.DescCollection = "desc_vecs"
	}
	if c.Qdrant.VectorDim <= 0 {
		c.Qdrant.VectorDim = domain.VectorDimensions
	}
	if c.Qdrant.TimeoutSec <= 0 {
		c.Qdrant.TimeoutSec = 10
	}
	if c.Provider.EmbedTimeoutSec <= 0 {
		c.Provider.EmbedTimeoutSec = 30
	}
	if c.Provider.AnalyzeTimeoutSec <= 0 {
		c.Provider.AnalyzeTimeoutSec = 3
	}
	if c.Cache.SoftCap <= 0 {
		c.Cache.SoftCap = 8000
	}
	if c.Cache.HardCap <= 0 {
		c.Cache.HardCap = 10000
	}
	if c.Cache.CleanupRatio <= 0 {
		c.Cache.CleanupRatio = 0.2
	}
	if c.Cache.HighFreqThreshold <= 0 {
		c.Cache.HighFreqThreshold = 10
	}
	if c.Cache.HeapPressureRatio <= 0 {
		c.Cache.HeapPressureRatio = 0.7
	}
	if c.Cache.PressureCheckOps == 0 {
		c.Cache.PressureCheckOps = 1000
	}
	if c.Search.ResultCacheSize <= 0 {
		c.Search.ResultCacheSize = 100
	}
	if c.Search.ResultCacheTTLSec <= 0 {
		c.Search.ResultCacheTTLSec = 300
	}
	if c.Search.IDChunkSize <= 0 {
		c.Search.IDChunkSize = 100
	}
	if c.Search.BaseThreshold <= 0 {
		c.Search.BaseThreshold = 0.5
	}
	if c.Search.RelaxedThreshold <= 0 {
		c.Search.RelaxedThreshold = 0.3
	}
	if c.Recommend.TagSearchLimit <= 0 {
		c.Recommend.TagSearchLimit = 50
	}
	if c.Recommend.FilteredMinHits <= 0 {
		c.Recommend.FilteredMinHits = 10
	}
	if c.Recommend.RescoreTopN <= 0 {
		c.Recommend.RescoreTopN = 20
	}
	if c.Recommend.FinalLimit <= 0 {
		c.Recommend.FinalLimit = 5
	}
	if c.Recommend.TagWeight == 0 && c.Recommend.DescWeight == 0 && c.Recommend.TagSemanticWeight == 0 {
		c.Recommend.TagWeight = 0.15
		c.Recommend.DescWeight = 0.70
		c.Recommend.TagSemanticWeight = 0.15
	}
	ts := &c.Recommend.TagSemantic
	if ts.ExactRatioFloor <= 0 {
		ts.ExactRatioFloor = 0.25
	}
	if ts.ExactRatioCeiling <= 0 {
		ts.ExactRatioCeiling = 0.8
	}
	if ts.BaseScoreFloor <= 0 {
		ts.BaseScoreFloor = 0.6
	}
	if ts.MaxCallsPerQuery <= 0 {
		ts.MaxCallsPerQuery = 10
	}
	if c.Recommend.RerankTopN <= 0 {
		c.Recommend.RerankTopN = 12
	}
	if c.Recommend.RerankMinScore <= 0 {
		c.Recommend.RerankMinScore = 0.3
	}
	if c.Recommend.DefaultLanguage == "" {
		c.Recommend.DefaultLanguage = "中文"
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.Provider.BaseURL == "" {
		return fmt.Errorf("provider.base_url is required")
	}
	if c.Provider.EmbeddingModel == "" {
		return fmt.Errorf("provider.embedding_model is required")
	}
	if c.Qdrant.VectorDim != domain.VectorDimensions {
		return fmt.Errorf("qdrant.vector_dim must be %d, got %d",
			domain.VectorDimensions, c.Qdrant.VectorDim)
	}
	if c.Cache.SoftCap >= c.Cache.HardCap {
		return fmt.Errorf("cache.soft_cap (%d) must be below cache.hard_cap (%d)",
			c.Cache.SoftCap, c.Cache.HardCap)
	}
	w := c.Recommend
	if w.TagWeight < 0 || w.DescWeight < 0 || w.TagSemanticWeight < 0 {
		return fmt.Errorf("recommend score weights must be non-negative")
	}
	if w.TagWeight+w.DescWeight+w.TagSemanticWeight <= 0 {
		return fmt.Errorf("recommend score weights must sum to a positive value")
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
