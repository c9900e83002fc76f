package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Gemini     GeminiConfig     `yaml:"gemini" mapstructure:"gemini"`
	Search     SearchConfig     `yaml:"search" mapstructure:"search"`
	Research   ResearchConfig   `yaml:"research" mapstructure:"research"`
	Query      QueryConfig      `yaml:"query" mapstructure:"query"`
	Knowledge  KnowledgeConfig  `yaml:"knowledge" mapstructure:"knowledge"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Compliance ComplianceConfig `yaml:"compliance" mapstructure:"compliance"`
	Mappings   MappingsConfig   `yaml:"mappings" mapstructure:"mappings"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// AnthropicConfig holds Anthropic API settings. Claude is both the
// ownership synthesizer and the compliance-safe verification path.
type AnthropicConfig struct {
	Key            string `yaml:"key" mapstructure:"key"`
	SynthesisModel string `yaml:"synthesis_model" mapstructure:"synthesis_model"`
	VerifierModel  string `yaml:"verifier_model" mapstructure:"verifier_model"`
	MaxTokens      int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs    int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// Timeout returns the Claude call timeout as a duration.
func (c AnthropicConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// GeminiConfig holds settings for the primary verification model.
type GeminiConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	Model       string `yaml:"model" mapstructure:"model"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// Timeout returns the Gemini call timeout as a duration.
func (c GeminiConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// SearchConfig holds Google Custom Search settings.
type SearchConfig struct {
	Key      string `yaml:"key" mapstructure:"key"`
	CSEID    string `yaml:"cse_id" mapstructure:"cse_id"`
	BaseURL  string `yaml:"base_url" mapstructure:"base_url"`
	PerQuery int    `yaml:"results_per_query" mapstructure:"results_per_query"`
}

// ResearchConfig configures the web research agent.
type ResearchConfig struct {
	QueryConcurrency int     `yaml:"query_concurrency" mapstructure:"query_concurrency"`
	QueryTimeoutSecs int     `yaml:"query_timeout_secs" mapstructure:"query_timeout_secs"`
	MaxRetries       int     `yaml:"max_retries" mapstructure:"max_retries"`
	ScrapeTopN       int     `yaml:"scrape_top_n" mapstructure:"scrape_top_n"`
	RateLimitPerSec  float64 `yaml:"rate_limit_per_sec" mapstructure:"rate_limit_per_sec"`
}

// QueryTimeout returns the per-query research timeout as a duration.
func (c ResearchConfig) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutSecs) * time.Second
}

// QueryConfig configures query generation.
type QueryConfig struct {
	MaxQueries int `yaml:"max_queries" mapstructure:"max_queries"`
}

// KnowledgeConfig configures knowledge base retrieval and promotion.
type KnowledgeConfig struct {
	SimilarityThreshold  float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
	PriorMinConfidence   int     `yaml:"prior_min_confidence" mapstructure:"prior_min_confidence"`
	PromoteMinConfidence int     `yaml:"promote_min_confidence" mapstructure:"promote_min_confidence"`
	SearchLimit          int     `yaml:"search_limit" mapstructure:"search_limit"`
}

// PipelineConfig configures orchestration thresholds.
type PipelineConfig struct {
	WebResearchMinConfidence int `yaml:"web_research_min_confidence" mapstructure:"web_research_min_confidence"`
	UnknownConfidenceCeiling int `yaml:"unknown_confidence_ceiling" mapstructure:"unknown_confidence_ceiling"`
	CacheTTLHours            int `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
}

// CacheTTL returns the product cache TTL as a duration.
func (c PipelineConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLHours) * time.Hour
}

// ComplianceConfig configures the compliance classifier.
type ComplianceConfig struct {
	ExtraKeywords []string `yaml:"extra_keywords" mapstructure:"extra_keywords"`
}

// MappingsConfig configures the static ownership mapping resolver.
type MappingsConfig struct {
	File       string `yaml:"file" mapstructure:"file"`
	Confidence int    `yaml:"confidence" mapstructure:"confidence"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("OWNEDBY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "ownership.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.synthesis_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.verifier_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 2000)
	v.SetDefault("anthropic.timeout_secs", 45)
	v.SetDefault("gemini.model", "gemini-1.5-pro")
	v.SetDefault("gemini.base_url", "https://generativelanguage.googleapis.com/v1/models")
	v.SetDefault("gemini.timeout_secs", 45)
	v.SetDefault("search.base_url", "https://www.googleapis.com/customsearch/v1")
	v.SetDefault("search.results_per_query", 5)
	v.SetDefault("research.query_concurrency", 3)
	v.SetDefault("research.query_timeout_secs", 15)
	v.SetDefault("research.max_retries", 1)
	v.SetDefault("research.scrape_top_n", 3)
	v.SetDefault("research.rate_limit_per_sec", 5)
	v.SetDefault("query.max_queries", 8)
	v.SetDefault("knowledge.similarity_threshold", 0.85)
	v.SetDefault("knowledge.prior_min_confidence", 70)
	v.SetDefault("knowledge.promote_min_confidence", 60)
	v.SetDefault("knowledge.search_limit", 5)
	v.SetDefault("pipeline.web_research_min_confidence", 30)
	v.SetDefault("pipeline.unknown_confidence_ceiling", 40)
	v.SetDefault("pipeline.cache_ttl_hours", 720)
	v.SetDefault("mappings.confidence", 95)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
