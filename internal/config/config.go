package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// ResearchConfig is the typed view of config/research.yaml. Engine
// tunables the workflow reads go through the GetResearchConfig activity
// so replays stay deterministic.
type ResearchConfig struct {
	Engine        EngineConfig        `mapstructure:"engine"`
	Synthesis     SynthesisConfig     `mapstructure:"synthesis"`
	Visualization VisualizationConfig `mapstructure:"visualization"`
	Safety        SafetyConfig        `mapstructure:"safety"`
	Session       SessionConfig       `mapstructure:"session"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Tracing       TracingConfig       `mapstructure:"tracing"`
}

// EngineConfig controls the retry scheduler.
type EngineConfig struct {
	MaxRetries            int `mapstructure:"max_retries"`
	MaxParallelWorkers    int `mapstructure:"max_parallel_workers"`
	HighPriorityThreshold int `mapstructure:"high_priority_threshold"`
	AgentTimeoutSeconds   int `mapstructure:"agent_timeout_seconds"`
}

// SynthesisConfig controls the response merger, including the
// failure-phrase table used to drop unusable answers.
type SynthesisConfig struct {
	FailurePhrases []string `mapstructure:"failure_phrases"`
	MaxTokens      int      `mapstructure:"max_tokens"`
}

// VisualizationConfig bounds table/graph extraction.
type VisualizationConfig struct {
	MaxTables int `mapstructure:"max_tables"`
	MaxGraphs int `mapstructure:"max_graphs"`
}

// SafetyConfig toggles the pre-decomposition gates. The fields are
// pointers so an absent setting is distinguishable from an explicit
// false: both gates default on and only a literal "false" in the
// config file turns one off.
type SafetyConfig struct {
	Enabled         *bool `mapstructure:"enabled"`
	ExtractMetadata *bool `mapstructure:"extract_metadata"`
}

// GateEnabled reports whether the safety gate runs.
func (s SafetyConfig) GateEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// MetadataEnabled reports whether metadata extraction runs.
func (s SafetyConfig) MetadataEnabled() bool {
	return s.ExtractMetadata == nil || *s.ExtractMetadata
}

// Bool is a convenience for overriding the safety toggles in code.
func Bool(v bool) *bool { return &v }

// SessionConfig controls the Redis session layer.
type SessionConfig struct {
	TTLHours      int `mapstructure:"ttl_hours"`
	MaxHistory    int `mapstructure:"max_history"`
	LocalCacheMax int `mapstructure:"local_cache_max"`
}

// CacheConfig controls the completion cache.
type CacheConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	TTLMinutes int  `mapstructure:"ttl_minutes"`
}

// ObservabilityConfig holds metrics/logging knobs.
type ObservabilityConfig struct {
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`
}

// TracingConfig holds OTLP export knobs.
type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// DefaultFailurePhrases is the built-in answer-failure pattern table;
// research.yaml may override it. Matching is case-insensitive substring.
var DefaultFailurePhrases = []string{
	"unable to answer",
	"not found",
	"no information found",
	"error",
	"failed",
	"could not retrieve",
	"i don't know",
	"http 4",
	"http 5",
}

// ConfigPath resolves the research.yaml location.
func ConfigPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	for _, p := range []string{"config/research.yaml", "../../config/research.yaml"} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return "/app/config/research.yaml"
}

// Load reads research.yaml and applies defaults. A missing file is not
// an error; the defaults alone are a working configuration.
func Load() (*ResearchConfig, error) {
	v := viper.New()
	v.SetConfigFile(ConfigPath())
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if _, statErr := os.Stat(ConfigPath()); statErr == nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg ResearchConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills zero values with the engine defaults.
func (c *ResearchConfig) ApplyDefaults() {
	if c.Engine.MaxRetries == 0 {
		c.Engine.MaxRetries = 5
	}
	if c.Engine.MaxParallelWorkers == 0 {
		c.Engine.MaxParallelWorkers = 4
	}
	if c.Engine.HighPriorityThreshold == 0 {
		c.Engine.HighPriorityThreshold = 8
	}
	if c.Engine.AgentTimeoutSeconds == 0 {
		c.Engine.AgentTimeoutSeconds = 300
	}
	if len(c.Synthesis.FailurePhrases) == 0 {
		c.Synthesis.FailurePhrases = append([]string(nil), DefaultFailurePhrases...)
	}
	if c.Synthesis.MaxTokens == 0 {
		c.Synthesis.MaxTokens = 4096
	}
	if c.Visualization.MaxTables == 0 {
		c.Visualization.MaxTables = 5
	}
	if c.Visualization.MaxGraphs == 0 {
		c.Visualization.MaxGraphs = 3
	}
	if c.Safety.Enabled == nil {
		c.Safety.Enabled = Bool(true)
	}
	if c.Safety.ExtractMetadata == nil {
		c.Safety.ExtractMetadata = Bool(true)
	}
	if c.Session.TTLHours == 0 {
		c.Session.TTLHours = 24
	}
	if c.Session.MaxHistory == 0 {
		c.Session.MaxHistory = 100
	}
	if c.Session.LocalCacheMax == 0 {
		c.Session.LocalCacheMax = 10000
	}
	if c.Cache.TTLMinutes == 0 {
		c.Cache.TTLMinutes = 15
	}
	if c.Observability.Metrics.Port == 0 {
		c.Observability.Metrics.Port = 2112
	}
	if c.Observability.Logging.Level == "" {
		c.Observability.Logging.Level = "info"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "finsight-orchestrator"
	}
}

// SessionTTL returns the session TTL as a duration.
func (c *ResearchConfig) SessionTTL() time.Duration {
	return time.Duration(c.Session.TTLHours) * time.Hour
}

// CacheTTL returns the completion cache TTL as a duration.
func (c *ResearchConfig) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLMinutes) * time.Minute
}

// MetricsPort returns the metrics port honoring a METRICS_PORT override.
func MetricsPort(defaultPort int) int {
	if p := os.Getenv("METRICS_PORT"); p != "" {
		var v int
		_, _ = fmt.Sscanf(p, "%d", &v)
		if v > 0 {
			return v
		}
	}
	if c, err := Load(); err == nil && c.Observability.Metrics.Port > 0 {
		return c.Observability.Metrics.Port
	}
	return defaultPort
}
