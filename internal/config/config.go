package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Research bound constants. Depth and breadth outside these ranges are
// clamped, never rejected, so a slightly wrong request still produces a
// report.
const (
	MinDepth   = 1
	MaxDepth   = 5
	MinBreadth = 2
	MaxBreadth = 10
)

// Config holds all researchNERD configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// Search engine configuration
	Search SearchConfig `yaml:"search"`

	// Page fetching configuration
	Fetch FetchConfig `yaml:"fetch"`

	// Research loop configuration
	Research ResearchConfig `yaml:"research"`

	// Report synthesis configuration
	Report ReportConfig `yaml:"report"`

	// Session archive configuration
	Storage StorageConfig `yaml:"storage"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the LLM client.
type LLMConfig struct {
	Provider      string `yaml:"provider"` // gemini, openai, zai
	APIKey        string `yaml:"api_key"`
	Model         string `yaml:"model"`
	BaseURL       string `yaml:"base_url"`
	Timeout       string `yaml:"timeout"`
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// SearchConfig configures the search engine adapters.
type SearchConfig struct {
	Engines    []string `yaml:"engines"` // duckduckgo, wikipedia
	MaxResults int      `yaml:"max_results"`
	Timeout    string   `yaml:"timeout"`
	UserAgent  string   `yaml:"user_agent"`
}

// FetchConfig configures page fetching and extraction.
type FetchConfig struct {
	Timeout       string        `yaml:"timeout"`
	MaxRetries    int           `yaml:"max_retries"`
	MaxBodyBytes  int64         `yaml:"max_body_bytes"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	PerHostRate   float64       `yaml:"per_host_rate"` // requests/sec per host
	PerHostBurst  int           `yaml:"per_host_burst"`
	UserAgent     string        `yaml:"user_agent"`
	Browser       BrowserConfig `yaml:"browser"`
}

// BrowserConfig configures the rod-driven fallback for pages that need
// JavaScript rendering. Disabled by default since it requires Chrome.
type BrowserConfig struct {
	Enabled bool   `yaml:"enabled"`
	Timeout string `yaml:"timeout"`
}

// ResearchConfig configures the iterative research loop.
type ResearchConfig struct {
	DefaultDepth           int     `yaml:"default_depth"`
	DefaultBreadth         int     `yaml:"default_breadth"`
	MaxSourcesPerDirection int     `yaml:"max_sources_per_direction"`
	MaxSelectedSources     int     `yaml:"max_selected_sources"`
	RelevanceThreshold     float64 `yaml:"relevance_threshold"`
	CacheTTL               string  `yaml:"cache_ttl"`
	CacheMaxEntries        int     `yaml:"cache_max_entries"`
}

// ReportConfig configures report synthesis.
type ReportConfig struct {
	DetailLevel          string `yaml:"detail_level"` // brief, standard, comprehensive
	MaxSectionExpansions int    `yaml:"max_section_expansions"`
	IncludeAppendix      bool   `yaml:"include_appendix"`
}

// StorageConfig configures the SQLite session archive.
type StorageConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`  // debug, info, warn, error
	Format  string `yaml:"format"` // json, text
	Dir     string `yaml:"dir"`
}

// defaultUserAgent is sent on search and fetch requests. Several engines
// return degraded HTML to unknown agents, so a browser string works best.
const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "researchNERD",
		Version: "0.3.0",

		LLM: LLMConfig{
			Provider:      "gemini",
			Model:         "gemini-2.5-flash",
			Timeout:       "120s",
			MaxRetries:    3,
			MaxConcurrent: 2,
		},

		Search: SearchConfig{
			Engines:    []string{"duckduckgo", "wikipedia"},
			MaxResults: 10,
			Timeout:    "20s",
			UserAgent:  defaultUserAgent,
		},

		Fetch: FetchConfig{
			Timeout:       "30s",
			MaxRetries:    3,
			MaxBodyBytes:  2 * 1024 * 1024,
			MaxConcurrent: 8,
			PerHostRate:   1.0,
			PerHostBurst:  2,
			UserAgent:     defaultUserAgent,
			Browser: BrowserConfig{
				Enabled: false,
				Timeout: "45s",
			},
		},

		Research: ResearchConfig{
			DefaultDepth:           2,
			DefaultBreadth:         4,
			MaxSourcesPerDirection: 5,
			MaxSelectedSources:     25,
			RelevanceThreshold:     0.35,
			CacheTTL:               "1h",
			CacheMaxEntries:        1000,
		},

		Report: ReportConfig{
			DetailLevel:          "standard",
			MaxSectionExpansions: 3,
			IncludeAppendix:      true,
		},

		Storage: StorageConfig{
			Enabled:      true,
			DatabasePath: filepath.Join(".researchnerd", "sessions.db"),
		},

		Logging: LoggingConfig{
			Enabled: false,
			Level:   "info",
			Format:  "text",
			Dir:     filepath.Join(".researchnerd", "logs"),
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// LLM API key from environment (checked lowest to highest priority)
	if key := os.Getenv("ZAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		if c.LLM.Provider == "" {
			c.LLM.Provider = "zai"
		}
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "openai"
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "gemini"
	}

	// Database path from environment
	if path := os.Getenv("RESEARCHNERD_DB"); path != "" {
		c.Storage.DatabasePath = path
	}
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetSearchTimeout returns the search timeout as a duration.
func (c *Config) GetSearchTimeout() time.Duration {
	d, err := time.ParseDuration(c.Search.Timeout)
	if err != nil {
		return 20 * time.Second
	}
	return d
}

// GetFetchTimeout returns the page fetch timeout as a duration.
func (c *Config) GetFetchTimeout() time.Duration {
	d, err := time.ParseDuration(c.Fetch.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetBrowserTimeout returns the browser fallback timeout as a duration.
func (c *Config) GetBrowserTimeout() time.Duration {
	d, err := time.ParseDuration(c.Fetch.Browser.Timeout)
	if err != nil {
		return 45 * time.Second
	}
	return d
}

// GetCacheTTL returns the source cache TTL as a duration.
func (c *Config) GetCacheTTL() time.Duration {
	d, err := time.ParseDuration(c.Research.CacheTTL)
	if err != nil {
		return time.Hour
	}
	return d
}

// ValidProviders lists all supported LLM providers.
var ValidProviders = []string{"gemini", "openai", "zai"}

// ValidDetailLevels lists the supported report detail levels.
var ValidDetailLevels = []string{"brief", "standard", "comprehensive"}

// knownEngines lists the search engines with adapters.
var knownEngines = map[string]bool{
	"duckduckgo": true,
	"wikipedia":  true,
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key not configured (set GEMINI_API_KEY, OPENAI_API_KEY, or ZAI_API_KEY)")
	}

	validProvider := false
	for _, p := range ValidProviders {
		if c.LLM.Provider == p {
			validProvider = true
			break
		}
	}
	if !validProvider {
		return fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
	}

	validDetail := false
	for _, d := range ValidDetailLevels {
		if c.Report.DetailLevel == d {
			validDetail = true
			break
		}
	}
	if !validDetail {
		return fmt.Errorf("invalid detail level: %s (valid: %v)", c.Report.DetailLevel, ValidDetailLevels)
	}

	if len(c.Search.Engines) == 0 {
		return fmt.Errorf("no search engines configured (valid: duckduckgo, wikipedia)")
	}
	for _, e := range c.Search.Engines {
		if !knownEngines[e] {
			return fmt.Errorf("unknown search engine: %s (valid: duckduckgo, wikipedia)", e)
		}
	}

	return nil
}

// ClampResearchBounds clamps depth and breadth into their valid ranges.
// Zero or negative values fall back to the configured defaults. The
// returned bool reports whether either value was adjusted.
func (c *Config) ClampResearchBounds(depth, breadth int) (int, int, bool) {
	adjusted := false

	if depth == 0 {
		depth = c.Research.DefaultDepth
	}
	if breadth == 0 {
		breadth = c.Research.DefaultBreadth
	}

	if depth < MinDepth {
		depth = MinDepth
		adjusted = true
	} else if depth > MaxDepth {
		depth = MaxDepth
		adjusted = true
	}

	if breadth < MinBreadth {
		breadth = MinBreadth
		adjusted = true
	} else if breadth > MaxBreadth {
		breadth = MaxBreadth
		adjusted = true
	}

	return depth, breadth, adjusted
}
