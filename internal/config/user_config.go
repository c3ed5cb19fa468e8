package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// UserConfig holds user-specific settings from .researchnerd/config.json.
//
// Supported models by provider:
//   - gemini: gemini-2.5-flash (default), gemini-2.5-pro
//   - openai: gpt-4o (default), gpt-4o-mini
//   - zai:    glm-4.6 (default)
type UserConfig struct {
	// Provider selection (gemini, openai, zai)
	Provider string `json:"provider,omitempty"`

	// API keys for each provider
	APIKey       string `json:"api_key,omitempty"`        // Legacy: single key
	GeminiAPIKey string `json:"gemini_api_key,omitempty"` // Google Gemini
	OpenAIAPIKey string `json:"openai_api_key,omitempty"` // OpenAI
	ZAIAPIKey    string `json:"zai_api_key,omitempty"`    // Z.AI

	// Optional model override (see supported models above)
	Model string `json:"model,omitempty"`

	// Default report detail level (brief, standard, comprehensive)
	DetailLevel string `json:"detail_level,omitempty"`

	// Glamour style for terminal report rendering ("dark", "light", "notty")
	Theme string `json:"theme,omitempty"`

	// Logging overrides
	Logging *LoggingConfig `json:"logging,omitempty"`
}

// defaultModels maps each provider to its default model.
var defaultModels = map[string]string{
	"gemini": "gemini-2.5-flash",
	"openai": "gpt-4o",
	"zai":    "glm-4.6",
}

// DefaultUserConfigPath returns the default path to .researchnerd/config.json.
func DefaultUserConfigPath() string {
	root, err := FindWorkspaceRoot()
	if err != nil {
		return filepath.Join(".researchnerd", "config.json")
	}
	return filepath.Join(root, ".researchnerd", "config.json")
}

// FindWorkspaceRoot attempts to find the project root by looking for
// .researchnerd or go.mod. If not found, returns the current working
// directory.
func FindWorkspaceRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	originalDir := dir
	for {
		if _, err := os.Stat(filepath.Join(dir, ".researchnerd")); err == nil {
			return dir, nil
		}
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return originalDir, nil
}

// LoadUserConfig loads configuration from .researchnerd/config.json.
func LoadUserConfig(path string) (*UserConfig, error) {
	cfg := &UserConfig{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return empty config if file doesn't exist
		}
		return nil, fmt.Errorf("failed to read user config: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse user config: %w", err)
	}

	return cfg, nil
}

// Save saves configuration to .researchnerd/config.json.
func (c *UserConfig) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal user config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write user config: %w", err)
	}

	return nil
}

// GetActiveProvider returns the provider and API key to use.
// Priority: explicit provider setting > first available key
func (c *UserConfig) GetActiveProvider() (provider string, apiKey string) {
	// If provider is explicitly set, use that provider's key
	if c.Provider != "" {
		switch c.Provider {
		case "gemini":
			if c.GeminiAPIKey != "" {
				return "gemini", c.GeminiAPIKey
			}
		case "openai":
			if c.OpenAIAPIKey != "" {
				return "openai", c.OpenAIAPIKey
			}
		case "zai":
			if c.ZAIAPIKey != "" {
				return "zai", c.ZAIAPIKey
			}
		}
	}

	// Check for provider-specific keys in priority order
	if c.GeminiAPIKey != "" {
		return "gemini", c.GeminiAPIKey
	}
	if c.OpenAIAPIKey != "" {
		return "openai", c.OpenAIAPIKey
	}
	if c.ZAIAPIKey != "" {
		return "zai", c.ZAIAPIKey
	}

	// Legacy: single api_key field (assume gemini)
	if c.APIKey != "" {
		return "gemini", c.APIKey
	}

	return "", ""
}

// GetModel returns the model to use: the explicit override if set,
// otherwise the active provider's default.
func (c *UserConfig) GetModel() string {
	if c.Model != "" {
		return c.Model
	}
	provider, _ := c.GetActiveProvider()
	if m, ok := defaultModels[provider]; ok {
		return m
	}
	return defaultModels["gemini"]
}

// GetDetailLevel returns the detail level with a default.
func (c *UserConfig) GetDetailLevel() string {
	if c.DetailLevel != "" {
		return c.DetailLevel
	}
	return "standard"
}

// GetTheme returns the glamour theme with a default.
func (c *UserConfig) GetTheme() string {
	if c.Theme != "" {
		return c.Theme
	}
	return "dark"
}

// GetLogging returns logging settings with defaults.
func (c *UserConfig) GetLogging() LoggingConfig {
	if c.Logging != nil {
		cfg := *c.Logging
		if cfg.Level == "" {
			cfg.Level = "info"
		}
		if cfg.Format == "" {
			cfg.Format = "text"
		}
		if cfg.Dir == "" {
			cfg.Dir = filepath.Join(".researchnerd", "logs")
		}
		return cfg
	}
	return LoggingConfig{
		Enabled: false,
		Level:   "info",
		Format:  "text",
		Dir:     filepath.Join(".researchnerd", "logs"),
	}
}

// DefaultUserConfig returns a UserConfig with sensible defaults.
func DefaultUserConfig() *UserConfig {
	return &UserConfig{
		Provider:    "gemini",
		Model:       "gemini-2.5-flash",
		DetailLevel: "standard",
		Theme:       "dark",
	}
}

// GlobalConfig is a convenience function to load config from the default path.
// Returns an empty config if the file doesn't exist.
func GlobalConfig() (*UserConfig, error) {
	return LoadUserConfig(DefaultUserConfigPath())
}

// Apply merges user settings into a Config, with user settings winning.
func (c *UserConfig) Apply(cfg *Config) {
	if provider, key := c.GetActiveProvider(); provider != "" {
		cfg.LLM.Provider = provider
		cfg.LLM.APIKey = key
		cfg.LLM.Model = c.GetModel()
	} else if c.Model != "" {
		cfg.LLM.Model = c.Model
	}
	if c.DetailLevel != "" {
		cfg.Report.DetailLevel = c.DetailLevel
	}
	if c.Logging != nil {
		cfg.Logging = c.GetLogging()
	}
}
