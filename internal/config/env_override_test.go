package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvOverrides_LLM(t *testing.T) {
	t.Run("ZAI_API_KEY sets provider if empty", func(t *testing.T) {
		t.Setenv("ZAI_API_KEY", "zai-key")
		// Ensure others are unset
		t.Setenv("OPENAI_API_KEY", "")
		t.Setenv("GEMINI_API_KEY", "")

		cfg := &Config{}
		cfg.applyEnvOverrides()

		assert.Equal(t, "zai-key", cfg.LLM.APIKey)
		assert.Equal(t, "zai", cfg.LLM.Provider)
	})

	t.Run("ZAI_API_KEY does not override existing provider", func(t *testing.T) {
		t.Setenv("ZAI_API_KEY", "zai-key")
		t.Setenv("OPENAI_API_KEY", "")
		t.Setenv("GEMINI_API_KEY", "")

		cfg := &Config{
			LLM: LLMConfig{Provider: "custom"},
		}
		cfg.applyEnvOverrides()

		assert.Equal(t, "zai-key", cfg.LLM.APIKey)
		assert.Equal(t, "custom", cfg.LLM.Provider)
	})

	t.Run("OPENAI_API_KEY overrides provider", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "oa-key")
		t.Setenv("ZAI_API_KEY", "")
		t.Setenv("GEMINI_API_KEY", "")

		cfg := &Config{
			LLM: LLMConfig{Provider: "initial"},
		}
		cfg.applyEnvOverrides()

		assert.Equal(t, "oa-key", cfg.LLM.APIKey)
		assert.Equal(t, "openai", cfg.LLM.Provider)
	})

	t.Run("Precedence: Full Chain", func(t *testing.T) {
		// t.Setenv restores the original value at cleanup rather than
		// unsetting, so each stage sets every key explicitly.

		// 1. All set -> Gemini wins
		t.Run("All Set -> Gemini", func(t *testing.T) {
			setAllLLMKeys(t)
			cfg := &Config{}
			cfg.applyEnvOverrides()
			assert.Equal(t, "gem", cfg.LLM.APIKey)
			assert.Equal(t, "gemini", cfg.LLM.Provider)
		})

		// 2. No Gemini -> OpenAI wins
		t.Run("No Gemini -> OpenAI", func(t *testing.T) {
			setAllLLMKeys(t)
			t.Setenv("GEMINI_API_KEY", "")
			cfg := &Config{}
			cfg.applyEnvOverrides()
			assert.Equal(t, "oa", cfg.LLM.APIKey)
			assert.Equal(t, "openai", cfg.LLM.Provider)
		})

		// 3. No OpenAI -> ZAI wins
		t.Run("No OpenAI -> ZAI", func(t *testing.T) {
			setAllLLMKeys(t)
			t.Setenv("GEMINI_API_KEY", "")
			t.Setenv("OPENAI_API_KEY", "")
			cfg := &Config{}
			cfg.applyEnvOverrides()
			assert.Equal(t, "zai", cfg.LLM.APIKey)
			assert.Equal(t, "zai", cfg.LLM.Provider)
		})
	})
}

func setAllLLMKeys(t *testing.T) {
	t.Setenv("ZAI_API_KEY", "zai")
	t.Setenv("OPENAI_API_KEY", "oa")
	t.Setenv("GEMINI_API_KEY", "gem")
}

func TestEnvOverrides_Database(t *testing.T) {
	t.Run("RESEARCHNERD_DB overrides path", func(t *testing.T) {
		t.Setenv("RESEARCHNERD_DB", "/tmp/research-test.db")

		cfg := &Config{}
		cfg.applyEnvOverrides()

		assert.Equal(t, "/tmp/research-test.db", cfg.Storage.DatabasePath)
	})

	t.Run("Empty RESEARCHNERD_DB keeps configured path", func(t *testing.T) {
		t.Setenv("RESEARCHNERD_DB", "")

		cfg := &Config{
			Storage: StorageConfig{DatabasePath: "custom.db"},
		}
		cfg.applyEnvOverrides()

		assert.Equal(t, "custom.db", cfg.Storage.DatabasePath)
	})
}

func TestEnvOverrides_AppliedOnLoad(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "env-gem-key")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ZAI_API_KEY", "")
	t.Setenv("RESEARCHNERD_DB", "")

	// Load of a missing file still applies env overrides over defaults
	cfg, err := Load(t.TempDir() + "/missing.yaml")
	assert.NoError(t, err)
	assert.Equal(t, "env-gem-key", cfg.LLM.APIKey)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
}
