package config

import (
	"os"
	"path/filepath"
	"testing"
)

func clearLLMEnv(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ZAI_API_KEY", "")
	t.Setenv("RESEARCHNERD_DB", "")
}

// =============================================================================
// UNIFIED CONFIG TESTS
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Name != "researchNERD" {
		t.Errorf("expected Name=researchNERD, got %s", cfg.Name)
	}
	if cfg.LLM.Provider != "gemini" {
		t.Errorf("expected Provider=gemini, got %s", cfg.LLM.Provider)
	}
	if cfg.Research.DefaultDepth != 2 {
		t.Errorf("expected DefaultDepth=2, got %d", cfg.Research.DefaultDepth)
	}
	if cfg.Research.DefaultBreadth != 4 {
		t.Errorf("expected DefaultBreadth=4, got %d", cfg.Research.DefaultBreadth)
	}
	if len(cfg.Search.Engines) != 2 {
		t.Errorf("expected 2 default engines, got %v", cfg.Search.Engines)
	}
	if cfg.Fetch.MaxBodyBytes != 2*1024*1024 {
		t.Errorf("expected 2MB body cap, got %d", cfg.Fetch.MaxBodyBytes)
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	// Ensure no env vars interfere
	clearLLMEnv(t)

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")

	cfg := DefaultConfig()
	cfg.LLM.Provider = "openai"
	cfg.LLM.APIKey = "sk-test"
	cfg.Research.DefaultDepth = 3

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.LLM.Provider != "openai" {
		t.Errorf("expected Provider=openai, got %s", loaded.LLM.Provider)
	}
	if loaded.LLM.APIKey != "sk-test" {
		t.Errorf("expected APIKey=sk-test, got %s", loaded.LLM.APIKey)
	}
	if loaded.Research.DefaultDepth != 3 {
		t.Errorf("expected DefaultDepth=3, got %d", loaded.Research.DefaultDepth)
	}
	// Untouched fields keep defaults
	if loaded.Research.DefaultBreadth != 4 {
		t.Errorf("expected DefaultBreadth=4 preserved, got %d", loaded.Research.DefaultBreadth)
	}
}

func TestConfig_LoadMissingFile(t *testing.T) {
	clearLLMEnv(t)

	loaded, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load of missing file should return defaults, got error: %v", err)
	}
	if loaded.Name != "researchNERD" {
		t.Errorf("expected default config, got Name=%s", loaded.Name)
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	// Default has no API key
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for missing API key")
	}

	cfg.LLM.APIKey = "test-key"
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got error: %v", err)
	}

	cfg.LLM.Provider = "invalid-provider"
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for invalid provider")
	}
	cfg.LLM.Provider = "gemini"

	cfg.Report.DetailLevel = "novel"
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for invalid detail level")
	}
	cfg.Report.DetailLevel = "brief"

	cfg.Search.Engines = []string{"altavista"}
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for unknown engine")
	}

	cfg.Search.Engines = nil
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for empty engines")
	}
}

func TestConfig_Helpers(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.GetLLMTimeout() == 0 {
		t.Error("GetLLMTimeout should return non-zero duration")
	}
	if cfg.GetSearchTimeout() == 0 {
		t.Error("GetSearchTimeout should return non-zero duration")
	}
	if cfg.GetFetchTimeout() == 0 {
		t.Error("GetFetchTimeout should return non-zero duration")
	}

	// Unparseable durations fall back to defaults
	cfg.LLM.Timeout = "bogus"
	if got := cfg.GetLLMTimeout().Seconds(); got != 120 {
		t.Errorf("expected 120s fallback, got %vs", got)
	}
	cfg.Research.CacheTTL = ""
	if got := cfg.GetCacheTTL().Hours(); got != 1 {
		t.Errorf("expected 1h fallback, got %vh", got)
	}
}

func TestClampResearchBounds(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name         string
		depth        int
		breadth      int
		wantDepth    int
		wantBreadth  int
		wantAdjusted bool
	}{
		{"zero falls back to defaults", 0, 0, 2, 4, false},
		{"in range untouched", 3, 5, 3, 5, false},
		{"min bounds untouched", 1, 2, 1, 2, false},
		{"max bounds untouched", 5, 10, 5, 10, false},
		{"depth too high", 7, 4, 5, 4, true},
		{"depth too low", -1, 4, 1, 4, true},
		{"breadth too high", 3, 12, 3, 10, true},
		{"breadth too low", 3, 1, 3, 2, true},
		{"both out of range", 100, 100, 5, 10, true},
	}

	for _, tt := range tests {
		d, b, adjusted := cfg.ClampResearchBounds(tt.depth, tt.breadth)
		if d != tt.wantDepth || b != tt.wantBreadth || adjusted != tt.wantAdjusted {
			t.Errorf("%s: ClampResearchBounds(%d, %d) = (%d, %d, %v), want (%d, %d, %v)",
				tt.name, tt.depth, tt.breadth, d, b, adjusted, tt.wantDepth, tt.wantBreadth, tt.wantAdjusted)
		}
	}
}

// =============================================================================
// USER CONFIG TESTS
// =============================================================================

func TestFindWorkspaceRoot_PrefersResearchnerdDir(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ".researchnerd"), 0o755); err != nil {
		t.Fatalf("mkdir .researchnerd: %v", err)
	}
	nested := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir nested: %v", err)
	}

	origWD, _ := os.Getwd()
	if err := os.Chdir(nested); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWD) })

	got, err := FindWorkspaceRoot()
	if err != nil {
		t.Fatalf("FindWorkspaceRoot: %v", err)
	}
	if got != root {
		t.Fatalf("FindWorkspaceRoot=%q, want %q", got, root)
	}
}

func TestFindWorkspaceRoot_FallsBackToGoMod(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "go.mod"), []byte("module example.com/test\n\ngo 1.22\n"), 0o644); err != nil {
		t.Fatalf("write go.mod: %v", err)
	}
	nested := filepath.Join(root, "subdir")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir nested: %v", err)
	}

	origWD, _ := os.Getwd()
	if err := os.Chdir(nested); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWD) })

	got, err := FindWorkspaceRoot()
	if err != nil {
		t.Fatalf("FindWorkspaceRoot: %v", err)
	}
	if got != root {
		t.Fatalf("FindWorkspaceRoot=%q, want %q", got, root)
	}
}

func TestDefaultUserConfigPath_UsesWorkspaceRoot(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ".researchnerd"), 0o755); err != nil {
		t.Fatalf("mkdir .researchnerd: %v", err)
	}
	nested := filepath.Join(root, "x", "y")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir nested: %v", err)
	}

	origWD, _ := os.Getwd()
	if err := os.Chdir(nested); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWD) })

	got := DefaultUserConfigPath()
	want := filepath.Join(root, ".researchnerd", "config.json")
	if got != want {
		t.Fatalf("DefaultUserConfigPath=%q, want %q", got, want)
	}
}

func TestUserConfig_GetActiveProvider_PriorityAndLegacy(t *testing.T) {
	cfg := &UserConfig{
		Provider:     "openai",
		OpenAIAPIKey: "k-openai",
		GeminiAPIKey: "k-gemini",
	}
	provider, key := cfg.GetActiveProvider()
	if provider != "openai" || key != "k-openai" {
		t.Fatalf("GetActiveProvider=%q/%q, want openai/k-openai", provider, key)
	}

	// Without explicit provider, gemini wins the priority order
	implicit := &UserConfig{
		OpenAIAPIKey: "k-openai",
		GeminiAPIKey: "k-gemini",
	}
	provider, key = implicit.GetActiveProvider()
	if provider != "gemini" || key != "k-gemini" {
		t.Fatalf("GetActiveProvider implicit=%q/%q, want gemini/k-gemini", provider, key)
	}

	legacy := &UserConfig{APIKey: "k-legacy"}
	provider, key = legacy.GetActiveProvider()
	if provider != "gemini" || key != "k-legacy" {
		t.Fatalf("GetActiveProvider legacy=%q/%q, want gemini/k-legacy", provider, key)
	}
}

func TestUserConfig_GetModel(t *testing.T) {
	explicit := &UserConfig{Model: "gemini-2.5-pro"}
	if got := explicit.GetModel(); got != "gemini-2.5-pro" {
		t.Fatalf("GetModel override=%q, want gemini-2.5-pro", got)
	}

	zai := &UserConfig{ZAIAPIKey: "k"}
	if got := zai.GetModel(); got != "glm-4.6" {
		t.Fatalf("GetModel zai default=%q, want glm-4.6", got)
	}

	empty := &UserConfig{}
	if got := empty.GetModel(); got != "gemini-2.5-flash" {
		t.Fatalf("GetModel empty=%q, want gemini-2.5-flash", got)
	}
}

func TestLoadUserConfig_SaveRoundTrip(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, ".researchnerd", "config.json")

	cfg := &UserConfig{
		Provider:    "zai",
		Model:       "glm-4.6",
		ZAIAPIKey:   "k-zai",
		DetailLevel: "comprehensive",
		Theme:       "dark",
	}
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := LoadUserConfig(path)
	if err != nil {
		t.Fatalf("LoadUserConfig: %v", err)
	}
	if loaded.Provider != cfg.Provider || loaded.Model != cfg.Model || loaded.ZAIAPIKey != cfg.ZAIAPIKey || loaded.DetailLevel != cfg.DetailLevel {
		t.Fatalf("round-trip mismatch: got=%+v want=%+v", loaded, cfg)
	}
}

func TestUserConfig_Apply(t *testing.T) {
	base := DefaultConfig()
	user := &UserConfig{
		Provider:    "zai",
		ZAIAPIKey:   "k-zai",
		DetailLevel: "brief",
	}

	user.Apply(base)

	if base.LLM.Provider != "zai" || base.LLM.APIKey != "k-zai" {
		t.Errorf("Apply should set provider/key from user config, got %s/%s", base.LLM.Provider, base.LLM.APIKey)
	}
	if base.LLM.Model != "glm-4.6" {
		t.Errorf("Apply should pick the provider default model, got %s", base.LLM.Model)
	}
	if base.Report.DetailLevel != "brief" {
		t.Errorf("Apply should set detail level, got %s", base.Report.DetailLevel)
	}
}
