package main

import (
	"fmt"
	"os"

	"researchnerd/internal/config"
	"researchnerd/internal/research"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	configForce bool

	setProvider  string
	setGeminiKey string
	setOpenAIKey string
	setZAIKey    string
	setModel     string
	setDetail    string
	setTheme     string
)

// configCmd inspects and initializes configuration
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and initialize configuration",
	RunE:  runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration",
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Long: `Writes the default configuration to the config path so it can be
edited. Existing files are left alone unless --force is given.

The API key is read from the environment (GEMINI_API_KEY,
OPENAI_API_KEY, or ZAI_API_KEY) and never written to the file.`,
	RunE: runConfigInit,
}

var configSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Save personal settings to .researchnerd/config.json",
	Long: `Saves provider keys, model, detail level, and theme to the user
config. Saved settings win over the config file and the environment.

Examples:
  nerd-research config set --gemini-key AIza...
  nerd-research config set --provider openai --model gpt-4o-mini
  nerd-research config set --detail comprehensive --theme light`,
	RunE: runConfigSet,
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing config file")

	configSetCmd.Flags().StringVar(&setProvider, "provider", "", "LLM provider: gemini, openai, zai")
	configSetCmd.Flags().StringVar(&setGeminiKey, "gemini-key", "", "Google Gemini API key")
	configSetCmd.Flags().StringVar(&setOpenAIKey, "openai-key", "", "OpenAI API key")
	configSetCmd.Flags().StringVar(&setZAIKey, "zai-key", "", "Z.AI API key")
	configSetCmd.Flags().StringVar(&setModel, "model", "", "Model override for the provider")
	configSetCmd.Flags().StringVar(&setDetail, "detail", "", "Default detail level: brief, standard, comprehensive")
	configSetCmd.Flags().StringVar(&setTheme, "theme", "", "Report render theme: dark, light, notty")

	configCmd.AddCommand(configShowCmd, configInitCmd, configSetCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	// Copy so the redaction never touches the live config.
	redacted := *appConfig
	if redacted.LLM.APIKey != "" {
		redacted.LLM.APIKey = "[set]"
	}

	data, err := yaml.Marshal(&redacted)
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}

	fmt.Printf("# resolved from %s\n", configPath)
	fmt.Print(string(data))
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(configPath); err == nil && !configForce {
		return fmt.Errorf("config file %s already exists (use --force to overwrite)", configPath)
	}

	cfg := config.DefaultConfig()
	if err := cfg.Save(configPath); err != nil {
		return err
	}

	fmt.Printf("Wrote default config to %s\n", configPath)
	fmt.Println("Set GEMINI_API_KEY, OPENAI_API_KEY, or ZAI_API_KEY to enable research.")
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	if setProvider == "" && setGeminiKey == "" && setOpenAIKey == "" &&
		setZAIKey == "" && setModel == "" && setDetail == "" && setTheme == "" {
		return fmt.Errorf("nothing to set (see 'config set --help' for the available flags)")
	}

	path := config.DefaultUserConfigPath()
	cfg, err := config.LoadUserConfig(path)
	if err != nil {
		return fmt.Errorf("failed to load user config: %w", err)
	}

	if setProvider != "" {
		switch setProvider {
		case "gemini", "openai", "zai":
			cfg.Provider = setProvider
		default:
			return fmt.Errorf("unknown provider %q (want gemini, openai, or zai)", setProvider)
		}
	}
	if setGeminiKey != "" {
		cfg.GeminiAPIKey = setGeminiKey
	}
	if setOpenAIKey != "" {
		cfg.OpenAIAPIKey = setOpenAIKey
	}
	if setZAIKey != "" {
		cfg.ZAIAPIKey = setZAIKey
	}
	if setModel != "" {
		cfg.Model = setModel
	}
	if setDetail != "" {
		if _, err := research.ParseDetailLevel(setDetail); err != nil {
			return err
		}
		cfg.DetailLevel = setDetail
	}
	if setTheme != "" {
		switch setTheme {
		case "dark", "light", "notty":
			cfg.Theme = setTheme
		default:
			return fmt.Errorf("unknown theme %q (want dark, light, or notty)", setTheme)
		}
	}

	if err := cfg.Save(path); err != nil {
		return fmt.Errorf("failed to save user config: %w", err)
	}

	fmt.Println("✓ Configuration updated!")
	if provider, _ := cfg.GetActiveProvider(); provider != "" {
		fmt.Printf("  Provider: %s\n", provider)
		fmt.Printf("  Model: %s\n", cfg.GetModel())
	}
	fmt.Printf("  Saved to %s\n", path)
	return nil
}
