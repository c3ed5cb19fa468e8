package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"researchnerd/internal/config"
	"researchnerd/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const version = "0.3.0"

var (
	// Global flags
	verbose    bool
	configPath string
	timeout    time.Duration

	// Built by PersistentPreRunE, shared by every command
	appConfig  *config.Config
	userConfig *config.UserConfig
	logger     *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "nerd-research",
	Short: "researchNERD - iterative research agent for the terminal",
	Long: `researchNERD runs cited web research from your terminal.

Given a query it drafts search directions, retrieves and scores web
sources, and accumulates deduplicated findings, looping deeper until the
topic stops yielding anything new or the depth budget runs out. The
findings are then synthesized into a multi-section report with numbered
citations and a bibliography.

Finished sessions are archived to SQLite so reports can be listed,
reread, and searched later with the history commands.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		appConfig, err = config.Load(configPath)
		if err != nil {
			return err
		}

		// Settings saved with "config set" win over files and env.
		userConfig, err = config.GlobalConfig()
		if err != nil {
			return fmt.Errorf("failed to load user config: %w", err)
		}
		userConfig.Apply(appConfig)

		logOpts := logging.Options{
			Enabled:    appConfig.Logging.Enabled,
			Dir:        appConfig.Logging.Dir,
			Level:      appConfig.Logging.Level,
			JSONFormat: appConfig.Logging.Format == "json",
		}
		if verbose {
			logOpts.Enabled = true
			logOpts.Level = "debug"
		}
		if err := logging.Configure(logOpts); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}

		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// versionCmd prints the build version
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the researchNERD version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("researchNERD %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "Path to the config file")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Minute, "Overall research timeout")

	rootCmd.AddCommand(versionCmd)
}

func defaultConfigPath() string {
	return filepath.Join(".researchnerd", "config.yaml")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
