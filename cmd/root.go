// Package cmd implements the memshard CLI using cobra.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/crystaldolphin/memshard/internal/config"
	"github.com/crystaldolphin/memshard/internal/dependency"
)

const version = "0.1.0"
const logo = "🧩"

var (
	cfgFile string
	verbose bool
)

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "memshard",
	Short: logo + " memshard: hide, summarize and shard long chats",
	Long: logo + " memshard keeps long chat sessions within context by hiding ranges of\n" +
		"messages and replacing them with LLM-written memory shards.",
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

// Execute runs the root command and exits on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = version
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (default ~/.memshard/config.json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")

	rootCmd.AddCommand(onboardCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(rangesCmd)
	rootCmd.AddCommand(hideCmd)
	rootCmd.AddCommand(unhideCmd)
	rootCmd.AddCommand(msgCmd)
	rootCmd.AddCommand(summarizeCmd)
	rootCmd.AddCommand(serveCmd)
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.ConfigPath()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openContainer loads the config and wires the services. Callers must Close
// the container.
func openContainer() (*dependency.ServiceContainer, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return dependency.New(cfg)
}
