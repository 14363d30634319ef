package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/vellora/internal/cli"
	"github.com/aretw0/vellora/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "vellora",
	Short: "Vellora onboards paying customers through a chat dialogue",
	Long: `Vellora sells plans through a hosted checkout and walks each customer through
an onboarding conversation that collects their account settings.

Configuration is read from VELLORA_* environment variables. The flags below
override the matching variables.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().String("store", "", "Store backend: memory, sqlite or redis (VELLORA_STORE)")
	rootCmd.PersistentFlags().String("sqlite-path", "", "SQLite database file (VELLORA_SQLITE_PATH)")
	rootCmd.PersistentFlags().String("redis-addr", "", "Redis address (VELLORA_REDIS_ADDR)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error (VELLORA_LOG_LEVEL)")
	rootCmd.PersistentFlags().String("prompts", "", "YAML file overriding the dialogue prompts (VELLORA_PROMPTS_FILE)")
}

// flagOverrides maps persistent flags onto configuration fields.
var flagOverrides = map[string]func(*config.Config, string){
	"store":       func(c *config.Config, v string) { c.Store = v },
	"sqlite-path": func(c *config.Config, v string) { c.SQLitePath = v },
	"redis-addr":  func(c *config.Config, v string) { c.RedisAddr = v },
	"log-level":   func(c *config.Config, v string) { c.LogLevel = v },
	"prompts":     func(c *config.Config, v string) { c.PromptsFile = v },
}

// loadConfig reads the environment and applies the flags the user set.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	for name, apply := range flagOverrides {
		if !cmd.Flags().Changed(name) {
			continue
		}
		v, _ := cmd.Flags().GetString(name)
		apply(&cfg, v)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// buildApp loads the configuration and wires the process.
func buildApp(ctx context.Context, cmd *cobra.Command, opts ...cli.BuildOption) (*cli.App, *slog.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger := cli.NewLogger(cfg)
	app, err := cli.Build(ctx, cfg, logger, opts...)
	if err != nil {
		return nil, nil, err
	}
	return app, logger, nil
}
