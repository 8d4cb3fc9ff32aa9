// Command omnillm talks to LLM providers through one interface: one-shot
// completions, streaming, structured output, a tool-calling chat and an HTTP
// gateway.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/omnillm/internal/app"
	"github.com/MrWong99/omnillm/internal/config"
)

var (
	configPath string
	logLevel   string

	// level is shared with the App so config reloads can change it.
	level = new(slog.LevelVar)
)

var rootCmd = &cobra.Command{
	Use:   "omnillm",
	Short: "Unified client and gateway for LLM providers",
	Long: `omnillm drives Anthropic, OpenAI, xAI, local OpenAI-compatible servers
and any-llm backends through one provider abstraction.

Providers come from the YAML file given with --config. Without one, they are
derived from ANTHROPIC_API_KEY, OPENAI_API_KEY, XAI_API_KEY and
OMNILLM_LOCAL_BASE_URL.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "omnillm: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads --config, or builds a config from the environment when
// no file is given.
func loadConfig() (*config.Config, error) {
	if configPath == "" {
		cfg, err := config.FromEnv()
		if err != nil {
			return nil, fmt.Errorf("no --config given and environment is incomplete: %w", err)
		}
		return cfg, nil
	}
	cfg, err := config.Load(configPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config file %q not found", configPath)
	}
	return cfg, err
}

// setupLogging installs a text logger on stderr at the effective level.
func setupLogging(cfg *config.Config) {
	lv := cfg.Server.LogLevel
	if logLevel != "" {
		lv = config.LogLevel(logLevel)
	}
	level.Set(app.LevelFor(lv))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// openApp loads the config and starts an App for a one-shot command. The
// returned func shuts it down.
func openApp(ctx context.Context) (*app.App, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	setupLogging(cfg)
	a, err := app.New(ctx, cfg, app.WithLogLevel(level))
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Shutdown(ctx); err != nil {
			slog.Warn("shutdown error", "err", err)
		}
	}
	return a, closeFn, nil
}
