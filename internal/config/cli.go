package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// cliViper is the CLI's layered config singleton. Unlike Load (the
// daemon's flat os.Getenv reader), the operator CLI layers flag >
// env > file > default, following untoldecay-BeadsLog's
// config.Initialize pattern.
var cliViper *viper.Viper

// InitCLI sets up the CLI config singleton. Call once from
// cmd/erpsync's cobra.OnInitialize hook, before any command reads a
// value via CLIString/CLIInt/CLIDuration.
//
// Config file search order: ./erpsync.yaml (project-local, useful for
// repeatable operator scripts) then erpsync/erpsync.yaml under
// os.UserConfigDir (e.g. ~/.config/erpsync/erpsync.yaml).
func InitCLI() error {
	cliViper = viper.New()
	cliViper.SetConfigType("yaml")
	cliViper.SetConfigName("erpsync")

	cliViper.AddConfigPath(".")
	if configDir, err := os.UserConfigDir(); err == nil {
		cliViper.AddConfigPath(filepath.Join(configDir, "erpsync"))
	}

	// ERPSYNC_SOURCE_API_URL -> source-api-url, etc.
	cliViper.SetEnvPrefix("ERPSYNC")
	cliViper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	cliViper.AutomaticEnv()

	cliViper.SetDefault("source-api-url", "")
	cliViper.SetDefault("source-api-token", "")
	cliViper.SetDefault("sink-api-url", "")
	cliViper.SetDefault("sink-api-token", "")
	cliViper.SetDefault("postgres-dsn", "")
	cliViper.SetDefault("batch-size", 1000)
	cliViper.SetDefault("max-retries", 3)
	cliViper.SetDefault("retry-delay", "60s")
	cliViper.SetDefault("output-format", "text")
	cliViper.SetDefault("request-timeout", "30s")

	if err := cliViper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("reading erpsync config file: %w", err)
		}
	}
	return nil
}

// CLIViper exposes the underlying *viper.Viper so cmd/erpsync can call
// BindPFlag directly, giving an explicitly-set flag the top tier of
// flag > env > file > default.
func CLIViper() *viper.Viper {
	return cliViper
}

// CLIString returns a string config value honoring the CLI's layered
// precedence. Call InitCLI first; returns "" if uninitialized.
func CLIString(key string) string {
	if cliViper == nil {
		return ""
	}
	return cliViper.GetString(key)
}

// CLIInt returns an int config value.
func CLIInt(key string) int {
	if cliViper == nil {
		return 0
	}
	return cliViper.GetInt(key)
}

// CLIDuration returns a duration config value, parsed the way Viper
// parses "60s"-style strings.
func CLIDuration(key string) time.Duration {
	if cliViper == nil {
		return 0
	}
	return cliViper.GetDuration(key)
}
