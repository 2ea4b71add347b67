package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// LoadEnvFiles loads .env files from the working directory and the user's
// config folder. Variables already present in the environment win.
func LoadEnvFiles() error {
	envPaths := []string{"./.env"}

	if home, err := os.UserHomeDir(); err == nil {
		envPaths = append(envPaths,
			filepath.Join(home, ".paperflow", ".env"),
			filepath.Join(home, ".config", "paperflow", ".env"),
		)
	}

	for _, path := range envPaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err != nil {
				return err
			}
		}
	}

	return nil
}

// GetEnvWithFallback returns the first non-empty variable among keys
func GetEnvWithFallback(keys ...string) string {
	for _, key := range keys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	return ""
}

func GetEnvDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

var envAliases = map[string][]string{
	"PAPERFLOW_AI_REMOTE_API_KEY": {"OPENAI_API_KEY", "ANTHROPIC_API_KEY"},
	"PAPERFLOW_AI_LOCAL_BASE_URL": {"OLLAMA_HOST"},
	"PAPERFLOW_STORAGE_WATCH_DIR": {"PAPERFLOW_CONSUME_DIR"},
}

// ResolveEnvWithAliases reads a PAPERFLOW_ key, then its conventional aliases
func ResolveEnvWithAliases(canonicalKey string) string {
	return GetEnvWithFallback(append([]string{canonicalKey}, envAliases[canonicalKey]...)...)
}

// GetRequiredEnv resolves key with its aliases and fails when none is set
func GetRequiredEnv(key string) (string, error) {
	if val := ResolveEnvWithAliases(key); val != "" {
		return val, nil
	}
	return "", &MissingEnvError{Key: key, Aliases: envAliases[key]}
}

type MissingEnvError struct {
	Key     string
	Aliases []string
}

func (e *MissingEnvError) Error() string {
	msg := "required environment variable not set: " + e.Key
	if len(e.Aliases) > 0 {
		msg += " (or " + strings.Join(e.Aliases, ", ") + ")"
	}
	return msg
}
