package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"
)

func TestLoadEnvFile(t *testing.T) {
	tmpDir := t.TempDir()
	envFile := filepath.Join(tmpDir, ".env")

	content := `# Test env file
PF_KEY1=value1
PF_KEY2="quoted value"
PF_KEY3='single quoted'
`
	if err := os.WriteFile(envFile, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	for _, k := range []string{"PF_KEY1", "PF_KEY2", "PF_KEY3"} {
		os.Unsetenv(k)
		defer os.Unsetenv(k)
	}

	if err := godotenv.Load(envFile); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if os.Getenv("PF_KEY1") != "value1" {
		t.Errorf("PF_KEY1 not set correctly: %s", os.Getenv("PF_KEY1"))
	}
	if os.Getenv("PF_KEY2") != "quoted value" {
		t.Errorf("PF_KEY2 not set correctly: %s", os.Getenv("PF_KEY2"))
	}
	if os.Getenv("PF_KEY3") != "single quoted" {
		t.Errorf("PF_KEY3 not set correctly: %s", os.Getenv("PF_KEY3"))
	}
}

func TestLoadEnvFile_DoesNotOverride(t *testing.T) {
	tmpDir := t.TempDir()
	envFile := filepath.Join(tmpDir, ".env")

	if err := os.WriteFile(envFile, []byte(`PF_EXISTING=new_value`), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PF_EXISTING", "original_value")

	if err := godotenv.Load(envFile); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if os.Getenv("PF_EXISTING") != "original_value" {
		t.Error("env file should not override existing env vars")
	}
}

func TestGetEnvWithFallback(t *testing.T) {
	os.Unsetenv("FALLBACK_KEY1")
	os.Unsetenv("FALLBACK_KEY2")

	if result := GetEnvWithFallback("FALLBACK_KEY1", "FALLBACK_KEY2"); result != "" {
		t.Error("Expected empty string when no keys set")
	}

	t.Setenv("FALLBACK_KEY2", "value2")
	if result := GetEnvWithFallback("FALLBACK_KEY1", "FALLBACK_KEY2"); result != "value2" {
		t.Errorf("Expected value2, got %s", result)
	}

	t.Setenv("FALLBACK_KEY1", "value1")
	if result := GetEnvWithFallback("FALLBACK_KEY1", "FALLBACK_KEY2"); result != "value1" {
		t.Errorf("Expected value1 (first priority), got %s", result)
	}
}

func TestGetEnvDefault(t *testing.T) {
	os.Unsetenv("DEFAULT_KEY")

	if result := GetEnvDefault("DEFAULT_KEY", "fallback"); result != "fallback" {
		t.Errorf("Expected fallback, got %s", result)
	}

	t.Setenv("DEFAULT_KEY", "actual")
	if result := GetEnvDefault("DEFAULT_KEY", "fallback"); result != "actual" {
		t.Errorf("Expected actual, got %s", result)
	}
}

func TestResolveEnvWithAliases(t *testing.T) {
	os.Unsetenv("PAPERFLOW_AI_REMOTE_API_KEY")
	os.Unsetenv("OPENAI_API_KEY")
	os.Unsetenv("ANTHROPIC_API_KEY")

	if got := ResolveEnvWithAliases("PAPERFLOW_AI_REMOTE_API_KEY"); got != "" {
		t.Errorf("expected empty, got %s", got)
	}

	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	if got := ResolveEnvWithAliases("PAPERFLOW_AI_REMOTE_API_KEY"); got != "sk-ant" {
		t.Errorf("expected alias value, got %s", got)
	}

	t.Setenv("OPENAI_API_KEY", "sk-openai")
	if got := ResolveEnvWithAliases("PAPERFLOW_AI_REMOTE_API_KEY"); got != "sk-openai" {
		t.Errorf("expected first alias to win, got %s", got)
	}

	t.Setenv("PAPERFLOW_AI_REMOTE_API_KEY", "sk-canonical")
	if got := ResolveEnvWithAliases("PAPERFLOW_AI_REMOTE_API_KEY"); got != "sk-canonical" {
		t.Errorf("expected canonical key to win, got %s", got)
	}
}

func TestMissingEnvError(t *testing.T) {
	err := &MissingEnvError{Key: "TEST_KEY"}
	if err.Error() != "required environment variable not set: TEST_KEY" {
		t.Errorf("unexpected message: %s", err.Error())
	}

	aliased := &MissingEnvError{Key: "PAPERFLOW_AI_LOCAL_BASE_URL", Aliases: []string{"OLLAMA_HOST"}}
	if aliased.Error() != "required environment variable not set: PAPERFLOW_AI_LOCAL_BASE_URL (or OLLAMA_HOST)" {
		t.Errorf("unexpected message: %s", aliased.Error())
	}
}

func TestGetRequiredEnv(t *testing.T) {
	os.Unsetenv("REQUIRED_KEY")

	if _, err := GetRequiredEnv("REQUIRED_KEY"); err == nil {
		t.Error("expected error for missing key")
	}

	t.Setenv("REQUIRED_KEY", "present")
	val, err := GetRequiredEnv("REQUIRED_KEY")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "present" {
		t.Errorf("expected present, got %s", val)
	}

	os.Unsetenv("PAPERFLOW_AI_LOCAL_BASE_URL")
	os.Unsetenv("OLLAMA_HOST")
	_, err = GetRequiredEnv("PAPERFLOW_AI_LOCAL_BASE_URL")
	var missing *MissingEnvError
	if !errors.As(err, &missing) || len(missing.Aliases) != 1 {
		t.Fatalf("expected MissingEnvError with aliases, got %v", err)
	}

	t.Setenv("OLLAMA_HOST", "http://ollama:11434")
	if val, err := GetRequiredEnv("PAPERFLOW_AI_LOCAL_BASE_URL"); err != nil || val != "http://ollama:11434" {
		t.Errorf("expected alias value, got %q %v", val, err)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	if got := expandPath("~/docs"); got != filepath.Join(home, "docs") {
		t.Errorf("expected expanded path, got %s", got)
	}
	if got := expandPath("/abs/path"); got != "/abs/path" {
		t.Errorf("expected unchanged path, got %s", got)
	}
}
