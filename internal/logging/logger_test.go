package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestConfig(t *testing.T, dir, content string) {
	t.Helper()
	configDir := filepath.Join(dir, ".truthcaps")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
}

func resetLogging() {
	CloseAll()
	logsDir = ""
	workspace = ""
	config = loggingConfig{}
}

func TestDebugModeWritesCategoryFiles(t *testing.T) {
	defer resetLogging()
	tempDir := t.TempDir()

	writeTestConfig(t, tempDir, `
logging:
  debug_mode: true
  level: debug
`)

	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	Store("loaded %d capsules", 3)
	Witness("witness %s finished", "check_output")
	CloseAll()

	entries, err := os.ReadDir(filepath.Join(tempDir, ".truthcaps", "logs"))
	if err != nil {
		t.Fatalf("reading logs dir: %v", err)
	}
	var found []string
	for _, e := range entries {
		found = append(found, e.Name())
	}
	hasCategory := func(cat string) bool {
		for _, name := range found {
			if strings.HasSuffix(name, "_"+cat+".log") {
				return true
			}
		}
		return false
	}
	if !hasCategory("store") {
		t.Errorf("expected a store log file, got %v", found)
	}
	if !hasCategory("witness") {
		t.Errorf("expected a witness log file, got %v", found)
	}
}

func TestProductionModeIsSilent(t *testing.T) {
	defer resetLogging()
	tempDir := t.TempDir()

	// No config file at all: production mode, no logs directory.
	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	Compose("this should go nowhere")

	if _, err := os.Stat(filepath.Join(tempDir, ".truthcaps", "logs")); !os.IsNotExist(err) {
		t.Errorf("logs directory should not exist in production mode")
	}
}

func TestCategoryFiltering(t *testing.T) {
	defer resetLogging()
	tempDir := t.TempDir()

	writeTestConfig(t, tempDir, `
logging:
  debug_mode: true
  level: debug
  categories:
    store: true
    compose: false
`)

	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	if !IsCategoryEnabled(CategoryStore) {
		t.Error("store category should be enabled")
	}
	if IsCategoryEnabled(CategoryCompose) {
		t.Error("compose category should be disabled")
	}
	// Unlisted categories default to enabled in debug mode.
	if !IsCategoryEnabled(CategoryWitness) {
		t.Error("witness category should default to enabled")
	}
}
