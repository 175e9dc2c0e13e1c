package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// TestDefaultConfig verifies the default values
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Import.SeriesID != "" {
		t.Errorf("Expected empty series ID, got %q", cfg.Import.SeriesID)
	}

	if cfg.Import.Workers != runtime.NumCPU() {
		t.Errorf("Expected %d workers, got %d", runtime.NumCPU(), cfg.Import.Workers)
	}

	if !cfg.Output.Verbose {
		t.Error("Expected verbose output by default")
	}

	if cfg.Output.SlicesDir != "slices" {
		t.Errorf("Expected slices dir %q, got %q", "slices", cfg.Output.SlicesDir)
	}
}

// TestLoadConfigMissingFile verifies that a missing file yields the defaults
func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Output.SlicesDir != DefaultConfig().Output.SlicesDir {
		t.Errorf("Expected default slices dir, got %q", cfg.Output.SlicesDir)
	}
}

// TestSaveAndLoadConfig verifies that a saved configuration loads back unchanged
func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Import.SeriesID = "1.2.840.113619.2.55"
	cfg.Import.Workers = 3
	cfg.Output.Verbose = false
	cfg.Output.SaveSlices = true

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if *loaded != *cfg {
		t.Errorf("Expected %+v, got %+v", *cfg, *loaded)
	}
}

// TestLoadConfigInvalidYAML verifies that malformed files are reported
func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("import: [not a map"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	if _, err := LoadConfig(path); err == nil {
		t.Error("Expected an error for malformed YAML")
	}
}

// TestEnvOverridesFile verifies that environment variables take precedence
func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "import:\n  seriesID: from-file\n  workers: 2\noutput:\n  slicesDir: file-slices\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	t.Setenv("PENCILBEAM_IMPORT_SERIES_ID", "from-env")
	t.Setenv("PENCILBEAM_OUTPUT_VERBOSE", "false")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Import.SeriesID != "from-env" {
		t.Errorf("Expected series ID from environment, got %q", cfg.Import.SeriesID)
	}
	if cfg.Import.Workers != 2 {
		t.Errorf("Expected workers from file, got %d", cfg.Import.Workers)
	}
	if cfg.Output.Verbose {
		t.Error("Expected verbose disabled by environment")
	}
	if cfg.Output.SlicesDir != "file-slices" {
		t.Errorf("Expected slices dir from file, got %q", cfg.Output.SlicesDir)
	}
}

// TestEnvInvalidValue verifies that unparsable environment values are reported
func TestEnvInvalidValue(t *testing.T) {
	t.Setenv("PENCILBEAM_IMPORT_WORKERS", "many")

	if err := ApplyEnv(DefaultConfig()); err == nil {
		t.Error("Expected an error for a non-numeric worker count")
	}
}

// TestCreateDefaultConfigFile verifies that the written file loads back as the defaults
func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pencilbeam.yaml")

	if err := CreateDefaultConfigFile(path); err != nil {
		t.Fatalf("Failed to create default config: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Config file not written: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if *cfg != *DefaultConfig() {
		t.Errorf("Expected defaults, got %+v", *cfg)
	}
}
