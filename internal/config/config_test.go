package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.LowHorizontalAccuracyM == nil || *cfg.LowHorizontalAccuracyM != 10 {
		t.Errorf("Expected LowHorizontalAccuracyM 10, got %v", cfg.LowHorizontalAccuracyM)
	}
	if cfg.FailureTimeout == nil || *cfg.FailureTimeout != "3m0s" {
		t.Errorf("Expected FailureTimeout '3m0s', got %v", cfg.FailureTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig should validate: %v", err)
	}

	if cfg.GetHighHorizontalAccuracyM() != 20 {
		t.Errorf("GetHighHorizontalAccuracyM() = %f, want 20", cfg.GetHighHorizontalAccuracyM())
	}
	if cfg.GetTerrainStallDelay() != 10*time.Second {
		t.Errorf("GetTerrainStallDelay() = %v, want 10s", cfg.GetTerrainStallDelay())
	}
	if cfg.GetMaxAnchors() != 5 {
		t.Errorf("GetMaxAnchors() = %d, want 5", cfg.GetMaxAnchors())
	}
}

func TestEmptyConfigMatchesReferenceConstants(t *testing.T) {
	empty := EmptyConfig()
	def := DefaultConfig()

	if empty.GetLowHeadingAccuracyDeg() != def.GetLowHeadingAccuracyDeg() {
		t.Errorf("low heading: %v != %v", empty.GetLowHeadingAccuracyDeg(), def.GetLowHeadingAccuracyDeg())
	}
	if empty.GetHighHeadingAccuracyDeg() != 25 {
		t.Errorf("high heading = %v, want 25", empty.GetHighHeadingAccuracyDeg())
	}
	if empty.GetFailureTimeout() != 180*time.Second {
		t.Errorf("failure timeout = %v, want 180s", empty.GetFailureTimeout())
	}
	if empty.GetPersistence() != PersistenceSQLite {
		t.Errorf("persistence = %q, want sqlite", empty.GetPersistence())
	}
	if empty.GetTerrainQuota() != DefaultTerrainQuota {
		t.Errorf("terrain quota = %d", empty.GetTerrainQuota())
	}
	if err := empty.Validate(); err != nil {
		t.Errorf("empty config should validate: %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "geoanchor.json")

	testJSON := `{
  "low_horizontal_accuracy_m": 5,
  "failure_timeout": "90s",
  "max_anchors": 8,
  "persistence": "file",
  "prefs_path": "prefs.json"
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.GetLowHorizontalAccuracyM() != 5 {
		t.Errorf("low horizontal = %v, want 5", cfg.GetLowHorizontalAccuracyM())
	}
	if cfg.GetHighHorizontalAccuracyM() != 20 {
		t.Errorf("high horizontal should fall back to 20, got %v", cfg.GetHighHorizontalAccuracyM())
	}
	if cfg.GetFailureTimeout() != 90*time.Second {
		t.Errorf("failure timeout = %v, want 90s", cfg.GetFailureTimeout())
	}
	if cfg.GetMaxAnchors() != 8 {
		t.Errorf("max anchors = %d, want 8", cfg.GetMaxAnchors())
	}
	if cfg.GetPersistence() != PersistenceFile || cfg.GetPrefsPath() != "prefs.json" {
		t.Errorf("persistence = %q prefs = %q", cfg.GetPersistence(), cfg.GetPrefsPath())
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{"wrong extension", "cfg.yaml", `{}`, ".json extension"},
		{"bad json", "bad.json", `{`, "failed to parse"},
		{"inverted horizontal band", "band.json", `{"low_horizontal_accuracy_m": 30}`, "horizontal accuracy band"},
		{"inverted heading band", "heading.json", `{"high_heading_accuracy_deg": 10}`, "heading accuracy band"},
		{"bad duration", "dur.json", `{"failure_timeout": "soon"}`, "invalid failure_timeout"},
		{"negative duration", "neg.json", `{"terrain_stall_delay": "-1s"}`, "must be positive"},
		{"zero anchors", "anchors.json", `{"max_anchors": 0}`, "max_anchors"},
		{"unknown persistence", "persist.json", `{"persistence": "mongo"}`, "unknown persistence"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(tmpDir, tt.file)
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatalf("write: %v", err)
			}
			_, err := LoadConfig(path)
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	if err == nil || !strings.Contains(err.Error(), "failed to stat") {
		t.Fatalf("expected stat error, got %v", err)
	}
}
