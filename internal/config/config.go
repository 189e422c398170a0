package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Reference constants. A config file that omits a field gets these values,
// so the zero config reproduces the reference behaviour exactly.
const (
	DefaultLowHorizontalAccuracyM  = 10.0
	DefaultHighHorizontalAccuracyM = 20.0
	DefaultLowHeadingAccuracyDeg   = 15.0
	DefaultHighHeadingAccuracyDeg  = 25.0
	DefaultFailureTimeout          = 3 * time.Minute
	DefaultTerrainStallDelay       = 10 * time.Second
	DefaultMaxAnchors              = 5
	DefaultFrameInterval           = 33 * time.Millisecond
	DefaultTerrainResolveDelay     = 2 * time.Second
	DefaultTerrainQuota            = 3
	DefaultPersistence             = PersistenceSQLite
	DefaultDBPath                  = "geoanchor.db"
	DefaultPrefsPath               = "geoanchor-prefs.json"
)

// Persistence backends for saved anchor descriptors.
const (
	PersistenceSQLite = "sqlite"
	PersistenceFile   = "file"
	PersistenceMemory = "memory"
)

// Config is the root configuration. Every field is optional; the Get*
// accessors supply defaults for fields left unset.
type Config struct {
	// Localization hysteresis bands
	LowHorizontalAccuracyM  *float64 `json:"low_horizontal_accuracy_m,omitempty"`
	HighHorizontalAccuracyM *float64 `json:"high_horizontal_accuracy_m,omitempty"`
	LowHeadingAccuracyDeg   *float64 `json:"low_heading_accuracy_deg,omitempty"`
	HighHeadingAccuracyDeg  *float64 `json:"high_heading_accuracy_deg,omitempty"`

	// Frame-observed deadlines, duration strings like "3m"
	FailureTimeout    *string `json:"failure_timeout,omitempty"`
	TerrainStallDelay *string `json:"terrain_stall_delay,omitempty"`

	// Anchors
	MaxAnchors *int `json:"max_anchors,omitempty"`

	// Persistence
	Persistence *string `json:"persistence,omitempty"` // sqlite, file, memory
	DBPath      *string `json:"db_path,omitempty"`
	PrefsPath   *string `json:"prefs_path,omitempty"`

	// Frame loop and simulator
	FrameInterval       *string `json:"frame_interval,omitempty"`
	TerrainResolveDelay *string `json:"terrain_resolve_delay,omitempty"`
	TerrainQuota        *int    `json:"terrain_quota,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyConfig returns a Config with all fields nil.
func EmptyConfig() *Config {
	return &Config{}
}

// DefaultConfig returns a Config with every field populated from the
// reference constants.
func DefaultConfig() *Config {
	return &Config{
		LowHorizontalAccuracyM:  ptrFloat64(DefaultLowHorizontalAccuracyM),
		HighHorizontalAccuracyM: ptrFloat64(DefaultHighHorizontalAccuracyM),
		LowHeadingAccuracyDeg:   ptrFloat64(DefaultLowHeadingAccuracyDeg),
		HighHeadingAccuracyDeg:  ptrFloat64(DefaultHighHeadingAccuracyDeg),
		FailureTimeout:          ptrString(DefaultFailureTimeout.String()),
		TerrainStallDelay:       ptrString(DefaultTerrainStallDelay.String()),
		MaxAnchors:              ptrInt(DefaultMaxAnchors),
		Persistence:             ptrString(DefaultPersistence),
		DBPath:                  ptrString(DefaultDBPath),
		PrefsPath:               ptrString(DefaultPrefsPath),
		FrameInterval:           ptrString(DefaultFrameInterval.String()),
		TerrainResolveDelay:     ptrString(DefaultTerrainResolveDelay.String()),
		TerrainQuota:            ptrInt(DefaultTerrainQuota),
	}
}

// LoadConfig loads a Config from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted
// from the file fall back to the reference constants.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are consistent.
func (c *Config) Validate() error {
	if lo, hi := c.GetLowHorizontalAccuracyM(), c.GetHighHorizontalAccuracyM(); lo <= 0 || lo >= hi {
		return fmt.Errorf("horizontal accuracy band must satisfy 0 < low < high, got low=%g high=%g", lo, hi)
	}
	if lo, hi := c.GetLowHeadingAccuracyDeg(), c.GetHighHeadingAccuracyDeg(); lo <= 0 || lo >= hi {
		return fmt.Errorf("heading accuracy band must satisfy 0 < low < high, got low=%g high=%g", lo, hi)
	}

	durations := []struct {
		name string
		v    *string
	}{
		{"failure_timeout", c.FailureTimeout},
		{"terrain_stall_delay", c.TerrainStallDelay},
		{"frame_interval", c.FrameInterval},
		{"terrain_resolve_delay", c.TerrainResolveDelay},
	}
	for _, d := range durations {
		if d.v == nil || *d.v == "" {
			continue
		}
		parsed, err := time.ParseDuration(*d.v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.v, err)
		}
		if parsed <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, *d.v)
		}
	}

	if c.MaxAnchors != nil && *c.MaxAnchors < 1 {
		return fmt.Errorf("max_anchors must be at least 1, got %d", *c.MaxAnchors)
	}
	if c.TerrainQuota != nil && *c.TerrainQuota < 1 {
		return fmt.Errorf("terrain_quota must be at least 1, got %d", *c.TerrainQuota)
	}

	switch p := c.GetPersistence(); p {
	case PersistenceSQLite, PersistenceFile, PersistenceMemory:
	default:
		return fmt.Errorf("unknown persistence %q (want sqlite, file or memory)", p)
	}

	return nil
}

func getDuration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// GetLowHorizontalAccuracyM returns the enter-Localized horizontal bound.
func (c *Config) GetLowHorizontalAccuracyM() float64 {
	if c.LowHorizontalAccuracyM == nil {
		return DefaultLowHorizontalAccuracyM
	}
	return *c.LowHorizontalAccuracyM
}

// GetHighHorizontalAccuracyM returns the exit-Localized horizontal bound.
func (c *Config) GetHighHorizontalAccuracyM() float64 {
	if c.HighHorizontalAccuracyM == nil {
		return DefaultHighHorizontalAccuracyM
	}
	return *c.HighHorizontalAccuracyM
}

// GetLowHeadingAccuracyDeg returns the enter-Localized heading bound.
func (c *Config) GetLowHeadingAccuracyDeg() float64 {
	if c.LowHeadingAccuracyDeg == nil {
		return DefaultLowHeadingAccuracyDeg
	}
	return *c.LowHeadingAccuracyDeg
}

// GetHighHeadingAccuracyDeg returns the exit-Localized heading bound.
func (c *Config) GetHighHeadingAccuracyDeg() float64 {
	if c.HighHeadingAccuracyDeg == nil {
		return DefaultHighHeadingAccuracyDeg
	}
	return *c.HighHeadingAccuracyDeg
}

// GetFailureTimeout returns how long Localizing may last before Failed.
func (c *Config) GetFailureTimeout() time.Duration {
	return getDuration(c.FailureTimeout, DefaultFailureTimeout)
}

// GetTerrainStallDelay returns how long a terrain anchor may resolve before
// the coverage hint is shown.
func (c *Config) GetTerrainStallDelay() time.Duration {
	return getDuration(c.TerrainStallDelay, DefaultTerrainStallDelay)
}

// GetMaxAnchors returns the live anchor ceiling.
func (c *Config) GetMaxAnchors() int {
	if c.MaxAnchors == nil {
		return DefaultMaxAnchors
	}
	return *c.MaxAnchors
}

// GetPersistence returns the persistence backend name.
func (c *Config) GetPersistence() string {
	if c.Persistence == nil || *c.Persistence == "" {
		return DefaultPersistence
	}
	return *c.Persistence
}

// GetDBPath returns the SQLite database path.
func (c *Config) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return DefaultDBPath
	}
	return *c.DBPath
}

// GetPrefsPath returns the preferences file path.
func (c *Config) GetPrefsPath() string {
	if c.PrefsPath == nil || *c.PrefsPath == "" {
		return DefaultPrefsPath
	}
	return *c.PrefsPath
}

// GetFrameInterval returns the frame loop period.
func (c *Config) GetFrameInterval() time.Duration {
	return getDuration(c.FrameInterval, DefaultFrameInterval)
}

// GetTerrainResolveDelay returns how long the simulator takes to resolve a
// terrain anchor.
func (c *Config) GetTerrainResolveDelay() time.Duration {
	return getDuration(c.TerrainResolveDelay, DefaultTerrainResolveDelay)
}

// GetTerrainQuota returns the simulator's outstanding terrain resolution limit.
func (c *Config) GetTerrainQuota() int {
	if c.TerrainQuota == nil {
		return DefaultTerrainQuota
	}
	return *c.TerrainQuota
}
