// Package config provides centralized configuration management.
//
// Every section has a Default*() constructor and, where operators need to
// tune it, a *FromEnv() variant. Load() assembles the whole AppConfig and
// applies the optional YAML overlay named by SKIRMISH_CONFIG.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// SIMULATION CONFIGURATION
// =============================================================================

// SimulationConfig holds the world tick and spawn defaults.
type SimulationConfig struct {
	TickRate      int     `yaml:"tick_rate"`      // Ticks per second
	ArenaSize     float64 `yaml:"arena_size"`     // Square arena edge, world units
	SpawnHealth   float64 `yaml:"spawn_health"`   // Health of newly spawned characters
	BaseSpeed     float64 `yaml:"base_speed"`     // Base movement speed, units per second
	Authoritative bool    `yaml:"authoritative"`  // Source of truth for replication
	MaxEntities   int     `yaml:"max_entities"`   // Hard cap on registered entities
	SlowTickMs    int     `yaml:"slow_tick_ms"`   // Tick duration that triggers a warning
	CommandBuffer int     `yaml:"command_buffer"` // Pending command capacity per tick
}

// DefaultSimulation returns the default simulation configuration.
func DefaultSimulation() SimulationConfig {
	return SimulationConfig{
		TickRate:      30,
		ArenaSize:     200,
		SpawnHealth:   1700,
		BaseSpeed:     20.5,
		Authoritative: true,
		MaxEntities:   512,
		SlowTickMs:    25,
		CommandBuffer: 1024,
	}
}

// SimulationFromEnv returns simulation configuration with environment overrides.
func SimulationFromEnv() SimulationConfig {
	cfg := DefaultSimulation()

	if v := getEnvInt("TICK_RATE", 0); v > 0 {
		cfg.TickRate = v
	}
	if v := getEnvFloat("ARENA_SIZE", 0); v > 0 {
		cfg.ArenaSize = v
	}
	if v := getEnvFloat("SPAWN_HEALTH", 0); v > 0 {
		cfg.SpawnHealth = v
	}
	if v := getEnvFloat("BASE_SPEED", 0); v > 0 {
		cfg.BaseSpeed = v
	}
	cfg.Authoritative = getEnvBool("AUTHORITATIVE", cfg.Authoritative)
	if v := getEnvInt("MAX_ENTITIES", 0); v > 0 {
		cfg.MaxEntities = v
	}
	if v := getEnvInt("SLOW_TICK_MS", 0); v > 0 {
		cfg.SlowTickMs = v
	}
	if v := getEnvInt("COMMAND_BUFFER", 0); v > 0 {
		cfg.CommandBuffer = v
	}

	return cfg
}

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	RateLimit      float64  `yaml:"rate_limit"` // Requests per second per IP
	RateBurst      int      `yaml:"rate_burst"`
	AdminToken     string   `yaml:"-"` // Guards spawn and remove, read from ADMIN_TOKEN only
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port:           3000,
		AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		RateLimit:      20,
		RateBurst:      40,
	}
}

// ServerFromEnv returns server configuration with environment overrides.
func ServerFromEnv() ServerConfig {
	cfg := DefaultServer()

	if p := getEnvInt("PORT", 0); p > 0 {
		cfg.Port = p
	}
	if origins := getEnvString("ALLOWED_ORIGINS", ""); origins != "" {
		cfg.AllowedOrigins = strings.Split(origins, ",")
	}
	if v := getEnvFloat("RATE_LIMIT", 0); v > 0 {
		cfg.RateLimit = v
	}
	if v := getEnvInt("RATE_BURST", 0); v > 0 {
		cfg.RateBurst = v
	}
	cfg.AdminToken = getEnvString("ADMIN_TOKEN", "")

	return cfg
}

// =============================================================================
// DEBUG / OBSERVABILITY CONFIGURATION
// =============================================================================

// DebugConfig controls the pprof + metrics listener.
type DebugConfig struct {
	Enabled  bool
	Port     int
	Username string // Basic auth, empty disables auth
	Password string
}

// DefaultDebug returns the default debug configuration.
func DefaultDebug() DebugConfig {
	return DebugConfig{
		Enabled: true,
		Port:    6060,
	}
}

// DebugFromEnv returns debug configuration with environment overrides.
func DebugFromEnv() DebugConfig {
	cfg := DefaultDebug()

	cfg.Enabled = getEnvBool("DEBUG_ENABLED", cfg.Enabled)
	if p := getEnvInt("DEBUG_PORT", 0); p > 0 {
		cfg.Port = p
	}
	cfg.Username = getEnvString("DEBUG_USER", "")
	cfg.Password = getEnvString("DEBUG_PASS", "")

	return cfg
}

// =============================================================================
// LOGGING CONFIGURATION
// =============================================================================

// LoggingConfig selects logrus level and formatter.
type LoggingConfig struct {
	Level  string
	Format string // "json" or "text"
}

// LoggingFromEnv reads LOG_LEVEL and LOG_FORMAT.
func LoggingFromEnv() LoggingConfig {
	return LoggingConfig{
		Level:  getEnvString("LOG_LEVEL", "info"),
		Format: getEnvString("LOG_FORMAT", "text"),
	}
}

// =============================================================================
// STORAGE CONFIGURATION
// =============================================================================

// StorageConfig holds on-disk locations. Empty paths disable the component.
type StorageConfig struct {
	EventLogPath string // NDJSON event log, zstd compressed when ending in .zst
	StatsDBPath  string // SQLite damage statistics
	CatalogPath  string // Spell catalog YAML, built-in when empty
}

// DefaultStorage returns the default storage configuration.
func DefaultStorage() StorageConfig {
	return StorageConfig{
		EventLogPath: "data/events.ndjson.zst",
		StatsDBPath:  "data/stats.db",
		CatalogPath:  "", // Built-in catalog
	}
}

// StorageFromEnv returns storage configuration with environment overrides.
func StorageFromEnv() StorageConfig {
	cfg := DefaultStorage()

	if v, ok := os.LookupEnv("EVENT_LOG_PATH"); ok {
		cfg.EventLogPath = v
	}
	if v, ok := os.LookupEnv("STATS_DB_PATH"); ok {
		cfg.StatsDBPath = v
	}
	if v, ok := os.LookupEnv("CATALOG_PATH"); ok {
		cfg.CatalogPath = v
	}

	return cfg
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Simulation SimulationConfig
	Server     ServerConfig
	Debug      DebugConfig
	Logging    LoggingConfig
	Storage    StorageConfig
}

// overlay is the subset of AppConfig that may be set from YAML.
type overlay struct {
	Simulation *SimulationConfig `yaml:"simulation"`
	Server     *ServerConfig     `yaml:"server"`
}

// Load returns the complete configuration with environment overrides and,
// when SKIRMISH_CONFIG names a file, the YAML overlay on top.
func Load() (AppConfig, error) {
	cfg := AppConfig{
		Simulation: SimulationFromEnv(),
		Server:     ServerFromEnv(),
		Debug:      DebugFromEnv(),
		Logging:    LoggingFromEnv(),
		Storage:    StorageFromEnv(),
	}

	if path := os.Getenv("SKIRMISH_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config overlay: %w", err)
		}
		if err := ApplyOverlay(&cfg, data); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

// ApplyOverlay decodes YAML into cfg. Keys absent from the document keep
// their current values.
func ApplyOverlay(cfg *AppConfig, data []byte) error {
	ov := overlay{
		Simulation: &cfg.Simulation,
		Server:     &cfg.Server,
	}
	if err := yaml.Unmarshal(data, &ov); err != nil {
		return fmt.Errorf("config overlay: %w", err)
	}
	if cfg.Simulation.TickRate <= 0 {
		return fmt.Errorf("config overlay: tick_rate must be positive, got %d", cfg.Simulation.TickRate)
	}
	return nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
