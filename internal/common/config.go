package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Logging     LoggingConfig   `toml:"logging"`
	LLM         LLMConfig       `toml:"llm"`
	Claude      ClaudeConfig    `toml:"claude"`
	Gemini      GeminiConfig    `toml:"gemini"`
	RateLimit   RateLimitConfig `toml:"ratelimit"`
	VNC         VNCConfig       `toml:"vnc"`
	FormFill    FormFillConfig  `toml:"formfill"`
	Batch       BatchConfig     `toml:"batch"`
	Profiles    ProfilesConfig  `toml:"profiles"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
	EncryptionKey  string `toml:"encryption_key"`   // At-rest encryption key (hex); empty disables encryption
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// LLMConfig selects the LLM provider and the gateway behavior shared by all providers.
type LLMConfig struct {
	Provider      string `toml:"provider"`         // "claude" or "gemini"
	MaxRetries    int    `toml:"max_retries"`      // Retry count for transient provider failures
	RetryBackoff  string `toml:"retry_backoff"`    // Initial backoff between retries, e.g. "500ms"
	PerJobBudget  int    `toml:"per_job_budget"`   // Max LLM calls charged to a user across all passes of one job
	ReserveSlots  int    `toml:"reserve_slots"`    // Concurrent in-flight LLM calls granted by the reservation queue
	ReserveWaitMs int    `toml:"reserve_wait_ms"`  // Max wait for a reservation grant before deferring the batch
	MinutePace    int    `toml:"minute_pace"`      // Token-bucket pacing for the global minute budget (calls/min)
}

type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	MaxTokens   int     `toml:"max_tokens"`
	Temperature float32 `toml:"temperature"`
	Timeout     string  `toml:"timeout"`
}

type GeminiConfig struct {
	GoogleAPIKey string  `toml:"google_api_key"`
	Model        string  `toml:"model"`
	Temperature  float32 `toml:"temperature"`
	Timeout      string  `toml:"timeout"`
}

// RateLimitConfig declares the sliding-window limit table and the admin bypass list.
// Limits are configuration, not code: each entry maps a recognized limit key to a
// window duration and a max count inside that window.
type RateLimitConfig struct {
	AdminEmails []string               `toml:"admin_emails"` // Identities that bypass all checks
	Limits      map[string]LimitConfig `toml:"limits"`
}

type LimitConfig struct {
	Window string `toml:"window"` // e.g. "1m", "24h"
	Max    int    `toml:"max"`
}

// VNCConfig controls the per-host VNC session fleet.
type VNCConfig struct {
	DisplayBase    int    `toml:"display_base"`    // First X display number (display_num = base + i)
	VNCPortBase    int    `toml:"vnc_port_base"`   // First VNC port (vnc_port = base + i)
	WSPortBase     int    `toml:"ws_port_base"`    // First WebSocket bridge port (ws_port = base + i)
	MaxSessions    int    `toml:"max_sessions"`    // Concurrency cap per host
	SandboxRoot    string `toml:"sandbox_root"`    // Root for per-session sandbox homes
	SandboxUser    string `toml:"sandbox_user"`    // Low-privilege OS identity for the browser; empty runs as current user
	BrowserBinary  string `toml:"browser_binary"`  // Chromium/Chrome binary path
	ScreenGeometry string `toml:"screen_geometry"` // Xvfb geometry, e.g. "1280x800x24"
	RecoveryWindow string `toml:"recovery_window"` // Recreate sessions no older than this on restart
	IdleHorizon    string `toml:"idle_horizon"`    // Cleanup sweep closes sessions idle past this
	SweepSchedule  string `toml:"sweep_schedule"`  // Cron schedule for the cleanup sweep
	Host           string `toml:"host"`            // Advertised host for viewer URLs
}

// FormFillConfig tunes the field engine.
type FormFillConfig struct {
	MaxPasses           int     `toml:"max_passes"`           // Pass bound K per page navigation
	MaxRetries          int     `toml:"max_retries"`          // Per-field interaction retries
	SettleWait          string  `toml:"settle_wait"`          // Wait before post-action read-back
	RetryBackoff        string  `toml:"retry_backoff"`        // Initial backoff between field retries
	SimilarityThreshold float64 `toml:"similarity_threshold"` // Word-Jaccard acceptance for noisy option labels
	SkillsCap           int     `toml:"skills_cap"`           // Max entries committed to a skills multiselect
	CatalogDir          string  `toml:"catalog_dir"`          // Optional YAML overrides for synonym/sensitive catalogs
}

type BatchConfig struct {
	MaxURLs              int `toml:"max_urls"`               // Max job URLs per batch
	MaxConcurrentBatches int `toml:"max_concurrent_batches"` // Cross-batch parallelism bound
}

// ProfilesConfig points the file-backed profile provider at its data directory.
type ProfilesConfig struct {
	Dir string `toml:"dir"` // Directory of <user_id>.json profile files
}

// LoadFromFiles loads configuration with layered precedence:
// defaults -> file1 -> file2 -> ... -> environment variables.
// Later files override earlier ones; env overrides all files.
func LoadFromFiles(paths ...string) (*Config, error) {
	cfg := DefaultConfig()

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyFlagOverrides applies command-line flag values (highest priority).
func ApplyFlagOverrides(cfg *Config, port int, host string) {
	if port != 0 {
		cfg.Server.Port = port
	}
	if host != "" {
		cfg.Server.Host = host
	}
}

// applyEnvOverrides maps PETO_* environment variables onto config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PETO_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PETO_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("PETO_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PETO_STORAGE_PATH"); v != "" {
		cfg.Storage.Badger.Path = v
	}
	if v := os.Getenv("PETO_ENCRYPTION_KEY"); v != "" {
		cfg.Storage.Badger.EncryptionKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && cfg.Claude.APIKey == "" {
		cfg.Claude.APIKey = v
	}
	if v := os.Getenv("PETO_CLAUDE_API_KEY"); v != "" {
		cfg.Claude.APIKey = v
	}
	if v := os.Getenv("PETO_GEMINI_GOOGLE_API_KEY"); v != "" {
		cfg.Gemini.GoogleAPIKey = v
	}
	if v := os.Getenv("PETO_ADMIN_EMAILS"); v != "" {
		cfg.RateLimit.AdminEmails = splitAndTrim(v)
	}
	if v := os.Getenv("PETO_VNC_MAX_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.VNC.MaxSessions = n
		}
	}
	if v := os.Getenv("PETO_SANDBOX_ROOT"); v != "" {
		cfg.VNC.SandboxRoot = v
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Validate checks config invariants that would otherwise surface as
// confusing runtime failures (overlapping port ranges, zero caps).
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.VNC.MaxSessions <= 0 {
		return fmt.Errorf("vnc.max_sessions must be positive, got %d", c.VNC.MaxSessions)
	}
	// Port ranges must not overlap for any i in [0, max_sessions)
	if overlap(c.VNC.VNCPortBase, c.VNC.WSPortBase, c.VNC.MaxSessions) {
		return fmt.Errorf("vnc port range [%d,%d) overlaps websocket range [%d,%d)",
			c.VNC.VNCPortBase, c.VNC.VNCPortBase+c.VNC.MaxSessions,
			c.VNC.WSPortBase, c.VNC.WSPortBase+c.VNC.MaxSessions)
	}
	if c.Batch.MaxURLs <= 0 {
		return fmt.Errorf("batch.max_urls must be positive, got %d", c.Batch.MaxURLs)
	}
	if c.FormFill.MaxPasses <= 0 {
		return fmt.Errorf("formfill.max_passes must be positive, got %d", c.FormFill.MaxPasses)
	}
	for key, lim := range c.RateLimit.Limits {
		if _, err := time.ParseDuration(lim.Window); err != nil {
			return fmt.Errorf("ratelimit.limits.%s: invalid window %q: %w", key, lim.Window, err)
		}
		if lim.Max <= 0 {
			return fmt.Errorf("ratelimit.limits.%s: max must be positive", key)
		}
	}
	return nil
}

func overlap(a, b, n int) bool {
	return a < b+n && b < a+n
}

// ParseDurationOr returns the parsed duration or the fallback when s is
// empty or malformed. Used for config fields carried as strings in TOML.
func ParseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
