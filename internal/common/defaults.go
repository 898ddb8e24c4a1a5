package common

// Recognized rate-limit keys. Limits are defined by configuration; these
// constants only name the windows the core consults.
const (
	LimitLLMPerMinute       = "llm_per_minute"
	LimitLLMPerDay          = "llm_per_day"
	LimitTailorPerDay       = "tailor_per_user_day"
	LimitApplicationsPerDay = "applications_per_user_day"
	LimitAPIPerMinute       = "api_per_user_minute"
	LimitConcurrentTailor   = "concurrent_tailoring"
	LimitConcurrentSessions = "concurrent_applications"
)

// DefaultConfig returns the built-in configuration. Every value here can be
// overridden by config files, environment variables, or CLI flags.
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path:           "./data/peto",
				ResetOnStartup: false,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
		LLM: LLMConfig{
			Provider:      "claude",
			MaxRetries:    3,
			RetryBackoff:  "500ms",
			PerJobBudget:  12,
			ReserveSlots:  4,
			ReserveWaitMs: 15000,
			MinutePace:    30,
		},
		Claude: ClaudeConfig{
			Model:       "claude-sonnet-4-20250514",
			MaxTokens:   4096,
			Temperature: 0.2,
			Timeout:     "60s",
		},
		Gemini: GeminiConfig{
			Model:       "gemini-2.0-flash",
			Temperature: 0.2,
			Timeout:     "60s",
		},
		RateLimit: RateLimitConfig{
			Limits: map[string]LimitConfig{
				LimitLLMPerMinute:       {Window: "1m", Max: 30},
				LimitLLMPerDay:          {Window: "24h", Max: 2000},
				LimitTailorPerDay:       {Window: "24h", Max: 10},
				LimitApplicationsPerDay: {Window: "24h", Max: 50},
				LimitAPIPerMinute:       {Window: "1m", Max: 120},
				LimitConcurrentTailor:   {Window: "1h", Max: 2},
				LimitConcurrentSessions: {Window: "1h", Max: 3},
			},
		},
		VNC: VNCConfig{
			DisplayBase:    90,
			VNCPortBase:    5990,
			WSPortBase:     6090,
			MaxSessions:    8,
			SandboxRoot:    "/var/lib/peto/sandboxes",
			BrowserBinary:  "chromium",
			ScreenGeometry: "1280x800x24",
			RecoveryWindow: "24h",
			IdleHorizon:    "45m",
			SweepSchedule:  "*/5 * * * *",
			Host:           "localhost",
		},
		FormFill: FormFillConfig{
			MaxPasses:           4,
			MaxRetries:          3,
			SettleWait:          "300ms",
			RetryBackoff:        "250ms",
			SimilarityThreshold: 0.8,
			SkillsCap:           10,
		},
		Batch: BatchConfig{
			MaxURLs:              10,
			MaxConcurrentBatches: 4,
		},
		Profiles: ProfilesConfig{
			Dir: "./profiles",
		},
	}
}
