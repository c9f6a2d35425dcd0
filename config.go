package fitsync

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/hyperengineering/fitsync/internal/store"
	"github.com/robfig/cron/v3"
)

// Config configures the fitsync client.
type Config struct {
	// LocalPath is the path to the local SQLite cache.
	// If empty, it is derived from Profile.
	LocalPath string

	// Profile selects the per-account cache under ~/.fitsync/profiles.
	// If empty, resolved using FITSYNC_PROFILE env > "default".
	Profile string

	// APIURL is the base URL of the fitness REST API.
	// If empty, the client only writes locally and queues mutations.
	APIURL string

	// Token is the bearer token attached to remote calls.
	Token string

	// TokenSource overrides Token for hosts that refresh credentials.
	TokenSource TokenSource

	// OfflineMode disables all remote traffic even when APIURL is set.
	OfflineMode bool

	// BatchSize is how many queue items a pass reads at a time.
	// Defaults to 50.
	BatchSize int

	// AutoSync drains after every local write and on SyncSchedule.
	// Reconnects drain regardless. Defaults to true.
	AutoSync bool

	// SyncSchedule is the cron spec of the periodic safety-net drain.
	// Defaults to "@every 5m".
	SyncSchedule string

	// RetryBase and RetryMax bound the backoff between passes while
	// transient failures remain. Default 2s and 5m.
	RetryBase time.Duration
	RetryMax  time.Duration

	// ProbeInterval is how often the daemon pings the API to derive
	// connectivity. Defaults to 30 seconds.
	ProbeInterval time.Duration

	// Logger receives engine events. Defaults to slog.Default().
	Logger *slog.Logger

	// Debug enables verbose logging of all API communications.
	Debug bool

	// DebugLogPath is the path to write debug logs.
	// Defaults to stderr if empty.
	DebugLogPath string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Profile:       store.DefaultProfile,
		LocalPath:     store.ProfileDBPath(store.DefaultRoot(), store.DefaultProfile),
		BatchSize:     50,
		AutoSync:      true,
		SyncSchedule:  "@every 5m",
		RetryBase:     2 * time.Second,
		RetryMax:      5 * time.Minute,
		ProbeInterval: 30 * time.Second,
	}
}

// ConfigFromEnv reads configuration from environment variables.
//
//	FITSYNC_DB_PATH     → LocalPath
//	FITSYNC_PROFILE     → Profile
//	FITSYNC_API_URL     → APIURL
//	FITSYNC_TOKEN       → Token
//	FITSYNC_OFFLINE     → OfflineMode (any non-empty value enables)
//	FITSYNC_BATCH_SIZE  → BatchSize
//	FITSYNC_SCHEDULE    → SyncSchedule
//	FITSYNC_DEBUG       → Debug (any non-empty value enables)
//	FITSYNC_DEBUG_LOG   → DebugLogPath
func ConfigFromEnv() Config {
	cfg := Config{
		LocalPath:    os.Getenv("FITSYNC_DB_PATH"),
		Profile:      os.Getenv(store.ProfileEnv),
		APIURL:       os.Getenv("FITSYNC_API_URL"),
		Token:        os.Getenv("FITSYNC_TOKEN"),
		OfflineMode:  os.Getenv("FITSYNC_OFFLINE") != "",
		SyncSchedule: os.Getenv("FITSYNC_SCHEDULE"),
		AutoSync:     true,
		Debug:        os.Getenv("FITSYNC_DEBUG") != "",
		DebugLogPath: os.Getenv("FITSYNC_DEBUG_LOG"),
	}
	if n, err := strconv.Atoi(os.Getenv("FITSYNC_BATCH_SIZE")); err == nil {
		cfg.BatchSize = n
	}
	return cfg
}

// Validate checks the configuration for errors.
// Returns *ValidationError for invalid fields.
func (c *Config) Validate() error {
	if c.LocalPath == "" {
		return &ValidationError{Field: "LocalPath", Message: "required: path to SQLite database"}
	}

	if c.Profile != "" {
		if err := store.ValidateProfileID(c.Profile); err != nil {
			return &ValidationError{Field: "Profile", Message: err.Error()}
		}
	}

	if c.BatchSize < 0 {
		return &ValidationError{Field: "BatchSize", Message: "must be non-negative"}
	}

	if c.RetryBase < 0 || c.RetryMax < 0 {
		return &ValidationError{Field: "RetryBase", Message: "must be non-negative"}
	}
	if c.RetryMax > 0 && c.RetryBase > c.RetryMax {
		return &ValidationError{Field: "RetryMax", Message: "must not be smaller than RetryBase"}
	}

	if c.ProbeInterval < 0 {
		return &ValidationError{Field: "ProbeInterval", Message: "must be non-negative"}
	}

	if c.SyncSchedule != "" {
		if _, err := cron.ParseStandard(c.SyncSchedule); err != nil {
			return &ValidationError{Field: "SyncSchedule", Message: err.Error()}
		}
	}

	return nil
}

// Tokens returns the configured token source, or nil when there is none.
func (c *Config) Tokens() TokenSource {
	if c.TokenSource != nil {
		return c.TokenSource
	}
	if c.Token != "" {
		return StaticToken(c.Token)
	}
	return nil
}

// IsOffline returns true if the client never talks to the API.
func (c *Config) IsOffline() bool {
	return c.OfflineMode || c.APIURL == ""
}

// WithDefaults fills in default values for unset fields.
// Profile resolution: explicit Profile field > FITSYNC_PROFILE env > "default".
// LocalPath is derived from the resolved profile if not explicitly set.
func (c Config) WithDefaults() Config {
	defaults := DefaultConfig()

	if c.Profile == "" {
		resolved, err := store.ResolveProfile("")
		if err == nil {
			c.Profile = resolved
		} else {
			c.Profile = store.DefaultProfile
		}
	}

	if c.LocalPath == "" {
		c.LocalPath = store.ProfileDBPath(store.DefaultRoot(), c.Profile)
	}

	if c.BatchSize == 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.SyncSchedule == "" {
		c.SyncSchedule = defaults.SyncSchedule
	}
	if c.RetryBase == 0 {
		c.RetryBase = defaults.RetryBase
	}
	if c.RetryMax == 0 {
		c.RetryMax = defaults.RetryMax
	}
	if c.ProbeInterval == 0 {
		c.ProbeInterval = defaults.ProbeInterval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	return c
}
