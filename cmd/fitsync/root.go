package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperengineering/fitsync"
	internalsync "github.com/hyperengineering/fitsync/internal/sync"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	cfgFile    string
	outputJSON bool
)

var rootCmd = &cobra.Command{
	Use:   "fitsync",
	Short: "fitsync - offline-first workout logging",
	Long: `fitsync logs workouts to a local cache and replays every change
against the fitness API once the device is online.

Writes never wait for the network. Run 'fitsync sync' to replay the
queue now, or 'fitsync daemon' to keep it drained in the background.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Config file (default: ~/.fitsync/config.yaml)")
	flags.String("db", "", "Path to local SQLite cache (default: derived from profile)")
	flags.String("profile", "", "Account profile selecting the local cache")
	flags.String("api-url", "", "Base URL of the fitness API")
	flags.String("token", "", "Bearer token for the fitness API")
	flags.Bool("offline", false, "Queue changes without contacting the API")
	flags.Bool("debug", false, "Trace API traffic and log verbosely")
	flags.String("log-file", "", "Write logs to a rotating file instead of stderr")
	flags.BoolVar(&outputJSON, "json", false, "Output in JSON format")

	rootCmd.AddCommand(workoutCmd)
	rootCmd.AddCommand(exerciseCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(routineCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(pendingCmd)
	rootCmd.AddCommand(deadLettersCmd)
}

// configKeys maps viper keys to the persistent flags that override them.
// Environment variables use the FITSYNC_ prefix and the upper-cased key.
var configKeys = map[string]string{
	"db_path":        "db",
	"profile":        "profile",
	"api_url":        "api-url",
	"token":          "token",
	"offline":        "offline",
	"debug":          "debug",
	"log_file":       "log-file",
	"debug_log":      "",
	"schedule":       "",
	"batch_size":     "",
	"probe_interval": "",
}

// newViper layers flags over FITSYNC_* env vars over the config file.
func newViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("FITSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for key, flag := range configKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
		if flag == "" {
			continue
		}
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".fitsync"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// loadConfig resolves the client configuration for cmd.
func loadConfig(cmd *cobra.Command) (fitsync.Config, error) {
	v, err := newViper(cmd)
	if err != nil {
		return fitsync.Config{}, err
	}

	// Profile and LocalPath stay empty unless configured so that
	// WithDefaults derives the cache path from the resolved profile.
	cfg := fitsync.DefaultConfig()
	cfg.Profile = v.GetString("profile")
	cfg.LocalPath = v.GetString("db_path")
	cfg.APIURL = v.GetString("api_url")
	cfg.Token = v.GetString("token")
	cfg.OfflineMode = v.GetBool("offline")
	cfg.Debug = v.GetBool("debug")
	cfg.DebugLogPath = v.GetString("debug_log")
	if s := v.GetString("schedule"); s != "" {
		cfg.SyncSchedule = s
	}
	if n := v.GetInt("batch_size"); n > 0 {
		cfg.BatchSize = n
	}
	if d := v.GetDuration("probe_interval"); d > 0 {
		cfg.ProbeInterval = d
	}
	level := slog.LevelWarn
	if cmd.Annotations[annotationLogLevel] == "info" {
		level = slog.LevelInfo
	}
	if cfg.Debug {
		level = slog.LevelDebug
	}
	cfg.Logger = newLogger(cmd.ErrOrStderr(), level, v.GetString("log_file"))

	secret = cfg.Token
	return cfg, nil
}

// annotationLogLevel lets long-running commands raise the default log
// level. Interactive commands only log warnings unless --debug is set.
const annotationLogLevel = "fitsync/log-level"

// newLogger builds the slog logger handed to the engine.
func newLogger(stderr io.Writer, level slog.Level, logFile string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	if logFile != "" {
		return slog.New(slog.NewJSONHandler(&lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		}, opts))
	}
	return slog.New(slog.NewTextHandler(stderr, opts))
}

// app bundles a client with the resources opened for it.
type app struct {
	client *fitsync.Client
	remote fitsync.Remote
	config fitsync.Config
	debug  *fitsync.DebugLogger
}

// openApp loads configuration and opens the client. One-shot commands pass
// autoSync=false so the process does not start background drains it would
// immediately abandon.
func openApp(cmd *cobra.Command, autoSync bool) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	cfg.AutoSync = autoSync
	cfg = cfg.WithDefaults()

	a := &app{config: cfg}
	if !cfg.IsOffline() {
		a.debug = fitsync.NewDebugLogger(cfg.Debug, cfg.DebugLogPath)
		a.remote = internalsync.NewHTTPClient(cfg.APIURL, cfg.Tokens()).
			WithDebugLogger(a.debug).
			WithUserAgent("fitsync-cli/" + version)
	}

	client, err := fitsync.New(cfg, a.remote)
	if err != nil {
		_ = a.debug.Close()
		return nil, fmt.Errorf("initialize client: %w", err)
	}
	a.client = client
	return a, nil
}

// Close closes the client and the debug log.
func (a *app) Close() error {
	err := a.client.Close()
	if derr := a.debug.Close(); err == nil {
		err = derr
	}
	return err
}
