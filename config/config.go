package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// Config holds all application configuration loaded from environment
// variables and command-line flags.
type Config struct {
	WatchDir        string
	OutputPath      string
	SnapshotPath    string
	ArtifactPattern string

	ResortInterval time.Duration
	SettleDelay    time.Duration

	MaxConcurrency int
	QueueSize      int
	MaxRetries     int

	SkipZeroAvailability bool

	PostgresDSN   string
	MirrorTimeout time.Duration
	LogLevel      string
}

// Load reads the .env file and the environment, then applies flag
// overrides from args (usually os.Args[1:]). pflag.ErrHelp is returned
// unchanged when -h/--help is given.
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	cfg := &Config{
		WatchDir:        getEnv("WATCH_DIR", "screens/NewFolder"),
		OutputPath:      getEnv("CSV_OUTPUT_PATH", "wyndham_availability_realtime.csv"),
		SnapshotPath:    getEnv("SNAPSHOT_PATH", ""),
		ArtifactPattern: getEnv("ARTIFACT_PATTERN", "*network-response*.txt"),

		ResortInterval: getEnvDuration("RESORT_INTERVAL_SECONDS", 60, time.Second),
		SettleDelay:    getEnvDuration("SETTLE_DELAY_MS", 500, time.Millisecond),

		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 4),
		QueueSize:      getEnvInt("QUEUE_SIZE", 64),
		MaxRetries:     getEnvInt("MAX_RETRIES", 3),

		SkipZeroAvailability: getEnvBool("SKIP_ZERO_AVAILABILITY", true),

		PostgresDSN:   getEnv("POSTGRES_DSN", ""),
		MirrorTimeout: getEnvDuration("MIRROR_TIMEOUT_MS", 5000, time.Millisecond),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.parseFlags(args); err != nil {
		return nil, err
	}
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) parseFlags(args []string) error {
	fs := pflag.NewFlagSet("availability-watcher", pflag.ContinueOnError)
	fs.StringVar(&c.WatchDir, "watch-dir", c.WatchDir, "directory tree to watch for capture artifacts")
	fs.StringVar(&c.OutputPath, "output", c.OutputPath, "output CSV path (a bare file name is placed in the watch dir)")
	fs.StringVar(&c.SnapshotPath, "snapshot", c.SnapshotPath, "JSON recovery snapshot path (default: output path with .json)")
	fs.StringVar(&c.ArtifactPattern, "pattern", c.ArtifactPattern, "glob matched against artifact base names")
	resortSeconds := fs.Int("resort-interval", int(c.ResortInterval/time.Second), "seconds between sorted rewrites, 0 to disable")
	settleMs := fs.Int("settle", int(c.SettleDelay/time.Millisecond), "milliseconds a file must be quiet before it is parsed")
	fs.IntVar(&c.MaxConcurrency, "workers", c.MaxConcurrency, "number of parser workers")
	fs.IntVar(&c.QueueSize, "queue-size", c.QueueSize, "capacity of the watcher to worker queue")
	fs.StringVar(&c.PostgresDSN, "postgres-dsn", c.PostgresDSN, "optional PostgreSQL DSN to mirror admitted records into")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("config: unexpected argument %q", fs.Arg(0))
	}

	c.ResortInterval = time.Duration(*resortSeconds) * time.Second
	c.SettleDelay = time.Duration(*settleMs) * time.Millisecond
	return nil
}

// resolvePaths places a bare output file name inside the watch dir and
// derives the snapshot path from the output path when unset.
func (c *Config) resolvePaths() {
	if c.OutputPath != "" && !strings.ContainsAny(c.OutputPath, `/\`) {
		c.OutputPath = filepath.Join(c.WatchDir, c.OutputPath)
	}
	if c.SnapshotPath == "" && c.OutputPath != "" {
		c.SnapshotPath = strings.TrimSuffix(c.OutputPath, filepath.Ext(c.OutputPath)) + ".json"
	}
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.WatchDir == "" {
		errs = append(errs, errors.New("watch dir must not be empty"))
	}
	if c.OutputPath == "" {
		errs = append(errs, errors.New("output path must not be empty"))
	}
	if c.SnapshotPath == c.OutputPath {
		errs = append(errs, errors.New("snapshot path must differ from output path"))
	}
	if _, err := filepath.Match(c.ArtifactPattern, "x"); err != nil {
		errs = append(errs, fmt.Errorf("artifact pattern %q: %w", c.ArtifactPattern, err))
	}
	if c.ResortInterval < 0 {
		errs = append(errs, errors.New("resort interval must not be negative"))
	}
	if c.SettleDelay < 0 {
		errs = append(errs, errors.New("settle delay must not be negative"))
	}
	if c.MirrorTimeout <= 0 {
		errs = append(errs, errors.New("mirror timeout must be positive"))
	}
	if c.MaxConcurrency <= 0 {
		errs = append(errs, errors.New("workers must be positive"))
	}
	if c.QueueSize <= 0 {
		errs = append(errs, errors.New("queue size must be positive"))
	}
	if c.MaxRetries <= 0 {
		errs = append(errs, errors.New("max retries must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

// getEnvDuration reads an integer count of unit, e.g. seconds or milliseconds.
func getEnvDuration(key string, fallback int, unit time.Duration) time.Duration {
	return time.Duration(getEnvInt(key, fallback)) * unit
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}
