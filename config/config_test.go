package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"WATCH_DIR", "CSV_OUTPUT_PATH", "SNAPSHOT_PATH", "RESORT_INTERVAL_SECONDS", "MAX_CONCURRENCY", "MIRROR_TIMEOUT_MS"} {
		t.Setenv(key, "")
	}

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "screens/NewFolder", cfg.WatchDir)
	assert.Equal(t, filepath.Join("screens/NewFolder", "wyndham_availability_realtime.csv"), cfg.OutputPath)
	assert.Equal(t, filepath.Join("screens/NewFolder", "wyndham_availability_realtime.json"), cfg.SnapshotPath)
	assert.Equal(t, 60*time.Second, cfg.ResortInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.SettleDelay)
	assert.Equal(t, "*network-response*.txt", cfg.ArtifactPattern)
	assert.True(t, cfg.SkipZeroAvailability)
	assert.Equal(t, 5*time.Second, cfg.MirrorTimeout)
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("TEST_SETTLE_MS", "250")
	t.Setenv("TEST_BROKEN_MS", "soon")

	assert.Equal(t, 250*time.Millisecond, getEnvDuration("TEST_SETTLE_MS", 10, time.Millisecond))
	assert.Equal(t, 10*time.Millisecond, getEnvDuration("TEST_BROKEN_MS", 10, time.Millisecond))
	assert.Equal(t, 2*time.Second, getEnvDuration("TEST_UNSET_SECONDS", 2, time.Second))
}

func TestLoadEnvAndFlags(t *testing.T) {
	t.Setenv("WATCH_DIR", "/data/captures")
	t.Setenv("RESORT_INTERVAL_SECONDS", "30")
	t.Setenv("MAX_CONCURRENCY", "not-a-number")
	t.Setenv("SKIP_ZERO_AVAILABILITY", "false")

	cfg, err := Load([]string{"--output", "/data/out/avail.csv", "--resort-interval", "15", "--workers", "8"})
	require.NoError(t, err)

	assert.Equal(t, "/data/captures", cfg.WatchDir)
	assert.Equal(t, "/data/out/avail.csv", cfg.OutputPath)
	assert.Equal(t, "/data/out/avail.json", cfg.SnapshotPath)
	assert.Equal(t, 15*time.Second, cfg.ResortInterval)
	assert.Equal(t, 8, cfg.MaxConcurrency)
	assert.False(t, cfg.SkipZeroAvailability)
}

func TestLoadHelp(t *testing.T) {
	_, err := Load([]string{"--help"})
	assert.ErrorIs(t, err, pflag.ErrHelp)
}

func TestLoadRejectsStrayArgument(t *testing.T) {
	_, err := Load([]string{"extra"})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			WatchDir:        "in",
			OutputPath:      "out.csv",
			SnapshotPath:    "out.json",
			ArtifactPattern: "*.txt",
			ResortInterval:  time.Minute,
			MaxConcurrency:  1,
			QueueSize:       1,
			MaxRetries:      1,
			MirrorTimeout:   time.Second,
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"empty watch dir", func(c *Config) { c.WatchDir = "" }},
		{"empty output", func(c *Config) { c.OutputPath = "" }},
		{"snapshot equals output", func(c *Config) { c.SnapshotPath = c.OutputPath }},
		{"bad pattern", func(c *Config) { c.ArtifactPattern = "[" }},
		{"negative interval", func(c *Config) { c.ResortInterval = -time.Second }},
		{"zero workers", func(c *Config) { c.MaxConcurrency = 0 }},
		{"zero queue", func(c *Config) { c.QueueSize = 0 }},
		{"zero mirror timeout", func(c *Config) { c.MirrorTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
