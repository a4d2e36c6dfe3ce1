package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"availability-watcher/config"
	"availability-watcher/models"
	"availability-watcher/pipeline"
	"availability-watcher/storage"
	"availability-watcher/utils"
)

type nopSink struct{}

func (nopSink) Write(context.Context, []models.AvailabilityRecord) error { return nil }
func (nopSink) Close() error                                             { return nil }

func newTestCoordinator(t *testing.T, logger *utils.Logger) *pipeline.Coordinator {
	t.Helper()
	base := t.TempDir()
	c, err := pipeline.New(&config.Config{
		WatchDir:        filepath.Join(base, "captures"),
		OutputPath:      filepath.Join(base, "availability.csv"),
		SnapshotPath:    filepath.Join(base, "availability.json"),
		ArtifactPattern: "*network-response*.txt",
		ResortInterval:  time.Minute,
		SettleDelay:     10 * time.Millisecond,
		MaxConcurrency:  1,
		QueueSize:       1,
		MaxRetries:      1,
		MirrorTimeout:   time.Second,
	}, logger)
	require.NoError(t, err)
	return c
}

func TestAttachMirrorContinuesWhenDatabaseUnreachable(t *testing.T) {
	var buf bytes.Buffer
	logger := utils.NewLoggerTo(&buf, "info")
	c := newTestCoordinator(t, logger)

	refused := func(context.Context, string) (storage.RecordSink, error) {
		return nil, errors.New("postgres: ping failed after retries: connection refused")
	}

	assert.False(t, attachMirror(context.Background(), c, logger, "postgres://unreachable", refused))
	assert.Contains(t, buf.String(), "continuing without it")
	assert.Contains(t, buf.String(), "level=warning")
}

func TestAttachMirrorConnects(t *testing.T) {
	var buf bytes.Buffer
	logger := utils.NewLoggerTo(&buf, "info")
	c := newTestCoordinator(t, logger)

	var gotDSN string
	connect := func(_ context.Context, dsn string) (storage.RecordSink, error) {
		gotDSN = dsn
		return nopSink{}, nil
	}

	assert.True(t, attachMirror(context.Background(), c, logger, "postgres://db/avail", connect))
	assert.Equal(t, "postgres://db/avail", gotDSN)
	assert.Contains(t, buf.String(), "Mirroring admitted records")
}
