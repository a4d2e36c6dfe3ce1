package storage

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"availability-watcher/models"
	"availability-watcher/utils"
)

// ErrWriterFailed marks a durable write failure. Once returned, the
// Materializer refuses all further writes.
var ErrWriterFailed = errors.New("materializer: durable write failed")

// MaterializerStats counts write activity.
type MaterializerStats struct {
	RowsAppended int
	Rewrites     int
	LastRewrite  time.Time
	LastRowCount int
}

// liveFile is the handle appends go through; *os.File in production.
type liveFile interface {
	Write(p []byte) (int, error)
	Sync() error
	Stat() (os.FileInfo, error)
	Truncate(size int64) error
	Close() error
}

// Materializer owns the live CSV file and the JSON snapshot. It is the
// only writer of both; appends and rewrites are serialized by mu.
type Materializer struct {
	csvPath      string
	snapshotPath string
	store        *Store
	logger       *utils.Logger

	mu   sync.Mutex
	file liveFile
	// persisted is the number of leading entries (by Seq) contained in
	// the file produced by the last rewrite. Appends skip those.
	persisted int
	err       error
	stats     MaterializerStats
}

// NewMaterializer creates a Materializer for store. Intermediate
// directories are created automatically. No file is touched until the
// first Rewrite, which must happen before any Append.
func NewMaterializer(csvPath, snapshotPath string, store *Store, logger *utils.Logger) (*Materializer, error) {
	for _, p := range []string{csvPath, snapshotPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, fmt.Errorf("materializer: create output dir: %w", err)
		}
	}
	return &Materializer{
		csvPath:      csvPath,
		snapshotPath: snapshotPath,
		store:        store,
		logger:       logger,
	}, nil
}

// Append writes one row per entry to the live file in a single write and
// syncs it. Entries already covered by the last rewrite are skipped.
func (m *Materializer) Append(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	if m.file == nil {
		return errors.New("materializer: append before initial rewrite")
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	rows := 0
	for _, e := range entries {
		if e.Seq < m.persisted {
			continue
		}
		if err := w.Write(e.Record.CSVRow()); err != nil {
			return fmt.Errorf("materializer: encode row: %w", err)
		}
		rows++
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("materializer: encode rows: %w", err)
	}
	if rows == 0 {
		return nil
	}

	info, err := m.file.Stat()
	if err != nil {
		return m.fail("stat %s: %w", m.csvPath, err)
	}
	offset := info.Size()

	if _, err := m.file.Write(buf.Bytes()); err != nil {
		m.rollback(offset)
		return m.fail("append to %s: %w", m.csvPath, err)
	}
	if err := m.file.Sync(); err != nil {
		m.rollback(offset)
		return m.fail("sync %s: %w", m.csvPath, err)
	}
	m.stats.RowsAppended += rows
	return nil
}

// Rewrite renders the whole dataset in canonical order to a fresh file,
// atomically replaces the live CSV with it, then replaces the JSON
// snapshot the same way.
func (m *Materializer) Rewrite() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}

	records := m.store.Snapshot()
	count := len(records)
	models.SortRecords(records)

	err := WriteFileAtomic(m.csvPath, func(w io.Writer) error {
		return writeCSV(w, records)
	})
	if err != nil {
		return m.fail("rewrite: %w", err)
	}

	// The old handle points at the replaced inode.
	if m.file != nil {
		m.file.Close()
		m.file = nil
	}
	f, err := os.OpenFile(m.csvPath, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return m.fail("reopen %s: %w", m.csvPath, err)
	}
	m.file = f
	m.persisted = count

	if err := WriteSnapshot(m.snapshotPath, records); err != nil {
		return m.fail("snapshot: %w", err)
	}

	m.stats.Rewrites++
	m.stats.LastRewrite = time.Now()
	m.stats.LastRowCount = count
	m.logger.Debug("[materializer] Rewrote %s with %d rows", m.csvPath, count)
	return nil
}

// rollback cuts the live file back to offset so a failed append leaves
// no partial row behind. Callers must hold mu.
func (m *Materializer) rollback(offset int64) {
	if err := m.file.Truncate(offset); err != nil {
		m.logger.Error("[materializer] Cannot truncate %s to %d after failed append: %v", m.csvPath, offset, err)
	}
}

// fail poisons the materializer. Callers must hold mu.
func (m *Materializer) fail(format string, args ...any) error {
	m.err = fmt.Errorf("%w: "+format, append([]any{ErrWriterFailed}, args...)...)
	m.logger.Error("[materializer] %v", m.err)
	return m.err
}

// Err returns the sticky write error, if any.
func (m *Materializer) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Stats returns write counters.
func (m *Materializer) Stats() MaterializerStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Close closes the live file handle.
func (m *Materializer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file == nil {
		return nil
	}
	err := m.file.Close()
	m.file = nil
	return err
}

func writeCSV(w io.Writer, records []models.AvailabilityRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(models.CSVHeader); err != nil {
		return fmt.Errorf("csv: write header: %w", err)
	}
	for _, r := range records {
		if err := cw.Write(r.CSVRow()); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
