package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"availability-watcher/models"
)

// WriteSnapshot atomically writes records as a JSON array of SnapshotEntry.
func WriteSnapshot(path string, records []models.AvailabilityRecord) error {
	entries := make([]models.SnapshotEntry, len(records))
	for i, r := range records {
		entries[i] = r.ToSnapshotEntry()
	}
	return WriteFileAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	})
}

// LoadSnapshot reads a snapshot written by WriteSnapshot. A missing file
// yields no records and no error. Entries that fail validation are
// skipped and counted in invalid.
func LoadSnapshot(path string) (records []models.AvailabilityRecord, invalid int, err error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("snapshot: open %s: %w", path, err)
	}
	defer f.Close()

	var entries []models.SnapshotEntry
	if err := json.NewDecoder(f).Decode(&entries); err != nil {
		return nil, 0, fmt.Errorf("snapshot: decode %s: %w", path, err)
	}

	records = make([]models.AvailabilityRecord, 0, len(entries))
	for _, e := range entries {
		r, err := e.Record()
		if err != nil {
			invalid++
			continue
		}
		records = append(records, r)
	}
	return records, invalid, nil
}
