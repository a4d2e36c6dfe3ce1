package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"availability-watcher/models"
)

const mirrorColumns = 5

// PostgresMirror copies admitted records into PostgreSQL. Rows are keyed
// by the dedup identity, so replays are no-ops.
type PostgresMirror struct {
	db *sql.DB
}

// NewPostgresMirror opens a connection to PostgreSQL, runs schema
// migrations, and returns a ready-to-use PostgresMirror.
func NewPostgresMirror(ctx context.Context, dsn string) (*PostgresMirror, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		select {
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	pm := &PostgresMirror{db: db}
	if err := pm.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return pm, nil
}

func (pm *PostgresMirror) migrate(ctx context.Context) error {
	_, err := pm.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS availability (
			date                        DATE        NOT NULL,
			offering_id                 TEXT        NOT NULL,
			inventory_offering_hash_key TEXT        NOT NULL,
			inven_offrng_label          TEXT        NOT NULL DEFAULT '',
			available_count             INTEGER     NOT NULL CHECK (available_count >= 0),
			first_seen_at               TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (date, offering_id, inventory_offering_hash_key)
		);

		CREATE INDEX IF NOT EXISTS idx_availability_offering ON availability(offering_id);
	`)
	return err
}

// Write batch-inserts records. Existing keys are left untouched, which
// keeps first-admitted-wins semantics in the mirror as well.
func (pm *PostgresMirror) Write(ctx context.Context, records []models.AvailabilityRecord) error {
	const batchSize = 50
	for i := 0; i < len(records); i += batchSize {
		end := i + batchSize
		if end > len(records) {
			end = len(records)
		}
		query, args := buildMirrorInsert(records[i:end])
		if _, err := pm.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("postgres: insert batch: %w", err)
		}
	}
	return nil
}

func buildMirrorInsert(batch []models.AvailabilityRecord) (string, []any) {
	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]any, 0, len(batch)*mirrorColumns)

	for idx, r := range batch {
		base := idx * mirrorColumns
		valueStrings = append(valueStrings,
			fmt.Sprintf("($%d,$%d,$%d,$%d,$%d)", base+1, base+2, base+3, base+4, base+5))
		valueArgs = append(valueArgs,
			r.DateString(), r.OfferingID, r.InventoryOfferingHashKey, r.InvenOffrngLabel, r.AvailableCount)
	}

	query := fmt.Sprintf(`
		INSERT INTO availability (date, offering_id, inventory_offering_hash_key, inven_offrng_label, available_count)
		VALUES %s
		ON CONFLICT (date, offering_id, inventory_offering_hash_key) DO NOTHING
	`, strings.Join(valueStrings, ","))
	return query, valueArgs
}

// Count returns the number of mirrored rows.
func (pm *PostgresMirror) Count(ctx context.Context) (int, error) {
	var n int
	if err := pm.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM availability`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count: %w", err)
	}
	return n, nil
}

func (pm *PostgresMirror) Close() error {
	return pm.db.Close()
}
