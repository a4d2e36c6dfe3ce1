package storage

import (
	"context"

	"availability-watcher/models"
)

// RecordSink is a secondary destination for newly admitted records.
// Sinks are best effort; the Materializer output stays authoritative.
type RecordSink interface {
	Write(ctx context.Context, records []models.AvailabilityRecord) error
	Close() error
}
