package models

import (
	"sort"
	"strconv"
	"time"
)

// DateLayout is the calendar-date format used in payloads, CSV rows and snapshots.
const DateLayout = "2006-01-02"

// AvailabilityRecord is one room-type availability fact for one date.
// It is treated as immutable once constructed.
type AvailabilityRecord struct {
	Date                     time.Time
	OfferingID               string
	InventoryOfferingHashKey string
	InvenOffrngLabel         string
	AvailableCount           int
}

// DedupKey identifies the logical fact a record describes.
type DedupKey struct {
	Date                     string
	OfferingID               string
	InventoryOfferingHashKey string
}

// Key returns the record's dedup identity.
func (r AvailabilityRecord) Key() DedupKey {
	return DedupKey{
		Date:                     r.DateString(),
		OfferingID:               r.OfferingID,
		InventoryOfferingHashKey: r.InventoryOfferingHashKey,
	}
}

// DateString formats the record date as YYYY-MM-DD.
func (r AvailabilityRecord) DateString() string {
	return r.Date.Format(DateLayout)
}

// CSVHeader lists the output columns in order.
var CSVHeader = []string{"date", "offeringId", "inventoryOfferingHashKey", "invenOffrngLabel", "availableCount"}

// CSVRow renders the record in CSVHeader column order.
func (r AvailabilityRecord) CSVRow() []string {
	return []string{
		r.DateString(),
		r.OfferingID,
		r.InventoryOfferingHashKey,
		r.InvenOffrngLabel,
		strconv.Itoa(r.AvailableCount),
	}
}

// Less reports whether a sorts before b in canonical order:
// date, then offeringId, then inventoryOfferingHashKey.
func Less(a, b AvailabilityRecord) bool {
	if !a.Date.Equal(b.Date) {
		return a.Date.Before(b.Date)
	}
	if a.OfferingID != b.OfferingID {
		return a.OfferingID < b.OfferingID
	}
	return a.InventoryOfferingHashKey < b.InventoryOfferingHashKey
}

// SortRecords sorts records in place in canonical order.
func SortRecords(records []AvailabilityRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return Less(records[i], records[j])
	})
}
