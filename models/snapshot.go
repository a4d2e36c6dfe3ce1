package models

import (
	"fmt"
	"strings"
	"time"
)

// SnapshotEntry is the JSON shape of a record in the recovery snapshot.
type SnapshotEntry struct {
	Date                     string `json:"date"`
	OfferingID               string `json:"offeringId"`
	InventoryOfferingHashKey string `json:"inventoryOfferingHashKey"`
	InvenOffrngLabel         string `json:"invenOffrngLabel"`
	AvailableCount           int    `json:"availableCount"`
}

// ToSnapshotEntry converts a record for snapshot serialization.
func (r AvailabilityRecord) ToSnapshotEntry() SnapshotEntry {
	return SnapshotEntry{
		Date:                     r.DateString(),
		OfferingID:               r.OfferingID,
		InventoryOfferingHashKey: r.InventoryOfferingHashKey,
		InvenOffrngLabel:         r.InvenOffrngLabel,
		AvailableCount:           r.AvailableCount,
	}
}

// Record validates the entry and converts it back into a record.
func (e SnapshotEntry) Record() (AvailabilityRecord, error) {
	date, err := ParseDate(e.Date)
	if err != nil {
		return AvailabilityRecord{}, err
	}
	if e.OfferingID == "" || e.InventoryOfferingHashKey == "" {
		return AvailabilityRecord{}, fmt.Errorf("snapshot entry for %s: missing identity field", e.Date)
	}
	if e.AvailableCount < 0 {
		return AvailabilityRecord{}, fmt.Errorf("snapshot entry for %s: negative availableCount %d", e.Date, e.AvailableCount)
	}
	return AvailabilityRecord{
		Date:                     date,
		OfferingID:               e.OfferingID,
		InventoryOfferingHashKey: e.InventoryOfferingHashKey,
		InvenOffrngLabel:         e.InvenOffrngLabel,
		AvailableCount:           e.AvailableCount,
	}, nil
}

// ParseDate accepts YYYY-MM-DD, or an RFC 3339 timestamp whose calendar date is used.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	if len(s) > len(DateLayout) {
		if t, err := time.Parse(DateLayout, s[:len(DateLayout)]); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}
