package storage

import (
	"sync"

	"availability-watcher/models"
)

// Entry is an admitted record together with its admission sequence number.
// Sequence numbers start at 0 and have no gaps.
type Entry struct {
	Seq    int
	Record models.AvailabilityRecord
}

// StoreStats counts admission outcomes.
type StoreStats struct {
	Admitted   int
	Duplicates int
}

// Store is the in-memory dataset of admitted records keyed by DedupKey.
// It is safe for concurrent use; Admit and AdmitBatch are atomic
// check-and-insert operations.
type Store struct {
	mu         sync.RWMutex
	index      map[models.DedupKey]int
	records    []models.AvailabilityRecord
	duplicates int
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{index: make(map[models.DedupKey]int)}
}

// Admit inserts r and returns true if its key is unseen. A record whose
// key is already present is discarded and false is returned.
func (s *Store) Admit(r models.AvailabilityRecord) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.admitLocked(r)
}

// AdmitBatch admits each record in order under one lock acquisition and
// returns the entries that were newly admitted.
func (s *Store) AdmitBatch(records []models.AvailabilityRecord) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var admitted []Entry
	for _, r := range records {
		if e, ok := s.admitLocked(r); ok {
			admitted = append(admitted, e)
		}
	}
	return admitted
}

func (s *Store) admitLocked(r models.AvailabilityRecord) (Entry, bool) {
	key := r.Key()
	if _, exists := s.index[key]; exists {
		s.duplicates++
		return Entry{}, false
	}
	seq := len(s.records)
	s.records = append(s.records, r)
	s.index[key] = seq
	return Entry{Seq: seq, Record: r}, true
}

// Snapshot returns a copy of all admitted records in admission order.
// The copy holds exactly the records with Seq < len(result).
func (s *Store) Snapshot() []models.AvailabilityRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.AvailabilityRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Get returns the admitted record for key, if any.
func (s *Store) Get(key models.DedupKey) (models.AvailabilityRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seq, ok := s.index[key]
	if !ok {
		return models.AvailabilityRecord{}, false
	}
	return s.records[seq], true
}

// Len returns the number of admitted records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Stats returns admission counters.
func (s *Store) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StoreStats{Admitted: len(s.records), Duplicates: s.duplicates}
}
