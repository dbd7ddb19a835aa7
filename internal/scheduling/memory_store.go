package scheduling

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore keeps records in process. Sequence computation and insertion
// happen under one lock so turn numbers are unique per (prefix, date).
type MemoryStore struct {
	mu      sync.Mutex
	limits  Limits
	records []memoryRecord
}

type memoryRecord struct {
	StoredRequest
	prefix string
}

// NewMemoryStore returns an empty store with the given limits. A nil map uses
// DefaultLimits.
func NewMemoryStore(limits Limits) *MemoryStore {
	if limits == nil {
		limits = DefaultLimits()
	}
	copied := make(Limits, len(limits))
	for k, v := range limits {
		copied[k] = v
	}
	return &MemoryStore{limits: copied}
}

func (s *MemoryStore) CapacityLimit(_ context.Context, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	limit, ok := s.limits[key]
	if !ok {
		return 0, fmt.Errorf("scheduling: unknown capacity key %q", key)
	}
	return limit, nil
}

// SetLimit overrides one capacity value.
func (s *MemoryStore) SetLimit(key string, limit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits[key] = limit
}

func (s *MemoryStore) UsedCount(_ context.Context, categories []Category, date time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	day := DateKey(date)
	count := 0
	for _, rec := range s.records {
		if DateKey(rec.AssignedDate) != day {
			continue
		}
		for _, c := range categories {
			if rec.Category == c {
				count++
				break
			}
		}
	}
	return count, nil
}

func (s *MemoryStore) HasExistingAppointment(_ context.Context, patientID string, date time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	day := DateKey(date)
	for _, rec := range s.records {
		if rec.Patient.ID != patientID || DateKey(rec.AssignedDate) != day {
			continue
		}
		if rec.Category == CategoryConsulta || rec.Category == CategoryEcor {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) InsertWithNextTurn(_ context.Context, req NewRequest) (StoredRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	day := DateKey(req.AssignedDate)
	seq := 1
	for _, rec := range s.records {
		if rec.prefix == req.Prefix && DateKey(rec.AssignedDate) == day {
			seq++
		}
	}
	rec := StoredRequest{
		ID:               req.ID,
		Category:         req.Category,
		TurnNumber:       FormatTurn(req.Prefix, seq),
		TurnSeq:          seq,
		AssignedDate:     req.AssignedDate,
		RegistrationTime: req.RegistrationTime,
		Subtype:          req.Subtype,
		Patient:          req.Patient,
		ConversationID:   req.ConversationID,
		CreatedAt:        time.Now().UTC(),
	}
	s.records = append(s.records, memoryRecord{StoredRequest: rec, prefix: req.Prefix})
	return rec, nil
}

func (s *MemoryStore) InsertEmergency(_ context.Context, rec StoredRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.records = append(s.records, memoryRecord{StoredRequest: rec, prefix: PrefixEmergency})
	return nil
}

// Records returns a copy of every stored record in insertion order.
func (s *MemoryStore) Records() []StoredRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StoredRequest, len(s.records))
	for i, rec := range s.records {
		out[i] = rec.StoredRequest
	}
	return out
}
