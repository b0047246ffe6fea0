package memstore

import (
	"context"
	"sync"
	"time"

	"crypify/internal/domain/claim"
)

// ClaimedSet is a process-local claim.ClaimedSet. It is durable only for the life of the
// process.
type ClaimedSet struct {
	mu      sync.Mutex
	records map[string]claim.Record
}

// NewClaimedSet builds an empty ClaimedSet.
func NewClaimedSet() *ClaimedSet {
	return &ClaimedSet{records: make(map[string]claim.Record)}
}

// Reserve implements claim.ClaimedSet.
func (s *ClaimedSet) Reserve(_ context.Context, rec claim.Record) (claim.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[rec.TokenHash]; ok {
		return existing, false, nil
	}
	rec.Status = claim.StatusPending
	s.records[rec.TokenHash] = rec
	return rec, true, nil
}

// Complete implements claim.ClaimedSet.
func (s *ClaimedSet) Complete(_ context.Context, tokenHash, txID string, at time.Time) (claim.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[tokenHash]
	if !ok {
		return claim.Record{}, claim.ErrRecordNotFound
	}
	if rec.Status == claim.StatusClaimed {
		return rec, nil
	}
	rec.Status = claim.StatusClaimed
	rec.TransactionID = txID
	rec.ClaimedAt = at
	s.records[tokenHash] = rec
	return rec, nil
}

// Release implements claim.ClaimedSet.
func (s *ClaimedSet) Release(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[tokenHash]; ok && rec.Status != claim.StatusClaimed {
		delete(s.records, tokenHash)
	}
	return nil
}

// MarkUnknown implements claim.ClaimedSet.
func (s *ClaimedSet) MarkUnknown(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[tokenHash]
	if !ok {
		return claim.ErrRecordNotFound
	}
	if rec.Status == claim.StatusPending {
		rec.Status = claim.StatusUnknown
		s.records[tokenHash] = rec
	}
	return nil
}

// Get implements claim.ClaimedSet.
func (s *ClaimedSet) Get(_ context.Context, tokenHash string) (claim.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[tokenHash]
	if !ok {
		return claim.Record{}, claim.ErrRecordNotFound
	}
	return rec, nil
}
