package cancellation

import (
	"context"
	"sync"
)

// RequestStore holds at most one pending request per assignment.
type RequestStore interface {
	// Put stores req, replacing any request already pending for the assignment.
	Put(ctx context.Context, req Request) error
	// Get returns ErrNoRequest when nothing is pending.
	Get(ctx context.Context, assignmentID string) (Request, error)
	// RecordMismatch atomically decrements the attempts of the request with
	// the given id and returns what is left. It returns ErrNoRequest if that
	// request is no longer pending.
	RecordMismatch(ctx context.Context, assignmentID, requestID string) (int, error)
	// Remove deletes the request with the given id and reports whether this
	// call was the one that removed it.
	Remove(ctx context.Context, assignmentID, requestID string) (bool, error)
}

type MemoryRequestStore struct {
	mu       sync.Mutex
	requests map[string]Request
}

func NewMemoryRequestStore() *MemoryRequestStore {
	return &MemoryRequestStore{requests: make(map[string]Request)}
}

func (s *MemoryRequestStore) Put(_ context.Context, req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.AssignmentID] = req
	return nil
}

func (s *MemoryRequestStore) Get(_ context.Context, assignmentID string) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[assignmentID]
	if !ok {
		return Request{}, ErrNoRequest
	}
	return req, nil
}

func (s *MemoryRequestStore) RecordMismatch(_ context.Context, assignmentID, requestID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[assignmentID]
	if !ok || req.ID != requestID {
		return 0, ErrNoRequest
	}
	req.AttemptsRemaining--
	s.requests[assignmentID] = req
	return req.AttemptsRemaining, nil
}

func (s *MemoryRequestStore) Remove(_ context.Context, assignmentID, requestID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[assignmentID]
	if !ok || req.ID != requestID {
		return false, nil
	}
	delete(s.requests, assignmentID)
	return true, nil
}
