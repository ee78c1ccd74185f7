// Package memory is an in-memory implementation of the call store, used in
// tests and for ephemeral deployments.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/apexsec/voice-dispatch/internal/domain"
	"github.com/apexsec/voice-dispatch/internal/storage"
)

// Store is an in-memory implementation of storage.CallStore.
type Store struct {
	mu        sync.RWMutex
	calls     map[string]*storage.CallRecord
	turns     map[string][]domain.Turn
	actions   map[string][]domain.Action
	incidents map[string]*storage.IncidentRecord
}

var _ storage.CallStore = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		calls:     make(map[string]*storage.CallRecord),
		turns:     make(map[string][]domain.Turn),
		actions:   make(map[string][]domain.Action),
		incidents: make(map[string]*storage.IncidentRecord),
	}
}

func (s *Store) CreateCall(ctx context.Context, rec *storage.CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.calls[rec.CallID]; exists {
		return fmt.Errorf("call %s already exists", rec.CallID)
	}

	cp := *rec
	cp.UpdatedAt = time.Now()
	s.calls[rec.CallID] = &cp
	return nil
}

func (s *Store) UpdateCallState(ctx context.Context, callID string, state domain.CallState, endReason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.calls[callID]
	if !exists {
		return fmt.Errorf("call %s not found", callID)
	}

	rec.State = state
	if endReason != "" {
		rec.EndReason = endReason
	}
	rec.UpdatedAt = time.Now()
	return nil
}

func (s *Store) AppendTurn(ctx context.Context, callID string, turn domain.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.calls[callID]; !exists {
		return fmt.Errorf("call %s not found", callID)
	}

	s.turns[callID] = append(s.turns[callID], turn)
	return nil
}

func (s *Store) AppendAction(ctx context.Context, callID string, action domain.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.calls[callID]; !exists {
		return fmt.Errorf("call %s not found", callID)
	}

	s.actions[callID] = append(s.actions[callID], action)
	return nil
}

func (s *Store) CreateIncident(ctx context.Context, rec *storage.IncidentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.incidents[rec.IncidentID]; exists {
		return fmt.Errorf("incident %s already exists", rec.IncidentID)
	}

	cp := *rec
	cp.CreatedAt = time.Now()
	s.incidents[rec.IncidentID] = &cp

	if call, ok := s.calls[rec.CallID]; ok {
		call.IncidentID = rec.IncidentID
		call.UpdatedAt = time.Now()
	}
	return nil
}

func (s *Store) GetCall(ctx context.Context, callID string) (*storage.CallRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.calls[callID]
	if !exists {
		return nil, fmt.Errorf("call %s not found", callID)
	}

	cp := *rec
	return &cp, nil
}

func (s *Store) GetTurns(ctx context.Context, callID string) ([]domain.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.calls[callID]; !exists {
		return nil, fmt.Errorf("call %s not found", callID)
	}

	return append([]domain.Turn(nil), s.turns[callID]...), nil
}

func (s *Store) GetActions(ctx context.Context, callID string) ([]domain.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.calls[callID]; !exists {
		return nil, fmt.Errorf("call %s not found", callID)
	}

	return append([]domain.Action(nil), s.actions[callID]...), nil
}

// GetIncident returns a stored incident by ID. Used in tests and by the
// default store-backed incident creator.
func (s *Store) GetIncident(ctx context.Context, incidentID string) (*storage.IncidentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.incidents[incidentID]
	if !exists {
		return nil, fmt.Errorf("incident %s not found", incidentID)
	}

	cp := *rec
	return &cp, nil
}

func (s *Store) Close() error {
	return nil
}
