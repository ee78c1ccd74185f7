// Package storage defines the persistence interface for call records,
// transcripts, the action audit log, and incidents. Persistence is
// best-effort from the call path's perspective: writers log failures rather
// than failing the call.
package storage

import (
	"context"
	"time"

	"github.com/apexsec/voice-dispatch/internal/domain"
)

// CallRecord is the persisted view of a call.
type CallRecord struct {
	CallID        string
	SessionID     string
	CallerAddress string
	State         domain.CallState
	IncidentID    string
	EndReason     string
	StartedAt     time.Time
	UpdatedAt     time.Time
}

// IncidentRecord is the terminal artifact created at most once per call.
type IncidentRecord struct {
	IncidentID string
	CallID     string
	Info       domain.ExtractedInfo
	Summary    string
	CreatedAt  time.Time
}

// CallStore persists calls and their append-only transcript and audit data.
type CallStore interface {
	CreateCall(ctx context.Context, rec *CallRecord) error
	UpdateCallState(ctx context.Context, callID string, state domain.CallState, endReason string) error
	AppendTurn(ctx context.Context, callID string, turn domain.Turn) error
	AppendAction(ctx context.Context, callID string, action domain.Action) error
	CreateIncident(ctx context.Context, rec *IncidentRecord) error

	GetCall(ctx context.Context, callID string) (*CallRecord, error)
	GetTurns(ctx context.Context, callID string) ([]domain.Turn, error)
	GetActions(ctx context.Context, callID string) ([]domain.Action, error)

	Close() error
}
