// Package dispatch owns the registry of live calls. It maps telephony
// session identifiers to call contexts, routes inbound events to the right
// context, and answers the advisory monitoring reads.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/apexsec/voice-dispatch/internal/call"
	"github.com/apexsec/voice-dispatch/internal/compose"
	"github.com/apexsec/voice-dispatch/internal/domain"
	"github.com/apexsec/voice-dispatch/internal/escalate"
	"github.com/apexsec/voice-dispatch/internal/ports"
	"github.com/apexsec/voice-dispatch/internal/procedure"
	"github.com/apexsec/voice-dispatch/internal/storage"
)

// Deps bundles the collaborators shared by every call context.
type Deps struct {
	Library   *procedure.Library
	Composer  *compose.Composer
	Scheduler *escalate.Scheduler
	Incidents ports.IncidentCreator
	Notifier  ports.Notifier
	Guards    ports.GuardRoster
	Store     storage.CallStore
	Logger    *slog.Logger

	ConfidenceThreshold float64
	LowConfidenceLimit  int
}

// Stats is the running operational counter set.
type Stats struct {
	TotalCalls       int64 `json:"total_calls"`
	ActiveCalls      int   `json:"active_calls"`
	CompletedCalls   int64 `json:"completed_calls"`
	EscalatedCalls   int64 `json:"escalated_calls"`
	Takeovers        int64 `json:"takeovers"`
	IncidentsCreated int64 `json:"incidents_created"`
}

// Orchestrator is the process-wide registry of active calls. The registry
// maps are the only shared mutable state here; per-call state lives inside
// each call.Manager behind its own serialized loop.
type Orchestrator struct {
	deps Deps

	mu       sync.RWMutex
	calls    map[string]*call.Manager
	sessions map[string]string

	totalCalls     atomic.Int64
	completedCalls atomic.Int64
	escalatedCalls atomic.Int64
	takeovers      atomic.Int64
	incidents      atomic.Int64
}

func New(deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Orchestrator{
		deps:     deps,
		calls:    make(map[string]*call.Manager),
		sessions: make(map[string]string),
	}
}

// StartCall registers a new telephony session and returns the generated
// call identifier together with the greeting prompt. A session identifier
// already registered to a live call is rejected with ErrSessionExists.
func (o *Orchestrator) StartCall(_ context.Context, sessionID, callerAddress string) (string, domain.Prompt, error) {
	o.mu.Lock()
	if _, ok := o.sessions[sessionID]; ok {
		o.mu.Unlock()
		return "", domain.Prompt{}, domain.ErrSessionExists
	}

	callID := uuid.NewString()
	m := call.New(callID, sessionID, callerAddress, call.Deps{
		Library:             o.deps.Library,
		Composer:            o.deps.Composer,
		Scheduler:           o.deps.Scheduler,
		Incidents:           o.deps.Incidents,
		Notifier:            o.deps.Notifier,
		Guards:              o.deps.Guards,
		Store:               o.deps.Store,
		Logger:              o.deps.Logger,
		ConfidenceThreshold: o.deps.ConfidenceThreshold,
		LowConfidenceLimit:  o.deps.LowConfidenceLimit,
	})
	o.calls[callID] = m
	o.sessions[sessionID] = callID
	o.mu.Unlock()

	o.totalCalls.Add(1)
	o.deps.Logger.Info("call started",
		slog.String("call_id", callID),
		slog.String("session_id", sessionID),
		slog.String("caller", callerAddress))

	return callID, m.Greeting(), nil
}

// DeliverUtterance routes one transcribed caller utterance to its call.
func (o *Orchestrator) DeliverUtterance(ctx context.Context, sessionID, text string, confidence float64) (domain.Prompt, error) {
	m, err := o.bySession(sessionID)
	if err != nil {
		return domain.Prompt{}, err
	}
	return m.DeliverUtterance(ctx, text, confidence)
}

// RequestTakeover hands the identified call to a human operator.
func (o *Orchestrator) RequestTakeover(ctx context.Context, callID, operatorID, reason string) (domain.TakeoverResult, error) {
	m, err := o.byCall(callID)
	if err != nil {
		return domain.TakeoverResult{}, err
	}
	return m.RequestTakeover(ctx, operatorID, reason)
}

// EndSession completes the session's call, removes both registrations, and
// returns the end summary. Events arriving for the session afterwards see
// ErrUnknownSession.
func (o *Orchestrator) EndSession(ctx context.Context, sessionID, reason string) (domain.CallEndSummary, error) {
	o.mu.Lock()
	callID, ok := o.sessions[sessionID]
	if !ok {
		o.mu.Unlock()
		return domain.CallEndSummary{}, domain.ErrUnknownSession
	}
	m := o.calls[callID]
	delete(o.sessions, sessionID)
	delete(o.calls, callID)
	o.mu.Unlock()

	summary, err := m.End(ctx, reason)
	if err != nil {
		return domain.CallEndSummary{}, err
	}
	o.recordOutcome(m, summary)

	o.deps.Logger.Info("call ended",
		slog.String("call_id", summary.CallID),
		slog.String("session_id", sessionID),
		slog.Int("turns", summary.TurnCount),
		slog.String("incident_id", summary.IncidentID),
		slog.Duration("duration", summary.Duration))

	return summary, nil
}

// EndCall is EndSession keyed by call identifier, for operator tooling.
func (o *Orchestrator) EndCall(ctx context.Context, callID, reason string) (domain.CallEndSummary, error) {
	o.mu.RLock()
	m, ok := o.calls[callID]
	o.mu.RUnlock()
	if !ok {
		return domain.CallEndSummary{}, domain.ErrUnknownCall
	}
	return o.EndSession(ctx, m.SessionID(), reason)
}

func (o *Orchestrator) recordOutcome(m *call.Manager, summary domain.CallEndSummary) {
	o.completedCalls.Add(1)
	if summary.IncidentID != "" {
		o.incidents.Add(1)
	}
	snap := m.Snapshot()
	for _, a := range snap.Actions {
		switch a.Type {
		case domain.ActionGuardDispatched:
			o.escalatedCalls.Add(1)
		case domain.ActionHumanTakeover:
			o.takeovers.Add(1)
		}
	}
}

// ListActiveCalls returns advisory summaries of every live call. Each row
// is a lock-free snapshot and may trail the call's loop by an event.
func (o *Orchestrator) ListActiveCalls() []domain.CallSummary {
	o.mu.RLock()
	managers := make([]*call.Manager, 0, len(o.calls))
	for _, m := range o.calls {
		managers = append(managers, m)
	}
	o.mu.RUnlock()

	out := make([]domain.CallSummary, 0, len(managers))
	for _, m := range managers {
		out = append(out, m.Snapshot().Summary())
	}
	return out
}

// GetCallContext returns the full snapshot for one live call.
func (o *Orchestrator) GetCallContext(callID string) (*domain.CallSnapshot, error) {
	m, err := o.byCall(callID)
	if err != nil {
		return nil, err
	}
	return m.Snapshot(), nil
}

// GetTranscript returns the ordered turns recorded so far for a live call.
func (o *Orchestrator) GetTranscript(callID string) ([]domain.Turn, error) {
	m, err := o.byCall(callID)
	if err != nil {
		return nil, err
	}
	return m.Snapshot().Turns, nil
}

// Stats returns the running counters.
func (o *Orchestrator) Stats() Stats {
	o.mu.RLock()
	active := len(o.calls)
	o.mu.RUnlock()

	return Stats{
		TotalCalls:       o.totalCalls.Load(),
		ActiveCalls:      active,
		CompletedCalls:   o.completedCalls.Load(),
		EscalatedCalls:   o.escalatedCalls.Load(),
		Takeovers:        o.takeovers.Load(),
		IncidentsCreated: o.incidents.Load(),
	}
}

// Shutdown ends every live call. Used on process termination so timers are
// cancelled and terminal states are persisted.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.mu.Lock()
	managers := make(map[string]*call.Manager, len(o.calls))
	for sessionID, callID := range o.sessions {
		managers[sessionID] = o.calls[callID]
	}
	o.calls = make(map[string]*call.Manager)
	o.sessions = make(map[string]string)
	o.mu.Unlock()

	for sessionID, m := range managers {
		summary, err := m.End(ctx, "service shutdown")
		if err != nil {
			o.deps.Logger.Error("shutdown end failed",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()))
			continue
		}
		o.recordOutcome(m, summary)
	}
}

func (o *Orchestrator) bySession(sessionID string) (*call.Manager, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	callID, ok := o.sessions[sessionID]
	if !ok {
		return nil, domain.ErrUnknownSession
	}
	return o.calls[callID], nil
}

func (o *Orchestrator) byCall(callID string) (*call.Manager, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	m, ok := o.calls[callID]
	if !ok {
		return nil, domain.ErrUnknownCall
	}
	return m, nil
}
