// Package call implements the per-call context manager. Each Manager owns
// one call's conversation state and mutates it only from a single event
// loop: concurrent events for the same call are never interleaved, which is
// what lets the rest of the state live without field-level locking.
package call

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/apexsec/voice-dispatch/internal/compose"
	"github.com/apexsec/voice-dispatch/internal/domain"
	"github.com/apexsec/voice-dispatch/internal/escalate"
	"github.com/apexsec/voice-dispatch/internal/extract"
	"github.com/apexsec/voice-dispatch/internal/ports"
	"github.com/apexsec/voice-dispatch/internal/procedure"
	"github.com/apexsec/voice-dispatch/internal/storage"
)

const persistTimeout = 5 * time.Second

// Deps are the collaborators a call context needs. All of them are injected;
// the manager never reaches for package-level state.
type Deps struct {
	Library   *procedure.Library
	Composer  *compose.Composer
	Scheduler *escalate.Scheduler
	Incidents ports.IncidentCreator
	Notifier  ports.Notifier
	Guards    ports.GuardRoster
	Store     storage.CallStore
	Logger    *slog.Logger

	// ConfidenceThreshold and LowConfidenceLimit control the forced
	// takeover after repeated unintelligible transcriptions.
	ConfidenceThreshold float64
	LowConfidenceLimit  int
}

type eventKind int

const (
	evUtterance eventKind = iota
	evTakeover
	evEscalationFired
	evEnd
)

type promptReply struct {
	prompt domain.Prompt
	err    error
}

type event struct {
	kind       eventKind
	text       string
	confidence float64
	operatorID string
	reason     string

	replyPrompt   chan promptReply
	replyTakeover chan domain.TakeoverResult
	replyEnd      chan domain.CallEndSummary
}

// Manager is the state machine for one call. All fields below deps are
// owned by the event loop goroutine.
type Manager struct {
	callID    string
	sessionID string
	caller    string
	deps      Deps

	events chan event
	done   chan struct{}

	// snapshot is the lock-free read surface for ListActiveCalls and
	// GetCallContext. It is refreshed after every applied event and is
	// stale-tolerant by design.
	snapshot atomic.Pointer[domain.CallSnapshot]

	state         domain.CallState
	turns         []domain.Turn
	info          domain.ExtractedInfo
	proc          *domain.Procedure
	actions       []domain.Action
	incidentID    string
	operatorID    string
	escTimer      *escalate.Timer
	lowConfidence int
	startedAt     time.Time
}

// New creates a call context in the ringing state and starts its event
// loop. The initial call record is persisted best-effort.
func New(callID, sessionID, caller string, deps Deps) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.ConfidenceThreshold <= 0 {
		deps.ConfidenceThreshold = 0.7
	}
	if deps.LowConfidenceLimit <= 0 {
		deps.LowConfidenceLimit = 3
	}

	m := &Manager{
		callID:    callID,
		sessionID: sessionID,
		caller:    caller,
		deps:      deps,
		events:    make(chan event, 16),
		done:      make(chan struct{}),
		state:     domain.StateRinging,
		startedAt: time.Now(),
	}
	m.publishSnapshot()

	m.persist("create call", func(ctx context.Context) error {
		return deps.Store.CreateCall(ctx, &storage.CallRecord{
			CallID:        callID,
			SessionID:     sessionID,
			CallerAddress: caller,
			State:         domain.StateRinging,
			StartedAt:     m.startedAt,
		})
	})

	go m.loop()
	return m
}

// CallID returns the process-local call identifier.
func (m *Manager) CallID() string { return m.callID }

// SessionID returns the telephony provider's session identifier.
func (m *Manager) SessionID() string { return m.sessionID }

// Done is closed once the call has completed and the loop has exited.
func (m *Manager) Done() <-chan struct{} { return m.done }

// Greeting is the opening prompt for a freshly started call.
func (m *Manager) Greeting() domain.Prompt {
	return m.deps.Composer.Greeting()
}

// Snapshot returns the latest published state copy. Lock-free and possibly
// one event behind; advisory, not authoritative.
func (m *Manager) Snapshot() *domain.CallSnapshot {
	return m.snapshot.Load()
}

// DeliverUtterance feeds one caller utterance through the call's serialized
// queue and returns the next prompt. Events for a completed call are
// dropped with ErrStaleOperation.
func (m *Manager) DeliverUtterance(ctx context.Context, text string, confidence float64) (domain.Prompt, error) {
	ev := event{
		kind:        evUtterance,
		text:        text,
		confidence:  confidence,
		replyPrompt: make(chan promptReply, 1),
	}
	if err := m.send(ctx, ev); err != nil {
		return domain.Prompt{}, err
	}
	select {
	case r := <-ev.replyPrompt:
		return r.prompt, r.err
	case <-m.done:
		return domain.Prompt{}, domain.ErrStaleOperation
	case <-ctx.Done():
		return domain.Prompt{}, ctx.Err()
	}
}

// RequestTakeover transfers control to a human operator. Idempotent: a
// second request on a human-controlled call is a no-op returning the
// current state.
func (m *Manager) RequestTakeover(ctx context.Context, operatorID, reason string) (domain.TakeoverResult, error) {
	ev := event{
		kind:          evTakeover,
		operatorID:    operatorID,
		reason:        reason,
		replyTakeover: make(chan domain.TakeoverResult, 1),
	}
	if err := m.send(ctx, ev); err != nil {
		return domain.TakeoverResult{Success: false, CurrentState: domain.StateCompleted}, err
	}
	select {
	case r := <-ev.replyTakeover:
		return r, nil
	case <-m.done:
		return domain.TakeoverResult{Success: false, CurrentState: domain.StateCompleted}, domain.ErrStaleOperation
	case <-ctx.Done():
		return domain.TakeoverResult{}, ctx.Err()
	}
}

// End completes the call: the escalation timer is cancelled, the terminal
// state is persisted, and any events still queued are discarded.
func (m *Manager) End(ctx context.Context, reason string) (domain.CallEndSummary, error) {
	ev := event{
		kind:     evEnd,
		reason:   reason,
		replyEnd: make(chan domain.CallEndSummary, 1),
	}
	if err := m.send(ctx, ev); err != nil {
		return domain.CallEndSummary{}, err
	}
	select {
	case s := <-ev.replyEnd:
		return s, nil
	case <-ctx.Done():
		return domain.CallEndSummary{}, ctx.Err()
	}
}

func (m *Manager) send(ctx context.Context, ev event) error {
	select {
	case <-m.done:
		return domain.ErrStaleOperation
	default:
	}
	select {
	case m.events <- ev:
		return nil
	case <-m.done:
		return domain.ErrStaleOperation
	case <-ctx.Done():
		return ctx.Err()
	}
}

// loop applies events one at a time in arrival order. It exits after the
// end event; events still in the queue at that point are dropped, their
// senders released by the closed done channel.
func (m *Manager) loop() {
	for ev := range m.events {
		switch ev.kind {
		case evUtterance:
			prompt := m.applyUtterance(ev.text, ev.confidence)
			ev.replyPrompt <- promptReply{prompt: prompt}
		case evTakeover:
			ev.replyTakeover <- m.applyTakeover(ev.operatorID, ev.reason)
		case evEscalationFired:
			m.applyEscalationFired()
		case evEnd:
			summary := m.applyEnd(ev.reason)
			m.publishSnapshot()
			ev.replyEnd <- summary
			close(m.done)
			return
		}
		m.publishSnapshot()
	}
}

func (m *Manager) applyUtterance(text string, confidence float64) domain.Prompt {
	m.appendTurn(text, confidence)

	switch m.state {
	case domain.StateHumanControlled:
		// Transcript keeps accumulating for the operator, but extraction
		// and composition are frozen.
		return domain.Prompt{Text: "", Continue: true}
	case domain.StateConcluding:
		return m.deps.Composer.Next(m.info, m.proc, compose.Conclude)
	}

	if m.state == domain.StateRinging {
		m.transition(domain.StateGathering, "")
	}

	if confidence < m.deps.ConfidenceThreshold {
		m.lowConfidence++
		if m.lowConfidence >= m.deps.LowConfidenceLimit {
			m.deps.Logger.Warn("repeated low-confidence transcriptions, forcing takeover",
				slog.String("call_id", m.callID),
				slog.Int("count", m.lowConfidence))
			m.applyTakeover("", "low transcription confidence")
			return m.deps.Composer.TakeoverNotice()
		}
	} else {
		m.lowConfidence = 0
	}

	wasCritical := m.info.Urgency == domain.UrgencyCritical
	m.info = extract.Apply(m.info, text)

	// Sticky matching: re-evaluate only when the classified type actually
	// changes; added detail never downgrades an existing match.
	if m.info.IncidentType != "" && (m.proc == nil || m.proc.IncidentType != m.info.IncidentType) {
		m.proc = m.deps.Library.Match(m.info.IncidentType)
		if m.proc != nil {
			m.deps.Logger.Info("procedure matched",
				slog.String("call_id", m.callID),
				slog.String("procedure_id", m.proc.ID),
				slog.String("incident_type", m.info.IncidentType))
		}
	}

	if m.info.Urgency == domain.UrgencyCritical && !wasCritical {
		m.armEscalation()
	}

	decision := m.deps.Composer.Decide(m.info, len(m.turns), text)
	if decision == compose.Conclude {
		m.conclude()
	}

	return m.deps.Composer.Next(m.info, m.proc, decision)
}

// armEscalation arms the single pending escalation for this call; re-arming
// replaces the previous timer rather than stacking a second one.
func (m *Manager) armEscalation() {
	if m.escTimer != nil {
		m.escTimer.Cancel()
	}
	m.escTimer = m.deps.Scheduler.Arm(m.callID, func() {
		select {
		case m.events <- event{kind: evEscalationFired}:
		case <-m.done:
		}
	})
	m.deps.Logger.Info("escalation timer armed",
		slog.String("call_id", m.callID),
		slog.Duration("delay", m.deps.Scheduler.Delay()))
}

func (m *Manager) cancelEscalation() {
	if m.escTimer != nil {
		m.escTimer.Cancel()
		m.escTimer = nil
	}
}

func (m *Manager) applyTakeover(operatorID, reason string) domain.TakeoverResult {
	if m.state == domain.StateHumanControlled {
		// Idempotent repeat: no state change, no extra log entries.
		return domain.TakeoverResult{Success: true, CurrentState: m.state}
	}
	if m.state.Terminal() {
		return domain.TakeoverResult{Success: false, CurrentState: m.state}
	}

	m.cancelEscalation()
	m.operatorID = operatorID
	m.transition(domain.StateHumanControlled, reason)
	m.appendAction(domain.ActionHumanTakeover, fmt.Sprintf("operator=%s reason=%s", operatorID, reason))

	notifier, logger, callID := m.deps.Notifier, m.deps.Logger, m.callID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := notifier.NotifyTakeover(ctx, callID, operatorID); err != nil {
			logger.Error("takeover notification failed",
				slog.String("call_id", callID),
				slog.String("error", err.Error()))
		}
	}()

	return domain.TakeoverResult{Success: true, CurrentState: domain.StateHumanControlled}
}

// applyEscalationFired runs when the armed delay elapsed with no
// acknowledgment: dispatch the nearest guard, page the backup channel, and
// hand the call to human control.
func (m *Manager) applyEscalationFired() {
	m.escTimer = nil
	if m.state != domain.StateGathering {
		// Raced with a transition that should have cancelled us; the state
		// machine wins.
		return
	}

	reason := fmt.Sprintf("no resolution within %s", m.deps.Scheduler.Delay())

	if g, ok := m.deps.Guards.NextAvailable(); ok {
		if err := m.deps.Guards.Dispatch(g.ID, m.callID); err != nil {
			m.deps.Logger.Error("guard dispatch failed",
				slog.String("call_id", m.callID),
				slog.String("guard_id", g.ID),
				slog.String("error", err.Error()))
		} else {
			m.appendAction(domain.ActionGuardDispatched, fmt.Sprintf("guard=%s proximity=%.1f", g.ID, g.Proximity))
		}
	} else {
		m.deps.Logger.Warn("no guard available for backup dispatch", slog.String("call_id", m.callID))
	}

	m.appendAction(domain.ActionNotificationSent, "escalation: "+reason)

	notifier, logger, callID := m.deps.Notifier, m.deps.Logger, m.callID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := notifier.NotifyEscalation(ctx, callID, reason); err != nil {
			logger.Error("escalation notification failed",
				slog.String("call_id", callID),
				slog.String("error", err.Error()))
		}
	}()

	m.applyTakeover("", reason)
}

// conclude moves the call to the concluding state and creates the incident,
// exactly once per call.
func (m *Manager) conclude() {
	m.cancelEscalation()
	m.transition(domain.StateConcluding, "")

	if m.incidentID != "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	id, err := m.deps.Incidents.CreateIncident(ctx, m.callID, m.info, m.transcriptSummary())
	if err != nil {
		m.deps.Logger.Error("incident creation failed",
			slog.String("call_id", m.callID),
			slog.String("error", err.Error()))
		return
	}
	m.incidentID = id
	m.appendAction(domain.ActionIncidentCreated, "incident="+id)
}

func (m *Manager) applyEnd(reason string) domain.CallEndSummary {
	m.cancelEscalation()
	if !m.state.Terminal() {
		m.transition(domain.StateCompleted, reason)
	}

	return domain.CallEndSummary{
		CallID:     m.callID,
		State:      m.state,
		TurnCount:  len(m.turns),
		IncidentID: m.incidentID,
		Duration:   time.Since(m.startedAt),
	}
}

func (m *Manager) appendTurn(text string, confidence float64) {
	turn := domain.Turn{
		Seq:        len(m.turns) + 1,
		Speaker:    domain.SpeakerCaller,
		Text:       text,
		Confidence: confidence,
		Timestamp:  time.Now(),
	}
	m.turns = append(m.turns, turn)

	m.persist("append turn", func(ctx context.Context) error {
		return m.deps.Store.AppendTurn(ctx, m.callID, turn)
	})
}

func (m *Manager) appendAction(t domain.ActionType, detail string) {
	action := domain.Action{Type: t, Detail: detail, Timestamp: time.Now()}
	m.actions = append(m.actions, action)

	m.persist("append action", func(ctx context.Context) error {
		return m.deps.Store.AppendAction(ctx, m.callID, action)
	})
}

func (m *Manager) transition(to domain.CallState, reason string) {
	from := m.state
	m.state = to
	m.deps.Logger.Info("call state transition",
		slog.String("call_id", m.callID),
		slog.String("from", string(from)),
		slog.String("to", string(to)))

	m.persist("update call state", func(ctx context.Context) error {
		return m.deps.Store.UpdateCallState(ctx, m.callID, to, reason)
	})
}

func (m *Manager) transcriptSummary() string {
	last := ""
	if n := len(m.turns); n > 0 {
		last = m.turns[n-1].Text
	}
	return fmt.Sprintf("%s at %s (%d turns; last: %q)",
		orUnknown(m.info.IncidentType), orUnknown(m.info.Location), len(m.turns), last)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// persist runs a storage write on a detached short-deadline context so a
// hung store can never wedge the call path; failures are logged, not fatal.
func (m *Manager) persist(op string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		m.deps.Logger.Error("persistence failed",
			slog.String("call_id", m.callID),
			slog.String("op", op),
			slog.String("error", err.Error()))
	}
}

func (m *Manager) publishSnapshot() {
	procID := ""
	if m.proc != nil {
		procID = m.proc.ID
	}
	snap := &domain.CallSnapshot{
		CallID:             m.callID,
		SessionID:          m.sessionID,
		CallerAddress:      m.caller,
		State:              m.state,
		Turns:              append([]domain.Turn(nil), m.turns...),
		Info:               m.info,
		MatchedProcedureID: procID,
		IncidentID:         m.incidentID,
		OperatorID:         m.operatorID,
		Actions:            append([]domain.Action(nil), m.actions...),
		StartedAt:          m.startedAt,
		UpdatedAt:          time.Now(),
	}
	m.snapshot.Store(snap)
}
