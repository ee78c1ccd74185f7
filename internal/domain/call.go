// Package domain defines the core types shared across the dispatch
// orchestrator: call lifecycle state, transcript turns, extracted incident
// information, and the audit action log.
package domain

import "time"

// CallState identifies where a call is in its lifecycle.
type CallState string

const (
	// StateRinging is the initial state, before the first caller utterance.
	StateRinging CallState = "ringing"
	// StateGathering means the conversation is in progress.
	StateGathering CallState = "gathering"
	// StateConcluding means sufficiency was reached and the closing script is running.
	StateConcluding CallState = "concluding"
	// StateHumanControlled means a human operator owns the call; automated
	// extraction and composition are frozen.
	StateHumanControlled CallState = "human_controlled"
	// StateCompleted is terminal.
	StateCompleted CallState = "completed"
)

// Terminal reports whether the state admits no further transitions.
func (s CallState) Terminal() bool {
	return s == StateCompleted
}

// Speaker identifies who produced a transcript turn.
type Speaker string

const (
	SpeakerCaller Speaker = "caller"
	SpeakerAgent  Speaker = "agent"
)

// Turn is a single immutable utterance in a call transcript.
// Seq is monotonic and gap-free per call, starting at 1.
type Turn struct {
	Seq        int       `json:"seq"`
	Speaker    Speaker   `json:"speaker"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// Urgency is the classified urgency of the reported incident.
type Urgency string

const (
	UrgencyUnknown  Urgency = ""
	UrgencyRoutine  Urgency = "routine"
	UrgencyElevated Urgency = "elevated"
	UrgencyCritical Urgency = "critical"
)

// Rank orders urgencies for the overwrite policy: a field already set is
// replaced only by a value of the same or higher rank.
func (u Urgency) Rank() int {
	switch u {
	case UrgencyCritical:
		return 3
	case UrgencyElevated:
		return 2
	case UrgencyRoutine:
		return 1
	default:
		return 0
	}
}

// ExtractedInfo is the structured record built up from caller utterances.
// Fields are set-once-then-stable unless a later extraction carries the same
// or higher specificity (see the extract package for the merge policy).
type ExtractedInfo struct {
	IncidentType string   `json:"incident_type,omitempty"`
	Urgency      Urgency  `json:"urgency_level,omitempty"`
	Location     string   `json:"location,omitempty"`
	CallerName   string   `json:"caller_name,omitempty"`
	Callback     string   `json:"caller_callback,omitempty"`
	FreeText     []string `json:"free_text,omitempty"`
}

// HasMandatory reports whether the fields required for incident creation
// (incident type and location) are both present.
func (i ExtractedInfo) HasMandatory() bool {
	return i.IncidentType != "" && i.Location != ""
}

// ActionType enumerates the side-effecting actions recorded in the audit log.
type ActionType string

const (
	ActionNotificationSent ActionType = "notification_sent"
	ActionGuardDispatched  ActionType = "guard_dispatched"
	ActionHumanTakeover    ActionType = "human_takeover"
	ActionIncidentCreated  ActionType = "incident_created"
)

// Action is one entry in a call's append-only audit log.
type Action struct {
	Type      ActionType `json:"type"`
	Detail    string     `json:"detail,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// CallSummary is the advisory listing row returned by ListActiveCalls.
// It is a stale-tolerant snapshot, not an authoritative read.
type CallSummary struct {
	CallID             string    `json:"call_id"`
	State              CallState `json:"state"`
	CallerAddress      string    `json:"caller_address"`
	TurnCount          int       `json:"turn_count"`
	MatchedProcedureID string    `json:"matched_procedure_id,omitempty"`
}

// CallSnapshot is a full point-in-time copy of a call context.
type CallSnapshot struct {
	CallID             string        `json:"call_id"`
	SessionID          string        `json:"session_id"`
	CallerAddress      string        `json:"caller_address"`
	State              CallState     `json:"state"`
	Turns              []Turn        `json:"turns"`
	Info               ExtractedInfo `json:"extracted_info"`
	MatchedProcedureID string        `json:"matched_procedure_id,omitempty"`
	IncidentID         string        `json:"incident_id,omitempty"`
	OperatorID         string        `json:"operator_id,omitempty"`
	Actions            []Action      `json:"actions_taken"`
	StartedAt          time.Time     `json:"started_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// Summary projects the snapshot down to a listing row.
func (s *CallSnapshot) Summary() CallSummary {
	return CallSummary{
		CallID:             s.CallID,
		State:              s.State,
		CallerAddress:      s.CallerAddress,
		TurnCount:          len(s.Turns),
		MatchedProcedureID: s.MatchedProcedureID,
	}
}

// Prompt is the next spoken line handed back to the telephony layer.
// Continue=false tells the transport to finish the session after rendering.
type Prompt struct {
	Text     string `json:"text"`
	Continue bool   `json:"continue"`
}

// TakeoverResult is returned from a takeover request. Success is true both
// for a fresh takeover and for the idempotent repeat on an already
// human-controlled call.
type TakeoverResult struct {
	Success      bool      `json:"success"`
	CurrentState CallState `json:"current_state"`
}

// CallEndSummary describes a finished call.
type CallEndSummary struct {
	CallID     string        `json:"call_id"`
	State      CallState     `json:"state"`
	TurnCount  int           `json:"turn_count"`
	IncidentID string        `json:"incident_id,omitempty"`
	Duration   time.Duration `json:"duration"`
}
