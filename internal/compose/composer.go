// Package compose decides whether a call keeps gathering information and
// produces the next spoken prompt. It is synchronous and reads only
// in-memory state; nothing here blocks.
package compose

import (
	"strings"

	"github.com/apexsec/voice-dispatch/internal/domain"
)

// Policy carries the continuation thresholds. The counts are untuned
// operational knobs, loaded from configuration rather than hard-coded.
type Policy struct {
	// MaxGatheringTurns is the hard cap on gathering turns; reaching it
	// forces a conclude decision regardless of field completeness.
	MaxGatheringTurns int
	// CriticalMinTurns keeps a critical-urgency call gathering detail even
	// when minimally sufficient.
	CriticalMinTurns int
	// MinTurns is the floor below which the conversation always continues.
	MinTurns int
}

// DefaultPolicy returns the stock thresholds.
func DefaultPolicy() Policy {
	return Policy{MaxGatheringTurns: 8, CriticalMinTurns: 5, MinTurns: 3}
}

// Decision is the continuation outcome for one turn.
type Decision int

const (
	Continue Decision = iota
	Conclude
)

// resolutionMarkers end a sufficiently-described call early when the caller
// signals they are done.
var resolutionMarkers = []string{"thank you", "thanks", "goodbye", "that's all", "that is all", "nothing else"}

// Composer selects prompts and applies the continuation policy.
type Composer struct {
	policy Policy
}

func New(policy Policy) *Composer {
	if policy.MaxGatheringTurns <= 0 {
		policy = DefaultPolicy()
	}
	return &Composer{policy: policy}
}

// Decide applies the ordered continuation rules; the first match wins.
func (c *Composer) Decide(info domain.ExtractedInfo, turnCount int, lastUtterance string) Decision {
	p := c.policy
	switch {
	case info.IncidentType == "" && info.Location == "" && turnCount < p.MaxGatheringTurns:
		return Continue
	case info.Urgency == domain.UrgencyCritical && turnCount < p.CriticalMinTurns:
		return Continue
	case info.HasMandatory() && callerDone(lastUtterance):
		return Conclude
	case turnCount < p.MinTurns:
		return Continue
	default:
		return Conclude
	}
}

func callerDone(utterance string) bool {
	lower := strings.ToLower(utterance)
	for _, marker := range resolutionMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// Greeting is the opening line delivered when a call starts ringing.
func (c *Composer) Greeting() domain.Prompt {
	return domain.Prompt{
		Text:     "This call is being recorded. You've reached the security desk; please describe what's happening.",
		Continue: true,
	}
}

// Next produces the prompt for the current turn. When a procedure is
// matched its template wins; otherwise canned prompts keyed by the detected
// incident type and the still-missing fields are used.
func (c *Composer) Next(info domain.ExtractedInfo, proc *domain.Procedure, decision Decision) domain.Prompt {
	if decision == Conclude {
		return c.closing(info)
	}

	if proc != nil {
		if text, ok := proc.PromptFor(info.IncidentType); ok {
			return domain.Prompt{Text: text, Continue: true}
		}
	}

	return domain.Prompt{Text: c.cannedPrompt(info), Continue: true}
}

// TakeoverNotice tells the telephony layer that automated handling has
// ceased; the session stays open for the human operator.
func (c *Composer) TakeoverNotice() domain.Prompt {
	return domain.Prompt{
		Text:     "Please hold while I connect you to a security operator.",
		Continue: true,
	}
}

func (c *Composer) closing(info domain.ExtractedInfo) domain.Prompt {
	text := "Thank you. Your report has been logged and the team has been notified."
	if info.Urgency == domain.UrgencyCritical {
		text = "Help is on the way. Stay somewhere safe and keep your phone nearby."
	}
	return domain.Prompt{Text: text, Continue: false}
}

func (c *Composer) cannedPrompt(info domain.ExtractedInfo) string {
	switch {
	case info.IncidentType == "" && info.Location == "":
		return "Can you tell me what's happening and where you are?"
	case info.IncidentType == "":
		return "Understood. What exactly is going on there?"
	case info.Location == "":
		return typeAcknowledgement(info.IncidentType) + " Where is this happening? A unit or building number helps."
	case info.CallerName == "":
		return "Thank you. Can I get your name and a callback number in case we're disconnected?"
	default:
		return "Got it. Is there anything else I should pass along to the responding officer?"
	}
}

func typeAcknowledgement(incidentType string) string {
	switch incidentType {
	case "fire_alarm":
		return "If you are in immediate danger, get out first."
	case "medical_emergency":
		return "Stay with them if it's safe to do so."
	case "security_breach", "suspicious_activity":
		return "Do not approach them."
	case "noise_complaint":
		return "I'm sorry about the disturbance."
	default:
		return "Understood."
	}
}
