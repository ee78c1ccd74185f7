// Package ports defines the interfaces for the orchestrator's external
// collaborators. Implementations are injected at construction; nothing in
// the call path reaches for ambient singletons.
package ports

import (
	"context"

	"github.com/apexsec/voice-dispatch/internal/domain"
)

// IncidentCreator is the case-management collaborator. CreateIncident is
// invoked exactly once per call, on entering the concluding state.
type IncidentCreator interface {
	CreateIncident(ctx context.Context, callID string, info domain.ExtractedInfo, transcriptSummary string) (string, error)
}

// Notifier is the notification/paging collaborator. Both methods are
// best-effort: failures are logged and retried at most once, and never
// block call progression.
type Notifier interface {
	NotifyEscalation(ctx context.Context, callID, reason string) error
	NotifyTakeover(ctx context.Context, callID, operatorID string) error
}

// GuardRoster ranks available human resources for backup dispatch.
type GuardRoster interface {
	// NextAvailable returns the best available guard by proximity and
	// availability ranking, or false when nobody can respond.
	NextAvailable() (Guard, bool)
	// Dispatch marks the guard as committed to a call.
	Dispatch(guardID, callID string) error
}

// Guard is one dispatchable human resource.
type Guard struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Proximity float64 `json:"proximity"`
	Available bool    `json:"available"`
}
