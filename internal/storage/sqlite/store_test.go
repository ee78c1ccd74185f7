package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/apexsec/voice-dispatch/internal/domain"
	"github.com/apexsec/voice-dispatch/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "calls.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCallRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &storage.CallRecord{
		CallID:        "call-1",
		SessionID:     "sess-1",
		CallerAddress: "+15550002222",
		State:         domain.StateRinging,
		StartedAt:     time.Now().UTC(),
	}
	if err := s.CreateCall(ctx, rec); err != nil {
		t.Fatalf("CreateCall: %v", err)
	}

	if err := s.UpdateCallState(ctx, "call-1", domain.StateCompleted, "session ended"); err != nil {
		t.Fatalf("UpdateCallState: %v", err)
	}

	got, err := s.GetCall(ctx, "call-1")
	if err != nil {
		t.Fatalf("GetCall: %v", err)
	}
	if got.State != domain.StateCompleted {
		t.Fatalf("expected completed, got %s", got.State)
	}
	if got.EndReason != "session ended" {
		t.Fatalf("expected end reason to persist, got %q", got.EndReason)
	}
	if got.CallerAddress != "+15550002222" {
		t.Fatalf("caller address mismatch: %q", got.CallerAddress)
	}
}

func TestUpdateMissingCall(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpdateCallState(context.Background(), "nope", domain.StateGathering, ""); err == nil {
		t.Fatal("expected error updating missing call")
	}
}

func TestTurnsOrderedBySeq(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateCall(ctx, &storage.CallRecord{CallID: "call-2", SessionID: "s", CallerAddress: "c", State: domain.StateGathering, StartedAt: time.Now()}); err != nil {
		t.Fatalf("CreateCall: %v", err)
	}

	for i := 1; i <= 4; i++ {
		turn := domain.Turn{
			Seq:        i,
			Speaker:    domain.SpeakerCaller,
			Text:       "utterance",
			Confidence: 0.9,
			Timestamp:  time.Now().UTC(),
		}
		if err := s.AppendTurn(ctx, "call-2", turn); err != nil {
			t.Fatalf("AppendTurn %d: %v", i, err)
		}
	}

	// Duplicate sequence numbers violate the per-call ordering invariant
	// and must be rejected by the schema.
	if err := s.AppendTurn(ctx, "call-2", domain.Turn{Seq: 4, Speaker: domain.SpeakerCaller, Text: "dup", Timestamp: time.Now()}); err == nil {
		t.Fatal("expected duplicate seq insert to fail")
	}

	turns, err := s.GetTurns(ctx, "call-2")
	if err != nil {
		t.Fatalf("GetTurns: %v", err)
	}
	if len(turns) != 4 {
		t.Fatalf("expected 4 turns, got %d", len(turns))
	}
	for i, turn := range turns {
		if turn.Seq != i+1 {
			t.Fatalf("turn %d out of order: seq %d", i, turn.Seq)
		}
	}
}

func TestIncidentPersistsExtractedInfo(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateCall(ctx, &storage.CallRecord{CallID: "call-3", SessionID: "s", CallerAddress: "c", State: domain.StateConcluding, StartedAt: time.Now()}); err != nil {
		t.Fatalf("CreateCall: %v", err)
	}

	inc := &storage.IncidentRecord{
		IncidentID: "inc-9",
		CallID:     "call-3",
		Info: domain.ExtractedInfo{
			IncidentType: "security_breach",
			Urgency:      domain.UrgencyCritical,
			Location:     "unit 4B",
		},
		Summary: "security_breach at unit 4B",
	}
	if err := s.CreateIncident(ctx, inc); err != nil {
		t.Fatalf("CreateIncident: %v", err)
	}

	call, err := s.GetCall(ctx, "call-3")
	if err != nil {
		t.Fatalf("GetCall: %v", err)
	}
	if call.IncidentID != "inc-9" {
		t.Fatalf("expected incident link, got %q", call.IncidentID)
	}
}

func TestActionsAppendOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateCall(ctx, &storage.CallRecord{CallID: "call-4", SessionID: "s", CallerAddress: "c", State: domain.StateGathering, StartedAt: time.Now()}); err != nil {
		t.Fatalf("CreateCall: %v", err)
	}

	for _, at := range []domain.ActionType{domain.ActionNotificationSent, domain.ActionGuardDispatched} {
		if err := s.AppendAction(ctx, "call-4", domain.Action{Type: at, Timestamp: time.Now()}); err != nil {
			t.Fatalf("AppendAction %s: %v", at, err)
		}
	}

	actions, err := s.GetActions(ctx, "call-4")
	if err != nil {
		t.Fatalf("GetActions: %v", err)
	}
	if len(actions) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(actions))
	}
	if actions[0].Type != domain.ActionNotificationSent || actions[1].Type != domain.ActionGuardDispatched {
		t.Fatalf("actions out of order: %+v", actions)
	}
}
