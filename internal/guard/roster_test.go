package guard

import (
	"testing"

	"github.com/apexsec/voice-dispatch/internal/ports"
)

func testGuards() []ports.Guard {
	return []ports.Guard{
		{ID: "g-far", Name: "Pat", Proximity: 12.5, Available: true},
		{ID: "g-near", Name: "Sam", Proximity: 0.8, Available: true},
		{ID: "g-off", Name: "Lee", Proximity: 0.1, Available: false},
	}
}

func TestNextAvailablePicksClosest(t *testing.T) {
	r := NewRoster(testGuards())

	g, ok := r.NextAvailable()
	if !ok {
		t.Fatal("expected an available guard")
	}
	if g.ID != "g-near" {
		t.Fatalf("expected closest available guard g-near, got %s", g.ID)
	}
}

func TestDispatchRemovesFromPool(t *testing.T) {
	r := NewRoster(testGuards())

	if err := r.Dispatch("g-near", "call-1"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	g, ok := r.NextAvailable()
	if !ok || g.ID != "g-far" {
		t.Fatalf("expected fallback to g-far, got %v %v", g.ID, ok)
	}

	if err := r.Dispatch("g-near", "call-2"); err == nil {
		t.Fatal("expected double dispatch to fail")
	}

	r.Release("g-near")
	g, ok = r.NextAvailable()
	if !ok || g.ID != "g-near" {
		t.Fatalf("expected released guard to return to pool, got %v %v", g.ID, ok)
	}
}

func TestExhaustedPool(t *testing.T) {
	r := NewRoster([]ports.Guard{{ID: "only", Proximity: 1, Available: true}})

	if err := r.Dispatch("only", "call-1"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if _, ok := r.NextAvailable(); ok {
		t.Fatal("expected no guard available")
	}
}
