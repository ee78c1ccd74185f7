package compose

import (
	"testing"

	"github.com/apexsec/voice-dispatch/internal/domain"
)

func TestDecideContinuesWhileMandatoryMissing(t *testing.T) {
	c := New(DefaultPolicy())

	for turns := 1; turns < 8; turns++ {
		if d := c.Decide(domain.ExtractedInfo{}, turns, "nothing useful"); d != Continue {
			t.Fatalf("turn %d: expected Continue while fields missing, got %v", turns, d)
		}
	}
}

func TestDecideForwardProgressCap(t *testing.T) {
	c := New(DefaultPolicy())

	cases := []domain.ExtractedInfo{
		{},
		{Urgency: domain.UrgencyCritical},
		{IncidentType: "fire_alarm", Location: "lobby", Urgency: domain.UrgencyCritical},
	}
	for _, info := range cases {
		for turns := 8; turns <= 12; turns++ {
			if d := c.Decide(info, turns, "still talking"); d != Conclude {
				t.Fatalf("turn %d info %+v: expected Conclude at or past the cap, got %v", turns, info, d)
			}
		}
	}
}

func TestDecideCriticalGathersExtraDetail(t *testing.T) {
	c := New(DefaultPolicy())
	info := domain.ExtractedInfo{
		IncidentType: "medical_emergency",
		Location:     "unit 9A",
		Urgency:      domain.UrgencyCritical,
	}

	if d := c.Decide(info, 4, "he's still on the floor"); d != Continue {
		t.Fatal("expected critical call to keep gathering below the critical floor")
	}
	if d := c.Decide(info, 5, "he's still on the floor"); d != Conclude {
		t.Fatal("expected critical call to conclude once the critical floor is met")
	}
}

func TestDecideMinimumTurns(t *testing.T) {
	c := New(DefaultPolicy())
	info := domain.ExtractedInfo{IncidentType: "noise_complaint", Location: "unit 2B"}

	if d := c.Decide(info, 2, "it's been going for an hour"); d != Continue {
		t.Fatal("expected Continue below the minimum turn floor")
	}
	if d := c.Decide(info, 3, "it's been going for an hour"); d != Conclude {
		t.Fatal("expected Conclude at the minimum turn floor with fields present")
	}
}

func TestDecideCallerResolutionEndsEarly(t *testing.T) {
	c := New(DefaultPolicy())
	info := domain.ExtractedInfo{IncidentType: "lockout", Location: "unit 7C"}

	if d := c.Decide(info, 2, "that's all, thank you"); d != Conclude {
		t.Fatal("expected resolved caller with complete fields to conclude early")
	}

	// Resolution language never short-circuits an incomplete report.
	if d := c.Decide(domain.ExtractedInfo{}, 2, "thanks anyway"); d != Continue {
		t.Fatal("expected incomplete report to keep gathering despite resolution language")
	}
}

func TestNextPrefersProcedureTemplate(t *testing.T) {
	c := New(DefaultPolicy())
	proc := &domain.Procedure{
		ID:           "sop-noise",
		IncidentType: "noise_complaint",
		Active:       true,
		Prompts: map[string]string{
			"noise_complaint": "Which unit is the noise coming from?",
			"default":         "Tell me more about the issue.",
		},
	}
	info := domain.ExtractedInfo{IncidentType: "noise_complaint"}

	p := c.Next(info, proc, Continue)
	if p.Text != "Which unit is the noise coming from?" {
		t.Fatalf("expected procedure template, got %q", p.Text)
	}
	if !p.Continue {
		t.Fatal("continue decision must map to Continue=true")
	}
}

func TestNextFallsBackToDefaultTemplate(t *testing.T) {
	c := New(DefaultPolicy())
	proc := &domain.Procedure{
		ID:           "sop-generic",
		IncidentType: "vandalism",
		Active:       true,
		Prompts:      map[string]string{"default": "Describe the damage for me."},
	}

	p := c.Next(domain.ExtractedInfo{IncidentType: "vandalism"}, proc, Continue)
	if p.Text != "Describe the damage for me." {
		t.Fatalf("expected default template fallback, got %q", p.Text)
	}
}

func TestNextCannedPromptsTrackMissingFields(t *testing.T) {
	c := New(DefaultPolicy())

	p := c.Next(domain.ExtractedInfo{IncidentType: "security_breach"}, nil, Continue)
	if p.Text != "Do not approach them. Where is this happening? A unit or building number helps." {
		t.Fatalf("expected location prompt for typed incident, got %q", p.Text)
	}

	p = c.Next(domain.ExtractedInfo{Location: "lobby"}, nil, Continue)
	if p.Text != "Understood. What exactly is going on there?" {
		t.Fatalf("expected incident prompt, got %q", p.Text)
	}
}

func TestNextConcludeSetsFinalPrompt(t *testing.T) {
	c := New(DefaultPolicy())

	p := c.Next(domain.ExtractedInfo{Urgency: domain.UrgencyCritical}, nil, Conclude)
	if p.Continue {
		t.Fatal("conclude decision must map to Continue=false")
	}
	if p.Text == "" {
		t.Fatal("closing prompt must not be empty")
	}
}
