// Package extract implements the rule-based information extractor. It is a
// pure function over (utterance, prior info): keyword classes for urgency,
// incident type, and location produce a delta merged under an explicit
// specificity policy. Text that matches no rule is preserved verbatim in the
// free-text log so nothing is silently lost.
package extract

import (
	"regexp"
	"strings"

	"github.com/apexsec/voice-dispatch/internal/domain"
)

// incidentRule maps keyword markers to an incident type. Specificity
// decides overwrites: a specific type replaces the generic "emergency"
// classification, never the reverse.
type incidentRule struct {
	keywords    []string
	incident    string
	specificity int
}

// Incident type vocabulary. Order matters only for ties within a single
// utterance; the first matching rule wins there.
var incidentRules = []incidentRule{
	{[]string{"break in", "breaking in", "broke in", "intruder", "burglar", "trespass"}, "security_breach", 2},
	{[]string{"gun", "knife", "weapon", "shooting"}, "security_breach", 2},
	{[]string{"fight", "fighting", "domestic", "screaming at"}, "domestic_disturbance", 2},
	{[]string{"fire", "smoke", "burning", "gas leak"}, "fire_alarm", 2},
	{[]string{"medical", "ambulance", "hurt", "injured", "unconscious", "heart attack", "bleeding"}, "medical_emergency", 2},
	{[]string{"locked out", "lockout", "lost my key"}, "lockout", 2},
	{[]string{"loud music", "noise", "party", "too loud"}, "noise_complaint", 2},
	{[]string{"suspicious", "lurking", "prowler", "strange person"}, "suspicious_activity", 2},
	{[]string{"package", "parcel", "delivery stolen"}, "package_theft", 2},
	{[]string{"graffiti", "vandal", "smashed", "broken window"}, "vandalism", 2},
	{[]string{"power out", "no power", "water leak", "flooding", "no heat"}, "utility_outage", 2},
	{[]string{"elevator", "stuck in the lift"}, "elevator_emergency", 2},
	{[]string{"parking", "blocked my car", "towed"}, "parking_violation", 2},
	{[]string{"unauthorized", "doesn't belong", "not allowed in"}, "unauthorized_access", 2},
	{[]string{"question", "just wondering", "information"}, "general_inquiry", 1},
	{[]string{"emergency"}, "emergency", 1},
}

// criticalMarkers force urgency to critical; elevatedMarkers raise it to
// elevated unless something stronger already applies.
var (
	criticalMarkers = []string{
		"emergency", "right now", "immediately", "gun", "knife", "weapon",
		"fire", "smoke", "bleeding", "unconscious", "help me", "danger",
	}
	elevatedMarkers = []string{
		"urgent", "asap", "quickly", "hurry", "scared", "afraid",
	}
)

// Location patterns, by descending specificity. A detected unit number
// overrides a named common area, which overrides a bare placeholder.
var (
	unitPattern      = regexp.MustCompile(`(?i)\b(?:unit|apt|apartment|suite|room)\s*#?\s*([0-9]+[a-z]?)\b`)
	buildingPattern  = regexp.MustCompile(`(?i)\b(?:building|bldg|tower)\s*#?\s*([0-9a-z]+)\b`)
	floorPattern     = regexp.MustCompile(`(?i)\b([0-9]+)(?:st|nd|rd|th)\s+floor\b`)
	namedAreas       = []string{"lobby", "garage", "parking lot", "pool", "roof", "laundry room", "mailroom", "stairwell", "courtyard", "front gate", "entrance"}
	placeholderAreas = []string{"somewhere", "outside", "inside", "upstairs", "downstairs"}
)

var (
	// Case-sensitive on the captured name so "this is an emergency" does
	// not produce a caller called "an".
	namePattern  = regexp.MustCompile(`\b(?:[Mm]y name is|[Tt]his is|I am|I'm)\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)`)
	phonePattern = regexp.MustCompile(`\b(?:\+?1[-. ]?)?(?:\(?\d{3}\)?[-. ]?)\d{3}[-. ]?\d{4}\b`)
)

const (
	specPlaceholder = 1
	specNamedArea   = 2
	specUnit        = 3
)

// Apply merges the extraction delta for one utterance into prior info and
// returns the updated record. It is deterministic and never fails: an
// utterance matching no rule is appended to free text.
func Apply(prior domain.ExtractedInfo, utterance string) domain.ExtractedInfo {
	info := prior
	lower := strings.ToLower(utterance)
	matched := false

	if t, spec, ok := classifyIncident(lower); ok {
		matched = true
		if incidentSpecificity(info.IncidentType) <= spec {
			info.IncidentType = t
		}
	}

	if u := classifyUrgency(lower); u != domain.UrgencyUnknown {
		matched = true
		if info.Urgency.Rank() <= u.Rank() {
			info.Urgency = u
		}
	}

	if loc, spec, ok := classifyLocation(utterance, lower); ok {
		matched = true
		if locationSpecificity(info.Location) <= spec {
			info.Location = loc
		}
	}

	if m := namePattern.FindStringSubmatch(utterance); m != nil {
		matched = true
		if info.CallerName == "" {
			info.CallerName = m[1]
		}
	}

	if m := phonePattern.FindString(utterance); m != "" {
		matched = true
		if info.Callback == "" {
			info.Callback = m
		}
	}

	if !matched {
		// No rule fired. Keep the raw text so a human reviewing the call
		// still sees what the rules missed.
		info.FreeText = append(append([]string(nil), prior.FreeText...), utterance)
	}

	return info
}

func classifyIncident(lower string) (string, int, bool) {
	for _, rule := range incidentRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.incident, rule.specificity, true
			}
		}
	}
	return "", 0, false
}

// incidentSpecificity re-derives the rank of an already-stored incident type
// so overwrites compare like with like.
func incidentSpecificity(incidentType string) int {
	switch incidentType {
	case "":
		return 0
	case "emergency", "general_inquiry":
		return 1
	default:
		return 2
	}
}

func classifyUrgency(lower string) domain.Urgency {
	for _, kw := range criticalMarkers {
		if strings.Contains(lower, kw) {
			return domain.UrgencyCritical
		}
	}
	for _, kw := range elevatedMarkers {
		if strings.Contains(lower, kw) {
			return domain.UrgencyElevated
		}
	}
	return domain.UrgencyUnknown
}

func classifyLocation(original, lower string) (string, int, bool) {
	if m := unitPattern.FindStringSubmatch(original); m != nil {
		return "unit " + strings.ToUpper(m[1]), specUnit, true
	}
	if m := buildingPattern.FindStringSubmatch(original); m != nil {
		return "building " + strings.ToUpper(m[1]), specUnit, true
	}
	if m := floorPattern.FindStringSubmatch(lower); m != nil {
		return "floor " + m[1], specNamedArea, true
	}
	for _, area := range namedAreas {
		if strings.Contains(lower, area) {
			return area, specNamedArea, true
		}
	}
	for _, area := range placeholderAreas {
		if strings.Contains(lower, area) {
			return area, specPlaceholder, true
		}
	}
	return "", 0, false
}

// locationSpecificity mirrors classifyLocation's ranking for stored values.
func locationSpecificity(loc string) int {
	if loc == "" {
		return 0
	}
	lower := strings.ToLower(loc)
	if strings.HasPrefix(lower, "unit ") || strings.HasPrefix(lower, "building ") {
		return specUnit
	}
	if strings.HasPrefix(lower, "floor ") {
		return specNamedArea
	}
	for _, area := range namedAreas {
		if lower == area {
			return specNamedArea
		}
	}
	return specPlaceholder
}
