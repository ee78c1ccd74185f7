package domain

// Procedure is a configured response procedure (SOP) keyed by incident type.
// The orchestrator treats the procedure table as read-only; concurrent calls
// read it without coordination.
type Procedure struct {
	ID           string            `json:"id"`
	IncidentType string            `json:"incident_type"`
	Priority     int               `json:"priority_level"`
	Active       bool              `json:"active"`
	// Prompts maps an incident type to its scripted prompt. The "default"
	// key is the fallback when the specific type is absent.
	Prompts          map[string]string `json:"prompt_templates"`
	AutomatedActions []string          `json:"automated_actions,omitempty"`
}

// PromptFor returns the template for the given incident type, falling back
// to the procedure's default template. The second return is false when the
// procedure carries neither.
func (p *Procedure) PromptFor(incidentType string) (string, bool) {
	if t, ok := p.Prompts[incidentType]; ok && t != "" {
		return t, true
	}
	if t, ok := p.Prompts["default"]; ok && t != "" {
		return t, true
	}
	return "", false
}
