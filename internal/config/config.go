// Package config loads service configuration from an optional YAML file
// overlaid with DISPATCH_-prefixed environment variables.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/apexsec/voice-dispatch/internal/domain"
	"github.com/apexsec/voice-dispatch/internal/ports"
)

type Config struct {
	Server     ServerConfig      `koanf:"server"`
	Storage    StorageConfig     `koanf:"storage"`
	Dialogue   DialogueConfig    `koanf:"dialogue"`
	Escalation EscalationConfig  `koanf:"escalation"`
	Notify     NotifyConfig      `koanf:"notify"`
	Procedures []ProcedureConfig `koanf:"procedures"`
	Guards     []GuardConfig     `koanf:"guards"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // memory, sqlite
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// DialogueConfig carries the continuation thresholds for prompt composition.
type DialogueConfig struct {
	MaxGatheringTurns int `koanf:"max_gathering_turns"`
	CriticalMinTurns  int `koanf:"critical_min_turns"`
	MinTurns          int `koanf:"min_turns"`
}

// EscalationConfig carries the unacknowledged-critical timer and the
// transcription-quality takeover limits.
type EscalationConfig struct {
	Delay               time.Duration `koanf:"delay"`
	ConfidenceThreshold float64       `koanf:"confidence_threshold"`
	LowConfidenceLimit  int           `koanf:"low_confidence_limit"`
}

type NotifyConfig struct {
	WebhookURL string `koanf:"webhook_url"`
}

type ProcedureConfig struct {
	ID               string            `koanf:"id"`
	IncidentType     string            `koanf:"incident_type"`
	Priority         int               `koanf:"priority_level"`
	Active           bool              `koanf:"active"`
	Prompts          map[string]string `koanf:"prompt_templates"`
	AutomatedActions []string          `koanf:"automated_actions"`
}

type GuardConfig struct {
	ID        string  `koanf:"id"`
	Name      string  `koanf:"name"`
	Proximity float64 `koanf:"proximity"`
	Available bool    `koanf:"available"`
}

// Load reads the file at path (missing file is fine), overlays DISPATCH_
// environment variables using "__" as the nesting separator, and fills in
// defaults for anything still unset.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		path = "config.yaml"
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if err := k.Load(env.Provider("DISPATCH_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "DISPATCH_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	// Default values
	defaults := map[string]any{
		"server.port":                     8080,
		"storage.type":                    "memory",
		"storage.sqlite.path":             "dispatch.db",
		"dialogue.max_gathering_turns":    8,
		"dialogue.critical_min_turns":     5,
		"dialogue.min_turns":              3,
		"escalation.delay":                "30s",
		"escalation.confidence_threshold": 0.7,
		"escalation.low_confidence_limit": 3,
	}
	for key, val := range defaults {
		if !k.Exists(key) {
			k.Set(key, val)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// DomainProcedures converts the configured procedure table to domain form.
func (c *Config) DomainProcedures() []domain.Procedure {
	out := make([]domain.Procedure, 0, len(c.Procedures))
	for _, p := range c.Procedures {
		out = append(out, domain.Procedure{
			ID:               p.ID,
			IncidentType:     p.IncidentType,
			Priority:         p.Priority,
			Active:           p.Active,
			Prompts:          p.Prompts,
			AutomatedActions: p.AutomatedActions,
		})
	}
	return out
}

// RosterGuards converts the configured guard list to port form.
func (c *Config) RosterGuards() []ports.Guard {
	out := make([]ports.Guard, 0, len(c.Guards))
	for _, g := range c.Guards {
		out = append(out, ports.Guard{
			ID:        g.ID,
			Name:      g.Name,
			Proximity: g.Proximity,
			Available: g.Available,
		})
	}
	return out
}
