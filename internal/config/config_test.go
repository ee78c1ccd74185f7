package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Storage.Type != "memory" {
		t.Errorf("storage type = %q, want memory", cfg.Storage.Type)
	}
	if cfg.Dialogue.MaxGatheringTurns != 8 || cfg.Dialogue.CriticalMinTurns != 5 || cfg.Dialogue.MinTurns != 3 {
		t.Errorf("dialogue thresholds = %+v", cfg.Dialogue)
	}
	if cfg.Escalation.Delay != 30*time.Second {
		t.Errorf("escalation delay = %v, want 30s", cfg.Escalation.Delay)
	}
	if cfg.Escalation.ConfidenceThreshold != 0.7 || cfg.Escalation.LowConfidenceLimit != 3 {
		t.Errorf("escalation quality knobs = %+v", cfg.Escalation)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
server:
  port: 9090
storage:
  type: sqlite
  sqlite:
    path: /tmp/dispatch-test.db
escalation:
  delay: 10s
procedures:
  - id: proc-fire
    incident_type: fire_alarm
    priority_level: 10
    active: true
    prompt_templates:
      fire_alarm: "Is everyone out of the building?"
      default: "Tell me more."
guards:
  - id: g-1
    name: North Post
    proximity: 1.5
    available: true
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Storage.Type != "sqlite" || cfg.Storage.SQLite.Path != "/tmp/dispatch-test.db" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Escalation.Delay != 10*time.Second {
		t.Errorf("delay = %v, want 10s", cfg.Escalation.Delay)
	}

	procs := cfg.DomainProcedures()
	if len(procs) != 1 || procs[0].ID != "proc-fire" || procs[0].Priority != 10 {
		t.Fatalf("procedures = %+v", procs)
	}
	if text, ok := procs[0].PromptFor("fire_alarm"); !ok || text != "Is everyone out of the building?" {
		t.Errorf("prompt = %q, %v", text, ok)
	}

	guards := cfg.RosterGuards()
	if len(guards) != 1 || guards[0].ID != "g-1" || !guards[0].Available {
		t.Fatalf("guards = %+v", guards)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("DISPATCH_SERVER__PORT", "7070")
	t.Setenv("DISPATCH_DIALOGUE__MIN_TURNS", "2")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d, want 7070 from env", cfg.Server.Port)
	}
	if cfg.Dialogue.MinTurns != 2 {
		t.Errorf("min turns = %d, want 2 from env", cfg.Dialogue.MinTurns)
	}
}
