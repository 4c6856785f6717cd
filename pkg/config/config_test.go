package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if cfg.SPID != "microcell" || cfg.Backend != "redis" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadMissingPathKeepsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Planner.MaxDepth != 30 {
		t.Errorf("max depth = %d", cfg.Planner.MaxDepth)
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	payload := `
sp_id: cell_7
backend: memory
ticks:
  goal_ms: 500
  plan_ms: 50
  auto_ms: 50
  sop_ms: 50
  timer_ms: 50
planner:
  max_depth: 42
num_timers: 5
logging:
  level: debug
  format: json
  output: stderr
events:
  enabled: true
  path: /tmp/cell7-events.db
`
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SPID != "cell_7" || cfg.Backend != "memory" {
		t.Errorf("overrides lost: %+v", cfg)
	}
	if cfg.Ticks.GoalMs != 500 || cfg.Planner.MaxDepth != 42 || cfg.NumTimers != 5 {
		t.Errorf("knobs lost: %+v", cfg)
	}
	if !cfg.Events.Enabled || cfg.Events.Path != "/tmp/cell7-events.db" {
		t.Errorf("events section lost: %+v", cfg)
	}
	// Untouched sections keep their defaults.
	if cfg.Redis.Addr == "" || cfg.Metrics.Namespace != "microcell" {
		t.Errorf("defaults clobbered: %+v", cfg)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()

	for name, payload := range map[string]string{
		"bad backend": "backend: carrier_pigeon\n",
		"tiny tick":   "ticks: {goal_ms: 1, plan_ms: 100, auto_ms: 100, sop_ms: 100, timer_ms: 100}\n",
		"deep search": "planner: {max_depth: 5000}\n",
		"empty sp id": "sp_id: \"\"\n",
	} {
		path := filepath.Join(dir, "bad.yaml")
		if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil {
			t.Errorf("%s: invalid config accepted", name)
		}
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}
}

func TestTickPeriod(t *testing.T) {
	if TickPeriod(250) != 250*time.Millisecond {
		t.Error("tick conversion broken")
	}
}
