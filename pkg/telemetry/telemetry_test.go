package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoggerWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cell.log")
	log, err := NewLogger(LoggingConfig{Level: "debug", Format: "json", Output: path})
	if err != nil {
		t.Fatal(err)
	}
	log.NewComponentLogger("plan_runner").WithOperation("gantry_unlock").Info("operation started")

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	line := string(raw)
	for _, want := range []string{
		`"component":"plan_runner"`,
		`"operation":"gantry_unlock"`,
		`"message":"operation started"`,
	} {
		if !strings.Contains(line, want) {
			t.Errorf("log line missing %s: %s", want, line)
		}
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cell.log")
	log, err := NewLogger(LoggingConfig{Level: "warn", Format: "json", Output: path})
	if err != nil {
		t.Fatal(err)
	}
	log.Info("dropped")
	log.Warn("kept")

	raw, _ := os.ReadFile(path)
	if strings.Contains(string(raw), "dropped") {
		t.Error("info line not filtered at warn level")
	}
	if !strings.Contains(string(raw), "kept") {
		t.Error("warn line missing")
	}
}

func TestLoggerContext(t *testing.T) {
	log := Nop()
	ctx := log.WithContext(context.Background())
	if FromContext(ctx) != log {
		t.Error("context round trip lost the logger")
	}
	// A bare context still yields a usable logger.
	if FromContext(context.Background()) == nil {
		t.Error("fallback logger missing")
	}
}

func TestMetricsDisabledIsNoop(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	// None of these may panic.
	m.AutoTransitionTaken("t")
	m.OperationEvent("op", "executing")
	m.PlanComputed("found", 3, 0.01)
	m.Replan()
	m.SetGoalsScheduled(2)
	m.GoalFinished("completed")
	m.StoreRoundtripError()
	m.EngineTick("plan_runner")
	if _, err := m.Handler(); err == nil {
		t.Error("disabled metrics should not expose a handler")
	}
}

func TestMetricsEnabled(t *testing.T) {
	m := NewMetrics(DefaultMetricsConfig())
	m.OperationEvent("gantry_unlock", "completed")
	m.PlanComputed("found", 4, 0.2)
	m.EngineTick("auto_runner")
	handler, err := m.Handler()
	if err != nil || handler == nil {
		t.Fatalf("handler unavailable: %v", err)
	}
}
