package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"mercator-hq/rulegate/pkg/telemetry/health"
)

func TestDoctorReady(t *testing.T) {
	dir := t.TempDir()
	rulesPath := writeTestFile(t, dir, "rules.yaml", testRulesYAML)
	useConfig(t, fmt.Sprintf(`
rules:
  system_path: %q
audit:
  enabled: true
  sqlite_path: %q
`, rulesPath, filepath.Join(dir, "audit.db")))
	doctorFlags.timeout = 0
	doctorFlags.format = "json"

	cmd, out := newTestCommand(t)
	if err := runDoctor(cmd, nil); err != nil {
		t.Fatalf("runDoctor() returned error: %v\n%s", err, out.String())
	}

	var report health.Report
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, out.String())
	}
	if report.Status != health.ReportReady {
		t.Errorf("status = %s, want %s", report.Status, health.ReportReady)
	}
	statuses := make(map[string]string)
	for _, c := range report.Checks {
		statuses[c.Name] = c.Status
	}
	want := map[string]string{
		"rules":      health.StatusOK,
		"audit":      health.StatusOK,
		"adaptation": health.StatusDisabled,
		"tracing":    health.StatusDisabled,
	}
	for name, status := range want {
		if statuses[name] != status {
			t.Errorf("check %s = %q, want %q", name, statuses[name], status)
		}
	}
}

func TestDoctorDegraded(t *testing.T) {
	useConfig(t, fmt.Sprintf("rules:\n  system_path: %q\n", filepath.Join(t.TempDir(), "missing")))
	doctorFlags.timeout = 0
	doctorFlags.format = "text"

	cmd, out := newTestCommand(t)
	if err := runDoctor(cmd, nil); err == nil {
		t.Fatal("runDoctor() should fail when rules cannot be loaded")
	}
	for _, want := range []string{"✗ rules", "Status: degraded"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}
