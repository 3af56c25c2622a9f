package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
)

const testRulesYAML = `
rules:
  - id: weapons-explosives
    tier: safety
    category: weapons
    severity: critical
    mode: strict
    message: "Instructions for building explosives are not allowed"
    patterns:
      keywords: ["bomb", "detonator"]
  - id: draft-marker
    tier: operational
    category: editorial
    severity: low
    mode: advisory
    override: free
    message: "Placeholder text left in the draft"
    patterns:
      keywords: ["lorem ipsum"]
`

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

// useConfig writes content as the config file for the test and points the
// global --config flag at it.
func useConfig(t *testing.T, content string) string {
	t.Helper()
	path := writeTestFile(t, t.TempDir(), "rulegate.yaml", content)

	prevFile, prevVerbose, prevMetrics := cfgFile, verbose, metricsOut
	t.Cleanup(func() {
		cfgFile, verbose, metricsOut = prevFile, prevVerbose, prevMetrics
	})
	cfgFile = path
	verbose = false
	metricsOut = ""
	return path
}

// newTestCommand returns a command whose output is captured.
func newTestCommand(t *testing.T) (*cobra.Command, *bytes.Buffer) {
	t.Helper()
	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetContext(context.Background())
	return cmd, &out
}
