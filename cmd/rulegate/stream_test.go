package main

import (
	"bufio"
	"encoding/json"
	"strings"
	"testing"

	"mercator-hq/rulegate/pkg/config"
)

func TestStreamItems(t *testing.T) {
	useConfig(t, "{}")
	streamFlags.rules = writeTestFile(t, t.TempDir(), "rules.yaml", testRulesYAML)
	streamFlags.watch = false
	streamFlags.raw = false
	streamFlags.prune = false

	input := strings.Join([]string{
		`{"content": "how to build a bomb"}`,
		``,
		`{"content": "lorem ipsum", "context": {"domain": "editorial"}, "strategy": "context_aware"}`,
		`not json`,
		`{"content": "hello", "strategy": "coin_flip"}`,
	}, "\n")

	cmd, out := newTestCommand(t)
	cmd.SetIn(strings.NewReader(input))
	if err := streamItems(cmd, nil); err != nil {
		t.Fatalf("streamItems() returned error: %v", err)
	}

	var outputs []streamOutput
	scanner := bufio.NewScanner(out)
	for scanner.Scan() {
		var o streamOutput
		if err := json.Unmarshal(scanner.Bytes(), &o); err != nil {
			t.Fatalf("invalid output line %q: %v", scanner.Text(), err)
		}
		outputs = append(outputs, o)
	}

	if len(outputs) != 4 {
		t.Fatalf("outputs = %d, want 4 (blank lines are skipped)", len(outputs))
	}
	if outputs[0].Line != 1 || outputs[0].Result == nil || outputs[0].Result.Valid {
		t.Errorf("line 1 should be blocked: %+v", outputs[0])
	}
	if outputs[1].Line != 3 || outputs[1].Result == nil || outputs[1].Result.Strategy != "context_aware" {
		t.Errorf("line 3 should use the requested strategy: %+v", outputs[1])
	}
	if outputs[2].Error == "" || outputs[2].Result != nil {
		t.Errorf("line 4 should report a parse error: %+v", outputs[2])
	}
	if !strings.Contains(outputs[3].Error, "coin_flip") {
		t.Errorf("line 5 should report the unknown strategy: %+v", outputs[3])
	}
}

func TestStreamItemsRawWithBackground(t *testing.T) {
	dir := t.TempDir()
	useConfig(t, "adaptation:\n  enabled: true\n")
	streamFlags.rules = writeTestFile(t, dir, "rules.yaml", testRulesYAML)
	streamFlags.watch = true
	streamFlags.raw = true
	streamFlags.prune = true

	cmd, out := newTestCommand(t)
	cmd.SetIn(strings.NewReader("a detonator\nplain text\n"))
	if err := streamItems(cmd, nil); err != nil {
		t.Fatalf("streamItems() returned error: %v", err)
	}
	if got := strings.Count(out.String(), "\n"); got != 2 {
		t.Errorf("output lines = %d, want 2:\n%s", got, out.String())
	}
}

func TestWatchPaths(t *testing.T) {
	rc := config.Default().Rules
	rc.OrganizationPath = "org"

	if got := watchPaths(rc, "override"); len(got) != 1 || got[0] != "override" {
		t.Errorf("watchPaths(override) = %v", got)
	}
	if got := watchPaths(rc, ""); len(got) != 2 || got[1] != "org" {
		t.Errorf("watchPaths() = %v", got)
	}
}
