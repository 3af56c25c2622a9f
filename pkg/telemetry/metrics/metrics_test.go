package metrics

import (
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"mercator-hq/rulegate/pkg/config"
)

func testCollector(t *testing.T) *Collector {
	t.Helper()
	return NewCollector(config.MetricsConfig{Namespace: "test"}, prometheus.NewRegistry())
}

func TestCollector_RecordEvaluation(t *testing.T) {
	c := testCollector(t)

	c.RecordEvaluation(true, 2*time.Millisecond)
	c.RecordEvaluation(true, time.Millisecond)
	c.RecordEvaluation(false, time.Millisecond)

	if got := testutil.ToFloat64(c.evaluation.evaluationsTotal.WithLabelValues("true")); got != 2 {
		t.Errorf("valid evaluations = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.evaluation.evaluationsTotal.WithLabelValues("false")); got != 1 {
		t.Errorf("invalid evaluations = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(c.evaluation.evaluationDuration); got != 1 {
		t.Errorf("duration histogram series = %d, want 1", got)
	}
}

func TestCollector_RecordAction(t *testing.T) {
	c := testCollector(t)

	c.RecordAction("safety", "block", "pii")
	c.RecordAction("safety", "block", "pii")
	c.RecordAction("preference", "suggest", "style")

	if got := testutil.ToFloat64(c.evaluation.actionsTotal.WithLabelValues("safety", "block", "pii")); got != 2 {
		t.Errorf("safety block actions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.evaluation.actionsTotal.WithLabelValues("preference", "suggest", "style")); got != 1 {
		t.Errorf("preference suggest actions = %v, want 1", got)
	}
}

func TestCollector_CategoryCardinality(t *testing.T) {
	c := testCollector(t)
	c.categories = NewCardinalityLimiter(2)

	c.RecordAction("operational", "warn", "a")
	c.RecordAction("operational", "warn", "b")
	c.RecordAction("operational", "warn", "c")

	if got := testutil.ToFloat64(c.evaluation.actionsTotal.WithLabelValues("operational", "warn", "other")); got != 1 {
		t.Errorf("overflow category actions = %v, want 1", got)
	}
	if got := c.categories.Count(); got != 2 {
		t.Errorf("tracked categories = %d, want 2", got)
	}
}

func TestCollector_ErrorsAndInvariants(t *testing.T) {
	c := testCollector(t)

	c.RecordRuleError("malformed_rule")
	c.RecordRuleError("classifier_timeout")
	c.RecordRuleError("classifier_timeout")
	c.RecordInvariantViolation()

	if got := testutil.ToFloat64(c.evaluation.ruleErrorsTotal.WithLabelValues("classifier_timeout")); got != 2 {
		t.Errorf("classifier timeouts = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.evaluation.invariantViolations); got != 1 {
		t.Errorf("invariant violations = %v, want 1", got)
	}
}

func TestCollector_ConflictsAndResolutions(t *testing.T) {
	c := testCollector(t)

	c.RecordConflict("priority")
	c.RecordConflict("semantic")
	c.RecordConflict("priority")
	c.RecordResolution("user_preference", "fallback")

	if got := testutil.ToFloat64(c.conflicts.conflictsTotal.WithLabelValues("priority")); got != 2 {
		t.Errorf("priority conflicts = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.conflicts.resolutionsTotal.WithLabelValues("user_preference", "fallback")); got != 1 {
		t.Errorf("fallback resolutions = %v, want 1", got)
	}
}

func TestCollector_Adaptation(t *testing.T) {
	c := testCollector(t)

	c.AdaptationTransition("stable", "candidate")
	c.AdaptationTransition("candidate", "adjusted")
	c.AdaptationSignalDropped()
	c.SetSnapshotVersion(12)

	if got := testutil.ToFloat64(c.adaptation.transitionsTotal.WithLabelValues("candidate", "adjusted")); got != 1 {
		t.Errorf("candidate->adjusted = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.adaptation.signalsDropped); got != 1 {
		t.Errorf("dropped signals = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.adaptation.snapshotVersion); got != 12 {
		t.Errorf("snapshot version = %v, want 12", got)
	}
}

func TestCollector_Audit(t *testing.T) {
	c := testCollector(t)

	c.RecordAuditWrite("success", 5)
	c.RecordAuditWrite("failure", 2)
	c.RecordAuditDropped()

	if got := testutil.ToFloat64(c.audit.eventsTotal.WithLabelValues("success")); got != 5 {
		t.Errorf("successful events = %v, want 5", got)
	}
	if got := testutil.ToFloat64(c.audit.writesTotal.WithLabelValues("failure")); got != 1 {
		t.Errorf("failed writes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.audit.droppedTotal); got != 1 {
		t.Errorf("dropped events = %v, want 1", got)
	}
}

func TestCollector_NilAndDisabled(t *testing.T) {
	var nilCollector *Collector
	nilCollector.RecordEvaluation(true, time.Millisecond)
	nilCollector.RecordAction("safety", "block", "pii")
	nilCollector.RecordInvariantViolation()
	nilCollector.AdaptationTransition("stable", "candidate")
	if nilCollector.Registry() != nil {
		t.Error("nil collector should have no registry")
	}

	off := false
	c := NewCollector(config.MetricsConfig{Enabled: &off}, prometheus.NewRegistry())
	c.RecordEvaluation(true, time.Millisecond)
	c.RecordConflict("priority")
	if got := testutil.ToFloat64(c.evaluation.evaluationsTotal.WithLabelValues("true")); got != 0 {
		t.Errorf("disabled collector recorded %v evaluations", got)
	}
	if got := testutil.ToFloat64(c.conflicts.conflictsTotal.WithLabelValues("priority")); got != 0 {
		t.Errorf("disabled collector recorded %v conflicts", got)
	}
}

func TestCollector_DefaultNamespace(t *testing.T) {
	c := NewCollector(config.MetricsConfig{}, nil)
	c.RecordInvariantViolation()

	expected := `
# HELP rulegate_invariant_violations_total Total number of resolutions that attempted to suppress a strict safety violation
# TYPE rulegate_invariant_violations_total counter
rulegate_invariant_violations_total 1
`
	if err := testutil.GatherAndCompare(c.Registry(), strings.NewReader(expected), "rulegate_invariant_violations_total"); err != nil {
		t.Error(err)
	}
}

func TestCollector_Handler(t *testing.T) {
	c := testCollector(t)
	c.RecordConflict("context")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `test_conflicts_total{kind="context"} 1`) {
		t.Errorf("metrics output missing conflict counter:\n%s", rec.Body.String())
	}
}

func TestCollector_WriteTextfile(t *testing.T) {
	c := testCollector(t)
	c.RecordRuleError("malformed_rule")

	path := filepath.Join(t.TempDir(), "rulegate.prom")
	if err := c.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read textfile: %v", err)
	}
	if !strings.Contains(string(data), `test_rule_errors_total{kind="malformed_rule"} 1`) {
		t.Errorf("textfile missing rule error counter:\n%s", data)
	}
}

func TestCardinalityLimiter_Concurrent(t *testing.T) {
	cl := NewCardinalityLimiter(50)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				cl.Allow(fmt.Sprintf("v%d", (worker*20+j)%100))
			}
		}(i)
	}
	wg.Wait()

	if got := cl.Count(); got != 50 {
		t.Errorf("Count() = %d, want 50", got)
	}
	if cl.Allow("brand-new") {
		t.Error("Allow() should reject values past the limit")
	}
}
