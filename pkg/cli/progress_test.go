package cli

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestProgress(buf *bytes.Buffer) *SimpleProgress {
	p := NewProgressReporter(buf, "cases")
	start := time.Unix(0, 0)
	calls := 0
	p.now = func() time.Time {
		calls++
		return start.Add(time.Duration(calls) * time.Second)
	}
	return p
}

func TestSimpleProgress(t *testing.T) {
	var buf bytes.Buffer
	p := newTestProgress(&buf)

	p.Start(4)
	p.Increment()
	p.Increment()

	if !strings.Contains(buf.String(), " 50.0% (2/4)") {
		t.Errorf("expected half-way render, got %q", buf.String())
	}

	p.Finish()
	out := buf.String()
	if !strings.Contains(out, "100.0% (4/4)") {
		t.Errorf("expected completed render, got %q", out)
	}
	if !strings.Contains(out, "cases/s") {
		t.Errorf("expected unit in output, got %q", out)
	}
	if !strings.HasSuffix(out, "\n") {
		t.Error("Finish should end the line")
	}
}

func TestSimpleProgress_ZeroTotal(t *testing.T) {
	var buf bytes.Buffer
	p := newTestProgress(&buf)

	p.Start(0)
	p.Increment()
	p.Finish()

	if buf.Len() != 0 {
		t.Errorf("expected no output for zero total, got %q", buf.String())
	}
}

func TestSimpleProgress_DoesNotOvershoot(t *testing.T) {
	var buf bytes.Buffer
	p := newTestProgress(&buf)

	p.Start(1)
	p.Increment()
	p.Increment()
	if strings.Contains(buf.String(), "(2/1)") {
		t.Errorf("progress exceeded total: %q", buf.String())
	}
}

func TestSimpleProgress_Concurrent(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressReporter(&buf, "")
	p.Start(100)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Increment()
		}()
	}
	wg.Wait()

	if p.current != 100 {
		t.Errorf("expected 100, got %d", p.current)
	}
	if !strings.Contains(buf.String(), "items/s") {
		t.Errorf("expected default unit, got %q", buf.String())
	}
}
