package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

type testTable struct {
	rows [][]string
}

func (t testTable) Headers() []string { return []string{"RULE", "TIER"} }
func (t testTable) Rows() [][]string  { return t.rows }

func TestParseFormat(t *testing.T) {
	tests := []struct {
		value   string
		allowed []OutputFormat
		want    OutputFormat
		wantErr bool
	}{
		{value: "text", want: FormatText},
		{value: " JSON ", want: FormatJSON},
		{value: "csv", want: FormatCSV},
		{value: "yaml", wantErr: true},
		{value: "csv", allowed: []OutputFormat{FormatText, FormatJSON}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := ParseFormat(tt.value, tt.allowed...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFormat() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var usage *UsageError
				if !errors.As(err, &usage) {
					t.Errorf("expected *UsageError, got %T", err)
				}
				return
			}
			if got != tt.want {
				t.Errorf("ParseFormat() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTextFormatter_Table(t *testing.T) {
	var buf bytes.Buffer
	table := testTable{rows: [][]string{{"weapons-block", "safety"}, {"tone", "preference"}}}
	if err := NewFormatter(FormatText).FormatTo(&buf, table); err != nil {
		t.Fatalf("FormatTo() failed: %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %q", buf.String())
	}
	if !strings.HasPrefix(lines[0], "RULE") || !strings.Contains(lines[0], "TIER") {
		t.Errorf("unexpected header %q", lines[0])
	}
	if strings.Index(lines[1], "safety") != strings.Index(lines[2], "preference") {
		t.Errorf("columns are not aligned:\n%s", buf.String())
	}
}

func TestTextFormatter_Value(t *testing.T) {
	var buf bytes.Buffer
	if err := NewFormatter(FormatText).FormatTo(&buf, "hello"); err != nil {
		t.Fatalf("FormatTo() failed: %v", err)
	}
	if buf.String() != "hello\n" {
		t.Errorf("got %q", buf.String())
	}
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	data := map[string]any{"valid": true, "errors": 0}
	if err := NewFormatter(FormatJSON).FormatTo(&buf, data); err != nil {
		t.Fatalf("FormatTo() failed: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if got["valid"] != true {
		t.Errorf("unexpected output %v", got)
	}
	if !strings.Contains(buf.String(), "\n  ") {
		t.Error("expected indented output")
	}
}

func TestCSVFormatter(t *testing.T) {
	var buf bytes.Buffer
	table := testTable{rows: [][]string{{"quote, long", "operational"}}}
	if err := NewFormatter(FormatCSV).FormatTo(&buf, table); err != nil {
		t.Fatalf("FormatTo() failed: %v", err)
	}
	want := "RULE,TIER\n\"quote, long\",operational\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}

	if err := NewFormatter(FormatCSV).FormatTo(&buf, "not a table"); err == nil {
		t.Error("expected error for non-tabular data")
	}
}
