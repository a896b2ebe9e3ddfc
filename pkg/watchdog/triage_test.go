package watchdog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"overstory/pkg/state"
)

func TestParseVerdict(t *testing.T) {
	cases := []struct {
		output string
		want   Verdict
	}{
		{"retry", VerdictRetry},
		{"TERMINATE", VerdictTerminate},
		{"extend", VerdictExtend},
		{"Verdict: terminate.", VerdictTerminate},
		{"I think we should retry this one", VerdictRetry},
		{"", VerdictExtend},
		{"no idea what to do", VerdictExtend},
		{"terminator", VerdictExtend},
	}
	for _, tc := range cases {
		if got := ParseVerdict(tc.output); got != tc.want {
			t.Errorf("ParseVerdict(%q) = %s, want %s", tc.output, got, tc.want)
		}
	}
}

func TestAssessNoCommandExtends(t *testing.T) {
	tr := &ExecTriager{}
	verdict, err := tr.Assess(context.Background(), state.Session{Name: "builder-1"}, "")
	if err != nil || verdict != VerdictExtend {
		t.Errorf("Assess = %s, %v", verdict, err)
	}
}

func TestAssessMissingBinaryExtends(t *testing.T) {
	tr := &ExecTriager{Command: []string{"/nonexistent/triage-binary"}}
	verdict, err := tr.Assess(context.Background(), state.Session{Name: "builder-1"}, "log tail")
	if err != nil || verdict != VerdictExtend {
		t.Errorf("Assess = %s, %v", verdict, err)
	}
}

func TestTailLog(t *testing.T) {
	dir := t.TempDir()
	tr := &ExecTriager{LogDir: dir}

	if tail := tr.TailLog(state.Session{Name: "ghost"}); tail != "" {
		t.Errorf("missing log tail = %q", tail)
	}

	var lines []string
	for i := 0; i < 80; i++ {
		lines = append(lines, "line")
	}
	content := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(filepath.Join(dir, "builder-1.log"), []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	tail := tr.TailLog(state.Session{Name: "builder-1"})
	if got := len(strings.Split(tail, "\n")); got != logTailLines {
		t.Errorf("tail lines = %d, want %d", got, logTailLines)
	}
}
