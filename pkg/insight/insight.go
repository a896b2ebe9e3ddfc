// Package insight derives a behavioral profile from an agent's event stream.
// Analyze is a pure function: callers fetch events and tool stats from the
// event store and feed them in.
package insight

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"overstory/pkg/eventlog"
	"overstory/pkg/protocol"
)

// Workflow labels for a session's dominant tool mix.
const (
	WorkflowReadHeavy  = "read-heavy"
	WorkflowWriteHeavy = "write-heavy"
	WorkflowBashHeavy  = "bash-heavy"
	WorkflowBalanced   = "balanced"
)

// minCallsForWorkflow is the sample size below which no workflow label is
// assigned.
const minCallsForWorkflow = 10

// hotFileThreshold is the minimum edit count for a file to be reported.
const hotFileThreshold = 3

// maxTopTools and maxHotFiles cap the profile lists.
const (
	maxTopTools = 5
	maxHotFiles = 3
)

// ToolUsage is one entry of the tool profile.
type ToolUsage struct {
	Name          string
	Count         int
	AvgDurationMS float64
}

// FileActivity is one entry of the file profile.
type FileActivity struct {
	Path  string
	Edits int
}

// ErrorSummary aggregates error events and the tools involved.
type ErrorSummary struct {
	Count int
	Tools []string
}

// Analysis is the full insight report for one agent or run.
type Analysis struct {
	Workflow    string
	Insights    []string
	ToolProfile []ToolUsage
	FileProfile []FileActivity
	Errors      ErrorSummary
	DomainTags  []string
}

// readTools and writeTools classify tool calls for the workflow label. Bash
// stands alone.
var readTools = map[string]bool{
	"Read": true, "Grep": true, "Glob": true, "WebFetch": true, "WebSearch": true,
}

var writeTools = map[string]bool{
	"Write": true, "Edit": true, "MultiEdit": true,
}

// domainPrefixes maps path prefixes to domain tags. First match per path
// wins; order is fixed.
var domainPrefixes = []struct {
	prefix string
	tag    string
}{
	{"cmd/", "cli"},
	{"pkg/", "library"},
	{"internal/", "library"},
	{"api/", "api"},
	{"web/", "frontend"},
	{"ui/", "frontend"},
	{"docs/", "docs"},
	{"test/", "testing"},
	{"scripts/", "tooling"},
}

// Analyze builds the report. events supply edits, errors and domain tags;
// stats supply call counts and durations.
func Analyze(events []eventlog.Event, stats []eventlog.ToolStat) Analysis {
	a := Analysis{
		Workflow:    classifyWorkflow(stats),
		ToolProfile: topTools(stats),
		FileProfile: hotFiles(events),
		Errors:      summarizeErrors(events),
		DomainTags:  domainTags(events),
	}
	a.Insights = narrate(a)
	return a
}

// classifyWorkflow labels the dominant tool kind once enough calls exist. A
// kind dominates when it covers at least half the calls.
func classifyWorkflow(stats []eventlog.ToolStat) string {
	var total, reads, writes, bash int
	for _, s := range stats {
		total += s.Count
		switch {
		case readTools[s.ToolName]:
			reads += s.Count
		case writeTools[s.ToolName]:
			writes += s.Count
		case s.ToolName == "Bash":
			bash += s.Count
		}
	}
	if total < minCallsForWorkflow {
		return ""
	}
	switch {
	case reads*2 >= total:
		return WorkflowReadHeavy
	case writes*2 >= total:
		return WorkflowWriteHeavy
	case bash*2 >= total:
		return WorkflowBashHeavy
	default:
		return WorkflowBalanced
	}
}

func topTools(stats []eventlog.ToolStat) []ToolUsage {
	sorted := make([]eventlog.ToolStat, len(stats))
	copy(sorted, stats)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Count != sorted[j].Count {
			return sorted[i].Count > sorted[j].Count
		}
		return sorted[i].ToolName < sorted[j].ToolName
	})
	if len(sorted) > maxTopTools {
		sorted = sorted[:maxTopTools]
	}
	out := make([]ToolUsage, 0, len(sorted))
	for _, s := range sorted {
		out = append(out, ToolUsage{Name: s.ToolName, Count: s.Count, AvgDurationMS: s.AvgDurationMS})
	}
	return out
}

// hotFiles counts write-tool events per file path and keeps paths edited at
// least hotFileThreshold times.
func hotFiles(events []eventlog.Event) []FileActivity {
	edits := map[string]int{}
	for _, ev := range events {
		if ev.Kind != protocol.EventToolStart || !writeTools[ev.ToolName] {
			continue
		}
		if path := pathOf(ev); path != "" {
			edits[path]++
		}
	}

	var out []FileActivity
	for path, n := range edits {
		if n >= hotFileThreshold {
			out = append(out, FileActivity{Path: path, Edits: n})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Edits != out[j].Edits {
			return out[i].Edits > out[j].Edits
		}
		return out[i].Path < out[j].Path
	})
	if len(out) > maxHotFiles {
		out = out[:maxHotFiles]
	}
	return out
}

func summarizeErrors(events []eventlog.Event) ErrorSummary {
	var sum ErrorSummary
	tools := map[string]bool{}
	for _, ev := range events {
		if ev.Kind != protocol.EventError && ev.Level != protocol.LevelError {
			continue
		}
		sum.Count++
		if ev.ToolName != "" {
			tools[ev.ToolName] = true
		}
	}
	for tool := range tools {
		sum.Tools = append(sum.Tools, tool)
	}
	sort.Strings(sum.Tools)
	return sum
}

// domainTags collects the tags of every path touched by a tool event.
func domainTags(events []eventlog.Event) []string {
	tags := map[string]bool{}
	for _, ev := range events {
		path := pathOf(ev)
		if path == "" {
			continue
		}
		for _, d := range domainPrefixes {
			if strings.HasPrefix(path, d.prefix) {
				tags[d.tag] = true
				break
			}
		}
	}
	var out []string
	for tag := range tags {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// pathOf extracts the file_path (or path) field from filtered tool args.
func pathOf(ev eventlog.Event) string {
	if ev.ToolArgs == "" {
		return ""
	}
	var args map[string]string
	if err := json.Unmarshal([]byte(ev.ToolArgs), &args); err != nil {
		return ""
	}
	if p := args["file_path"]; p != "" {
		return p
	}
	return args["path"]
}

// narrate renders the findings as human-readable insight lines.
func narrate(a Analysis) []string {
	var out []string
	if a.Workflow != "" {
		out = append(out, "workflow is "+a.Workflow)
	}
	if len(a.ToolProfile) > 0 {
		top := a.ToolProfile[0]
		out = append(out, fmt.Sprintf("most used tool is %s (%d calls, %.0fms avg)",
			top.Name, top.Count, top.AvgDurationMS))
	}
	for _, f := range a.FileProfile {
		out = append(out, fmt.Sprintf("%s edited %d times", f.Path, f.Edits))
	}
	if a.Errors.Count > 0 {
		line := fmt.Sprintf("%d error(s)", a.Errors.Count)
		if len(a.Errors.Tools) > 0 {
			line += " involving " + strings.Join(a.Errors.Tools, ", ")
		}
		out = append(out, line)
	}
	if len(a.DomainTags) > 0 {
		out = append(out, "touched domains: "+strings.Join(a.DomainTags, ", "))
	}
	return out
}
