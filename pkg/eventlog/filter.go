package eventlog

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// FilteredArgs is the compact form of a tool invocation stored on an event:
// the identifying fields plus a one-line summary, with bulk content dropped.
type FilteredArgs struct {
	Args    map[string]string `json:"args"`
	Summary string            `json:"summary"`
}

// maxArgLen caps each preserved argument value. Long commands and patterns
// stay recognizable at this length without bloating the store.
const maxArgLen = 200

// toolKeepFields maps each known tool to the payload fields worth keeping.
// Unknown tools fall through to a key-list summary with no args.
var toolKeepFields = map[string][]string{
	"Bash":      {"command"},
	"Read":      {"file_path"},
	"Write":     {"file_path"},
	"Edit":      {"file_path"},
	"MultiEdit": {"file_path"},
	"Grep":      {"pattern", "path"},
	"Glob":      {"pattern", "path"},
	"WebFetch":  {"url"},
	"WebSearch": {"query"},
	"Task":      {"description"},
	"TodoWrite": {},
}

// FilterToolArgs reduces a raw tool payload to its identifying fields.
// Pure and deterministic: the same payload always yields the same result.
func FilterToolArgs(tool string, payload map[string]any) FilteredArgs {
	keep, known := toolKeepFields[tool]
	out := FilteredArgs{Args: map[string]string{}}

	if !known {
		keys := make([]string, 0, len(payload))
		for k := range payload {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out.Summary = tool
		if len(keys) > 0 {
			out.Summary = tool + "(" + strings.Join(keys, ", ") + ")"
		}
		return out
	}

	var parts []string
	for _, field := range keep {
		v, ok := payload[field]
		if !ok {
			continue
		}
		s := truncate(stringify(v), maxArgLen)
		out.Args[field] = s
		parts = append(parts, s)
	}
	out.Summary = tool
	if len(parts) > 0 {
		out.Summary = tool + ": " + strings.Join(parts, " ")
	}
	return out
}

// FilterToolArgsJSON is FilterToolArgs marshaled for storage in the
// tool_args column.
func FilterToolArgsJSON(tool string, payload map[string]any) string {
	data, err := json.Marshal(FilterToolArgs(tool, payload))
	if err != nil {
		return `{"args":{},"summary":""}`
	}
	return string(data)
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
