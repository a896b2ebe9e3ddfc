package merge

import (
	"regexp"
	"strconv"
	"strings"

	"overstory/pkg/protocol"
)

// conflictPattern matches git's CONFLICT output lines, e.g.
//
//	CONFLICT (content): Merge conflict in src/main.go
//	CONFLICT (add/add): Merge conflict in new_file.go
var conflictPattern = regexp.MustCompile(`CONFLICT \([^)]+\): Merge conflict in (.+)`)

// ParseConflictOutput extracts conflicted file paths from git merge output.
func ParseConflictOutput(output string) []string {
	matches := conflictPattern.FindAllStringSubmatch(output, -1)
	if len(matches) == 0 {
		return nil
	}
	files := make([]string, 0, len(matches))
	for _, m := range matches {
		files = append(files, strings.TrimSpace(m[1]))
	}
	return files
}

// marker prefixes of a three-way conflict hunk. The base section (diff3
// style) may appear between ours and theirs.
const (
	markerOurs   = "<<<<<<<"
	markerBase   = "|||||||"
	markerSep    = "======="
	markerTheirs = ">>>>>>>"
)

// ResolveKeepIncoming rewrites conflicted content keeping only the incoming
// (theirs) side of every hunk. Returns an error when the markers are not
// well formed, which makes the caller abort the auto-resolve tier.
func ResolveKeepIncoming(content string) (string, error) {
	const (
		outside = iota
		inOurs
		inBase
		inTheirs
	)

	var out []string
	state := outside
	for i, line := range strings.Split(content, "\n") {
		switch {
		case strings.HasPrefix(line, markerOurs):
			if state != outside {
				return "", malformed(i, "nested conflict start")
			}
			state = inOurs
		case strings.HasPrefix(line, markerBase):
			if state != inOurs {
				return "", malformed(i, "base marker outside a hunk")
			}
			state = inBase
		case strings.HasPrefix(line, markerSep) && state != outside:
			if state != inOurs && state != inBase {
				return "", malformed(i, "separator out of order")
			}
			state = inTheirs
		case strings.HasPrefix(line, markerTheirs):
			if state != inTheirs {
				return "", malformed(i, "conflict end without separator")
			}
			state = outside
		default:
			if state == outside || state == inTheirs {
				out = append(out, line)
			}
		}
	}
	if state != outside {
		return "", protocol.NewValidationError("unterminated conflict hunk", nil)
	}
	return strings.Join(out, "\n"), nil
}

// HasConflictMarkers reports whether content contains an apparent hunk.
func HasConflictMarkers(content string) bool {
	return strings.Contains(content, markerOurs) &&
		strings.Contains(content, markerSep) &&
		strings.Contains(content, markerTheirs)
}

func malformed(line int, what string) error {
	return protocol.NewValidationError("malformed conflict markers",
		map[string]string{"line": strconv.Itoa(line + 1), "detail": what})
}
