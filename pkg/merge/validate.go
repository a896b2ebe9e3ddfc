package merge

import (
	"regexp"
	"strings"

	"overstory/pkg/lang"
)

// apologyPhrases are conversational fragments an AI emits when it answers
// instead of producing file content. Any occurrence fails validation.
var apologyPhrases = []string{
	"i'm sorry",
	"i am sorry",
	"i apologize",
	"as an ai",
	"i cannot",
	"i can't",
	"unfortunately, i",
	"here is the",
	"here's the",
}

var identifierPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// LooksLikeCode judges whether proposed file content is plausible source
// for the file at path, as opposed to prose. Heuristics, tuned to reject
// the common failure modes: empty output, a conversational answer, or a
// paragraph of sentences with no identifiers.
func LooksLikeCode(path, content string) bool {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return false
	}
	if HasConflictMarkers(content) {
		return false
	}

	lower := strings.ToLower(trimmed)
	for _, phrase := range apologyPhrases {
		if strings.Contains(lower, phrase) {
			return false
		}
	}

	language := lang.DetectPath(path)
	if !language.IsCode() {
		return true
	}

	lines := nonBlankLines(trimmed)
	if len(lines) == 0 {
		return false
	}

	sentenceEndings := 0
	identifiers := 0
	for _, line := range lines {
		if endsLikeSentence(line) {
			sentenceEndings++
		}
		identifiers += len(identifierPattern.FindAllString(line, -1))
	}
	if float64(sentenceEndings)/float64(len(lines)) > 0.5 {
		return false
	}
	if float64(identifiers)/float64(len(lines)) < 1 {
		return false
	}

	if kws := lang.Keywords(language); len(kws) > 0 {
		for _, kw := range kws {
			if containsWord(trimmed, kw) {
				return true
			}
		}
		return false
	}
	return true
}

func nonBlankLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

func endsLikeSentence(line string) bool {
	t := strings.TrimSpace(line)
	return strings.HasSuffix(t, ".") || strings.HasSuffix(t, "!") || strings.HasSuffix(t, "?")
}

func containsWord(s, word string) bool {
	for _, tok := range identifierPattern.FindAllString(s, -1) {
		if tok == word {
			return true
		}
	}
	return false
}
