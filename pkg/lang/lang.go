// Package lang detects the programming language of files and projects.
// The merge resolver uses it to judge whether AI-proposed file content is
// plausible code for the language in question.
package lang

import (
	"path/filepath"
	"strings"
)

// Language is a canonical language name ("go", "python", ...). Unknown is
// the zero value.
type Language string

// Known languages.
const (
	Unknown    Language = ""
	Go         Language = "go"
	Python     Language = "python"
	TypeScript Language = "typescript"
	JavaScript Language = "javascript"
	Rust       Language = "rust"
	Shell      Language = "shell"
	Markdown   Language = "markdown"
	YAML       Language = "yaml"
	JSON       Language = "json"
	TOML       Language = "toml"
)

var extLanguages = map[string]Language{
	".go":   Go,
	".py":   Python,
	".pyi":  Python,
	".ts":   TypeScript,
	".tsx":  TypeScript,
	".js":   JavaScript,
	".jsx":  JavaScript,
	".mjs":  JavaScript,
	".rs":   Rust,
	".sh":   Shell,
	".bash": Shell,
	".md":   Markdown,
	".yaml": YAML,
	".yml":  YAML,
	".json": JSON,
	".toml": TOML,
}

// DetectPath returns the language implied by the file's extension.
func DetectPath(path string) Language {
	return extLanguages[strings.ToLower(filepath.Ext(path))]
}

// keywordSets holds a few high-frequency keywords per language. A file in
// the language almost always contains several of these; prose contains none.
var keywordSets = map[Language][]string{
	Go:         {"func", "package", "import", "return", "type", "var", "defer", "struct"},
	Python:     {"def", "import", "return", "class", "self", "from", "raise"},
	TypeScript: {"function", "const", "import", "return", "export", "interface", "let"},
	JavaScript: {"function", "const", "import", "return", "export", "let", "var"},
	Rust:       {"fn", "let", "impl", "pub", "use", "struct", "match"},
	Shell:      {"if", "then", "fi", "echo", "export", "local", "done"},
}

// Keywords returns the high-frequency keyword set for the language, or nil
// when the language is unknown or not code (markdown, data formats).
func Keywords(l Language) []string {
	return keywordSets[l]
}

// IsCode reports whether the language is source code rather than prose or a
// data format.
func (l Language) IsCode() bool {
	switch l {
	case Go, Python, TypeScript, JavaScript, Rust, Shell:
		return true
	default:
		return false
	}
}
