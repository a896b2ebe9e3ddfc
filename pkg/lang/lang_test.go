package lang

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDetectPath(t *testing.T) {
	tests := []struct {
		path string
		want Language
	}{
		{"pkg/state/store.go", Go},
		{"scripts/run.py", Python},
		{"src/App.tsx", TypeScript},
		{"lib/index.js", JavaScript},
		{"src/main.rs", Rust},
		{"bin/setup.sh", Shell},
		{"README.md", Markdown},
		{"config.yaml", YAML},
		{"data.JSON", JSON},
		{"Cargo.toml", TOML},
		{"Makefile", Unknown},
		{"noext", Unknown},
	}
	for _, tt := range tests {
		if got := DetectPath(tt.path); got != tt.want {
			t.Errorf("DetectPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestIsCode(t *testing.T) {
	if !Go.IsCode() || !Shell.IsCode() {
		t.Error("source languages should be code")
	}
	if Markdown.IsCode() || YAML.IsCode() || Unknown.IsCode() {
		t.Error("prose and data formats are not code")
	}
}

func TestKeywords(t *testing.T) {
	if len(Keywords(Go)) == 0 {
		t.Error("go keywords missing")
	}
	if Keywords(Markdown) != nil {
		t.Error("markdown should have no keyword set")
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestDetectProject(t *testing.T) {
	t.Run("go module", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "go.mod", "module example\n\ngo 1.25\n")
		if got := DetectProject(dir); got != Go {
			t.Errorf("got %q, want go", got)
		}
	})

	t.Run("cargo package", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "Cargo.toml", "[package]\nname = \"demo\"\nversion = \"0.1.0\"\n")
		if got := DetectProject(dir); got != Rust {
			t.Errorf("got %q, want rust", got)
		}
	})

	t.Run("cargo workspace", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "Cargo.toml", "[workspace]\nmembers = [\"a\"]\n")
		if got := DetectProject(dir); got != Rust {
			t.Errorf("got %q, want rust", got)
		}
	})

	t.Run("typescript via devDependencies", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "package.json", `{"devDependencies":{"typescript":"^5.0.0"}}`)
		if got := DetectProject(dir); got != TypeScript {
			t.Errorf("got %q, want typescript", got)
		}
	})

	t.Run("javascript plain", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "package.json", `{"dependencies":{"express":"^4.0.0"}}`)
		if got := DetectProject(dir); got != JavaScript {
			t.Errorf("got %q, want javascript", got)
		}
	})

	t.Run("pyproject", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "pyproject.toml", "[project]\nname = \"demo\"\n")
		if got := DetectProject(dir); got != Python {
			t.Errorf("got %q, want python", got)
		}
	})

	t.Run("empty dir", func(t *testing.T) {
		if got := DetectProject(t.TempDir()); got != Unknown {
			t.Errorf("got %q, want unknown", got)
		}
	})

	t.Run("malformed cargo toml ignored", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "Cargo.toml", "not [ valid toml")
		if got := DetectProject(dir); got != Unknown {
			t.Errorf("got %q, want unknown", got)
		}
	})
}
