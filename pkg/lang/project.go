package lang

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// DetectProject probes the project root's build manifests and returns the
// dominant language. Probes run in a fixed order; the first hit wins.
func DetectProject(root string) Language {
	if _, err := os.Stat(filepath.Join(root, "go.mod")); err == nil {
		return Go
	}
	if hasCargoPackage(root) {
		return Rust
	}
	if lang := packageJSONLanguage(root); lang != Unknown {
		return lang
	}
	if hasPyproject(root) {
		return Python
	}
	return Unknown
}

// hasCargoPackage reports whether Cargo.toml exists and declares a package
// or a workspace.
func hasCargoPackage(root string) bool {
	data, err := os.ReadFile(filepath.Join(root, "Cargo.toml")) //nolint:gosec // root is caller-supplied project dir
	if err != nil {
		return false
	}
	var manifest struct {
		Package   map[string]any `toml:"package"`
		Workspace map[string]any `toml:"workspace"`
	}
	if err := toml.Unmarshal(data, &manifest); err != nil {
		return false
	}
	return len(manifest.Package) > 0 || len(manifest.Workspace) > 0
}

// hasPyproject reports whether pyproject.toml exists and parses.
func hasPyproject(root string) bool {
	data, err := os.ReadFile(filepath.Join(root, "pyproject.toml")) //nolint:gosec // root is caller-supplied project dir
	if err != nil {
		return false
	}
	var manifest map[string]any
	return toml.Unmarshal(data, &manifest) == nil
}

// packageJSONLanguage distinguishes TypeScript from JavaScript projects by
// the presence of a typescript dependency or tsconfig.json.
func packageJSONLanguage(root string) Language {
	data, err := os.ReadFile(filepath.Join(root, "package.json")) //nolint:gosec // root is caller-supplied project dir
	if err != nil {
		return Unknown
	}
	var pkg struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return Unknown
	}
	if _, ok := pkg.Dependencies["typescript"]; ok {
		return TypeScript
	}
	if _, ok := pkg.DevDependencies["typescript"]; ok {
		return TypeScript
	}
	if _, err := os.Stat(filepath.Join(root, "tsconfig.json")); err == nil {
		return TypeScript
	}
	return JavaScript
}
