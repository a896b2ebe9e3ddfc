// Package config loads .overstory/config.yaml. Load applies defaults for
// absent fields and validates the result; Dump writes the validated form
// back out, so load, dump, load is an identity.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"overstory/pkg/protocol"
)

// Duration wraps time.Duration so YAML reads and writes the human form
// ("30s", "10m") instead of nanosecond integers.
type Duration time.Duration

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Watchdog holds the monitor loop thresholds.
type Watchdog struct {
	PollInterval   Duration `yaml:"poll_interval"`
	StallThreshold Duration `yaml:"stall_threshold"`
	HardKill       Duration `yaml:"hard_kill"`
	GracePeriod    Duration `yaml:"grace_period"`
	TriageCommand  []string `yaml:"triage_command,omitempty"`
}

// Merge holds the resolver deadlines and the AI tier invocation.
type Merge struct {
	GitTimeout       Duration `yaml:"git_timeout"`
	AITimeout        Duration `yaml:"ai_timeout"`
	AICommand        []string `yaml:"ai_command,omitempty"`
	ExpertiseCommand []string `yaml:"expertise_command,omitempty"`
}

// Config is the project configuration. Zero-valued fields take defaults at
// load time.
type Config struct {
	ProjectName     string   `yaml:"project_name"`
	CanonicalBranch string   `yaml:"canonical_branch"`
	TmuxSession     string   `yaml:"tmux_session"`
	MaxAgents       int      `yaml:"max_agents"`
	Watchdog        Watchdog `yaml:"watchdog"`
	Merge           Merge    `yaml:"merge"`
}

// Default returns the configuration used when no config.yaml exists.
func Default() Config {
	return Config{
		CanonicalBranch: "main",
		TmuxSession:     "overstory",
		MaxAgents:       8,
		Watchdog: Watchdog{
			PollInterval:   Duration(30 * time.Second),
			StallThreshold: Duration(10 * time.Minute),
			HardKill:       Duration(30 * time.Minute),
			GracePeriod:    Duration(2 * time.Second),
		},
		Merge: Merge{
			GitTimeout: Duration(30 * time.Second),
			AITimeout:  Duration(120 * time.Second),
		},
	}
}

// Load reads path, fills defaults for absent fields, and validates. A
// missing file returns Default() with no error; a malformed or invalid file
// is a config error.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, protocol.NewConfigError("read "+path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, protocol.NewConfigError("parse "+path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the documented constraints.
func (c Config) Validate() error {
	if c.CanonicalBranch == "" {
		return protocol.NewConfigError("canonical_branch must not be empty", nil)
	}
	if c.TmuxSession == "" {
		return protocol.NewConfigError("tmux_session must not be empty", nil)
	}
	if c.MaxAgents < 1 {
		return protocol.NewConfigError(fmt.Sprintf("max_agents %d out of range", c.MaxAgents), nil)
	}
	for name, d := range map[string]Duration{
		"watchdog.poll_interval":   c.Watchdog.PollInterval,
		"watchdog.stall_threshold": c.Watchdog.StallThreshold,
		"watchdog.hard_kill":       c.Watchdog.HardKill,
		"merge.git_timeout":        c.Merge.GitTimeout,
		"merge.ai_timeout":         c.Merge.AITimeout,
	} {
		if d <= 0 {
			return protocol.NewConfigError(name+" must be positive", nil)
		}
	}
	if c.Watchdog.HardKill <= c.Watchdog.StallThreshold {
		return protocol.NewConfigError("watchdog.hard_kill must exceed watchdog.stall_threshold", nil)
	}
	return nil
}

// Dump writes c to path in the same form Load reads.
func (c Config) Dump(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return protocol.NewConfigError("encode config", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return protocol.NewConfigError("write "+path, err)
	}
	return nil
}
