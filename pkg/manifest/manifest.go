// Package manifest persists per-agent files under
// .overstory/agents/<name>/: a JSON checkpoint for crash recovery and a YAML
// identity record that accumulates across sessions. All writes are
// write-temp-then-rename so readers never observe a partial file.
package manifest

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"overstory/pkg/protocol"
)

const (
	checkpointFile = "checkpoint.json"
	identityFile   = "identity.yaml"

	// maxRecentTasks caps the identity task history; the oldest entry is
	// evicted first.
	maxRecentTasks = 20
)

// Checkpoint is an agent's resumable session snapshot.
type Checkpoint struct {
	AgentName       string   `json:"agent_name"`
	TaskID          string   `json:"task_id"`
	SessionID       string   `json:"session_id"`
	ProgressSummary string   `json:"progress_summary"`
	FilesModified   []string `json:"files_modified"`
	CurrentBranch   string   `json:"current_branch"`
	PendingWork     string   `json:"pending_work"`
}

// TaskRecord is one completed task in an agent's history.
type TaskRecord struct {
	TaskID  string    `yaml:"task_id"`
	Summary string    `yaml:"summary"`
	TS      time.Time `yaml:"ts"`
}

// Identity is an agent's persistent CV. It survives individual sessions and
// feeds task routing.
type Identity struct {
	Name              string       `yaml:"name"`
	Capability        string       `yaml:"capability"`
	SessionsCompleted int          `yaml:"sessions_completed"`
	ExpertiseDomains  []string     `yaml:"expertise_domains"`
	RecentTasks       []TaskRecord `yaml:"recent_tasks"`
}

// RecordTask appends t to the history, evicting the oldest entries beyond
// the cap.
func (id *Identity) RecordTask(t TaskRecord) {
	id.RecentTasks = append(id.RecentTasks, t)
	if n := len(id.RecentTasks); n > maxRecentTasks {
		id.RecentTasks = id.RecentTasks[n-maxRecentTasks:]
	}
}

// AgentDir returns the manifest directory for agent under stateDir.
func AgentDir(stateDir, agent string) string {
	return filepath.Join(stateDir, "agents", agent)
}

// SaveCheckpoint writes the agent's checkpoint atomically. Saving an
// unchanged checkpoint produces byte-identical output.
func SaveCheckpoint(stateDir string, cp Checkpoint) error {
	if cp.AgentName == "" {
		return protocol.NewValidationError("checkpoint requires agent_name", nil)
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return protocol.NewLifecycleError("encode checkpoint", map[string]string{"agent": cp.AgentName})
	}
	return writeAtomic(filepath.Join(AgentDir(stateDir, cp.AgentName), checkpointFile), append(data, '\n'))
}

// LoadCheckpoint reads the agent's checkpoint. A missing file reports
// ok=false with no error.
func LoadCheckpoint(stateDir, agent string) (Checkpoint, bool, error) {
	path := filepath.Join(AgentDir(stateDir, agent), checkpointFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, protocol.NewAgentError(agent, "read checkpoint", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, false, protocol.NewAgentError(agent, "checkpoint corrupt", err)
	}
	return cp, true, nil
}

// SaveIdentity writes the agent's identity atomically.
func SaveIdentity(stateDir string, id Identity) error {
	if id.Name == "" {
		return protocol.NewValidationError("identity requires name", nil)
	}
	data, err := yaml.Marshal(id)
	if err != nil {
		return protocol.NewLifecycleError("encode identity", map[string]string{"agent": id.Name})
	}
	return writeAtomic(filepath.Join(AgentDir(stateDir, id.Name), identityFile), data)
}

// LoadIdentity reads the agent's identity. A missing file reports ok=false
// with no error.
func LoadIdentity(stateDir, agent string) (Identity, bool, error) {
	path := filepath.Join(AgentDir(stateDir, agent), identityFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Identity{}, false, nil
	}
	if err != nil {
		return Identity{}, false, protocol.NewAgentError(agent, "read identity", err)
	}
	var id Identity
	if err := yaml.Unmarshal(data, &id); err != nil {
		return Identity{}, false, protocol.NewAgentError(agent, "identity corrupt", err)
	}
	return id, true, nil
}

// writeAtomic writes data to path via a temp file in the same directory and
// a rename, creating parent directories as needed.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return protocol.NewStoreError("create manifest dir", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return protocol.NewStoreError("create temp manifest", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return protocol.NewStoreError("write temp manifest", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return protocol.NewStoreError("close temp manifest", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return protocol.NewStoreError("rename manifest into place", err)
	}
	return nil
}
