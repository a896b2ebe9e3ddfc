package watchdog

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"overstory/pkg/protocol"
)

// failureRecord is one line in the failure log.
type failureRecord struct {
	Agent  string    `json:"agent"`
	Reason string    `json:"reason"`
	TS     time.Time `json:"ts"`
}

// FileFailureLog appends terminations to an NDJSON file for later pattern
// analysis. Safe for concurrent use.
type FileFailureLog struct {
	Path string

	mu      sync.Mutex
	nowFunc func() time.Time
}

// SetNowFunc overrides the clock, for tests.
func (f *FileFailureLog) SetNowFunc(fn func() time.Time) { f.nowFunc = fn }

// RecordFailure appends one record. The log directory is created on first
// use.
func (f *FileFailureLog) RecordFailure(_ context.Context, agent, reason string) error {
	now := time.Now().UTC()
	if f.nowFunc != nil {
		now = f.nowFunc()
	}
	line, err := json.Marshal(failureRecord{Agent: agent, Reason: reason, TS: now})
	if err != nil {
		return protocol.NewStoreError("encode failure record", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return protocol.NewStoreError("create failure log dir", err)
	}
	file, err := os.OpenFile(f.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return protocol.NewStoreError("open failure log", err)
	}
	defer file.Close()
	if _, err := file.Write(append(line, '\n')); err != nil {
		return protocol.NewStoreError("append failure record", err)
	}
	return nil
}
