package main

import (
	"log"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fsnotify/fsnotify"
)

// fsChangeMsg is sent when a file change is detected in the state directory.
type fsChangeMsg struct{}

// debounceDuration coalesces SQLite WAL write bursts into one refresh.
const debounceDuration = 100 * time.Millisecond

// watchStateDir creates a file system watcher for the state directory.
// Returns nil if the directory doesn't exist or watcher creation fails;
// the dashboard then refreshes on the poll tick only.
func watchStateDir(stateDir string) tea.Cmd {
	watcher := initWatcher(stateDir)
	if watcher == nil {
		return nil
	}
	return runWatcher(watcher)
}

func initWatcher(stateDir string) *fsnotify.Watcher {
	if _, err := os.Stat(stateDir); err != nil {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("fsnotify: create watcher: %v (polling only)", err)
		return nil
	}
	if err := watcher.Add(stateDir); err != nil {
		_ = watcher.Close()
		log.Printf("fsnotify: watch %s: %v (polling only)", stateDir, err)
		return nil
	}
	return watcher
}

// runWatcher returns a tea.Cmd that blocks until a debounced change lands,
// then reports it as one fsChangeMsg.
func runWatcher(watcher *fsnotify.Watcher) tea.Cmd {
	return func() tea.Msg {
		timer := newDebounceTimer()
		defer timer.Stop()

		for {
			select {
			case _, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				resetDebounceTimer(timer)

			case <-timer.C:
				return fsChangeMsg{}

			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				log.Printf("fsnotify: watcher error: %v", err)
				return nil
			}
		}
	}
}

// newDebounceTimer returns a stopped, drained timer.
func newDebounceTimer() *time.Timer {
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	return timer
}

func resetDebounceTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(debounceDuration)
}
