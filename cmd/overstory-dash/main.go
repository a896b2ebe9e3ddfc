// Package main implements the overstory-dash interactive dashboard.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
)

func main() {
	stateDir := flag.String("state-dir", defaultStateDir(), "state directory")
	robot := flag.Bool("robot", false, "print one JSON snapshot and exit")
	flag.Parse()

	if *robot {
		snap, err := fetchSnapshot(context.Background(), *stateDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading state: %v\n", err)
			os.Exit(1)
		}
		data, err := json.Marshal(snap)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error marshaling snapshot: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(data))
		return
	}

	p := tea.NewProgram(newModel(*stateDir), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running dashboard: %v\n", err)
		os.Exit(1)
	}
}

func defaultStateDir() string {
	if dir := os.Getenv("OVERSTORY_STATE_DIR"); dir != "" {
		return dir
	}
	return ".overstory"
}
