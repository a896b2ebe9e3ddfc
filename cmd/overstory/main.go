// Package main is the entry point for the overstory CLI.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"overstory/pkg/protocol"
)

func main() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		reportError(err)
		os.Exit(1)
	}
}

// reportError prints one line to stderr, or a JSON object to stdout when
// --json was given anywhere on the command line.
func reportError(err error) {
	kind := protocol.KindOf(err)
	message := err.Error()
	context := map[string]string{}
	var coreErr *protocol.Error
	if errors.As(err, &coreErr) {
		message = coreErr.Message
		if coreErr.Context != nil {
			context = coreErr.Context
		}
	}
	if kind == "" {
		kind = "internal"
	}

	if jsonOutput {
		payload := map[string]any{"error": map[string]any{
			"kind":    string(kind),
			"message": message,
			"context": context,
		}}
		data, _ := json.Marshal(payload)
		fmt.Fprintln(os.Stdout, string(data))
		return
	}
	fmt.Fprintf(os.Stderr, "error: %s: %s\n", kind, message)
}
