package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// hostState is the small runtime snapshot a running serve command writes to
// disk, so a separate status invocation can report on it — the same
// pid-file pattern the teacher uses for egg sessions (cmd/wt/egg.go), just
// with a few more fields since there's only ever one host process.
type hostState struct {
	PID          int       `json:"pid"`
	StartedAt    time.Time `json:"started_at"`
	LANPort      int       `json:"lan_port"`
	LANEnabled   bool      `json:"lan_enabled"`
	RelayURL     string    `json:"relay_url,omitempty"`
	DevMode      bool      `json:"dev_mode"`
	SessionCount int       `json:"session_count"`
}

func stateFilePath(dir string) string {
	return filepath.Join(dir, "host.state.json")
}

func writeHostState(dir string, st hostState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(stateFilePath(dir), data, 0644)
}

func readHostState(dir string) (*hostState, error) {
	data, err := os.ReadFile(stateFilePath(dir))
	if err != nil {
		return nil, err
	}
	var st hostState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse host state: %w", err)
	}
	return &st, nil
}

func removeHostState(dir string) {
	os.Remove(stateFilePath(dir))
}

// processAlive reports whether pid refers to a live process. On POSIX,
// signal 0 checks existence without actually signaling (mirrors the
// liveness check cmd/wt/egg.go runs on its own pid files).
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
