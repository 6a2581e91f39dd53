package main

import (
	"os"
	"testing"
	"time"
)

func TestWriteReadRemoveHostStateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	want := hostState{
		PID:        os.Getpid(),
		StartedAt:  time.Now().Truncate(time.Second),
		LANPort:    9527,
		LANEnabled: true,
		RelayURL:   "wss://relay.example",
		DevMode:    true,
	}
	if err := writeHostState(dir, want); err != nil {
		t.Fatalf("writeHostState: %v", err)
	}

	got, err := readHostState(dir)
	if err != nil {
		t.Fatalf("readHostState: %v", err)
	}
	if got.PID != want.PID || got.LANPort != want.LANPort || got.RelayURL != want.RelayURL || !got.DevMode {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if !got.StartedAt.Equal(want.StartedAt) {
		t.Fatalf("StartedAt = %v, want %v", got.StartedAt, want.StartedAt)
	}

	removeHostState(dir)
	if _, err := readHostState(dir); !os.IsNotExist(err) {
		t.Fatalf("readHostState after remove = %v, want os.IsNotExist", err)
	}
}

func TestReadHostStateMissingFile(t *testing.T) {
	if _, err := readHostState(t.TempDir()); !os.IsNotExist(err) {
		t.Fatalf("readHostState on empty dir = %v, want os.IsNotExist", err)
	}
}

func TestProcessAliveForCurrentProcess(t *testing.T) {
	if !processAlive(os.Getpid()) {
		t.Fatal("processAlive(os.Getpid()) = false, want true")
	}
}

func TestProcessAliveForImpossiblePID(t *testing.T) {
	if processAlive(1 << 30) {
		t.Fatal("processAlive on an implausible pid = true, want false")
	}
}

func TestResolveConfigDirUsesOverride(t *testing.T) {
	dir, err := resolveConfigDir("/custom/dir")
	if err != nil {
		t.Fatalf("resolveConfigDir: %v", err)
	}
	if dir != "/custom/dir" {
		t.Fatalf("resolveConfigDir override = %q, want /custom/dir", dir)
	}
}
