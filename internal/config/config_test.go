package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadHostConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadHostConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadHostConfig: %v", err)
	}
	if cfg.DefaultRows != 24 || cfg.DefaultCols != 80 {
		t.Errorf("defaults = %d x %d, want 24 x 80", cfg.DefaultRows, cfg.DefaultCols)
	}
	if cfg.DevMode {
		t.Error("DevMode should default false")
	}
}

func TestSaveAndLoadHostConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	want := &HostConfig{
		Labels:      []string{"laptop", "ci"},
		LANPort:     9527,
		LANEnabled:  true,
		DefaultRows: 40,
		DefaultCols: 120,
	}
	if err := SaveHostConfig(dir, want); err != nil {
		t.Fatalf("SaveHostConfig: %v", err)
	}
	got, err := LoadHostConfig(dir)
	if err != nil {
		t.Fatalf("LoadHostConfig: %v", err)
	}
	if got.LANPort != want.LANPort || len(got.Labels) != 2 || got.DefaultRows != 40 {
		t.Errorf("round trip = %+v, want %+v", got, want)
	}
}

func TestEnvOverridesFileValues(t *testing.T) {
	dir := t.TempDir()
	if err := SaveHostConfig(dir, &HostConfig{WormholeURL: "wss://file.example"}); err != nil {
		t.Fatalf("SaveHostConfig: %v", err)
	}
	t.Setenv("WORMHOLE_URL", "wss://env.example")
	t.Setenv("WORMHOLE_TOKEN", "env-token")
	t.Setenv("BLACKHOLE_DEV", "1")

	cfg, err := LoadHostConfig(dir)
	if err != nil {
		t.Fatalf("LoadHostConfig: %v", err)
	}
	if cfg.WormholeURL != "wss://env.example" {
		t.Errorf("WormholeURL = %q, want env override", cfg.WormholeURL)
	}
	if cfg.WormholeToken != "env-token" {
		t.Errorf("WormholeToken = %q, want env-token", cfg.WormholeToken)
	}
	if !cfg.DevMode {
		t.Error("BLACKHOLE_DEV=1 should set DevMode")
	}
	if !cfg.RelayEnabled {
		t.Error("a non-empty WormholeURL should imply RelayEnabled")
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	if err := SaveHostConfig(dir, &HostConfig{Labels: []string{"initial"}}); err != nil {
		t.Fatalf("SaveHostConfig: %v", err)
	}

	w, err := NewWatcher(dir)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	changed := make(chan *HostConfig, 1)
	w.OnChange = func(cfg *HostConfig) {
		select {
		case changed <- cfg:
		default:
		}
	}
	go w.Run()

	time.Sleep(50 * time.Millisecond) // let the watcher attach before we write
	if err := SaveHostConfig(dir, &HostConfig{Labels: []string{"updated"}, DevMode: true}); err != nil {
		t.Fatalf("SaveHostConfig: %v", err)
	}

	select {
	case cfg := <-changed:
		if !cfg.DevMode || len(cfg.Labels) != 1 || cfg.Labels[0] != "updated" {
			t.Errorf("reloaded config = %+v, want dev_mode and labels=[updated]", cfg)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watcher never observed the config file write")
	}
}

func TestLoadVoyagerConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	want := &VoyagerConfig{LastURL: "ws://host.local:9527", LastToken: "tok"}
	if err := SaveVoyagerConfig(dir, want); err != nil {
		t.Fatalf("SaveVoyagerConfig: %v", err)
	}
	got, err := LoadVoyagerConfig(dir)
	if err != nil {
		t.Fatalf("LoadVoyagerConfig: %v", err)
	}
	if got.LastURL != want.LastURL || got.LastToken != want.LastToken {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestUserConfigDirIsDotBlackhole(t *testing.T) {
	dir, err := UserConfigDir()
	if err != nil {
		t.Fatalf("UserConfigDir: %v", err)
	}
	if filepath.Base(dir) != ".blackhole" {
		t.Errorf("UserConfigDir() = %q, want a .blackhole leaf", dir)
	}
}

func TestEnsureUserConfigDirCreatesDirectory(t *testing.T) {
	base := t.TempDir()
	target := filepath.Join(base, "nested", ".blackhole")
	if err := EnsureUserConfigDir(target); err != nil {
		t.Fatalf("EnsureUserConfigDir: %v", err)
	}
	if info, err := os.Stat(target); err != nil || !info.IsDir() {
		t.Fatalf("expected %s to exist as a directory", target)
	}
}
