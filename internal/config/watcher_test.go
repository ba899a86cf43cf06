package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const baseConfig = `
[negotiation]
max_rounds = 4
`

const updatedConfig = `
[negotiation]
max_rounds = 8
`

const invalidConfig = `
[negotiation]
quorum = 1.5
`

// rewrite replaces the file the way an atomic save does and pushes its
// mod time forward so coarse filesystem clocks still register a change.
func rewrite(t *testing.T, path, content string, age time.Duration) {
	t.Helper()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	ts := time.Now().Add(age)
	if err := os.Chtimes(tmp, ts, ts); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}
}

func TestWatcherDetectsChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accord.toml")
	rewrite(t, path, baseConfig, -time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch := NewWatcher(path, 50*time.Millisecond).Watch(ctx)
	time.Sleep(100 * time.Millisecond)
	rewrite(t, path, updatedConfig, 0)

	select {
	case cfg, ok := <-ch:
		if !ok {
			t.Fatal("channel closed unexpectedly")
		}
		if cfg.Negotiation.MaxRounds != 8 {
			t.Errorf("expected max_rounds 8 after reload, got %d", cfg.Negotiation.MaxRounds)
		}
	case <-ctx.Done():
		t.Fatal("timeout: did not receive config update")
	}
}

func TestWatcherSkipsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accord.toml")
	rewrite(t, path, baseConfig, -time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ch := NewWatcher(path, 50*time.Millisecond).Watch(ctx)
	time.Sleep(100 * time.Millisecond)
	rewrite(t, path, invalidConfig, 0)

	select {
	case cfg, ok := <-ch:
		if ok {
			t.Errorf("expected no update for invalid config, got quorum %v", cfg.Negotiation.Quorum)
		}
	case <-ctx.Done():
	}
}

func TestWatcherSkipsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accord.toml")
	rewrite(t, path, baseConfig, -time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch := NewWatcher(path, 50*time.Millisecond).Watch(ctx)
	time.Sleep(100 * time.Millisecond)

	// A non-atomic save truncates first; that state must not reload.
	if err := os.Truncate(path, 0); err != nil {
		t.Fatal(err)
	}
	ts := time.Now().Add(-time.Minute)
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)
	rewrite(t, path, updatedConfig, 0)

	select {
	case cfg, ok := <-ch:
		if !ok {
			t.Fatal("channel closed unexpectedly")
		}
		if cfg.Negotiation.MaxRounds != 8 {
			t.Errorf("expected only the completed save to load, got max_rounds %d", cfg.Negotiation.MaxRounds)
		}
	case <-ctx.Done():
		t.Fatal("timeout: did not receive config update")
	}
}

func TestWatcherNoChangeNoEmit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accord.toml")
	rewrite(t, path, baseConfig, -time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	ch := NewWatcher(path, 50*time.Millisecond).Watch(ctx)
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("received an update although the file did not change")
		}
	case <-ctx.Done():
	}
}

func TestWatcherClosesOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accord.toml")
	rewrite(t, path, baseConfig, 0)

	ctx, cancel := context.WithCancel(context.Background())
	ch := NewWatcher(path, 0).Watch(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected channel to be closed after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Error("timeout: channel not closed after cancel")
	}
}
