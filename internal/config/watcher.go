package config

import (
	"context"
	"log"
	"os"
	"time"
)

const defaultWatchInterval = 500 * time.Millisecond

// Watcher polls a config file and emits each valid new version.
type Watcher struct {
	path     string
	interval time.Duration
}

// NewWatcher creates a Watcher for path. A non-positive interval uses
// the default of 500ms.
func NewWatcher(path string, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = defaultWatchInterval
	}
	return &Watcher{path: path, interval: interval}
}

type fileStamp struct {
	mod  time.Time
	size int64
}

func (w *Watcher) stamp() (fileStamp, bool) {
	info, err := os.Stat(w.path)
	if err != nil {
		return fileStamp{}, false
	}
	return fileStamp{mod: info.ModTime(), size: info.Size()}, true
}

// Watch sends every changed config that passes validation. A change is
// loaded only once the file looks the same on two consecutive polls, and
// empty files are ignored, so a save in progress is never read. Invalid
// versions are logged and skipped; the caller keeps its current config.
// Only the latest pending config is kept when the consumer lags. The
// channel is closed when ctx is done.
func (w *Watcher) Watch(ctx context.Context) <-chan *Config {
	ch := make(chan *Config, 1)

	go func() {
		defer close(ch)

		last, _ := w.stamp()
		var pending fileStamp
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			cur, ok := w.stamp()
			if !ok || cur == last {
				continue
			}
			if cur != pending {
				pending = cur
				continue
			}
			last = cur
			if cur.size == 0 {
				log.Printf("[config] %s is empty, keeping current config", w.path)
				continue
			}

			cfg, err := Load(w.path)
			if err != nil {
				log.Printf("[config] reload of %s rejected, keeping current config: %v", w.path, err)
				continue
			}
			log.Printf("[config] reloaded %s", w.path)

			select {
			case ch <- cfg:
			default:
				select {
				case <-ch:
				default:
				}
				ch <- cfg
			}
		}
	}()

	return ch
}
