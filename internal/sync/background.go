package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow collapses the burst of fsnotify events an editor save
// produces into a single sync run.
const debounceWindow = 2 * time.Second

// Background drives sync runs from two sources: a fixed interval and a
// filesystem watcher over the configured paths. Either source alone is
// enough; with both disabled Run returns immediately.
type Background struct {
	runner   *Runner
	interval time.Duration
	watch    []string
	logger   *slog.Logger
}

func NewBackground(runner *Runner, interval time.Duration, watch []string, logger *slog.Logger) *Background {
	return &Background{runner: runner, interval: interval, watch: watch, logger: logger}
}

// Run blocks until the context is cancelled.
func (b *Background) Run(ctx context.Context) error {
	trigger := make(chan struct{}, 1)

	if len(b.watch) > 0 {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			b.logger.Warn("file watcher unavailable, interval sync only", "error", err)
		} else {
			defer watcher.Close()
			for _, p := range b.watch {
				if err := watcher.Add(p); err != nil {
					b.logger.Warn("watch path unavailable", "path", p, "error", err)
				}
			}
			go b.watchLoop(ctx, watcher, trigger)
		}
	}

	var tick <-chan time.Time
	if b.interval > 0 {
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	if tick == nil && len(b.watch) == 0 {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			b.run(ctx, "interval")
		case <-trigger:
			b.run(ctx, "watch")
		}
	}
}

func (b *Background) run(ctx context.Context, reason string) {
	if _, err := b.runner.Run(ctx); err != nil && ctx.Err() == nil {
		b.logger.Error("background sync failed", "reason", reason, "error", err)
	}
}

// watchLoop debounces filesystem events into at most one pending trigger.
func (b *Background) watchLoop(ctx context.Context, w *fsnotify.Watcher, trigger chan<- struct{}) {
	var debounce *time.Timer
	fire := func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.AfterFunc(debounceWindow, fire)
			} else {
				debounce.Reset(debounceWindow)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			b.logger.Warn("watcher error", "error", err)
		}
	}
}
