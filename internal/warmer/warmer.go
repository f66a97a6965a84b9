// Package warmer pre-fills caches after startup without delaying readiness.
package warmer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Func fills one cache entry or family of entries.
type Func func(ctx context.Context) error

type task struct {
	name string
	fn   Func
}

// Warmer runs registered fns one after another, pausing between them.
type Warmer struct {
	mu     sync.Mutex
	tasks  []task
	gap    time.Duration
	logger *slog.Logger
}

func New(gap time.Duration, logger *slog.Logger) *Warmer {
	return &Warmer{gap: gap, logger: logger.With("component", "warmer")}
}

func (w *Warmer) Register(name string, fn Func) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tasks = append(w.tasks, task{name: name, fn: fn})
}

// Start runs the registered fns in the background. The returned channel is
// closed once every fn has run or ctx is done.
func (w *Warmer) Start(ctx context.Context) <-chan struct{} {
	w.mu.Lock()
	tasks := append([]task(nil), w.tasks...)
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		start := time.Now()
		failed := 0
		for i, t := range tasks {
			if i > 0 && w.gap > 0 {
				select {
				case <-ctx.Done():
					w.logger.Info("cache warming cancelled", "remaining", len(tasks)-i)
					return
				case <-time.After(w.gap):
				}
			}
			if ctx.Err() != nil {
				return
			}
			if err := w.run(ctx, t); err != nil {
				failed++
				w.logger.Warn("cache warm failed", "name", t.name, "error", err)
				continue
			}
			w.logger.Debug("cache warmed", "name", t.name)
		}
		w.logger.Info("cache warming complete", "tasks", len(tasks), "failed", failed, "elapsed", time.Since(start).String())
	}()
	return done
}

func (w *Warmer) run(ctx context.Context, t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.fn(ctx)
}
