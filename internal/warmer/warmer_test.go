package warmer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWarmer(gap time.Duration) *Warmer {
	return New(gap, slog.New(slog.NewJSONHandler(io.Discard, nil)))
}

func wait(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("warmer did not finish")
	}
}

func TestWarmer_RunsInOrderAndIsolatesFailures(t *testing.T) {
	w := newTestWarmer(time.Millisecond)
	var mu sync.Mutex
	var ran []string
	record := func(name string) {
		mu.Lock()
		ran = append(ran, name)
		mu.Unlock()
	}

	w.Register("leaderboard", func(context.Context) error { record("leaderboard"); return nil })
	w.Register("stats", func(context.Context) error { record("stats"); return errors.New("db down") })
	w.Register("metadata", func(context.Context) error { record("metadata"); panic("nil map") })
	w.Register("home", func(context.Context) error { record("home"); return nil })

	wait(t, w.Start(context.Background()))
	assert.Equal(t, []string{"leaderboard", "stats", "metadata", "home"}, ran)
}

func TestWarmer_StartDoesNotBlock(t *testing.T) {
	w := newTestWarmer(0)
	release := make(chan struct{})
	w.Register("slow", func(context.Context) error { <-release; return nil })

	done := w.Start(context.Background())
	select {
	case <-done:
		t.Fatal("start waited for warm fns")
	default:
	}
	close(release)
	wait(t, done)
}

func TestWarmer_Cancel(t *testing.T) {
	w := newTestWarmer(time.Hour)
	calls := 0
	w.Register("a", func(context.Context) error { calls++; return nil })
	w.Register("b", func(context.Context) error { calls++; return nil })

	ctx, cancel := context.WithCancel(context.Background())
	done := w.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	cancel()
	wait(t, done)
	require.Equal(t, 1, calls)
}

func TestWarmer_Empty(t *testing.T) {
	wait(t, newTestWarmer(0).Start(context.Background()))
}
