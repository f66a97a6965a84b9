package queue

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

func quietLogger() *slog.Logger { return slog.New(slog.NewJSONHandler(io.Discard, nil)) }

type harness struct {
	q      *Queue
	t      *MemoryTransport
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	dead []DeadLetter
}

func start(t *testing.T, h Handler, opts Options) *harness {
	t.Helper()
	opts.Logger = quietLogger()
	if opts.RatePerSec == 0 {
		opts.RatePerSec = 1000
	}
	hs := &harness{done: make(chan struct{})}
	opts.OnDeadLetter = func(_ context.Context, dl DeadLetter) {
		hs.mu.Lock()
		hs.dead = append(hs.dead, dl)
		hs.mu.Unlock()
	}
	hs.t = NewMemoryTransport(opts.Concurrency)
	hs.q = New(hs.t, h, opts)
	hs.q.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }

	ctx, cancel := context.WithCancel(context.Background())
	hs.cancel = cancel
	go func() {
		_ = hs.q.Run(ctx)
		close(hs.done)
	}()
	require.Eventually(t, hs.q.Ready, time.Second, time.Millisecond)
	t.Cleanup(hs.stop)
	return hs
}

func (h *harness) stop() {
	h.cancel()
	<-h.done
}

func (h *harness) deadLetters() []DeadLetter {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]DeadLetter(nil), h.dead...)
}

func TestQueue_PerKeyFIFO(t *testing.T) {
	var mu sync.Mutex
	seen := map[string][]string{}
	h := start(t, func(_ context.Context, job Job) error {
		time.Sleep(time.Millisecond)
		mu.Lock()
		seen[job.Key] = append(seen[job.Key], string(job.Payload))
		mu.Unlock()
		return nil
	}, Options{Concurrency: 3})

	ctx := context.Background()
	keys := []string{"#1001", "#1002", "#1003", "#1004"}
	for i := 0; i < 10; i++ {
		for _, k := range keys {
			_, err := h.q.Enqueue(ctx, "orders/updated", "orders", []byte{byte('0' + i)}, Meta{Key: k})
			require.NoError(t, err)
		}
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		n := 0
		for _, v := range seen {
			n += len(v)
		}
		return n == 40
	}, 5*time.Second, 5*time.Millisecond)

	for _, k := range keys {
		assert.Equal(t, []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}, seen[k], k)
	}
}

func TestQueue_SameKeyNeverConcurrent(t *testing.T) {
	var mu sync.Mutex
	active, maxActive, total := 0, 0, 0
	h := start(t, func(_ context.Context, job Job) error {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
		time.Sleep(2 * time.Millisecond)
		mu.Lock()
		active--
		total++
		mu.Unlock()
		return nil
	}, Options{Concurrency: 3})

	for i := 0; i < 12; i++ {
		_, err := h.q.Enqueue(context.Background(), "orders/create", "orders", nil, Meta{Key: "#42"})
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { mu.Lock(); defer mu.Unlock(); return total == 12 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, maxActive)
}

func TestQueue_RetriesThenSucceeds(t *testing.T) {
	var mu sync.Mutex
	var attempts []int
	h := start(t, func(_ context.Context, job Job) error {
		mu.Lock()
		defer mu.Unlock()
		attempts = append(attempts, job.Attempt)
		if job.Attempt < 3 {
			return errors.New("db timeout")
		}
		return nil
	}, Options{Concurrency: 1, MaxAttempts: 5})

	_, err := h.q.Enqueue(context.Background(), "products/update", "products", nil, Meta{Key: "777"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { mu.Lock(); defer mu.Unlock(); return len(attempts) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []int{1, 2, 3}, attempts)
	assert.Empty(t, h.deadLetters())
}

func TestQueue_ExhaustedJobIsDeadLettered(t *testing.T) {
	h := start(t, func(context.Context, Job) error { return errors.New("still down") },
		Options{Concurrency: 1, MaxAttempts: 3})

	id, err := h.q.Enqueue(context.Background(), "orders/create", "orders", []byte(`{}`), Meta{Key: "#1"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(h.deadLetters()) == 1 }, time.Second, time.Millisecond)

	dl := h.deadLetters()[0]
	assert.Equal(t, id, dl.Job.ID)
	assert.Equal(t, 3, dl.Job.Attempt)
	assert.Equal(t, "still down", dl.Error)
	assert.Len(t, h.t.DeadLetters(), 1)
}

func TestQueue_PermanentErrorSkipsRetries(t *testing.T) {
	calls := 0
	var mu sync.Mutex
	h := start(t, func(context.Context, Job) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return Permanent(errors.New("negative quantity"))
	}, Options{Concurrency: 1, MaxAttempts: 5})

	_, err := h.q.Enqueue(context.Background(), "orders/create", "orders", nil, Meta{Key: "#1"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(h.deadLetters()) == 1 }, time.Second, time.Millisecond)
	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
}

func TestQueue_PanicIsDeadLettered(t *testing.T) {
	h := start(t, func(context.Context, Job) error { panic("nil map") }, Options{Concurrency: 1})
	_, err := h.q.Enqueue(context.Background(), "customers/update", "customers", nil, Meta{Key: "5"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(h.deadLetters()) == 1 }, time.Second, time.Millisecond)
	assert.Contains(t, h.deadLetters()[0].Error, "handler panic")
}

func TestQueue_ShutdownRequeuesInFlightJob(t *testing.T) {
	started := make(chan struct{})
	h := start(t, func(ctx context.Context, _ Job) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}, Options{Concurrency: 1})

	_, err := h.q.Enqueue(context.Background(), "orders/create", "orders", nil, Meta{Key: "#1"})
	require.NoError(t, err)
	<-started
	h.stop()

	assert.Equal(t, 1, h.t.Pending())
	assert.Empty(t, h.deadLetters())
	assert.False(t, h.q.Ready())
}

func TestQueue_EnqueueWhenNotRunning(t *testing.T) {
	q := New(NewMemoryTransport(1), func(context.Context, Job) error { return nil }, Options{Logger: quietLogger()})
	_, err := q.Enqueue(context.Background(), "orders/create", "orders", nil, Meta{})
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestQueue_Backoff(t *testing.T) {
	q := New(NewMemoryTransport(1), nil, Options{Backoff: 2 * time.Second, MaxBackoff: time.Minute, Logger: quietLogger()})
	assert.Equal(t, 2*time.Second, q.backoff(1))
	assert.Equal(t, 4*time.Second, q.backoff(2))
	assert.Equal(t, 16*time.Second, q.backoff(4))
	assert.Equal(t, time.Minute, q.backoff(10))
}

func TestPermanent(t *testing.T) {
	base := errors.New("bad")
	err := Permanent(base)
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, base)
	assert.Nil(t, Permanent(nil))
	assert.False(t, IsPermanent(base))
}
