package queue

import (
	"context"
	"errors"
	"sync"
)

var errClosed = errors.New("queue: transport closed")

// memLane is an unbounded FIFO. signal has capacity one and coalesces wakeups.
type memLane struct {
	mu     sync.Mutex
	jobs   []Job
	signal chan struct{}
}

func (l *memLane) push(job Job, front bool) {
	l.mu.Lock()
	if front {
		l.jobs = append([]Job{job}, l.jobs...)
	} else {
		l.jobs = append(l.jobs, job)
	}
	l.mu.Unlock()
	select {
	case l.signal <- struct{}{}:
	default:
	}
}

func (l *memLane) pop() (Job, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.jobs) == 0 {
		return Job{}, false
	}
	job := l.jobs[0]
	l.jobs[0] = Job{}
	l.jobs = l.jobs[1:]
	if len(l.jobs) == 0 {
		l.jobs = nil
	}
	return job, true
}

// MemoryTransport keeps jobs in process. Jobs do not survive a restart.
type MemoryTransport struct {
	lanes  []*memLane
	closed chan struct{}
	once   sync.Once

	mu   sync.Mutex
	dead []DeadLetter
}

func NewMemoryTransport(lanes int) *MemoryTransport {
	if lanes <= 0 {
		lanes = 1
	}
	t := &MemoryTransport{closed: make(chan struct{})}
	for i := 0; i < lanes; i++ {
		t.lanes = append(t.lanes, &memLane{signal: make(chan struct{}, 1)})
	}
	return t
}

func (t *MemoryTransport) Publish(_ context.Context, lane int, job Job) error {
	if !t.Ready() {
		return errClosed
	}
	t.lanes[lane%len(t.lanes)].push(job, false)
	return nil
}

func (t *MemoryTransport) Receive(ctx context.Context, lane int) (Delivery, error) {
	l := t.lanes[lane%len(t.lanes)]
	for {
		if job, ok := l.pop(); ok {
			return Delivery{
				Job:     job,
				Ack:     func() error { return nil },
				Requeue: func() error { l.push(job, true); return nil },
			}, nil
		}
		select {
		case <-ctx.Done():
			return Delivery{}, ctx.Err()
		case <-t.closed:
			return Delivery{}, errClosed
		case <-l.signal:
		}
	}
}

func (t *MemoryTransport) PublishDead(_ context.Context, dl DeadLetter) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dead = append(t.dead, dl)
	return nil
}

// DeadLetters returns a copy of everything dead-lettered so far.
func (t *MemoryTransport) DeadLetters() []DeadLetter {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]DeadLetter(nil), t.dead...)
}

// Pending counts queued jobs across lanes.
func (t *MemoryTransport) Pending() int {
	n := 0
	for _, l := range t.lanes {
		l.mu.Lock()
		n += len(l.jobs)
		l.mu.Unlock()
	}
	return n
}

func (t *MemoryTransport) Ready() bool {
	select {
	case <-t.closed:
		return false
	default:
		return true
	}
}

func (t *MemoryTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}
