// Package queue runs webhook jobs at least once with per-key ordering,
// bounded concurrency, a global rate cap, retries and a dead-letter path.
package queue

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Transport moves jobs between Enqueue and the lane workers.
type Transport interface {
	Publish(ctx context.Context, lane int, job Job) error
	// Receive blocks until a job is available on lane or ctx ends.
	Receive(ctx context.Context, lane int) (Delivery, error)
	PublishDead(ctx context.Context, dl DeadLetter) error
	Ready() bool
	Close() error
}

type Options struct {
	// Concurrency is the number of lanes, one worker each.
	Concurrency int
	RatePerSec  float64
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
	Logger      *slog.Logger
	// OnDeadLetter is called after a job is dead-lettered.
	OnDeadLetter func(ctx context.Context, dl DeadLetter)
}

func (o *Options) setDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = 3
	}
	if o.RatePerSec <= 0 {
		o.RatePerSec = 20
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.Backoff <= 0 {
		o.Backoff = 2 * time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = time.Minute
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

type Queue struct {
	transport Transport
	handler   Handler
	opts      Options
	limiter   *rate.Limiter
	logger    *slog.Logger
	running   atomic.Bool
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

func New(t Transport, h Handler, opts Options) *Queue {
	opts.setDefaults()
	return &Queue{
		transport: t,
		handler:   h,
		opts:      opts,
		limiter:   rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.Concurrency),
		logger:    opts.Logger.With("component", "queue"),
		now:       func() time.Time { return time.Now().UTC() },
		sleep:     sleepCtx,
	}
}

// Lanes is the number of ordered lanes.
func (q *Queue) Lanes() int { return q.opts.Concurrency }

// Ready reports whether enqueued jobs will be picked up.
func (q *Queue) Ready() bool { return q.running.Load() && q.transport.Ready() }

// Enqueue publishes a job and returns its id.
func (q *Queue) Enqueue(ctx context.Context, topic, typ string, payload []byte, meta Meta) (string, error) {
	if !q.Ready() {
		return "", ErrNotReady
	}
	job := Job{
		ID:          uuid.NewString(),
		Topic:       topic,
		Type:        typ,
		Payload:     append([]byte(nil), payload...),
		EnqueuedAt:  q.now(),
		MaxAttempts: q.opts.MaxAttempts,
		Key:         meta.Key,
		ShopDomain:  meta.ShopDomain,
		WebhookID:   meta.WebhookID,
	}
	if err := q.transport.Publish(ctx, q.lane(job), job); err != nil {
		return "", fmt.Errorf("publish job %s: %w", job.ID, err)
	}
	q.logger.Debug("job enqueued", "job_id", job.ID, "topic", topic, "key", meta.Key)
	return job.ID, nil
}

// lane hashes type and key so jobs for one entity share a worker.
func (q *Queue) lane(job Job) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(job.Type))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(job.Key))
	return int(h.Sum32() % uint32(q.opts.Concurrency))
}

// Run starts one worker per lane and blocks until ctx is cancelled and every
// worker has settled its current job.
func (q *Queue) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	q.running.Store(true)
	defer q.running.Store(false)
	q.logger.Info("queue workers started", "lanes", q.opts.Concurrency, "rate_per_sec", q.opts.RatePerSec)

	for lane := 0; lane < q.opts.Concurrency; lane++ {
		wg.Add(1)
		go func(lane int) {
			defer wg.Done()
			q.work(ctx, lane)
		}(lane)
	}
	<-ctx.Done()
	q.running.Store(false)
	wg.Wait()
	q.logger.Info("queue workers stopped")
	return nil
}

func (q *Queue) work(ctx context.Context, lane int) {
	for {
		d, err := q.transport.Receive(ctx, lane)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			q.logger.Warn("receive failed", "lane", lane, "error", err)
			if q.sleep(ctx, time.Second) != nil {
				return
			}
			continue
		}
		q.process(ctx, d)
	}
}

// process runs one delivery to completion: success, dead letter, or requeue
// on shutdown.
func (q *Queue) process(ctx context.Context, d Delivery) {
	job := d.Job
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = q.opts.MaxAttempts
	}
	log := q.logger.With("job_id", job.ID, "topic", job.Topic, "key", job.Key)

	for {
		if err := q.limiter.Wait(ctx); err != nil {
			q.requeue(log, d)
			return
		}
		job.Attempt++
		err := q.invoke(ctx, job)
		if err == nil {
			if ackErr := d.Ack(); ackErr != nil {
				log.Error("ack failed", "error", ackErr)
			}
			log.Info("job completed", "attempt", job.Attempt)
			return
		}
		if ctx.Err() != nil {
			q.requeue(log, d)
			return
		}
		if IsPermanent(err) || job.Attempt >= job.MaxAttempts {
			q.deadLetter(ctx, log, d, job, err)
			return
		}
		wait := q.backoff(job.Attempt)
		log.Warn("job failed, retrying", "attempt", job.Attempt, "max_attempts", job.MaxAttempts,
			"retry_in", wait.String(), "error", err)
		if q.sleep(ctx, wait) != nil {
			q.requeue(log, d)
			return
		}
	}
}

func (q *Queue) invoke(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return q.handler(ctx, job)
}

func (q *Queue) requeue(log *slog.Logger, d Delivery) {
	if err := d.Requeue(); err != nil {
		log.Error("requeue failed", "error", err)
		return
	}
	log.Info("job requeued on shutdown")
}

func (q *Queue) deadLetter(ctx context.Context, log *slog.Logger, d Delivery, job Job, cause error) {
	q.report(ctx, log, job, cause)
	if err := d.Ack(); err != nil {
		log.Error("ack failed", "error", err)
	}
}

// Fail dead-letters a job that was processed outside the workers, such as
// the synchronous ingress fallback.
func (q *Queue) Fail(ctx context.Context, job Job, cause error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = q.now()
	}
	q.report(ctx, q.logger.With("job_id", job.ID, "topic", job.Topic, "key", job.Key), job, cause)
}

func (q *Queue) report(ctx context.Context, log *slog.Logger, job Job, cause error) {
	dl := DeadLetter{Job: job, Error: cause.Error(), FailedAt: q.now()}
	// The dead-letter write must not be lost to the job's own deadline.
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := q.transport.PublishDead(dctx, dl); err != nil {
		log.Error("dead-letter publish failed", "error", err)
	}
	log.Error("job dead-lettered", "attempt", job.Attempt, "permanent", IsPermanent(cause), "error", cause)
	if q.opts.OnDeadLetter != nil {
		q.opts.OnDeadLetter(dctx, dl)
	}
}

// backoff is Backoff·2^(attempt−1) capped at MaxBackoff.
func (q *Queue) backoff(attempt int) time.Duration {
	d := q.opts.Backoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= q.opts.MaxBackoff {
			return q.opts.MaxBackoff
		}
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
