package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Job is one inbound event travelling through the queue.
type Job struct {
	ID          string          `json:"id"`
	Topic       string          `json:"topic"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	Key         string          `json:"key"`
	ShopDomain  string          `json:"shop_domain,omitempty"`
	WebhookID   string          `json:"webhook_id,omitempty"`
}

// Meta carries the routing data of an enqueue. Jobs with the same Key run
// one at a time in enqueue order.
type Meta struct {
	Key        string
	ShopDomain string
	WebhookID  string
}

// Handler executes one job. Returning an error retries the job unless the
// error is marked Permanent.
type Handler func(ctx context.Context, job Job) error

// DeadLetter is a job that exhausted its attempts or failed permanently.
type DeadLetter struct {
	Job      Job       `json:"job"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// Delivery is a received job together with its settlement callbacks.
type Delivery struct {
	Job Job
	// Ack removes the job from the transport.
	Ack func() error
	// Requeue returns the job to the head of its lane.
	Requeue func() error
}

var ErrNotReady = errors.New("queue: not ready")

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
