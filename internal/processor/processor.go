// Package processor turns webhook and ranking jobs into system-of-record
// mutations, hands the outcome to the coherence controller and announces it
// on the notification bus.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/PrateekKrishna/rank-sync/internal/domain"
	"github.com/PrateekKrishna/rank-sync/internal/queue"
	"github.com/PrateekKrishna/rank-sync/internal/store"
	"github.com/PrateekKrishna/rank-sync/internal/streak"
)

// Processor handles every topic of one job type.
type Processor interface {
	Type() string
	Process(ctx context.Context, topic string, payload []byte) (domain.Outcome, error)
}

// Applier keeps caches coherent with an outcome.
type Applier interface {
	Apply(ctx context.Context, o domain.Outcome) error
}

type Dispatcher struct {
	processors map[string]Processor
	coherence  Applier
	announcer  *Announcer
	logger     *slog.Logger
}

func NewDispatcher(coherence Applier, announcer *Announcer, logger *slog.Logger, ps ...Processor) *Dispatcher {
	d := &Dispatcher{
		processors: make(map[string]Processor, len(ps)),
		coherence:  coherence,
		announcer:  announcer,
		logger:     logger.With("component", "dispatcher"),
	}
	for _, p := range ps {
		d.processors[p.Type()] = p
	}
	return d
}

// Supports reports whether jobs of typ have a processor.
func (d *Dispatcher) Supports(typ string) bool {
	_, ok := d.processors[typ]
	return ok
}

// Handle is the queue handler.
func (d *Dispatcher) Handle(ctx context.Context, job queue.Job) error {
	_, err := d.Dispatch(ctx, job.Type, job.Topic, job.Payload)
	return err
}

// Dispatch runs one event through its processor, the coherence controller
// and the announcer. Invalid input comes back marked permanent.
func (d *Dispatcher) Dispatch(ctx context.Context, typ, topic string, payload []byte) (domain.Outcome, error) {
	start := time.Now()
	p, ok := d.processors[typ]
	if !ok {
		d.logger.Warn("no processor for job type", "type", typ, "topic", topic)
		return domain.Skip(typ, topic, "unsupported type "+typ), nil
	}
	if tt := topicType(topic); tt != "" && tt != typ {
		d.logger.Warn("topic does not match job type", "type", typ, "topic", topic)
		return domain.Skip(typ, topic, "topic "+topic+" does not match "+typ), nil
	}

	out, err := p.Process(ctx, topic, payload)
	if err != nil {
		return out, classify(err)
	}
	out.Type, out.Topic = typ, topic

	if err := d.coherence.Apply(ctx, out); err != nil {
		return out, classify(fmt.Errorf("apply cache coherence: %w", err))
	}
	d.announcer.Announce(ctx, out)

	d.logger.Info("event processed",
		"type", typ, "topic", topic, "kind", out.Kind, "action", out.Action,
		"reason", out.Reason, "duration_ms", time.Since(start).Milliseconds())
	return out, nil
}

// classify marks errors that retries cannot fix.
func classify(err error) error {
	if errors.Is(err, domain.ErrInvalidInput) || errors.Is(err, streak.ErrUnknownStreakType) || store.IsPermanent(err) {
		return queue.Permanent(err)
	}
	return err
}
