package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPTransport keeps one durable queue per lane plus a dead-letter queue on
// a RabbitMQ broker. Consumers use prefetch 1 so a lane never has two jobs in
// flight. A lost connection flips Ready to false until reconnect succeeds.
type AMQPTransport struct {
	url    string
	name   string
	lanes  int
	logger *slog.Logger

	mu    sync.Mutex
	conn  *amqp.Connection
	pub   *amqp.Channel
	ready atomic.Bool

	out    []chan Delivery
	closed chan struct{}
	once   sync.Once
}

// DialAMQP connects, declares the topology and starts the reconnect loop,
// which runs until Close.
func DialAMQP(url, name string, lanes int, logger *slog.Logger) (*AMQPTransport, error) {
	if lanes <= 0 {
		lanes = 1
	}
	t := &AMQPTransport{
		url:    url,
		name:   name,
		lanes:  lanes,
		logger: logger.With("component", "amqp"),
		closed: make(chan struct{}),
	}
	for i := 0; i < lanes; i++ {
		t.out = append(t.out, make(chan Delivery))
	}
	notify, err := t.connect()
	if err != nil {
		return nil, err
	}
	go t.supervise(notify)
	return t, nil
}

func (t *AMQPTransport) laneQueue(lane int) string { return fmt.Sprintf("%s.lane.%d", t.name, lane) }
func (t *AMQPTransport) deadQueue() string         { return t.name + ".dead" }

// laneArgs makes the broker deliver a lane to one consumer at a time across
// all processes, so jobs sharing a key never run concurrently.
func laneArgs() amqp.Table {
	return amqp.Table{"x-single-active-consumer": true}
}

func (t *AMQPTransport) connect() (chan *amqp.Error, error) {
	conn, err := amqp.Dial(t.url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	pub, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	declare := map[string]amqp.Table{t.deadQueue(): nil}
	for i := 0; i < t.lanes; i++ {
		declare[t.laneQueue(i)] = laneArgs()
	}
	for q, args := range declare {
		if _, err := pub.QueueDeclare(q, true, false, false, false, args); err != nil {
			conn.Close()
			return nil, fmt.Errorf("declare %s: %w", q, err)
		}
	}
	if err := pub.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}

	for i := 0; i < t.lanes; i++ {
		ch, err := conn.Channel()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("open consumer channel: %w", err)
		}
		if err := ch.Qos(1, 0, false); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set prefetch: %w", err)
		}
		msgs, err := ch.Consume(t.laneQueue(i), "", false, false, false, false, nil)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("consume %s: %w", t.laneQueue(i), err)
		}
		go t.forward(i, msgs)
	}

	notify := conn.NotifyClose(make(chan *amqp.Error, 1))
	t.mu.Lock()
	t.conn, t.pub = conn, pub
	t.mu.Unlock()
	t.ready.Store(true)
	t.logger.Info("connected to broker", "queue", t.name, "lanes", t.lanes)
	return notify, nil
}

// supervise reconnects with capped backoff whenever the connection drops.
func (t *AMQPTransport) supervise(notify chan *amqp.Error) {
	for {
		select {
		case <-t.closed:
			return
		case amqpErr, ok := <-notify:
			t.ready.Store(false)
			if !ok && t.isClosed() {
				return
			}
			t.logger.Warn("broker connection lost", "error", amqpErr)
		}

		wait := time.Second
		for {
			select {
			case <-t.closed:
				return
			case <-time.After(wait):
			}
			n, err := t.connect()
			if err == nil {
				notify = n
				break
			}
			t.logger.Warn("broker reconnect failed", "error", err, "retry_in", wait.String())
			if wait < 30*time.Second {
				wait *= 2
			}
		}
	}
}

// forward hands broker deliveries to the lane worker until the channel
// closes. Undecodable messages are discarded.
func (t *AMQPTransport) forward(lane int, msgs <-chan amqp.Delivery) {
	for d := range msgs {
		var job Job
		if err := json.Unmarshal(d.Body, &job); err != nil {
			t.logger.Error("discarding malformed job", "lane", lane, "error", err)
			_ = d.Nack(false, false)
			continue
		}
		delivery := Delivery{
			Job:     job,
			Ack:     func() error { return d.Ack(false) },
			Requeue: func() error { return d.Nack(false, true) },
		}
		select {
		case t.out[lane] <- delivery:
		case <-t.closed:
			_ = d.Nack(false, true)
			return
		}
	}
}

func (t *AMQPTransport) publish(ctx context.Context, queue string, id string, body []byte) error {
	t.mu.Lock()
	pub := t.pub
	t.mu.Unlock()
	if pub == nil || !t.ready.Load() {
		return ErrNotReady
	}
	conf, err := pub.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return err
	}
	ok, err := conf.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("broker nacked publish")
	}
	return nil
}

func (t *AMQPTransport) Publish(ctx context.Context, lane int, job Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return t.publish(ctx, t.laneQueue(lane%t.lanes), job.ID, body)
}

func (t *AMQPTransport) PublishDead(ctx context.Context, dl DeadLetter) error {
	body, err := json.Marshal(dl)
	if err != nil {
		return err
	}
	return t.publish(ctx, t.deadQueue(), dl.Job.ID, body)
}

func (t *AMQPTransport) Receive(ctx context.Context, lane int) (Delivery, error) {
	select {
	case d := <-t.out[lane%t.lanes]:
		return d, nil
	case <-ctx.Done():
		return Delivery{}, ctx.Err()
	case <-t.closed:
		return Delivery{}, errClosed
	}
}

func (t *AMQPTransport) Ready() bool { return t.ready.Load() && !t.isClosed() }

func (t *AMQPTransport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

func (t *AMQPTransport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.closed)
		t.ready.Store(false)
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.conn != nil {
			err = t.conn.Close()
		}
	})
	return err
}
