// Package webhook is the storefront webhook ingress: verify, enqueue and
// answer within the ingress deadline, falling back to in-process handling
// when the queue is not ready.
package webhook

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/PrateekKrishna/rank-sync/internal/domain"
	"github.com/PrateekKrishna/rank-sync/internal/processor"
	"github.com/PrateekKrishna/rank-sync/internal/queue"
	"github.com/PrateekKrishna/rank-sync/internal/signature"
)

// Storefront webhook headers.
const (
	HeaderHmac      = "X-Shopify-Hmac-Sha256"
	HeaderTopic     = "X-Shopify-Topic"
	HeaderShop      = "X-Shopify-Shop-Domain"
	HeaderWebhookID = "X-Shopify-Webhook-Id"
)

const maxBody = 5 << 20

// Ingress answers.
const (
	StatusQueued    = "queued"
	StatusProcessed = "processed"
	StatusAccepted  = "accepted"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
)

// topics lists the accepted topic suffixes per job type.
var topics = map[string]map[string]bool{
	domain.TypeOrders:    {"create": true, "updated": true, "cancelled": true, "paid": true, "fulfilled": true, "edited": true},
	domain.TypeProducts:  {"create": true, "update": true, "delete": true},
	domain.TypeCustomers: {"create": true, "update": true},
}

// Queue is the part of the event queue the ingress needs.
type Queue interface {
	Ready() bool
	Enqueue(ctx context.Context, topic, typ string, payload []byte, meta queue.Meta) (string, error)
	Fail(ctx context.Context, job queue.Job, cause error)
}

// Dispatcher processes an event in-process.
type Dispatcher interface {
	Dispatch(ctx context.Context, typ, topic string, payload []byte) (domain.Outcome, error)
}

type Options struct {
	Secret string
	// Deadline bounds the time to the HTTP answer.
	Deadline time.Duration
	// SyncTimeout bounds detached in-process handling.
	SyncTimeout time.Duration
	Logger      *slog.Logger
}

type Ingress struct {
	queue    Queue
	dispatch Dispatcher
	opts     Options
	logger   *slog.Logger
	// keys keeps in-process handling of one ordering key sequential.
	keys serial
}

func New(q Queue, d Dispatcher, opts Options) *Ingress {
	if opts.Deadline <= 0 {
		opts.Deadline = time.Second
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Ingress{queue: q, dispatch: d, opts: opts, logger: opts.Logger.With("component", "webhook")}
}

// Register mounts the webhook routes on r.
func (in *Ingress) Register(r gin.IRouter) {
	g := r.Group("/webhooks")
	{
		g.POST("/orders", in.handler(domain.TypeOrders))
		g.POST("/products", in.handler(domain.TypeProducts))
		g.POST("/customers", in.handler(domain.TypeCustomers))
		g.GET("/health", in.health)
	}
}

func (in *Ingress) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"queueReady": in.queue.Ready(),
		"endpoints": []string{
			"POST /webhooks/orders",
			"POST /webhooks/products",
			"POST /webhooks/customers",
		},
		"timestamp": time.Now().UTC(),
	})
}

type result struct {
	out domain.Outcome
	err error
}

func (in *Ingress) handler(typ string) gin.HandlerFunc {
	return func(c *gin.Context) {
		// The signature covers the exact bytes, so read before any decoding.
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBody))
		if err != nil {
			in.logger.Error("failed to read webhook body", "type", typ, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read body"})
			return
		}
		if !signature.Verify(in.opts.Secret, body, c.GetHeader(HeaderHmac)) {
			in.logger.Warn("webhook signature rejected", "type", typ, "shop", c.GetHeader(HeaderShop))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}

		topic := strings.TrimSpace(c.GetHeader(HeaderTopic))
		prefix, suffix, _ := strings.Cut(topic, "/")
		if prefix != typ || !topics[typ][suffix] {
			in.logger.Info("webhook topic skipped", "type", typ, "topic", topic)
			c.JSON(http.StatusOK, gin.H{"status": StatusSkipped, "reason": "unsupported topic " + topic})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), in.opts.Deadline)
		defer cancel()
		meta := queue.Meta{
			Key:        processor.OrderingKey(typ, body),
			ShopDomain: c.GetHeader(HeaderShop),
			WebhookID:  c.GetHeader(HeaderWebhookID),
		}
		log := in.logger.With("type", typ, "topic", topic, "key", meta.Key, "webhook_id", meta.WebhookID)

		if in.queue.Ready() {
			id, err := in.queue.Enqueue(ctx, topic, typ, body, meta)
			if err == nil {
				c.JSON(http.StatusOK, gin.H{"status": StatusQueued, "jobId": id})
				return
			}
			log.Warn("enqueue failed, processing in-process", "error", err)
		}

		done := in.runDetached(c.Request.Context(), log, typ, topic, body, meta)
		select {
		case r := <-done:
			if r.err != nil {
				c.JSON(http.StatusOK, gin.H{"status": StatusFailed})
				return
			}
			resp := gin.H{"status": StatusProcessed, "action": r.out.Action}
			if r.out.Skipped() {
				resp["status"], resp["reason"] = StatusSkipped, r.out.Reason
			}
			c.JSON(http.StatusOK, resp)
		case <-ctx.Done():
			log.Warn("in-process handling outlived the ingress deadline")
			c.JSON(http.StatusOK, gin.H{"status": StatusAccepted})
		}
	}
}

// runDetached handles the event outside the request lifetime, after any
// earlier in-process event with the same key, and dead-letters failures.
func (in *Ingress) runDetached(parent context.Context, log *slog.Logger, typ, topic string, body []byte, meta queue.Meta) <-chan result {
	done := make(chan result, 1)
	turn, leave := in.keys.enter(meta.Key)
	go func() {
		defer leave()
		<-turn
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), in.opts.SyncTimeout)
		defer cancel()
		out, err := in.safeDispatch(ctx, typ, topic, body)
		if err != nil {
			in.queue.Fail(ctx, queue.Job{
				Topic:       topic,
				Type:        typ,
				Payload:     body,
				Attempt:     1,
				MaxAttempts: 1,
				Key:         meta.Key,
				ShopDomain:  meta.ShopDomain,
				WebhookID:   meta.WebhookID,
			}, err)
		} else {
			log.Info("webhook processed in-process", "action", out.Action)
		}
		done <- result{out, err}
	}()
	return done
}

func (in *Ingress) safeDispatch(ctx context.Context, typ, topic string, body []byte) (out domain.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = queue.Permanent(fmt.Errorf("in-process handler panic: %v", r))
		}
	}()
	return in.dispatch.Dispatch(ctx, typ, topic, body)
}
