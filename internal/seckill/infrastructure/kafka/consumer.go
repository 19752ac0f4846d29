package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"sync"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/flashdeal/seckill-engine/internal/seckill/application"
	"github.com/flashdeal/seckill-engine/internal/seckill/domain"
	"github.com/flashdeal/seckill-engine/pkg/metrics"
	"github.com/flashdeal/seckill-engine/pkg/redislock"
	"github.com/flashdeal/seckill-engine/pkg/tracing"
)

const attemptsHeader = "attempts"

// Consumer pulls FinalizationRequests with a pool of workers. Every worker
// owns its own group reader: the group balances partitions across readers and
// each reader commits its offsets in fetch order. Workers sharing one reader
// would let a later offset commit ahead of an uncommitted earlier one, and a
// crash at that point drops the earlier message for good.
//
// Delivery is at-least-once: failed deliveries are re-published with a bumped
// attempts header up to maxAttempts, then routed to the dead-letter topic for
// manual inspection.
type Consumer struct {
	log         *slog.Logger
	readers     []*kafka.Reader
	retry       *kafka.Writer
	dlq         *kafka.Writer
	finalizer   *application.Finalizer
	topic       string
	dlqTopic    string
	maxAttempts int
	tracer      trace.Tracer
}

type ConsumerConfig struct {
	Brokers     []string
	Topic       string
	DLQTopic    string
	GroupID     string
	Workers     int
	MaxAttempts int
}

func NewConsumer(log *slog.Logger, cfg ConsumerConfig, finalizer *application.Finalizer) *Consumer {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	readers := make([]*kafka.Reader, 0, cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		readers = append(readers, kafka.NewReader(kafka.ReaderConfig{
			Brokers: cfg.Brokers,
			Topic:   cfg.Topic,
			GroupID: cfg.GroupID,
		}))
	}
	return &Consumer{
		log:         log,
		readers:     readers,
		retry:       NewWriter(cfg.Brokers),
		dlq:         NewWriter(cfg.Brokers),
		finalizer:   finalizer,
		topic:       cfg.Topic,
		dlqTopic:    cfg.DLQTopic,
		maxAttempts: cfg.MaxAttempts,
		tracer:      otel.Tracer("finalization-consumer"),
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	defer c.retry.Close()
	defer c.dlq.Close()

	var wg sync.WaitGroup
	errCh := make(chan error, len(c.readers))
	for _, reader := range c.readers {
		wg.Add(1)
		go func(reader *kafka.Reader) {
			defer wg.Done()
			errCh <- c.work(ctx, reader)
		}(reader)
	}
	wg.Wait()
	close(errCh)

	var first error
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) && first == nil {
			first = err
		}
	}
	return first
}

func (c *Consumer) work(ctx context.Context, reader *kafka.Reader) error {
	defer reader.Close()
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			return err
		}
		c.handle(ctx, msg)
		if err := reader.CommitMessages(ctx, msg); err != nil {
			c.log.Error("commit failed", "err", err)
		}
	}
}

type deliveryAction int

const (
	deliveryDone deliveryAction = iota
	deliveryRetry
	deliveryDead
)

// routeDelivery decides what happens to a delivery after processing and what
// attempt count the next delivery carries. Lock-busy retries re-publish with
// the original attempt count: waiting out a held lock must not consume
// attempts that count toward dead-lettering.
func routeDelivery(err error, attempts, maxAttempts int) (deliveryAction, int) {
	switch {
	case err == nil:
		return deliveryDone, attempts
	case errors.Is(err, redislock.ErrLockBusy):
		return deliveryRetry, attempts - 1
	case attempts >= maxAttempts:
		return deliveryDead, attempts
	default:
		return deliveryRetry, attempts
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	attempts := headerInt(msg.Headers, attemptsHeader) + 1

	msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
	msgCtx, span := c.tracer.Start(msgCtx, "ConsumeFinalizationRequest")
	defer span.End()

	var req domain.FinalizationRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		// Malformed payloads cannot succeed on redelivery.
		c.log.Error("unmarshal failed, routing to dead letter", "err", err)
		c.deadLetter(msgCtx, msg, attempts)
		return
	}

	err := c.finalizer.Process(msgCtx, req)
	action, nextAttempts := routeDelivery(err, attempts, c.maxAttempts)
	switch action {
	case deliveryDone:
		metrics.FinalizationsTotal.WithLabelValues("ok").Inc()
	case deliveryRetry:
		if errors.Is(err, redislock.ErrLockBusy) {
			metrics.FinalizationsTotal.WithLabelValues("busy").Inc()
			c.log.Warn("finalization lock busy, redelivering", "order_id", req.OrderID)
		} else {
			metrics.FinalizationsTotal.WithLabelValues("error").Inc()
			c.log.Error("finalization failed, redelivering",
				"order_id", req.OrderID, "attempt", attempts, "err", err)
		}
		c.redeliver(msgCtx, msg, req, nextAttempts)
	case deliveryDead:
		metrics.FinalizationsTotal.WithLabelValues("error").Inc()
		c.log.Error("finalization attempts exhausted, routing to dead letter",
			"order_id", req.OrderID, "attempts", attempts, "err", err)
		c.deadLetter(msgCtx, msg, nextAttempts)
	}
}

// redeliver re-publishes the message on the main topic carrying the attempt
// count routeDelivery settled on.
func (c *Consumer) redeliver(ctx context.Context, msg kafka.Message, req domain.FinalizationRequest, attempts int) {
	out := kafka.Message{
		Topic:   c.topic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: setHeader(msg.Headers, attemptsHeader, strconv.Itoa(attempts)),
	}
	if err := c.retry.WriteMessages(ctx, out); err != nil {
		c.log.Error("redelivery publish failed, routing to dead letter", "order_id", req.OrderID, "err", err)
		c.deadLetter(ctx, msg, attempts)
	}
}

func (c *Consumer) deadLetter(ctx context.Context, msg kafka.Message, attempts int) {
	out := kafka.Message{
		Topic:   c.dlqTopic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: setHeader(msg.Headers, attemptsHeader, strconv.Itoa(attempts)),
	}
	if err := c.dlq.WriteMessages(ctx, out); err != nil {
		c.log.Error("dead letter publish failed, message lost", "err", err)
		return
	}
	metrics.DeadLetteredTotal.Inc()
}

func headerInt(headers []kafka.Header, key string) int {
	for _, h := range headers {
		if h.Key == key {
			if n, err := strconv.Atoi(string(h.Value)); err == nil {
				return n
			}
		}
	}
	return 0
}

func setHeader(headers []kafka.Header, key, value string) []kafka.Header {
	out := make([]kafka.Header, 0, len(headers)+1)
	for _, h := range headers {
		if h.Key != key {
			out = append(out, h)
		}
	}
	return append(out, kafka.Header{Key: key, Value: []byte(value)})
}
