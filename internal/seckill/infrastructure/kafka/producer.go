package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/flashdeal/seckill-engine/internal/seckill/domain"
	"github.com/flashdeal/seckill-engine/pkg/tracing"
)

func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
	}
}

// Producer enqueues FinalizationRequests. Messages are keyed by (user, good)
// so every delivery and redelivery for one pair lands on one partition.
type Producer struct {
	log    *slog.Logger
	writer *kafka.Writer
	topic  string
}

func NewProducer(log *slog.Logger, writer *kafka.Writer, topic string) *Producer {
	return &Producer{log: log, writer: writer, topic: topic}
}

func (p *Producer) Enqueue(ctx context.Context, req domain.FinalizationRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal finalization request: %w", err)
	}

	msg := kafka.Message{
		Topic:   p.topic,
		Key:     []byte(fmt.Sprintf("%d:%d", req.UserID, req.GoodID)),
		Value:   payload,
		Headers: tracing.InjectKafkaHeaders(ctx, nil),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write finalization request: %w", err)
	}
	p.log.Info("finalization request enqueued", "order_id", req.OrderID, "topic", p.topic)
	return nil
}
