package mq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"mailflow/pkg/otel"
	"mailflow/pkg/trace"
)

type MessageHandler func(ctx context.Context, data json.RawMessage) error

type redeliveredKey struct{}

// WithRedelivered records whether the broker has delivered the message before.
func WithRedelivered(ctx context.Context, redelivered bool) context.Context {
	return context.WithValue(ctx, redeliveredKey{}, redelivered)
}

// IsRedelivered reports the flag set by the consumer for the current message.
func IsRedelivered(ctx context.Context) bool {
	v, _ := ctx.Value(redeliveredKey{}).(bool)
	return v
}

type Consumer struct {
	channel    *amqp091.Channel
	queue      amqp091.Queue
	routingKey string
	handler    MessageHandler
	conn       *amqp091.Connection
	logger     *zap.Logger
}

// NewConsumer declares queueName bound to routingKey with a dead letter
// queue behind it. Prefetch is 1: messages are handled strictly one at a time.
func NewConsumer(url, queueName, routingKey string, logger *zap.Logger) (*Consumer, error) {
	conn, err := NewConnection(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	fail := func(err error) (*Consumer, error) {
		ch.Close()
		conn.Close()
		return nil, err
	}

	if err := DeclareExchange(ch); err != nil {
		return fail(fmt.Errorf("failed to declare exchange: %w", err))
	}
	if err := DeclareDLQExchange(ch); err != nil {
		return fail(fmt.Errorf("failed to declare dlq exchange: %w", err))
	}
	if _, err := DeclareDLQQueue(ch, routingKey); err != nil {
		return fail(err)
	}

	q, err := ch.QueueDeclare(
		queueName,
		true,
		false,
		false,
		false,
		amqp091.Table{
			"x-dead-letter-exchange":    DLQExchangeName,
			"x-dead-letter-routing-key": routingKey,
		},
	)
	if err != nil {
		return fail(fmt.Errorf("failed to declare queue: %w", err))
	}

	if err := ch.QueueBind(q.Name, routingKey, ExchangeName, false, nil); err != nil {
		return fail(fmt.Errorf("failed to bind queue: %w", err))
	}

	if err := ch.Qos(1, 0, false); err != nil {
		return fail(fmt.Errorf("failed to set qos: %w", err))
	}

	logger.Info("Consumer initialized",
		zap.String("routing_key", routingKey),
		zap.String("queue", queueName),
		zap.String("exchange", ExchangeName),
	)

	return &Consumer{
		conn:       conn,
		channel:    ch,
		queue:      q,
		routingKey: routingKey,
		logger:     logger,
	}, nil
}

func (c *Consumer) SetHandler(h MessageHandler) {
	c.handler = h
}

func (c *Consumer) Close() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// StartConsuming blocks until ctx is cancelled or the delivery channel closes.
// Handler errors are redelivered unless wrapped with Permanent, which sends the
// message to the dead letter queue.
func (c *Consumer) StartConsuming(ctx context.Context) error {
	if c.handler == nil {
		return fmt.Errorf("consumer handler not set")
	}

	deliveries, err := c.channel.ConsumeWithContext(
		ctx,
		c.queue.Name,
		"mailflow-worker",
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Consumer started consuming messages",
		zap.String("routing_key", c.routingKey),
		zap.String("queue", c.queue.Name),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				return nil
			}
			c.handle(ctx, msg)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg amqp091.Delivery) {
	if traceID, ok := msg.Headers["x-trace-id"].(string); ok && traceID != "" {
		ctx = trace.WithContext(ctx, traceID)
	}

	ctx = WithRedelivered(ctx, msg.Redelivered)
	ctx, span := otel.MQConsumeSpan(ctx, msg.Headers, c.queue.Name, c.routingKey)
	var handlerErr error
	defer func() { otel.EndSpan(span, handlerErr) }()

	defer func() {
		if r := recover(); r != nil {
			handlerErr = fmt.Errorf("handler panic: %v", r)
			c.logger.Error("Handler panic recovered",
				zap.String("routing_key", c.routingKey),
				zap.Any("panic", r),
			)
			if err := msg.Nack(false, false); err != nil {
				c.logger.Error("Failed to nack message after panic", zap.Error(err))
			}
		}
	}()

	if err := c.handler(ctx, msg.Body); err != nil {
		handlerErr = err
		requeue := !IsPermanent(err)
		c.logger.Error("Handler error",
			zap.String("routing_key", c.routingKey),
			zap.String("queue", c.queue.Name),
			zap.Bool("requeue", requeue),
			zap.Error(err),
		)
		if err := msg.Nack(false, requeue); err != nil {
			c.logger.Error("Failed to nack message", zap.Error(err))
		}
		return
	}

	if err := msg.Ack(false); err != nil {
		c.logger.Error("Failed to ack message",
			zap.String("routing_key", c.routingKey),
			zap.Error(err),
		)
	}
}
