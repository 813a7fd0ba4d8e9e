package otel

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// HeaderCarrier lets the propagator read and write AMQP headers.
type HeaderCarrier amqp.Table

func (c HeaderCarrier) Get(key string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}

func (c HeaderCarrier) Set(key, value string) {
	c[key] = value
}

func (c HeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// InjectHeaders writes the span context of ctx into headers.
func InjectHeaders(ctx context.Context, headers amqp.Table) {
	otel.GetTextMapPropagator().Inject(ctx, HeaderCarrier(headers))
}

// MQPublishSpan starts a producer span for a publish to exchange.
func MQPublishSpan(ctx context.Context, exchange, routingKey string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "mq.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination", exchange),
			attribute.String("messaging.rabbitmq.routing_key", routingKey),
		),
	)
}

// MQConsumeSpan continues the trace carried in headers with a consumer span.
func MQConsumeSpan(ctx context.Context, headers amqp.Table, queue, routingKey string) (context.Context, trace.Span) {
	if headers != nil {
		ctx = otel.GetTextMapPropagator().Extract(ctx, HeaderCarrier(headers))
	}
	return Tracer().Start(ctx, "mq.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination", queue),
			attribute.String("messaging.rabbitmq.routing_key", routingKey),
		),
	)
}
