package workflow

import (
	"context"

	contractmq "mailflow/contracts/mq"
)

// Publisher is satisfied by *mq.Publisher.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// MQSink publishes every item result as mail.item.processed.
type MQSink struct {
	pub Publisher
}

func NewMQSink(pub Publisher) *MQSink {
	return &MQSink{pub: pub}
}

func (s *MQSink) PublishResult(ctx context.Context, runID string, res *ItemResult) error {
	return s.pub.Publish(ctx, contractmq.RoutingKeyItemProcessed, ProcessedPayload(runID, res))
}

// ProcessedPayload is the wire form of an item result.
func ProcessedPayload(runID string, res *ItemResult) contractmq.ItemProcessedPayload {
	payload := contractmq.ItemProcessedPayload{
		RunID:         runID,
		ItemID:        res.ItemID,
		Status:        string(res.Status),
		Notified:      res.Notified,
		EventsCreated: res.EventsCreated(),
		EventsMatched: res.EventsMatched(),
		Error:         res.Error,
		TraceID:       res.TraceID,
		ProcessedAt:   res.Processed,
	}
	if res.Analysis != nil {
		payload.Gist = res.Analysis.Gist
		payload.Model = res.Analysis.Model
	}
	if res.Delivery != nil {
		payload.Channel = res.Delivery.Channel
	}
	return payload
}

// FinishedPayload is the wire form of a finished run.
func FinishedPayload(run *RunResult) contractmq.RunFinishedPayload {
	return contractmq.RunFinishedPayload{
		RunID:       run.RunID,
		Processed:   run.Processed,
		Succeeded:   run.Succeeded,
		Failed:      run.Failed,
		Skipped:     run.Skipped,
		Interrupted: run.Interrupted,
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
	}
}
