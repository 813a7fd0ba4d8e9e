package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	contractmq "mailflow/contracts/mq"
	"mailflow/internal/model"
	"mailflow/internal/workflow"
	"mailflow/pkg/logger"
	"mailflow/pkg/mq"
	"mailflow/pkg/util"
)

type ItemProcessor interface {
	ProcessItem(ctx context.Context, rc *workflow.RunContext, item *model.InputItem, opts workflow.Options) workflow.ItemResult
}

type ItemStore interface {
	Upsert(ctx context.Context, item *model.InputItem) error
}

type Option func(*ItemReceivedHandler)

// WithLedgerRetries tells the handler that the processor keeps a retry
// budget per item, so retryable failures may be requeued until the ledger
// gives up on the item.
func WithLedgerRetries() Option {
	return func(h *ItemReceivedHandler) { h.ledgerRetries = true }
}

// ItemReceivedHandler processes one queued item per message.
type ItemReceivedHandler struct {
	processor     ItemProcessor
	store         ItemStore
	rc            *workflow.RunContext
	defaults      workflow.Options
	ledgerRetries bool
	logger        *zap.Logger
}

// NewItemReceivedHandler builds the handler; store may be nil.
func NewItemReceivedHandler(processor ItemProcessor, store ItemStore, rc *workflow.RunContext, defaults workflow.Options, log *zap.Logger, opts ...Option) *ItemReceivedHandler {
	h := &ItemReceivedHandler{
		processor: processor,
		store:     store,
		rc:        rc,
		defaults:  defaults,
		logger:    log,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle returns a permanent error for payloads that can never succeed and
// a plain error when a retry may help. Analysis failures that are not
// retryable are dead-lettered. Without a retry ledger a retryable failure is
// requeued once and dead-lettered on redelivery.
func (h *ItemReceivedHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	log := logger.WithTrace(ctx, h.logger)

	var p contractmq.ItemReceivedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Error("Failed to unmarshal item received payload", zap.Error(err))
		return mq.Permanent(err)
	}
	if strings.TrimSpace(p.ItemID) == "" {
		return mq.Permanent(errors.New("item received payload without item_id"))
	}

	item := &model.InputItem{
		ID:         p.ItemID,
		Subject:    p.Subject,
		Sender:     p.Sender,
		Body:       p.Body,
		ReceivedAt: p.ReceivedAt,
	}

	// Step 1: keep a copy of the item for scheduled runs and auditing
	if h.store != nil {
		if err := h.store.Upsert(ctx, item); err != nil {
			log.Warn("Failed to store item, processing anyway", zap.String("item_id", item.ID), zap.Error(err))
		}
	}

	// Step 2: process
	opts := h.defaults
	if p.Notify != nil {
		opts.Notify = *p.Notify
	}
	if p.CreateEvents != nil {
		opts.CreateEvents = *p.CreateEvents
	}
	res := h.processor.ProcessItem(ctx, h.rc, item, opts)

	// Step 3: decide ack / requeue / dead-letter
	if res.Status != workflow.ItemFailed {
		return nil
	}
	retryable, errType := util.IsRetryableError(res.Err)
	redelivered := mq.IsRedelivered(ctx)
	log.Warn("Queued item failed",
		zap.String("item_id", item.ID),
		zap.String("error_type", errType),
		zap.Bool("retryable", retryable),
		zap.Bool("redelivered", redelivered),
	)
	if retryable && (h.ledgerRetries || !redelivered) {
		return fmt.Errorf("item %s: %w", item.ID, res.Err)
	}
	return mq.Permanent(fmt.Errorf("item %s: %w", item.ID, res.Err))
}
