package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailflow/internal/analysis"
	"mailflow/internal/model"
	"mailflow/internal/workflow"
	"mailflow/pkg/mq"
)

type fakeProcessor struct {
	result workflow.ItemResult
	item   *model.InputItem
	opts   workflow.Options
}

func (f *fakeProcessor) ProcessItem(_ context.Context, _ *workflow.RunContext, item *model.InputItem, opts workflow.Options) workflow.ItemResult {
	f.item = item
	f.opts = opts
	return f.result
}

type fakeStore struct {
	err   error
	saved []string
}

func (s *fakeStore) Upsert(_ context.Context, item *model.InputItem) error {
	s.saved = append(s.saved, item.ID)
	return s.err
}

func newHandler(p *fakeProcessor, s ItemStore) *ItemReceivedHandler {
	return NewItemReceivedHandler(p, s, workflow.NewRunContext(time.Now()), workflow.DefaultOptions(), zap.NewNop())
}

func TestHandleSuccess(t *testing.T) {
	p := &fakeProcessor{result: workflow.ItemResult{Status: workflow.ItemSucceeded}}
	s := &fakeStore{err: errors.New("db down")}
	notify := false

	raw, err := json.Marshal(map[string]any{"item_id": "m-1", "subject": "Hi", "notify": notify})
	require.NoError(t, err)

	require.NoError(t, newHandler(p, s).Handle(context.Background(), raw))
	require.Equal(t, []string{"m-1"}, s.saved)
	require.Equal(t, "Hi", p.item.Subject)
	require.False(t, p.opts.Notify)
	require.True(t, p.opts.CreateEvents)
}

func TestHandleBadPayloadIsPermanent(t *testing.T) {
	h := newHandler(&fakeProcessor{}, nil)
	require.True(t, mq.IsPermanent(h.Handle(context.Background(), json.RawMessage(`{not json`))))
	require.True(t, mq.IsPermanent(h.Handle(context.Background(), json.RawMessage(`{"subject":"x"}`))))
}

func TestHandleFailureClassification(t *testing.T) {
	timeout := &analysis.AnalysisError{Model: "gpt-4o", Attempts: 1, Err: context.DeadlineExceeded}
	p := &fakeProcessor{result: workflow.ItemResult{Status: workflow.ItemFailed, Err: timeout}}
	err := newHandler(p, nil).Handle(context.Background(), json.RawMessage(`{"item_id":"m-1"}`))
	require.Error(t, err)
	require.False(t, mq.IsPermanent(err))

	bad := &analysis.AnalysisError{Model: "gpt-4o", Attempts: 1, Err: errors.New("invalid api key")}
	p = &fakeProcessor{result: workflow.ItemResult{Status: workflow.ItemFailed, Err: bad}}
	err = newHandler(p, nil).Handle(context.Background(), json.RawMessage(`{"item_id":"m-1"}`))
	require.True(t, mq.IsPermanent(err))
}

func TestHandleSkippedIsAcked(t *testing.T) {
	p := &fakeProcessor{result: workflow.ItemResult{Status: workflow.ItemSkipped}}
	require.NoError(t, newHandler(p, nil).Handle(context.Background(), json.RawMessage(`{"item_id":"m-1"}`)))
}

func TestHandleRetryableWithoutLedgerDeadLettersOnRedelivery(t *testing.T) {
	timeout := &analysis.AnalysisError{Model: "gpt-4o", Attempts: 1, Err: context.DeadlineExceeded}
	p := &fakeProcessor{result: workflow.ItemResult{Status: workflow.ItemFailed, Err: timeout}}
	raw := json.RawMessage(`{"item_id":"m-1"}`)
	h := newHandler(p, nil)

	err := h.Handle(mq.WithRedelivered(context.Background(), false), raw)
	require.Error(t, err)
	require.False(t, mq.IsPermanent(err))

	err = h.Handle(mq.WithRedelivered(context.Background(), true), raw)
	require.True(t, mq.IsPermanent(err))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHandleRetryableWithLedgerKeepsRequeueing(t *testing.T) {
	timeout := &analysis.AnalysisError{Model: "gpt-4o", Attempts: 1, Err: context.DeadlineExceeded}
	p := &fakeProcessor{result: workflow.ItemResult{Status: workflow.ItemFailed, Err: timeout}}
	h := NewItemReceivedHandler(p, nil, workflow.NewRunContext(time.Now()), workflow.DefaultOptions(), zap.NewNop(), WithLedgerRetries())

	err := h.Handle(mq.WithRedelivered(context.Background(), true), json.RawMessage(`{"item_id":"m-1"}`))
	require.Error(t, err)
	require.False(t, mq.IsPermanent(err))
}
