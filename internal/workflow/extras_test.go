package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	contractmq "mailflow/contracts/mq"
	"mailflow/internal/model"
	"mailflow/pkg/util"
)

type memLedger struct {
	done     map[string]bool
	failures map[string]int
	max      int
}

func newMemLedger(max int) *memLedger {
	return &memLedger{done: map[string]bool{}, failures: map[string]int{}, max: max}
}

func (l *memLedger) Completed(_ context.Context, id string) bool { return l.done[id] }
func (l *memLedger) MarkCompleted(_ context.Context, id string)  { l.done[id] = true }
func (l *memLedger) RecordFailure(_ context.Context, id string, _ error) bool {
	l.failures[id]++
	if l.failures[id] > l.max {
		l.done[id] = true
		return true
	}
	return false
}

func TestLedgerSkipsCompletedAndGivesUp(t *testing.T) {
	ledger := newMemLedger(1)
	a := &fakeAnalyzer{fail: map[string]error{"item-2": errors.New("boom")}}
	c := newTestCoordinator(a, nil, nil, Config{}, WithLedger(ledger))
	rc := NewRunContext(fixedNow)

	run, err := c.ProcessRun(context.Background(), rc, items(2), Options{})
	require.NoError(t, err)
	require.Equal(t, 1, run.Succeeded)
	require.Equal(t, 1, run.Failed)

	run, err = c.ProcessRun(context.Background(), rc, items(2), Options{})
	require.NoError(t, err)
	require.Equal(t, 1, run.Skipped)
	require.Equal(t, 1, run.Failed)
	require.Equal(t, run.Succeeded+run.Failed, run.Processed)

	run, err = c.ProcessRun(context.Background(), rc, items(2), Options{})
	require.NoError(t, err)
	require.Equal(t, 2, run.Skipped)
	require.Equal(t, 0, run.Processed)
	require.Equal(t, []string{"item-1", "item-2", "item-2"}, a.calls)
	require.Equal(t, 2, rc.Stats().Errors)
}

func TestRedisLedgerFailsOpen(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	l := NewRedisLedger(util.NewDeduper(rdb, time.Hour, nil), util.NewRetryCounter(rdb, time.Hour), 3, nil)
	ctx := context.Background()

	require.False(t, l.Completed(ctx, "item-1"))
	require.False(t, l.RecordFailure(ctx, "item-1", errors.New("boom")))
	l.MarkCompleted(ctx, "item-1")
}

type capturePublisher struct {
	key     string
	payload any
}

func (p *capturePublisher) Publish(_ context.Context, key string, payload any) error {
	p.key = key
	p.payload = payload
	return nil
}

func TestMQSinkPublishesEveryItem(t *testing.T) {
	pub := &capturePublisher{}
	c := newTestCoordinator(&fakeAnalyzer{}, &fakeNotifier{}, nil, Config{}, WithSink(NewMQSink(pub)))

	run, err := c.ProcessRun(context.Background(), NewRunContext(fixedNow), items(1), DefaultOptions())
	require.NoError(t, err)
	require.Equal(t, contractmq.RoutingKeyItemProcessed, pub.key)

	payload, ok := pub.payload.(contractmq.ItemProcessedPayload)
	require.True(t, ok)
	require.Equal(t, run.RunID, payload.RunID)
	require.Equal(t, "item-1", payload.ItemID)
	require.Equal(t, "succeeded", payload.Status)
	require.Equal(t, "gist of item-1", payload.Gist)
	require.Equal(t, "primary", payload.Channel)
	require.True(t, payload.Notified)
	require.Equal(t, fixedNow, payload.ProcessedAt)
	require.NotEmpty(t, payload.TraceID)

	finished := FinishedPayload(run)
	require.Equal(t, run.RunID, finished.RunID)
	require.Equal(t, 1, finished.Processed)
	require.Equal(t, 1, finished.Succeeded)
	require.False(t, finished.Interrupted)
}

type captureRecorder struct{ runs []*RunResult }

func (r *captureRecorder) RecordRun(_ context.Context, run *RunResult) error {
	r.runs = append(r.runs, run)
	return nil
}

func TestRecorderReceivesRun(t *testing.T) {
	rec := &captureRecorder{}
	c := newTestCoordinator(&fakeAnalyzer{}, nil, nil, Config{}, WithRecorder(rec))

	ctx, cancel := context.WithCancel(context.Background())
	a := c.analyzer.(*fakeAnalyzer)
	a.onCall = func(*model.InputItem) { cancel() }

	run, err := c.ProcessRun(ctx, NewRunContext(fixedNow), items(3), Options{})
	require.NoError(t, err)
	require.Len(t, rec.runs, 1)
	require.Same(t, run, rec.runs[0])
}

type stubReporter struct {
	ok bool
}

func (s stubReporter) Healthy() (bool, string) { return s.ok, "stub" }

type healthyAnalyzer struct {
	fakeAnalyzer
	stubReporter
}

func TestHealthCheckAggregation(t *testing.T) {
	up := &healthyAnalyzer{stubReporter: stubReporter{ok: true}}

	all := newTestCoordinator(up, &fakeNotifier{}, &fakeReconciler{}, Config{})
	report := all.HealthCheck(context.Background())
	require.Equal(t, model.StatusHealthy, report.Overall)
	require.Equal(t, 3, report.Total)
	require.Equal(t, fixedNow, report.CheckedAt)

	some := newTestCoordinator(up, nil, nil, Config{})
	report = some.HealthCheck(context.Background())
	require.Equal(t, model.StatusDegraded, report.Overall)
	require.Equal(t, model.StatusUnhealthy, report.Services["calendar"].Status)

	down := &healthyAnalyzer{stubReporter: stubReporter{ok: false}}
	none := newTestCoordinator(down, nil, nil, Config{})
	require.Equal(t, model.StatusUnhealthy, none.HealthCheck(context.Background()).Overall)

	extra := newTestCoordinator(up, &fakeNotifier{}, &fakeReconciler{}, Config{},
		WithHealthCheck("database", func(context.Context) model.ServiceHealth {
			return model.ServiceHealth{Status: model.StatusUnhealthy, Detail: "ping failed"}
		}))
	report = extra.HealthCheck(context.Background())
	require.Equal(t, model.StatusDegraded, report.Overall)
	require.Equal(t, 4, report.Total)
}

type unknownRequest struct{}

func (unknownRequest) isRequest() {}

func TestDispatch(t *testing.T) {
	c := newTestCoordinator(&fakeAnalyzer{}, nil, nil, Config{})
	rc := NewRunContext(fixedNow)
	ctx := context.Background()

	resp, err := c.Dispatch(ctx, rc, ProcessRunRequest{Items: items(2)})
	require.NoError(t, err)
	require.NotNil(t, resp.Run)
	require.Equal(t, 2, resp.Run.Succeeded)

	resp, err = c.Dispatch(ctx, rc, ProcessItemRequest{Item: items(1)[0]})
	require.NoError(t, err)
	require.Equal(t, ItemSucceeded, resp.Item.Status)

	resp, err = c.Dispatch(ctx, rc, StatsRequest{})
	require.NoError(t, err)
	require.Equal(t, 3, resp.Stats.ItemsProcessed)

	resp, err = c.Dispatch(ctx, rc, HealthCheckRequest{})
	require.NoError(t, err)
	require.NotNil(t, resp.Health)

	_, err = c.Dispatch(ctx, rc, ProcessItemRequest{Item: items(1)[0], Options: Options{Mode: "bogus"}})
	require.Error(t, err)

	_, err = c.Dispatch(ctx, rc, FetchRunRequest{})
	require.ErrorIs(t, err, ErrNoSource)

	_, err = c.Dispatch(ctx, rc, unknownRequest{})
	require.Error(t, err)
}
