package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"mailflow/internal/analysis"
	"mailflow/internal/calendar"
	"mailflow/internal/model"
)

type Analyzer interface {
	Analyze(ctx context.Context, item *model.InputItem, pb analysis.PromptBuilder) (*model.AnalysisResult, error)
}

type Notifier interface {
	Deliver(ctx context.Context, message string) (model.DeliveryOutcome, error)
}

type EventReconciler interface {
	Reconcile(ctx context.Context, details model.EventDetails, item *model.InputItem) calendar.Report
}

// Filter narrows what an ItemSource returns.
type Filter struct {
	Sender string
	Since  time.Time
}

type ItemSource interface {
	Fetch(ctx context.Context, limit int, filter Filter) ([]model.InputItem, error)
}

// Ledger remembers items across runs. Implementations fail open: when the
// backing store is down, items are reported as not completed.
type Ledger interface {
	Completed(ctx context.Context, itemID string) bool
	MarkCompleted(ctx context.Context, itemID string)
	// RecordFailure returns true when the item has failed too often and was
	// marked completed so later runs skip it.
	RecordFailure(ctx context.Context, itemID string, cause error) bool
}

// ResultSink receives every item result as soon as it is known.
type ResultSink interface {
	PublishResult(ctx context.Context, runID string, res *ItemResult) error
}

// RunRecorder persists finished runs.
type RunRecorder interface {
	RecordRun(ctx context.Context, run *RunResult) error
}

type Options struct {
	Notify       bool
	CreateEvents bool
	// Mode selects the analysis prompt: full, summary or events.
	Mode string
}

func DefaultOptions() Options {
	return Options{Notify: true, CreateEvents: true, Mode: analysis.ModeFull}
}

func (o Options) Validate() error {
	_, err := analysis.PromptFor(o.Mode)
	return err
}

type State string

const (
	StateFetched        State = "FETCHED"
	StateAnalyzing      State = "ANALYZING"
	StateAnalysisFailed State = "ANALYSIS_FAILED"
	StateAnalyzed       State = "ANALYZED"
	StateNotifying      State = "NOTIFYING"
	StateCalendar       State = "CALENDAR"
	StateDone           State = "DONE"
)

type ItemStatus string

const (
	ItemSucceeded ItemStatus = "succeeded"
	ItemFailed    ItemStatus = "failed"
	ItemSkipped   ItemStatus = "skipped"
)

type ItemResult struct {
	ItemID    string                 `json:"itemId"`
	Subject   string                 `json:"subject"`
	Status    ItemStatus             `json:"status"`
	State     State                  `json:"state"`
	TraceID   string                 `json:"traceId"`
	Analysis  *model.AnalysisResult  `json:"analysis,omitempty"`
	Notified  bool                   `json:"notified"`
	Delivery  *model.DeliveryOutcome `json:"delivery,omitempty"`
	Calendar  *calendar.Report       `json:"calendar,omitempty"`
	Err       error                  `json:"-"`
	Error     string                 `json:"error,omitempty"`
	Duration  time.Duration          `json:"duration"`
	Processed time.Time              `json:"processedAt"`
}

func (r *ItemResult) EventsCreated() int {
	if r.Calendar == nil {
		return 0
	}
	return r.Calendar.Created
}

func (r *ItemResult) EventsMatched() int {
	if r.Calendar == nil {
		return 0
	}
	return r.Calendar.Matched
}

// RunResult summarises one run. Processed counts attempted items and always
// equals Succeeded+Failed; items skipped by the ledger are only in Skipped.
type RunResult struct {
	RunID       string                `json:"runId"`
	Processed   int                   `json:"processed"`
	Succeeded   int                   `json:"succeeded"`
	Failed      int                   `json:"failed"`
	Skipped     int                   `json:"skipped"`
	Interrupted bool                  `json:"interrupted"`
	Items       []ItemResult          `json:"items"`
	StartedAt   time.Time             `json:"startedAt"`
	FinishedAt  time.Time             `json:"finishedAt"`
	Stats       model.ProcessingStats `json:"stats"`
}

// RunContext carries the statistics of one coordinator session. Runs add to
// it; it is only reset by creating a new one.
type RunContext struct {
	mu    sync.Mutex
	id    string
	stats model.ProcessingStats
}

func NewRunContext(now time.Time) *RunContext {
	return &RunContext{
		id:    uuid.NewString(),
		stats: model.ProcessingStats{StartTime: now},
	}
}

func (rc *RunContext) ID() string { return rc.id }

// Stats returns a copy of the current counters.
func (rc *RunContext) Stats() model.ProcessingStats {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.stats
}

func (rc *RunContext) update(fn func(s *model.ProcessingStats)) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	fn(&rc.stats)
}
