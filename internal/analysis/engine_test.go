package analysis

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"mailflow/internal/model"
)

type reply struct {
	text string
	err  error
}

type scriptedCompleter struct {
	replies map[string]reply
	calls   []string
}

func (s *scriptedCompleter) Complete(_ context.Context, req CompletionRequest) (string, error) {
	s.calls = append(s.calls, req.Model)
	r, ok := s.replies[req.Model]
	if !ok {
		return "", fmt.Errorf("no reply scripted for %s", req.Model)
	}
	return r.text, r.err
}

var testItem = &model.InputItem{
	ID:      "msg-1",
	Subject: "Sports Day",
	Sender:  "school@example.com",
	Body:    "Sports Day is on 1 May.",
}

const validReply = `Here you go: {"gist":"Sports day on 1 May","hasEvent":true,"eventDetails":{"title":"Sports Day","startDate":"2024-05-01"},"priority":"high","actionItems":["Bring shoes"],"category":"School"}`

func TestCandidateModelsDedupPreservesOrder(t *testing.T) {
	got := CandidateModels("gpt-4o-mini", []string{"gpt-4o", "gpt-4o-mini", " ", "gpt-4o", "gpt-3.5-turbo"})
	require.Equal(t, []string{"gpt-4o-mini", "gpt-4o", "gpt-3.5-turbo"}, got)
}

func TestAnalyzeFirstNonEmptyWins(t *testing.T) {
	c := &scriptedCompleter{replies: map[string]reply{
		"a": {text: "   "},
		"b": {err: fmt.Errorf("status 404: %w", ErrModelUnavailable)},
		"c": {text: validReply},
		"d": {text: `{"gist":"never used"}`},
	}}
	e := NewEngine(c, Config{DefaultModel: "a", FallbackModels: []string{"b", "c", "d"}}, nil)

	res, err := e.Analyze(context.Background(), testItem, FullPrompt{})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, c.calls)
	require.Equal(t, "c", res.Model)
	require.Equal(t, "Sports day on 1 May", res.Gist)
	require.True(t, res.HasEvent)
	require.Equal(t, model.PriorityHigh, res.Priority)
	require.Equal(t, "school", res.Category)
}

func TestAnalyzeUnavailableMessageIsSoft(t *testing.T) {
	c := &scriptedCompleter{replies: map[string]reply{
		"a": {err: errors.New("The model `a` does not exist or you do not have access to it.")},
		"b": {text: `{"gist":"ok"}`},
	}}
	e := NewEngine(c, Config{DefaultModel: "a", FallbackModels: []string{"b"}}, nil)

	res, err := e.Analyze(context.Background(), testItem, SummaryPrompt{})
	require.NoError(t, err)
	require.Equal(t, "b", res.Model)
}

func TestAnalyzeHardErrorAborts(t *testing.T) {
	boom := errors.New("invalid api key")
	c := &scriptedCompleter{replies: map[string]reply{
		"a": {err: boom},
		"b": {text: validReply},
	}}
	e := NewEngine(c, Config{DefaultModel: "a", FallbackModels: []string{"b"}}, nil)

	_, err := e.Analyze(context.Background(), testItem, nil)
	require.Error(t, err)

	var ae *AnalysisError
	require.ErrorAs(t, err, &ae)
	require.False(t, ae.Exhausted)
	require.Equal(t, "a", ae.Model)
	require.ErrorIs(t, err, boom)
	require.Equal(t, []string{"a"}, c.calls)
}

func TestAnalyzeTimeoutIsHard(t *testing.T) {
	c := &scriptedCompleter{replies: map[string]reply{
		"a": {err: context.DeadlineExceeded},
		"b": {text: validReply},
	}}
	e := NewEngine(c, Config{DefaultModel: "a", FallbackModels: []string{"b"}}, nil)

	_, err := e.Analyze(context.Background(), testItem, nil)
	var ae *AnalysisError
	require.ErrorAs(t, err, &ae)
	require.Equal(t, []string{"a"}, c.calls)
}

type panickingCompleter struct{ calls int }

func (p *panickingCompleter) Complete(context.Context, CompletionRequest) (string, error) {
	p.calls++
	panic("provider blew up")
}

func TestAnalyzeCompleterPanicIsHard(t *testing.T) {
	c := &panickingCompleter{}
	e := NewEngine(c, Config{DefaultModel: "a", FallbackModels: []string{"b"}}, nil)

	var err error
	require.NotPanics(t, func() {
		_, err = e.Analyze(context.Background(), testItem, nil)
	})
	var ae *AnalysisError
	require.ErrorAs(t, err, &ae)
	require.False(t, ae.Exhausted)
	require.Equal(t, "a", ae.Model)
	require.Contains(t, err.Error(), "provider blew up")
	require.Equal(t, 1, c.calls)
}

func TestAnalyzeExhaustedCarriesLastError(t *testing.T) {
	last := fmt.Errorf("b: %w", ErrModelUnavailable)
	c := &scriptedCompleter{replies: map[string]reply{
		"a": {text: ""},
		"b": {err: last},
	}}
	e := NewEngine(c, Config{DefaultModel: "a", FallbackModels: []string{"b"}}, nil)

	_, err := e.Analyze(context.Background(), testItem, nil)
	var ae *AnalysisError
	require.ErrorAs(t, err, &ae)
	require.True(t, ae.Exhausted)
	require.Equal(t, 2, ae.Attempts)
	require.ErrorIs(t, err, last)
}

func TestAnalyzeNoCandidates(t *testing.T) {
	e := NewEngine(&scriptedCompleter{}, Config{}, nil)
	_, err := e.Analyze(context.Background(), testItem, nil)
	require.ErrorIs(t, err, ErrNoCandidates)

	ok, _ := e.Healthy()
	require.False(t, ok)
}

func TestAnalyzeGarbageStillHasGist(t *testing.T) {
	c := &scriptedCompleter{replies: map[string]reply{
		"a": {text: "Sorry, I cannot help with that."},
	}}
	e := NewEngine(c, Config{DefaultModel: "a"}, nil)

	res, err := e.Analyze(context.Background(), testItem, nil)
	require.NoError(t, err)
	require.True(t, res.Fallback)
	require.Equal(t, "Sorry, I cannot help with that.", res.Gist)
	require.False(t, res.HasEvent)
}

func TestPromptFor(t *testing.T) {
	for mode, want := range map[string]string{"": ModeFull, "FULL": ModeFull, "summary": ModeSummary, "events": ModeEvents} {
		pb, err := PromptFor(mode)
		require.NoError(t, err)
		require.Equal(t, want, pb.Mode())
		p := pb.Build(testItem)
		require.Contains(t, p.User, testItem.Subject)
		require.Contains(t, p.User, `"gist"`)
		require.NotEmpty(t, p.System)
	}

	_, err := PromptFor("translate")
	require.Error(t, err)
}
