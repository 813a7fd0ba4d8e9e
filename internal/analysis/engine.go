package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"mailflow/internal/model"
	"mailflow/pkg/logger"
	"mailflow/pkg/metrics"
)

// DefaultFallbackModels are tried, in order, after the configured model.
var DefaultFallbackModels = []string{"gpt-4o", "gpt-4o-mini", "gpt-4-turbo", "gpt-3.5-turbo"}

type CompletionRequest struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Temperature  float64
}

// Completer is the AI provider. It must return an error wrapping
// ErrModelUnavailable (or whose message says the model does not exist) when
// the model cannot be used, so the engine can move to the next candidate.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

type Config struct {
	DefaultModel   string
	FallbackModels []string
	MaxTokens      int
	Temperature    float64
	// CallTimeout bounds a single completion call. Zero means no extra bound.
	CallTimeout time.Duration
}

type Engine struct {
	completer  Completer
	cfg        Config
	candidates []string
	logger     *zap.Logger
}

func NewEngine(completer Completer, cfg Config, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 500
	}
	return &Engine{
		completer:  completer,
		cfg:        cfg,
		candidates: CandidateModels(cfg.DefaultModel, cfg.FallbackModels),
		logger:     log,
	}
}

// CandidateModels puts def first and drops blanks and repeats, keeping the
// first occurrence.
func CandidateModels(def string, fallbacks []string) []string {
	seen := make(map[string]struct{}, len(fallbacks)+1)
	out := make([]string, 0, len(fallbacks)+1)
	for _, m := range append([]string{def}, fallbacks...) {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

func (e *Engine) Candidates() []string {
	out := make([]string, len(e.candidates))
	copy(out, e.candidates)
	return out
}

// Analyze tries each candidate model once, in order. Empty responses and
// unavailable models move on to the next candidate; any other error stops
// immediately with an *AnalysisError.
func (e *Engine) Analyze(ctx context.Context, item *model.InputItem, pb PromptBuilder) (*model.AnalysisResult, error) {
	if pb == nil {
		pb = FullPrompt{}
	}
	if len(e.candidates) == 0 {
		return nil, &AnalysisError{Exhausted: true, Err: ErrNoCandidates}
	}

	log := logger.WithTrace(ctx, e.logger).With(
		zap.String("item_id", item.ID),
		zap.String("mode", pb.Mode()),
	)
	prompt := pb.Build(item)

	var lastErr error
	for i, m := range e.candidates {
		start := time.Now()
		raw, err := e.complete(ctx, m, prompt)
		elapsed := time.Since(start)

		switch {
		case err == nil && strings.TrimSpace(raw) == "":
			metrics.RecordModelAttempt(m, "empty", elapsed)
			log.Warn("Model returned empty response, trying next candidate", zap.String("model", m))
			lastErr = fmt.Errorf("model %s: %w", m, ErrEmptyResponse)

		case err == nil:
			metrics.RecordModelAttempt(m, "success", elapsed)
			result := ParseResponse(raw, item)
			result.Model = m
			if result.Fallback {
				log.Warn("Model response was not valid JSON, using fallback result",
					zap.String("model", m),
					zap.Int("raw_length", len(raw)),
				)
			}
			log.Info("Item analyzed",
				zap.String("model", m),
				zap.Int("attempt", i+1),
				zap.Bool("has_event", result.HasEvent),
				zap.Duration("latency", elapsed),
			)
			return result, nil

		case IsModelUnavailable(err):
			metrics.RecordModelAttempt(m, "unavailable", elapsed)
			log.Warn("Model unavailable, trying next candidate", zap.String("model", m), zap.Error(err))
			lastErr = err

		default:
			metrics.RecordModelAttempt(m, "error", elapsed)
			log.Error("Model call failed", zap.String("model", m), zap.Error(err))
			return nil, &AnalysisError{Model: m, Attempts: i + 1, Err: err}
		}
	}

	return nil, &AnalysisError{Attempts: len(e.candidates), Exhausted: true, Err: lastErr}
}

func (e *Engine) complete(ctx context.Context, m string, p Prompt) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("completion provider panic: %v", r)
		}
	}()

	if e.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.CallTimeout)
		defer cancel()
	}
	return e.completer.Complete(ctx, CompletionRequest{
		Model:        m,
		SystemPrompt: p.System,
		UserPrompt:   p.User,
		MaxTokens:    e.cfg.MaxTokens,
		Temperature:  e.cfg.Temperature,
	})
}

// Healthy reports whether there is a completer and at least one model.
func (e *Engine) Healthy() (bool, string) {
	if e.completer == nil {
		return false, "no completion provider configured"
	}
	if len(e.candidates) == 0 {
		return false, ErrNoCandidates.Error()
	}
	return true, fmt.Sprintf("%d candidate models, default %s", len(e.candidates), e.candidates[0])
}
