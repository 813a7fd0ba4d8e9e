package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"mailflow/internal/model"
	"mailflow/pkg/circuitbreaker"
	"mailflow/pkg/logger"
	"mailflow/pkg/metrics"
)

const (
	TierPrimary   = "primary"
	TierSecondary = "secondary"
	ChannelMail   = "fallback"
	ChannelNone   = "none"

	defaultMailSubject = "Mail summary"
)

// Tier is one step of the cascade. In a fan-out tier every transport is
// attempted and the tier succeeds when at least one did; otherwise the tier
// stops at its first success.
type Tier struct {
	Name       string
	Transports []Transport
	FanOut     bool
}

// DeliveryFailure is returned when no tier and no fallback delivered.
type DeliveryFailure struct {
	Outcome model.DeliveryOutcome
}

func (e *DeliveryFailure) Error() string {
	return fmt.Sprintf("notification not delivered: %s", e.Outcome.Detail)
}

type Option func(*Cascade)

func WithPrimary(t Transport) Option {
	return WithTier(Tier{Name: TierPrimary, Transports: []Transport{t}})
}

// WithSecondary adds a fan-out tier: every pair is attempted once.
func WithSecondary(ts ...Transport) Option {
	return WithTier(Tier{Name: TierSecondary, Transports: ts, FanOut: true})
}

func WithTier(t Tier) Option {
	return func(c *Cascade) {
		kept := make([]Transport, 0, len(t.Transports))
		for _, tr := range t.Transports {
			if tr != nil {
				kept = append(kept, tr)
			}
		}
		t.Transports = kept
		if len(kept) > 0 {
			c.tiers = append(c.tiers, t)
		}
	}
}

// WithFallback mails the message to `to` when every tier failed.
func WithFallback(m Mailer, to string) Option {
	return func(c *Cascade) {
		c.mailer = m
		c.mailTo = to
	}
}

func WithMailSubject(subject string) Option {
	return func(c *Cascade) { c.mailSubject = subject }
}

// WithBreakers guards each transport with its own circuit breaker. Breakers
// live as long as the cascade, so a dead provider is skipped on later items.
func WithBreakers(cfg circuitbreaker.Config) Option {
	return func(c *Cascade) {
		c.breakerCfg = &cfg
	}
}

func WithAttemptTimeout(d time.Duration) Option {
	return func(c *Cascade) { c.attemptTimeout = d }
}

type Cascade struct {
	tiers          []Tier
	mailer         Mailer
	mailTo         string
	mailSubject    string
	attemptTimeout time.Duration
	logger         *zap.Logger

	breakerCfg *circuitbreaker.Config
	breakersMu sync.Mutex
	breakers   map[string]*circuitbreaker.CircuitBreaker
}

func NewCascade(log *zap.Logger, opts ...Option) *Cascade {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Cascade{
		logger:      log,
		mailSubject: defaultMailSubject,
		breakers:    make(map[string]*circuitbreaker.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Tiers returns the configured tier names in attempt order.
func (c *Cascade) Tiers() []string {
	names := make([]string, 0, len(c.tiers)+1)
	for _, t := range c.tiers {
		names = append(names, t.Name)
	}
	if c.mailer != nil {
		names = append(names, ChannelMail)
	}
	return names
}

// Deliver walks the tiers in order and stops at the first tier with a
// successful attempt. When all tiers fail the fallback mailer decides the
// outcome. No transport is attempted twice. The error is a *DeliveryFailure
// whenever the outcome is not delivered.
func (c *Cascade) Deliver(ctx context.Context, message string) (model.DeliveryOutcome, error) {
	log := logger.WithTrace(ctx, c.logger)
	var failures []string

	for _, tier := range c.tiers {
		succeeded, attempted := c.runTier(ctx, log, tier, message)
		if succeeded > 0 {
			return model.DeliveryOutcome{
				Delivered: true,
				Channel:   tier.Name,
				Detail:    fmt.Sprintf("%d/%d %s transports succeeded", succeeded, attempted, tier.Name),
			}, nil
		}
		failures = append(failures, fmt.Sprintf("%s 0/%d", tier.Name, attempted))
		log.Warn("Notification tier failed, cascading",
			zap.String("tier", tier.Name),
			zap.Int("attempted", attempted),
		)
	}

	if c.mailer != nil {
		outcome := c.sendMail(ctx, log, message)
		if outcome.Delivered {
			return outcome, nil
		}
		if len(failures) > 0 {
			outcome.Detail = strings.Join(failures, ", ") + "; " + outcome.Detail
		}
		return outcome, &DeliveryFailure{Outcome: outcome}
	}

	detail := "no notification channel configured"
	if len(failures) > 0 {
		detail = "all tiers failed: " + strings.Join(failures, ", ")
	}
	outcome := model.DeliveryOutcome{Delivered: false, Channel: ChannelNone, Detail: detail}
	log.Error("Notification not delivered", zap.String("detail", detail))
	return outcome, &DeliveryFailure{Outcome: outcome}
}

func (c *Cascade) runTier(ctx context.Context, log *zap.Logger, tier Tier, message string) (succeeded, attempted int) {
	for _, t := range tier.Transports {
		attempted++
		class, detail := c.attempt(ctx, tier.Name, t, message)
		metrics.IncrementDeliveryAttempt(tier.Name, t.Name(), string(class))

		fields := []zap.Field{
			zap.String("tier", tier.Name),
			zap.String("transport", t.Name()),
			zap.String("class", string(class)),
		}
		switch class {
		case ClassDelivered:
			log.Info("Notification sent", fields...)
		case ClassQueued:
			log.Info("Notification queued by provider, counting as sent", fields...)
		case ClassPaused:
			log.Warn("Transport account paused or suspended", append(fields, zap.String("detail", detail))...)
		default:
			log.Warn("Notification attempt failed", append(fields, zap.String("detail", detail))...)
		}

		if class.Succeeded() {
			succeeded++
			if !tier.FanOut {
				return succeeded, attempted
			}
		}
	}
	return succeeded, attempted
}

// attempt performs exactly one send. Errors and panics stay inside.
func (c *Cascade) attempt(ctx context.Context, tier string, t Transport, message string) (class AttemptClass, detail string) {
	defer func() {
		if r := recover(); r != nil {
			class = ClassFailed
			detail = fmt.Sprintf("transport panic: %v", r)
		}
	}()

	if c.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.attemptTimeout)
		defer cancel()
	}

	send := func() error {
		res, err := t.Send(ctx, message)
		class = Classify(res, err)
		detail = describe(res, err)
		if !class.Succeeded() {
			return fmt.Errorf("%s: %s", class, detail)
		}
		return nil
	}

	cb := c.breaker(tier, t)
	if cb == nil {
		_ = send()
		return class, detail
	}

	if err := cb.Execute(send); errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
		return ClassFailed, "circuit breaker open"
	}
	return class, detail
}

func (c *Cascade) breaker(tier string, t Transport) *circuitbreaker.CircuitBreaker {
	if c.breakerCfg == nil {
		return nil
	}
	key := tier + "/" + t.Name()

	c.breakersMu.Lock()
	defer c.breakersMu.Unlock()
	cb, ok := c.breakers[key]
	if !ok {
		cb = circuitbreaker.NewCircuitBreaker(key, *c.breakerCfg)
		c.breakers[key] = cb
	}
	return cb
}

func (c *Cascade) sendMail(ctx context.Context, log *zap.Logger, message string) (outcome model.DeliveryOutcome) {
	outcome = model.DeliveryOutcome{Channel: ChannelMail}
	defer func() {
		if r := recover(); r != nil {
			outcome.Delivered = false
			outcome.Detail = fmt.Sprintf("mailer panic: %v", r)
		}
		class := ClassFailed
		if outcome.Delivered {
			class = ClassDelivered
		}
		metrics.IncrementDeliveryAttempt(ChannelMail, "mail", string(class))
	}()

	if c.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.attemptTimeout)
		defer cancel()
	}

	ok, err := c.mailer.Send(ctx, c.mailTo, c.mailSubject, message)
	switch {
	case err != nil:
		outcome.Detail = "fallback mail failed: " + err.Error()
		log.Error("Fallback mail failed", zap.String("to", c.mailTo), zap.Error(err))
	case !ok:
		outcome.Detail = "fallback mail not accepted"
		log.Error("Fallback mail not accepted", zap.String("to", c.mailTo))
	default:
		outcome.Delivered = true
		outcome.Detail = "sent by mail to " + c.mailTo
		log.Info("Notification delivered by fallback mail", zap.String("to", c.mailTo))
	}
	return outcome
}

// Healthy reports whether any channel is configured.
func (c *Cascade) Healthy() (bool, string) {
	tiers := c.Tiers()
	if len(tiers) == 0 {
		return false, "no notification channel configured"
	}
	return true, "channels: " + strings.Join(tiers, " -> ")
}

func describe(res SendResult, err error) string {
	body := strings.TrimSpace(res.RawBody)
	if len(body) > 200 {
		body = body[:200]
	}
	switch {
	case err != nil && body != "":
		return fmt.Sprintf("%v (status %d: %s)", err, res.RawStatus, body)
	case err != nil:
		return err.Error()
	case body != "":
		return fmt.Sprintf("status %d: %s", res.RawStatus, body)
	default:
		return fmt.Sprintf("status %d", res.RawStatus)
	}
}
