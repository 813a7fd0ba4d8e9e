package notify

import (
	"context"
	"strings"
)

// SendResult is the raw answer of a transport. RawStatus is usually the
// HTTP status code and RawBody the provider's response text.
type SendResult struct {
	Delivered bool
	RawStatus int
	RawBody   string
}

type Transport interface {
	Name() string
	Send(ctx context.Context, message string) (SendResult, error)
}

// Mailer is the last-resort channel, used to mail the message to ourselves.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) (bool, error)
}

type AttemptClass string

const (
	ClassDelivered AttemptClass = "delivered"
	ClassQueued    AttemptClass = "queued"
	ClassPaused    AttemptClass = "paused"
	ClassFailed    AttemptClass = "failed"
)

// Succeeded reports whether the class counts as a successful attempt.
func (c AttemptClass) Succeeded() bool {
	return c == ClassDelivered || c == ClassQueued
}

var (
	pausedMarkers = []string{"paused", "suspended"}
	queuedMarkers = []string{"queued", "rate limit", "rate-limit", "too many requests"}
)

// Classify maps one transport answer onto an AttemptClass. A paused or
// suspended account wins over everything else; a queued answer counts as
// success even when the transport did not report delivery.
func Classify(res SendResult, err error) AttemptClass {
	text := strings.ToLower(res.RawBody)
	if err != nil {
		text += " " + strings.ToLower(err.Error())
	}

	if containsAny(text, pausedMarkers) {
		return ClassPaused
	}
	if err != nil {
		return ClassFailed
	}
	if containsAny(text, queuedMarkers) {
		return ClassQueued
	}
	if res.Delivered {
		return ClassDelivered
	}
	return ClassFailed
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
