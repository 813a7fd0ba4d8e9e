package analysis

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrModelUnavailable is returned by a Completer when the requested model
	// does not exist or is not enabled for the account.
	ErrModelUnavailable = errors.New("model unavailable")
	ErrEmptyResponse    = errors.New("empty response")
	ErrNoCandidates     = errors.New("no candidate models configured")
)

// AnalysisError is fatal to one item. Exhausted is set when every candidate
// soft-failed; otherwise Model names the candidate that failed hard.
type AnalysisError struct {
	Model     string
	Attempts  int
	Exhausted bool
	Err       error
}

func (e *AnalysisError) Error() string {
	if e.Exhausted {
		return fmt.Sprintf("analysis failed: all %d candidate models exhausted: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("analysis failed on model %s (attempt %d): %v", e.Model, e.Attempts, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

var unavailableMarkers = []string{
	"model_not_found",
	"model not found",
	"does not exist",
	"not available",
	"not_found_error",
	"unsupported model",
}

// IsModelUnavailable reports whether err means "try another model".
func IsModelUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrModelUnavailable) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range unavailableMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
