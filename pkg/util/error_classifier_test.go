package util

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

type statusErr int

func (e statusErr) Error() string   { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) StatusCode() int { return int(e) }

func TestIsRetryableError(t *testing.T) {
	var syntaxErr error
	{
		var v map[string]any
		syntaxErr = json.Unmarshal([]byte("{"), &v)
	}

	cases := []struct {
		name      string
		err       error
		retryable bool
		kind      string
	}{
		{"nil", nil, false, ""},
		{"canceled", context.Canceled, false, "context_canceled"},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), true, "timeout"},
		{"json", syntaxErr, false, "json_decode_error"},
		{"no rows", fmt.Errorf("get: %w", pgx.ErrNoRows), false, "not_found"},
		{"5xx", statusErr(503), true, "upstream_error"},
		{"429", statusErr(429), true, "rate_limited"},
		{"4xx", statusErr(400), false, "client_error"},
		{"url", &url.Error{Op: "Get", URL: "http://x", Err: errors.New("refused")}, true, "network_error"},
		{"connection", errors.New("connection reset by peer"), true, "connection_error"},
		{"unknown", errors.New("weird"), false, "unknown_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			retryable, kind := IsRetryableError(tc.err)
			require.Equal(t, tc.retryable, retryable)
			require.Equal(t, tc.kind, kind)
		})
	}
}

func TestShouldRetry(t *testing.T) {
	require.True(t, ShouldRetry(1, 3, true))
	require.True(t, ShouldRetry(3, 3, true))
	require.False(t, ShouldRetry(4, 3, true))
	require.False(t, ShouldRetry(1, 3, false))
}
