package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"mailflow/internal/analysis"
	"mailflow/pkg/util"
)

func TestOpenAICompletion(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"gist\":\"hi\"}"}}]}`))
	}))
	defer srv.Close()

	c := NewAIClient(AIConfig{OpenAIKey: "sk-test", OpenAIBaseURL: srv.URL}, nil)
	out, err := c.Complete(context.Background(), analysis.CompletionRequest{
		Model: "gpt-4o", SystemPrompt: "sys", UserPrompt: "user", MaxTokens: 500, Temperature: 0.3,
	})
	require.NoError(t, err)
	require.Equal(t, `{"gist":"hi"}`, out)
	require.Equal(t, "gpt-4o", got["model"])
	require.EqualValues(t, 500, got["max_tokens"])
	require.EqualValues(t, 0.3, got["temperature"])
	require.NotContains(t, got, "max_completion_tokens")
}

func TestOpenAIReasoningModelParams(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	c := NewAIClient(AIConfig{OpenAIKey: "sk-test", OpenAIBaseURL: srv.URL}, nil)
	_, err := c.Complete(context.Background(), analysis.CompletionRequest{Model: "o3-mini", MaxTokens: 800})
	require.NoError(t, err)
	require.EqualValues(t, 800, got["max_completion_tokens"])
	require.NotContains(t, got, "max_tokens")
	require.NotContains(t, got, "temperature")
}

func TestModelNotFoundIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"model_not_found","message":"The model does not exist"}}`))
	}))
	defer srv.Close()

	c := NewAIClient(AIConfig{OpenAIKey: "sk-test", OpenAIBaseURL: srv.URL}, nil)
	_, err := c.Complete(context.Background(), analysis.CompletionRequest{Model: "gpt-9"})
	require.ErrorIs(t, err, analysis.ErrModelUnavailable)
}

func TestServerErrorIsHard(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewAIClient(AIConfig{OpenAIKey: "sk-test", OpenAIBaseURL: srv.URL}, nil)
	_, err := c.Complete(context.Background(), analysis.CompletionRequest{Model: "gpt-4o"})
	require.Error(t, err)
	require.False(t, analysis.IsModelUnavailable(err))

	retryable, kind := util.IsRetryableError(err)
	require.True(t, retryable)
	require.Equal(t, "upstream_error", kind)
}

func TestAnthropicRouting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/messages", r.URL.Path)
		require.Equal(t, "ak-test", r.Header.Get("x-api-key"))
		require.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"{\"gist\":"},{"type":"text","text":"\"x\"}"}]}`))
	}))
	defer srv.Close()

	c := NewAIClient(AIConfig{AnthropicKey: "ak-test", AnthropicBase: srv.URL}, nil)
	out, err := c.Complete(context.Background(), analysis.CompletionRequest{Model: "claude-3-5-sonnet-latest", MaxTokens: 500})
	require.NoError(t, err)
	require.Equal(t, `{"gist":"x"}`, out)
}

func TestMissingKeyIsUnavailable(t *testing.T) {
	c := NewAIClient(AIConfig{OpenAIKey: "sk-test"}, nil)
	_, err := c.Complete(context.Background(), analysis.CompletionRequest{Model: "claude-3-haiku"})
	require.ErrorIs(t, err, analysis.ErrModelUnavailable)

	ok, detail := c.Healthy()
	require.True(t, ok)
	require.Equal(t, "providers: openai", detail)

	ok, _ = NewAIClient(AIConfig{}, nil).Healthy()
	require.False(t, ok)
}
