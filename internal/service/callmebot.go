package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mailflow/internal/notify"
)

const defaultCallMeBotURL = "https://api.callmebot.com/whatsapp.php"

// CallMeBotPair is one phone number with its API key.
type CallMeBotPair struct {
	Phone  string `yaml:"phone"`
	APIKey string `yaml:"api_key"`
}

func (p CallMeBotPair) Configured() bool {
	return p.Phone != "" && p.APIKey != ""
}

type CallMeBotTransport struct {
	pair       CallMeBotPair
	endpoint   string
	httpClient *http.Client
}

func NewCallMeBotTransport(pair CallMeBotPair, endpoint string, timeout time.Duration) *CallMeBotTransport {
	if endpoint == "" {
		endpoint = defaultCallMeBotURL
	}
	return &CallMeBotTransport{pair: pair, endpoint: endpoint, httpClient: newHTTPClient(timeout)}
}

// Name includes the last digits of the phone so pairs are told apart in
// logs, metrics and circuit breakers.
func (t *CallMeBotTransport) Name() string {
	phone := t.pair.Phone
	if len(phone) > 4 {
		phone = phone[len(phone)-4:]
	}
	return "callmebot-" + phone
}

// Send reports the raw text. CallMeBot answers 200 for most outcomes,
// including paused keys, so the body decides the class.
func (t *CallMeBotTransport) Send(ctx context.Context, message string) (notify.SendResult, error) {
	q := url.Values{}
	q.Set("phone", t.pair.Phone)
	q.Set("text", message)
	q.Set("apikey", t.pair.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return notify.SendResult{}, err
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return notify.SendResult{}, fmt.Errorf("failed to call callmebot: %w", err)
	}
	defer resp.Body.Close()

	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	res := notify.SendResult{
		RawStatus: resp.StatusCode,
		RawBody:   strings.TrimSpace(string(b)),
	}
	if resp.StatusCode != http.StatusOK {
		return res, &StatusError{Service: "callmebot", Code: resp.StatusCode, Body: res.RawBody}
	}
	res.Delivered = true
	return res, nil
}
