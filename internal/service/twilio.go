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

const defaultTwilioURL = "https://api.twilio.com/2010-04-01"

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string
	To         string
	BaseURL    string
	Timeout    time.Duration
}

func (c TwilioConfig) Configured() bool {
	return c.AccountSID != "" && c.AuthToken != "" && c.From != "" && c.To != ""
}

// TwilioTransport sends WhatsApp messages through the Twilio Messages API.
type TwilioTransport struct {
	cfg        TwilioConfig
	httpClient *http.Client
}

func NewTwilioTransport(cfg TwilioConfig) *TwilioTransport {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultTwilioURL
	}
	return &TwilioTransport{cfg: cfg, httpClient: newHTTPClient(cfg.Timeout)}
}

func (t *TwilioTransport) Name() string { return "twilio" }

func whatsappAddr(number string) string {
	if strings.HasPrefix(number, "whatsapp:") {
		return number
	}
	return "whatsapp:" + number
}

// Send returns the raw Twilio answer. A freshly created message reports
// status "queued", which the cascade counts as sent.
func (t *TwilioTransport) Send(ctx context.Context, message string) (notify.SendResult, error) {
	form := url.Values{}
	form.Set("From", whatsappAddr(t.cfg.From))
	form.Set("To", whatsappAddr(t.cfg.To))
	form.Set("Body", message)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", t.cfg.BaseURL, url.PathEscape(t.cfg.AccountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return notify.SendResult{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(t.cfg.AccountSID, t.cfg.AuthToken)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return notify.SendResult{}, fmt.Errorf("failed to call twilio: %w", err)
	}
	defer resp.Body.Close()

	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	res := notify.SendResult{
		RawStatus: resp.StatusCode,
		RawBody:   strings.TrimSpace(string(b)),
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return res, &StatusError{Service: "twilio", Code: resp.StatusCode, Body: res.RawBody}
	}
	res.Delivered = true
	return res, nil
}
