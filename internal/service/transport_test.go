package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mailflow/internal/notify"
)

func TestTwilioSendQueued(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/Accounts/AC123/Messages.json", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "AC123", user)
		require.Equal(t, "secret", pass)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "whatsapp:+14155238886", r.PostForm.Get("From"))
		require.Equal(t, "whatsapp:+6591234567", r.PostForm.Get("To"))
		require.Equal(t, "hello", r.PostForm.Get("Body"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM1","status":"queued"}`))
	}))
	defer srv.Close()

	tr := NewTwilioTransport(TwilioConfig{
		AccountSID: "AC123", AuthToken: "secret",
		From: "+14155238886", To: "whatsapp:+6591234567", BaseURL: srv.URL,
	})
	res, err := tr.Send(context.Background(), "hello")
	require.NoError(t, err)
	require.True(t, res.Delivered)
	require.Equal(t, notify.ClassQueued, notify.Classify(res, err))
}

func TestTwilioSuspendedAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":20005,"message":"Account suspended"}`))
	}))
	defer srv.Close()

	tr := NewTwilioTransport(TwilioConfig{AccountSID: "AC1", AuthToken: "x", From: "a", To: "b", BaseURL: srv.URL})
	res, err := tr.Send(context.Background(), "hello")
	require.Error(t, err)
	require.Equal(t, notify.ClassPaused, notify.Classify(res, err))
}

func TestCallMeBotSend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		require.Equal(t, "+6591234567", q.Get("phone"))
		require.Equal(t, "key-1", q.Get("apikey"))
		require.Equal(t, "hi there", q.Get("text"))
		_, _ = w.Write([]byte("Message queued. You will receive it in a few seconds."))
	}))
	defer srv.Close()

	tr := NewCallMeBotTransport(CallMeBotPair{Phone: "+6591234567", APIKey: "key-1"}, srv.URL, time.Second)
	require.Equal(t, "callmebot-4567", tr.Name())

	res, err := tr.Send(context.Background(), "hi there")
	require.NoError(t, err)
	require.Equal(t, notify.ClassQueued, notify.Classify(res, err))
}

func TestCallMeBotPausedKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("APIKey is paused. Please contact support."))
	}))
	defer srv.Close()

	tr := NewCallMeBotTransport(CallMeBotPair{Phone: "1", APIKey: "k"}, srv.URL, time.Second)
	res, err := tr.Send(context.Background(), "hi")
	require.NoError(t, err)
	require.Equal(t, notify.ClassPaused, notify.Classify(res, err))
}

func TestSMTPMailerBuildsMessage(t *testing.T) {
	m := NewSMTPMailer(SMTPConfig{Host: "smtp.example.com", Username: "me", Password: "pw", From: "me@example.com"})
	m.now = func() time.Time { return time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC) }

	var gotAddr string
	var gotTo []string
	var gotMsg string
	m.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		return nil
	}

	ok, err := m.Send(context.Background(), "", "Mail summary", "line1\nline2")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "smtp.example.com:587", gotAddr)
	require.Equal(t, []string{"me@example.com"}, gotTo)
	require.True(t, strings.Contains(gotMsg, "Subject: Mail summary\r\n"))
	require.True(t, strings.HasSuffix(gotMsg, "line1\r\nline2"))
}

func TestSMTPMailerHonoursContext(t *testing.T) {
	m := NewSMTPMailer(SMTPConfig{Host: "smtp.example.com", From: "me@example.com"})
	block := make(chan struct{})
	defer close(block)
	m.send = func(string, smtp.Auth, string, []string, []byte) error {
		<-block
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ok, err := m.Send(ctx, "x@example.com", "s", "b")
	require.False(t, ok)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
