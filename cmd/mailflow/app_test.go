package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailflow/internal/config"
	"mailflow/internal/model"
	"mailflow/internal/notify"
	"mailflow/internal/service"
)

func cascadeConfig(order, twilioURL, botURL string) *config.Config {
	return &config.Config{
		AI: config.AIConfig{DefaultModel: "gpt-4o-mini", OpenAIKey: "sk"},
		Notification: config.NotificationConfig{
			Order:             order,
			Twilio:            config.TwilioConfig{AccountSID: "AC1", AuthToken: "tok", From: "+1", To: "+2", BaseURL: twilioURL},
			CallMeBot:         []service.CallMeBotPair{{Phone: "+6590001234", APIKey: "k"}},
			CallMeBotEndpoint: botURL,
		},
	}
}

func TestBuildCascadeHonoursOrder(t *testing.T) {
	var twilioHits, botHits atomic.Int32
	twilio := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		twilioHits.Add(1)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM1","status":"sent"}`))
	}))
	defer twilio.Close()
	bot := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		botHits.Add(1)
		_, _ = w.Write([]byte("Message sent"))
	}))
	defer bot.Close()

	cascade := buildCascade(cascadeConfig(config.OrderBotFirst, twilio.URL, bot.URL), zap.NewNop())
	require.Equal(t, []string{notify.TierPrimary, notify.TierSecondary}, cascade.Tiers())

	out, err := cascade.Deliver(context.Background(), "hello")
	require.NoError(t, err)
	require.True(t, out.Delivered)
	require.EqualValues(t, 1, botHits.Load())
	require.EqualValues(t, 0, twilioHits.Load())

	cascade = buildCascade(cascadeConfig(config.OrderCarrierFirst, twilio.URL, bot.URL), zap.NewNop())
	_, err = cascade.Deliver(context.Background(), "hello")
	require.NoError(t, err)
	require.EqualValues(t, 1, twilioHits.Load())
	require.EqualValues(t, 1, botHits.Load())
}

func TestBuildCascadeSkipsUnconfiguredTransports(t *testing.T) {
	cfg := &config.Config{}
	cfg.Notification.SMTP = config.SMTPConfig{Host: "smtp.example.com", From: "bot@example.com"}

	cascade := buildCascade(cfg, zap.NewNop())
	require.Equal(t, []string{notify.ChannelMail}, cascade.Tiers())
}

func TestBuildAppRejectsInvalidConfig(t *testing.T) {
	cfg := cascadeConfig("", "", "")
	_, err := buildApp(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	require.True(t, config.IsConfigurationError(err))
}

func TestBuildAppWithoutInfrastructure(t *testing.T) {
	cfg := cascadeConfig(config.OrderCarrierFirst, "", "")
	a, err := buildApp(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	require.Nil(t, a.items)
	require.Empty(t, a.probes)

	report := a.coordinator.HealthCheck(context.Background())
	require.Contains(t, report.Services, "calendar")
	require.Equal(t, "not configured", report.Services["calendar"].Detail)
	require.Equal(t, model.StatusUnhealthy, report.Services["item_source"].Status)
	require.Equal(t, "not configured", report.Services["item_source"].Detail)
	require.False(t, a.ledger)
}

func TestReadItems(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"m1","subject":"Hi","sender":"a@b.c","body":"x","received_at":"2024-05-01T08:00:00Z"}]`), 0o600))

	items, err := readItems(path)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "m1", items[0].ID)

	_, err = readItems(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
