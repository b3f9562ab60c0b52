package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options-risk-engine/internal/config"
	"options-risk-engine/internal/errors"
	"options-risk-engine/internal/models"
	"options-risk-engine/pkg/utils"
)

var testNow = time.Date(2026, 6, 1, 14, 30, 0, 0, time.UTC)

type recordingChannel struct {
	name string
	err  error
	mu   sync.Mutex
	sent []Notification
}

func (c *recordingChannel) Name() string    { return c.name }
func (c *recordingChannel) IsEnabled() bool { return true }
func (c *recordingChannel) Send(_ context.Context, n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, n)
	return c.err
}

func fastRetry() utils.RetryConfig {
	return utils.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2}
}

func testBreaches() []models.Breach {
	return []models.Breach{
		{LimitName: "max delta", Metric: models.MetricDelta, Current: -1200, Threshold: 1000, Severity: models.SeverityHigh},
		{LimitName: "max concentration", Metric: models.MetricConcentration, Current: 0.75, Threshold: 0.3, Severity: models.SeverityMedium},
	}
}

func TestWebhook_DeliversBreachPayload(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	mn := NewMultiNotifier(config.NotificationConfig{
		Enabled: true,
		Webhook: config.WebhookConfig{Enabled: true, URL: srv.URL},
	})
	require.NoError(t, mn.SendBreaches(context.Background(), testBreaches()))

	assert.Equal(t, "breach", got["type"])
	assert.Equal(t, "Risk limits breached: 2 (1 high)", got["title"])
	data := got["data"].(map[string]interface{})
	assert.Len(t, data["breaches"], 2)
}

func TestWebhook_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := NewWebhookNotifier(config.WebhookConfig{Enabled: true, URL: srv.URL}).WithRetry(fastRetry())
	require.NoError(t, wh.Send(context.Background(), Notification{Type: NotificationInfo, Timestamp: testNow}))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestWebhook_ClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	wh := NewWebhookNotifier(config.WebhookConfig{Enabled: true, URL: srv.URL}).WithRetry(fastRetry())
	err := wh.Send(context.Background(), Notification{Type: NotificationInfo, Timestamp: testNow})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestWebhook_DisabledWithoutURL(t *testing.T) {
	wh := NewWebhookNotifier(config.WebhookConfig{Enabled: true})
	assert.False(t, wh.IsEnabled())
	assert.NoError(t, wh.Send(context.Background(), Notification{}))
}

func TestMultiNotifier_LevelFilter(t *testing.T) {
	tests := []struct {
		level string
		want  []NotificationType
	}{
		{"all", []NotificationType{NotificationBreach, NotificationHedge, NotificationError}},
		{"breaches_only", []NotificationType{NotificationBreach, NotificationError}},
		{"errors_only", []NotificationType{NotificationError}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			ch := &recordingChannel{name: "rec"}
			mn := NewMultiNotifier(config.NotificationConfig{Enabled: true, Level: tt.level})
			mn.AddChannel(ch)
			ctx := context.Background()

			require.NoError(t, mn.SendBreaches(ctx, testBreaches()))
			require.NoError(t, mn.SendHedges(ctx, []models.HedgeRecord{{PositionID: "p1", Symbol: "AAPL", Shares: 500, Price: 150, Cost: 375}}))
			require.NoError(t, mn.SendError(ctx, errors.ErrDatabaseError, "snapshot"))

			var types []NotificationType
			for _, n := range ch.sent {
				types = append(types, n.Type)
			}
			assert.Equal(t, tt.want, types)
		})
	}
}

func TestMultiNotifier_FailingChannelDoesNotBlockOthers(t *testing.T) {
	bad := &recordingChannel{name: "bad", err: errors.ErrDatabaseError}
	good := &recordingChannel{name: "good"}
	mn := NewMultiNotifier(config.NotificationConfig{Enabled: true})
	mn.AddChannel(bad)
	mn.AddChannel(good)

	err := mn.SendExpiring(context.Background(), []models.Position{
		{ID: "late", Symbol: "SPY", Kind: models.Put, Strike: 480, Quantity: -2, Expiry: testNow.AddDate(0, 0, 6)},
		{ID: "soon", Symbol: "AAPL", Kind: models.Call, Strike: 150, Quantity: -10, Expiry: testNow.AddDate(0, 0, 2)},
	}, testNow)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDatabaseError)
	assert.Contains(t, err.Error(), "bad:")

	require.Len(t, good.sent, 1)
	n := good.sent[0]
	assert.Equal(t, NotificationExpiring, n.Type)
	assert.False(t, n.Timestamp.IsZero())
	assert.Regexp(t, `^soon AAPL`, n.Message, "soonest expiry first")
}

func TestMultiNotifier_EmptyBatchesSendNothing(t *testing.T) {
	ch := &recordingChannel{name: "rec"}
	mn := NewMultiNotifier(config.NotificationConfig{Enabled: true})
	mn.AddChannel(ch)
	ctx := context.Background()

	require.NoError(t, mn.SendBreaches(ctx, nil))
	require.NoError(t, mn.SendExpiring(ctx, nil, testNow))
	require.NoError(t, mn.SendHedges(ctx, nil))
	assert.Empty(t, ch.sent)
}

func TestLogNotifier_WritesStructuredEvent(t *testing.T) {
	var buf bytes.Buffer
	mn := NewMultiNotifier(config.NotificationConfig{})
	mn.AddChannel(NewLogNotifier(zerolog.New(&buf)))

	require.NoError(t, mn.SendBreaches(context.Background(), testBreaches()[:1]))

	var ev map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &ev))
	assert.Equal(t, "warn", ev["level"])
	assert.Equal(t, "breach", ev["type"])
	assert.Contains(t, ev["detail"], "max delta")
}
