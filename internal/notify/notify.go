// Package notify delivers risk engine events to external channels.
package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"options-risk-engine/internal/config"
	"options-risk-engine/internal/logging"
	"options-risk-engine/internal/models"
	"options-risk-engine/pkg/utils"
)

// Notifier defines the interface for sending notifications.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
	SendBreaches(ctx context.Context, breaches []models.Breach) error
	SendExpiring(ctx context.Context, positions []models.Position, now time.Time) error
	SendHedges(ctx context.Context, records []models.HedgeRecord) error
	SendError(ctx context.Context, err error, context string) error
}

// NotificationChannel defines the interface for a notification channel.
type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	IsEnabled() bool
}

// Notification represents a notification message.
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Data      map[string]interface{}
	Timestamp time.Time
}

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationBreach   NotificationType = "breach"
	NotificationExpiring NotificationType = "expiring"
	NotificationHedge    NotificationType = "hedge"
	NotificationError    NotificationType = "error"
	NotificationInfo     NotificationType = "info"
)

// NotificationLevel represents the notification level filter.
type NotificationLevel string

const (
	LevelAll          NotificationLevel = "all"
	LevelBreachesOnly NotificationLevel = "breaches_only"
	LevelErrorsOnly   NotificationLevel = "errors_only"
)

// MultiNotifier sends notifications to multiple channels.
type MultiNotifier struct {
	channels []NotificationChannel
	level    NotificationLevel
	now      func() time.Time
	mu       sync.RWMutex
}

// NewMultiNotifier creates a MultiNotifier with the channels enabled in cfg.
// A disabled configuration yields a notifier that drops everything.
func NewMultiNotifier(cfg config.NotificationConfig) *MultiNotifier {
	mn := &MultiNotifier{
		channels: make([]NotificationChannel, 0),
		level:    NotificationLevel(cfg.Level),
		now:      time.Now,
	}

	if mn.level == "" {
		mn.level = LevelAll
	}
	if !cfg.Enabled {
		return mn
	}

	if cfg.Webhook.Enabled {
		mn.channels = append(mn.channels, NewWebhookNotifier(cfg.Webhook))
	}

	return mn
}

// AddChannel adds a notification channel.
func (mn *MultiNotifier) AddChannel(ch NotificationChannel) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	mn.channels = append(mn.channels, ch)
}

// shouldSend checks if a notification should be sent based on the level filter.
// Errors always pass.
func (mn *MultiNotifier) shouldSend(notifType NotificationType) bool {
	switch mn.level {
	case LevelBreachesOnly:
		return notifType == NotificationBreach || notifType == NotificationError
	case LevelErrorsOnly:
		return notifType == NotificationError
	default:
		return true
	}
}

// Send sends a notification to all enabled channels. Every channel is
// attempted; failures are combined.
func (mn *MultiNotifier) Send(ctx context.Context, n Notification) error {
	if !mn.shouldSend(n.Type) {
		return nil
	}

	if n.Timestamp.IsZero() {
		n.Timestamp = mn.now()
	}

	mn.mu.RLock()
	channels := append([]NotificationChannel(nil), mn.channels...)
	mn.mu.RUnlock()

	var err error
	for _, ch := range channels {
		if !ch.IsEnabled() {
			continue
		}
		if sendErr := ch.Send(ctx, n); sendErr != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", ch.Name(), sendErr))
		}
	}
	return err
}

// SendBreaches sends one notification listing every breach. An empty list
// sends nothing.
func (mn *MultiNotifier) SendBreaches(ctx context.Context, breaches []models.Breach) error {
	if len(breaches) == 0 {
		return nil
	}

	high := 0
	var sb strings.Builder
	items := make([]map[string]interface{}, 0, len(breaches))
	for _, b := range breaches {
		if b.Severity == models.SeverityHigh {
			high++
		}
		sb.WriteString(fmt.Sprintf("[%s] %s: %s %s exceeds %s\n",
			strings.ToUpper(string(b.Severity)), b.LimitName, b.Metric,
			formatMetric(b.Metric, b.Current), formatMetric(b.Metric, b.Threshold)))
		items = append(items, map[string]interface{}{
			"limit":     b.LimitName,
			"metric":    string(b.Metric),
			"current":   b.Current,
			"threshold": b.Threshold,
			"severity":  string(b.Severity),
		})
	}

	title := fmt.Sprintf("Risk limits breached: %d", len(breaches))
	if high > 0 {
		title = fmt.Sprintf("%s (%d high)", title, high)
	}

	return mn.Send(ctx, Notification{
		Type:    NotificationBreach,
		Title:   title,
		Message: strings.TrimSuffix(sb.String(), "\n"),
		Data:    map[string]interface{}{"breaches": items},
	})
}

// SendExpiring warns about open positions close to expiry, soonest first.
func (mn *MultiNotifier) SendExpiring(ctx context.Context, positions []models.Position, now time.Time) error {
	if len(positions) == 0 {
		return nil
	}

	sorted := append([]models.Position(nil), positions...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Expiry.Before(sorted[j].Expiry) })

	var sb strings.Builder
	items := make([]map[string]interface{}, 0, len(sorted))
	for _, p := range sorted {
		days := int(p.Expiry.Sub(now).Hours() / 24)
		sb.WriteString(fmt.Sprintf("%s %s %s %g x%d expires %s (%dd)\n",
			p.ID, p.Symbol, p.Kind, p.Strike, p.Quantity, p.Expiry.Format("2006-01-02"), days))
		items = append(items, map[string]interface{}{
			"position_id": p.ID,
			"symbol":      p.Symbol,
			"kind":        string(p.Kind),
			"strike":      p.Strike,
			"quantity":    p.Quantity,
			"expiry":      p.Expiry.Format(time.RFC3339),
			"days_left":   days,
		})
	}

	return mn.Send(ctx, Notification{
		Type:    NotificationExpiring,
		Title:   fmt.Sprintf("Positions expiring soon: %d", len(sorted)),
		Message: strings.TrimSuffix(sb.String(), "\n"),
		Data:    map[string]interface{}{"positions": items},
	})
}

// SendHedges reports executed hedge trades.
func (mn *MultiNotifier) SendHedges(ctx context.Context, records []models.HedgeRecord) error {
	if len(records) == 0 {
		return nil
	}

	var sb strings.Builder
	var total float64
	for _, r := range records {
		total += r.Cost
		sb.WriteString(fmt.Sprintf("%s %s @ %s (cost %s) for %s\n",
			utils.FormatShares(r.Shares), r.Symbol,
			utils.FormatCurrency(r.Price), utils.FormatCurrency(r.Cost), r.PositionID))
	}

	return mn.Send(ctx, Notification{
		Type:    NotificationHedge,
		Title:   fmt.Sprintf("Hedges executed: %d", len(records)),
		Message: strings.TrimSuffix(sb.String(), "\n"),
		Data: map[string]interface{}{
			"count":      len(records),
			"total_cost": total,
		},
	})
}

// SendError sends an error notification.
func (mn *MultiNotifier) SendError(ctx context.Context, err error, errContext string) error {
	message := fmt.Sprintf("Context: %s\nError: %v", errContext, err)

	return mn.Send(ctx, Notification{
		Type:    NotificationError,
		Title:   "Risk engine error",
		Message: message,
		Data: map[string]interface{}{
			"context": errContext,
			"error":   err.Error(),
		},
	})
}

func formatMetric(metric models.LimitMetric, v float64) string {
	switch metric {
	case models.MetricConcentration:
		return utils.FormatPercent(v * 100)
	case models.MetricPositionSize:
		return fmt.Sprintf("%.0f contracts", v)
	default:
		return fmt.Sprintf("%.2f", v)
	}
}

// LogNotifier writes notifications to a zerolog logger.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logging.WithComponent(logger, "notify")}
}

// Name returns the name of the notifier.
func (l *LogNotifier) Name() string {
	return "log"
}

// IsEnabled returns whether the notifier is enabled.
func (l *LogNotifier) IsEnabled() bool {
	return true
}

// Send logs the notification. Breaches and errors log at warn.
func (l *LogNotifier) Send(_ context.Context, n Notification) error {
	ev := l.logger.Info()
	if n.Type == NotificationBreach || n.Type == NotificationError {
		ev = l.logger.Warn()
	}
	ev.Str("type", string(n.Type)).
		Time("at", n.Timestamp).
		Str("detail", n.Message).
		Msg(n.Title)
	return nil
}
