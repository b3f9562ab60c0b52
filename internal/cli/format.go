package cli

import (
	"fmt"
	"math"
	"strings"
	"time"

	"options-risk-engine/internal/models"
)

// FormatPrice formats an option or underlying price.
func FormatPrice(price float64) string {
	if math.Abs(price) >= 10 {
		return fmt.Sprintf("%.2f", price)
	}
	return fmt.Sprintf("%.4f", price)
}

// FormatDate formats a date in UTC.
func FormatDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// FormatDateTime formats a datetime in UTC.
func FormatDateTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		return "-" + FormatDuration(-d)
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	} else if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}

// FormatExpiry formats an expiry with the time remaining.
func FormatExpiry(expiry, now time.Time) string {
	if !expiry.After(now) {
		return FormatDate(expiry) + " (expired)"
	}
	return fmt.Sprintf("%s (%s)", FormatDate(expiry), FormatDuration(expiry.Sub(now)))
}

// FormatIV formats a volatility as a percentage.
func FormatIV(iv float64) string {
	return fmt.Sprintf("%.2f%%", iv*100)
}

// FormatGreek formats a single Greek with sign.
func FormatGreek(v float64) string {
	return fmt.Sprintf("%+.4f", v)
}

// FormatGreeks formats the headline Greeks on one line.
func FormatGreeks(g models.Greeks) string {
	return fmt.Sprintf("Δ: %.4f  Γ: %.4f  Θ: %.4f  ν: %.4f", g.Delta, g.Gamma, g.Theta, g.Vega)
}

// FormatContract describes a position's contract.
func FormatContract(p models.Position) string {
	return fmt.Sprintf("%s %s %s x%+d", p.Symbol, FormatPrice(p.Strike), strings.ToUpper(string(p.Kind)), p.Quantity)
}

// TruncateString truncates a string to max length with ellipsis.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// PadRight pads a string to the right.
func PadRight(s string, length int) string {
	if len(s) >= length {
		return s
	}
	return s + strings.Repeat(" ", length-len(s))
}

// PadLeft pads a string to the left.
func PadLeft(s string, length int) string {
	if len(s) >= length {
		return s
	}
	return strings.Repeat(" ", length-len(s)) + s
}

func formatInt(n int) string {
	return fmt.Sprintf("%d", n)
}

func formatBool(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
