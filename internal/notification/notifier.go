// Package notification delivers breakout and reversal alerts to external
// channels (log, webhooks, Telegram).
package notification

import (
	"context"
	"fmt"
	"log"

	"swingtrend/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	Symbol  string     `json:"symbol,omitempty"`
	Event   string     `json:"event,omitempty"`
}

// AlertFromEvent renders a trend event. Reversals are warnings, breakouts info.
func AlertFromEvent(ev model.TrendEvent) Alert {
	a := Alert{
		Level:  AlertInfo,
		Symbol: ev.Symbol,
		Event:  string(ev.Type),
	}
	switch ev.Type {
	case model.EventReversal:
		a.Level = AlertWarning
		a.Title = fmt.Sprintf("%s reversed to %s", ev.Symbol, ev.Trend)
		a.Message = fmt.Sprintf("close %g broke CoC %g at %s; new CoC %g",
			ev.Close, ev.Level, ev.TS.UTC().Format("2006-01-02 15:04"), ev.CoC)
	default:
		a.Title = fmt.Sprintf("%s breakout (%s)", ev.Symbol, ev.Trend)
		a.Message = fmt.Sprintf("close %g through swing level %g at %s; CoC %g",
			ev.Close, ev.Level, ev.TS.UTC().Format("2006-01-02 15:04"), ev.CoC)
	}
	if !ev.Stable {
		a.Message += " (trend not yet stable)"
	}
	return a
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}
