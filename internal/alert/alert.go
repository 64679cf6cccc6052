// Package alert delivers cycle outcomes to chat platforms. Adapters for
// Slack and Discord implement the Alerter interface; the Dispatcher
// composes them with the WebSocket hub into the bridge's single notifier.
package alert

import (
	"context"
	"fmt"
	"log"

	"github.com/verdantqa/greenlight/internal/cycle"
	"github.com/verdantqa/greenlight/internal/metrics"
	"github.com/verdantqa/greenlight/internal/status"
)

// Severity classifies an alert for display (sidebar color, embed color).
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
)

// Field is a key-value pair rendered in the alert attachment.
type Field struct {
	Name  string
	Value string
}

// Message is one platform-agnostic alert.
type Message struct {
	Channel  string // platform channel id; empty means adapter default
	Title    string
	Body     string
	Severity Severity
	Fields   []Field
}

// Alerter is the platform adapter contract.
type Alerter interface {
	// Name identifies the platform ("slack", "discord").
	Name() string
	// Send posts one alert. Best-effort from the caller's perspective.
	Send(ctx context.Context, msg Message) error
	// Close releases the platform connection.
	Close() error
}

// ChannelLookup resolves an organization's configured channel for a
// platform. ok=false means the org has not enabled that integration.
type ChannelLookup func(orgID, kind string) (channel string, ok bool)

// Dispatcher implements cycle.Notifier: every event goes to the hub;
// completed cycles additionally go to each enabled chat alerter.
type Dispatcher struct {
	hub      cycle.Notifier
	alerters []Alerter
	lookup   ChannelLookup
}

// NewDispatcher builds a dispatcher. lookup may be nil, in which case every
// alerter posts to its default channel.
func NewDispatcher(hub cycle.Notifier, lookup ChannelLookup, alerters ...Alerter) *Dispatcher {
	return &Dispatcher{hub: hub, alerters: alerters, lookup: lookup}
}

// Publish forwards the event to the hub and, when the cycle just reached a
// terminal state, fans an alert out to chat. Chat failures are logged and
// never surfaced: the hub delivery is the contract, chat is garnish.
func (d *Dispatcher) Publish(orgID string, ev cycle.Event) error {
	err := d.hub.Publish(orgID, ev)

	if ev.Status == status.CycleCompleted {
		msg := composeCompletion(ev)
		for _, a := range d.alerters {
			msg.Channel = ""
			if d.lookup != nil {
				ch, ok := d.lookup(orgID, a.Name())
				if !ok {
					continue
				}
				msg.Channel = ch
			}
			if sendErr := a.Send(context.Background(), msg); sendErr != nil {
				log.Printf("alert: %s send for cycle %s: %v", a.Name(), ev.CycleID, sendErr)
				metrics.RecordNotifyFailure(a.Name())
			}
		}
	}
	return err
}

// composeCompletion renders a completed cycle as an alert message.
func composeCompletion(ev cycle.Event) Message {
	sev := SeveritySuccess
	title := fmt.Sprintf("Cycle %q completed: all green", ev.CycleName)
	if ev.Summary.Failed > 0 {
		sev = SeverityError
		title = fmt.Sprintf("Cycle %q completed with %d failure(s)", ev.CycleName, ev.Summary.Failed)
	}
	return Message{
		Title:    title,
		Body:     fmt.Sprintf("%d/%d passed", ev.Summary.Passed, ev.Summary.Total),
		Severity: sev,
		Fields: []Field{
			{Name: "Total", Value: fmt.Sprintf("%d", ev.Summary.Total)},
			{Name: "Passed", Value: fmt.Sprintf("%d", ev.Summary.Passed)},
			{Name: "Failed", Value: fmt.Sprintf("%d", ev.Summary.Failed)},
			{Name: "Automation", Value: fmt.Sprintf("%d%%", ev.Summary.AutomationRate)},
		},
	}
}
