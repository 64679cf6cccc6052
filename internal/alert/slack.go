package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	slackapi "github.com/slack-go/slack"
)

// severityColors maps severities to Slack attachment sidebar colors.
var severityColors = map[Severity]string{
	SeverityInfo:    "#439fe0",
	SeveritySuccess: "#36a64f",
	SeverityError:   "#d00000",
}

// slackMaxRetries bounds retries of rate-limited PostMessage calls.
const slackMaxRetries = 3

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// SlackAlerter posts cycle alerts to a Slack channel.
type SlackAlerter struct {
	client  slackClient
	channel string // default channel
}

// SlackOpts holds parameters for creating a SlackAlerter.
type SlackOpts struct {
	Token   string
	Channel string
	// For testing: inject a mock client instead of the real Slack API.
	Client slackClient
}

// NewSlack creates a Slack alerter.
func NewSlack(opts SlackOpts) (*SlackAlerter, error) {
	if opts.Client == nil && opts.Token == "" {
		return nil, fmt.Errorf("alert: slack token is required")
	}
	if opts.Channel == "" {
		return nil, fmt.Errorf("alert: slack channel is required")
	}
	client := opts.Client
	if client == nil {
		client = slackapi.New(opts.Token)
	}
	return &SlackAlerter{client: client, channel: opts.Channel}, nil
}

// Name implements Alerter.
func (s *SlackAlerter) Name() string { return "slack" }

// Send posts the message as a single attachment, honoring Slack's
// rate-limit retry hints.
func (s *SlackAlerter) Send(ctx context.Context, msg Message) error {
	channel := msg.Channel
	if channel == "" {
		channel = s.channel
	}

	fields := make([]slackapi.AttachmentField, 0, len(msg.Fields))
	for _, f := range msg.Fields {
		fields = append(fields, slackapi.AttachmentField{Title: f.Name, Value: f.Value, Short: true})
	}
	attachment := slackapi.Attachment{
		Color:  severityColors[msg.Severity],
		Title:  msg.Title,
		Text:   msg.Body,
		Fields: fields,
	}

	var err error
	for attempt := 0; attempt <= slackMaxRetries; attempt++ {
		_, _, err = s.client.PostMessageContext(ctx, channel,
			slackapi.MsgOptionAttachments(attachment))
		if err == nil {
			return nil
		}
		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			break
		}
		select {
		case <-time.After(rle.RetryAfter):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("alert: slack post to %s: %w", channel, err)
}

// Close implements Alerter. The web API client holds no connection.
func (s *SlackAlerter) Close() error { return nil }
