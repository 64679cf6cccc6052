package alert

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// severityEmbedColors maps severities to Discord embed colors.
var severityEmbedColors = map[Severity]int{
	SeverityInfo:    0x439fe0,
	SeveritySuccess: 0x36a64f,
	SeverityError:   0xd00000,
}

// discordSession abstracts the discordgo methods we use, enabling test mocks.
type discordSession interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	Close() error
}

// DiscordAlerter posts cycle alerts to a Discord channel as embeds.
type DiscordAlerter struct {
	session discordSession
	channel string // default channel
}

// DiscordOpts holds parameters for creating a DiscordAlerter.
type DiscordOpts struct {
	Token   string
	Channel string
	// For testing: inject a mock session instead of a real gateway session.
	Session discordSession
}

// NewDiscord creates a Discord alerter.
func NewDiscord(opts DiscordOpts) (*DiscordAlerter, error) {
	if opts.Session == nil && opts.Token == "" {
		return nil, fmt.Errorf("alert: discord token is required")
	}
	if opts.Channel == "" {
		return nil, fmt.Errorf("alert: discord channel is required")
	}
	session := opts.Session
	if session == nil {
		s, err := discordgo.New("Bot " + opts.Token)
		if err != nil {
			return nil, fmt.Errorf("alert: discord session: %w", err)
		}
		session = s
	}
	return &DiscordAlerter{session: session, channel: opts.Channel}, nil
}

// Name implements Alerter.
func (d *DiscordAlerter) Name() string { return "discord" }

// Send posts the message as one embed.
func (d *DiscordAlerter) Send(ctx context.Context, msg Message) error {
	channel := msg.Channel
	if channel == "" {
		channel = d.channel
	}

	fields := make([]*discordgo.MessageEmbedField, 0, len(msg.Fields))
	for _, f := range msg.Fields {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: true,
		})
	}
	embed := &discordgo.MessageEmbed{
		Title:       msg.Title,
		Description: msg.Body,
		Color:       severityEmbedColors[msg.Severity],
		Fields:      fields,
	}

	if _, err := d.session.ChannelMessageSendEmbed(channel, embed, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("alert: discord post to %s: %w", channel, err)
	}
	return nil
}

// Close implements Alerter.
func (d *DiscordAlerter) Close() error {
	return d.session.Close()
}
