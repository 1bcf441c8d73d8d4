package faults

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sglre6355/gatebot/internal/interaction"
)

// LogSink writes forwarded records to the default logger.
type LogSink struct{}

// Send implements Sink.
func (LogSink) Send(ctx context.Context, rec Record) error {
	level := slog.LevelWarn
	if rec.Severity >= SeverityHigh {
		level = slog.LevelError
	}
	slog.Log(ctx, level, "fault reported",
		"hash", rec.Hash,
		"category", string(rec.Category),
		"origin", rec.Origin,
		"severity", rec.Severity.String(),
		"recoverable", rec.Recoverable,
		"count", rec.Count,
		"error", rec.Message,
	)
	return nil
}

// ChannelSender is the discordgo.Session method used by ChannelSink.
type ChannelSender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// ChannelSink posts forwarded records to a Discord channel read by operators.
type ChannelSink struct {
	sender    ChannelSender
	channelID string
}

// NewChannelSink creates a ChannelSink posting to channelID.
func NewChannelSink(sender ChannelSender, channelID string) *ChannelSink {
	return &ChannelSink{sender: sender, channelID: channelID}
}

// Send implements Sink.
func (s *ChannelSink) Send(ctx context.Context, rec Record) error {
	_, err := s.sender.ChannelMessageSendEmbed(s.channelID, Embed(rec), discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to post fault to channel %s: %w", s.channelID, err)
	}
	return nil
}

const (
	maxFieldLength       = 1024
	maxDescriptionLength = 4096
)

// Embed renders a record for operators. It includes the hash and stack,
// which must never reach end users.
func Embed(rec Record) *discordgo.MessageEmbed {
	fields := []*discordgo.MessageEmbedField{
		{Name: "Category", Value: string(rec.Category), Inline: true},
		{Name: "Origin", Value: fallback(rec.Origin, "unknown"), Inline: true},
		{Name: "Occurrences", Value: strconv.Itoa(rec.Count), Inline: true},
		{Name: "Recoverable", Value: strconv.FormatBool(rec.Recoverable), Inline: true},
		{Name: "Hash", Value: "`" + rec.Hash + "`", Inline: true},
	}
	if len(rec.Hints) > 0 {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:  "Hints",
			Value: truncate("- "+strings.Join(rec.Hints, "\n- "), maxFieldLength),
		})
	}
	if rec.Stack != "" {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:  "Stack",
			Value: "```\n" + truncate(rec.Stack, maxFieldLength-12) + "\n```",
		})
	}

	return &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("[%s] %s fault", strings.ToUpper(rec.Severity.String()), rec.Category),
		Description: truncate(rec.Message, maxDescriptionLength),
		Color:       severityColor(rec.Severity),
		Fields:      fields,
		Timestamp:   rec.LastSeen.Format(time.RFC3339),
	}
}

func severityColor(s Severity) int {
	switch s {
	case SeverityLow:
		return interaction.ColorInfo
	case SeverityMedium:
		return interaction.ColorWarning
	default:
		return interaction.ColorError
	}
}

func fallback(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
