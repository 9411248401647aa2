package utils

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"pingguard/platform"
)

type LogLevel string

const (
	Info  LogLevel = "INFO"
	Warn  LogLevel = "WARN"
	Error LogLevel = "ERROR"
)

func getColor(level LogLevel) int {
	switch level {
	case Info:
		return ColorGreen
	case Warn:
		return ColorOrange
	case Error:
		return ColorRed
	default:
		return ColorBlue
	}
}

// LogChannel posts moderator-facing log embeds to a guild channel.
// With an empty channel id every call is a no-op.
type LogChannel struct {
	platform  platform.Platform
	channelID string
	logger    *zap.Logger
}

func NewLogChannel(p platform.Platform, channelID string, logger *zap.Logger) *LogChannel {
	return &LogChannel{platform: p, channelID: channelID, logger: logger.Named("logchannel")}
}

func (l *LogChannel) send(ctx context.Context, level LogLevel, module, operation, extraInfo string) {
	if l == nil || l.channelID == "" {
		return
	}

	embed := &discordgo.MessageEmbed{
		Title:     string(level) + " Log",
		Color:     getColor(level),
		Timestamp: time.Now().Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Module", Value: module, Inline: true},
			{Name: "Operation", Value: operation, Inline: true},
			{Name: "Details", Value: truncate(extraInfo, 1024)},
		},
	}

	_, err := l.platform.Send(ctx, l.channelID, &discordgo.MessageSend{
		Embeds:          []*discordgo.MessageEmbed{embed},
		AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}},
	})
	if err != nil {
		l.logger.Warn("failed to send log embed", zap.String("operation", operation), zap.Error(err))
	}
}

func (l *LogChannel) Info(ctx context.Context, module, operation, extraInfo string) {
	l.send(ctx, Info, module, operation, extraInfo)
}

func (l *LogChannel) Warn(ctx context.Context, module, operation, extraInfo string) {
	l.send(ctx, Warn, module, operation, extraInfo)
}

func (l *LogChannel) Error(ctx context.Context, module, operation, extraInfo string) {
	l.send(ctx, Error, module, operation, extraInfo)
}

func truncate(s string, max int) string {
	if s == "" {
		return "-"
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max-3]) + "..."
}
