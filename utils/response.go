package utils

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"pingguard/platform"
	"pingguard/utils/debounce"
)

const deleteTimeout = 10 * time.Second

// Reply answers msg in its channel without pinging anyone.
func Reply(ctx context.Context, p platform.Platform, msg *discordgo.Message, content string) (*discordgo.Message, error) {
	return p.Send(ctx, msg.ChannelID, &discordgo.MessageSend{
		Content:         content,
		Reference:       msg.Reference(),
		AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}},
	})
}

// DeleteAfter removes sent once after has passed. Scheduling it again
// restarts the wait.
func DeleteAfter(sched *debounce.Scheduler, p platform.Platform, sent *discordgo.Message, after time.Duration, logger *zap.Logger) {
	if sent == nil {
		return
	}
	channelID, messageID := sent.ChannelID, sent.ID
	sched.Schedule(channelID+"/"+messageID, after, func() {
		ctx, cancel := context.WithTimeout(context.Background(), deleteTimeout)
		defer cancel()
		if err := p.DeleteMessage(ctx, channelID, messageID); err != nil {
			logger.Warn("failed to delete temporary message", zap.String("message", messageID), zap.Error(err))
		}
	})
}
