package commands

import (
	"fmt"
	"strconv"
	"time"

	"pingguard/utils"
)

const (
	defaultExtend     = 15 * time.Minute
	extendReplyExpiry = 30 * time.Second
	clearReplyExpiry  = 10 * time.Second
)

func (s *Set) extend(inv *Invocation) error {
	window := s.deps.Config.GetConfig().Ping.ExtendDefault
	if window <= 0 {
		window = defaultExtend
	}
	if len(inv.Args) > 0 {
		minutes, err := strconv.Atoi(inv.Args[0])
		if err != nil || minutes < 0 {
			_, err := utils.Reply(inv.Ctx, s.deps.Platform, inv.Message,
				"Please enter a numeric value representing the number of minutes to extend.")
			return err
		}
		window = time.Duration(minutes) * time.Minute
	}

	author := inv.Message.Author.ID
	now := s.now()
	ok, err := s.deps.Tracker.Extend(inv.Ctx, author, now, window, true)
	if err != nil {
		return fmt.Errorf("failed to extend ping window: %w", err)
	}
	if !ok {
		return nil
	}

	content := fmt.Sprintf("<@%s>, you'll be able to be pinged until **%s**.\n"+
		"Please note that this command should only be used if you plan on going AFK. "+
		"Once you speak, the timer will reset to **%s** after your last message.",
		author, utils.DiscordTimestamp(now.Add(window), "F"),
		utils.FormatDuration(s.deps.Config.GetConfig().Ping.BlockTimeout))
	sent, err := utils.Reply(inv.Ctx, s.deps.Platform, inv.Message, content)
	if err != nil {
		return err
	}
	utils.DeleteAfter(s.cleanup, s.deps.Platform, sent, extendReplyExpiry, s.logger)
	return nil
}

func (s *Set) clear(inv *Invocation) error {
	author := inv.Message.Author.ID
	ok, err := s.deps.Tracker.Extend(inv.Ctx, author, s.now(), -1, true)
	if err != nil {
		return fmt.Errorf("failed to clear ping window: %w", err)
	}
	if !ok {
		return nil
	}

	sent, err := utils.Reply(inv.Ctx, s.deps.Platform, inv.Message,
		fmt.Sprintf("<@%s>, you'll no longer be able to be pinged.", author))
	if err != nil {
		return err
	}
	utils.DeleteAfter(s.cleanup, s.deps.Platform, sent, clearReplyExpiry, s.logger)
	return nil
}
