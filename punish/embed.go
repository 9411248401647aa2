package punish

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"pingguard/model"
	"pingguard/utils"
)

const maxHistoryLines = 10

var titles = map[model.PunishmentType]string{
	model.PunishmentBan:  "You've been banned",
	model.PunishmentMute: "You've been muted",
	model.PunishmentKick: "You've been kicked",
}

func (e *Engine) buildEmbed(v *Verdict, mentions []model.FlaggedMention, history []model.PunishmentHistory) *discordgo.MessageEmbed {
	duration := "the end of time"
	if !v.Indefinite {
		length, _ := v.Rule.Duration()
		duration = fmt.Sprintf("%s (until %s)", utils.FormatDuration(length), utils.DiscordTimestamp(v.EndsAt, "F"))
	}

	peopleOrPerson := "people"
	if len(uniqueUsers(mentions)) == 1 {
		peopleOrPerson = "person"
	}

	embed := &discordgo.MessageEmbed{
		Title:       titles[v.Rule.Type],
		Description: fmt.Sprintf("You pinged the following %s: %s", peopleOrPerson, mentionList(mentions)),
		Color:       utils.ParseHexColor(e.cfg.EmbedColor, utils.ColorRed),
		Timestamp:   e.now().Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Punishment", Value: string(v.Rule.Type), Inline: true},
			{Name: "Duration", Value: duration, Inline: true},
		},
		Footer: &discordgo.MessageEmbedFooter{Text: "C'mon, you know better than this!"},
	}

	if len(history) > 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  fmt.Sprintf("Previous punishments (%d)", len(history)),
			Value: compactHistory(history),
		})
	}
	return embed
}

// compactHistory renders one line per record, newest first.
func compactHistory(history []model.PunishmentHistory) string {
	var b strings.Builder
	for i, h := range history {
		if i == maxHistoryLines {
			fmt.Fprintf(&b, "... and %d more", len(history)-maxHistoryLines)
			break
		}
		fmt.Fprintf(&b, "`#%d` %s", h.ID, utils.DiscordTimestamp(time.Unix(h.CreatedAt, 0), "d"))
		if end, ok := h.EndTime(); ok {
			fmt.Fprintf(&b, " until %s", utils.DiscordTimestamp(end, "d"))
		} else {
			b.WriteString(" indefinite")
		}
		if !h.Active {
			b.WriteString(" (lifted)")
		}
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func uniqueUsers(mentions []model.FlaggedMention) []string {
	seen := make(map[string]bool, len(mentions))
	out := make([]string, 0, len(mentions))
	for _, m := range mentions {
		if !seen[m.User] {
			seen[m.User] = true
			out = append(out, m.User)
		}
	}
	return out
}

func mentionList(mentions []model.FlaggedMention) string {
	users := uniqueUsers(mentions)
	for i, u := range users {
		users[i] = "<@" + u + ">"
	}
	return strings.Join(users, ", ")
}

// HistoryLines renders a user's history for moderator listings.
func HistoryLines(history []model.PunishmentHistory) string {
	if len(history) == 0 {
		return "No punishments on record."
	}
	return compactHistory(history)
}
