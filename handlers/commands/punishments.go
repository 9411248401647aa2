package commands

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"pingguard/metrics"
	"pingguard/model"
	"pingguard/punish"
	"pingguard/utils"
)

const (
	maxPriorityIndex = 10000
	embedsPerMessage = 10
	historyPerEmbed  = 10
)

const internalErrorText = "An error occurred while trying to %s the punishment.\n" +
	"Please notify a developer so that we can check the internal logs"

var errNoArgs = errors.New("there are no more arguments")

func (s *Set) punishments(inv *Invocation) error {
	sub := "help"
	if len(inv.Args) > 0 {
		sub = strings.ToLower(inv.Args[0])
		inv.Args = inv.Args[1:]
	}

	switch sub {
	case "list":
		return s.listRules(inv)
	case "create":
		return s.createRule(inv)
	case "remove":
		return s.removeRule(inv)
	case "for":
		return s.historyFor(inv)
	case "pardon":
		return s.pardon(inv)
	default:
		return s.send(inv, "", s.helpEmbed())
	}
}

func (s *Set) send(inv *Invocation, content string, embeds ...*discordgo.MessageEmbed) error {
	_, err := s.deps.Platform.Send(inv.Ctx, inv.Message.ChannelID, &discordgo.MessageSend{
		Content:         content,
		Embeds:          embeds,
		AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}},
	})
	return err
}

func (s *Set) reloadRules(inv *Invocation) {
	if err := s.deps.Rules.Load(inv.Ctx, s.deps.Store); err != nil {
		s.logger.Error("failed to reload punishment rules", zap.Error(err))
		return
	}
	metrics.RulesLoaded.Set(float64(s.deps.Rules.Len()))
}

func (s *Set) listRules(inv *Invocation) error {
	s.reloadRules(inv)

	var embeds []*discordgo.MessageEmbed
	for _, target := range []model.TargetType{model.TargetRole, model.TargetUser} {
		keys := s.deps.Rules.BlockedUserKeys()
		if target == model.TargetRole {
			keys = s.deps.Rules.BlockedRoleKeys()
		}
		keys = append([]string(nil), keys...)
		sort.Strings(keys)
		for _, k := range keys {
			standard, lenient := s.deps.Rules.Entry(target, k)
			if len(standard)+len(lenient) == 0 {
				continue
			}
			embeds = append(embeds, ruleListEmbed(target, k, standard, lenient))
		}
	}

	if len(embeds) == 0 {
		return s.send(inv, fmt.Sprintf("There are no punishments set up.\n"+
			"Run the command `%spunishments create` to learn how to create punishments.", s.prefix()))
	}

	content := "Here is a list of punishments that can be given out, broken down by user and role."
	for len(embeds) > 0 {
		n := min(embedsPerMessage, len(embeds))
		if err := s.send(inv, content, embeds[:n]...); err != nil {
			return err
		}
		embeds = embeds[n:]
		content = ""
	}
	return nil
}

func ruleListEmbed(target model.TargetType, key string, standard, lenient []model.PunishmentRule) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("Punishments for pinging %s", target),
		Description: "The following punishments are in order based on their **Priority Index**. This is the order in which punishments are handed out.",
		Color:       utils.ColorOrange,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Applies to:", Value: fmt.Sprintf("**%s %s**", target, mentionOf(target, key))},
			{Name: "Lenient Punishments", Value: ruleLines(lenient), Inline: true},
			{Name: "Standard Punishments", Value: ruleLines(standard), Inline: true},
		},
	}
}

func ruleLines(rules []model.PunishmentRule) string {
	if len(rules) == 0 {
		return "No punishments found."
	}
	lines := make([]string, 0, len(rules))
	for _, r := range rules {
		length := "eternity"
		if d, ok := r.Duration(); ok {
			length = utils.FormatDuration(d)
		}
		lines = append(lines, fmt.Sprintf("*#%d*, **%s** for ___%s___", r.PriorityIndex, r.Type, length))
	}
	return strings.Join(lines, "\n")
}

func mentionOf(target model.TargetType, key string) string {
	if target == model.TargetRole {
		return "<@&" + key + ">"
	}
	return "<@" + key + ">"
}

type ruleArgs struct {
	index   int
	kind    model.PunishmentType
	target  model.TargetType
	key     string
	lenient bool
	length  time.Duration
}

// parseRuleArgs reads "[index] [type]? [target] [key] [lenient] [length]?".
// The type and length are only read when withType is set.
func parseRuleArgs(args []string, withType bool) (ruleArgs, error) {
	var out ruleArgs
	next := func() (string, error) {
		if len(args) == 0 {
			return "", errNoArgs
		}
		a := args[0]
		args = args[1:]
		return a, nil
	}

	a, err := next()
	if err != nil {
		return out, err
	}
	out.index, err = strconv.Atoi(a)
	if err != nil || out.index < 0 || out.index > maxPriorityIndex {
		return out, fmt.Errorf("index must be numeric, between 0 and %d", maxPriorityIndex)
	}

	if withType {
		if a, err = next(); err != nil {
			return out, err
		}
		if out.kind, err = model.ParsePunishmentType(a); err != nil {
			return out, err
		}
	}

	if a, err = next(); err != nil {
		return out, err
	}
	if out.target, err = model.ParseTargetType(a); err != nil {
		return out, err
	}

	if a, err = next(); err != nil {
		return out, err
	}
	kind, id, ok := utils.ParseMention(a)
	if !ok || kind == utils.MentionChannel {
		return out, errors.New("punishment target key must be a mention or an id")
	}
	out.key = id

	if a, err = next(); err != nil {
		return out, err
	}
	if out.lenient, ok = utils.ParseBool(a); !ok {
		return out, errors.New("punishment leniency must be yes, no, true or false")
	}

	if withType {
		if a, err = next(); err == nil {
			d, perr := utils.ParseDuration(a)
			if perr != nil || d < 0 {
				return out, errors.New("punishment length must be a number of minutes or a duration like 2h or 7d")
			}
			if d == 0 {
				return out, errors.New("punishment length must be above zero, leave it out for an indefinite punishment")
			}
			out.length = d
		}
	}
	return out, nil
}

func argError(err error) string {
	if errors.Is(err, errNoArgs) {
		return ""
	}
	return err.Error()
}

func (s *Set) createRule(inv *Invocation) error {
	args, err := parseRuleArgs(inv.Args, true)
	if err != nil {
		return s.send(inv, argError(err), s.createHelpEmbed())
	}

	rule := model.PunishmentRule{
		PriorityIndex: args.index,
		Type:          args.kind,
		Target:        args.target,
		TargetKey:     args.key,
		Lenient:       args.lenient,
		Length:        model.LengthFromDuration(args.length),
	}
	if _, err := s.deps.Store.CreateRule(inv.Ctx, rule); err != nil {
		s.logger.Error("failed to create punishment rule", zap.Any("rule", rule), zap.Error(err))
		return s.send(inv, fmt.Sprintf(internalErrorText, "create"))
	}
	if rule.Target == model.TargetUser {
		if _, err := s.deps.Store.InitializeUsers(inv.Ctx, []string{rule.TargetKey}); err != nil {
			s.logger.Warn("failed to initialize monitored user", zap.String("user", rule.TargetKey), zap.Error(err))
		}
	}
	s.reloadRules(inv)

	length := "indefinite"
	if d, ok := rule.Duration(); ok {
		length = utils.FormatDuration(d)
	}
	_, err = utils.Reply(inv.Ctx, s.deps.Platform, inv.Message, fmt.Sprintf(
		"Successfully added punishment to %s %s.\n```Punishment Type: %s\nPunishment Target: %s\n"+
			"Punishment Target Key: %s\nPunishment is lenient: %t\nPunishment length: %s\n```",
		rule.Target, mentionOf(rule.Target, rule.TargetKey),
		rule.Type, rule.Target, rule.TargetKey, rule.Lenient, length))
	return err
}

func (s *Set) removeRule(inv *Invocation) error {
	args, err := parseRuleArgs(inv.Args, false)
	if err != nil {
		return s.send(inv, argError(err), s.removeHelpEmbed())
	}

	removed, err := s.deps.Store.RemoveRule(inv.Ctx, args.index, args.target, args.key, args.lenient)
	if err != nil {
		s.logger.Error("failed to remove punishment rule", zap.Error(err))
		return s.send(inv, fmt.Sprintf(internalErrorText, "remove"))
	}
	s.reloadRules(inv)

	content := fmt.Sprintf("Successfully removed punishment for %s %s.", args.target, mentionOf(args.target, args.key))
	if !removed {
		content = fmt.Sprintf("There is no active punishment #%d for %s %s.", args.index, args.target, mentionOf(args.target, args.key))
	}
	_, err = utils.Reply(inv.Ctx, s.deps.Platform, inv.Message, content)
	return err
}

func (s *Set) historyFor(inv *Invocation) error {
	var userID string
	if len(inv.Args) > 0 {
		if kind, id, ok := utils.ParseMention(inv.Args[0]); ok && (kind == utils.MentionUser || kind == utils.MentionNone) {
			userID = id
		}
	}
	if userID == "" {
		return s.send(inv, fmt.Sprintf("An invalid user was provided.\nUsage: `%spunishments for (@user|User ID)`", s.prefix()))
	}

	now := s.now()
	history, err := s.deps.Store.HistoryByUser(inv.Ctx, userID, true, true, now)
	if err != nil {
		return fmt.Errorf("failed to load punishment history for %s: %w", userID, err)
	}

	// stored newest first, listed in the order they were given
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}

	content := fmt.Sprintf("Here is a list of punishments for <@%s>.", userID)
	if len(history) == 0 {
		return s.send(inv, content, historyEmbed(userID, nil, 0, now))
	}
	for start := 0; start < len(history); start += historyPerEmbed {
		end := min(start+historyPerEmbed, len(history))
		if err := s.send(inv, content, historyEmbed(userID, history[start:end], start, now)); err != nil {
			return err
		}
		content = ""
	}
	return nil
}

func historyEmbed(userID string, history []model.PunishmentHistory, offset int, now time.Time) *discordgo.MessageEmbed {
	desc := "The following is a list of punishments in order in which they were given. This includes expired and completed punishments."
	if len(history) == 0 {
		desc += "\n\n" + punish.HistoryLines(nil)
	}
	embed := &discordgo.MessageEmbed{
		Title:       "Ping punishments",
		Description: fmt.Sprintf("<@%s>\n%s", userID, desc),
		Color:       utils.ColorRed,
	}

	for i, h := range history {
		name := fmt.Sprintf("Punishment #%d (id %d)", offset+i+1, h.ID)
		if !h.Active || h.Ended(now) {
			name += " ___*No Longer Active*___"
		}
		ends, expires := "**the end of time**", "**the end of time**"
		if t, ok := h.EndTime(); ok {
			ends = utils.DiscordTimestamp(t, "f")
		}
		if t, ok := h.ExpiryTime(); ok {
			expires = utils.DiscordTimestamp(t, "f")
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name: name,
			Value: fmt.Sprintf("Punishment Given at %s\nPunishment Completes at %s\nPunishment Expires at %s",
				utils.DiscordTimestamp(time.Unix(h.CreatedAt, 0), "f"), ends, expires),
		})
	}
	return embed
}

func (s *Set) pardon(inv *Invocation) error {
	var id int64 = -1
	if len(inv.Args) > 0 {
		if v, err := strconv.ParseInt(inv.Args[0], 10, 64); err == nil {
			id = v
		}
	}
	if id < 0 {
		return s.send(inv, fmt.Sprintf("Usage: `%spunishments pardon [punishment id]`\n"+
			"The id is listed by `%spunishments for @user`.", s.prefix(), s.prefix()))
	}

	rec, err := s.deps.Pardoner.Pardon(inv.Ctx, id)
	if err != nil {
		s.logger.Warn("failed to pardon punishment", zap.Int64("history", id), zap.Error(err))
		_, rerr := utils.Reply(inv.Ctx, s.deps.Platform, inv.Message, fmt.Sprintf("Could not lift punishment %d.", id))
		return rerr
	}
	_, err = utils.Reply(inv.Ctx, s.deps.Platform, inv.Message,
		fmt.Sprintf("Punishment %d for <@%s> has been lifted.", rec.ID, rec.UserID))
	return err
}

func (s *Set) helpEmbed() *discordgo.MessageEmbed {
	p := s.prefix()
	return &discordgo.MessageEmbed{
		Title: p + "punishments Walkthrough",
		Description: fmt.Sprintf("There are a few commands to be aware of.\n\n"+
			"Returns this embed.\n```%[1]spunishments help```\n"+
			"Returns a single embed for each role or user that has ping protection.\n```%[1]spunishments list```\n"+
			"Returns all punishments that the selected user has received by the bot.\n```%[1]spunishments for @user```\n"+
			"Allows you to create new punishments.\n```%[1]spunishments create [options]```\n"+
			"Allows you to remove an existing punishment.\n```%[1]spunishments remove [options]```\n"+
			"Lifts a punishment early.\n```%[1]spunishments pardon [punishment id]```", p),
		Color: 0xFEE75C,
	}
}

func (s *Set) createHelpEmbed() *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title: "How To Create A Punishment",
		Description: fmt.Sprintf("Use the following structure to create a punishment.\n"+
			"`%spunishments create [PriorityIndex] [Type] [Target] [TargetKey] [Lenient] [Length?]`", s.prefix()),
		Color: utils.ColorGreen,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Priority Index", Value: fmt.Sprintf("`Numeric, [0 - %d]` (lower number means punishment is given first)", maxPriorityIndex)},
			{Name: "Type", Value: "`Ban | Mute | Kick` (the type of punishment)"},
			{Name: "Target", Value: "`Role | User` (role means anyone with the role will have ping protection)"},
			{Name: "Target Key", Value: "`@user | @role | Role ID | User ID`"},
			{Name: "Lenient", Value: "`yes | no | true | false` (lenient punishments are given to members holding a lenient role)"},
			{Name: "Length *(optional)*", Value: "`minutes | 2h | 7d` The length of the punishment.\n**If blank, the punishment is indefinite**"},
		},
		Footer: &discordgo.MessageEmbedFooter{Text: "If you have any questions, get in touch with the developers."},
	}
}

func (s *Set) removeHelpEmbed() *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title: "How To Remove A Punishment",
		Description: fmt.Sprintf("Use the following structure to remove a punishment.\n"+
			"`%spunishments remove [PriorityIndex] [Target] [TargetKey] [Lenient]`\n"+
			"**Please Note:** removing a punishment does **not** affect punishment history at all.", s.prefix()),
		Color: utils.ColorRed,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Priority Index", Value: fmt.Sprintf("`Numeric, [0 - %d]`", maxPriorityIndex)},
			{Name: "Target", Value: "`Role | User`"},
			{Name: "Target Key", Value: "`@user | @role | Role ID | User ID`"},
			{Name: "Lenient", Value: "`yes | no | true | false`"},
		},
		Footer: &discordgo.MessageEmbedFooter{Text: "If you have any questions, get in touch with the developers."},
	}
}
