package utils

import (
	"regexp"
	"strings"
)

// MentionKind tells what a parsed mention refers to.
type MentionKind int

const (
	MentionNone MentionKind = iota // a bare id
	MentionUser
	MentionRole
	MentionChannel
)

var (
	mentionRe = regexp.MustCompile(`^<(@&|@!?|#)(\d+)>$`)
	idRe      = regexp.MustCompile(`^\d+$`)
)

// ParseMention reads "<@id>", "<@!id>", "<@&id>", "<#id>" or a bare id.
func ParseMention(arg string) (kind MentionKind, id string, ok bool) {
	arg = strings.TrimSpace(arg)
	if m := mentionRe.FindStringSubmatch(arg); m != nil {
		switch m[1] {
		case "@&":
			return MentionRole, m[2], true
		case "#":
			return MentionChannel, m[2], true
		default:
			return MentionUser, m[2], true
		}
	}
	if idRe.MatchString(arg) {
		return MentionNone, arg, true
	}
	return MentionNone, "", false
}

// ParseBool accepts 1/0, yes/no, y/n and true/false in any case.
func ParseBool(arg string) (value bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(arg)) {
	case "1", "yes", "y", "true":
		return true, true
	case "0", "no", "n", "false":
		return false, true
	}
	return false, false
}
