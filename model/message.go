package model

// MessageKind classifies an inbound message once, before any component sees it.
type MessageKind int

const (
	// KindPlain is an ordinary chat message.
	KindPlain MessageKind = iota
	// KindCommand is a recognised command invocation.
	KindCommand
	// KindModeratorCommand is a recognised command sent by someone allowed to moderate.
	KindModeratorCommand
)

func (k MessageKind) IsCommand() bool {
	return k == KindCommand || k == KindModeratorCommand
}

func (k MessageKind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindModeratorCommand:
		return "moderator_command"
	default:
		return "plain"
	}
}

// FlaggedMention is a protected mention found in a single message.
// Role is empty when the user was flagged directly.
type FlaggedMention struct {
	User string
	Role string
	Type TargetType
}

// Key returns the rule-cache key the mention is governed by.
func (m FlaggedMention) Key() string {
	if m.Type == TargetRole {
		return m.Role
	}
	return m.User
}
