package platform

import (
	"context"

	"github.com/dyluth/warden/internal/roles"
)

// MemberUpdate is delivered when a member's roles or nickname change.
// Before is nil when the previous state was not cached.
type MemberUpdate struct {
	Member Member
	Before roles.Set
}

// MemberRemove is delivered when a member leaves the guild.
type MemberRemove struct {
	UserID   string
	Username string
}

// ThreadUpdate is delivered when a thread's name or archive/lock state changes.
// Before is nil when the previous state was not cached.
type ThreadUpdate struct {
	Before *Thread
	After  Thread
}

// ThreadDelete is delivered when a thread is deleted.
type ThreadDelete struct {
	ThreadID string
	ParentID string
}

// InteractionKind distinguishes button clicks from slash commands.
type InteractionKind int

const (
	InteractionButton InteractionKind = iota + 1
	InteractionCommand
)

// Interaction is a button click or slash command.
type Interaction struct {
	Kind      InteractionKind
	CustomID  string // buttons
	Command   string // commands
	Options   map[string]string
	ChannelID string
	MessageID string // message carrying the clicked button
	User      Member
}

// BoolOption reads a boolean command option.
func (i Interaction) BoolOption(name string) bool {
	return i.Options[name] == "true"
}

// Responder answers an interaction. Defer must be called before Reply.
type Responder interface {
	Defer(ctx context.Context, ephemeral bool) error
	Reply(ctx context.Context, content string) error
}

// EventHandler receives translated gateway events.
type EventHandler interface {
	OnReady(ctx context.Context)
	OnMemberUpdate(ctx context.Context, ev MemberUpdate)
	OnMemberRemove(ctx context.Context, ev MemberRemove)
	OnThreadUpdate(ctx context.Context, ev ThreadUpdate)
	OnThreadDelete(ctx context.Context, ev ThreadDelete)
	OnInteraction(ctx context.Context, in Interaction, r Responder)
}

// Command is a slash command registration.
type Command struct {
	Name        string
	Description string
	BoolOptions map[string]string // option name → description
	AdminOnly   bool
}
