// Package platform defines the narrow contracts the review controller needs from the chat
// platform. The discord sub-package implements them over a gateway session and
// platformtest provides an in-memory fake.
package platform

import (
	"context"
	"errors"
	"time"

	"github.com/dyluth/warden/internal/roles"
)

var (
	// ErrNotFound is returned when a thread, message or member does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when the bot lacks permission for the call.
	ErrForbidden = errors.New("forbidden")
)

// IsPermanent reports errors that retrying cannot fix.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrForbidden)
}

// Member is a point-in-time view of a guild member.
type Member struct {
	ID            string
	Username      string
	DisplayName   string
	Roles         roles.Set
	Bot           bool
	Administrator bool
}

// Thread is a point-in-time view of a thread.
type Thread struct {
	ID        string
	ParentID  string
	Name      string
	Archived  bool
	Locked    bool
	CreatedAt time.Time
}

// Attachment is a file attached to a message.
type Attachment struct {
	Filename string
	URL      string
	Size     int
}

// Message is a message read back from a thread.
type Message struct {
	ID          string
	AuthorID    string
	AuthorName  string
	AuthorBot   bool
	Content     string
	System      bool
	Attachments []Attachment
	Embeds      int
	Components  []string // custom ids of buttons on the message
	CreatedAt   time.Time
}

// Button is an interactive button on an outgoing message.
type Button struct {
	CustomID string
	Label    string
	Style    ButtonStyle
}

// ButtonStyle selects the rendering of a button.
type ButtonStyle int

const (
	ButtonPrimary ButtonStyle = iota + 1
	ButtonSecondary
	ButtonSuccess
	ButtonDanger
)

// Embed is a rich message block.
type Embed struct {
	Title       string
	Description string
	Color       int
	Footer      string
}

// File is an attachment to upload with an outgoing message.
type File struct {
	Name string
	URL  string // source to copy from
}

// OutgoingMessage is a message to send.
type OutgoingMessage struct {
	Content          string
	Embeds           []Embed
	Buttons          []Button
	Files            []File
	SuppressMentions bool
}

// Threads manages review threads.
type Threads interface {
	CreateThread(ctx context.Context, channelID, name string) (Thread, error)
	Thread(ctx context.Context, threadID string) (Thread, error)
	DeleteThread(ctx context.Context, threadID string) error
	RenameThread(ctx context.Context, threadID, name string) error
	SetArchived(ctx context.Context, threadID string, archived bool) error
	SetLocked(ctx context.Context, threadID string, locked bool) error
	// ListThreads returns active and archived threads under a channel.
	ListThreads(ctx context.Context, channelID string) ([]Thread, error)
	ThreadMembers(ctx context.Context, threadID string) ([]string, error)
	AddThreadMember(ctx context.Context, threadID, userID string) error
	RemoveThreadMember(ctx context.Context, threadID, userID string) error
}

// Members reads and adjusts guild members.
type Members interface {
	Member(ctx context.Context, userID string) (Member, error)
	// Members lists every guild member. Large guilds are paged by the implementation.
	Members(ctx context.Context) ([]Member, error)
	AddRole(ctx context.Context, userID, roleID string) error
	RemoveRole(ctx context.Context, userID, roleID string) error
}

// Messenger reads and writes channel and thread messages.
type Messenger interface {
	// Messages returns up to limit messages older than before ("" for newest), newest first.
	Messages(ctx context.Context, channelID string, limit int, before string) ([]Message, error)
	Send(ctx context.Context, channelID string, msg OutgoingMessage) (string, error)
	Edit(ctx context.Context, channelID, messageID string, msg OutgoingMessage) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
}

// Platform is everything the controller needs.
type Platform interface {
	Threads
	Members
	Messenger
	// SelfID is the bot's own user id.
	SelfID() string
}

// MessagePageSize is the largest page the platform returns.
const MessagePageSize = 100

// History reads a channel's full history oldest-first, skipping nothing.
func History(ctx context.Context, m Messenger, channelID string) ([]Message, error) {
	var all []Message
	before := ""
	for {
		page, err := m.Messages(ctx, channelID, MessagePageSize, before)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < MessagePageSize {
			break
		}
		before = page[len(page)-1].ID
	}
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	return all, nil
}
