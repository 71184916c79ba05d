// Package platformtest provides an in-memory platform.Platform with fault injection
// and an operation log for tests.
package platformtest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dyluth/warden/internal/platform"
	"github.com/dyluth/warden/internal/roles"
)

// Op is one recorded mutating call.
type Op struct {
	Name string
	Args []string
}

func (o Op) String() string {
	return o.Name + "(" + strings.Join(o.Args, ",") + ")"
}

type thread struct {
	platform.Thread
	members map[string]struct{}
}

// Fake is a thread-safe in-memory platform.
type Fake struct {
	mu       sync.Mutex
	selfID   string
	nextID   int64
	threads  map[string]*thread
	members  map[string]platform.Member
	messages map[string][]platform.Message // channel → oldest first
	faults   map[string][]error
	ops      []Op

	// OnDelete, when set, is called after a thread is deleted (outside the lock).
	OnDelete func(threadID, parentID string)
	// Hook, when set, runs before every call with the operation name and arguments.
	// Returning an error fails the call.
	Hook func(op string, args ...string) error
}

var _ platform.Platform = (*Fake)(nil)

// New creates an empty fake whose bot user is selfID.
func New(selfID string) *Fake {
	return &Fake{
		selfID:   selfID,
		nextID:   1000,
		threads:  make(map[string]*thread),
		members:  make(map[string]platform.Member),
		messages: make(map[string][]platform.Message),
		faults:   make(map[string][]error),
	}
}

// Fail queues err to be returned by the next call of op.
func (f *Fake) Fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults[op] = append(f.faults[op], err)
}

// FailTimes queues err for the next n calls of op.
func (f *Fake) FailTimes(op string, err error, n int) {
	for i := 0; i < n; i++ {
		f.Fail(op, err)
	}
}

// call must be invoked without f.mu held.
func (f *Fake) call(op string, args ...string) error {
	if f.Hook != nil {
		if err := f.Hook(op, args...); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if q := f.faults[op]; len(q) > 0 {
		f.faults[op] = q[1:]
		return q[0]
	}
	return nil
}

func (f *Fake) record(op string, args ...string) {
	f.ops = append(f.ops, Op{Name: op, Args: args})
}

func (f *Fake) id() string {
	f.nextID++
	return strconv.FormatInt(f.nextID, 10)
}

// Ops returns the recorded mutating calls.
func (f *Fake) Ops() []Op {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Op(nil), f.ops...)
}

// CountOps counts recorded calls named op.
func (f *Fake) CountOps(op string) int {
	n := 0
	for _, o := range f.Ops() {
		if o.Name == op {
			n++
		}
	}
	return n
}

// ResetOps clears the operation log.
func (f *Fake) ResetOps() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = nil
}

// SelfID implements platform.Platform.
func (f *Fake) SelfID() string { return f.selfID }

// AddMember adds or replaces a guild member.
func (f *Fake) AddMember(id, displayName string, roleIDs ...string) platform.Member {
	m := platform.Member{ID: id, Username: strings.ToLower(displayName), DisplayName: displayName, Roles: roles.NewSet(roleIDs...)}
	f.PutMember(m)
	return m
}

// PutMember adds or replaces a guild member.
func (f *Fake) PutMember(m platform.Member) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m.Roles == nil {
		m.Roles = roles.NewSet()
	}
	f.members[m.ID] = m
}

// SetRoles replaces a member's roles.
func (f *Fake) SetRoles(userID string, roleIDs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.members[userID]
	m.Roles = roles.NewSet(roleIDs...)
	f.members[userID] = m
}

// RemoveMember removes a member from the guild.
func (f *Fake) RemoveMember(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.members, userID)
}

// SeedThread creates a thread directly without recording an operation.
func (f *Fake) SeedThread(parentID, name string, archived, locked bool, memberIDs ...string) platform.Thread {
	f.mu.Lock()
	defer f.mu.Unlock()
	th := &thread{
		Thread:  platform.Thread{ID: f.id(), ParentID: parentID, Name: name, Archived: archived, Locked: locked, CreatedAt: time.Now()},
		members: make(map[string]struct{}),
	}
	for _, id := range memberIDs {
		th.members[id] = struct{}{}
	}
	f.threads[th.ID] = th
	return th.Thread
}

// SeedMessage appends a message to a channel without recording an operation.
func (f *Fake) SeedMessage(channelID string, msg platform.Message) platform.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg.ID == "" {
		msg.ID = f.id()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	f.messages[channelID] = append(f.messages[channelID], msg)
	return msg
}

// SetThreadMembers replaces a thread's members.
func (f *Fake) SetThreadMembers(threadID string, ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	th := f.threads[threadID]
	th.members = make(map[string]struct{})
	for _, id := range ids {
		th.members[id] = struct{}{}
	}
}

// ThreadMemberIDs returns a thread's members sorted, or nil if it does not exist.
func (f *Fake) ThreadMemberIDs(threadID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	th, ok := f.threads[threadID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(th.members))
	for id := range th.members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// HasThread reports whether a thread exists.
func (f *Fake) HasThread(threadID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.threads[threadID]
	return ok
}

// GetThread returns the stored thread state.
func (f *Fake) GetThread(threadID string) (platform.Thread, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	th, ok := f.threads[threadID]
	if !ok {
		return platform.Thread{}, false
	}
	return th.Thread, true
}

// ThreadsIn returns the threads under a channel ordered by id.
func (f *Fake) ThreadsIn(channelID string) []platform.Thread {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []platform.Thread
	for _, th := range f.threads {
		if th.ParentID == channelID {
			out = append(out, th.Thread)
		}
	}
	sort.Slice(out, func(i, j int) bool { return idLess(out[i].ID, out[j].ID) })
	return out
}

// MessagesIn returns a channel's messages oldest first.
func (f *Fake) MessagesIn(channelID string) []platform.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]platform.Message(nil), f.messages[channelID]...)
}

func idLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

func (f *Fake) thread(threadID string) (*thread, error) {
	th, ok := f.threads[threadID]
	if !ok {
		return nil, fmt.Errorf("thread %s: %w", threadID, platform.ErrNotFound)
	}
	return th, nil
}

// CreateThread implements platform.Threads. The bot joins the thread it creates.
func (f *Fake) CreateThread(ctx context.Context, channelID, name string) (platform.Thread, error) {
	if err := f.call("create_thread", channelID, name); err != nil {
		return platform.Thread{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	th := &thread{
		Thread:  platform.Thread{ID: f.id(), ParentID: channelID, Name: name, CreatedAt: time.Now()},
		members: map[string]struct{}{f.selfID: {}},
	}
	f.threads[th.ID] = th
	f.record("create_thread", channelID, name, th.ID)
	return th.Thread, nil
}

// Thread implements platform.Threads.
func (f *Fake) Thread(ctx context.Context, threadID string) (platform.Thread, error) {
	if err := f.call("thread", threadID); err != nil {
		return platform.Thread{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	th, err := f.thread(threadID)
	if err != nil {
		return platform.Thread{}, err
	}
	return th.Thread, nil
}

// DeleteThread implements platform.Threads.
func (f *Fake) DeleteThread(ctx context.Context, threadID string) error {
	if err := f.call("delete_thread", threadID); err != nil {
		return err
	}
	f.mu.Lock()
	th, err := f.thread(threadID)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	delete(f.threads, threadID)
	delete(f.messages, threadID)
	f.record("delete_thread", threadID)
	hook := f.OnDelete
	f.mu.Unlock()

	if hook != nil {
		hook(threadID, th.ParentID)
	}
	return nil
}

// RenameThread implements platform.Threads.
func (f *Fake) RenameThread(ctx context.Context, threadID, name string) error {
	if err := f.call("rename_thread", threadID, name); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	th, err := f.thread(threadID)
	if err != nil {
		return err
	}
	th.Name = name
	f.record("rename_thread", threadID, name)
	return nil
}

// SetArchived implements platform.Threads.
func (f *Fake) SetArchived(ctx context.Context, threadID string, archived bool) error {
	if err := f.call("set_archived", threadID, strconv.FormatBool(archived)); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	th, err := f.thread(threadID)
	if err != nil {
		return err
	}
	th.Archived = archived
	f.record("set_archived", threadID, strconv.FormatBool(archived))
	return nil
}

// SetLocked implements platform.Threads.
func (f *Fake) SetLocked(ctx context.Context, threadID string, locked bool) error {
	if err := f.call("set_locked", threadID, strconv.FormatBool(locked)); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	th, err := f.thread(threadID)
	if err != nil {
		return err
	}
	th.Locked = locked
	f.record("set_locked", threadID, strconv.FormatBool(locked))
	return nil
}

// ListThreads implements platform.Threads.
func (f *Fake) ListThreads(ctx context.Context, channelID string) ([]platform.Thread, error) {
	if err := f.call("list_threads", channelID); err != nil {
		return nil, err
	}
	return f.ThreadsIn(channelID), nil
}

// ThreadMembers implements platform.Threads.
func (f *Fake) ThreadMembers(ctx context.Context, threadID string) ([]string, error) {
	if err := f.call("thread_members", threadID); err != nil {
		return nil, err
	}
	if !f.HasThread(threadID) {
		return nil, fmt.Errorf("thread %s: %w", threadID, platform.ErrNotFound)
	}
	return f.ThreadMemberIDs(threadID), nil
}

// AddThreadMember implements platform.Threads.
func (f *Fake) AddThreadMember(ctx context.Context, threadID, userID string) error {
	if err := f.call("add_member", threadID, userID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	th, err := f.thread(threadID)
	if err != nil {
		return err
	}
	if _, ok := f.members[userID]; !ok && userID != f.selfID {
		return fmt.Errorf("member %s: %w", userID, platform.ErrNotFound)
	}
	th.members[userID] = struct{}{}
	f.record("add_member", threadID, userID)
	return nil
}

// RemoveThreadMember implements platform.Threads.
func (f *Fake) RemoveThreadMember(ctx context.Context, threadID, userID string) error {
	if err := f.call("remove_member", threadID, userID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	th, err := f.thread(threadID)
	if err != nil {
		return err
	}
	delete(th.members, userID)
	f.record("remove_member", threadID, userID)
	return nil
}

// Member implements platform.Members. Roles are copied so callers hold a snapshot.
func (f *Fake) Member(ctx context.Context, userID string) (platform.Member, error) {
	if err := f.call("member", userID); err != nil {
		return platform.Member{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[userID]
	if !ok {
		return platform.Member{}, fmt.Errorf("member %s: %w", userID, platform.ErrNotFound)
	}
	return copyMember(m), nil
}

// Members implements platform.Members.
func (f *Fake) Members(ctx context.Context) ([]platform.Member, error) {
	if err := f.call("members"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]platform.Member, 0, len(f.members))
	for _, m := range f.members {
		out = append(out, copyMember(m))
	}
	sort.Slice(out, func(i, j int) bool { return idLess(out[i].ID, out[j].ID) })
	return out, nil
}

func copyMember(m platform.Member) platform.Member {
	m.Roles = roles.NewSet(m.Roles.IDs()...)
	return m
}

// AddRole implements platform.Members.
func (f *Fake) AddRole(ctx context.Context, userID, roleID string) error {
	if err := f.call("add_role", userID, roleID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[userID]
	if !ok {
		return fmt.Errorf("member %s: %w", userID, platform.ErrNotFound)
	}
	m.Roles = roles.NewSet(append(m.Roles.IDs(), roleID)...)
	f.members[userID] = m
	f.record("add_role", userID, roleID)
	return nil
}

// RemoveRole implements platform.Members.
func (f *Fake) RemoveRole(ctx context.Context, userID, roleID string) error {
	if err := f.call("remove_role", userID, roleID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[userID]
	if !ok {
		return fmt.Errorf("member %s: %w", userID, platform.ErrNotFound)
	}
	next := roles.NewSet(m.Roles.IDs()...)
	delete(next, roleID)
	m.Roles = next
	f.members[userID] = m
	f.record("remove_role", userID, roleID)
	return nil
}

// Messages implements platform.Messenger.
func (f *Fake) Messages(ctx context.Context, channelID string, limit int, before string) ([]platform.Message, error) {
	if err := f.call("messages", channelID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.messages[channelID]
	end := len(all)
	if before != "" {
		end = 0
		for i, m := range all {
			if m.ID == before {
				end = i
				break
			}
		}
	}
	var out []platform.Message
	for i := end - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

// Send implements platform.Messenger. Files become attachments; the "upload" fault
// fails only sends that carry files.
func (f *Fake) Send(ctx context.Context, channelID string, msg platform.OutgoingMessage) (string, error) {
	if err := f.call("send", channelID, msg.Content); err != nil {
		return "", err
	}
	if len(msg.Files) > 0 {
		if err := f.call("upload", channelID); err != nil {
			return "", err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m := platform.Message{
		ID:         f.id(),
		AuthorID:   f.selfID,
		AuthorName: "warden",
		AuthorBot:  true,
		Content:    msg.Content,
		Embeds:     len(msg.Embeds),
		CreatedAt:  time.Now(),
	}
	for _, file := range msg.Files {
		m.Attachments = append(m.Attachments, platform.Attachment{Filename: file.Name, URL: "fake://" + m.ID + "/" + file.Name})
	}
	for _, b := range msg.Buttons {
		m.Components = append(m.Components, b.CustomID)
	}
	f.messages[channelID] = append(f.messages[channelID], m)
	f.record("send", channelID, msg.Content)
	return m.ID, nil
}

// Edit implements platform.Messenger.
func (f *Fake) Edit(ctx context.Context, channelID, messageID string, msg platform.OutgoingMessage) error {
	if err := f.call("edit", channelID, messageID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, m := range f.messages[channelID] {
		if m.ID == messageID {
			m.Content = msg.Content
			m.Embeds = len(msg.Embeds)
			f.messages[channelID][i] = m
			f.record("edit", channelID, messageID)
			return nil
		}
	}
	return fmt.Errorf("message %s: %w", messageID, platform.ErrNotFound)
}

// DeleteMessage implements platform.Messenger.
func (f *Fake) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	if err := f.call("delete_message", channelID, messageID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.messages[channelID]
	for i, m := range msgs {
		if m.ID == messageID {
			f.messages[channelID] = append(msgs[:i:i], msgs[i+1:]...)
			f.record("delete_message", channelID, messageID)
			return nil
		}
	}
	return fmt.Errorf("message %s: %w", messageID, platform.ErrNotFound)
}

// Responder records interaction replies.
type Responder struct {
	mu        sync.Mutex
	Deferred  bool
	Ephemeral bool
	Replies   []string
}

// Defer implements platform.Responder.
func (r *Responder) Defer(ctx context.Context, ephemeral bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Deferred = true
	r.Ephemeral = ephemeral
	return nil
}

// Reply implements platform.Responder.
func (r *Responder) Reply(ctx context.Context, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Replies = append(r.Replies, content)
	return nil
}

// Last returns the latest reply or "".
func (r *Responder) Last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Replies) == 0 {
		return ""
	}
	return r.Replies[len(r.Replies)-1]
}
