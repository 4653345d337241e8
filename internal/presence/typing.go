// Package presence tracks the ephemeral, non-authoritative signals layered on
// the store: per-user typing indicators scoped to a chat channel. Typing
// marks are self-cleaning: each carries a disconnect hook so a vanished
// client never leaves a stuck indicator behind.
package presence

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"storyloom/server/internal/channel"
)

// TypingMark is the value written to a typing path.
type TypingMark struct {
	Name string `json:"name"`
	At   int64  `json:"at"`
}

// Tracker manages this client's typing indicators and watches of others'.
type Tracker struct {
	conn      channel.Conn
	sessionID int64
	now       func() time.Time

	mu    sync.Mutex
	hooks map[string]channel.Hook
	subs  []channel.Subscription
}

// NewTracker creates a tracker bound to one connection and session.
func NewTracker(conn channel.Conn, sessionID int64) *Tracker {
	return &Tracker{
		conn:      conn,
		sessionID: sessionID,
		now:       time.Now,
		hooks:     make(map[string]channel.Hook),
	}
}

// SetTyping marks a user as typing in a chat channel. Setting an already-set
// indicator refreshes its timestamp and keeps the existing disconnect hook.
func (t *Tracker) SetTyping(chatChannel, userID, name string) error {
	path := channel.TypingPath(t.sessionID, chatChannel, userID)
	mark, err := json.Marshal(TypingMark{Name: name, At: t.now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("set typing: %w", err)
	}
	if err := t.conn.Write(path, mark); err != nil {
		return fmt.Errorf("set typing: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.hooks[path]; ok {
		return nil
	}
	hook, err := t.conn.OnDisconnectRemove(path)
	if err != nil {
		return fmt.Errorf("set typing: register disconnect hook: %w", err)
	}
	t.hooks[path] = hook
	return nil
}

// ClearTyping removes a typing indicator. The hook is canceled before the
// value is removed, mirroring a deliberate departure.
func (t *Tracker) ClearTyping(chatChannel, userID string) error {
	path := channel.TypingPath(t.sessionID, chatChannel, userID)

	t.mu.Lock()
	hook, ok := t.hooks[path]
	delete(t.hooks, path)
	t.mu.Unlock()

	if ok {
		hook.Cancel()
	}
	if err := t.conn.Remove(path); err != nil {
		return fmt.Errorf("clear typing: %w", err)
	}
	return nil
}

// WatchTyping observes one user's typing indicator in a chat channel. The
// callback receives false when the indicator is absent or removed.
func (t *Tracker) WatchTyping(chatChannel, userID string, fn func(typing bool, mark TypingMark)) channel.Subscription {
	path := channel.TypingPath(t.sessionID, chatChannel, userID)
	sub := t.conn.SubscribeValue(path, func(value []byte) {
		if value == nil {
			fn(false, TypingMark{})
			return
		}
		var mark TypingMark
		if err := json.Unmarshal(value, &mark); err != nil {
			return
		}
		fn(true, mark)
	})

	t.mu.Lock()
	t.subs = append(t.subs, sub)
	t.mu.Unlock()
	return sub
}

// Close clears every indicator this tracker set and cancels its watches.
func (t *Tracker) Close() {
	t.mu.Lock()
	hooks := t.hooks
	subs := t.subs
	t.hooks = map[string]channel.Hook{}
	t.subs = nil
	t.mu.Unlock()

	for path, hook := range hooks {
		hook.Cancel()
		t.conn.Remove(path)
	}
	for _, sub := range subs {
		sub.Cancel()
	}
}
