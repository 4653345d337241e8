package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"storyloom/server/internal/channel"
	"storyloom/server/internal/session"
	"storyloom/server/internal/snapshot"
	"storyloom/server/logging"
	"storyloom/server/logging/lifecycle"
	"storyloom/server/logging/network"
	"storyloom/server/logging/story"
)

// PayloadWarnBytes is the broadcast size above which a write failure is
// attributed to the transport's per-node payload ceiling rather than
// connectivity. Kept well under the typical single-digit-MB platform limit.
const PayloadWarnBytes = 4 << 20

// AlertFunc surfaces a host-side failure to the user. Alerts never unwind
// state; the host stays authoritative and peers stay stale until the next
// successful broadcast.
type AlertFunc func(message string)

// HostConfig configures a hosting peer.
type HostConfig struct {
	SessionID int64
	Publisher logging.Publisher
	Snapshots *snapshot.Store
	Alert     AlertFunc
	Now       func() time.Time
	Dice      *Roller
}

// Host owns the authoritative session document. All mutation funnels through
// applyLocked, one action at a time: inbox messages arrive on the store's
// ordered delivery goroutine and local host calls serialize on the mutex, so
// the reducer never runs concurrently with itself.
type Host struct {
	mu      sync.Mutex
	conn    channel.Conn
	cfg     HostConfig
	state   session.State
	current int
	phase   Phase

	seen       *messageDedupe
	inbox      channel.Subscription
	watches    map[string]*presenceWatch
	lastMusic  string
	musicDirty bool
	closed     bool
}

type presenceWatch struct {
	sub  channel.Subscription
	seen bool
}

// NewHost creates a fresh session and writes its first broadcast.
func NewHost(conn channel.Conn, title string, cfg HostConfig) (*Host, error) {
	h := newHost(conn, cfg)
	h.state = session.NewState(title)
	h.phase = PhaseLobby
	h.musicDirty = true

	lifecycle.SessionCreated(context.Background(), cfg.Publisher, cfg.SessionID, nil)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcastLocked()
	return h, nil
}

// ResumeHost restores authority from the store (preferring the live remote
// document, falling back to the local snapshot) without resetting the turn
// index or phase.
func ResumeHost(conn channel.Conn, cfg HostConfig) (*Host, error) {
	doc, err := conn.Read(channel.StatePath(cfg.SessionID))
	if err != nil {
		return nil, fmt.Errorf("resume session %d: %w", cfg.SessionID, err)
	}
	var env SyncEnvelope
	if doc != nil {
		if err := json.Unmarshal(doc, &env); err != nil {
			return nil, fmt.Errorf("resume session %d: %w", cfg.SessionID, err)
		}
		music, err := conn.Read(channel.MusicPath(cfg.SessionID))
		if err == nil && music != nil {
			var m MusicDoc
			if json.Unmarshal(music, &m) == nil {
				env.State.LobbyMusicURL = m.LobbyMusicURL
			}
		}
	} else {
		if cfg.Snapshots == nil {
			return nil, fmt.Errorf("resume session %d: no remote document and no snapshot store: %w", cfg.SessionID, snapshot.ErrNotFound)
		}
		stored, err := cfg.Snapshots.Load(cfg.SessionID)
		if err != nil {
			// Keep ErrNotFound visible through the wrap so callers can map a
			// vanished session to "not found" rather than a server fault.
			return nil, fmt.Errorf("resume session %d: %w", cfg.SessionID, err)
		}
		if err := json.Unmarshal(stored, &env); err != nil {
			return nil, fmt.Errorf("resume session %d: %w", cfg.SessionID, err)
		}
	}

	h := newHost(conn, cfg)
	h.state = session.Canonicalize(env.State)
	h.current = ClampTurnIndex(env.CurrentPlayerIndex, len(h.state.Players))
	h.phase = env.Phase
	if h.phase == "" {
		h.phase = PhaseLobby
	}
	h.musicDirty = true

	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.state.Players {
		h.watchPresenceLocked(h.state.Players[i].ID)
	}
	h.broadcastLocked()
	return h, nil
}

func newHost(conn channel.Conn, cfg HostConfig) *Host {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Dice == nil {
		cfg.Dice = NewRoller(time.Now().UnixNano())
	}
	return &Host{
		conn:    conn,
		cfg:     cfg,
		seen:    newMessageDedupe(maxSeenMessages),
		watches: make(map[string]*presenceWatch),
	}
}

// Start begins consuming the actions inbox. Entries are processed strictly
// in append order and removed once handled, so a restarted host never
// replays messages whose effects are already in its snapshot.
func (h *Host) Start() {
	path := channel.ActionsPath(h.cfg.SessionID)
	h.inbox = h.conn.SubscribeAppend(path, func(key string, value []byte) {
		h.handleInbox(value)
		h.conn.RemoveChild(path, key)
	})
}

// Close cancels subscriptions without touching session data.
func (h *Host) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	inbox := h.inbox
	watches := h.watches
	h.watches = map[string]*presenceWatch{}
	h.mu.Unlock()

	if inbox != nil {
		inbox.Cancel()
	}
	for _, w := range watches {
		w.sub.Cancel()
	}
}

// State returns the current document. The returned value shares no mutable
// path with the host's copy as long as callers treat it as read-only, which
// is the same contract every sync consumer has.
func (h *Host) State() session.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// CurrentPlayerIndex returns the turn holder's roster index.
func (h *Host) CurrentPlayerIndex() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// Phase returns the session phase.
func (h *Host) Phase() Phase {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.phase
}

// Dispatch applies one action locally. This is the host UI's entry point;
// it shares the reducer funnel with inbox messages.
func (h *Host) Dispatch(action session.Action) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.applyLocked(action, "host")
	h.broadcastLocked()
}

// StartPlay moves the session from lobby to play.
func (h *Host) StartPlay() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.phase == PhasePlay {
		return
	}
	h.phase = PhasePlay
	h.broadcastLocked()
}

// AdvanceTurn hands the turn to the next roster slot. Host-side entry point;
// peers request the same through END_TURN.
func (h *Host) AdvanceTurn() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.advanceTurnLocked()
	h.broadcastLocked()
}

// KickPlayer removes a player at the host's request.
func (h *Host) KickPlayer(playerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removePlayerLocked(playerID, lifecycle.ReasonKicked)
	h.broadcastLocked()
}

// RollDice rolls a die on behalf of a character, appends the result to the
// story log, and returns it.
func (h *Host) RollDice(characterID string, sides int) int {
	result := h.cfg.Dice.Roll(sides)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.applyLocked(session.AppendLogEntry{Entry: session.E(session.DiceRoll{
		CharacterID: characterID,
		Sides:       sides,
		Result:      result,
	})}, "host")
	h.broadcastLocked()
	return result
}

// DeleteSession removes every persisted path for this session. Peers observe
// the state document vanish and treat it as a forced disconnect.
func (h *Host) DeleteSession() {
	h.mu.Lock()
	sessionID := h.cfg.SessionID
	h.mu.Unlock()

	h.Close()
	h.conn.Remove(channel.SessionRoot(sessionID))
	if h.cfg.Snapshots != nil {
		h.cfg.Snapshots.Delete(sessionID)
		h.cfg.Snapshots.DeletePreference(sessionID)
	}
	lifecycle.SessionDeleted(context.Background(), h.cfg.Publisher, sessionID, nil)
}

func (h *Host) handleInbox(value []byte) {
	env, err := DecodeEnvelope(value)
	if err != nil {
		network.MessageIgnored(context.Background(), h.cfg.Publisher, h.seq(), network.MessageIgnoredPayload{
			Type:   "unknown",
			Reason: err.Error(),
		})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	if env.MessageID != "" && h.seen.Observe(env.MessageID) {
		network.DuplicateMessage(context.Background(), h.cfg.Publisher, h.seqLocked(), env.MessageID)
		return
	}

	switch env.Type {
	case MsgPlayerJoinRequest:
		h.handleJoinLocked(env)
	case MsgDispatchAction:
		action, err := session.UnmarshalAction(env.Action)
		if err != nil || action == nil {
			h.ignoreLocked(env, "undecodable or unknown action")
			return
		}
		if remove, ok := action.(session.RemovePlayer); ok {
			// Roster removal must go through the index-adjusting funnel no
			// matter who asked for it.
			h.removePlayerLocked(remove.PlayerID, lifecycle.ReasonLeft)
		} else {
			h.applyLocked(action, env.SenderID)
		}
		h.broadcastLocked()
	case MsgEndTurn:
		if h.state.FindPlayer(env.SenderID) != h.current {
			h.ignoreLocked(env, "end turn from non-current player")
			return
		}
		h.advanceTurnLocked()
		h.broadcastLocked()
	case MsgLobbyChatMessage:
		if env.Message == nil {
			h.ignoreLocked(env, "missing chat message")
			return
		}
		h.applyLocked(session.AddLobbyChatMessage{Message: *env.Message}, env.SenderID)
		h.broadcastLocked()
	default:
		h.ignoreLocked(env, "unknown message type")
	}
}

// handleJoinLocked validates a join request. Rejections are silent on the
// protocol level: the only signal is a system-authored lobby chat notice.
func (h *Host) handleJoinLocked(env Envelope) {
	name := strings.TrimSpace(env.Name)
	actor := logging.EntityRef{ID: env.SenderID, Kind: logging.EntityKindPlayer}

	if existing := h.state.FindPlayer(env.SenderID); existing >= 0 {
		// Rejoin of a known player: refresh presence and resend state.
		h.watchPresenceLocked(env.SenderID)
		h.broadcastLocked()
		return
	}

	if name == "" || h.state.HasPlayerName(name) {
		h.systemLobbyNoticeLocked(fmt.Sprintf("The name %q is already taken.", name))
		lifecycle.JoinRejected(context.Background(), h.cfg.Publisher, h.seqLocked(), actor, lifecycle.JoinRejectedPayload{
			Name:   name,
			Reason: "name taken",
		})
		h.broadcastLocked()
		return
	}
	if len(h.state.Players) >= session.MaxPlayers {
		h.systemLobbyNoticeLocked(fmt.Sprintf("%s tried to join, but the story is full.", name))
		lifecycle.JoinRejected(context.Background(), h.cfg.Publisher, h.seqLocked(), actor, lifecycle.JoinRejectedPayload{
			Name:   name,
			Reason: "session full",
		})
		h.broadcastLocked()
		return
	}

	h.state = session.Reduce(h.state, session.AddPlayer{Player: session.Player{
		ID:   env.SenderID,
		Name: name,
	}})
	h.watchPresenceLocked(env.SenderID)
	if h.phase == PhasePlay {
		h.state = session.Reduce(h.state, session.AppendLogEntry{Entry: session.E(session.Dialogue{
			CharacterID: session.NarratorID,
			Text:        fmt.Sprintf("%s has joined the story.", name),
		})})
	}
	lifecycle.PlayerJoined(context.Background(), h.cfg.Publisher, h.seqLocked(), actor, lifecycle.PlayerJoinedPayload{
		Name:       name,
		RosterSize: len(h.state.Players),
	})
	h.broadcastLocked()
}

// watchPresenceLocked subscribes to one player's presence path. A removal is
// only treated as a disconnect after presence has been observed at least
// once, so the subscription's initial nil fire cannot evict a player whose
// speculative presence write is still in flight.
func (h *Host) watchPresenceLocked(playerID string) {
	if _, ok := h.watches[playerID]; ok {
		return
	}
	watch := &presenceWatch{}
	h.watches[playerID] = watch
	path := channel.PresencePath(h.cfg.SessionID, playerID)
	watch.sub = h.conn.SubscribeValue(path, func(value []byte) {
		h.mu.Lock()
		defer h.mu.Unlock()
		if value != nil {
			watch.seen = true
			return
		}
		if !watch.seen {
			return
		}
		if h.state.FindPlayer(playerID) < 0 {
			return
		}
		h.removePlayerLocked(playerID, lifecycle.ReasonDisconnected)
		h.broadcastLocked()
	})
}

// removePlayerLocked funnels every kind of roster removal, voluntary or not,
// through the same index adjustment.
func (h *Host) removePlayerLocked(playerID string, reason string) {
	idx := h.state.FindPlayer(playerID)
	if idx < 0 {
		return
	}
	name := h.state.Players[idx].Name

	if watch, ok := h.watches[playerID]; ok {
		watch.sub.Cancel()
		delete(h.watches, playerID)
	}
	h.conn.Remove(channel.PresencePath(h.cfg.SessionID, playerID))

	h.state = session.Reduce(h.state, session.RemovePlayer{PlayerID: playerID})
	h.current = AdjustTurnIndex(h.current, idx, len(h.state.Players))

	if h.phase == PhasePlay {
		h.state = session.Reduce(h.state, session.AppendLogEntry{Entry: session.E(session.Dialogue{
			CharacterID: session.NarratorID,
			Text:        fmt.Sprintf("%s has left the story.", name),
		})})
	}
	lifecycle.PlayerRemoved(context.Background(), h.cfg.Publisher, h.seqLocked(),
		logging.EntityRef{ID: playerID, Kind: logging.EntityKindPlayer},
		lifecycle.PlayerRemovedPayload{Reason: reason, TurnIndex: h.current})
}

func (h *Host) advanceTurnLocked() {
	from := h.current
	h.current = AdvanceTurn(h.current, len(h.state.Players))
	lifecycle.TurnAdvanced(context.Background(), h.cfg.Publisher, h.seqLocked(),
		logging.EntityRef{ID: "host", Kind: logging.EntityKindSession},
		lifecycle.TurnAdvancedPayload{From: from, To: h.current})
}

func (h *Host) applyLocked(action session.Action, senderID string) {
	prev := h.state
	next := session.Reduce(prev, action)
	changed := len(next.StoryLog) != len(prev.StoryLog)
	h.state = next

	actor := logging.EntityRef{ID: senderID, Kind: logging.EntityKindPlayer}
	for i := range next.Characters {
		c := next.Characters[i]
		if c.Status != session.CharacterDefeated {
			continue
		}
		if j := prev.FindCharacter(c.ID); j >= 0 && prev.Characters[j].Status != session.CharacterDefeated {
			story.CharacterDefeated(context.Background(), h.cfg.Publisher, h.seqLocked(),
				logging.EntityRef{ID: c.ID, Kind: logging.EntityKindCharacter})
		}
	}
	story.ActionApplied(context.Background(), h.cfg.Publisher, h.seqLocked(), actor, story.ActionAppliedPayload{
		Action:  string(session.KindOf(action)),
		Changed: changed,
	})
	if al, ok := action.(session.AppendLogEntry); ok && changed {
		story.EntryAppended(context.Background(), h.cfg.Publisher, h.seqLocked(), actor, story.EntryAppendedPayload{
			Kind: string(al.Entry.Kind()),
		})
	}
	if _, ok := action.(session.ResetStoryLog); ok {
		story.LogReset(context.Background(), h.cfg.Publisher, actor)
	}
}

func (h *Host) systemLobbyNoticeLocked(text string) {
	h.state = session.Reduce(h.state, session.AddLobbyChatMessage{Message: session.ChatMessage{
		SenderID:   session.SystemSenderID,
		SenderName: "System",
		Text:       text,
		Timestamp:  h.cfg.Now().UnixMilli(),
	}})
}

// broadcastLocked writes the whole document out: the main state path first,
// then the music sub-path when its value changed. Broadcasts are not diffed;
// peers replace their view wholesale on every sync.
func (h *Host) broadcastLocked() {
	if h.closed {
		return
	}
	env := SyncEnvelope{
		State:              h.state,
		CurrentPlayerIndex: h.current,
		Phase:              h.phase,
		ServerTime:         h.cfg.Now().UnixMilli(),
	}

	wire := env
	wire.State.LobbyMusicURL = ""
	data, err := json.Marshal(wire)
	if err != nil {
		h.alertLocked(channel.StatePath(h.cfg.SessionID), err, "encoding")
		return
	}
	if err := h.conn.Write(channel.StatePath(h.cfg.SessionID), data); err != nil {
		cause := "connectivity"
		if len(data) > PayloadWarnBytes {
			cause = "payload too large"
		}
		h.alertLocked(channel.StatePath(h.cfg.SessionID), err, cause)
	} else {
		network.SyncPublished(context.Background(), h.cfg.Publisher, h.seqLocked(), network.SyncPublishedPayload{
			Bytes:      len(data),
			MusicSplit: h.state.LobbyMusicURL != "",
		})
	}

	if h.musicDirty || h.state.LobbyMusicURL != h.lastMusic {
		music, err := json.Marshal(MusicDoc{LobbyMusicURL: h.state.LobbyMusicURL})
		if err == nil {
			if err := h.conn.Write(channel.MusicPath(h.cfg.SessionID), music); err != nil {
				cause := "connectivity"
				if len(music) > PayloadWarnBytes {
					cause = "payload too large"
				}
				h.alertLocked(channel.MusicPath(h.cfg.SessionID), err, cause)
			} else {
				h.lastMusic = h.state.LobbyMusicURL
				h.musicDirty = false
			}
		}
	}

	if h.cfg.Snapshots != nil {
		if doc, err := json.Marshal(env); err == nil {
			h.cfg.Snapshots.Save(h.cfg.SessionID, doc)
		}
	}
}

func (h *Host) alertLocked(path string, err error, cause string) {
	network.WriteFailed(context.Background(), h.cfg.Publisher, h.seqLocked(), network.WriteFailedPayload{
		Path:  path,
		Cause: cause,
		Error: err.Error(),
	})
	if h.cfg.Alert != nil {
		h.cfg.Alert(fmt.Sprintf("Failed to sync session state (%s). Players may see stale data until the next update.", cause))
	}
}

func (h *Host) ignoreLocked(env Envelope, reason string) {
	network.MessageIgnored(context.Background(), h.cfg.Publisher, h.seqLocked(), network.MessageIgnoredPayload{
		Type:   string(env.Type),
		Reason: reason,
	})
}

func (h *Host) seqLocked() uint64 {
	return uint64(len(h.state.StoryLog))
}

func (h *Host) seq() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seqLocked()
}
