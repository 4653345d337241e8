package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"storyloom/server/internal/channel"
	"storyloom/server/internal/presence"
	"storyloom/server/internal/session"
	"storyloom/server/logging"
	"storyloom/server/logging/network"
)

// PeerStatus is the joining peer's connection state. Failed, Kicked, Deleted
// and Left are terminal; a peer in a terminal state must be discarded and a
// fresh one created to rejoin.
type PeerStatus string

const (
	StatusConnecting PeerStatus = "connecting"
	StatusConnected  PeerStatus = "connected"
	StatusFailed     PeerStatus = "failed"
	StatusKicked     PeerStatus = "kicked"
	StatusDeleted    PeerStatus = "deleted"
	StatusLeft       PeerStatus = "left"
)

// DefaultJoinTimeout bounds how long a join request may go unanswered before
// the peer gives up and retracts its speculative presence.
const DefaultJoinTimeout = 20 * time.Second

// Sync is the merged document a connected peer hands to its local view:
// the state broadcast recombined with the separately-carried music value.
type Sync struct {
	State              session.State
	CurrentPlayerIndex int
	Phase              Phase
	ServerTime         int64
}

// PeerConfig configures a joining peer.
type PeerConfig struct {
	SessionID int64
	PlayerID  string // generated when empty
	Name      string
	Publisher logging.Publisher
	// OnSync receives every accepted whole-document sync.
	OnSync func(Sync)
	// OnStatus receives connection state transitions with a short reason.
	OnStatus    func(status PeerStatus, reason string)
	JoinTimeout time.Duration
}

// Peer is a non-authoritative participant. It holds no session state of its
// own beyond the latest sync: every intention travels to the host as an inbox
// envelope, and every state change arrives as a replacement document.
type Peer struct {
	mu     sync.Mutex
	conn   channel.Conn
	cfg    PeerConfig
	status PeerStatus

	hook     channel.Hook
	stateSub channel.Subscription
	musicSub channel.Subscription
	timer    *time.Timer
	typing   *presence.Tracker

	music    string
	lastSync Sync
	haveSync bool
}

// Join writes speculative presence, registers disconnect cleanup, sends the
// join request, and starts watching the session document. Acceptance is
// observed, not acknowledged: the peer is connected once a sync arrives with
// its own id on the roster.
func Join(conn channel.Conn, cfg PeerConfig) (*Peer, error) {
	if cfg.PlayerID == "" {
		cfg.PlayerID = uuid.NewString()
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = DefaultJoinTimeout
	}
	p := &Peer{conn: conn, cfg: cfg, status: StatusConnecting}

	presencePath := channel.PresencePath(cfg.SessionID, cfg.PlayerID)
	presence, err := json.Marshal(map[string]any{"online": true, "name": cfg.Name})
	if err != nil {
		return nil, fmt.Errorf("join session %d: %w", cfg.SessionID, err)
	}
	if err := conn.Write(presencePath, presence); err != nil {
		return nil, fmt.Errorf("join session %d: write presence: %w", cfg.SessionID, err)
	}
	hook, err := conn.OnDisconnectRemove(presencePath)
	if err != nil {
		conn.Remove(presencePath)
		return nil, fmt.Errorf("join session %d: register disconnect hook: %w", cfg.SessionID, err)
	}
	p.hook = hook

	if err := p.send(Envelope{
		Type:     MsgPlayerJoinRequest,
		SenderID: cfg.PlayerID,
		Name:     cfg.Name,
	}); err != nil {
		hook.Cancel()
		conn.Remove(presencePath)
		return nil, err
	}

	p.stateSub = conn.SubscribeValue(channel.StatePath(cfg.SessionID), p.onState)
	p.musicSub = conn.SubscribeValue(channel.MusicPath(cfg.SessionID), p.onMusic)
	p.timer = time.AfterFunc(cfg.JoinTimeout, p.onJoinTimeout)
	return p, nil
}

// Status returns the current connection state.
func (p *Peer) Status() PeerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// PlayerID returns this peer's roster id.
func (p *Peer) PlayerID() string {
	return p.cfg.PlayerID
}

// LastSync returns the most recent accepted sync, if any.
func (p *Peer) LastSync() (Sync, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSync, p.haveSync
}

// Dispatch sends one action to the host.
func (p *Peer) Dispatch(action session.Action) error {
	raw, err := session.MarshalAction(action)
	if err != nil {
		return err
	}
	return p.send(Envelope{
		Type:      MsgDispatchAction,
		MessageID: uuid.NewString(),
		SenderID:  p.cfg.PlayerID,
		Action:    raw,
	})
}

// MarkLogSeen reports playback progress to the host.
func (p *Peer) MarkLogSeen(index int) error {
	return p.Dispatch(session.MarkLogSeen{PlayerID: p.cfg.PlayerID, Index: index})
}

// EndTurn asks the host to advance the turn. The host honors it only while
// this peer holds the turn.
func (p *Peer) EndTurn() error {
	return p.send(Envelope{
		Type:      MsgEndTurn,
		MessageID: uuid.NewString(),
		SenderID:  p.cfg.PlayerID,
	})
}

// SendLobbyChat sends a lobby chat message.
func (p *Peer) SendLobbyChat(msg session.ChatMessage) error {
	msg.SenderID = p.cfg.PlayerID
	return p.send(Envelope{
		Type:      MsgLobbyChatMessage,
		MessageID: uuid.NewString(),
		SenderID:  p.cfg.PlayerID,
		Message:   &msg,
	})
}

// SetTyping marks this peer as typing in a chat channel. The indicator is
// self-cleaning on disconnect.
func (p *Peer) SetTyping(chatChannel string) error {
	return p.typingTracker().SetTyping(chatChannel, p.cfg.PlayerID, p.cfg.Name)
}

// ClearTyping removes this peer's typing indicator from a chat channel.
func (p *Peer) ClearTyping(chatChannel string) error {
	return p.typingTracker().ClearTyping(chatChannel, p.cfg.PlayerID)
}

func (p *Peer) typingTracker() *presence.Tracker {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.typing == nil {
		p.typing = presence.NewTracker(p.conn, p.cfg.SessionID)
	}
	return p.typing
}

// Leave departs voluntarily. The disconnect hook is canceled before presence
// is retracted, so the deliberate removal cannot race a hook firing for the
// same path.
func (p *Peer) Leave() {
	p.mu.Lock()
	if terminal(p.status) {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	p.hook.Cancel()
	raw, err := session.MarshalAction(session.RemovePlayer{PlayerID: p.cfg.PlayerID})
	if err == nil {
		p.send(Envelope{
			Type:      MsgDispatchAction,
			MessageID: uuid.NewString(),
			SenderID:  p.cfg.PlayerID,
			Action:    raw,
		})
	}
	p.conn.Remove(channel.PresencePath(p.cfg.SessionID, p.cfg.PlayerID))
	p.finish(StatusLeft, "left voluntarily")
}

func (p *Peer) send(env Envelope) error {
	data, err := EncodeEnvelope(env)
	if err != nil {
		return err
	}
	if _, err := p.conn.Append(channel.ActionsPath(p.cfg.SessionID), data); err != nil {
		return fmt.Errorf("send %s: %w", env.Type, err)
	}
	return nil
}

func (p *Peer) onState(value []byte) {
	p.mu.Lock()
	if terminal(p.status) {
		p.mu.Unlock()
		return
	}

	if value == nil {
		// Before the first sync a nil fire just means the subscription beat
		// the host's write; after it, the document is gone for good.
		if !p.haveSync {
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()
		p.finish(StatusDeleted, "session deleted by host")
		return
	}

	var env SyncEnvelope
	if err := json.Unmarshal(value, &env); err != nil {
		seq := uint64(len(p.lastSync.State.StoryLog))
		p.mu.Unlock()
		network.MessageIgnored(context.Background(), p.cfg.Publisher, seq, network.MessageIgnoredPayload{
			Type:   "sync",
			Reason: err.Error(),
		})
		return
	}
	env.State = session.Canonicalize(env.State)

	if env.State.FindPlayer(p.cfg.PlayerID) < 0 {
		if p.status == StatusConnecting {
			// Host has not processed the join request yet.
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()
		p.finish(StatusKicked, "removed from roster")
		return
	}

	if p.status == StatusConnecting {
		p.status = StatusConnected
		if p.timer != nil {
			p.timer.Stop()
		}
		p.notifyLocked(StatusConnected, "join accepted")
	}

	env.State.LobbyMusicURL = p.music
	p.lastSync = Sync{
		State:              env.State,
		CurrentPlayerIndex: ClampTurnIndex(env.CurrentPlayerIndex, len(env.State.Players)),
		Phase:              env.Phase,
		ServerTime:         env.ServerTime,
	}
	p.haveSync = true
	sync := p.lastSync
	onSync := p.cfg.OnSync
	p.mu.Unlock()

	if onSync != nil {
		onSync(sync)
	}
}

func (p *Peer) onMusic(value []byte) {
	p.mu.Lock()
	if terminal(p.status) {
		p.mu.Unlock()
		return
	}
	var doc MusicDoc
	if value != nil {
		if err := json.Unmarshal(value, &doc); err != nil {
			p.mu.Unlock()
			return
		}
	}
	p.music = doc.LobbyMusicURL
	if !p.haveSync {
		p.mu.Unlock()
		return
	}
	p.lastSync.State.LobbyMusicURL = p.music
	sync := p.lastSync
	onSync := p.cfg.OnSync
	p.mu.Unlock()

	if onSync != nil {
		onSync(sync)
	}
}

// onJoinTimeout gives up on an unanswered join request. The speculative
// presence write is retracted so the host never sees a ghost, and the hook is
// canceled afterwards since there is nothing left for it to clean up.
func (p *Peer) onJoinTimeout() {
	p.mu.Lock()
	if p.status != StatusConnecting {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	p.conn.Remove(channel.PresencePath(p.cfg.SessionID, p.cfg.PlayerID))
	p.hook.Cancel()
	p.finish(StatusFailed, "join request timed out")
}

// finish moves the peer into a terminal state and tears everything down:
// subscriptions, typing indicators, and the disconnect hook. Kicked and
// deleted peers reach here with the hook still registered; leaving it alive
// would fire a removal on connection close against a presence path a later
// rejoin may have re-written. The presence value itself is already gone in
// every terminal state (retracted by the host on kick, by the session removal
// on delete, and by the caller on leave and join timeout), so finish never
// removes it. Status is notified only after teardown completes.
func (p *Peer) finish(status PeerStatus, reason string) {
	p.mu.Lock()
	if terminal(p.status) {
		p.mu.Unlock()
		return
	}
	p.status = status
	stateSub, musicSub, timer, typing := p.stateSub, p.musicSub, p.timer, p.typing
	p.typing = nil
	p.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if typing != nil {
		typing.Close()
	}
	p.hook.Cancel()
	if stateSub != nil {
		stateSub.Cancel()
	}
	if musicSub != nil {
		musicSub.Cancel()
	}

	p.mu.Lock()
	p.notifyLocked(status, reason)
	p.mu.Unlock()
}

func (p *Peer) notifyLocked(status PeerStatus, reason string) {
	if p.cfg.OnStatus == nil {
		return
	}
	onStatus := p.cfg.OnStatus
	go onStatus(status, reason)
}

func terminal(s PeerStatus) bool {
	switch s {
	case StatusFailed, StatusKicked, StatusDeleted, StatusLeft:
		return true
	}
	return false
}
