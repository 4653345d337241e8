// Package protocol implements the session replication protocol: the message
// envelope carried on the actions inbox, the hosting peer's serialized
// ingest-reduce-broadcast loop, and the joining peer's connection state
// machine. Only the host mutates session state; every other participant
// funnels intentions through the inbox and consumes whole-document syncs.
package protocol

import (
	"encoding/json"
	"fmt"

	"storyloom/server/internal/session"
)

// MessageKind tags one envelope on the actions inbox.
type MessageKind string

const (
	MsgPlayerJoinRequest MessageKind = "PLAYER_JOIN_REQUEST"
	MsgDispatchAction    MessageKind = "DISPATCH_ACTION"
	MsgEndTurn           MessageKind = "END_TURN"
	MsgLobbyChatMessage  MessageKind = "LOBBY_CHAT_MESSAGE"
)

// Envelope is the wire form of one peer-to-host message. MessageID guards
// against at-least-once redelivery; the host ignores ids it has seen.
type Envelope struct {
	Type      MessageKind          `json:"type"`
	MessageID string               `json:"messageId"`
	SenderID  string               `json:"senderId"`
	Name      string               `json:"name,omitempty"`
	Action    json.RawMessage      `json:"action,omitempty"`
	Message   *session.ChatMessage `json:"message,omitempty"`
}

// EncodeEnvelope marshals an envelope for the inbox.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", env.Type, err)
	}
	return data, nil
}

// DecodeEnvelope unmarshals an inbox payload.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

// Phase tracks whether the session is gathering players or playing.
type Phase string

const (
	PhaseLobby Phase = "lobby"
	PhasePlay  Phase = "play"
)

// SyncEnvelope is the whole-document broadcast written to the state path.
// LobbyMusicURL is stripped before writing and carried on the music path; the
// peer recombines the two before handing the document to its local view.
type SyncEnvelope struct {
	State              session.State `json:"state"`
	CurrentPlayerIndex int           `json:"currentPlayerIndex"`
	Phase              Phase         `json:"phase"`
	ServerTime         int64         `json:"serverTime"`
}

// MusicDoc is the sub-document written to the music path.
type MusicDoc struct {
	LobbyMusicURL string `json:"lobbyMusicUrl"`
}
