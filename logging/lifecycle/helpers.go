package lifecycle

import (
	"context"

	"storyloom/server/logging"
)

const (
	// EventSessionCreated is emitted when a host opens a new session.
	EventSessionCreated logging.EventType = "lifecycle.session_created"
	// EventSessionDeleted is emitted when a host deletes a session.
	EventSessionDeleted logging.EventType = "lifecycle.session_deleted"
	// EventPlayerJoined is emitted when a join request is accepted.
	EventPlayerJoined logging.EventType = "lifecycle.player_joined"
	// EventJoinRejected is emitted when a join request is refused.
	EventJoinRejected logging.EventType = "lifecycle.join_rejected"
	// EventPlayerRemoved is emitted when a roster entry is removed for any
	// reason: voluntary leave, kick, or detected disconnect.
	EventPlayerRemoved logging.EventType = "lifecycle.player_removed"
	// EventTurnAdvanced is emitted when the turn index moves.
	EventTurnAdvanced logging.EventType = "lifecycle.turn_advanced"
)

// PlayerJoinedPayload captures roster metadata for a new player.
type PlayerJoinedPayload struct {
	Name       string `json:"name"`
	RosterSize int    `json:"rosterSize"`
}

// JoinRejectedPayload captures why a join request was refused.
type JoinRejectedPayload struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// PlayerRemovedPayload captures how a player left the roster.
type PlayerRemovedPayload struct {
	Reason    string `json:"reason"`
	TurnIndex int    `json:"turnIndex"`
}

// TurnAdvancedPayload captures the turn handoff.
type TurnAdvancedPayload struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// Removal reasons carried in PlayerRemovedPayload.
const (
	ReasonLeft         = "left"
	ReasonKicked       = "kicked"
	ReasonDisconnected = "disconnected"
)

// SessionCreated publishes a session creation event.
func SessionCreated(ctx context.Context, pub logging.Publisher, sessionID int64, extra map[string]any) {
	publish(ctx, pub, logging.Event{
		Type:      EventSessionCreated,
		Severity:  logging.SeverityInfo,
		Actor:     logging.EntityRef{ID: "host", Kind: logging.EntityKindSession},
		SessionID: sessionID,
		Extra:     extra,
	})
}

// SessionDeleted publishes a session deletion event.
func SessionDeleted(ctx context.Context, pub logging.Publisher, sessionID int64, extra map[string]any) {
	publish(ctx, pub, logging.Event{
		Type:      EventSessionDeleted,
		Severity:  logging.SeverityInfo,
		Actor:     logging.EntityRef{ID: "host", Kind: logging.EntityKindSession},
		SessionID: sessionID,
		Extra:     extra,
	})
}

// PlayerJoined publishes a join acceptance.
func PlayerJoined(ctx context.Context, pub logging.Publisher, seq uint64, actor logging.EntityRef, payload PlayerJoinedPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventPlayerJoined,
		Severity: logging.SeverityInfo,
		Seq:      seq,
		Actor:    actor,
		Payload:  payload,
	})
}

// JoinRejected publishes a join refusal.
func JoinRejected(ctx context.Context, pub logging.Publisher, seq uint64, actor logging.EntityRef, payload JoinRejectedPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventJoinRejected,
		Seq:      seq,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Payload:  payload,
	})
}

// PlayerRemoved publishes a roster removal.
func PlayerRemoved(ctx context.Context, pub logging.Publisher, seq uint64, actor logging.EntityRef, payload PlayerRemovedPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventPlayerRemoved,
		Severity: logging.SeverityInfo,
		Seq:      seq,
		Actor:    actor,
		Payload:  payload,
	})
}

// TurnAdvanced publishes a turn handoff.
func TurnAdvanced(ctx context.Context, pub logging.Publisher, seq uint64, actor logging.EntityRef, payload TurnAdvancedPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventTurnAdvanced,
		Severity: logging.SeverityInfo,
		Seq:      seq,
		Actor:    actor,
		Payload:  payload,
	})
}

func publish(ctx context.Context, pub logging.Publisher, event logging.Event) {
	if pub == nil {
		return
	}
	event.Category = logging.CategoryLifecycle
	pub.Publish(ctx, event)
}
