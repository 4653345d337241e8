package network

import (
	"context"

	"storyloom/server/logging"
)

const (
	// EventSyncPublished is emitted after the host writes a state broadcast.
	EventSyncPublished logging.EventType = "network.sync_published"
	// EventWriteFailed is emitted when a transport write fails.
	EventWriteFailed logging.EventType = "network.write_failed"
	// EventDuplicateMessage is emitted when an inbox message replays a
	// message id the host already processed.
	EventDuplicateMessage logging.EventType = "network.duplicate_message"
	// EventMessageIgnored is emitted when an inbox message fails validation.
	EventMessageIgnored logging.EventType = "network.message_ignored"
)

// SyncPublishedPayload captures broadcast sizing.
type SyncPublishedPayload struct {
	Bytes      int  `json:"bytes"`
	MusicSplit bool `json:"musicSplit"`
}

// WriteFailedPayload captures the failed path and likely cause.
type WriteFailedPayload struct {
	Path  string `json:"path"`
	Cause string `json:"cause"`
	Error string `json:"error"`
}

// MessageIgnoredPayload captures why an inbox message was dropped.
type MessageIgnoredPayload struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// SyncPublished publishes a successful broadcast.
func SyncPublished(ctx context.Context, pub logging.Publisher, seq uint64, payload SyncPublishedPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventSyncPublished,
		Seq:      seq,
		Actor:    logging.EntityRef{ID: "host", Kind: logging.EntityKindSession},
		Severity: logging.SeverityDebug,
		Payload:  payload,
	})
}

// WriteFailed publishes a transport write failure.
func WriteFailed(ctx context.Context, pub logging.Publisher, seq uint64, payload WriteFailedPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventWriteFailed,
		Seq:      seq,
		Actor:    logging.EntityRef{ID: "host", Kind: logging.EntityKindSession},
		Severity: logging.SeverityError,
		Payload:  payload,
	})
}

// DuplicateMessage publishes a deduplicated inbox replay.
func DuplicateMessage(ctx context.Context, pub logging.Publisher, seq uint64, messageID string) {
	publish(ctx, pub, logging.Event{
		Type:      EventDuplicateMessage,
		Seq:       seq,
		Actor:     logging.EntityRef{ID: "host", Kind: logging.EntityKindSession},
		Severity:  logging.SeverityDebug,
		MessageID: messageID,
	})
}

// MessageIgnored publishes a validation drop.
func MessageIgnored(ctx context.Context, pub logging.Publisher, seq uint64, payload MessageIgnoredPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventMessageIgnored,
		Seq:      seq,
		Actor:    logging.EntityRef{ID: "host", Kind: logging.EntityKindSession},
		Severity: logging.SeverityDebug,
		Payload:  payload,
	})
}

func publish(ctx context.Context, pub logging.Publisher, event logging.Event) {
	if pub == nil {
		return
	}
	event.Category = logging.CategoryNetwork
	pub.Publish(ctx, event)
}
