package story

import (
	"context"

	"storyloom/server/logging"
)

const (
	// EventEntryAppended is emitted when the reducer appends to the story log.
	EventEntryAppended logging.EventType = "story.entry_appended"
	// EventActionApplied is emitted after any action passes the reducer.
	EventActionApplied logging.EventType = "story.action_applied"
	// EventLogReset is emitted when the host clears the story log.
	EventLogReset logging.EventType = "story.log_reset"
	// EventCharacterDefeated is emitted when a choice effect drops a
	// character to zero health.
	EventCharacterDefeated logging.EventType = "story.character_defeated"
)

// EntryAppendedPayload captures what kind of entry landed in the log.
type EntryAppendedPayload struct {
	Kind string `json:"kind"`
}

// ActionAppliedPayload captures the action tag and whether it changed state.
type ActionAppliedPayload struct {
	Action  string `json:"action"`
	Changed bool   `json:"changed"`
}

// EntryAppended publishes a story log append.
func EntryAppended(ctx context.Context, pub logging.Publisher, seq uint64, actor logging.EntityRef, payload EntryAppendedPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventEntryAppended,
		Severity: logging.SeverityInfo,
		Seq:      seq,
		Actor:    actor,
		Payload:  payload,
	})
}

// ActionApplied publishes a reducer application.
func ActionApplied(ctx context.Context, pub logging.Publisher, seq uint64, actor logging.EntityRef, payload ActionAppliedPayload) {
	publish(ctx, pub, logging.Event{
		Type:     EventActionApplied,
		Seq:      seq,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Payload:  payload,
	})
}

// LogReset publishes a host log reset.
func LogReset(ctx context.Context, pub logging.Publisher, actor logging.EntityRef) {
	publish(ctx, pub, logging.Event{
		Type:     EventLogReset,
		Severity: logging.SeverityInfo,
		Actor:    actor,
	})
}

// CharacterDefeated publishes a defeat transition.
func CharacterDefeated(ctx context.Context, pub logging.Publisher, seq uint64, target logging.EntityRef) {
	publish(ctx, pub, logging.Event{
		Type:     EventCharacterDefeated,
		Severity: logging.SeverityInfo,
		Seq:      seq,
		Actor:    target,
		Targets:  []logging.EntityRef{target},
	})
}

func publish(ctx context.Context, pub logging.Publisher, event logging.Event) {
	if pub == nil {
		return
	}
	event.Category = logging.CategoryStory
	pub.Publish(ctx, event)
}
