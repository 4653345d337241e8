package session

import (
	"encoding/json"
	"fmt"
)

// EntryKind tags one variant of the story log union.
type EntryKind string

const (
	KindDialogue         EntryKind = "dialogue"
	KindChoice           EntryKind = "choice"
	KindChoiceSelection  EntryKind = "choice_selection"
	KindBackgroundChange EntryKind = "background_change"
	KindSpriteChange     EntryKind = "sprite_change"
	KindCGShow           EntryKind = "cg_show"
	KindDiceRoll         EntryKind = "dice_roll"
	KindQuestStatus      EntryKind = "quest_status"
	KindStatChange       EntryKind = "stat_change"
)

// LogEntry is the closed union of story log variants. Concrete variants live
// in this package only; consumers dispatch with a type switch.
type LogEntry interface {
	entryKind() EntryKind
}

// ChoiceEffects describes the mechanical consequences of picking a choice.
// Zero values mean "no effect", matching the wire format where absent fields
// carry no consequence.
type ChoiceEffects struct {
	Coins             int    `json:"coins,omitempty"`
	HP                int    `json:"hp,omitempty"`
	TargetCharacterID string `json:"targetCharacterId,omitempty"`
}

// Choice is one selectable option in a choice entry.
type Choice struct {
	Text    string         `json:"text"`
	Effects *ChoiceEffects `json:"effects,omitempty"`
}

// Dialogue is a spoken or narrated line attributed to a character.
type Dialogue struct {
	CharacterID string `json:"characterId"`
	Text        string `json:"text"`
}

// ChoicePrompt presents options and blocks playback until a live selection.
type ChoicePrompt struct {
	Choices []Choice `json:"choices"`
}

// ChoiceSelection records which choice a player picked on behalf of a
// character.
type ChoiceSelection struct {
	PlayerID    string `json:"playerId"`
	CharacterID string `json:"characterId"`
	Choice      Choice `json:"choice"`
}

// BackgroundChange swaps the scene background. An empty AssetID clears it.
type BackgroundChange struct {
	AssetID string `json:"assetId,omitempty"`
}

// SpriteChange swaps the visible sprite for one character. An empty AssetID
// clears it.
type SpriteChange struct {
	CharacterID string `json:"characterId"`
	AssetID     string `json:"assetId,omitempty"`
}

// CGShow displays a full-screen CG overlay. An empty AssetID clears it.
type CGShow struct {
	AssetID string `json:"assetId,omitempty"`
}

// DiceRoll records the result of a die roll made during a turn.
type DiceRoll struct {
	CharacterID string `json:"characterId"`
	Sides       int    `json:"sides"`
	Result      int    `json:"result"`
}

// QuestStatus narrates a quest transition.
type QuestStatus struct {
	Text string `json:"text"`
}

// StatChange narrates a mechanical stat adjustment.
type StatChange struct {
	Text string `json:"text"`
}

// UnknownEntry preserves a log entry whose kind this build does not know.
// Playback and the reducer skip it; it round-trips on the wire untouched.
type UnknownEntry struct {
	Kind EntryKind
	Raw  json.RawMessage
}

func (Dialogue) entryKind() EntryKind         { return KindDialogue }
func (ChoicePrompt) entryKind() EntryKind     { return KindChoice }
func (ChoiceSelection) entryKind() EntryKind  { return KindChoiceSelection }
func (BackgroundChange) entryKind() EntryKind { return KindBackgroundChange }
func (SpriteChange) entryKind() EntryKind     { return KindSpriteChange }
func (CGShow) entryKind() EntryKind           { return KindCGShow }
func (DiceRoll) entryKind() EntryKind         { return KindDiceRoll }
func (QuestStatus) entryKind() EntryKind      { return KindQuestStatus }
func (StatChange) entryKind() EntryKind       { return KindStatChange }
func (u UnknownEntry) entryKind() EntryKind   { return u.Kind }

// Entry wraps a LogEntry variant so story logs serialize as tagged objects.
type Entry struct {
	LogEntry
}

// E is shorthand for wrapping a variant into an Entry.
func E(v LogEntry) Entry { return Entry{LogEntry: v} }

// Kind returns the tag of the wrapped variant, or "" for an empty entry.
func (e Entry) Kind() EntryKind {
	if e.LogEntry == nil {
		return ""
	}
	return e.LogEntry.entryKind()
}

// MarshalJSON encodes the variant with its kind tag folded into the object.
func (e Entry) MarshalJSON() ([]byte, error) {
	if e.LogEntry == nil {
		return []byte("null"), nil
	}
	if u, ok := e.LogEntry.(UnknownEntry); ok {
		return append([]byte(nil), u.Raw...), nil
	}
	payload, err := json.Marshal(e.LogEntry)
	if err != nil {
		return nil, fmt.Errorf("marshal %s entry: %w", e.Kind(), err)
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("reshape %s entry: %w", e.Kind(), err)
	}
	kind, err := json.Marshal(e.Kind())
	if err != nil {
		return nil, err
	}
	fields["kind"] = kind
	return json.Marshal(fields)
}

// UnmarshalJSON decodes a tagged object into the matching variant. Unknown
// kinds are preserved verbatim so an older build never drops log history.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var tag struct {
		Kind EntryKind `json:"kind"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return fmt.Errorf("decode entry tag: %w", err)
	}
	switch tag.Kind {
	case KindDialogue:
		var v Dialogue
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		e.LogEntry = v
	case KindChoice:
		var v ChoicePrompt
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		e.LogEntry = v
	case KindChoiceSelection:
		var v ChoiceSelection
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		e.LogEntry = v
	case KindBackgroundChange:
		var v BackgroundChange
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		e.LogEntry = v
	case KindSpriteChange:
		var v SpriteChange
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		e.LogEntry = v
	case KindCGShow:
		var v CGShow
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		e.LogEntry = v
	case KindDiceRoll:
		var v DiceRoll
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		e.LogEntry = v
	case KindQuestStatus:
		var v QuestStatus
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		e.LogEntry = v
	case KindStatChange:
		var v StatChange
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		e.LogEntry = v
	default:
		e.LogEntry = UnknownEntry{Kind: tag.Kind, Raw: append(json.RawMessage(nil), data...)}
	}
	return nil
}
