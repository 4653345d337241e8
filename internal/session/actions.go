package session

import (
	"encoding/json"
	"fmt"
)

// ActionKind tags one variant of the reducer action union.
type ActionKind string

const (
	ActAppendLogEntry       ActionKind = "APPEND_LOG_ENTRY"
	ActResetStoryLog        ActionKind = "RESET_STORY_LOG"
	ActAddCharacter         ActionKind = "ADD_CHARACTER"
	ActUpdateCharacter      ActionKind = "UPDATE_CHARACTER"
	ActRemoveCharacter      ActionKind = "REMOVE_CHARACTER"
	ActReviveCharacter      ActionKind = "REVIVE_CHARACTER"
	ActAddAsset             ActionKind = "ADD_ASSET"
	ActSetAssetPublished    ActionKind = "SET_ASSET_PUBLISHED"
	ActDeleteAsset          ActionKind = "DELETE_ASSET"
	ActAddQuest             ActionKind = "ADD_QUEST"
	ActUpdateQuest          ActionKind = "UPDATE_QUEST"
	ActUpdateQuestStatus    ActionKind = "UPDATE_QUEST_STATUS"
	ActAddPlayer            ActionKind = "ADD_PLAYER"
	ActUpdatePlayer         ActionKind = "UPDATE_PLAYER"
	ActRemovePlayer         ActionKind = "REMOVE_PLAYER"
	ActMarkLogSeen          ActionKind = "MARK_LOG_SEEN"
	ActAdjustPlayerCoins    ActionKind = "ADJUST_PLAYER_COINS"
	ActAddChatMessage       ActionKind = "ADD_CHAT_MESSAGE"
	ActAddLobbyChatMessage  ActionKind = "ADD_LOBBY_CHAT_MESSAGE"
	ActSetLobbyMusic        ActionKind = "SET_LOBBY_MUSIC"
	ActUpdateSettings       ActionKind = "UPDATE_SETTINGS"
	ActSubmitAssetApproval  ActionKind = "SUBMIT_ASSET_APPROVAL"
	ActResolveAssetApproval ActionKind = "RESOLVE_ASSET_APPROVAL"
	ActSetGameData          ActionKind = "SET_GAME_DATA"
)

// Action is the closed union of reducer inputs. The reducer treats any value
// outside this package's variants as a no-op.
type Action interface {
	actionKind() ActionKind
}

// AppendLogEntry appends one entry to the story log. A choice selection whose
// choice carries effects expands into the full effect cascade.
type AppendLogEntry struct {
	Entry Entry `json:"entry"`
}

// ResetStoryLog clears the story log. Host-only administrative action.
type ResetStoryLog struct{}

// AddCharacter inserts a new character. No-op if the id already exists.
type AddCharacter struct {
	Character Character `json:"character"`
}

// UpdateCharacter replaces the character with a matching id.
type UpdateCharacter struct {
	Character Character `json:"character"`
}

// RemoveCharacter deletes a character. The narrator cannot be removed.
type RemoveCharacter struct {
	CharacterID string `json:"characterId"`
}

// ReviveCharacter returns a defeated character to active status. Defeat is
// one-way on the health path; this explicit host action is the only way back.
type ReviveCharacter struct {
	CharacterID string `json:"characterId"`
}

// AddAsset inserts a new asset. No-op if the id already exists.
type AddAsset struct {
	Asset Asset `json:"asset"`
}

// SetAssetPublished toggles an asset's published flag.
type SetAssetPublished struct {
	AssetID   string `json:"assetId"`
	Published bool   `json:"published"`
}

// DeleteAsset removes an asset and strips it from every character's sprite
// list and from the approval queue. Historical log references stay untouched.
type DeleteAsset struct {
	AssetID string `json:"assetId"`
}

// AddQuest inserts a new quest. No-op if the id already exists.
type AddQuest struct {
	Quest Quest `json:"quest"`
}

// UpdateQuest replaces quest metadata without touching its status.
type UpdateQuest struct {
	Quest Quest `json:"quest"`
}

// UpdateQuestStatus transitions a quest's status. The active-to-completed
// edge narrates the completion and any coin reward; repeating the transition
// is a no-op.
type UpdateQuestStatus struct {
	QuestID string           `json:"questId"`
	Status  QuestStatusValue `json:"status"`
}

// AddPlayer appends a roster entry. Rejected when the roster is full or the
// id already exists.
type AddPlayer struct {
	Player Player `json:"player"`
}

// UpdatePlayer replaces the roster entry with a matching id.
type UpdatePlayer struct {
	Player Player `json:"player"`
}

// RemovePlayer deletes a roster entry. No-op on unknown ids. Turn index
// adjustment is the protocol layer's job, not the reducer's.
type RemovePlayer struct {
	PlayerID string `json:"playerId"`
}

// MarkLogSeen advances a player's lastSeenLogIndex. The index never moves
// backwards and never passes the end of the log.
type MarkLogSeen struct {
	PlayerID string `json:"playerId"`
	Index    int    `json:"index"`
}

// AdjustPlayerCoins credits or debits a player's balance. This is the
// explicit ledger step the host performs when paying out quest rewards.
type AdjustPlayerCoins struct {
	PlayerID string `json:"playerId"`
	Delta    int    `json:"delta"`
}

// AddChatMessage appends to the in-game chat log.
type AddChatMessage struct {
	Message ChatMessage `json:"message"`
}

// AddLobbyChatMessage appends to the lobby chat log.
type AddLobbyChatMessage struct {
	Message ChatMessage `json:"message"`
}

// SetLobbyMusic replaces the lobby music URL. The value travels on its own
// transport path, never inside the main state document.
type SetLobbyMusic struct {
	URL string `json:"url"`
}

// UpdateSettings replaces the session title and GM rules text.
type UpdateSettings struct {
	Title   string `json:"title"`
	GMRules string `json:"gmRules"`
}

// SubmitAssetApproval queues a player-submitted asset for host moderation.
type SubmitAssetApproval struct {
	Approval PendingAssetApproval `json:"approval"`
}

// ResolveAssetApproval removes a queued approval. When approved, the asset is
// published and attached to the requested character's sprite list.
type ResolveAssetApproval struct {
	AssetID string `json:"assetId"`
	Approve bool   `json:"approve"`
}

// SetGameData replaces the whole document, canonicalizing collections that
// the transport may have omitted when empty.
type SetGameData struct {
	State State `json:"state"`
}

func (AppendLogEntry) actionKind() ActionKind       { return ActAppendLogEntry }
func (ResetStoryLog) actionKind() ActionKind        { return ActResetStoryLog }
func (AddCharacter) actionKind() ActionKind         { return ActAddCharacter }
func (UpdateCharacter) actionKind() ActionKind      { return ActUpdateCharacter }
func (RemoveCharacter) actionKind() ActionKind      { return ActRemoveCharacter }
func (ReviveCharacter) actionKind() ActionKind      { return ActReviveCharacter }
func (AddAsset) actionKind() ActionKind             { return ActAddAsset }
func (SetAssetPublished) actionKind() ActionKind    { return ActSetAssetPublished }
func (DeleteAsset) actionKind() ActionKind          { return ActDeleteAsset }
func (AddQuest) actionKind() ActionKind             { return ActAddQuest }
func (UpdateQuest) actionKind() ActionKind          { return ActUpdateQuest }
func (UpdateQuestStatus) actionKind() ActionKind    { return ActUpdateQuestStatus }
func (AddPlayer) actionKind() ActionKind            { return ActAddPlayer }
func (UpdatePlayer) actionKind() ActionKind         { return ActUpdatePlayer }
func (RemovePlayer) actionKind() ActionKind         { return ActRemovePlayer }
func (MarkLogSeen) actionKind() ActionKind          { return ActMarkLogSeen }
func (AdjustPlayerCoins) actionKind() ActionKind    { return ActAdjustPlayerCoins }
func (AddChatMessage) actionKind() ActionKind       { return ActAddChatMessage }
func (AddLobbyChatMessage) actionKind() ActionKind  { return ActAddLobbyChatMessage }
func (SetLobbyMusic) actionKind() ActionKind        { return ActSetLobbyMusic }
func (UpdateSettings) actionKind() ActionKind       { return ActUpdateSettings }
func (SubmitAssetApproval) actionKind() ActionKind  { return ActSubmitAssetApproval }
func (ResolveAssetApproval) actionKind() ActionKind { return ActResolveAssetApproval }
func (SetGameData) actionKind() ActionKind          { return ActSetGameData }

// KindOf returns the tag for an action, or "" for nil.
func KindOf(a Action) ActionKind {
	if a == nil {
		return ""
	}
	return a.actionKind()
}

// MarshalAction encodes an action as a tagged object for the wire.
func MarshalAction(a Action) ([]byte, error) {
	if a == nil {
		return nil, fmt.Errorf("marshal action: nil action")
	}
	payload, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", KindOf(a), err)
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("reshape %s: %w", KindOf(a), err)
	}
	kind, err := json.Marshal(KindOf(a))
	if err != nil {
		return nil, err
	}
	fields["type"] = kind
	return json.Marshal(fields)
}

// UnmarshalAction decodes a tagged action object. Unknown tags return a nil
// action and no error; the reducer treats nil as a no-op.
func UnmarshalAction(data []byte) (Action, error) {
	var tag struct {
		Type ActionKind `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("decode action tag: %w", err)
	}
	switch tag.Type {
	case ActAppendLogEntry:
		return decodeAction[AppendLogEntry](data, tag.Type)
	case ActResetStoryLog:
		return ResetStoryLog{}, nil
	case ActAddCharacter:
		return decodeAction[AddCharacter](data, tag.Type)
	case ActUpdateCharacter:
		return decodeAction[UpdateCharacter](data, tag.Type)
	case ActRemoveCharacter:
		return decodeAction[RemoveCharacter](data, tag.Type)
	case ActReviveCharacter:
		return decodeAction[ReviveCharacter](data, tag.Type)
	case ActAddAsset:
		return decodeAction[AddAsset](data, tag.Type)
	case ActSetAssetPublished:
		return decodeAction[SetAssetPublished](data, tag.Type)
	case ActDeleteAsset:
		return decodeAction[DeleteAsset](data, tag.Type)
	case ActAddQuest:
		return decodeAction[AddQuest](data, tag.Type)
	case ActUpdateQuest:
		return decodeAction[UpdateQuest](data, tag.Type)
	case ActUpdateQuestStatus:
		return decodeAction[UpdateQuestStatus](data, tag.Type)
	case ActAddPlayer:
		return decodeAction[AddPlayer](data, tag.Type)
	case ActUpdatePlayer:
		return decodeAction[UpdatePlayer](data, tag.Type)
	case ActRemovePlayer:
		return decodeAction[RemovePlayer](data, tag.Type)
	case ActMarkLogSeen:
		return decodeAction[MarkLogSeen](data, tag.Type)
	case ActAdjustPlayerCoins:
		return decodeAction[AdjustPlayerCoins](data, tag.Type)
	case ActAddChatMessage:
		return decodeAction[AddChatMessage](data, tag.Type)
	case ActAddLobbyChatMessage:
		return decodeAction[AddLobbyChatMessage](data, tag.Type)
	case ActSetLobbyMusic:
		return decodeAction[SetLobbyMusic](data, tag.Type)
	case ActUpdateSettings:
		return decodeAction[UpdateSettings](data, tag.Type)
	case ActSubmitAssetApproval:
		return decodeAction[SubmitAssetApproval](data, tag.Type)
	case ActResolveAssetApproval:
		return decodeAction[ResolveAssetApproval](data, tag.Type)
	case ActSetGameData:
		return decodeAction[SetGameData](data, tag.Type)
	default:
		return nil, nil
	}
}

func decodeAction[T Action](data []byte, kind ActionKind) (Action, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return v, nil
}
