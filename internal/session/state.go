package session

import "strings"

// MaxPlayers bounds the roster size of a single session.
const MaxPlayers = 5

// NarratorID is the sentinel character present in every session. The narrator
// is excluded from player assignment and from defeat handling.
const NarratorID = "narrator"

// AssetType classifies an uploaded asset.
type AssetType string

const (
	AssetBackground      AssetType = "background"
	AssetCharacterSprite AssetType = "characterSprite"
	AssetCG              AssetType = "cg"
)

// Asset is one entry in the session's media library. IDs are assigned once at
// creation and never reused.
type Asset struct {
	ID          string    `json:"id"`
	Type        AssetType `json:"type"`
	URL         string    `json:"url"`
	Name        string    `json:"name"`
	IsPublished bool      `json:"isPublished"`
	OwnerID     string    `json:"ownerId,omitempty"`
}

// CharacterStatus tracks whether a character can still act in the story.
type CharacterStatus string

const (
	CharacterActive   CharacterStatus = "active"
	CharacterDefeated CharacterStatus = "defeated"
)

// Character is a story participant controlled by the GM or assigned to a
// player.
type Character struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Bio            string          `json:"bio,omitempty"`
	SpriteAssetIDs []string        `json:"spriteAssetIds"`
	Health         int             `json:"health"`
	MaxHealth      int             `json:"maxHealth"`
	Status         CharacterStatus `json:"status"`
	Stats          map[string]int  `json:"stats,omitempty"`
}

// QuestStatusValue tracks quest progression.
type QuestStatusValue string

const (
	QuestActive    QuestStatusValue = "active"
	QuestCompleted QuestStatusValue = "completed"
)

// QuestRewards describes what a completed quest pays out. Rewards are narrated
// by the reducer; the ledger update itself is an explicit host action.
type QuestRewards struct {
	Coins int      `json:"coins"`
	Items []string `json:"items,omitempty"`
}

// Quest is a GM-authored objective, optionally assigned to a character.
type Quest struct {
	ID                  string           `json:"id"`
	Title               string           `json:"title"`
	Description         string           `json:"description,omitempty"`
	AssignedCharacterID string           `json:"assignedCharacterId,omitempty"`
	Status              QuestStatusValue `json:"status"`
	Rewards             QuestRewards     `json:"rewards"`
}

// ChatMessage is one line in a chat log. Timestamp is unix milliseconds.
type ChatMessage struct {
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	Text       string `json:"text"`
	Timestamp  int64  `json:"timestamp"`
}

// SystemSenderID marks chat messages authored by the session itself, such as
// join rejections.
const SystemSenderID = "system"

// Player is one roster entry. Roster order defines the turn sequence.
type Player struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	LastSeenLogIndex     int    `json:"lastSeenLogIndex"`
	Coins                int    `json:"coins"`
	IsWaitingForApproval bool   `json:"isWaitingForApproval,omitempty"`
}

// PendingAssetApproval is one entry in the moderation queue for
// player-submitted assets.
type PendingAssetApproval struct {
	AssetID             string `json:"assetId"`
	CharacterIDToAssign string `json:"characterIdToAssign,omitempty"`
	SubmittingPlayerID  string `json:"submittingPlayerId"`
}

// State is the authoritative session document. It is only ever produced by
// the reducer; consumers treat it as immutable.
type State struct {
	Title                 string                 `json:"title"`
	GMRules               string                 `json:"gmRules,omitempty"`
	Assets                []Asset                `json:"assets"`
	Characters            []Character            `json:"characters"`
	StoryLog              []Entry                `json:"storyLog"`
	Quests                []Quest                `json:"quests"`
	ChatLog               []ChatMessage          `json:"chatLog"`
	LobbyChatLog          []ChatMessage          `json:"lobbyChatLog"`
	LobbyMusicURL         string                 `json:"lobbyMusicUrl,omitempty"`
	Players               []Player               `json:"players"`
	PendingAssetApprovals []PendingAssetApproval `json:"pendingAssetApprovals"`
}

// NewState builds an empty session document containing only the narrator.
func NewState(title string) State {
	return Canonicalize(State{Title: title})
}

// Narrator returns the sentinel narrator character with extremal stats.
func Narrator() Character {
	return Character{
		ID:        NarratorID,
		Name:      "Narrator",
		Bio:       "The omniscient voice of the story.",
		Health:    9999,
		MaxHealth: 9999,
		Status:    CharacterActive,
		Stats:     map[string]int{"strength": 99, "wisdom": 99, "charisma": 99},
	}
}

// FindCharacter returns the index of the character with the given id, or -1.
func (s State) FindCharacter(id string) int {
	for i := range s.Characters {
		if s.Characters[i].ID == id {
			return i
		}
	}
	return -1
}

// FindPlayer returns the index of the player with the given id, or -1.
func (s State) FindPlayer(id string) int {
	for i := range s.Players {
		if s.Players[i].ID == id {
			return i
		}
	}
	return -1
}

// FindAsset returns the index of the asset with the given id, or -1.
func (s State) FindAsset(id string) int {
	for i := range s.Assets {
		if s.Assets[i].ID == id {
			return i
		}
	}
	return -1
}

// FindQuest returns the index of the quest with the given id, or -1.
func (s State) FindQuest(id string) int {
	for i := range s.Quests {
		if s.Quests[i].ID == id {
			return i
		}
	}
	return -1
}

// HasPlayerName reports whether any roster entry already uses the given name,
// compared case-insensitively.
func (s State) HasPlayerName(name string) bool {
	for i := range s.Players {
		if strings.EqualFold(s.Players[i].Name, name) {
			return true
		}
	}
	return false
}
