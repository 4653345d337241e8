package session

// Canonicalize normalizes a document received from the transport. The store
// omits empty collections on the wire, which is indistinguishable from "never
// set", so every collection defaults to empty here instead of in each reducer
// case. It also restores the narrator sentinel and re-establishes the
// documented invariants on health and lastSeenLogIndex.
func Canonicalize(s State) State {
	if s.Assets == nil {
		s.Assets = []Asset{}
	}
	if s.Characters == nil {
		s.Characters = []Character{}
	}
	if s.StoryLog == nil {
		s.StoryLog = []Entry{}
	}
	if s.Quests == nil {
		s.Quests = []Quest{}
	}
	if s.ChatLog == nil {
		s.ChatLog = []ChatMessage{}
	}
	if s.LobbyChatLog == nil {
		s.LobbyChatLog = []ChatMessage{}
	}
	if s.Players == nil {
		s.Players = []Player{}
	}
	if s.PendingAssetApprovals == nil {
		s.PendingAssetApprovals = []PendingAssetApproval{}
	}

	if s.FindCharacter(NarratorID) < 0 {
		s.Characters = append([]Character{Narrator()}, s.Characters...)
	}

	characters := copyCharacters(s.Characters)
	for i := range characters {
		c := &characters[i]
		if c.SpriteAssetIDs == nil {
			c.SpriteAssetIDs = []string{}
		}
		if c.Status == "" {
			c.Status = CharacterActive
		}
		if c.MaxHealth < 0 {
			c.MaxHealth = 0
		}
		c.Health = clamp(c.Health, 0, c.MaxHealth)
	}
	s.Characters = characters

	players := copyPlayers(s.Players)
	for i := range players {
		p := &players[i]
		if p.LastSeenLogIndex < 0 {
			p.LastSeenLogIndex = 0
		}
		if p.LastSeenLogIndex > len(s.StoryLog) {
			p.LastSeenLogIndex = len(s.StoryLog)
		}
	}
	s.Players = players

	quests := copyQuests(s.Quests)
	for i := range quests {
		if quests[i].Status == "" {
			quests[i].Status = QuestActive
		}
	}
	s.Quests = quests

	return s
}
