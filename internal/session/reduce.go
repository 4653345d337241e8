package session

import "fmt"

// Reduce folds one action into the session document and returns the new
// document. It is pure and total: the input state is never mutated, and any
// action this build does not recognize (including nil) returns the state
// unchanged.
func Reduce(s State, a Action) State {
	switch act := a.(type) {
	case AppendLogEntry:
		return applyLogEntry(s, act.Entry)
	case ResetStoryLog:
		s.StoryLog = []Entry{}
		players := copyPlayers(s.Players)
		for i := range players {
			players[i].LastSeenLogIndex = 0
		}
		s.Players = players
		return s
	case AddCharacter:
		if s.FindCharacter(act.Character.ID) >= 0 {
			return s
		}
		s.Characters = append(copyCharacters(s.Characters), act.Character)
		return s
	case UpdateCharacter:
		i := s.FindCharacter(act.Character.ID)
		if i < 0 {
			return s
		}
		characters := copyCharacters(s.Characters)
		characters[i] = act.Character
		s.Characters = characters
		return s
	case RemoveCharacter:
		if act.CharacterID == NarratorID {
			return s
		}
		i := s.FindCharacter(act.CharacterID)
		if i < 0 {
			return s
		}
		characters := copyCharacters(s.Characters)
		s.Characters = append(characters[:i], characters[i+1:]...)
		return s
	case ReviveCharacter:
		i := s.FindCharacter(act.CharacterID)
		if i < 0 || s.Characters[i].Status != CharacterDefeated {
			return s
		}
		characters := copyCharacters(s.Characters)
		characters[i].Status = CharacterActive
		if characters[i].Health <= 0 {
			characters[i].Health = 1
		}
		s.Characters = characters
		return s
	case AddAsset:
		if s.FindAsset(act.Asset.ID) >= 0 {
			return s
		}
		s.Assets = append(copyAssets(s.Assets), act.Asset)
		return s
	case SetAssetPublished:
		i := s.FindAsset(act.AssetID)
		if i < 0 {
			return s
		}
		assets := copyAssets(s.Assets)
		assets[i].IsPublished = act.Published
		s.Assets = assets
		return s
	case DeleteAsset:
		return deleteAsset(s, act.AssetID)
	case AddQuest:
		if s.FindQuest(act.Quest.ID) >= 0 {
			return s
		}
		s.Quests = append(copyQuests(s.Quests), act.Quest)
		return s
	case UpdateQuest:
		i := s.FindQuest(act.Quest.ID)
		if i < 0 {
			return s
		}
		quests := copyQuests(s.Quests)
		status := quests[i].Status
		quests[i] = act.Quest
		quests[i].Status = status
		s.Quests = quests
		return s
	case UpdateQuestStatus:
		return updateQuestStatus(s, act)
	case AddPlayer:
		if len(s.Players) >= MaxPlayers || s.FindPlayer(act.Player.ID) >= 0 {
			return s
		}
		s.Players = append(copyPlayers(s.Players), act.Player)
		return s
	case UpdatePlayer:
		i := s.FindPlayer(act.Player.ID)
		if i < 0 {
			return s
		}
		players := copyPlayers(s.Players)
		players[i] = act.Player
		s.Players = players
		return s
	case RemovePlayer:
		i := s.FindPlayer(act.PlayerID)
		if i < 0 {
			return s
		}
		players := copyPlayers(s.Players)
		s.Players = append(players[:i], players[i+1:]...)
		return s
	case MarkLogSeen:
		i := s.FindPlayer(act.PlayerID)
		if i < 0 {
			return s
		}
		index := act.Index
		if index > len(s.StoryLog) {
			index = len(s.StoryLog)
		}
		if index <= s.Players[i].LastSeenLogIndex {
			return s
		}
		players := copyPlayers(s.Players)
		players[i].LastSeenLogIndex = index
		s.Players = players
		return s
	case AdjustPlayerCoins:
		i := s.FindPlayer(act.PlayerID)
		if i < 0 || act.Delta == 0 {
			return s
		}
		players := copyPlayers(s.Players)
		players[i].Coins += act.Delta
		s.Players = players
		return s
	case AddChatMessage:
		s.ChatLog = append(copyChat(s.ChatLog), act.Message)
		return s
	case AddLobbyChatMessage:
		s.LobbyChatLog = append(copyChat(s.LobbyChatLog), act.Message)
		return s
	case SetLobbyMusic:
		s.LobbyMusicURL = act.URL
		return s
	case UpdateSettings:
		s.Title = act.Title
		s.GMRules = act.GMRules
		return s
	case SubmitAssetApproval:
		if s.FindAsset(act.Approval.AssetID) < 0 {
			return s
		}
		for i := range s.PendingAssetApprovals {
			if s.PendingAssetApprovals[i].AssetID == act.Approval.AssetID {
				return s
			}
		}
		s.PendingAssetApprovals = append(copyApprovals(s.PendingAssetApprovals), act.Approval)
		return s
	case ResolveAssetApproval:
		return resolveAssetApproval(s, act)
	case SetGameData:
		return Canonicalize(act.State)
	default:
		return s
	}
}

// applyLogEntry appends the entry plus, for choice selections carrying
// effects, the synthesized follow-up entries. The synthesized order is a
// contract consumed by playback and history rendering: primary entry, coin
// narration, HP narration, defeat narration, sprite clear.
func applyLogEntry(s State, e Entry) State {
	if e.LogEntry == nil {
		return s
	}
	log := append(copyEntries(s.StoryLog), e)
	s.StoryLog = log

	cs, ok := e.LogEntry.(ChoiceSelection)
	if !ok || cs.Choice.Effects == nil {
		return s
	}
	effects := *cs.Choice.Effects

	if effects.Coins != 0 {
		if i := s.FindPlayer(cs.PlayerID); i >= 0 {
			players := copyPlayers(s.Players)
			players[i].Coins += effects.Coins
			s.Players = players
			s.StoryLog = append(s.StoryLog, E(StatChange{Text: coinNarration(players[i].Name, effects.Coins)}))
		}
	}

	if effects.HP != 0 {
		if i := s.FindCharacter(effects.TargetCharacterID); i >= 0 {
			characters := copyCharacters(s.Characters)
			target := &characters[i]
			before := target.Health
			target.Health = clamp(target.Health+effects.HP, 0, target.MaxHealth)
			s.Characters = characters
			s.StoryLog = append(s.StoryLog, E(StatChange{Text: hpNarration(target.Name, effects.HP)}))
			if before > 0 && target.Health <= 0 && target.ID != NarratorID {
				target.Status = CharacterDefeated
				s.StoryLog = append(s.StoryLog,
					E(StatChange{Text: fmt.Sprintf("%s has been defeated", target.Name)}),
					E(SpriteChange{CharacterID: target.ID}),
				)
			}
		}
	}

	return s
}

// updateQuestStatus narrates the active-to-completed edge exactly once.
// Repeating the transition, or naming an unknown quest, is a no-op. Rewards
// are narrated only; the host applies the ledger change explicitly via
// AdjustPlayerCoins.
func updateQuestStatus(s State, act UpdateQuestStatus) State {
	i := s.FindQuest(act.QuestID)
	if i < 0 || s.Quests[i].Status == act.Status {
		return s
	}
	quests := copyQuests(s.Quests)
	from := quests[i].Status
	quests[i].Status = act.Status
	s.Quests = quests

	if from == QuestActive && act.Status == QuestCompleted {
		log := copyEntries(s.StoryLog)
		log = append(log, E(QuestStatus{Text: fmt.Sprintf("Quest completed: %s", quests[i].Title)}))
		if quests[i].Rewards.Coins > 0 {
			log = append(log, E(StatChange{Text: fmt.Sprintf("Reward: %d coins", quests[i].Rewards.Coins)}))
		}
		s.StoryLog = log
	}
	return s
}

// deleteAsset removes the asset and strips every live reference: character
// sprite lists and the approval queue. Historical log entries keep their ids
// and resolve to "no asset" at playback.
func deleteAsset(s State, assetID string) State {
	i := s.FindAsset(assetID)
	if i < 0 {
		return s
	}
	assets := copyAssets(s.Assets)
	s.Assets = append(assets[:i], assets[i+1:]...)

	characters := copyCharacters(s.Characters)
	for ci := range characters {
		ids := characters[ci].SpriteAssetIDs
		kept := make([]string, 0, len(ids))
		for _, id := range ids {
			if id != assetID {
				kept = append(kept, id)
			}
		}
		characters[ci].SpriteAssetIDs = kept
	}
	s.Characters = characters

	approvals := make([]PendingAssetApproval, 0, len(s.PendingAssetApprovals))
	for _, pa := range s.PendingAssetApprovals {
		if pa.AssetID != assetID {
			approvals = append(approvals, pa)
		}
	}
	s.PendingAssetApprovals = approvals
	return s
}

// resolveAssetApproval dequeues the approval. Approved assets are published
// and attached to the requested character; rejected assets are deleted
// outright with the usual cascade.
func resolveAssetApproval(s State, act ResolveAssetApproval) State {
	found := -1
	for i := range s.PendingAssetApprovals {
		if s.PendingAssetApprovals[i].AssetID == act.AssetID {
			found = i
			break
		}
	}
	if found < 0 {
		return s
	}
	approval := s.PendingAssetApprovals[found]
	approvals := copyApprovals(s.PendingAssetApprovals)
	s.PendingAssetApprovals = append(approvals[:found], approvals[found+1:]...)

	if !act.Approve {
		return deleteAsset(s, act.AssetID)
	}

	if i := s.FindAsset(act.AssetID); i >= 0 {
		assets := copyAssets(s.Assets)
		assets[i].IsPublished = true
		s.Assets = assets
	}
	if ci := s.FindCharacter(approval.CharacterIDToAssign); ci >= 0 {
		characters := copyCharacters(s.Characters)
		already := false
		for _, id := range characters[ci].SpriteAssetIDs {
			if id == act.AssetID {
				already = true
				break
			}
		}
		if !already {
			characters[ci].SpriteAssetIDs = append(copyStrings(characters[ci].SpriteAssetIDs), act.AssetID)
		}
		s.Characters = characters
	}
	return s
}

func coinNarration(name string, delta int) string {
	if delta > 0 {
		return fmt.Sprintf("%s gained %d coins", name, delta)
	}
	return fmt.Sprintf("%s lost %d coins", name, -delta)
}

func hpNarration(name string, delta int) string {
	if delta > 0 {
		return fmt.Sprintf("%s gained %d HP", name, delta)
	}
	return fmt.Sprintf("%s lost %d HP", name, -delta)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func copyEntries(in []Entry) []Entry {
	out := make([]Entry, len(in))
	copy(out, in)
	return out
}

func copyPlayers(in []Player) []Player {
	out := make([]Player, len(in))
	copy(out, in)
	return out
}

func copyCharacters(in []Character) []Character {
	out := make([]Character, len(in))
	copy(out, in)
	return out
}

func copyAssets(in []Asset) []Asset {
	out := make([]Asset, len(in))
	copy(out, in)
	return out
}

func copyQuests(in []Quest) []Quest {
	out := make([]Quest, len(in))
	copy(out, in)
	return out
}

func copyChat(in []ChatMessage) []ChatMessage {
	out := make([]ChatMessage, len(in))
	copy(out, in)
	return out
}

func copyApprovals(in []PendingAssetApproval) []PendingAssetApproval {
	out := make([]PendingAssetApproval, len(in))
	copy(out, in)
	return out
}

func copyStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
