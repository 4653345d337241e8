// Package playback turns the append-only story log into presentable beats.
// Catch-up folds everything a player has already seen into a silent scene;
// unseen entries replay one beat at a time, and an unanswered choice prompt
// halts the run until a selection lands in the log.
package playback

import "storyloom/server/internal/session"

// Scene is the accumulated visual state at a point in the log: the current
// background, CG overlay, and per-character sprite assignments.
type Scene struct {
	BackgroundAssetID string
	CGAssetID         string
	SpriteByCharacter map[string]string
}

// NewScene returns an empty scene.
func NewScene() Scene {
	return Scene{SpriteByCharacter: make(map[string]string)}
}

// clone returns an independent copy so beats never alias each other.
func (s Scene) clone() Scene {
	out := Scene{
		BackgroundAssetID: s.BackgroundAssetID,
		CGAssetID:         s.CGAssetID,
		SpriteByCharacter: make(map[string]string, len(s.SpriteByCharacter)),
	}
	for k, v := range s.SpriteByCharacter {
		out.SpriteByCharacter[k] = v
	}
	return out
}

// apply folds one entry into the scene. Only visual entries change it;
// everything else passes through untouched. Unknown kinds are skipped.
func (s *Scene) apply(entry session.Entry) {
	switch v := entry.LogEntry.(type) {
	case session.BackgroundChange:
		s.BackgroundAssetID = v.AssetID
	case session.CGShow:
		s.CGAssetID = v.AssetID
	case session.SpriteChange:
		if v.AssetID == "" {
			delete(s.SpriteByCharacter, v.CharacterID)
		} else {
			s.SpriteByCharacter[v.CharacterID] = v.AssetID
		}
	}
}

// FoldScene silently folds log entries [0, upto) into a scene. This is the
// catch-up path: a rejoining player gets the visual state they left at
// without replaying every beat.
func FoldScene(log []session.Entry, upto int) Scene {
	if upto > len(log) {
		upto = len(log)
	}
	scene := NewScene()
	for i := 0; i < upto; i++ {
		scene.apply(log[i])
	}
	return scene
}

// Beat is one presentable step: the scene as of the flushing entry, the entry
// itself, and the log index playback reaches once the beat is shown.
type Beat struct {
	Scene Scene
	Entry session.Entry
	Index int
}

// Run is the result of advancing playback from a starting index.
type Run struct {
	Beats []Beat
	// Halted reports that playback stopped at an unanswered choice prompt.
	Halted bool
	// Prompt is the halting choice, valid only when Halted.
	Prompt session.ChoicePrompt
	// HaltIndex is the log index of the halting prompt, valid only when
	// Halted.
	HaltIndex int
	// FinalIndex is the index to report as seen. It moves only when the run
	// completes; a halted run leaves progress at the starting index so the
	// same prompt replays after a reload.
	FinalIndex int
}

// Advance replays log entries [from, len(log)) into beats. Visual entries
// accumulate silently into the pending scene; dialogue, selections, dice
// rolls, and narration flush a beat. A choice prompt with no selection later
// in the log halts the run.
func Advance(log []session.Entry, from int) Run {
	if from < 0 {
		from = 0
	}
	if from > len(log) {
		from = len(log)
	}

	run := Run{FinalIndex: from}
	scene := FoldScene(log, from)

	for i := from; i < len(log); i++ {
		entry := log[i]
		switch v := entry.LogEntry.(type) {
		case session.BackgroundChange, session.SpriteChange, session.CGShow:
			scene.apply(entry)
		case session.ChoicePrompt:
			if !selectionAfter(log, i) {
				run.Halted = true
				run.Prompt = v
				run.HaltIndex = i
				return run
			}
			// Already answered; the selection beat that follows carries the
			// outcome.
		case session.UnknownEntry:
			// Skip entries from a newer build.
		default:
			run.Beats = append(run.Beats, Beat{
				Scene: scene.clone(),
				Entry: entry,
				Index: i + 1,
			})
		}
	}
	run.FinalIndex = len(log)
	return run
}

func selectionAfter(log []session.Entry, promptIndex int) bool {
	for i := promptIndex + 1; i < len(log); i++ {
		if _, ok := log[i].LogEntry.(session.ChoiceSelection); ok {
			return true
		}
	}
	return false
}

// ResolveScene drops asset references the session no longer holds, so a
// deleted asset renders as cleared rather than broken.
func ResolveScene(scene Scene, state session.State) Scene {
	out := scene.clone()
	if out.BackgroundAssetID != "" && state.FindAsset(out.BackgroundAssetID) < 0 {
		out.BackgroundAssetID = ""
	}
	if out.CGAssetID != "" && state.FindAsset(out.CGAssetID) < 0 {
		out.CGAssetID = ""
	}
	for characterID, assetID := range out.SpriteByCharacter {
		if state.FindAsset(assetID) < 0 {
			delete(out.SpriteByCharacter, characterID)
		}
	}
	return out
}
