package playback

import (
	"testing"

	"storyloom/server/internal/session"
)

func sampleLog() []session.Entry {
	return []session.Entry{
		session.E(session.BackgroundChange{AssetID: "bg-castle"}),
		session.E(session.SpriteChange{CharacterID: "c1", AssetID: "sprite-hood"}),
		session.E(session.Dialogue{CharacterID: "c1", Text: "We made it."}),
		session.E(session.CGShow{AssetID: "cg-gate"}),
		session.E(session.Dialogue{CharacterID: session.NarratorID, Text: "The gate loomed."}),
	}
}

func TestFoldSceneAccumulates(t *testing.T) {
	scene := FoldScene(sampleLog(), 5)
	if scene.BackgroundAssetID != "bg-castle" {
		t.Fatalf("background = %q", scene.BackgroundAssetID)
	}
	if scene.CGAssetID != "cg-gate" {
		t.Fatalf("cg = %q", scene.CGAssetID)
	}
	if got := scene.SpriteByCharacter["c1"]; got != "sprite-hood" {
		t.Fatalf("sprite = %q", got)
	}
}

func TestFoldSceneRespectsUpto(t *testing.T) {
	scene := FoldScene(sampleLog(), 1)
	if scene.CGAssetID != "" || len(scene.SpriteByCharacter) != 0 {
		t.Fatalf("entries past upto leaked into scene: %+v", scene)
	}
}

func TestSpriteClearRemovesCharacter(t *testing.T) {
	log := append(sampleLog(), session.E(session.SpriteChange{CharacterID: "c1"}))
	scene := FoldScene(log, len(log))
	if _, ok := scene.SpriteByCharacter["c1"]; ok {
		t.Fatalf("cleared sprite still present")
	}
}

func TestAdvanceFlushesBeatsWithSceneState(t *testing.T) {
	run := Advance(sampleLog(), 0)
	if run.Halted {
		t.Fatalf("unexpected halt")
	}
	if len(run.Beats) != 2 {
		t.Fatalf("expected 2 beats, got %d", len(run.Beats))
	}

	first := run.Beats[0]
	if first.Scene.BackgroundAssetID != "bg-castle" || first.Scene.SpriteByCharacter["c1"] != "sprite-hood" {
		t.Fatalf("first beat scene incomplete: %+v", first.Scene)
	}
	if first.Scene.CGAssetID != "" {
		t.Fatalf("first beat saw a later CG: %+v", first.Scene)
	}
	if first.Index != 3 {
		t.Fatalf("first beat index = %d", first.Index)
	}

	second := run.Beats[1]
	if second.Scene.CGAssetID != "cg-gate" {
		t.Fatalf("second beat missing CG: %+v", second.Scene)
	}
	if run.FinalIndex != 5 {
		t.Fatalf("final index = %d", run.FinalIndex)
	}
}

func TestAdvanceFromSeenIndexSkipsOldBeats(t *testing.T) {
	run := Advance(sampleLog(), 3)
	if len(run.Beats) != 1 {
		t.Fatalf("expected 1 beat, got %d", len(run.Beats))
	}
	// The skipped prefix still shapes the scene.
	if got := run.Beats[0].Scene.BackgroundAssetID; got != "bg-castle" {
		t.Fatalf("catch-up scene lost background: %q", got)
	}
}

func TestAdvanceHaltsAtUnansweredChoice(t *testing.T) {
	log := append(sampleLog(), session.E(session.ChoicePrompt{
		Choices: []session.Choice{{Text: "Knock"}, {Text: "Sneak in"}},
	}))
	run := Advance(log, 0)
	if !run.Halted {
		t.Fatalf("expected halt at choice")
	}
	if run.HaltIndex != 5 {
		t.Fatalf("halt index = %d", run.HaltIndex)
	}
	if len(run.Prompt.Choices) != 2 {
		t.Fatalf("prompt lost choices: %+v", run.Prompt)
	}
	// Progress must not move past the starting index on a halted run.
	if run.FinalIndex != 0 {
		t.Fatalf("halted run advanced final index to %d", run.FinalIndex)
	}
}

func TestAdvancePassesAnsweredChoice(t *testing.T) {
	log := append(sampleLog(),
		session.E(session.ChoicePrompt{Choices: []session.Choice{{Text: "Knock"}}}),
		session.E(session.ChoiceSelection{PlayerID: "p1", CharacterID: "c1", Choice: session.Choice{Text: "Knock"}}),
	)
	run := Advance(log, 0)
	if run.Halted {
		t.Fatalf("answered choice halted playback")
	}
	last := run.Beats[len(run.Beats)-1]
	if _, ok := last.Entry.LogEntry.(session.ChoiceSelection); !ok {
		t.Fatalf("selection beat missing, last entry %T", last.Entry.LogEntry)
	}
	if run.FinalIndex != len(log) {
		t.Fatalf("final index = %d, want %d", run.FinalIndex, len(log))
	}
}

func TestAdvanceIsDeterministic(t *testing.T) {
	log := sampleLog()
	a := Advance(log, 0)
	b := Advance(log, 0)
	if len(a.Beats) != len(b.Beats) || a.FinalIndex != b.FinalIndex {
		t.Fatalf("replays diverged: %d/%d vs %d/%d", len(a.Beats), a.FinalIndex, len(b.Beats), b.FinalIndex)
	}
	for i := range a.Beats {
		if a.Beats[i].Index != b.Beats[i].Index {
			t.Fatalf("beat %d index diverged", i)
		}
	}
}

func TestResolveSceneDropsDanglingAssets(t *testing.T) {
	scene := FoldScene(sampleLog(), 5)
	state := session.NewState("Resolve")
	state = session.Reduce(state, session.AddAsset{Asset: session.Asset{ID: "bg-castle", Type: session.AssetBackground}})

	resolved := ResolveScene(scene, state)
	if resolved.BackgroundAssetID != "bg-castle" {
		t.Fatalf("live asset dropped: %q", resolved.BackgroundAssetID)
	}
	if resolved.CGAssetID != "" {
		t.Fatalf("dangling CG kept: %q", resolved.CGAssetID)
	}
	if len(resolved.SpriteByCharacter) != 0 {
		t.Fatalf("dangling sprite kept: %v", resolved.SpriteByCharacter)
	}
	// The input scene is untouched.
	if scene.CGAssetID != "cg-gate" {
		t.Fatalf("resolve mutated its input")
	}
}
