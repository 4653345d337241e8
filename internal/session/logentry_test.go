package session

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestEntryMarshalFoldsKind(t *testing.T) {
	data, err := json.Marshal(E(Dialogue{CharacterID: "c1", Text: "Hello."}))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if fields["kind"] != string(KindDialogue) {
		t.Fatalf("expected kind folded into object, got %v", fields["kind"])
	}
	if fields["text"] != "Hello." {
		t.Fatalf("expected flat payload fields, got %v", fields)
	}
}

func TestEntryRoundTripSelection(t *testing.T) {
	in := E(ChoiceSelection{
		PlayerID:    "p1",
		CharacterID: "c1",
		Choice: Choice{
			Text:    "Run",
			Effects: &ChoiceEffects{Coins: -2, HP: -5, TargetCharacterID: "c1"},
		},
	})
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var out Entry
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	got, ok := out.LogEntry.(ChoiceSelection)
	if !ok {
		t.Fatalf("expected choice selection, got %T", out.LogEntry)
	}
	if got.Choice.Effects == nil || got.Choice.Effects.HP != -5 || got.Choice.Effects.TargetCharacterID != "c1" {
		t.Fatalf("effects lost in transit: %+v", got.Choice.Effects)
	}
}

func TestEntryUnknownKindRoundTrips(t *testing.T) {
	raw := `{"kind":"hologram","intensity":7}`
	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	u, ok := e.LogEntry.(UnknownEntry)
	if !ok {
		t.Fatalf("expected unknown entry, got %T", e.LogEntry)
	}
	if u.Kind != "hologram" {
		t.Fatalf("unexpected kind %q", u.Kind)
	}

	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"intensity":7`) {
		t.Fatalf("unknown payload not preserved: %s", data)
	}
}

func TestActionRoundTrip(t *testing.T) {
	raw, err := MarshalAction(AdjustPlayerCoins{PlayerID: "p1", Delta: -3})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	action, err := UnmarshalAction(raw)
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	got, ok := action.(AdjustPlayerCoins)
	if !ok {
		t.Fatalf("expected AdjustPlayerCoins, got %T", action)
	}
	if got.PlayerID != "p1" || got.Delta != -3 {
		t.Fatalf("round trip lost fields: %+v", got)
	}
}

func TestUnmarshalUnknownActionIsNil(t *testing.T) {
	action, err := UnmarshalAction([]byte(`{"type":"LAUNCH_FIREWORKS"}`))
	if err != nil {
		t.Fatalf("unknown action errored: %v", err)
	}
	if action != nil {
		t.Fatalf("expected nil action, got %T", action)
	}
}

func TestCanonicalizeDefaults(t *testing.T) {
	s := Canonicalize(State{Title: "Bare"})
	if s.Assets == nil || s.Players == nil || s.StoryLog == nil || s.LobbyChatLog == nil {
		t.Fatalf("collections left nil: %+v", s)
	}
	if s.FindCharacter(NarratorID) < 0 {
		t.Fatalf("narrator not restored")
	}
}

func TestCanonicalizeClampsInvariants(t *testing.T) {
	s := Canonicalize(State{
		Characters: []Character{{ID: "c1", Name: "Rogue", Health: 50, MaxHealth: 20}},
		Players:    []Player{{ID: "p1", Name: "Amy", LastSeenLogIndex: 9}},
	})
	ci := s.FindCharacter("c1")
	if got := s.Characters[ci]; got.Health != 20 || got.Status != CharacterActive {
		t.Fatalf("expected health clamped and status defaulted, got %+v", got)
	}
	pi := s.FindPlayer("p1")
	if got := s.Players[pi].LastSeenLogIndex; got != 0 {
		t.Fatalf("seen index not clamped to log length, got %d", got)
	}
}

func TestStateSurvivesTransportRoundTrip(t *testing.T) {
	s := NewState("Round Trip")
	s = Reduce(s, AddPlayer{Player: Player{ID: "p1", Name: "Amy"}})
	s = Reduce(s, AppendLogEntry{Entry: E(Dialogue{CharacterID: NarratorID, Text: "Hi."})})

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded State
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	decoded = Canonicalize(decoded)

	if decoded.Title != s.Title || len(decoded.Players) != 1 || len(decoded.StoryLog) != 1 {
		t.Fatalf("document changed in transit: %+v", decoded)
	}
	if decoded.StoryLog[0].Kind() != KindDialogue {
		t.Fatalf("log entry kind lost: %q", decoded.StoryLog[0].Kind())
	}
}
