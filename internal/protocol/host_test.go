package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"storyloom/server/internal/channel"
	"storyloom/server/internal/session"
	"storyloom/server/logging"
	"storyloom/server/logging/story"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestHost(t *testing.T, store *channel.MemoryStore) *Host {
	t.Helper()
	host, err := NewHost(store.Connect(), "Test Story", HostConfig{SessionID: 1})
	if err != nil {
		t.Fatalf("new host failed: %v", err)
	}
	host.Start()
	t.Cleanup(host.Close)
	return host
}

func sendEnvelope(t *testing.T, store *channel.MemoryStore, env Envelope) {
	t.Helper()
	data, err := EncodeEnvelope(env)
	if err != nil {
		t.Fatalf("encode envelope failed: %v", err)
	}
	if _, err := store.Append(channel.ActionsPath(1), data); err != nil {
		t.Fatalf("append envelope failed: %v", err)
	}
}

func joinPlayer(t *testing.T, store *channel.MemoryStore, host *Host, id, name string) {
	t.Helper()
	store.Write(channel.PresencePath(1, id), []byte(`{"online":true}`))
	sendEnvelope(t, store, Envelope{Type: MsgPlayerJoinRequest, SenderID: id, Name: name})
	waitFor(t, fmt.Sprintf("%s to join", name), func() bool {
		return host.State().FindPlayer(id) >= 0
	})
}

func TestHostAcceptsJoin(t *testing.T) {
	store := channel.NewMemoryStore()
	host := newTestHost(t, store)

	joinPlayer(t, store, host, "p1", "Amy")

	state := host.State()
	pi := state.FindPlayer("p1")
	if state.Players[pi].Name != "Amy" {
		t.Fatalf("unexpected roster entry %+v", state.Players[pi])
	}

	// The broadcast document carries the new roster.
	doc, err := store.Read(channel.StatePath(1))
	if err != nil || doc == nil {
		t.Fatalf("state document missing: %v", err)
	}
	var env SyncEnvelope
	if err := json.Unmarshal(doc, &env); err != nil {
		t.Fatalf("decode broadcast failed: %v", err)
	}
	if env.State.FindPlayer("p1") < 0 {
		t.Fatalf("broadcast missing joined player")
	}
}

func TestHostRejectsTakenNameCaseInsensitive(t *testing.T) {
	store := channel.NewMemoryStore()
	host := newTestHost(t, store)

	joinPlayer(t, store, host, "p1", "Amy")
	sendEnvelope(t, store, Envelope{Type: MsgPlayerJoinRequest, SenderID: "p2", Name: "amy"})

	waitFor(t, "rejection notice", func() bool {
		for _, msg := range host.State().LobbyChatLog {
			if msg.SenderID == session.SystemSenderID && strings.Contains(msg.Text, "already taken") {
				return true
			}
		}
		return false
	})
	if got := len(host.State().Players); got != 1 {
		t.Fatalf("rejected join changed roster size to %d", got)
	}
}

func TestHostRejectsWhenFull(t *testing.T) {
	store := channel.NewMemoryStore()
	host := newTestHost(t, store)

	for i := 0; i < session.MaxPlayers; i++ {
		joinPlayer(t, store, host, fmt.Sprintf("p%d", i), fmt.Sprintf("Player %d", i))
	}
	sendEnvelope(t, store, Envelope{Type: MsgPlayerJoinRequest, SenderID: "p-extra", Name: "Latecomer"})

	waitFor(t, "full notice", func() bool {
		for _, msg := range host.State().LobbyChatLog {
			if msg.SenderID == session.SystemSenderID && strings.Contains(msg.Text, "full") {
				return true
			}
		}
		return false
	})
	if got := len(host.State().Players); got != session.MaxPlayers {
		t.Fatalf("roster grew past capacity: %d", got)
	}
}

func TestHostDeduplicatesMessageIDs(t *testing.T) {
	store := channel.NewMemoryStore()
	host := newTestHost(t, store)
	joinPlayer(t, store, host, "p1", "Amy")

	raw, err := session.MarshalAction(session.AdjustPlayerCoins{PlayerID: "p1", Delta: 5})
	if err != nil {
		t.Fatalf("marshal action failed: %v", err)
	}
	env := Envelope{Type: MsgDispatchAction, MessageID: "msg-1", SenderID: "p1", Action: raw}
	sendEnvelope(t, store, env)
	sendEnvelope(t, store, env)

	waitFor(t, "coins applied", func() bool {
		state := host.State()
		return state.Players[state.FindPlayer("p1")].Coins == 5
	})
	// Give the duplicate a moment to (wrongly) apply.
	time.Sleep(50 * time.Millisecond)
	state := host.State()
	if got := state.Players[state.FindPlayer("p1")].Coins; got != 5 {
		t.Fatalf("duplicate message applied twice, coins = %d", got)
	}
}

func TestEndTurnOnlyFromCurrentPlayer(t *testing.T) {
	store := channel.NewMemoryStore()
	host := newTestHost(t, store)
	joinPlayer(t, store, host, "p1", "Amy")
	joinPlayer(t, store, host, "p2", "Bea")

	sendEnvelope(t, store, Envelope{Type: MsgEndTurn, MessageID: "t1", SenderID: "p2"})
	time.Sleep(50 * time.Millisecond)
	if got := host.CurrentPlayerIndex(); got != 0 {
		t.Fatalf("non-current player advanced the turn to %d", got)
	}

	sendEnvelope(t, store, Envelope{Type: MsgEndTurn, MessageID: "t2", SenderID: "p1"})
	waitFor(t, "turn to advance", func() bool {
		return host.CurrentPlayerIndex() == 1
	})
}

func TestBroadcastSplitsMusicFromState(t *testing.T) {
	store := channel.NewMemoryStore()
	host := newTestHost(t, store)

	host.Dispatch(session.SetLobbyMusic{URL: "data:audio/mp3;base64,AAAA"})

	doc, _ := store.Read(channel.StatePath(1))
	var env SyncEnvelope
	if err := json.Unmarshal(doc, &env); err != nil {
		t.Fatalf("decode state failed: %v", err)
	}
	if env.State.LobbyMusicURL != "" {
		t.Fatalf("music leaked into state document: %q", env.State.LobbyMusicURL)
	}

	music, _ := store.Read(channel.MusicPath(1))
	var m MusicDoc
	if err := json.Unmarshal(music, &m); err != nil {
		t.Fatalf("decode music failed: %v", err)
	}
	if m.LobbyMusicURL != "data:audio/mp3;base64,AAAA" {
		t.Fatalf("music document carries %q", m.LobbyMusicURL)
	}
}

func TestKickAdjustsTurnIndex(t *testing.T) {
	store := channel.NewMemoryStore()
	host := newTestHost(t, store)
	joinPlayer(t, store, host, "p1", "Amy")
	joinPlayer(t, store, host, "p2", "Bea")
	joinPlayer(t, store, host, "p3", "Cal")

	host.AdvanceTurn() // Bea's turn, index 1

	host.KickPlayer("p1")
	if got := host.CurrentPlayerIndex(); got != 0 {
		t.Fatalf("expected holder to follow shift, index = %d", got)
	}
	state := host.State()
	if got := state.Players[host.CurrentPlayerIndex()].ID; got != "p2" {
		t.Fatalf("turn holder changed to %s", got)
	}
}

func TestDisconnectRemovesPlayerAndNarrates(t *testing.T) {
	store := channel.NewMemoryStore()
	host := newTestHost(t, store)
	joinPlayer(t, store, host, "p1", "Amy")
	host.StartPlay()

	store.Remove(channel.PresencePath(1, "p1"))

	waitFor(t, "player removal", func() bool {
		return host.State().FindPlayer("p1") < 0
	})
	waitFor(t, "departure narration", func() bool {
		for _, e := range host.State().StoryLog {
			if d, ok := e.LogEntry.(session.Dialogue); ok && strings.Contains(d.Text, "left the story") {
				return true
			}
		}
		return false
	})
}

func TestJoinDuringPlayNarrates(t *testing.T) {
	store := channel.NewMemoryStore()
	host := newTestHost(t, store)
	host.StartPlay()

	joinPlayer(t, store, host, "p1", "Amy")

	found := false
	for _, e := range host.State().StoryLog {
		if d, ok := e.LogEntry.(session.Dialogue); ok && strings.Contains(d.Text, "Amy has joined the story") {
			found = true
		}
	}
	if !found {
		t.Fatalf("no join narration in play phase")
	}
}

func TestDispatchedRemovePlayerGoesThroughRemovalFunnel(t *testing.T) {
	store := channel.NewMemoryStore()
	host := newTestHost(t, store)
	joinPlayer(t, store, host, "p1", "Amy")
	joinPlayer(t, store, host, "p2", "Bea")
	host.AdvanceTurn() // index 1

	raw, err := session.MarshalAction(session.RemovePlayer{PlayerID: "p1"})
	if err != nil {
		t.Fatalf("marshal action failed: %v", err)
	}
	sendEnvelope(t, store, Envelope{Type: MsgDispatchAction, MessageID: "rm-1", SenderID: "p1", Action: raw})

	waitFor(t, "removal", func() bool {
		return host.State().FindPlayer("p1") < 0
	})
	if got := host.CurrentPlayerIndex(); got != 0 {
		t.Fatalf("turn index not adjusted, got %d", got)
	}
}

func TestDefeatPublishesCharacterDefeatedEvent(t *testing.T) {
	store := channel.NewMemoryStore()
	events := make(chan logging.Event, 64)
	host, err := NewHost(store.Connect(), "Test Story", HostConfig{
		SessionID: 1,
		Publisher: logging.PublisherFunc(func(_ context.Context, e logging.Event) { events <- e }),
	})
	if err != nil {
		t.Fatalf("new host failed: %v", err)
	}
	t.Cleanup(host.Close)

	host.Dispatch(session.AddCharacter{Character: session.Character{
		ID: "c1", Name: "Rogue", Health: 10, MaxHealth: 20, Status: session.CharacterActive,
	}})
	host.Dispatch(session.AppendLogEntry{Entry: session.E(session.ChoiceSelection{
		PlayerID:    "p1",
		CharacterID: "c1",
		Choice: session.Choice{
			Text:    "Leap the chasm",
			Effects: &session.ChoiceEffects{HP: -15, TargetCharacterID: "c1"},
		},
	})})

	deadline := time.After(2 * time.Second)
waitDefeat:
	for {
		select {
		case e := <-events:
			if e.Type == story.EventCharacterDefeated {
				if e.Actor.ID != "c1" || e.Actor.Kind != logging.EntityKindCharacter {
					t.Fatalf("defeat event names wrong entity: %+v", e.Actor)
				}
				break waitDefeat
			}
		case <-deadline:
			t.Fatalf("no character_defeated event published")
		}
	}
	// Defeat fires on the transition only; acting on an already-defeated
	// character must not repeat it.
	host.Dispatch(session.AppendLogEntry{
		Entry: session.E(session.Dialogue{CharacterID: session.NarratorID, Text: "Silence."}),
	})
	timeout := time.After(100 * time.Millisecond)
	for {
		select {
		case e := <-events:
			if e.Type == story.EventCharacterDefeated {
				t.Fatalf("defeat event repeated after the transition")
			}
		case <-timeout:
			return
		}
	}
}

func TestDeleteSessionRemovesDocument(t *testing.T) {
	store := channel.NewMemoryStore()
	host := newTestHost(t, store)
	host.DeleteSession()

	if doc, _ := store.Read(channel.StatePath(1)); doc != nil {
		t.Fatalf("state document survived deletion")
	}
	if doc, _ := store.Read(channel.MusicPath(1)); doc != nil {
		t.Fatalf("music document survived deletion")
	}
}
