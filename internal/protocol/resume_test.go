package protocol

import (
	"errors"
	"testing"

	"storyloom/server/internal/channel"
	"storyloom/server/internal/session"
	"storyloom/server/internal/snapshot"
)

func openTestSnapshots(t *testing.T) *snapshot.Store {
	t.Helper()
	snapshots, err := snapshot.Open(":memory:")
	if err != nil {
		t.Fatalf("open snapshots failed: %v", err)
	}
	t.Cleanup(func() { snapshots.Close() })
	return snapshots
}

func TestResumeHostFromRemoteDocument(t *testing.T) {
	store := channel.NewMemoryStore()
	host := newTestHost(t, store)
	joinPlayer(t, store, host, "p1", "Amy")
	host.StartPlay()
	host.AdvanceTurn()
	host.Close()

	resumed, err := ResumeHost(store.Connect(), HostConfig{SessionID: 1})
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	t.Cleanup(resumed.Close)

	if resumed.State().FindPlayer("p1") < 0 {
		t.Fatalf("resumed state lost the roster")
	}
	if got := resumed.Phase(); got != PhasePlay {
		t.Fatalf("resumed phase = %q", got)
	}
	if got := resumed.CurrentPlayerIndex(); got != 0 {
		t.Fatalf("resumed turn index = %d", got)
	}
}

func TestResumeHostFallsBackToSnapshot(t *testing.T) {
	store := channel.NewMemoryStore()
	snapshots := openTestSnapshots(t)

	host, err := NewHost(store.Connect(), "Snapshotted", HostConfig{SessionID: 1, Snapshots: snapshots})
	if err != nil {
		t.Fatalf("new host failed: %v", err)
	}
	host.Start()
	host.Dispatch(session.AppendLogEntry{
		Entry: session.E(session.Dialogue{CharacterID: session.NarratorID, Text: "Persisted."}),
	})
	host.Close()

	// Simulate the remote document vanishing; only the local snapshot remains.
	store.Remove(channel.SessionRoot(1))

	resumed, err := ResumeHost(channel.NewMemoryStore().Connect(), HostConfig{SessionID: 1, Snapshots: snapshots})
	if err != nil {
		t.Fatalf("resume from snapshot failed: %v", err)
	}
	t.Cleanup(resumed.Close)

	state := resumed.State()
	if state.Title != "Snapshotted" || len(state.StoryLog) != 1 {
		t.Fatalf("snapshot restore incomplete: title=%q entries=%d", state.Title, len(state.StoryLog))
	}
}

func TestResumeHostMissingEverywhereFails(t *testing.T) {
	snapshots := openTestSnapshots(t)
	_, err := ResumeHost(channel.NewMemoryStore().Connect(), HostConfig{SessionID: 404, Snapshots: snapshots})
	if err == nil {
		t.Fatalf("expected resume of unknown session to fail")
	}
	// Callers map a vanished session to "not found"; the wrap must keep the
	// sentinel reachable.
	if !errors.Is(err, snapshot.ErrNotFound) {
		t.Fatalf("resume error hides ErrNotFound: %v", err)
	}
}

func TestResumeHostWithoutSnapshotStoreReportsNotFound(t *testing.T) {
	_, err := ResumeHost(channel.NewMemoryStore().Connect(), HostConfig{SessionID: 404})
	if err == nil {
		t.Fatalf("expected resume without any source to fail")
	}
	if !errors.Is(err, snapshot.ErrNotFound) {
		t.Fatalf("resume error hides ErrNotFound: %v", err)
	}
}

func TestMusicRestoredAfterResume(t *testing.T) {
	store := channel.NewMemoryStore()
	host := newTestHost(t, store)
	host.Dispatch(session.SetLobbyMusic{URL: "https://example.com/theme.mp3"})
	host.Close()

	resumed, err := ResumeHost(store.Connect(), HostConfig{SessionID: 1})
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	t.Cleanup(resumed.Close)

	if got := resumed.State().LobbyMusicURL; got != "https://example.com/theme.mp3" {
		t.Fatalf("music lost across resume: %q", got)
	}
}
