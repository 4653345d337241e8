package protocol

import (
	"testing"

	"storyloom/server/internal/channel"
	"storyloom/server/internal/session"
)

func TestRollerStaysInRange(t *testing.T) {
	roller := NewRoller(42)
	for i := 0; i < 1000; i++ {
		got := roller.Roll(20)
		if got < 1 || got > 20 {
			t.Fatalf("roll %d out of range", got)
		}
	}
}

func TestRollerDegenerateSides(t *testing.T) {
	roller := NewRoller(1)
	for _, sides := range []int{-3, 0, 1} {
		if got := roller.Roll(sides); got != 1 {
			t.Fatalf("Roll(%d) = %d, want 1", sides, got)
		}
	}
}

func TestRollerIsDeterministicPerSeed(t *testing.T) {
	a, b := NewRoller(7), NewRoller(7)
	for i := 0; i < 50; i++ {
		if a.Roll(6) != b.Roll(6) {
			t.Fatalf("same seed diverged at roll %d", i)
		}
	}
}

func TestHostRollDiceAppendsEntry(t *testing.T) {
	store := channel.NewMemoryStore()
	host, err := NewHost(store.Connect(), "Dice Night", HostConfig{SessionID: 1, Dice: NewRoller(7)})
	if err != nil {
		t.Fatalf("new host failed: %v", err)
	}
	t.Cleanup(host.Close)

	result := host.RollDice(session.NarratorID, 20)
	if result < 1 || result > 20 {
		t.Fatalf("result %d out of range", result)
	}

	log := host.State().StoryLog
	if len(log) != 1 {
		t.Fatalf("story log has %d entries", len(log))
	}
	roll, ok := log[0].LogEntry.(session.DiceRoll)
	if !ok {
		t.Fatalf("unexpected entry %T", log[0].LogEntry)
	}
	if roll.CharacterID != session.NarratorID || roll.Sides != 20 || roll.Result != result {
		t.Fatalf("unexpected roll %+v", roll)
	}
}
