package channel

import "fmt"

// Chat channels that carry typing indicators.
const (
	ChannelLobby  = "lobby"
	ChannelInGame = "in-game"
)

// SessionRoot is the path prefix all session data lives under.
func SessionRoot(sessionID int64) string {
	return fmt.Sprintf("sessions/%d", sessionID)
}

// StatePath holds the main session document, minus the lobby music URL.
func StatePath(sessionID int64) string {
	return SessionRoot(sessionID) + "/state"
}

// MusicPath holds the lobby music sub-document. It travels separately so a
// data-URL-encoded track never pushes the state write over the per-node
// payload ceiling.
func MusicPath(sessionID int64) string {
	return SessionRoot(sessionID) + "/music"
}

// ActionsPath is the append-only inbox of peer-to-host messages.
func ActionsPath(sessionID int64) string {
	return SessionRoot(sessionID) + "/actions"
}

// PresencePath marks one player as connected.
func PresencePath(sessionID int64, playerID string) string {
	return fmt.Sprintf("%s/presence/%s", SessionRoot(sessionID), playerID)
}

// TypingPath marks one user as typing in one chat channel.
func TypingPath(sessionID int64, chatChannel, userID string) string {
	return fmt.Sprintf("%s/typing/%s/%s", SessionRoot(sessionID), chatChannel, userID)
}
