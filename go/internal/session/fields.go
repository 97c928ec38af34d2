package session

// Fields is a partial update against a session document. Keys are dotted
// paths into the document ("phase", "pendingIntents.<uid>",
// "gameData.board.5,5"); values replace whatever is at that path.
// Everything submitted in one Fields lands in one store write.
type Fields map[string]any

// Document field names. These are the wire names inside the per-game
// session document; room-level fields outside the engine's ownership are
// not listed here.
const (
	FieldRoomID         = "roomId"
	FieldGameType       = "gameType"
	FieldHostID         = "hostId"
	FieldPlayers        = "players"
	FieldPhase          = "phase"
	FieldPhaseStartedAt = "phaseStartedAt"
	FieldRoundIndex     = "roundIndex"
	FieldTurnID         = "turnId"
	FieldPendingIntents = "pendingIntents"
	FieldReadiness      = "readiness"
	FieldRoundResult    = "roundResult"
	FieldWinnerID       = "winnerId"
	FieldRematchVotes   = "rematchVotes"
	FieldGameData       = "gameData"
)

type serverTimestamp struct{}

type deleteSentinel struct{}

// ServerTimestamp is a write-time sentinel: the store replaces it with its
// own clock when the update is applied. Tie-break ordering must come from
// these timestamps, never from client clocks.
var ServerTimestamp any = serverTimestamp{}

// DeleteField clears the value at the path instead of writing one.
var DeleteField any = deleteSentinel{}

// IsServerTimestamp reports whether v is the ServerTimestamp sentinel.
func IsServerTimestamp(v any) bool {
	_, ok := v.(serverTimestamp)
	return ok
}

// IsDeleteField reports whether v is the DeleteField sentinel.
func IsDeleteField(v any) bool {
	_, ok := v.(deleteSentinel)
	return ok
}
