package gateway

import (
	"io"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

// Logger is the structured logger used throughout this package. It defaults
// to discarding output; callers opt into logging by assigning their own
// zerolog.Logger (typically via zerolog.New(os.Stderr)).
var Logger = zerolog.New(io.Discard)

// Logger Contexts.
const (
	// LogCtxShard represents the log key for a Shard ID.
	LogCtxShard = "shard"

	// LogCtxBucket represents the log key for a Bucket ID.
	LogCtxBucket = "bucket"

	// LogCtxSession represents the log key for a Discord Session ID.
	LogCtxSession = "session"

	// LogCtxState represents the log key for a Shard's state.
	LogCtxState = "state"

	// LogCtxCloseCode represents the log key for a WebSocket close code.
	LogCtxCloseCode = "code"

	// LogCtxPayload represents the log key for a Discord Gateway Payload.
	LogCtxPayload = "payload"

	// LogCtxPayloadOpcode represents the log key for a Discord Gateway Payload opcode.
	LogCtxPayloadOpcode = "opcode"

	// LogCtxPayloadData represents the log key for Discord Gateway Payload data.
	LogCtxPayloadData = "data"

	// LogCtxEvent represents the log key for a Discord Gateway dispatch event name.
	LogCtxEvent = "event"

	// LogCtxCommand represents the log key for a Discord Gateway command.
	LogCtxCommand = "command"

	// LogCtxCommandOpcode represents the log key for a Discord Gateway command opcode.
	LogCtxCommandOpcode = "opcode"

	// LogCtxCommandName represents the log key for a Discord Gateway command name.
	LogCtxCommandName = "name"
)

// LogShard logs a shard-scoped event.
func LogShard(log *zerolog.Event, shardID int, state ShardState) *zerolog.Event {
	return log.Timestamp().
		Int(LogCtxShard, shardID).
		Str(LogCtxState, state.String())
}

// LogSession logs a session-scoped event (typically using LogShard).
func LogSession(log *zerolog.Event, sessionID string) *zerolog.Event {
	return log.Str(LogCtxSession, sessionID)
}

// LogPayload logs an inbound Discord Gateway Payload (typically using LogShard).
func LogPayload(log *zerolog.Event, op int, data json.RawMessage) *zerolog.Event {
	return log.Dict(LogCtxPayload, zerolog.Dict().
		Int(LogCtxPayloadOpcode, op).
		Bytes(LogCtxPayloadData, data),
	)
}

// LogCommand logs an outbound Gateway command (typically using LogShard).
func LogCommand(log *zerolog.Event, op int, command string) *zerolog.Event {
	return log.Dict(LogCtxCommand, zerolog.Dict().
		Int(LogCtxCommandOpcode, op).
		Str(LogCtxCommandName, command),
	)
}
