package gateway

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// Logger is the package-wide structured logger. Embedders may reassign it
// (e.g. to redirect to their own sink) before opening a session.
var Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Log context keys, mirrored across Gateway and Voice Gateway log lines so
// the two can be grepped/aggregated the same way.
const (
	LogCtxSession     = "session"
	LogCtxShard       = "shard"
	LogCtxCorrelation = "xid"
	LogCtxPayload     = "payload"
	LogCtxOpcode      = "opcode"
	LogCtxEvent       = "event"
	LogCtxCloseCode   = "close_code"
	LogCtxLatency     = "latency_ms"
	LogCtxGuild       = "guild_id"
	LogCtxReason      = "reason"
	LogCtxResume      = "resume"
)

// logSession returns a log.Event scoped to a session's ID and correlation ID.
func logSession(log *zerolog.Event, sessionID, correlationID string) *zerolog.Event {
	return log.Str(LogCtxSession, sessionID).Str(LogCtxCorrelation, correlationID)
}

// logPayload attaches the opcode and raw data of an inbound/outbound payload.
func logPayload(log *zerolog.Event, op Opcode, data []byte) *zerolog.Event {
	return log.Dict(LogCtxPayload, zerolog.Dict().
		Int(LogCtxOpcode, int(op)).
		Bytes("data", data),
	)
}
