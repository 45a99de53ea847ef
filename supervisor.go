package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/switchupcb/websocket"
)

// Runnable is the subset of MainSession/VoiceSession a Supervisor needs:
// the embedded *Session's lifecycle methods.
type Runnable interface {
	Open(ctx context.Context, endpoint string, resume bool) error
	Run(ctx context.Context) error
	Teardown(ctx context.Context) error
	SessionID() string
}

// Supervisor implements the connection supervisor: it owns the
// construct-run-classify-backoff loop around one session slot (a shard, or
// a voice connection), rebuilding the session from scratch on every
// reconnect attempt since a *Session is single-entry.
//
// Grounded on the pack's InstanceShardManager.Connect retry structure,
// generalized from "start N shards once" to "keep one shard alive forever".
type Supervisor struct {
	// NewSession constructs a fresh Runnable session for one connection
	// attempt. http/limiter/delegate wiring is the caller's concern; this
	// closure exists so the Supervisor never needs to know whether it is
	// driving a MainSession or a VoiceSession.
	NewSession func() Runnable

	// Endpoint resolves the dial target for each attempt. It is a func
	// rather than a fixed string because the main gateway URL can change
	// (a fresh GET /gateway/bot) and the voice endpoint migrates.
	Endpoint func() string

	// MinBackoff/MaxBackoff bound the random sleep between attempts. Zero
	// values default to 1s/5s per the documented retry policy.
	MinBackoff time.Duration
	MaxBackoff time.Duration

	// OnFatal is called, if set, when a close code is declared fatal; the
	// Supervisor returns immediately afterward without retrying.
	OnFatal func(code int, reason string)
}

// Run drives the supervisor loop until ctx is done, a session's Run returns
// nil, or the peer closes with a gateway close code: 1000 ends the loop
// with nil, and every other code is returned (4011/4013/4014 after
// OnFatal). The first attempt never resumes; every attempt after a
// retryable error resumes if the torn-down session captured a session_id.
func (sv *Supervisor) Run(ctx context.Context) error {
	resume := false

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		session := sv.NewSession()

		runErr := sv.attempt(ctx, session, resume)

		switch {
		case runErr == nil:
			return nil

		case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
			return nil

		default:
			var closed SocketClosed
			if errors.As(runErr, &closed) {
				switch closed.Code {
				case CloseCodeNormal:
					return nil
				case 4011, 4013, 4014:
					if sv.OnFatal != nil {
						sv.OnFatal(closed.Code, closed.Reason)
					}

					return runErr
				default:
					// Every other documented close code is not retried:
					// it is re-raised to the caller, same as an uncaught
					// exception in the original client.
					Logger.Error().Int(LogCtxCloseCode, closed.Code).Str(LogCtxReason, closed.Reason).
						Msg("gateway closed with an unretried code")

					return runErr
				}
			} else {
				var restart WebSocketRestart
				switch {
				case errors.As(runErr, &restart):
					resume = restart.Resume
				case isNetworkError(runErr):
					resume = session.SessionID() != ""
				default:
					resume = false
				}

				Logger.Error().Err(runErr).Bool(LogCtxResume, resume).Msg("session exited; reconnecting")
			}
		}

		if err := sv.sleepBackoff(ctx); err != nil {
			return nil
		}
	}
}

// attempt opens, runs, and tears down exactly one connection.
func (sv *Supervisor) attempt(ctx context.Context, session Runnable, resume bool) error {
	if err := session.Open(ctx, sv.Endpoint(), resume); err != nil {
		return fmt.Errorf("open: %w", err)
	}

	runErr := session.Run(ctx)

	if err := session.Teardown(ctx); err != nil {
		disconnectErr := ErrorDisconnect{SessionID: session.SessionID(), Err: err, Action: runErr}
		Logger.Warn().Err(disconnectErr).Msg("teardown after run did not close cleanly")
	}

	return runErr
}

// sleepBackoff waits a random 1-5s (or sv.Min/MaxBackoff if set) before the
// next attempt, returning early if ctx is cancelled.
func (sv *Supervisor) sleepBackoff(ctx context.Context) error {
	lo, hi := sv.MinBackoff, sv.MaxBackoff
	if lo == 0 {
		lo = time.Second
	}

	if hi == 0 {
		hi = 5 * time.Second
	}

	span := hi - lo
	wait := lo
	if span > 0 {
		wait += time.Duration(rand.Int63n(int64(span)))
	}

	t := time.NewTimer(wait)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// isNetworkError reports whether err looks like the OS/network-level
// failure class the supervisor retries-with-resume, as opposed to an
// application error: dial failures, resets, timeouts, and ErrGatewayNotFound.
func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var notFound ErrGatewayNotFound
	if errors.As(err, &notFound) {
		return true
	}

	var closeErr *websocket.CloseError

	return errors.As(err, &closeErr)
}
