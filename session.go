package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/xid"
	"github.com/switchupcb/websocket"

	"github.com/corvid-labs/wyrmgate/internal/socket"
	"github.com/corvid-labs/wyrmgate/ratelimit"
)

// Delegate supplies the behavior that is specific to a concrete session
// type. MainSession and VoiceSession each embed a *Session and implement
// Delegate over it, playing the role the source models as subclassing the
// session core.
type Delegate interface {
	// Identify sends the session-opening frame (IDENTIFY or its voice
	// equivalent) over s.
	Identify(ctx context.Context) error

	// Resume sends the reconnect-with-continuity frame (RESUME or its voice
	// equivalent) over s.
	Resume(ctx context.Context) error

	// SendHeartbeat sends a heartbeat frame, bypassing the rate limiter.
	SendHeartbeat(ctx context.Context) error

	// HandleFrame routes one decoded frame. seq and event are nil for
	// opcode spaces that don't carry them (the voice gateway).
	HandleFrame(ctx context.Context, op int, data json.RawMessage, seq *int64, event *string) error

	// BeforeReconnect runs before the core opens a new socket. The main
	// gateway has nothing to add here; the voice gateway uses it to await
	// an external voice_server_update for non-resume reconnects.
	BeforeReconnect(ctx context.Context, resume bool) error
}

// phase is the session's explicit lifecycle state, tracked for
// observability; control flow itself is driven by the gates and flags
// below, not by switching on phase.
type phase int32

const (
	phaseConnecting phase = iota
	phaseAwaitingHello
	phaseIdentified
	phaseRunning
	phaseReconnecting
	phaseClosing
)

func (p phase) String() string {
	switch p {
	case phaseConnecting:
		return "connecting"
	case phaseAwaitingHello:
		return "awaiting_hello"
	case phaseIdentified:
		return "identified"
	case phaseRunning:
		return "running"
	case phaseReconnecting:
		return "reconnecting"
	case phaseClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Session is the WebSocket session core shared by the main Gateway and the
// Voice Gateway: connection lifecycle, zlib reassembly, the send lock, and
// the heartbeater all live here. A concrete session type provides Delegate
// and owns sharding/voice-specific state around an embedded *Session.
type Session struct {
	http    HTTPClient
	limiter *ratelimit.Limiter

	delegate Delegate

	correlationID string

	// sendMu is the send lock: it serializes writes AND blocks a concurrent
	// Send from racing a Reconnect. Do not split this into two locks.
	sendMu sync.Mutex

	// connMu guards conn/inflater field access. It is distinct from sendMu:
	// sendMu serializes writers and the reconnect handshake itself, while
	// connMu only protects the pointer swap so a concurrent receiver never
	// observes a half-written *websocket.Conn field.
	connMu   sync.RWMutex
	conn     *websocket.Conn
	inflater *socket.Inflater
	endpoint string

	// ready is cleared the instant a reconnect begins and set once the new
	// connection has been identified/resumed; a non-forced Run loop read
	// waits on it so it never reads from a stale socket.
	ready *gate

	closeSignal chan struct{}
	closeOnce   sync.Once

	entered atomic.Bool
	ph      atomic.Int32

	hb *heartbeater

	seq       atomic.Int64
	sessionID atomic.Pointer[string]

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSession constructs a session core. delegate is typically the concrete
// session embedding this *Session, wired in after construction since Go has
// no way to pass "self" before the struct exists; callers should call
// SetDelegate immediately afterward.
func NewSession(http HTTPClient, limiter *ratelimit.Limiter) *Session {
	return &Session{
		http:          http,
		limiter:       limiter,
		correlationID: xid.New().String(),
		ready:         newGate(false),
		closeSignal:   make(chan struct{}),
	}
}

// SetDelegate wires the concrete session type's behavior into the core.
func (s *Session) SetDelegate(d Delegate) { s.delegate = d }

// CorrelationID returns the session's log-correlation identifier, stable
// across reconnects.
func (s *Session) CorrelationID() string { return s.correlationID }

// Sequence returns the last dispatch sequence number observed.
func (s *Session) Sequence() int64 { return s.seq.Load() }

// SetSequence overwrites the sequence number, used when a concrete session
// clears it after a non-resumable INVALIDATE_SESSION.
func (s *Session) SetSequence(v int64) { s.seq.Store(v) }

// SessionID returns the session_id captured from READY, or "" before one is
// assigned.
func (s *Session) SessionID() string {
	if p := s.sessionID.Load(); p != nil {
		return *p
	}

	return ""
}

// SetSessionID overwrites the captured session_id.
func (s *Session) SetSessionID(id string) { s.sessionID.Store(&id) }

func (s *Session) setPhase(p phase) { s.ph.Store(int32(p)) }
func (s *Session) Phase() string    { return phase(s.ph.Load()).String() }

// Open acquires the WebSocket, performs the HELLO/IDENTIFY-or-RESUME
// handshake, and spawns the heartbeater. It must be called exactly once per
// Session; a second call returns ErrInvalidState.
func (s *Session) Open(ctx context.Context, endpoint string, resume bool) error {
	if !s.entered.CompareAndSwap(false, true) {
		return ErrInvalidState{Reason: "session already entered"}
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.endpoint = endpoint

	return s.openConn(s.ctx, resume)
}

// openConnLocked performs one handshake (fresh dial, HELLO, IDENTIFY or RESUME,
// heartbeater spawn) against s.endpoint. Callers must hold sendMu.
func (s *Session) openConnLocked(ctx context.Context, resume bool) error {
	s.setPhase(phaseConnecting)

	conn, err := s.http.WebsocketConnect(ctx, s.endpoint)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.inflater = socket.NewInflater()
	s.connMu.Unlock()

	s.setPhase(phaseAwaitingHello)

	var hello struct {
		Op   int   `json:"op"`
		Data Hello `json:"d"`
	}

	if err := s.receiveRaw(ctx, &hello); err != nil {
		return fmt.Errorf("awaiting hello: %w", err)
	}

	interval := time.Duration(hello.Data.HeartbeatInterval) * time.Millisecond

	if s.hb != nil {
		s.hb.stop()
	}

	s.hb = newHeartbeater(s, interval)

	s.setPhase(phaseIdentified)

	if resume {
		if err := s.delegate.Resume(ctx); err != nil {
			return fmt.Errorf("resume: %w", err)
		}
	} else {
		if err := s.delegate.Identify(ctx); err != nil {
			return fmt.Errorf("identify: %w", err)
		}
	}

	go s.hb.run(s.ctx)

	s.setPhase(phaseRunning)
	s.ready.set()

	return nil
}

func (s *Session) openConn(ctx context.Context, resume bool) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	return s.openConnLocked(ctx, resume)
}

// Run loops receiving decoded frames and routing them, until Close is
// called or a fatal error occurs. It always returns after Close(); the
// caller is responsible for Teardown.
func (s *Session) Run(ctx context.Context) error {
	for {
		select {
		case <-s.closeSignal:
			return nil
		default:
		}

		if err := s.ready.wait(ctx); err != nil {
			return err
		}

		var envelope struct {
			Op   int             `json:"op"`
			Data json.RawMessage `json:"d"`
			Seq  *int64          `json:"s"`
			Event *string        `json:"t"`
		}

		err := s.receiveRaw(ctx, &envelope)

		select {
		case <-s.closeSignal:
			// A close fired concurrently with this receive; per the
			// core's cancellation contract a receive that already
			// completed is processed before the close is honored.
			if err == nil {
				s.dispatchFrame(ctx, envelope.Op, envelope.Data, envelope.Seq, envelope.Event)
			}

			return nil
		default:
		}

		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}

			closeErr := new(websocket.CloseError)
			if errors.As(err, closeErr) {
				if handled := s.handleClose(ctx, int(closeErr.Code), closeErr.Reason); handled != nil {
					return handled
				}

				continue
			}

			var evt ErrorEvent
			if errors.As(err, &evt) && evt.Action == ErrorEventActionUnmarshal {
				// Invalid JSON and similar local decode failures are
				// logged and skipped, not fatal.
				logSession(Logger.Warn().Err(err), s.SessionID(), s.correlationID).Msg("dropping malformed gateway frame")

				continue
			}

			// Anything else (ECONNRESET, read timeouts, a broken pipe)
			// is an OS/network error: propagate it so the supervisor can
			// classify and retry it, per the core's error propagation
			// policy. A dead socket's Reader does not block and does not
			// return a *websocket.CloseError, so swallowing this here
			// would busy-loop forever instead of reconnecting.
			return err
		}

		s.dispatchFrame(ctx, envelope.Op, envelope.Data, envelope.Seq, envelope.Event)
	}
}

func (s *Session) dispatchFrame(ctx context.Context, op int, data json.RawMessage, seq *int64, event *string) {
	if seq != nil {
		s.seq.Store(*seq)
	}

	logPayload(logSession(Logger.Debug(), s.SessionID(), s.correlationID), Opcode(op), data).
		Msg("dispatching gateway frame")

	if err := s.delegate.HandleFrame(ctx, op, data, seq, event); err != nil {
		logSession(Logger.Error().Err(err), s.SessionID(), s.correlationID).Int(LogCtxOpcode, op).
			Msg("error handling gateway frame")
	}
}

// handleClose implements the core's generic close-code policy: code >= 4000
// is surfaced for the supervisor to classify; code 1000 is a clean
// non-resuming reconnect; anything else reconnects with resume.
func (s *Session) handleClose(ctx context.Context, code int, reason string) error {
	switch {
	case code >= 4000:
		return SocketClosed{Code: code, Reason: reason}
	case code == CloseCodeNormal:
		return s.Reconnect(ctx, false, CloseCodeReconnect)
	default:
		return s.Reconnect(ctx, true, CloseCodeReconnect)
	}
}

// AckReceived records a HEARTBEAT_ACK for the session's heartbeater. A
// Delegate calls this from HandleFrame when it recognizes its own
// HEARTBEAT_ACK opcode, since the numeric opcode differs between the main
// and voice gateways.
func (s *Session) AckReceived() {
	if s.hb != nil {
		s.hb.ack()
	}
}

// Send serializes payload as JSON and writes it to the socket under the
// send lock, rate-limited unless bypassRL is set (heartbeats bypass it).
func (s *Session) Send(ctx context.Context, payload any, bypassRL bool) error {
	if !bypassRL {
		s.limiter.Acquire()
	}

	buf := getBuffer()
	defer putBuffer(buf)

	enc, err := json.Marshal(payload)
	if err != nil {
		return ErrorEvent{Event: "send", Err: err, Action: ErrorEventActionMarshal}
	}

	if _, err := buf.Write(enc); err != nil {
		return err
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()

	if conn == nil {
		return ErrInvalidState{Reason: "send before a connection is open"}
	}

	w, err := conn.Writer(ctx, websocket.MessageBinary)
	if err != nil {
		return ErrorEvent{Event: "send", Err: err, Action: ErrorEventActionWrite}
	}

	if _, err := w.Write(buf.B); err != nil {
		_ = w.Close()

		return ErrorEvent{Event: "send", Err: err, Action: ErrorEventActionWrite}
	}

	return w.Close()
}

// Reconnect holds the send lock, closes the current socket with code, opens
// a fresh one, and replays the HELLO/IDENTIFY-or-RESUME handshake. The send
// lock is not released until the new connection is ready, so a concurrent
// Send blocks until a clean connection exists.
func (s *Session) Reconnect(ctx context.Context, resume bool, code int) error {
	s.setPhase(phaseReconnecting)
	s.ready.clear()

	if err := s.delegate.BeforeReconnect(ctx, resume); err != nil {
		return err
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusCode(code), "")
	}

	if s.hb != nil {
		s.hb.stop()
	}

	return s.openConnLocked(ctx, resume)
}

// Close idempotently signals the run loop to exit. It also cancels the
// session's internal context so a receive blocked in conn.Reader wakes up
// immediately instead of waiting for the peer.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closeSignal)

		if s.cancel != nil {
			s.cancel()
		}
	})
}

// Teardown sets the close flag, stops the heartbeater, and closes the
// socket with code 1000. It must run on every exit path, including ones
// triggered by an error from Run.
func (s *Session) Teardown(_ context.Context) error {
	s.setPhase(phaseClosing)
	s.Close()

	if s.cancel != nil {
		s.cancel()
	}

	if s.hb != nil {
		s.hb.stop()
	}

	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()

	if conn != nil {
		if err := conn.Close(websocket.StatusCode(CloseCodeNormal), ""); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			return err
		}
	}

	return nil
}

// receiveRaw reads exactly one complete frame (waiting across any fragments
// the zlib reassembly needs) and decodes it into dst.
func (s *Session) receiveRaw(ctx context.Context, dst any) error {
	for {
		s.connMu.RLock()
		conn := s.conn
		inf := s.inflater
		s.connMu.RUnlock()

		messageType, reader, err := conn.Reader(ctx)
		if err != nil {
			return err
		}

		payload, err := io.ReadAll(reader)
		if err != nil {
			return err
		}

		var frameType socket.FrameType
		if messageType == websocket.MessageText {
			frameType = socket.FrameText
		} else {
			frameType = socket.FrameBinary
		}

		complete, err := socket.Read(inf, frameType, payload, dst)
		if err != nil {
			return ErrorEvent{Event: "receive", Err: err, Action: ErrorEventActionUnmarshal}
		}

		if complete {
			return nil
		}
	}
}
