package gateway

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// fakeRunnable scripts a sequence of Run outcomes so a test can drive the
// Supervisor through several attempts without a real socket.
type fakeRunnable struct {
	openErr   error
	runErrs   []error
	sessionID string

	attempts atomic.Int32
	resumes  []bool
}

func (f *fakeRunnable) Open(_ context.Context, _ string, resume bool) error {
	f.resumes = append(f.resumes, resume)

	return f.openErr
}

func (f *fakeRunnable) Run(_ context.Context) error {
	i := int(f.attempts.Add(1)) - 1
	if i >= len(f.runErrs) {
		return nil
	}

	return f.runErrs[i]
}

func (f *fakeRunnable) Teardown(_ context.Context) error { return nil }
func (f *fakeRunnable) SessionID() string                { return f.sessionID }

func TestSupervisorStopsOnFatalCloseCode(t *testing.T) {
	run := &fakeRunnable{runErrs: []error{SocketClosed{Code: 4014, Reason: "disallowed intents"}}}

	var fataled bool

	sv := &Supervisor{
		NewSession: func() Runnable { return run },
		Endpoint:   func() string { return "wss://example.invalid" },
		OnFatal:    func(code int, _ string) { fataled = true; _ = code },
	}

	err := sv.Run(context.Background())
	if err == nil {
		t.Fatal("expected the fatal close code to be returned")
	}

	if !fataled {
		t.Fatal("OnFatal was not invoked")
	}

	if run.attempts.Load() != 1 {
		t.Fatalf("expected exactly one attempt, got %d", run.attempts.Load())
	}
}

func TestSupervisorStopsCleanlyOnNormalClose(t *testing.T) {
	run := &fakeRunnable{runErrs: []error{SocketClosed{Code: CloseCodeNormal}}}

	sv := &Supervisor{
		NewSession: func() Runnable { return run },
		Endpoint:   func() string { return "wss://example.invalid" },
	}

	if err := sv.Run(context.Background()); err != nil {
		t.Fatalf("expected a clean nil return, got %v", err)
	}
}

// TestSupervisorTerminatesOnUnretriedCloseCode proves that a documented
// close code outside the fatal set {4011,4013,4014} and the clean set
// {1000} is re-raised rather than retried: a bad/revoked token (4004) must
// stop the supervisor instead of hammering the gateway forever.
func TestSupervisorTerminatesOnUnretriedCloseCode(t *testing.T) {
	run := &fakeRunnable{
		sessionID: "abc123",
		runErrs:   []error{SocketClosed{Code: 4004, Reason: "authentication failed"}},
	}

	var fataled bool

	sv := &Supervisor{
		NewSession: func() Runnable { return run },
		Endpoint:   func() string { return "wss://example.invalid" },
		OnFatal:    func(int, string) { fataled = true },
	}

	err := sv.Run(context.Background())
	if err == nil {
		t.Fatal("expected the unretried close code to be returned")
	}

	if fataled {
		t.Fatal("OnFatal is reserved for the {4011,4013,4014} set; 4004 is not fatal, it is simply not retried")
	}

	if run.attempts.Load() != 1 {
		t.Fatalf("expected exactly one attempt, got %d", run.attempts.Load())
	}
}

func TestSupervisorRetriesWithoutResumeOnGenericError(t *testing.T) {
	run := &fakeRunnable{
		runErrs: []error{errors.New("boom"), nil},
	}

	sv := &Supervisor{
		NewSession: func() Runnable { return run },
		Endpoint:   func() string { return "wss://example.invalid" },
		MinBackoff: time.Millisecond,
		MaxBackoff: 2 * time.Millisecond,
	}

	if err := sv.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(run.resumes) != 2 || run.resumes[0] != false || run.resumes[1] != false {
		t.Fatalf("expected [false, false] resume sequence, got %v", run.resumes)
	}
}

func TestSupervisorHonorsWebSocketRestartIntent(t *testing.T) {
	run := &fakeRunnable{
		runErrs: []error{WebSocketRestart{Resume: true}, nil},
	}

	sv := &Supervisor{
		NewSession: func() Runnable { return run },
		Endpoint:   func() string { return "wss://example.invalid" },
		MinBackoff: time.Millisecond,
		MaxBackoff: 2 * time.Millisecond,
	}

	if err := sv.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(run.resumes) != 2 || run.resumes[1] != true {
		t.Fatalf("expected second attempt to resume, got %v", run.resumes)
	}
}

func TestSupervisorStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run := &fakeRunnable{}

	sv := &Supervisor{
		NewSession: func() Runnable { return run },
		Endpoint:   func() string { return "wss://example.invalid" },
	}

	if err := sv.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if run.attempts.Load() != 0 {
		t.Fatalf("expected no attempts once ctx is already cancelled, got %d", run.attempts.Load())
	}
}
