package socket

import (
	"bytes"
	"compress/zlib"
	"testing"
)

// compressStream writes every message through one zlib.Writer, flushing
// after each, mirroring Discord's zlib-stream transport: one continuous
// deflate stream for the life of the connection, sync-flushed per message.
func compressStream(t *testing.T, messages ...[]byte) [][]byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)

	var frames [][]byte

	for _, m := range messages {
		start := buf.Len()

		if _, err := zw.Write(m); err != nil {
			t.Fatalf("zlib write: %v", err)
		}

		if err := zw.Flush(); err != nil {
			t.Fatalf("zlib flush: %v", err)
		}

		frames = append(frames, append([]byte(nil), buf.Bytes()[start:]...))
	}

	return frames
}

func TestInflaterSingleFrameMessage(t *testing.T) {
	want := []byte(`{"op":10,"d":{"heartbeat_interval":41250}}`)
	frames := compressStream(t, want)

	inf := NewInflater()

	msg, complete, err := inf.Feed(frames[0])
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}

	if !complete {
		t.Fatalf("expected a complete message from one full-flush frame")
	}

	if !bytes.Equal(msg, want) {
		t.Fatalf("got %q, want %q", msg, want)
	}
}

func TestInflaterFragmentedFrame(t *testing.T) {
	want := []byte(`{"op":0,"t":"READY","s":1,"d":{}}`)
	frames := compressStream(t, want)

	inf := NewInflater()

	full := frames[0]
	mid := len(full) / 2

	msg, complete, err := inf.Feed(full[:mid])
	if err != nil {
		t.Fatalf("Feed (partial): %v", err)
	}

	if complete {
		t.Fatalf("message should not be complete before the flush suffix arrives")
	}

	if msg != nil {
		t.Fatalf("expected nil message for an incomplete fragment")
	}

	msg, complete, err = inf.Feed(full[mid:])
	if err != nil {
		t.Fatalf("Feed (remainder): %v", err)
	}

	if !complete {
		t.Fatalf("expected completion once the flush suffix is observed")
	}

	if !bytes.Equal(msg, want) {
		t.Fatalf("got %q, want %q", msg, want)
	}
}

func TestInflaterReusesWindowAcrossMessages(t *testing.T) {
	first := []byte(`{"op":0,"t":"MESSAGE_CREATE","d":{"content":"hello world"}}`)
	second := []byte(`{"op":0,"t":"MESSAGE_CREATE","d":{"content":"hello world again"}}`)
	frames := compressStream(t, first, second)

	inf := NewInflater()

	for i, want := range [][]byte{first, second} {
		msg, complete, err := inf.Feed(frames[i])
		if err != nil {
			t.Fatalf("Feed(%d): %v", i, err)
		}

		if !complete {
			t.Fatalf("Feed(%d): expected a complete message", i)
		}

		if !bytes.Equal(msg, want) {
			t.Fatalf("Feed(%d): got %q, want %q", i, msg, want)
		}
	}
}

func TestReadTextFrameBypassesInflater(t *testing.T) {
	inf := NewInflater()

	var dst struct {
		Op Opcode `json:"op"`
	}

	complete, err := Read(inf, FrameText, []byte(`{"op":1}`), &dst)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if !complete || dst.Op != 1 {
		t.Fatalf("got complete=%v op=%d, want complete=true op=1", complete, dst.Op)
	}
}

// Opcode is a minimal stand-in so this test file doesn't import the parent
// package (which would create an import cycle back into internal/socket).
type Opcode int
