// Package socket implements the wire-level half of the Gateway session
// core: zlib-stream frame reassembly and the JSON envelope read/write used
// by both the main Gateway and the Voice Gateway.
//
// Grounded on dis_snek.api.gateway.websocket.WebsocketClient.receive, which
// accumulates fragments into a buffer until it ends with the zlib
// full-flush suffix (00 00 FF FF), then decompresses the accumulated chunk
// through a decompressor that is created once per connection and reused for
// every subsequent message so the stream's LZ77 window carries over.
package socket

import (
	"bytes"
	"compress/zlib"
	"errors"
	"io"

	json "github.com/goccy/go-json"
	"github.com/valyala/bytebufferpool"
)

// flushSuffix is the 4-byte zlib SYNC_FLUSH marker that terminates a
// complete Gateway message on the wire.
var flushSuffix = []byte{0x00, 0x00, 0xff, 0xff}

// errNeedMoreData is a sentinel returned by chunkSource when its buffered
// compressed bytes have been fully consumed; it is NOT propagated as a real
// error; it just tells the drain loop that the current message has been
// fully decompressed and it's time to stop reading.
var errNeedMoreData = errors.New("socket: no more compressed data buffered")

// chunkSource is an io.Reader that serves bytes fed to it via feed, and
// reports errNeedMoreData (rather than io.EOF) once drained. Because it
// never reports true EOF, the zlib.Reader wrapping it is never torn down:
// its internal decompressor state (and LZ77 window) survives across
// messages, exactly mirroring the persistent zlib_context the session owns
// for the lifetime of one WebSocket connection.
type chunkSource struct {
	buf []byte
}

func (c *chunkSource) feed(b []byte) { c.buf = append(c.buf, b...) }

func (c *chunkSource) Read(p []byte) (int, error) {
	if len(c.buf) == 0 {
		return 0, errNeedMoreData
	}

	n := copy(p, c.buf)
	c.buf = c.buf[n:]

	return n, nil
}

// Inflater reassembles and decompresses a Gateway's zlib-stream transport
// compression. One Inflater belongs to exactly one WebSocket connection; it
// must be recreated (never reused) on every (re)connect, per invariant 1.
type Inflater struct {
	source *chunkSource
	zr     io.Reader

	// frag accumulates fragments of the CURRENT message until the flush
	// suffix is observed.
	frag *bytebufferpool.ByteBuffer
}

// NewInflater creates a fresh Inflater for a newly-opened connection.
func NewInflater() *Inflater {
	return &Inflater{
		source: new(chunkSource),
		frag:   new(bytebufferpool.ByteBuffer),
	}
}

// Feed appends one physical binary frame to the current message's
// fragment buffer and, once the buffer ends with the zlib full-flush
// suffix, returns the fully decompressed message. When the message is not
// yet complete, it returns (nil, false, nil) and the caller should read
// another frame and Feed it too.
func (inf *Inflater) Feed(chunk []byte) (msg []byte, complete bool, err error) {
	if _, err := inf.frag.Write(chunk); err != nil {
		return nil, false, err
	}

	if inf.frag.Len() < 4 || !bytes.HasSuffix(inf.frag.B, flushSuffix) {
		return nil, false, nil
	}

	defer inf.frag.Reset()

	inf.source.feed(inf.frag.B)

	if inf.zr == nil {
		zr, err := zlib.NewReader(inf.source)
		if err != nil {
			return nil, false, err
		}

		inf.zr = zr
	}

	var out bytes.Buffer

	buf := make([]byte, 4096)

	for {
		n, rerr := inf.zr.Read(buf)
		if n > 0 {
			out.Write(buf[:n])
		}

		if rerr == nil {
			continue
		}

		if errors.Is(rerr, errNeedMoreData) {
			break
		}

		return nil, false, rerr
	}

	return out.Bytes(), true, nil
}

// Read decodes a single Gateway message (text or zlib-compressed binary)
// from payload into dst, handling fragment reassembly transparently via inf.
//
// frameType distinguishes a text frame (message is already plaintext JSON)
// from a binary frame (message is zlib-compressed and must be fed through
// inf); complete reports whether a full message was obtained on this call.
func Read(inf *Inflater, frameType FrameType, payload []byte, dst any) (complete bool, err error) {
	var msg []byte

	switch frameType {
	case FrameText:
		msg, complete = payload, true
	case FrameBinary:
		msg, complete, err = inf.Feed(payload)
		if err != nil {
			return false, err
		}
	default:
		return false, errors.New("socket: unknown frame type")
	}

	if !complete {
		return false, nil
	}

	if err := json.Unmarshal(msg, dst); err != nil {
		return true, err
	}

	return true, nil
}

// FrameType mirrors the underlying WebSocket library's message type enum,
// kept narrow here so this package doesn't need to import it directly.
type FrameType int

const (
	FrameText FrameType = iota
	FrameBinary
)

// Write serializes dst as JSON and returns the bytes to send as a single
// binary WebSocket message.
func Write(dst any) ([]byte, error) {
	return json.Marshal(dst)
}
