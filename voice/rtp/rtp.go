// Package rtp implements the voice gateway's UDP transport: IP discovery
// and outbound RTP framing. No inbound media is decoded; this package only
// ever writes to the socket (plus the one discovery round-trip).
//
// Grounded on dis_snek.api.voice.voice_gateway.VoiceGateway's
// establish_voice_socket/generate_packet/send_packet.
package rtp

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"
)

const (
	headerSize     = 12
	discoverySize  = 70
	discoveryType  = 1
)

// Encoder is the subset of an Opus encoder that SendPacket needs; voice/opus
// implements it. Kept as an interface here, rather than importing
// voice/opus directly, to avoid a cyclic dependency and to let tests supply
// a fake.
type Encoder interface {
	Encode(pcm []byte) ([]byte, error)
	SamplesPerFrame() uint32
}

// Encryptor is the subset of voice/crypto.Encryptor that SendPacket needs.
type Encryptor interface {
	Encrypt(header, payload []byte) ([]byte, error)
}

// Header is a 12-byte RTP header: two fixed version/payload-type bytes,
// then sequence, timestamp, and SSRC, all big-endian.
type Header struct {
	Sequence  uint16
	Timestamp uint32
	SSRC      uint32
}

// Bytes renders the header per the wire layout: 0x80 0x78 seq[BE16]
// ts[BE32] ssrc[BE32].
func (h Header) Bytes() []byte {
	b := make([]byte, headerSize)
	b[0] = 0x80
	b[1] = 0x78
	binary.BigEndian.PutUint16(b[2:4], h.Sequence)
	binary.BigEndian.PutUint32(b[4:8], h.Timestamp)
	binary.BigEndian.PutUint32(b[8:12], h.SSRC)

	return b
}

// Transport owns the UDP socket used for both IP discovery and outbound RTP
// frames, plus the monotone sequence/timestamp counters.
type Transport struct {
	conn *net.UDPConn
	ssrc uint32

	mu   sync.Mutex
	seq  uint16
	ts   uint32
}

// Dial opens a UDP socket to the voice server's (ip, port) and binds the
// SSRC used for every subsequent header.
func Dial(ip string, port int, ssrc uint32) (*Transport, error) {
	conn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.ParseIP(ip), Port: port})
	if err != nil {
		return nil, fmt.Errorf("rtp: dial %s:%d: %w", ip, port, err)
	}

	return &Transport{conn: conn, ssrc: ssrc}, nil
}

// Close releases the UDP socket.
func (t *Transport) Close() error { return t.conn.Close() }

// Discover performs IP discovery: a 70-byte request (type=1, length=70,
// ssrc) is sent, and a 70-byte reply is parsed for the externally-visible
// address and port.
func (t *Transport) Discover(ctx context.Context) (externalIP string, externalPort int, err error) {
	req := make([]byte, discoverySize)
	binary.BigEndian.PutUint16(req[0:2], discoveryType)
	binary.BigEndian.PutUint16(req[2:4], discoverySize)
	binary.BigEndian.PutUint32(req[4:8], t.ssrc)

	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetDeadline(deadline)
		defer t.conn.SetDeadline(time.Time{}) //nolint:errcheck
	}

	if _, err := t.conn.Write(req); err != nil {
		return "", 0, fmt.Errorf("rtp: sending discovery packet: %w", err)
	}

	resp := make([]byte, discoverySize)

	n, err := t.conn.Read(resp)
	if err != nil {
		return "", 0, fmt.Errorf("rtp: reading discovery reply: %w", err)
	}

	if n != discoverySize {
		return "", 0, fmt.Errorf("rtp: discovery reply was %d bytes, want %d", n, discoverySize)
	}

	return ParseDiscoveryReply(resp)
}

// ParseDiscoveryReply extracts the external IP/port from a 70-byte IP
// discovery reply: IP is NUL-terminated ASCII starting at offset 4, port is
// the final two bytes, big-endian.
func ParseDiscoveryReply(resp []byte) (ip string, port int, err error) {
	if len(resp) != discoverySize {
		return "", 0, fmt.Errorf("rtp: discovery reply was %d bytes, want %d", len(resp), discoverySize)
	}

	ipEnd := 4
	for ipEnd < len(resp) && resp[ipEnd] != 0 {
		ipEnd++
	}

	ip = string(resp[4:ipEnd])
	port = int(binary.BigEndian.Uint16(resp[len(resp)-2:]))

	return ip, port, nil
}

// SendPacket builds one RTP frame and writes it to the socket:
//  1. sequence wraps at 0x10000 (free with uint16 arithmetic).
//  2. the header is built from the post-increment sequence and the current
//     (not yet advanced) timestamp.
//  3. payload is optionally Opus-encoded, then encrypted under header.
//  4. timestamp advances by the encoder's samples-per-frame afterward,
//     wrapping past 0xFFFFFFFF for free with uint32 arithmetic.
func (t *Transport) SendPacket(payload []byte, encoder Encoder, needsEncode bool, encryptor Encryptor) error {
	t.mu.Lock()
	t.seq++

	header := Header{Sequence: t.seq, Timestamp: t.ts, SSRC: t.ssrc}

	if needsEncode {
		encoded, err := encoder.Encode(payload)
		if err != nil {
			t.mu.Unlock()

			return fmt.Errorf("rtp: encoding payload: %w", err)
		}

		payload = encoded
	}

	out, err := encryptor.Encrypt(header.Bytes(), payload)
	if err != nil {
		t.mu.Unlock()

		return fmt.Errorf("rtp: encrypting payload: %w", err)
	}

	t.ts += encoder.SamplesPerFrame()
	t.mu.Unlock()

	if _, err := t.conn.Write(out); err != nil {
		return fmt.Errorf("rtp: writing packet: %w", err)
	}

	return nil
}

// Sequence and Timestamp expose the current counters, primarily for tests
// asserting wraparound behavior.
func (t *Transport) Sequence() uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.seq
}

func (t *Transport) Timestamp() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.ts
}

// SetCounters forces the sequence/timestamp counters, used by tests to
// exercise wraparound without sending 0xFFFF frames.
func (t *Transport) SetCounters(seq uint16, ts uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq = seq
	t.ts = ts
}
