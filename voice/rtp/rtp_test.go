package rtp

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"
)

type fakeEncoder struct{ samples uint32 }

func (f fakeEncoder) Encode(pcm []byte) ([]byte, error) { return pcm, nil }
func (f fakeEncoder) SamplesPerFrame() uint32            { return f.samples }

type passthroughEncryptor struct{}

func (passthroughEncryptor) Encrypt(header, payload []byte) ([]byte, error) {
	return append(append([]byte{}, header...), payload...), nil
}

// loopbackPeer listens on a UDP socket and returns its address plus a
// channel that yields every datagram it receives, so tests can Dial a
// Transport at it and inspect exactly what SendPacket/Discover put on the
// wire.
func loopbackPeer(t *testing.T) (addr *net.UDPAddr, recv <-chan []byte) {
	t.Helper()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	t.Cleanup(func() { _ = conn.Close() })

	ch := make(chan []byte, 8)

	go func() {
		buf := make([]byte, 2048)

		for {
			n, peer, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}

			msg := append([]byte(nil), buf[:n]...)
			ch <- msg

			if len(msg) == 70 {
				reply := make([]byte, 70)
				binary.BigEndian.PutUint16(reply[0:2], 1)
				binary.BigEndian.PutUint16(reply[2:4], 70)
				copy(reply[4:], "9.9.9.9")
				binary.BigEndian.PutUint16(reply[68:70], 60000)

				_, _ = conn.WriteToUDP(reply, peer)
			}
		}
	}()

	return conn.LocalAddr().(*net.UDPAddr), ch
}

func TestHeaderBytesMatchesSeedScenario(t *testing.T) {
	h := Header{Sequence: 0x1234, Timestamp: 0x89ABCDEF, SSRC: 42}

	want := []byte{0x80, 0x78, 0x12, 0x34, 0x89, 0xAB, 0xCD, 0xEF, 0x00, 0x00, 0x00, 0x2A}
	if got := h.Bytes(); !bytes.Equal(got, want) {
		t.Fatalf("got % X, want % X", got, want)
	}
}

func TestSendPacketHeaderOnTheWire(t *testing.T) {
	addr, recv := loopbackPeer(t)

	tr, err := Dial(addr.IP.String(), addr.Port, 42)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })

	tr.SetCounters(0x1233, 0x89ABCDEF)

	if err := tr.SendPacket([]byte("payload"), fakeEncoder{samples: 960}, false, passthroughEncryptor{}); err != nil {
		t.Fatalf("SendPacket: %v", err)
	}

	select {
	case msg := <-recv:
		want := []byte{0x80, 0x78, 0x12, 0x34, 0x89, 0xAB, 0xCD, 0xEF, 0x00, 0x00, 0x00, 0x2A}
		if !bytes.Equal(msg[:12], want) {
			t.Fatalf("header = % X, want % X", msg[:12], want)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for packet")
	}

	if got := tr.Sequence(); got != 0x1234 {
		t.Fatalf("sequence after send = 0x%X, want 0x1234", got)
	}

	if got := tr.Timestamp(); got != 0x89ABCDEF+960 {
		t.Fatalf("timestamp after send = 0x%X, want 0x%X", got, uint32(0x89ABCDEF+960))
	}
}

func TestSequenceWrapsAt0x10000(t *testing.T) {
	addr, _ := loopbackPeer(t)

	tr, err := Dial(addr.IP.String(), addr.Port, 42)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })

	tr.SetCounters(0xFFFF, 0)

	if err := tr.SendPacket(nil, fakeEncoder{samples: 960}, false, passthroughEncryptor{}); err != nil {
		t.Fatalf("SendPacket: %v", err)
	}

	if got := tr.Sequence(); got != 0 {
		t.Fatalf("sequence after wrap = 0x%X, want 0", got)
	}
}

func TestTimestampWrapsPast0xFFFFFFFF(t *testing.T) {
	addr, _ := loopbackPeer(t)

	tr, err := Dial(addr.IP.String(), addr.Port, 42)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })

	tr.SetCounters(0, 0xFFFFFFFF)

	if err := tr.SendPacket(nil, fakeEncoder{samples: 960}, false, passthroughEncryptor{}); err != nil {
		t.Fatalf("SendPacket: %v", err)
	}

	if got := tr.Timestamp(); got != 960-1 {
		t.Fatalf("timestamp after wraparound advance = %d, want %d", got, uint32(960-1))
	}
}

func TestDiscoverParsesReply(t *testing.T) {
	addr, _ := loopbackPeer(t)

	tr, err := Dial(addr.IP.String(), addr.Port, 42)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ip, port, err := tr.Discover(ctx)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	if ip != "9.9.9.9" || port != 60000 {
		t.Fatalf("got ip=%q port=%d, want ip=9.9.9.9 port=60000", ip, port)
	}
}
