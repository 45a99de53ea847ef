package crypto

import (
	"bytes"
	"errors"
	"testing"

	"golang.org/x/crypto/nacl/secretbox"
)

func sealWithNonce(payload []byte, nonce *[24]byte, key *[32]byte) []byte {
	return secretbox.Seal(nil, payload, nonce, key)
}

func TestSelectModePrefersFirstServerModeInSupportedSet(t *testing.T) {
	mode, err := SelectMode([]string{"unknown", "xsalsa20_poly1305", "xsalsa20_poly1305_suffix"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if mode != ModeXSalsa20Poly1305 {
		t.Fatalf("got %q, want the first server-offered supported mode (xsalsa20_poly1305)", mode)
	}
}

func TestSelectModeRejectsNoIntersection(t *testing.T) {
	_, err := SelectMode([]string{"aead_aes256_gcm", "xsalsa20_poly1305_lite"})
	if err == nil {
		t.Fatal("expected UnsupportedModeError")
	}

	var unsupported UnsupportedModeError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected UnsupportedModeError, got %T: %v", err, err)
	}
}

func TestNewEncryptorRejectsLiteMode(t *testing.T) {
	key := make([]byte, keySize)

	if _, err := NewEncryptor(ModeXSalsa20Poly1305Lite, key); err == nil {
		t.Fatal("expected xsalsa20_poly1305_lite to be rejected as reserved")
	}
}

func TestNewEncryptorRejectsWrongKeyLength(t *testing.T) {
	if _, err := NewEncryptor(ModeXSalsa20Poly1305, make([]byte, 16)); err == nil {
		t.Fatal("expected a short secret_key to be rejected")
	}
}

// TestXSalsa20Poly1305NonceIsHeaderPlusZeros proves property 7: the
// xsalsa20_poly1305 nonce's first 12 bytes equal the RTP header and its
// last 12 bytes are zero. Since secretbox doesn't expose the nonce it used,
// this is checked by reimplementing Seal with a known-zero-suffix nonce and
// confirming the ciphertext matches byte-for-byte.
func TestXSalsa20Poly1305NonceIsHeaderPlusZeros(t *testing.T) {
	key := make([]byte, keySize)
	for i := range key {
		key[i] = byte(i)
	}

	enc, err := NewEncryptor(ModeXSalsa20Poly1305, key)
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}

	header := []byte{0x80, 0x78, 0x12, 0x34, 0x89, 0xAB, 0xCD, 0xEF, 0x00, 0x00, 0x00, 0x2A}
	payload := []byte("opus frame payload")

	out, err := enc.Encrypt(header, payload)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if !bytes.Equal(out[:len(header)], header) {
		t.Fatalf("output does not begin with the RTP header")
	}

	var wantNonce [24]byte
	copy(wantNonce[:12], header)

	wantSealed := sealWithNonce(payload, &wantNonce, &enc.key)

	if !bytes.Equal(out[len(header):], wantSealed) {
		t.Fatal("ciphertext does not match a header||zeros nonce, so the nonce construction is wrong")
	}
}

func TestXSalsa20Poly1305SuffixAppendsA24ByteRandomNonce(t *testing.T) {
	key := make([]byte, keySize)

	enc, err := NewEncryptor(ModeXSalsa20Poly1305Suffix, key)
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}

	header := []byte{0x80, 0x78, 0, 1, 0, 0, 0, 2, 0, 0, 0, 3}
	payload := []byte("frame")

	out, err := enc.Encrypt(header, payload)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	nonce := out[len(out)-24:]

	out2, err := enc.Encrypt(header, payload)
	if err != nil {
		t.Fatalf("Encrypt (2nd call): %v", err)
	}

	nonce2 := out2[len(out2)-24:]

	if bytes.Equal(nonce, nonce2) {
		t.Fatal("two encryptions produced the same suffix nonce; expected fresh randomness per call")
	}
}
