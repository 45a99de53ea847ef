// Package crypto implements the voice gateway's symmetric packet
// encryption: the RTP header is sent in the clear ahead of the sealed
// payload (it is not covered by the authentication tag), and the Opus
// payload is sealed with XSalsa20-Poly1305 under a 32-byte session key
// handed out in SESSION_DESCRIPTION.
//
// Grounded on dis_snek.api.voice.encryption.Encryption, adapted from
// PyNaCl's secret-box calls onto golang.org/x/crypto/nacl/secretbox.
package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// Mode names a voice encryption mode as advertised on the wire.
type Mode string

const (
	ModeXSalsa20Poly1305       Mode = "xsalsa20_poly1305"
	ModeXSalsa20Poly1305Suffix Mode = "xsalsa20_poly1305_suffix"

	// ModeXSalsa20Poly1305Lite is reserved: listed as supported by some
	// clients but unimplemented here, matching the source it was
	// distilled from. SelectMode and Encrypt both reject it cleanly.
	ModeXSalsa20Poly1305Lite Mode = "xsalsa20_poly1305_lite"
)

// Supported lists the modes this package actually implements, in
// preference order. xsalsa20_poly1305_lite is deliberately excluded.
var Supported = []Mode{ModeXSalsa20Poly1305Suffix, ModeXSalsa20Poly1305}

const keySize = 32

// UnsupportedModeError is returned by SelectMode (no intersection) and by
// Encryptor.Encrypt (a mode neither offered nor implemented).
type UnsupportedModeError struct {
	Mode string
}

func (e UnsupportedModeError) Error() string {
	return fmt.Sprintf("unsupported voice encryption mode: %q", e.Mode)
}

// SelectMode returns the first element of serverModes that also appears in
// Supported, preserving server order. An empty or fully-foreign serverModes
// yields UnsupportedModeError.
func SelectMode(serverModes []string) (Mode, error) {
	for _, candidate := range serverModes {
		for _, supported := range Supported {
			if Mode(candidate) == supported {
				return supported, nil
			}
		}
	}

	return "", UnsupportedModeError{Mode: fmt.Sprintf("%v", serverModes)}
}

// Encryptor seals RTP payloads under a fixed session key and mode.
type Encryptor struct {
	mode Mode
	key  [keySize]byte
}

// NewEncryptor builds an Encryptor from the 32-byte secret_key delivered in
// SESSION_DESCRIPTION.
func NewEncryptor(mode Mode, secretKey []byte) (*Encryptor, error) {
	if mode == ModeXSalsa20Poly1305Lite {
		return nil, UnsupportedModeError{Mode: string(mode)}
	}

	if mode != ModeXSalsa20Poly1305 && mode != ModeXSalsa20Poly1305Suffix {
		return nil, UnsupportedModeError{Mode: string(mode)}
	}

	if len(secretKey) != keySize {
		return nil, fmt.Errorf("crypto: secret_key must be %d bytes, got %d", keySize, len(secretKey))
	}

	e := &Encryptor{mode: mode}
	copy(e.key[:], secretKey)

	return e, nil
}

// Encrypt seals payload under the RTP header, returning the bytes to put on
// the wire: header || ciphertext (xsalsa20_poly1305) or
// header || ciphertext || nonce (xsalsa20_poly1305_suffix).
func (e *Encryptor) Encrypt(header, payload []byte) ([]byte, error) {
	var nonce [24]byte

	switch e.mode {
	case ModeXSalsa20Poly1305:
		copy(nonce[:12], header)

		sealed := secretbox.Seal(nil, payload, &nonce, &e.key)

		out := make([]byte, 0, len(header)+len(sealed))
		out = append(out, header...)
		out = append(out, sealed...)

		return out, nil

	case ModeXSalsa20Poly1305Suffix:
		if _, err := rand.Read(nonce[:]); err != nil {
			return nil, fmt.Errorf("crypto: generating nonce: %w", err)
		}

		sealed := secretbox.Seal(nil, payload, &nonce, &e.key)

		out := make([]byte, 0, len(header)+len(sealed)+len(nonce))
		out = append(out, header...)
		out = append(out, sealed...)
		out = append(out, nonce[:]...)

		return out, nil

	default:
		return nil, UnsupportedModeError{Mode: string(e.mode)}
	}
}
