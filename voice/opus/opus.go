// Package opus wraps the Opus encoder used to compress outbound voice PCM
// before it is framed into RTP.
//
// Grounded on dis_snek.api.voice.opus.Encoder's ctypes bindings, ported
// onto the real CGo-backed github.com/hraban/opus binding used by this
// pack's opus-dependent example. Fixed parameters (48 kHz, 2 channels,
// 20 ms frames, 64 kbps default bitrate) match the source exactly.
package opus

import (
	"fmt"

	"github.com/hraban/opus"
)

const (
	SampleRate    = 48000
	Channels      = 2
	FrameLength   = 20 // milliseconds
	SampleSize    = 4  // bytes per sample pair (16-bit stereo)
	DefaultBitrate = 64000

	minBitrate = 16000
	maxBitrate = 512000
)

// Encoder is a thin, fixed-configuration wrapper around an Opus encoder
// instance. It is not safe for concurrent use.
type Encoder struct {
	enc *opus.Encoder
}

// NewEncoder creates an Encoder with the package's fixed parameters and the
// default bitrate, forward error correction enabled, no expected packet
// loss, and full-band audio — matching the source's Encoder.__init__.
func NewEncoder() (*Encoder, error) {
	enc, err := opus.NewEncoder(SampleRate, Channels, opus.AppAudio)
	if err != nil {
		return nil, CodecError{Op: "create_state", Err: err}
	}

	e := &Encoder{enc: enc}

	if err := e.SetBitrate(DefaultBitrate); err != nil {
		return nil, err
	}

	if err := e.SetFEC(true); err != nil {
		return nil, err
	}

	if err := e.SetExpectedPacketLoss(0); err != nil {
		return nil, err
	}

	if err := e.SetBandwidth(opus.Fullband); err != nil {
		return nil, err
	}

	// Signal type is left at the library default (auto-detected), matching
	// the source's "AUTO" setting; hraban/opus does not expose
	// OPUS_SET_SIGNAL, and AUTO is the encoder's own default behavior.

	return e, nil
}

// SamplesPerFrame is sample_rate/1000 * frame_length.
func (e *Encoder) SamplesPerFrame() uint32 {
	return uint32(SampleRate/1000) * uint32(FrameLength)
}

// FrameSize is samples_per_frame * channels * 2 (bytes of 16-bit PCM per
// frame).
func (e *Encoder) FrameSize() uint32 {
	return e.SamplesPerFrame() * Channels * 2
}

// SetBitrate clamps to [16000, 512000] before applying, matching the
// source's set_bitrate.
func (e *Encoder) SetBitrate(bps int) error {
	if bps < minBitrate {
		bps = minBitrate
	}

	if bps > maxBitrate {
		bps = maxBitrate
	}

	if err := e.enc.SetBitrate(bps); err != nil {
		return CodecError{Op: "set_bitrate", Err: err}
	}

	return nil
}

// SetBandwidth sets the encoder's maximum bandwidth.
func (e *Encoder) SetBandwidth(bandwidth opus.Bandwidth) error {
	if err := e.enc.SetMaxBandwidth(bandwidth); err != nil {
		return CodecError{Op: "set_bandwidth", Err: err}
	}

	return nil
}

// SetFEC toggles in-band forward error correction.
func (e *Encoder) SetFEC(on bool) error {
	if err := e.enc.SetInBandFEC(on); err != nil {
		return CodecError{Op: "set_fec", Err: err}
	}

	return nil
}

// SetExpectedPacketLoss informs the encoder of the expected packet loss
// percentage (0-100), improving FEC redundancy decisions.
func (e *Encoder) SetExpectedPacketLoss(percent int) error {
	if err := e.enc.SetPacketLossPerc(percent); err != nil {
		return CodecError{Op: "set_expected_packet_loss", Err: err}
	}

	return nil
}

// Encode compresses one frame of signed 16-bit little-endian PCM
// (FrameSize bytes) into an Opus packet.
func (e *Encoder) Encode(pcm []byte) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, CodecError{Op: "encode", Err: fmt.Errorf("pcm buffer length %d is not a whole number of samples", len(pcm))}
	}

	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
	}

	// Opus packets are never larger than the PCM they compress.
	out := make([]byte, len(pcm))

	n, err := e.enc.Encode(samples, out)
	if err != nil {
		return nil, CodecError{Op: "encode", Err: err}
	}

	return out[:n], nil
}

// CodecError wraps a failure from the native Opus library.
type CodecError struct {
	Op  string
	Err error
}

func (e CodecError) Error() string { return fmt.Sprintf("opus %s: %v", e.Op, e.Err) }
func (e CodecError) Unwrap() error { return e.Err }
