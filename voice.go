package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/corvid-labs/wyrmgate/voice/crypto"
	"github.com/corvid-labs/wyrmgate/voice/rtp"
)

// randFloat matches the source's heartbeat nonce, a uniform random float in
// [0, 1).
func randFloat() float64 { return rand.Float64() }

// VoiceSession is one voice channel connection. It subclasses the session
// core exactly like MainSession, but its opcode space, reconnect semantics,
// and supplementary media-transport operations are voice-specific.
//
// Grounded on dis_snek.api.voice.voice_gateway.VoiceGateway.
type VoiceSession struct {
	*Session

	serverID  Snowflake
	userID    Snowflake
	sessionID string
	token     string
	endpoint  string

	ssrc      uint32
	voiceIP   string
	voicePort int
	modes     []string

	transport    *rtp.Transport
	encryptor    *crypto.Encryptor
	sessionReady *gate

	// voiceServerUpdate is signaled by SetNewVoiceServer; a non-resume
	// Reconnect blocks on it for up to 5s before giving up.
	voiceServerUpdate *gate
}

// NewVoiceSession constructs a voice session for one (guild, user) pair.
// The voice endpoint to dial is passed later, to Open.
func NewVoiceSession(core *Session, serverID, userID Snowflake, sessionID, token string) *VoiceSession {
	v := &VoiceSession{
		Session:           core,
		serverID:          serverID,
		userID:            userID,
		sessionID:         sessionID,
		token:             token,
		sessionReady:      newGate(false),
		voiceServerUpdate: newGate(false),
	}

	v.SetDelegate(v)

	return v
}

// Identify sends the voice IDENTIFY frame.
func (v *VoiceSession) Identify(ctx context.Context) error {
	identify := VoiceIdentify{
		ServerID:  v.serverID,
		UserID:    v.userID,
		SessionID: v.sessionID,
		Token:     v.token,
	}

	data, err := json.Marshal(identify)
	if err != nil {
		return err
	}

	return v.Send(ctx, VoicePayload{Op: VoiceOpcodeIdentify, Data: data}, false)
}

// Resume sends the voice RESUME frame.
func (v *VoiceSession) Resume(ctx context.Context) error {
	resume := VoiceResume{
		ServerID:  v.serverID,
		SessionID: v.sessionID,
		Token:     v.token,
	}

	data, err := json.Marshal(resume)
	if err != nil {
		return err
	}

	return v.Send(ctx, VoicePayload{Op: VoiceOpcodeResume, Data: data}, false)
}

// SendHeartbeat sends a voice heartbeat, bypassing the limiter like the
// main gateway's.
func (v *VoiceSession) SendHeartbeat(ctx context.Context) error {
	data, err := json.Marshal(randFloat())
	if err != nil {
		return err
	}

	return v.Send(ctx, VoicePayload{Op: VoiceOpcodeHeartbeat, Data: data}, true)
}

// HandleFrame routes one decoded Voice Gateway frame by opcode.
func (v *VoiceSession) HandleFrame(ctx context.Context, op int, data json.RawMessage, _ *int64, _ *string) error {
	switch VoiceOpcode(op) {
	case VoiceOpcodeHeartbeatACK:
		v.AckReceived()

		return nil

	case VoiceOpcodeReady:
		return v.handleReady(ctx, data)

	case VoiceOpcodeSessionDescription:
		return v.handleSessionDescription(data)

	default:
		Logger.Debug().Int(LogCtxOpcode, op).Msg("ignoring unrecognized voice gateway opcode")

		return nil
	}
}

func (v *VoiceSession) handleReady(ctx context.Context, data json.RawMessage) error {
	var ready VoiceReady
	if err := json.Unmarshal(data, &ready); err != nil {
		return err
	}

	v.ssrc = ready.SSRC
	v.voiceIP = ready.IP
	v.voicePort = ready.Port

	v.modes = intersectModes(ready.Modes)
	if len(v.modes) == 0 {
		Logger.Error().Strs("server_modes", ready.Modes).Msg("no voice encryption mode in common with the server")

		return ErrUnsupportedMode{Mode: strings.Join(ready.Modes, ",")}
	}

	transport, err := rtp.Dial(v.voiceIP, v.voicePort, v.ssrc)
	if err != nil {
		return err
	}

	v.transport = transport

	externalIP, externalPort, err := transport.Discover(ctx)
	if err != nil {
		return err
	}

	return v.selectProtocol(ctx, externalIP, externalPort)
}

func (v *VoiceSession) selectProtocol(ctx context.Context, ip string, port int) error {
	sp := VoiceSelectProtocol{
		Protocol: "udp",
		Data: VoiceSelectProtocolData{
			Address: ip,
			Port:    port,
			Mode:    v.modes[0],
		},
	}

	data, err := json.Marshal(sp)
	if err != nil {
		return err
	}

	return v.Send(ctx, VoicePayload{Op: VoiceOpcodeSelectProtocol, Data: data}, false)
}

func (v *VoiceSession) handleSessionDescription(data json.RawMessage) error {
	var desc VoiceSessionDescription
	if err := json.Unmarshal(data, &desc); err != nil {
		return err
	}

	enc, err := crypto.NewEncryptor(crypto.Mode(desc.Mode), desc.SecretKey)
	if err != nil {
		var unsupported crypto.UnsupportedModeError
		if errors.As(err, &unsupported) {
			return ErrUnsupportedMode{Mode: desc.Mode}
		}

		return err
	}

	v.encryptor = enc
	v.sessionReady.set()

	return nil
}

// intersectModes returns the server-offered modes filtered down to this
// package's supported set, preserving server order.
func intersectModes(serverModes []string) []string {
	out := make([]string, 0, len(serverModes))

	for _, m := range serverModes {
		for _, supported := range crypto.Supported {
			if crypto.Mode(m) == supported {
				out = append(out, m)

				break
			}
		}
	}

	return out
}

// BeforeReconnect implements the voice gateway's reconnect semantics, which
// differ from the main gateway's: on a non-resume reconnect the session
// must wait for a fresh VOICE_SERVER_UPDATE (signaled via
// SetNewVoiceServer) for up to 5s before a new socket is opened; a timeout
// terminates the voice session instead of retrying blind.
func (v *VoiceSession) BeforeReconnect(ctx context.Context, resume bool) error {
	if resume {
		return nil
	}

	v.voiceServerUpdate.clear()

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := v.voiceServerUpdate.wait(waitCtx); err != nil {
		return fmt.Errorf("voice gateway: no voice_server_update within 5s: %w", err)
	}

	return nil
}

// SetNewVoiceServer updates the voice session's endpoint/token/guild after
// a migration and unblocks any Reconnect waiting on it.
func (v *VoiceSession) SetNewVoiceServer(endpoint, token string, guildID Snowflake) {
	v.endpoint = endpoint
	v.token = token
	v.serverID = guildID

	v.voiceServerUpdate.set()
}

// Speaking toggles the speaking indicator over the normal send path (the
// source bypasses the send lock and rate limiter here; this implementation
// does not, per the documented divergence in DESIGN.md).
func (v *VoiceSession) Speaking(ctx context.Context, speaking bool) error {
	flag := 0
	if speaking {
		flag = 1
	}

	payload := VoiceSpeaking{Speaking: flag, SSRC: v.ssrc}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return v.Send(ctx, VoicePayload{Op: VoiceOpcodeSpeaking, Data: data}, false)
}

// Ready blocks until SESSION_DESCRIPTION has been received and the
// encryptor is usable, or ctx is done.
func (v *VoiceSession) Ready(ctx context.Context) error {
	return v.sessionReady.wait(ctx)
}

// SendPacket encodes (if requested) and encrypts payload, then transmits it
// as one RTP frame.
func (v *VoiceSession) SendPacket(payload []byte, encoder rtp.Encoder, needsEncode bool) error {
	if v.transport == nil {
		return ErrInvalidState{Reason: "voice transport not established"}
	}

	if v.encryptor == nil {
		return ErrInvalidState{Reason: "voice session description not yet received"}
	}

	return v.transport.SendPacket(payload, encoder, needsEncode, v.encryptor)
}
